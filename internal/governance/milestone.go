package governance

import (
	"time"

	"github.com/antigravity-dev/agentco/internal/apperr"
	"github.com/antigravity-dev/agentco/internal/eventlog"
	"github.com/antigravity-dev/agentco/internal/workspace"
)

// ApproveMilestoneInput identifies the task/milestone under review and
// the milestone_report artifact claiming it's complete.
type ApproveMilestoneInput struct {
	ProjectID   string
	TaskID      string
	MilestoneID string
	ArtifactID  string
	ReviewID    string
	ActorID     string
	ActorRole   workspace.Role
	Notes       string
}

// ApproveMilestone checks the milestone_report artifact's evidence
// against the milestone's evidence requirements, marks the milestone
// done (letting ApplyMilestoneAutoPromotion cascade the task status),
// writes the review, and appends approval.decided. A denial changes
// nothing but the review log.
func ApproveMilestone(ws *workspace.Workspace, bus *eventlog.Bus, in ApproveMilestoneInput, decision Decision) error {
	report, err := ws.ReadArtifact(in.ProjectID, in.ArtifactID)
	if err != nil {
		return err
	}
	if report.Type != workspace.ArtifactMilestoneReport {
		return apperr.Validation("artifact %s is not a milestone_report", in.ArtifactID)
	}

	t, err := ws.ReadTask(in.ProjectID, in.TaskID)
	if err != nil {
		return err
	}
	idx := -1
	for i, m := range t.Milestones {
		if m.ID == in.MilestoneID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return apperr.NotFound("milestone %s not found on task %s", in.MilestoneID, in.TaskID)
	}

	reviewDecision := workspace.DecisionDenied
	if decision.Allowed {
		reviewDecision = workspace.DecisionApproved
	}

	if decision.Allowed {
		m := &t.Milestones[idx]
		m.DefaultEvidence()
		if m.Evidence.RequiresPatch && !ws.ArtifactSiblingExists(in.ProjectID, in.ArtifactID, ".patch") {
			return apperr.Validation("milestone %s requires patch evidence; artifact %s has none", in.MilestoneID, in.ArtifactID)
		}
		if m.Evidence.RequiresTests && !hasTestsEvidence(ws, in.ProjectID, report.TestsArtifacts) {
			return apperr.Validation("milestone %s requires tests evidence; artifact %s has no tests_artifacts entry with a .txt/.json sibling on disk", in.MilestoneID, in.ArtifactID)
		}
		m.Status = workspace.MilestoneDone
		if err := ws.WriteTask(t); err != nil {
			return err
		}
	}

	if err := ws.WriteReview(&workspace.Review{
		ID:        in.ReviewID,
		CreatedAt: time.Now().UTC(),
		ActorID:   in.ActorID,
		ActorRole: in.ActorRole,
		Decision:  reviewDecision,
		Subject:   workspace.ReviewSubject{Kind: "milestone", ArtifactID: in.ArtifactID},
		Policy:    decision.Trace,
		Notes:     in.Notes,
	}); err != nil {
		return err
	}

	_, err = eventlog.Append(ws.EventsJSONL(in.ProjectID, report.RunID), eventlog.Envelope{
		RunID:      report.RunID,
		Actor:      in.ActorID,
		Visibility: eventlog.VisibilityTeam,
		Type:       "approval.decided",
		Payload: map[string]any{
			"artifact_id":  in.ArtifactID,
			"review_id":    in.ReviewID,
			"task_id":      in.TaskID,
			"milestone_id": in.MilestoneID,
			"decision":     string(reviewDecision),
		},
	}, bus)
	return err
}

// hasTestsEvidence reports whether at least one tests_artifacts entry
// names an artifact with an actual .txt or .json sibling file on disk,
// mirroring the requires_patch check's use of ArtifactSiblingExists
// rather than trusting the entry count alone.
func hasTestsEvidence(ws *workspace.Workspace, projectID string, items []workspace.EvidenceItem) bool {
	for _, item := range items {
		if item.ArtifactID == "" {
			continue
		}
		if ws.ArtifactSiblingExists(projectID, item.ArtifactID, ".txt") || ws.ArtifactSiblingExists(projectID, item.ArtifactID, ".json") {
			return true
		}
	}
	return false
}
