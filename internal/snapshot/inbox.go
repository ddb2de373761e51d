package snapshot

import (
	"time"

	"github.com/antigravity-dev/agentco/internal/index"
	"github.com/antigravity-dev/agentco/internal/workspace"
)

// PendingReviewItem is one row of the review inbox's pending list.
type PendingReviewItem struct {
	ArtifactID      string    `json:"artifact_id"`
	ArtifactType    string    `json:"artifact_type"`
	Title           string    `json:"title"`
	ProjectID       string    `json:"project_id"`
	RunID           string    `json:"run_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	ParseErrorCount int       `json:"parse_error_count"`
}

// RecentDecision is one row of the review inbox's recent-decisions list.
type RecentDecision struct {
	ReviewID        string    `json:"review_id"`
	ArtifactType    string    `json:"artifact_type"`
	ArtifactID      string    `json:"artifact_id"`
	RunID           string    `json:"run_id,omitempty"`
	Decision        string    `json:"decision"`
	CreatedAt       time.Time `json:"created_at"`
	ParseErrorCount int       `json:"parse_error_count"`
}

// ParseErrorSummary rolls up parse-error counters across the inbox so
// operators see whether any pending item or recent decision risks being
// based on a truncated events file.
type ParseErrorSummary struct {
	HasParseErrors      bool `json:"has_parse_errors"`
	PendingWithErrors   int  `json:"pending_with_errors"`
	DecisionsWithErrors int  `json:"decisions_with_errors"`
	MaxParseErrorCount  int  `json:"max_parse_error_count"`
}

// ReviewInbox is the full review-inbox snapshot for one workspace.
type ReviewInbox struct {
	Pending         []PendingReviewItem `json:"pending"`
	RecentDecisions []RecentDecision    `json:"recent_decisions"`
	ParseErrors     ParseErrorSummary   `json:"parse_errors"`
	IndexRebuilt    bool                `json:"index_rebuilt,omitempty"`
	IndexSynced     bool                `json:"index_synced,omitempty"`
}

const recentDecisionsLimit = 50

// BuildReviewInbox syncs the projection index and then reads the
// pending-approval and recent-decision rows it projects, across every
// project in the workspace (pending_approvals carries no project filter
// requirement, matching the operator's need for one cross-project
// inbox).
func BuildReviewInbox(ws *workspace.Workspace, ix *index.Index, rebuilt bool) (*ReviewInbox, error) {
	if rebuilt {
		if err := index.RebuildSqliteIndex(ix, ws); err != nil {
			return nil, err
		}
	} else if err := index.SyncSqliteIndex(ix, ws); err != nil {
		return nil, err
	}

	inbox := &ReviewInbox{IndexRebuilt: rebuilt, IndexSynced: true}

	pendingRows, err := ix.ListPendingApprovals("")
	if err != nil {
		return nil, err
	}
	for _, p := range pendingRows {
		item := PendingReviewItem{
			ArtifactID:   p.ArtifactID,
			ArtifactType: p.Type,
			ProjectID:    p.ProjectID,
			CreatedAt:    p.CreatedAt,
		}
		if a, err := ws.ReadArtifact(p.ProjectID, p.ArtifactID); err == nil {
			item.Title = a.Title
			item.RunID = a.RunID
			if a.RunID != "" {
				if n, err := ix.ParseErrorCount(p.ProjectID, a.RunID); err == nil {
					item.ParseErrorCount = n
				}
			}
		}
		inbox.Pending = append(inbox.Pending, item)
	}

	decisionRows, err := ix.ListRecentDecisions(recentDecisionsLimit)
	if err != nil {
		return nil, err
	}
	for _, d := range decisionRows {
		decision := RecentDecision{
			ReviewID:     d.ReviewID,
			ArtifactType: d.ArtifactType,
			ArtifactID:   d.ArtifactID,
			RunID:        d.RunID,
			Decision:     d.Decision,
			CreatedAt:    d.CreatedAt,
		}
		if d.ProjectID != "" && d.RunID != "" {
			if n, err := ix.ParseErrorCount(d.ProjectID, d.RunID); err == nil {
				decision.ParseErrorCount = n
			}
		}
		inbox.RecentDecisions = append(inbox.RecentDecisions, decision)
	}

	inbox.ParseErrors = summarizeParseErrors(inbox.Pending, inbox.RecentDecisions)
	return inbox, nil
}

func summarizeParseErrors(pending []PendingReviewItem, decisions []RecentDecision) ParseErrorSummary {
	var s ParseErrorSummary
	for _, p := range pending {
		if p.ParseErrorCount > 0 {
			s.PendingWithErrors++
		}
		if p.ParseErrorCount > s.MaxParseErrorCount {
			s.MaxParseErrorCount = p.ParseErrorCount
		}
	}
	for _, d := range decisions {
		if d.ParseErrorCount > 0 {
			s.DecisionsWithErrors++
		}
		if d.ParseErrorCount > s.MaxParseErrorCount {
			s.MaxParseErrorCount = d.ParseErrorCount
		}
	}
	s.HasParseErrors = s.PendingWithErrors > 0 || s.DecisionsWithErrors > 0
	return s
}
