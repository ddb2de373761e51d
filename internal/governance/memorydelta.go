package governance

import (
	"os"
	"strings"
	"time"

	"github.com/antigravity-dev/agentco/internal/apperr"
	"github.com/antigravity-dev/agentco/internal/eventlog"
	"github.com/antigravity-dev/agentco/internal/workspace"
)

// ProposeMemoryDeltaInput is the caller-supplied half of a memory_delta
// artifact; the rest (schema version, timestamps, patch file) is filled
// in by ProposeMemoryDelta.
type ProposeMemoryDeltaInput struct {
	ID           string
	ProjectID    string
	RunID        string
	ProducedBy   string
	Title        string
	TargetFile   string
	ScopeKind    workspace.ScopeKind
	ScopeRef     string
	Sensitivity  workspace.Sensitivity
	Visibility   workspace.Visibility
	Rationale    string
	Evidence     []workspace.EvidenceItem
	UnderHeading string
	InsertLines  []string
}

// ProposeMemoryDelta validates a proposed memory edit, redacts its
// governed text, computes the unified diff against the current target
// file, and writes the artifact plus its .patch sibling. It does not
// apply the edit; that happens only on approval.
func ProposeMemoryDelta(ws *workspace.Workspace, bus *eventlog.Bus, in ProposeMemoryDeltaInput) (*workspace.Artifact, error) {
	for _, text := range []struct{ label, value string }{
		{"title", in.Title},
		{"rationale", in.Rationale},
		{"insert_lines", strings.Join(in.InsertLines, "\n")},
	} {
		if err := AssertNoSensitiveText(text.value, text.label); err != nil {
			return nil, err
		}
	}

	targetPath, err := ws.Path(in.TargetFile)
	if err != nil {
		return nil, apperr.Validation("memory_delta %s: invalid target_file %q: %v", in.ID, in.TargetFile, err)
	}
	original, err := os.ReadFile(targetPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, apperr.Wrap(apperr.KindFatal, "read target file", err)
	}

	patch, err := buildInsertionPatch(in.TargetFile, string(original), in.UnderHeading, in.InsertLines)
	if err != nil {
		return nil, err
	}
	if err := AssertNoSensitiveText(patch, "patch"); err != nil {
		return nil, err
	}

	a := &workspace.Artifact{
		ArtifactFrontmatter: workspace.ArtifactFrontmatter{
			SchemaVersion: 1,
			Type:          workspace.ArtifactMemoryDelta,
			ID:            in.ID,
			Title:         in.Title,
			CreatedAt:     time.Now().UTC(),
			Visibility:    in.Visibility,
			ProducedBy:    in.ProducedBy,
			RunID:         in.RunID,
			ProjectID:     in.ProjectID,
			TargetFile:    in.TargetFile,
			PatchFile:     in.ID + ".patch",
			ScopeKind:     in.ScopeKind,
			ScopeRef:      in.ScopeRef,
			Sensitivity:   in.Sensitivity,
			Rationale:     in.Rationale,
			Evidence:      in.Evidence,
			UnderHeading:  in.UnderHeading,
			InsertLines:   in.InsertLines,
		},
		Body: in.Rationale,
	}
	if err := ws.WriteArtifact(a); err != nil {
		return nil, err
	}
	if err := ws.WriteArtifactSibling(in.ProjectID, in.ID, ".patch", []byte(patch)); err != nil {
		return nil, err
	}

	_, err = eventlog.Append(ws.EventsJSONL(in.ProjectID, in.RunID), eventlog.Envelope{
		RunID:      in.RunID,
		Actor:      in.ProducedBy,
		Visibility: eventlog.VisibilityTeam,
		Type:       "artifact.proposed",
		Payload: map[string]any{
			"artifact_id": in.ID,
			"type":        string(workspace.ArtifactMemoryDelta),
		},
	}, bus)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ApproveMemoryDeltaInput identifies the reviewer and the artifact under
// review.
type ApproveMemoryDeltaInput struct {
	ProjectID  string
	ArtifactID string
	ReviewID   string
	ActorID    string
	ActorRole  workspace.Role
	Notes      string
}

// ApproveMemoryDelta re-applies the artifact's recorded patch to the
// (possibly drifted) target file, writes the review record, and appends
// approval.decided. On denial, no file outside inbox/reviews changes.
func ApproveMemoryDelta(ws *workspace.Workspace, bus *eventlog.Bus, in ApproveMemoryDeltaInput, decision Decision) error {
	a, err := ws.ReadArtifact(in.ProjectID, in.ArtifactID)
	if err != nil {
		return err
	}
	if a.Type != workspace.ArtifactMemoryDelta {
		return apperr.Validation("artifact %s is not a memory_delta", in.ArtifactID)
	}

	reviewDecision := workspace.DecisionDenied
	if decision.Allowed {
		reviewDecision = workspace.DecisionApproved
	}

	if decision.Allowed {
		patchBytes, err := ws.ReadArtifactSibling(in.ProjectID, in.ArtifactID, ".patch")
		if err != nil {
			return err
		}
		targetPath, err := ws.Path(a.TargetFile)
		if err != nil {
			return apperr.Validation("memory_delta %s: invalid target_file %q: %v", in.ArtifactID, a.TargetFile, err)
		}
		current, err := os.ReadFile(targetPath)
		if err != nil && !os.IsNotExist(err) {
			return apperr.Wrap(apperr.KindFatal, "read target file", err)
		}
		updated, err := applyInsertionPatch(string(current), string(patchBytes))
		if err != nil {
			return err
		}
		if err := workspace.AtomicWriteFile(targetPath, []byte(updated), 0o644); err != nil {
			return err
		}
	}

	if err := ws.WriteReview(&workspace.Review{
		ID:        in.ReviewID,
		CreatedAt: time.Now().UTC(),
		ActorID:   in.ActorID,
		ActorRole: in.ActorRole,
		Decision:  reviewDecision,
		Subject:   workspace.ReviewSubject{Kind: "memory_delta", ArtifactID: in.ArtifactID},
		Policy:    decision.Trace,
		Notes:     in.Notes,
	}); err != nil {
		return err
	}

	_, err = eventlog.Append(ws.EventsJSONL(in.ProjectID, a.RunID), eventlog.Envelope{
		RunID:      a.RunID,
		Actor:      in.ActorID,
		Visibility: eventlog.VisibilityTeam,
		Type:       "approval.decided",
		Payload: map[string]any{
			"artifact_id": in.ArtifactID,
			"review_id":   in.ReviewID,
			"decision":    string(reviewDecision),
		},
	}, bus)
	return err
}
