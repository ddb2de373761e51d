package workspace

import (
	"os"
	"strings"

	"github.com/antigravity-dev/agentco/internal/apperr"
)

const (
	headingContract   = "## Contract"
	headingMilestones = "## Milestones"
)

// ValidateTaskBody enforces the task body's structural rule: it must
// contain both required headings.
func ValidateTaskBody(body string) error {
	if !strings.Contains(body, headingContract) {
		return apperr.Validation("task body missing required heading %q", headingContract)
	}
	if !strings.Contains(body, headingMilestones) {
		return apperr.Validation("task body missing required heading %q", headingMilestones)
	}
	return nil
}

// ValidateTaskNonDraft enforces that any task not in "draft" status must
// carry non-empty deliverables, acceptance criteria, and at least one
// milestone.
func ValidateTaskNonDraft(t *Task) error {
	if t.Status == TaskDraft {
		return nil
	}
	if len(t.Deliverables) == 0 {
		return apperr.Validation("task %s: non-draft tasks require at least one deliverable", t.ID)
	}
	if len(t.AcceptanceCriteria) == 0 {
		return apperr.Validation("task %s: non-draft tasks require at least one acceptance criterion", t.ID)
	}
	if len(t.Milestones) == 0 {
		return apperr.Validation("task %s: non-draft tasks require at least one milestone", t.ID)
	}
	return nil
}

// ApplyMilestoneAutoPromotion couples task status to milestone status:
// when every milestone is done the task auto-promotes to done (unless
// canceled); moving a milestone out of done demotes a done task back to
// in_progress. Returns true if t.Status changed.
func ApplyMilestoneAutoPromotion(t *Task) bool {
	if t.Status == TaskCanceled {
		return false
	}
	allDone := len(t.Milestones) > 0
	for _, m := range t.Milestones {
		if m.Status != MilestoneDone {
			allDone = false
			break
		}
	}
	if allDone && t.Status != TaskDone {
		t.Status = TaskDone
		return true
	}
	if !allDone && t.Status == TaskDone {
		t.Status = TaskInProgress
		return true
	}
	return false
}

func (w *Workspace) ReadTask(projectID, taskID string) (*Task, error) {
	path := w.TaskPath(projectID, taskID)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNotFound, "read task "+path, err)
	}
	var t Task
	body, err := ParseFrontmatter(raw, &t.TaskFrontmatter)
	if err != nil {
		return nil, err
	}
	t.Body = body
	return &t, nil
}

// WriteTask validates structural invariants, applies milestone
// auto-promotion, and atomically writes the task markdown file.
func (w *Workspace) WriteTask(t *Task) error {
	if err := ValidateTaskBody(t.Body); err != nil {
		return err
	}
	if err := ValidateTaskNonDraft(t); err != nil {
		return err
	}
	for i := range t.Milestones {
		t.Milestones[i].DefaultEvidence()
	}
	ApplyMilestoneAutoPromotion(t)

	raw, err := RenderFrontmatter(t.TaskFrontmatter, t.Body)
	if err != nil {
		return err
	}
	return AtomicWriteFile(w.TaskPath(t.ProjectID, t.ID), raw, 0o644)
}

func (w *Workspace) ListTaskIDs(projectID string) ([]string, error) {
	entries, err := os.ReadDir(w.TasksDir(projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperr.Wrap(apperr.KindFatal, "list tasks", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".md"))
	}
	return ids, nil
}
