package workspace

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SafeJoin joins root with rel after verifying rel is a workspace-relative
// path that cannot escape root: no absolute paths, no ".." segments.
func SafeJoin(root, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("workspace: path %q must be workspace-relative, not absolute", rel)
	}
	clean := filepath.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("workspace: path %q escapes the workspace root", rel)
	}
	return filepath.Join(root, clean), nil
}

// Workspace is a thin handle on a workspace root directory, giving every
// reader/writer in this package a consistent anchor for relative paths.
type Workspace struct {
	Root string
}

func New(root string) *Workspace {
	return &Workspace{Root: filepath.Clean(root)}
}

func (w *Workspace) Path(rel string) (string, error) {
	return SafeJoin(w.Root, rel)
}

func (w *Workspace) CompanyYAML() string       { return filepath.Join(w.Root, "company", "company.yaml") }
func (w *Workspace) MigrationsLedger() string {
	return filepath.Join(w.Root, "company", "migrations", "applied.yaml")
}
func (w *Workspace) TeamYAML(teamID string) string {
	return filepath.Join(w.Root, "org", "teams", teamID, "team.yaml")
}
func (w *Workspace) AgentsDir() string {
	return filepath.Join(w.Root, "org", "agents")
}
func (w *Workspace) AgentDir(agentID string) string {
	return filepath.Join(w.Root, "org", "agents", agentID)
}
func (w *Workspace) AgentYAML(agentID string) string {
	return filepath.Join(w.AgentDir(agentID), "agent.yaml")
}
func (w *Workspace) AgentGuidance(agentID string) string {
	return filepath.Join(w.AgentDir(agentID), "AGENTS.md")
}
func (w *Workspace) ProjectDir(projectID string) string {
	return filepath.Join(w.Root, "work", "projects", projectID)
}
func (w *Workspace) ProjectYAML(projectID string) string {
	return filepath.Join(w.ProjectDir(projectID), "project.yaml")
}
func (w *Workspace) ProjectMemory(projectID string) string {
	return filepath.Join(w.ProjectDir(projectID), "memory.md")
}
func (w *Workspace) TaskPath(projectID, taskID string) string {
	return filepath.Join(w.ProjectDir(projectID), "tasks", taskID+".md")
}
func (w *Workspace) TasksDir(projectID string) string {
	return filepath.Join(w.ProjectDir(projectID), "tasks")
}
func (w *Workspace) ArtifactPath(projectID, artifactID string) string {
	return filepath.Join(w.ProjectDir(projectID), "artifacts", artifactID+".md")
}
func (w *Workspace) ArtifactsDir(projectID string) string {
	return filepath.Join(w.ProjectDir(projectID), "artifacts")
}
func (w *Workspace) RunDir(projectID, runID string) string {
	return filepath.Join(w.ProjectDir(projectID), "runs", runID)
}
func (w *Workspace) RunYAML(projectID, runID string) string {
	return filepath.Join(w.RunDir(projectID, runID), "run.yaml")
}
func (w *Workspace) EventsJSONL(projectID, runID string) string {
	return filepath.Join(w.RunDir(projectID, runID), "events.jsonl")
}
func (w *Workspace) RunOutputsDir(projectID, runID string) string {
	return filepath.Join(w.RunDir(projectID, runID), "outputs")
}
func (w *Workspace) RunWorktreeDir(projectID, runID string) string {
	return filepath.Join(w.RunDir(projectID, runID), "worktree")
}
func (w *Workspace) RunsDir(projectID string) string {
	return filepath.Join(w.ProjectDir(projectID), "runs")
}
func (w *Workspace) ProjectsDir() string {
	return filepath.Join(w.Root, "work", "projects")
}
func (w *Workspace) ReviewYAML(reviewID string) string {
	return filepath.Join(w.Root, "inbox", "reviews", reviewID+".yaml")
}
func (w *Workspace) ReviewsDir() string {
	return filepath.Join(w.Root, "inbox", "reviews")
}
func (w *Workspace) MachineYAML() string {
	return filepath.Join(w.Root, ".local", "machine.yaml")
}
func (w *Workspace) ReconciliationStatements() string {
	return filepath.Join(w.Root, ".local", "billing", "reconciliation_statements.json")
}
func (w *Workspace) IndexDB() string {
	return filepath.Join(w.Root, ".local", "index.db")
}
func (w *Workspace) HeartbeatConfigYAML() string {
	return filepath.Join(w.Root, ".local", "heartbeat", "config.yaml")
}
func (w *Workspace) HeartbeatStateYAML() string {
	return filepath.Join(w.Root, ".local", "heartbeat", "state.yaml")
}
func (w *Workspace) CommentsDir(projectID string) string {
	return filepath.Join(w.ProjectDir(projectID), "comments")
}
func (w *Workspace) CommentYAML(projectID, commentID string) string {
	return filepath.Join(w.CommentsDir(projectID), commentID+".yaml")
}
