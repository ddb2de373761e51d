package workspace

import (
	"os"

	"github.com/antigravity-dev/agentco/internal/apperr"
)

// CreateRunDir creates the run's directory tree atomically enough for our
// purposes: MkdirAll is idempotent, and run.yaml is only written once the
// directory exists, so a reader never observes a run directory without
// eventually getting a run.yaml.
func (w *Workspace) CreateRunDir(projectID, runID string) error {
	if err := os.MkdirAll(w.RunDir(projectID, runID), 0o755); err != nil {
		return apperr.Wrap(apperr.KindFatal, "create run directory", err)
	}
	if err := os.MkdirAll(w.RunOutputsDir(projectID, runID), 0o755); err != nil {
		return apperr.Wrap(apperr.KindFatal, "create run outputs directory", err)
	}
	return nil
}

// CreateProjectWithDefaults creates a new project's directory tree
// (tasks, artifacts, runs, comments) and writes project.yaml and a
// memory.md holding only a "# <name>" heading, applying schema_version 1 and name defaulting to id
// when name is blank. It fails if the project already exists.
func (w *Workspace) CreateProjectWithDefaults(id, name, teamID string) (*Project, error) {
	if _, err := w.ReadProject(id); err == nil {
		return nil, apperr.Conflict("project %s already exists", id)
	}
	if name == "" {
		name = id
	}
	for _, dir := range []string{w.ProjectDir(id), w.TasksDir(id), w.ArtifactsDir(id), w.RunsDir(id), w.CommentsDir(id)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, apperr.Wrap(apperr.KindFatal, "create project directory", err)
		}
	}
	p := &Project{SchemaVersion: 1, ID: id, Name: name, TeamID: teamID}
	if err := w.WriteProject(p); err != nil {
		return nil, err
	}
	if err := os.WriteFile(w.ProjectMemory(id), []byte("# "+name+"\n"), 0o644); err != nil {
		return nil, apperr.Wrap(apperr.KindFatal, "write project memory", err)
	}
	return p, nil
}

func (w *Workspace) ReadRun(projectID, runID string) (*Run, error) {
	var r Run
	if err := readYAML(w.RunYAML(projectID, runID), &r); err != nil {
		return nil, apperr.Wrap(apperr.KindNotFound, "read run", err)
	}
	return &r, nil
}

// WriteRun persists run.yaml, enforcing the monotone status machine
// against the previously written status when one exists.
func (w *Workspace) WriteRun(r *Run) error {
	if existing, err := w.ReadRun(r.ProjectID, r.RunID); err == nil {
		if !existing.Status.CanTransition(r.Status) {
			return apperr.Conflict("run %s: illegal status transition %s -> %s", r.RunID, existing.Status, r.Status)
		}
	}
	return writeYAML(w.RunYAML(r.ProjectID, r.RunID), r)
}

func (w *Workspace) ListRunIDs(projectID string) ([]string, error) {
	entries, err := os.ReadDir(w.RunsDir(projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

func (w *Workspace) ListProjectIDs() ([]string, error) {
	entries, err := os.ReadDir(w.ProjectsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}
