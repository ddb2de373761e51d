package workspace

import (
	"os"
	"strings"

	"github.com/antigravity-dev/agentco/internal/apperr"
)

// ValidateArtifact enforces the cross-field invariant that a restricted
// memory_delta may never be org-visible.
func ValidateArtifact(a *Artifact) error {
	if a.Type == ArtifactMemoryDelta {
		if a.Sensitivity == SensitivityRestricted && a.Visibility == VisibilityOrg {
			return apperr.Validation("memory_delta %s: sensitivity=restricted forbids visibility=org", a.ID)
		}
		if strings.TrimSpace(a.Rationale) == "" {
			return apperr.Validation("memory_delta %s: rationale must not be empty", a.ID)
		}
		if len(a.Evidence) == 0 {
			return apperr.Validation("memory_delta %s: at least one evidence item is required", a.ID)
		}
	}
	return nil
}

func (w *Workspace) ReadArtifact(projectID, artifactID string) (*Artifact, error) {
	path := w.ArtifactPath(projectID, artifactID)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNotFound, "read artifact "+path, err)
	}
	var a Artifact
	body, err := ParseFrontmatter(raw, &a.ArtifactFrontmatter)
	if err != nil {
		return nil, err
	}
	a.Body = body
	return &a, nil
}

func (w *Workspace) WriteArtifact(a *Artifact) error {
	if err := ValidateArtifact(a); err != nil {
		return err
	}
	raw, err := RenderFrontmatter(a.ArtifactFrontmatter, a.Body)
	if err != nil {
		return err
	}
	return AtomicWriteFile(w.ArtifactPath(a.ProjectID, a.ID), raw, 0o644)
}

// ArtifactSiblingPath returns the path to a sibling file of the artifact
// (its `.patch`, `.txt`, or `.json` companion), used by milestone
// evidence checks.
func (w *Workspace) ArtifactSiblingPath(projectID, artifactID, ext string) string {
	return strings.TrimSuffix(w.ArtifactPath(projectID, artifactID), ".md") + ext
}

func (w *Workspace) ArtifactSiblingExists(projectID, artifactID, ext string) bool {
	_, err := os.Stat(w.ArtifactSiblingPath(projectID, artifactID, ext))
	return err == nil
}

func (w *Workspace) WriteArtifactSibling(projectID, artifactID, ext string, data []byte) error {
	return AtomicWriteFile(w.ArtifactSiblingPath(projectID, artifactID, ext), data, 0o644)
}

func (w *Workspace) ReadArtifactSibling(projectID, artifactID, ext string) ([]byte, error) {
	data, err := os.ReadFile(w.ArtifactSiblingPath(projectID, artifactID, ext))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNotFound, "read artifact sibling", err)
	}
	return data, nil
}

func (w *Workspace) ListArtifactIDs(projectID string) ([]string, error) {
	entries, err := os.ReadDir(w.ArtifactsDir(projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperr.Wrap(apperr.KindFatal, "list artifacts", err)
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
