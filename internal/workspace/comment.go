package workspace

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/antigravity-dev/agentco/internal/apperr"
)

// WriteComment writes an append-only comment record. Comments are never
// mutated after write, so this refuses to overwrite an existing file.
func (w *Workspace) WriteComment(c *Comment) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := AtomicCreateFile(w.CommentYAML(c.ProjectID, c.ID), data, 0o644); err != nil {
		return apperr.Wrap(apperr.KindConflict, "comment already recorded", err)
	}
	return nil
}

func (w *Workspace) ReadComment(projectID, commentID string) (*Comment, error) {
	data, err := os.ReadFile(w.CommentYAML(projectID, commentID))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNotFound, "read comment", err)
	}
	var c Comment
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "parse comment", err)
	}
	return &c, nil
}

func (w *Workspace) ListCommentIDs(projectID string) ([]string, error) {
	entries, err := os.ReadDir(w.CommentsDir(projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if len(name) > 5 && name[len(name)-5:] == ".yaml" {
			ids = append(ids, name[:len(name)-5])
		}
	}
	return ids, nil
}
