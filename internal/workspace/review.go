package workspace

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/antigravity-dev/agentco/internal/apperr"
)

// WriteReview writes an append-only review record. Reviews are never
// mutated after write, so this refuses to overwrite an existing file.
func (w *Workspace) WriteReview(r *Review) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return err
	}
	if err := AtomicCreateFile(w.ReviewYAML(r.ID), data, 0o644); err != nil {
		return apperr.Wrap(apperr.KindConflict, "review already recorded", err)
	}
	return nil
}

func (w *Workspace) ReadReview(reviewID string) (*Review, error) {
	data, err := os.ReadFile(w.ReviewYAML(reviewID))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNotFound, "read review", err)
	}
	var r Review
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "parse review", err)
	}
	return &r, nil
}

func (w *Workspace) ListReviewIDs() ([]string, error) {
	entries, err := os.ReadDir(w.ReviewsDir())
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
