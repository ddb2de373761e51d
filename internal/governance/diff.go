package governance

import (
	"fmt"
	"strings"

	"github.com/antigravity-dev/agentco/internal/apperr"
)

// buildInsertionPatch produces a minimal unified diff that inserts
// insertLines immediately after the first line of original matching
// underHeading. It only ever describes a single-hunk pure insertion,
// which is all a memory-delta write needs: appending agreed context
// under an existing section without touching anything else in the
// file.
//
// No diff library exists anywhere in the retrieved reference corpus,
// so this is hand-rolled rather than imported.
func buildInsertionPatch(path, original, underHeading string, insertLines []string) (string, error) {
	lines := splitLines(original)
	idx := findHeadingLine(lines, underHeading)
	if idx < 0 {
		return "", apperr.Validation("heading %q not found in %s", underHeading, path)
	}

	insertAt := idx + 1

	var b strings.Builder
	fmt.Fprintf(&b, "--- a/%s\n", path)
	fmt.Fprintf(&b, "+++ b/%s\n", path)
	fmt.Fprintf(&b, "# anchor: %s\n", strings.TrimSpace(underHeading))
	fmt.Fprintf(&b, "@@ -%d,0 +%d,%d @@\n", insertAt, insertAt+1, len(insertLines))
	for _, l := range insertLines {
		b.WriteString("+" + l + "\n")
	}
	return b.String(), nil
}

// applyInsertionPatch re-applies a patch produced by buildInsertionPatch
// to current, which may have drifted since the patch was generated
// (other memory deltas approved in the meantime). Re-anchoring on the
// heading text, rather than the recorded line number, is what makes
// this tolerant of drift.
func applyInsertionPatch(current, patch string) (string, error) {
	heading, insertLines, err := parseInsertionPatch(patch)
	if err != nil {
		return "", err
	}

	lines := splitLines(current)
	idx := findHeadingLine(lines, heading)
	if idx < 0 {
		return "", apperr.Conflict("heading %q no longer present; cannot re-apply patch", heading)
	}

	out := make([]string, 0, len(lines)+len(insertLines))
	out = append(out, lines[:idx+1]...)
	out = append(out, insertLines...)
	out = append(out, lines[idx+1:]...)
	return strings.Join(out, "\n") + "\n", nil
}

// parseInsertionPatch recovers the heading anchor and inserted lines from
// a patch built by buildInsertionPatch. The heading itself isn't stored
// verbatim in the hunk, so we keep it alongside the patch text using a
// marker comment line right after the ---/+++ file headers instead of
// re-deriving it from the
// hunk header, which only carries line numbers.
func parseInsertionPatch(patch string) (heading string, insertLines []string, err error) {
	lines := strings.Split(patch, "\n")
	for i, l := range lines {
		if strings.HasPrefix(l, "@@ ") {
			continue
		}
		if strings.HasPrefix(l, "+") && !strings.HasPrefix(l, "+++") {
			insertLines = append(insertLines, strings.TrimPrefix(l, "+"))
		}
		if strings.HasPrefix(l, "# anchor: ") && heading == "" {
			heading = strings.TrimPrefix(lines[i], "# anchor: ")
		}
	}
	if len(insertLines) == 0 {
		return "", nil, apperr.Validation("patch has no inserted lines")
	}
	return heading, insertLines, nil
}

func findHeadingLine(lines []string, heading string) int {
	heading = strings.TrimSpace(heading)
	for i, l := range lines {
		if strings.TrimSpace(l) == heading {
			return i
		}
	}
	return -1
}

func splitLines(s string) []string {
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
