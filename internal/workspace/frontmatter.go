package workspace

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/antigravity-dev/agentco/internal/apperr"
)

const frontmatterDelim = "---"

// SplitFrontmatter extracts the first `---\n<yaml>\n---\n` block from raw
// markdown content and returns its raw YAML text and the remaining body.
// A missing or malformed block is a classified apperr.Validation error.
func SplitFrontmatter(raw []byte) (yamlText string, body string, err error) {
	text := string(raw)
	lines := strings.Split(text, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != frontmatterDelim {
		return "", "", apperr.Validation("frontmatter: document does not start with a %q delimiter", frontmatterDelim)
	}

	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == frontmatterDelim {
			yamlText = strings.Join(lines[1:i], "\n")
			body = strings.Join(lines[i+1:], "\n")
			body = strings.TrimPrefix(body, "\n")
			return yamlText, body, nil
		}
	}
	return "", "", apperr.Validation("frontmatter: closing %q delimiter not found", frontmatterDelim)
}

// ParseFrontmatter splits raw into frontmatter + body and unmarshals the
// frontmatter YAML into out.
func ParseFrontmatter(raw []byte, out any) (body string, err error) {
	yamlText, body, err := SplitFrontmatter(raw)
	if err != nil {
		return "", err
	}
	if err := yaml.Unmarshal([]byte(yamlText), out); err != nil {
		return "", apperr.Wrap(apperr.KindValidation, "frontmatter: invalid YAML", err)
	}
	return body, nil
}

// RenderFrontmatter serializes meta as YAML frontmatter followed by body,
// producing `---\n<yaml>\n---\n<body>\n`.
func RenderFrontmatter(meta any, body string) ([]byte, error) {
	yamlBytes, err := yaml.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("frontmatter: marshal metadata: %w", err)
	}
	body = strings.TrimRight(body, "\n")
	var sb strings.Builder
	sb.WriteString(frontmatterDelim)
	sb.WriteString("\n")
	sb.Write(yamlBytes)
	sb.WriteString(frontmatterDelim)
	sb.WriteString("\n")
	if body != "" {
		sb.WriteString(body)
		sb.WriteString("\n")
	}
	return []byte(sb.String()), nil
}

// FrontmatterType peeks at the `type` key of a frontmatter block without
// fully decoding the caller's schema, used to dispatch handling by
// artifact type.
func FrontmatterType(raw []byte) (string, error) {
	var probe struct {
		Type string `yaml:"type"`
	}
	if _, err := ParseFrontmatter(raw, &probe); err != nil {
		return "", err
	}
	if probe.Type == "" {
		return "", apperr.Validation("frontmatter: missing required %q key", "type")
	}
	return probe.Type, nil
}
