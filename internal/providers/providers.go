// Package providers holds the pure command-builder contract and
// subscription execution policy guard for the official provider
// allowlist (codex, codex_app_server, claude, gemini). Nothing here
// spawns a process; internal/session does that, using the argv this
// package builds.
package providers

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// WorktreeIsolation reports how strongly a provider wants its launch
// isolated into a git worktree rather than running against the shared
// checkout directly.
type WorktreeIsolation string

const (
	WorktreeUnsupported WorktreeIsolation = "unsupported"
	WorktreeRecommended WorktreeIsolation = "recommended"
	WorktreeRequired    WorktreeIsolation = "required"
)

// Capabilities is one provider's declared feature set.
type Capabilities struct {
	SupportsStreamingEvents              bool              `json:"supports_streaming_events"`
	SupportsResumableSession             bool              `json:"supports_resumable_session"`
	SupportsStructuredOutput             bool              `json:"supports_structured_output"`
	SupportsTokenUsage                   bool              `json:"supports_token_usage"`
	SupportsPatchExport                  bool              `json:"supports_patch_export"`
	SupportsInteractiveApprovalCallbacks bool              `json:"supports_interactive_approval_callbacks"`
	SupportsWorktreeIsolation            WorktreeIsolation `json:"supports_worktree_isolation"`
}

// Provider is one entry in the official allowlist: its command
// template, declared capabilities, and whether it authenticates via a
// subscription login rather than an API key.
type Provider struct {
	Name             string
	AllowedBinNames  []string
	SubscriptionOnly bool
	APIKeyEnvVar     string // empty for API-channel providers checked via CheckSubscriptionPolicy's own logic
	Capabilities     Capabilities

	flags  []string
	parser string
}

// registry is the concrete provider set. Flag templates use the
// {prompt}/{prompt_file}/{model} placeholders that resolveFlagTemplate
// validates and substitutes.
var registry = map[string]Provider{
	"codex": {
		Name:             "codex",
		AllowedBinNames:  []string{"codex"},
		SubscriptionOnly: true,
		APIKeyEnvVar:     "OPENAI_API_KEY",
		Capabilities: Capabilities{
			SupportsStreamingEvents:   true,
			SupportsResumableSession:  true,
			SupportsStructuredOutput:  false,
			SupportsTokenUsage:        true,
			SupportsPatchExport:       true,
			SupportsWorktreeIsolation: WorktreeRecommended,
		},
		flags: []string{"exec", "--json", "{prompt}"},
	},
	"codex_app_server": {
		Name:             "codex_app_server",
		AllowedBinNames:  []string{"codex"},
		SubscriptionOnly: true,
		APIKeyEnvVar:     "OPENAI_API_KEY",
		Capabilities: Capabilities{
			SupportsStreamingEvents:              true,
			SupportsResumableSession:              true,
			SupportsStructuredOutput:              true,
			SupportsTokenUsage:                    true,
			SupportsPatchExport:                   true,
			SupportsInteractiveApprovalCallbacks:  true,
			SupportsWorktreeIsolation:             WorktreeRecommended,
		},
		flags: []string{"app-server"},
	},
	"claude": {
		Name:             "claude",
		AllowedBinNames:  []string{"claude"},
		SubscriptionOnly: true,
		APIKeyEnvVar:     "ANTHROPIC_API_KEY",
		Capabilities: Capabilities{
			SupportsStreamingEvents:   true,
			SupportsResumableSession:  true,
			SupportsStructuredOutput:  true,
			SupportsTokenUsage:        true,
			SupportsPatchExport:       true,
			SupportsWorktreeIsolation: WorktreeRecommended,
		},
		flags:  []string{"-p", "{prompt}", "--output-format", "stream-json", "--model", "{model}"},
		parser: "claude_stream_json",
	},
	"gemini": {
		Name:             "gemini",
		AllowedBinNames:  []string{"gemini"},
		SubscriptionOnly: false,
		Capabilities: Capabilities{
			SupportsStreamingEvents:   false,
			SupportsResumableSession:  false,
			SupportsStructuredOutput:  false,
			SupportsTokenUsage:        true,
			SupportsPatchExport:       false,
			SupportsWorktreeIsolation: WorktreeUnsupported,
		},
		flags: []string{"-p", "{prompt}", "-m", "{model}"},
	},
}

// Get returns the registered provider by name.
func Get(name string) (Provider, bool) {
	p, ok := registry[name]
	return p, ok
}

// Names returns the official allowlist in a stable order.
func Names() []string {
	return []string{"codex", "codex_app_server", "claude", "gemini"}
}

// AllowlistCheck reports whether resolvedBinPath's base name matches
// this provider's allowlist.
func (p Provider) AllowlistCheck(resolvedBinPath string) bool {
	base := filepath.Base(resolvedBinPath)
	for _, n := range p.AllowedBinNames {
		if n == base {
			return true
		}
	}
	return false
}

// BuildCommandOpts parameterizes BuildCommand.
type BuildCommandOpts struct {
	Bin           string
	Prompt        string
	Model         string
	OutputsDirAbs string
}

// BuildCommandResult is what a provider's command template resolves
// to for one launch.
type BuildCommandResult struct {
	Argv             []string
	Env              map[string]string
	StdinText        string
	FinalTextFileAbs string
	FinalTextParser  string
}

// BuildCommand resolves this provider's flag template against opts,
// substituting {prompt}/{prompt_file}/{model} placeholders into argv.
func (p Provider) BuildCommand(opts BuildCommandOpts) (BuildCommandResult, error) {
	argv, err := resolveFlagTemplate(opts.Bin, opts.Model, opts.Prompt, p.flags)
	if err != nil {
		return BuildCommandResult{}, err
	}
	result := BuildCommandResult{Argv: argv}
	if p.parser != "" {
		result.FinalTextParser = p.parser
		result.FinalTextFileAbs = filepath.Join(opts.OutputsDirAbs, "last_message.md")
	}
	return result, nil
}

var supportedPlaceholders = map[string]struct{}{
	"{prompt}":      {},
	"{prompt_file}": {},
	"{model}":       {},
}

var placeholderMatcher = regexp.MustCompile(`\{[^}]+\}`)

// resolveFlagTemplate substitutes a provider's {prompt}/{prompt_file}/
// {model} flag placeholders and rejects anything else, so a typo in a
// provider's flag template fails at launch time rather than being
// passed through to the child process literally.
func resolveFlagTemplate(bin, model, prompt string, flags []string) ([]string, error) {
	bin = strings.TrimSpace(bin)
	if bin == "" {
		return nil, fmt.Errorf("command builder: provider binary is required")
	}
	if strings.ContainsRune(bin, '\x00') {
		return nil, fmt.Errorf("command builder: provider binary contains NUL byte")
	}

	model = strings.TrimSpace(model)
	if strings.ContainsRune(model, '\x00') {
		return nil, fmt.Errorf("command builder: model contains NUL byte")
	}
	if strings.ContainsRune(prompt, '\x00') {
		return nil, fmt.Errorf("command builder: prompt contains NUL byte")
	}
	if len(flags) == 0 {
		return []string{bin}, nil
	}

	argv := make([]string, 0, len(flags)+1)
	argv = append(argv, bin)

	modelUsed := false
	for i, raw := range flags {
		if strings.TrimSpace(raw) == "" {
			return nil, fmt.Errorf("command builder: empty flag at index %d", i)
		}
		if strings.ContainsRune(raw, '\x00') {
			return nil, fmt.Errorf("command builder: flag at index %d contains NUL byte", i)
		}
		if err := validatePlaceholders(raw); err != nil {
			return nil, fmt.Errorf("command builder: %w", err)
		}

		arg := raw
		arg = strings.ReplaceAll(arg, "{prompt}", prompt)
		arg = strings.ReplaceAll(arg, "{prompt_file}", prompt)
		if strings.Contains(raw, "{model}") {
			if model == "" {
				return nil, fmt.Errorf("command builder: model is required by flag %q", raw)
			}
			modelUsed = true
			arg = strings.ReplaceAll(arg, "{model}", model)
		}
		argv = append(argv, arg)
	}

	if model != "" && !modelUsed {
		return nil, fmt.Errorf("command builder: model was provided but no model flag placeholder was configured")
	}
	return argv, nil
}

func validatePlaceholders(raw string) error {
	for _, match := range placeholderMatcher.FindAllString(raw, -1) {
		if _, ok := supportedPlaceholders[match]; !ok {
			return fmt.Errorf("unsupported placeholder %q in flag %q", match, raw)
		}
	}
	return nil
}
