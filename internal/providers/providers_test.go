package providers

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGet_ReturnsAllFourAllowlistedProviders(t *testing.T) {
	for _, name := range Names() {
		p, ok := Get(name)
		require.True(t, ok, name)
		require.Equal(t, name, p.Name)
	}
}

func TestProvider_AllowlistCheck_MatchesOnlyDeclaredBinNames(t *testing.T) {
	p, ok := Get("claude")
	require.True(t, ok)
	require.True(t, p.AllowlistCheck("/usr/local/bin/claude"))
	require.False(t, p.AllowlistCheck("/usr/local/bin/not-claude"))
}

func TestProvider_BuildCommand_SubstitutesPromptAndModel(t *testing.T) {
	p, ok := Get("claude")
	require.True(t, ok)
	result, err := p.BuildCommand(BuildCommandOpts{
		Bin: "claude", Prompt: "do the thing", Model: "claude-opus",
		OutputsDirAbs: "/ws/work/projects/p1/runs/r1/outputs",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"claude", "-p", "do the thing", "--output-format", "stream-json", "--model", "claude-opus"}, result.Argv)
	require.Equal(t, "claude_stream_json", result.FinalTextParser)
	require.Equal(t, "/ws/work/projects/p1/runs/r1/outputs/last_message.md", result.FinalTextFileAbs)
}

func TestProvider_BuildCommand_GeminiHasNoFinalTextParser(t *testing.T) {
	p, ok := Get("gemini")
	require.True(t, ok)
	result, err := p.BuildCommand(BuildCommandOpts{Bin: "gemini", Prompt: "hi", Model: "gemini-2.5-pro"})
	require.NoError(t, err)
	require.Empty(t, result.FinalTextParser)
	require.Equal(t, []string{"gemini", "-p", "hi", "-m", "gemini-2.5-pro"}, result.Argv)
}

func envLookup(values map[string]string) func(string) string {
	return func(k string) string { return values[k] }
}

func TestCheckSubscriptionPolicy_RejectsUnapprovedBinary(t *testing.T) {
	result := CheckSubscriptionPolicy("claude", "/usr/local/bin/some-other-binary", envLookup(nil), nil)
	require.False(t, result.OK)
	require.Equal(t, ReasonUnapprovedWorkerBinary, result.Reason)
}

func TestCheckSubscriptionPolicy_RejectsAPIKeyPresentForSubscriptionOnlyProvider(t *testing.T) {
	result := CheckSubscriptionPolicy("claude", "/usr/local/bin/claude", envLookup(map[string]string{
		"ANTHROPIC_API_KEY": "sk-test",
	}), func(string) (bool, error) { return true, nil })
	require.False(t, result.OK)
	require.Equal(t, ReasonAPIKeyPresent, result.Reason)
}

func TestCheckSubscriptionPolicy_AcceptsSubscriptionLoginWithNoAPIKey(t *testing.T) {
	result := CheckSubscriptionPolicy("claude", "/usr/local/bin/claude", envLookup(nil), func(string) (bool, error) { return true, nil })
	require.True(t, result.OK)
	require.Empty(t, result.Reason)
}

func TestCheckSubscriptionPolicy_RejectsFailedLoginProbe(t *testing.T) {
	result := CheckSubscriptionPolicy("codex", "/usr/local/bin/codex", envLookup(nil), func(string) (bool, error) {
		return false, errors.New("not logged in")
	})
	require.False(t, result.OK)
	require.Equal(t, ReasonAuthProbeFailed, result.Reason)
}

func TestCheckSubscriptionPolicy_RejectsNilProbeForSubscriptionProvider(t *testing.T) {
	result := CheckSubscriptionPolicy("codex_app_server", "/usr/local/bin/codex", envLookup(nil), nil)
	require.False(t, result.OK)
	require.Equal(t, ReasonAuthProbeFailed, result.Reason)
}

func TestCheckSubscriptionPolicy_GeminiAcceptsAPIKey(t *testing.T) {
	result := CheckSubscriptionPolicy("gemini", "/usr/local/bin/gemini", envLookup(map[string]string{
		"GEMINI_API_KEY": "abc",
	}), nil)
	require.True(t, result.OK)
}

func TestCheckSubscriptionPolicy_GeminiAcceptsVertexTriple(t *testing.T) {
	result := CheckSubscriptionPolicy("gemini", "/usr/local/bin/gemini", envLookup(map[string]string{
		"GOOGLE_GENAI_USE_VERTEXAI": "true",
		"GOOGLE_CLOUD_PROJECT":      "proj",
		"GOOGLE_CLOUD_LOCATION":     "us-central1",
	}), nil)
	require.True(t, result.OK)
}

func TestCheckSubscriptionPolicy_GeminiRejectsNoCredentials(t *testing.T) {
	result := CheckSubscriptionPolicy("gemini", "/usr/local/bin/gemini", envLookup(nil), nil)
	require.False(t, result.OK)
	require.Equal(t, ReasonAuthProbeFailed, result.Reason)
}
