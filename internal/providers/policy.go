package providers

// LoginProbe runs a provider's login-status check and reports whether
// it recognized a subscription (not API-key) auth mode. It is supplied
// by the caller; NewFileLoginProbe is the stock implementation, which
// checks for the provider CLI's credential file and spawns no process.
type LoginProbe func(providerBin string) (bool, error)

// PolicyResult is the outcome of a subscription execution policy check.
type PolicyResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

const (
	ReasonUnapprovedWorkerBinary = "unapproved_worker_binary"
	ReasonAPIKeyPresent          = "api_key_present"
	ReasonAuthProbeFailed        = "auth_probe_failed"
)

// CheckSubscriptionPolicy guards a launch before a real provider
// process is spawned: (a) the resolved binary must match the
// provider's allowlist; (b) for subscription-only providers
// (codex/codex_app_server/claude), the corresponding API-key env var
// must be absent and probe must confirm a subscription login; (c) for
// API-channel providers (gemini), at least one recognized credential
// must be present. getenv and probe are injected so this stays a pure
// function of its inputs in tests.
func CheckSubscriptionPolicy(name, resolvedBinPath string, getenv func(string) string, probe LoginProbe) PolicyResult {
	p, ok := Get(name)
	if !ok || !p.AllowlistCheck(resolvedBinPath) {
		return PolicyResult{OK: false, Reason: ReasonUnapprovedWorkerBinary}
	}

	if !p.SubscriptionOnly {
		return checkAPIChannelPolicy(getenv)
	}

	if p.APIKeyEnvVar != "" && getenv(p.APIKeyEnvVar) != "" {
		return PolicyResult{OK: false, Reason: ReasonAPIKeyPresent}
	}
	if probe == nil {
		return PolicyResult{OK: false, Reason: ReasonAuthProbeFailed}
	}
	subscribed, err := probe(resolvedBinPath)
	if err != nil || !subscribed {
		return PolicyResult{OK: false, Reason: ReasonAuthProbeFailed}
	}
	return PolicyResult{OK: true}
}

// checkAPIChannelPolicy implements the gemini branch: GEMINI_API_KEY,
// GOOGLE_API_KEY, or the full Vertex env triple must be present.
func checkAPIChannelPolicy(getenv func(string) string) PolicyResult {
	if getenv("GEMINI_API_KEY") != "" || getenv("GOOGLE_API_KEY") != "" {
		return PolicyResult{OK: true}
	}
	if getenv("GOOGLE_GENAI_USE_VERTEXAI") != "" && getenv("GOOGLE_CLOUD_PROJECT") != "" && getenv("GOOGLE_CLOUD_LOCATION") != "" {
		return PolicyResult{OK: true}
	}
	return PolicyResult{OK: false, Reason: ReasonAuthProbeFailed}
}
