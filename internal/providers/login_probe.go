package providers

import (
	"fmt"
	"os"
	"path/filepath"
)

// PolicyDeniedError reports a CheckSubscriptionPolicy denial, carrying
// the specific Reason so callers (and the RPC error surface) can
// branch on it without string-matching the message.
type PolicyDeniedError struct {
	Provider string
	Reason   string
}

func (e *PolicyDeniedError) Error() string {
	return fmt.Sprintf("provider policy denied for %q: %s", e.Provider, e.Reason)
}

// credentialPaths lists, relative to $HOME, the on-disk credential
// file each subscription-only provider's CLI writes after a
// successful interactive `<bin> login` run.
var credentialPaths = map[string][]string{
	"codex":            {".codex/auth.json"},
	"codex_app_server": {".codex/auth.json"},
	"claude":           {".claude/.credentials.json", ".config/claude/.credentials.json"},
}

// NewFileLoginProbe returns a LoginProbe that reports a subscription
// login as present when name's known credential file exists under the
// caller's home directory. It only checks existence, not content or
// expiry, so a stale credential file still probes as logged in;
// callers that need a stronger guarantee (e.g. shelling out to the
// provider's own "whoami"/status command) should supply their own
// LoginProbe to CheckSubscriptionPolicy instead.
func NewFileLoginProbe(name string) LoginProbe {
	paths := credentialPaths[name]
	return func(string) (bool, error) {
		if len(paths) == 0 {
			return false, nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return false, err
		}
		for _, rel := range paths {
			if _, err := os.Stat(filepath.Join(home, rel)); err == nil {
				return true, nil
			}
		}
		return false, nil
	}
}
