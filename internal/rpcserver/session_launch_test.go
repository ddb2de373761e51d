package rpcserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/agentco/internal/apperr"
	"github.com/antigravity-dev/agentco/internal/heartbeat"
	"github.com/antigravity-dev/agentco/internal/index"
	"github.com/antigravity-dev/agentco/internal/providers"
	"github.com/antigravity-dev/agentco/internal/session"
	"github.com/antigravity-dev/agentco/internal/workspace"
)

// fakeProviderBinary drops an executable named name into a fresh
// directory and prepends that directory to PATH for the duration of
// the test, so a real exec.Command launch of an allowlisted provider
// binary succeeds without depending on that CLI actually being
// installed in the test environment.
func fakeProviderBinary(t *testing.T, name string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake provider binary script is POSIX-only")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\necho '{}'\nexit 0\n"), 0o755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	backends := map[string]session.Backend{"exec": session.NewExecBackend()}
	sessions := session.NewManager(backends)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hb := heartbeat.NewService(logger, func(ws *workspace.Workspace, agentID string, a heartbeat.Action) error {
		return nil
	})
	indexWorker := index.NewWorker(index.WorkerConfig{})
	t.Cleanup(indexWorker.Close)
	return NewRegistry(hb, sessions, indexWorker)
}

func launchParams(t *testing.T, workspaceDir string, extra map[string]any) []byte {
	t.Helper()
	p := map[string]any{
		"workspace_dir": workspaceDir,
		"project_id":    "p1",
		"run_id":        "r1",
		"agent_id":      "agent-1",
		"provider":      "codex",
		"argv":          []string{"codex", "exec", "--json", "do the thing"},
		"backend_key":   "exec",
	}
	for k, v := range extra {
		p[k] = v
	}
	data, err := json.Marshal(p)
	require.NoError(t, err)
	return data
}

// TestHandleSessionLaunch_DeniesUnapprovedBinary proves §6's allowlist
// guard actually runs inside the real session.launch handler: a binary
// name outside codex's allowlist must be refused before
// session.Manager.LaunchSession is ever called.
func TestHandleSessionLaunch_DeniesUnapprovedBinary(t *testing.T) {
	reg := newTestRegistry(t)
	handler := handleSessionLaunch(reg)

	params := launchParams(t, t.TempDir(), map[string]any{
		"argv": []string{"/usr/bin/totally-not-codex", "exec", "--json", "hi"},
	})

	_, err := handler(context.Background(), nil, params)
	require.Error(t, err)
	var policyErr *providers.PolicyDeniedError
	require.ErrorAs(t, err, &policyErr)
	require.Equal(t, providers.ReasonUnapprovedWorkerBinary, policyErr.Reason)
}

// TestHandleSessionLaunch_DeniesWhenAPIKeyPresent proves the
// subscription-only branch of CheckSubscriptionPolicy runs for real:
// codex is subscription-only, so OPENAI_API_KEY being set must deny
// the launch even with an allowlisted binary name.
func TestHandleSessionLaunch_DeniesWhenAPIKeyPresent(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test-not-a-real-key")
	reg := newTestRegistry(t)
	handler := handleSessionLaunch(reg)

	params := launchParams(t, t.TempDir(), nil)

	_, err := handler(context.Background(), nil, params)
	require.Error(t, err)
	var policyErr *providers.PolicyDeniedError
	require.ErrorAs(t, err, &policyErr)
	require.Equal(t, providers.ReasonAPIKeyPresent, policyErr.Reason)
}

// TestHandleSessionLaunch_GeminiAPIChannelPassesWithoutProbe proves an
// API-channel provider (gemini) reaches session.Manager.LaunchSession
// when a recognized credential env var is present, without needing any
// LoginProbe at all.
func TestHandleSessionLaunch_GeminiAPIChannelPassesWithoutProbe(t *testing.T) {
	fakeProviderBinary(t, "gemini")
	t.Setenv("GEMINI_API_KEY", "test-key")
	reg := newTestRegistry(t)
	handler := handleSessionLaunch(reg)

	params := launchParams(t, t.TempDir(), map[string]any{
		"provider": "gemini",
		"argv":     []string{"gemini", "-p", "hi", "-m", "gemini-pro"},
	})

	result, err := handler(context.Background(), nil, params)
	require.NoError(t, err)
	m, ok := result.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "p1/r1", m["session_ref"])
}

func TestHandleSessionLaunch_UnknownProviderIsValidationError(t *testing.T) {
	reg := newTestRegistry(t)
	handler := handleSessionLaunch(reg)

	params := launchParams(t, t.TempDir(), map[string]any{"provider": "not-a-real-provider"})

	_, err := handler(context.Background(), nil, params)
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.KindValidation))
}
