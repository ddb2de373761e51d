// Command agentco runs the control-plane server: it loads
// agentco.toml, wires the session/launch-lane/index/heartbeat/recovery
// services together, and serves the JSON-RPC transport either over
// stdin/stdout or a TCP/unix listener, until an interrupt or terminate
// signal asks it to shut down.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/antigravity-dev/agentco/internal/config"
	"github.com/antigravity-dev/agentco/internal/eventlog"
	"github.com/antigravity-dev/agentco/internal/heartbeat"
	"github.com/antigravity-dev/agentco/internal/index"
	"github.com/antigravity-dev/agentco/internal/launchlane"
	"github.com/antigravity-dev/agentco/internal/recovery"
	"github.com/antigravity-dev/agentco/internal/rpcserver"
	"github.com/antigravity-dev/agentco/internal/session"
	"github.com/antigravity-dev/agentco/internal/workspace"
)

func configureLogger(logLevel string) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func main() {
	configPath := flag.String("config", "agentco.toml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	logger.Info("agentco starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = configureLogger(cfg.General.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backends := map[string]session.Backend{
		"exec": session.NewExecBackend(),
		"tmux": session.NewTmuxBackend(),
	}
	if docker, err := session.NewDockerBackend(); err != nil {
		logger.Warn("docker backend unavailable, continuing without it", "error", err)
	} else {
		backends["docker"] = docker
	}
	sessions := session.NewManager(backends)
	sessions.SetLaunchLane(launchlane.NewLane(), launchlane.Limits{
		WorkspaceLimit: cfg.General.MaxConcurrentSessions,
		ProviderLimit:  cfg.General.MaxConcurrentSessionsPerProvider,
	})

	indexWorker := index.NewWorker(index.WorkerConfig{
		DebounceInterval: cfg.General.IndexSyncDebounce.Duration,
		MinSyncInterval:  2 * time.Second,
	})
	defer indexWorker.Close()

	// reg is forward-declared so the heartbeat and recovery launch/live
	// hooks below can close over it despite Registry itself needing the
	// heartbeat service at construction time.
	var reg *rpcserver.Registry

	launchJob := func(ws *workspace.Workspace, agentID string, a heartbeat.Action) error {
		if reg == nil {
			return fmt.Errorf("launch_job: registry not yet initialized")
		}
		bus := reg.Bus(ws.Root)
		if bus == nil {
			bus = eventlog.NewBus()
		}
		argv, _ := a.Payload["argv"].([]any)
		argvStrs := make([]string, 0, len(argv))
		for _, v := range argv {
			if s, ok := v.(string); ok {
				argvStrs = append(argvStrs, s)
			}
		}
		provider, _ := a.Payload["provider"].(string)
		backendKey, _ := a.Payload["backend_key"].(string)
		if backendKey == "" {
			backendKey = "exec"
		}
		_, err := sessions.LaunchSession(context.Background(), ws, bus, session.LaunchSessionOpts{
			ProjectID:  a.ProjectID,
			RunID:      uuid.NewString(),
			AgentID:    agentID,
			Provider:   provider,
			Argv:       argvStrs,
			BackendKey: backendKey,
		})
		return err
	}
	hb := heartbeat.NewService(logger.With("component", "heartbeat"), launchJob)
	defer hb.Close()

	rec := recovery.NewService(logger.With("component", "recovery"), sessions.IsLive)
	if err := rec.Start(cfg.Recovery.SweepCron); err != nil {
		logger.Error("failed to start recovery sweep", "error", err)
		os.Exit(1)
	}
	defer rec.Close()

	reg = rpcserver.NewRegistry(hb, sessions, indexWorker)

	router := rpcserver.NewRouter()
	rpcserver.RegisterMethods(router, reg)

	bus := eventlog.NewBus()
	srv := rpcserver.NewServer(router, bus, logger.With("component", "rpcserver"))

	for _, root := range cfg.Workspace.Roots {
		ws := workspace.New(root)
		ix, err := index.Open(ws.IndexDB())
		if err != nil {
			logger.Error("failed to open index for configured workspace", "root", root, "error", err)
			continue
		}
		wsBus := eventlog.NewBus()
		indexWorker.Register(ws, ix)
		hb.ObserveWorkspace(ctx, ws, ix, wsBus)
		rec.ObserveWorkspace(ws, ix, wsBus)
		indexWorker.Notify(root)
		logger.Info("observing configured workspace", "root", root)
	}

	errCh := make(chan error, 1)
	bind := strings.TrimSpace(cfg.RPC.Bind)
	if bind == "" {
		logger.Info("agentco running", "transport", "stdio")
		go func() {
			errCh <- srv.ServeConn(ctx, stdioConn{})
		}()
	} else {
		network := "tcp"
		if strings.HasPrefix(bind, "/") || strings.HasPrefix(bind, "@") {
			network = "unix"
		}
		ln, err := net.Listen(network, bind)
		if err != nil {
			logger.Error("failed to listen", "network", network, "bind", bind, "error", err)
			os.Exit(1)
		}
		logger.Info("agentco running", "transport", network, "bind", bind)
		go func() {
			errCh <- srv.Serve(ctx, ln)
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		shutdownStart := time.Now()
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
		logger.Info("agentco stopped", "shutdown_duration", time.Since(shutdownStart).String())
	case err := <-errCh:
		if err != nil {
			logger.Error("server exited with error", "error", err)
		}
		cancel()
	}
}

// stdioConn adapts os.Stdin/os.Stdout to the io.ReadWriteCloser ServeConn
// expects. Close only closes stdin, so EOF on input ends the connection
// without severing the process's own stdout.
type stdioConn struct{}

func (stdioConn) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdioConn) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdioConn) Close() error                { return os.Stdin.Close() }
