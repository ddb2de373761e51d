package session

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

const defaultSessionImage = "agentco-session:latest"

// DockerBackend runs a session inside a short-lived container, binding
// the run's worktree (or work dir) as /workspace. One container per
// session; logs are streamed via ContainerLogs(Follow:true), demuxed, and
// written to the host-side StdoutPath/StderrPath files as they arrive.
type DockerBackend struct {
	cli *client.Client

	mu     sync.Mutex
	names  map[string]string // containerID -> container name, for Cleanup
}

func NewDockerBackend() (*DockerBackend, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker backend: initialize client: %w", err)
	}
	return &DockerBackend{cli: cli, names: make(map[string]string)}, nil
}

func (b *DockerBackend) Name() string { return "docker" }

func (b *DockerBackend) Launch(ctx context.Context, opts LaunchOpts) (Handle, error) {
	if len(opts.Argv) == 0 {
		return Handle{}, fmt.Errorf("docker backend: argv is required")
	}
	image := opts.Image
	if strings.TrimSpace(image) == "" {
		image = defaultSessionImage
	}

	name := fmt.Sprintf("agentco-session-%d", time.Now().UnixNano())

	env := make([]string, 0, len(opts.Env))
	for k, v := range opts.Env {
		env = append(env, k+"="+v)
	}

	cfg := &container.Config{
		Image:      image,
		Cmd:        opts.Argv,
		Tty:        false,
		WorkingDir: "/workspace",
		Env:        env,
		OpenStdin:  opts.StdinText != "",
		StdinOnce:  true,
	}
	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: opts.WorkDir, Target: "/workspace"},
		},
		AutoRemove: false,
	}

	resp, err := b.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return Handle{}, fmt.Errorf("docker backend: create container: %w", err)
	}

	if opts.StdinText != "" {
		attach, err := b.cli.ContainerAttach(ctx, resp.ID, container.AttachOptions{Stream: true, Stdin: true})
		if err != nil {
			return Handle{}, fmt.Errorf("docker backend: attach stdin: %w", err)
		}
		go func() {
			defer attach.Close()
			io.Copy(attach.Conn, strings.NewReader(opts.StdinText))
		}()
	}

	if err := b.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return Handle{}, fmt.Errorf("docker backend: start container: %w", err)
	}

	b.mu.Lock()
	b.names[resp.ID] = name
	b.mu.Unlock()

	go b.streamLogs(resp.ID, opts)

	return Handle{Backend: b.Name(), ContainerID: resp.ID}, nil
}

func (b *DockerBackend) streamLogs(containerID string, opts LaunchOpts) {
	ctx := context.Background()
	logs, err := b.cli.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true, Follow: true})
	if err != nil {
		return
	}
	defer logs.Close()

	stdoutFile, err := os.OpenFile(opts.StdoutPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return
	}
	defer stdoutFile.Close()
	stderrFile, err := os.OpenFile(opts.StderrPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return
	}
	defer stderrFile.Close()

	stdoutW := teeWriter{file: stdoutFile, stream: "stdout", onChunk: opts.OnChunk}
	stderrW := teeWriter{file: stderrFile, stream: "stderr", onChunk: opts.OnChunk}
	_, _ = stdcopy.StdCopy(stdoutW, stderrW, logs)
}

func (b *DockerBackend) Status(h Handle) (Status, error) {
	if h.ContainerID == "" {
		return Status{State: StateUnknown, ExitCode: -1}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	inspect, err := b.cli.ContainerInspect(ctx, h.ContainerID)
	if err != nil {
		return Status{State: StateUnknown, ExitCode: -1}, nil
	}
	if inspect.State.Running {
		return Status{State: StateRunning, ExitCode: -1}, nil
	}
	if inspect.State.ExitCode == 0 {
		return Status{State: StateCompleted, ExitCode: 0}, nil
	}
	return Status{State: StateFailed, ExitCode: inspect.State.ExitCode}, nil
}

func (b *DockerBackend) Kill(h Handle) error {
	if h.ContainerID == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	timeout := 5
	return b.cli.ContainerStop(ctx, h.ContainerID, container.StopOptions{Timeout: &timeout})
}

func (b *DockerBackend) Cleanup(h Handle) error {
	if h.ContainerID == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := b.cli.ContainerRemove(ctx, h.ContainerID, container.RemoveOptions{Force: true, RemoveVolumes: true})
	b.mu.Lock()
	delete(b.names, h.ContainerID)
	b.mu.Unlock()
	return err
}
