// Package proxy implements the Proxy (spec section 4.8): a one-process
// stdio<->Daemon bridge. It reads MCP frames from stdin, wraps them as
// Daemon IPC `{type:mcp}` frames, forwards them to a running daemon, and
// writes the daemon's session frames back to stdout unwrapped. If no
// daemon is reachable and auto-spawn is enabled, it forks one detached
// and waits for it to register in the instance registry.
//
// Grounded on alexandrem-coral's own subprocess-management idiom
// (tests/helpers/process.go's exec.Command + SysProcAttr process-group
// isolation), generalized from a test-harness-managed foreground child to
// a detached, session-leader background daemon via Setsid.
package proxy

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os/exec"
	"syscall"
	"time"

	"github.com/aditzel/mcp-squared/internal/instancedir"
	"github.com/aditzel/mcp-squared/internal/ipcframe"
)

// Options configures how the Proxy locates or spawns a daemon.
type Options struct {
	Registry *instancedir.Registry

	// AutoSpawn enables forking a detached daemon when none is found.
	AutoSpawn bool
	// SpawnCommand is the argv used to start a daemon (e.g.
	// {"/path/to/mcpsquared", "daemon"}).
	SpawnCommand []string

	SpawnWaitTimeout time.Duration
	DaemonSecret     string
}

func (o *Options) applyDefaults() {
	if o.SpawnWaitTimeout <= 0 {
		o.SpawnWaitTimeout = 10 * time.Second
	}
}

// Run locates (or spawns) a daemon, dials it, completes the hello
// handshake, and bridges stdin/stdout until stdin closes or the daemon
// closes the session. It blocks for the life of the bridge.
func Run(ctx context.Context, opts Options, stdin io.Reader, stdout io.Writer) error {
	opts.applyDefaults()

	inst, ok, err := opts.Registry.Find(true)
	if err != nil {
		return fmt.Errorf("proxy: find daemon: %w", err)
	}
	if !ok {
		if !opts.AutoSpawn {
			return fmt.Errorf("proxy: no daemon running and auto-spawn disabled")
		}
		inst, err = spawnDaemon(ctx, opts)
		if err != nil {
			return fmt.Errorf("proxy: spawn daemon: %w", err)
		}
	}

	conn, err := dialInstance(inst)
	if err != nil {
		return fmt.Errorf("proxy: dial daemon socket %s: %w", inst.SocketPath, err)
	}
	defer conn.Close()

	reader := ipcframe.NewReader(conn)
	writer := ipcframe.NewWriter(conn)

	if err := writer.WriteFrame(ipcframe.Frame{Type: ipcframe.TypeHello, Protocol: 1, Token: opts.DaemonSecret}); err != nil {
		return fmt.Errorf("proxy: send hello: %w", err)
	}
	welcome, err := reader.ReadFrame()
	if err != nil {
		return fmt.Errorf("proxy: read welcome: %w", err)
	}
	if welcome.Type == ipcframe.TypeError {
		return fmt.Errorf("proxy: daemon rejected hello: %s", welcome.Reason)
	}

	return bridge(ctx, stdin, stdout, reader, writer)
}

// bridge copies stdin lines into the daemon as {type:mcp} frames and
// daemon session frames' payloads back to stdout verbatim, per spec
// section 4.8's "unwrapped" contract.
func bridge(ctx context.Context, stdin io.Reader, stdout io.Writer, reader *ipcframe.Reader, writer *ipcframe.Writer) error {
	errCh := make(chan error, 2)

	go func() {
		scanner := bufio.NewScanner(stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), ipcframe.MaxFrameBytes)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			if err := writer.WriteFrame(ipcframe.Frame{Type: ipcframe.TypeMCP, Payload: append([]byte{}, line...)}); err != nil {
				errCh <- err
				return
			}
		}
		errCh <- scanner.Err()
	}()

	go func() {
		for {
			frame, err := reader.ReadFrame()
			if err != nil {
				errCh <- err
				return
			}
			switch frame.Type {
			case ipcframe.TypeMCP:
				if _, err := stdout.Write(append(frame.Payload, '\n')); err != nil {
					errCh <- err
					return
				}
			case ipcframe.TypePing:
				_ = writer.WriteFrame(ipcframe.Frame{Type: ipcframe.TypePong})
			case ipcframe.TypeShutdown:
				errCh <- io.EOF
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if err == io.EOF {
			return nil
		}
		return err
	}
}

func dialInstance(inst instancedir.Instance) (net.Conn, error) {
	if len(inst.SocketPath) > 6 && inst.SocketPath[:6] == "tcp://" {
		return net.Dial("tcp", inst.SocketPath[6:])
	}
	return net.Dial("unix", inst.SocketPath)
}

// spawnDaemon forks opts.SpawnCommand as a detached, session-leading
// child so it survives this process exiting, then polls the instance
// registry (bounded by SpawnWaitTimeout) for it to register.
func spawnDaemon(ctx context.Context, opts Options) (instancedir.Instance, error) {
	if len(opts.SpawnCommand) == 0 {
		return instancedir.Instance{}, fmt.Errorf("no spawn command configured")
	}

	cmd := exec.Command(opts.SpawnCommand[0], opts.SpawnCommand[1:]...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return instancedir.Instance{}, fmt.Errorf("start daemon process: %w", err)
	}
	// Detach: don't block on the child, but reap it in the background so it
	// doesn't zombie once it exits on its own (it outlives this process's
	// normal life).
	go func() { _ = cmd.Wait() }()

	deadline := time.Now().Add(opts.SpawnWaitTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return instancedir.Instance{}, ctx.Err()
		default:
		}
		if inst, ok, err := opts.Registry.Find(false); err == nil && ok {
			return inst, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return instancedir.Instance{}, fmt.Errorf("timed out waiting for spawned daemon to register")
}
