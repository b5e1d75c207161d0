package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/aditzel/mcp-squared/internal/daemon"
	"github.com/aditzel/mcp-squared/internal/instancedir"
	"github.com/aditzel/mcp-squared/internal/monitor"
	"github.com/aditzel/mcp-squared/internal/session"
)

func newDaemonCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "run the Daemon IPC listener and Monitor Service in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBrokerDaemon(cmd.Context(), flags, "daemon")
		},
	}
}

// newServerCmd is the default subcommand: either the long-running
// Daemon+Monitor process (equivalent to `daemon`, registered under the
// "server" label for instance-registry listings) or, with --stdio, a
// single embedded session bridged directly over stdin/stdout with no
// Daemon IPC layer at all — for MCP clients that spawn their server
// directly rather than through the proxy.
func newServerCmd(flags *globalFlags) *cobra.Command {
	var stdio bool
	cmd := &cobra.Command{
		Use:   "server",
		Short: "run the broker (default subcommand)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if stdio {
				return runStdioServer(cmd.Context(), flags)
			}
			return runBrokerDaemon(cmd.Context(), flags, "server")
		},
	}
	cmd.Flags().BoolVar(&stdio, "stdio", false, "bridge a single MCP session directly over stdin/stdout")
	return cmd
}

// runStdioServer builds the shared stack and speaks MCP directly over
// stdin/stdout for exactly one session, with no Daemon IPC framing.
func runStdioServer(ctx context.Context, flags *globalFlags) error {
	logger := newLogger(flags)
	stack, err := buildStack(ctx, flags, logger)
	if err != nil {
		return err
	}
	defer stack.Close()

	go runRefresher(ctx, stack, flags)

	return session.ServeStdio(ctx, stack.session, os.Stdin, os.Stdout)
}

// runBrokerDaemon starts the Daemon IPC listener and the Monitor Service
// side by side, registers the process in the instance registry, and
// blocks until an interrupt signal or either listener fails. label
// distinguishes a foreground `server` invocation from a `daemon`
// invocation spawned detached by the proxy's auto-spawn path; both share
// identical behavior otherwise.
func runBrokerDaemon(ctx context.Context, flags *globalFlags, label string) error {
	logger := newLogger(flags)
	stack, err := buildStack(ctx, flags, logger)
	if err != nil {
		return err
	}
	defer stack.Close()

	go runRefresher(ctx, stack, flags)

	dir, err := dataDir()
	if err != nil {
		return err
	}

	daemonNetwork, daemonSocket := resolveSocket(flags.daemonSocket, filepath.Join(dir, "daemon.sock"))
	monitorNetwork, monitorSocket := resolveSocket("", filepath.Join(dir, "monitor.sock"))

	d := daemon.New(daemon.Options{
		Network:    daemonNetwork,
		SocketPath: daemonSocket,
		Secret:     flags.daemonSecret,
	}, func() *session.Server {
		return session.NewServer(stack.retriever, session.RegistryAdapter{Registry: stack.upstreams}, stack.engine, stack.cfg, logger)
	}, logger)
	if err := d.Listen(); err != nil {
		return fmt.Errorf("daemon listen: %w", err)
	}

	mon := monitor.New(monitor.Options{
		Network:    monitorNetwork,
		SocketPath: monitorSocket,
		Counters:   stack.counters,
		Upstreams:  stack.upstreams,
		ListClients: func() []daemon.ClientInfo {
			return d.Clients()
		},
		IndexToolCount: func(ctx context.Context) (int, error) {
			return stack.store.GetToolCount(ctx)
		},
	}, logger)
	if err := mon.Listen(); err != nil {
		return fmt.Errorf("monitor listen: %w", err)
	}

	reg, err := openInstanceRegistry()
	if err != nil {
		return err
	}
	instID := uuid.NewString()
	inst := instancedir.Instance{
		ID:                instID,
		PID:               os.Getpid(),
		SocketPath:        daemonSocket,
		StartedAt:         time.Now(),
		ConfigPath:        stack.cfg.LoadedFrom(),
		Label:             label,
		MonitorSocketPath: monitorSocket,
	}
	if err := reg.Register(inst); err != nil {
		return fmt.Errorf("register instance: %w", err)
	}
	defer reg.Unregister(instID)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- d.Serve(runCtx) }()
	go func() { errCh <- mon.Serve(runCtx) }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	logger.Info("mcp-squared daemon listening", "daemonSocket", daemonSocket, "monitorSocket", monitorSocket)

	select {
	case <-stop:
		logger.Info("shutting down on signal")
	case err := <-errCh:
		if err != nil {
			logger.Error("listener exited with error", "error", err)
		}
	}

	cancel()
	d.Shutdown("server shutting down")
	return nil
}

func runRefresher(ctx context.Context, stack *appStack, flags *globalFlags) {
	if flags.noAutoRefresh {
		return
	}
	interval := stack.cfg.RefreshInterval()
	stack.upstreams.Run(ctx, interval)
}

// resolveSocket splits an override socket spec (empty string means use
// fallback) into a net.Listen-compatible (network, address) pair,
// recognizing the tcp://host:port form from spec section 6.
func resolveSocket(override, fallback string) (network, address string) {
	spec := override
	if spec == "" {
		spec = fallback
	}
	if strings.HasPrefix(spec, "tcp://") {
		return "tcp", strings.TrimPrefix(spec, "tcp://")
	}
	return "unix", spec
}
