package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/aditzel/mcp-squared/internal/proxy"
)

// newProxyCmd wires the stdio<->Daemon bridge (spec section 4.8): it
// reads MCP frames from stdin, forwards them to a running daemon over
// Daemon IPC, and writes the daemon's replies back to stdout unwrapped.
// If no daemon is reachable it auto-spawns one via the same binary's
// `daemon` subcommand, unless --no-daemon-spawn is set.
func newProxyCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "proxy",
		Short: "bridge stdin/stdout MCP traffic to a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProxy(cmd.Context(), flags)
		},
	}
}

func runProxy(ctx context.Context, flags *globalFlags) error {
	reg, err := openInstanceRegistry()
	if err != nil {
		return err
	}

	self, err := os.Executable()
	if err != nil {
		self = filepath.Base(os.Args[0])
	}

	opts := proxy.Options{
		Registry:         reg,
		AutoSpawn:        !flags.noDaemonSpawn,
		SpawnCommand:     []string{self, "daemon"},
		SpawnWaitTimeout: 10 * time.Second,
		DaemonSecret:     flags.daemonSecret,
	}

	if err := proxy.Run(ctx, opts, os.Stdin, os.Stdout); err != nil {
		return fmt.Errorf("proxy: %w", err)
	}
	return nil
}
