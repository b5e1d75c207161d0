// Package main implements the mcp-squared CLI: a meta-broker for the
// Model Context Protocol that connects to many upstream MCP tool-servers
// and exposes a unified, searchable tool catalog through five meta-tools.
//
// Grounded on alexandrem-coral's cmd/coral-agent/main.go root-cobra-command
// shape (flat subcommand registration, SilenceUsage/SilenceErrors, a
// dedicated version command) generalized from coral's agent/colony/duckdb
// command groups to this broker's server/daemon/proxy/monitor/config
// surface (spec section 6).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is overridden at build time via -ldflags, following the same
// pattern alexandrem-coral's pkg/version uses.
var version = "dev"

// globalFlags holds the CLI-wide flags shared by every subcommand (spec
// section 6). Subcommands read from the single instance built in main.
type globalFlags struct {
	verbose        bool
	dryRun         bool
	noInteractive  bool
	security       string // "hardened" or "permissive"
	project        string
	force           bool
	instance       string
	socket         string
	daemonSocket   string
	daemonSecret   string
	noDaemonSpawn  bool
	refreshInterval string
	noAutoRefresh  bool
}

func main() {
	flags := &globalFlags{}
	root := newRootCmd(flags)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(flags *globalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:           "mcpsquared",
		Short:         "mcp-squared: a meta-broker for the Model Context Protocol",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	pf := root.PersistentFlags()
	pf.BoolVarP(&flags.verbose, "verbose", "V", false, "increase log verbosity")
	pf.BoolVar(&flags.dryRun, "dry-run", false, "describe actions without performing them")
	pf.BoolVar(&flags.noInteractive, "no-interactive", false, "fail rather than prompt or open a browser")
	pf.StringVar(&flags.security, "security", "", "override policy mode: hardened or permissive")
	pf.StringVar(&flags.project, "project", "", "project directory (defaults to the working directory)")
	pf.BoolVar(&flags.force, "force", false, "overwrite existing files without prompting")
	pf.StringVar(&flags.instance, "instance", "", "instance id to target (defaults to the first live one)")
	pf.StringVar(&flags.socket, "socket", "", "monitor socket path or tcp://host:port for the monitor subcommand to dial")
	pf.StringVar(&flags.daemonSocket, "daemon-socket", "", "daemon listener socket path or tcp://host:port")
	pf.StringVar(&flags.daemonSecret, "daemon-secret", "", "shared secret the daemon requires in its hello frame")
	pf.BoolVar(&flags.noDaemonSpawn, "no-daemon-spawn", false, "never auto-spawn a daemon from the proxy")
	pf.StringVar(&flags.refreshInterval, "refresh-interval", "", "override operations.index.refreshIntervalMs (e.g. 30s)")
	pf.BoolVar(&flags.noAutoRefresh, "no-auto-refresh", false, "disable the periodic upstream refresher")

	root.AddCommand(
		newServerCmd(flags),
		newConfigCmd(flags),
		newTestCmd(flags),
		newAuthCmd(flags),
		newImportCmd(flags),
		newInitCmd(flags),
		newInstallCmd(flags),
		newMonitorCmd(flags),
		newDaemonCmd(flags),
		newProxyCmd(flags),
	)

	return root
}
