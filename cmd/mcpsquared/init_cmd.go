package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/aditzel/mcp-squared/internal/appconfig"
)

// initTemplate is the on-disk shape init writes: close to appconfig.Config
// but with explicit TOML map/slice literals so an empty upstreams table
// and security block still round-trip as `[upstreams]` / `[security.tools]`
// rather than being omitted.
type initTemplate struct {
	SchemaVersion int                             `toml:"schemaVersion"`
	Upstreams     map[string]initUpstreamTemplate `toml:"upstreams"`
	Security      initSecurityTemplate            `toml:"security"`
	Operations    initOperationsTemplate          `toml:"operations"`
}

type initUpstreamTemplate struct{}

type initSecurityTemplate struct {
	Tools initToolsTemplate `toml:"tools"`
}

type initToolsTemplate struct {
	Allow   []string `toml:"allow"`
	Block   []string `toml:"block"`
	Confirm []string `toml:"confirm"`
}

type initOperationsTemplate struct {
	FindTools      initFindToolsTemplate      `toml:"findTools"`
	Index          initIndexTemplate          `toml:"index"`
	Logging        initLoggingTemplate        `toml:"logging"`
	SelectionCache initSelectionCacheTemplate `toml:"selectionCache"`
}

type initFindToolsTemplate struct {
	DefaultLimit       int    `toml:"defaultLimit"`
	MaxLimit           int    `toml:"maxLimit"`
	DefaultMode        string `toml:"defaultMode"`
	DefaultDetailLevel string `toml:"defaultDetailLevel"`
}

type initIndexTemplate struct {
	RefreshIntervalMs int `toml:"refreshIntervalMs"`
}

type initLoggingTemplate struct {
	Level string `toml:"level"`
}

type initSelectionCacheTemplate struct {
	Enabled                  bool `toml:"enabled"`
	MinCooccurrenceThreshold int  `toml:"minCooccurrenceThreshold"`
	MaxBundleSuggestions     int  `toml:"maxBundleSuggestions"`
}

// newInitCmd scaffolds a new project-local mcp-squared.toml with the
// security, findTools, index, logging, and selectionCache defaults from
// appconfig.Config.ApplyDefaults spelled out explicitly, so a user editing
// the file sees those knobs rather than an empty skeleton. The
// operations.describeTools.summarize section is not written.
func newInitCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "scaffold a new mcp-squared.toml in the project directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(flags)
		},
	}
}

func runInit(flags *globalFlags) error {
	dir := "."
	if flags.project != "" {
		dir = flags.project
	}
	path := filepath.Join(dir, "mcp-squared.toml")

	if _, err := os.Stat(path); err == nil && !flags.force {
		return fmt.Errorf("%s already exists; pass --force to overwrite", path)
	}

	tmpl := initTemplate{
		SchemaVersion: appconfig.CurrentSchemaVersion,
		Upstreams:     map[string]initUpstreamTemplate{},
		Security: initSecurityTemplate{
			Tools: initToolsTemplate{Confirm: []string{"*:*"}},
		},
		Operations: initOperationsTemplate{
			FindTools: initFindToolsTemplate{
				DefaultLimit:       10,
				MaxLimit:           50,
				DefaultMode:        "fast",
				DefaultDetailLevel: "L1",
			},
			Index:   initIndexTemplate{RefreshIntervalMs: 30000},
			Logging: initLoggingTemplate{Level: "info"},
			SelectionCache: initSelectionCacheTemplate{
				Enabled:              true,
				MaxBundleSuggestions: 3,
			},
		},
	}

	data, err := toml.Marshal(tmpl)
	if err != nil {
		return fmt.Errorf("render config template: %w", err)
	}

	if flags.dryRun {
		fmt.Printf("# would write %s\n%s", path, data)
		return nil
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("Wrote %s\n", path)
	fmt.Println("Next steps:")
	fmt.Println("  Add an [upstreams.<key>] table for each MCP server to broker.")
	fmt.Println("  Run `mcpsquared test` to verify connectivity.")
	fmt.Println("  Run `mcpsquared server` to start the broker.")
	return nil
}
