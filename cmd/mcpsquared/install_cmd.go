package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// newInstallCmd registers mcp-squared itself as an entry in another MCP
// client's mcpServers config (the inverse of import): the client spawns
// `mcpsquared proxy`, which bridges to a running (or auto-spawned) daemon.
func newInstallCmd(flags *globalFlags) *cobra.Command {
	var clientConfigPath string

	cmd := &cobra.Command{
		Use:   "install",
		Short: "register mcp-squared in another MCP client's config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstall(flags, clientConfigPath)
		},
	}
	cmd.Flags().StringVar(&clientConfigPath, "client-config", "", "path to the target client's mcpServers JSON config (required)")
	_ = cmd.MarkFlagRequired("client-config")
	return cmd
}

func runInstall(flags *globalFlags, clientConfigPath string) error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve own executable path: %w", err)
	}

	var doc externalConfigFile
	raw, err := os.ReadFile(clientConfigPath)
	switch {
	case err == nil:
		if jsonErr := json.Unmarshal(raw, &doc); jsonErr != nil {
			return fmt.Errorf("parse %s: %w", clientConfigPath, jsonErr)
		}
	case os.IsNotExist(err):
		// Fresh client config; install creates it.
	default:
		return fmt.Errorf("read %s: %w", clientConfigPath, err)
	}
	if doc.MCPServers == nil {
		doc.MCPServers = map[string]externalServerEntry{}
	}

	const name = "mcp-squared"
	if _, exists := doc.MCPServers[name]; exists && !flags.force {
		return fmt.Errorf("%s already has an %q entry; pass --force to overwrite", clientConfigPath, name)
	}

	entry := externalServerEntry{Command: self, Args: []string{"proxy"}}
	if flags.instance != "" {
		entry.Args = append(entry.Args, "--instance", flags.instance)
	}
	doc.MCPServers[name] = entry

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("render client config: %w", err)
	}

	if flags.dryRun {
		fmt.Printf("# would write %s\n%s\n", clientConfigPath, out)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(clientConfigPath), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(clientConfigPath), err)
	}
	if err := os.WriteFile(clientConfigPath, out, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", clientConfigPath, err)
	}
	fmt.Printf("Registered mcp-squared in %s\n", clientConfigPath)
	return nil
}
