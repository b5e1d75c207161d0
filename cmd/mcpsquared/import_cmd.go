package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// externalServerEntry is the de-facto "mcpServers" config shape shared by
// Claude Desktop, Cursor, and most other MCP clients: a stdio server has
// command/args/env, an HTTP server has url/headers. import reads this
// shape from a third-party config file and merges each entry into this
// broker's own [upstreams] table, since the spec leaves import's exact
// options unelaborated beyond "per their respective specs" and this is
// the one config shape the wider MCP ecosystem actually uses.
type externalServerEntry struct {
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

type externalConfigFile struct {
	MCPServers map[string]externalServerEntry `json:"mcpServers"`
}

func newImportCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "import <mcpServers.json>",
		Short: "merge upstream definitions from another MCP client's config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(flags, args[0])
		},
	}
}

func runImport(flags *globalFlags, externalPath string) error {
	raw, err := os.ReadFile(externalPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", externalPath, err)
	}
	var external externalConfigFile
	if err := json.Unmarshal(raw, &external); err != nil {
		return fmt.Errorf("parse %s as mcpServers JSON: %w", externalPath, err)
	}
	if len(external.MCPServers) == 0 {
		return fmt.Errorf("%s has no mcpServers entries", externalPath)
	}

	path, doc, err := loadUpstreamsDocument(flags)
	if err != nil {
		return err
	}

	added, skipped := 0, 0
	for name, entry := range external.MCPServers {
		if _, exists := doc.Upstreams[name]; exists && !flags.force {
			fmt.Printf("skip %s: already configured (pass --force to overwrite)\n", name)
			skipped++
			continue
		}
		u, err := convertExternalEntry(entry)
		if err != nil {
			fmt.Printf("skip %s: %v\n", name, err)
			skipped++
			continue
		}
		doc.Upstreams[name] = u
		added++
	}

	data, err := toml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("render merged config: %w", err)
	}

	if flags.dryRun {
		fmt.Printf("# would write %s (%d added, %d skipped)\n%s", path, added, skipped, data)
		return nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("Imported %d upstream(s) into %s (%d skipped)\n", added, path, skipped)
	return nil
}

func convertExternalEntry(entry externalServerEntry) (upstreamDocument, error) {
	switch {
	case entry.Command != "":
		return upstreamDocument{
			Transport: "stdio",
			Enabled:   true,
			Command:   entry.Command,
			Args:      entry.Args,
			Env:       entry.Env,
		}, nil
	case entry.URL != "":
		return upstreamDocument{
			Transport: "http",
			Enabled:   true,
			URL:       entry.URL,
			Headers:   entry.Headers,
		}, nil
	default:
		return upstreamDocument{}, fmt.Errorf("entry has neither command nor url")
	}
}
