package main

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// configDocument and upstreamDocument mirror the TOML shape
// appconfig.decode reads, but with toml struct tags so import/install can
// read-modify-write the file directly without losing sections
// appconfig.Config doesn't model verbatim (viper's decode path is
// read-only by design; round-tripping needs its own typed document).
type configDocument struct {
	SchemaVersion int                         `toml:"schemaVersion"`
	Upstreams     map[string]upstreamDocument `toml:"upstreams"`
	Security      securityDocument            `toml:"security"`
}

type upstreamDocument struct {
	Label     string            `toml:"label,omitempty"`
	Enabled   bool              `toml:"enabled"`
	Transport string            `toml:"transport"`
	Command   string            `toml:"command,omitempty"`
	Args      []string          `toml:"args,omitempty"`
	Cwd       string            `toml:"cwd,omitempty"`
	Env       map[string]string `toml:"env,omitempty"`
	URL       string            `toml:"url,omitempty"`
	Headers   map[string]string `toml:"headers,omitempty"`
}

type securityDocument struct {
	Tools toolsDocument `toml:"tools"`
}

type toolsDocument struct {
	Allow   []string `toml:"allow,omitempty"`
	Block   []string `toml:"block,omitempty"`
	Confirm []string `toml:"confirm,omitempty"`
}

// loadUpstreamsDocument reads the project's config file as a raw TOML
// document for import to merge into, or starts a fresh one at the
// conventional project path if none exists yet.
func loadUpstreamsDocument(flags *globalFlags) (string, *configDocument, error) {
	path, err := resolveConfigPath(flags)
	if err != nil {
		dir := "."
		if flags.project != "" {
			dir = flags.project
		}
		path = filepath.Join(dir, "mcp-squared.toml")
		return path, &configDocument{Upstreams: map[string]upstreamDocument{}}, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return "", nil, err
	}
	var doc configDocument
	if err := toml.Unmarshal(raw, &doc); err != nil {
		return "", nil, err
	}
	if doc.Upstreams == nil {
		doc.Upstreams = map[string]upstreamDocument{}
	}
	return path, &doc, nil
}
