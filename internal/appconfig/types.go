// Package appconfig holds the broker's configuration model and loading
// logic: the TOML schema from spec section 6, discovery order, stepwise
// schema migration, and the viper + fsnotify hot-reload loop the teacher's
// cmd/mcp-broker-router/main.go drives for its own server list.
package appconfig

import "time"

// CurrentSchemaVersion is the schema version this build understands.
const CurrentSchemaVersion = 1

// Transport discriminates the two UpstreamConfig variants.
type Transport string

// Transport variants.
const (
	TransportStdio Transport = "stdio"
	TransportHTTP  Transport = "http"
)

// AuthOption is the streaming-HTTP upstream's optional authentication
// block. In TOML it may be written as a bare boolean (`auth = true`) or as
// a table (`[upstreams.foo.auth]` with callbackPort/clientName); decodeAuth
// handles both forms.
type AuthOption struct {
	Enabled      bool
	CallbackPort int
	ClientName   string
}

// UpstreamConfig is a tagged record describing one upstream MCP server.
// Exactly one of the stdio or http field groups is populated, selected by
// Transport.
type UpstreamConfig struct {
	Key     string // map key under [upstreams]; also the upstreamKey used everywhere else
	Label   string
	Enabled bool

	Transport Transport

	// stdio variant
	Command string
	Args    []string
	Cwd     string
	Env     map[string]string

	// http variant
	URL     string
	Headers map[string]string
	Auth    *AuthOption
}

// ResolveEnv expands $NAME/${NAME} references in Env values using lookup.
// A reference that lookup cannot resolve is left in the value verbatim. It
// returns the expanded map and the names of any references it could not
// resolve.
func (u *UpstreamConfig) ResolveEnv(lookup func(string) (string, bool)) (map[string]string, []string) {
	resolved := make(map[string]string, len(u.Env))
	var unresolved []string
	for k, v := range u.Env {
		expanded, missing := expandEnvRefs(v, lookup)
		resolved[k] = expanded
		unresolved = append(unresolved, missing...)
	}
	return resolved, unresolved
}

// FindToolsConfig holds operations.findTools defaults.
type FindToolsConfig struct {
	DefaultLimit      int
	MaxLimit          int
	DefaultMode       string
	DefaultDetailLevel string
}

// IndexConfig holds operations.index settings.
type IndexConfig struct {
	RefreshIntervalMs int
}

// LoggingConfig holds operations.logging settings.
type LoggingConfig struct {
	Level string
}

// SelectionCacheConfig holds operations.selectionCache settings.
type SelectionCacheConfig struct {
	Enabled                 bool
	MinCooccurrenceThreshold int
	MaxBundleSuggestions    int
}

// SecurityConfig holds security.tools.{allow,block,confirm}.
type SecurityConfig struct {
	Allow   []string
	Block   []string
	Confirm []string
}

// SummarizeConfig holds operations.describeTools.summarize settings: an
// optional LLM pass over describe_tools' full-detail results that turns a
// terse upstream description into an operator-facing explanation.
type SummarizeConfig struct {
	Enabled  bool
	Provider string
	Model    string
}

// OperationsConfig holds the `operations` root section.
type OperationsConfig struct {
	FindTools      FindToolsConfig
	Index          IndexConfig
	Logging        LoggingConfig
	SelectionCache SelectionCacheConfig
	Summarize      SummarizeConfig
}

// Config is the fully decoded and defaulted root configuration object.
type Config struct {
	SchemaVersion int
	Upstreams     map[string]*UpstreamConfig
	Security      SecurityConfig
	Operations    OperationsConfig

	// loadedFrom records the path the config was read from, for diagnostics.
	loadedFrom string
}

// LoadedFrom returns the file path this config was most recently loaded
// from, or "" if it was built programmatically.
func (c *Config) LoadedFrom() string { return c.loadedFrom }

// RefreshInterval returns operations.index.refreshIntervalMs as a
// time.Duration, defaulting to 30s per spec section 4.4.
func (c *Config) RefreshInterval() time.Duration {
	if c.Operations.Index.RefreshIntervalMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Operations.Index.RefreshIntervalMs) * time.Millisecond
}

// ApplyDefaults fills in every zero-valued field with the spec's defaults.
// It is idempotent, so re-applying it to an already-defaulted config is a
// no-op; this backs the "save/reload yields a structurally equal object"
// round-trip property from spec section 8.
func (c *Config) ApplyDefaults() {
	if c.SchemaVersion == 0 {
		c.SchemaVersion = CurrentSchemaVersion
	}
	if c.Upstreams == nil {
		c.Upstreams = map[string]*UpstreamConfig{}
	}
	if c.Operations.FindTools.DefaultLimit == 0 {
		c.Operations.FindTools.DefaultLimit = 10
	}
	if c.Operations.FindTools.MaxLimit == 0 {
		c.Operations.FindTools.MaxLimit = 50
	}
	if c.Operations.FindTools.DefaultMode == "" {
		c.Operations.FindTools.DefaultMode = "fast"
	}
	if c.Operations.FindTools.DefaultDetailLevel == "" {
		c.Operations.FindTools.DefaultDetailLevel = "L1"
	}
	if c.Operations.Index.RefreshIntervalMs == 0 {
		c.Operations.Index.RefreshIntervalMs = 30000
	}
	if c.Operations.Summarize.Provider == "" {
		c.Operations.Summarize.Provider = "openai"
	}
	if c.Operations.Summarize.Model == "" {
		c.Operations.Summarize.Model = "gpt-4o-mini"
	}
	if c.Operations.Logging.Level == "" {
		c.Operations.Logging.Level = "info"
	}
	if c.Operations.SelectionCache.MaxBundleSuggestions == 0 {
		c.Operations.SelectionCache.MaxBundleSuggestions = 3
	}

	// Hardened defaults: no explicit security section configured at all
	// means allow=[], block=[], confirm=["*:*"].
	if len(c.Security.Allow) == 0 && len(c.Security.Block) == 0 && len(c.Security.Confirm) == 0 {
		c.Security.Confirm = []string{"*:*"}
	}
}

// Permissive overwrites the security section with the permissive default:
// allow=["*:*"], block=[], confirm=[].
func (c *Config) Permissive() {
	c.Security.Allow = []string{"*:*"}
	c.Security.Block = nil
	c.Security.Confirm = nil
}
