package appconfig

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/aditzel/mcp-squared/internal/mcperr"
)

// Load reads the TOML config at path through viper, migrates it to the
// current schema version, validates it, and applies defaults. It mirrors
// the teacher's own LoadConfig (viper.SetConfigFile + viper.ReadInConfig +
// viper.UnmarshalKey), generalized from a single `servers` key to the
// full mcp-squared schema.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return nil, mcperr.Wrap(mcperr.CodeConfigNotFound, "config file not found: "+path, err)
		}
		return nil, mcperr.Wrap(mcperr.CodeConfigParse, "failed to parse config: "+path, err)
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	cfg.loadedFrom = path

	if err := Migrate(cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		SchemaVersion: v.GetInt("schemaVersion"),
		Upstreams:     map[string]*UpstreamConfig{},
	}

	rawUpstreams := v.GetStringMap("upstreams")
	for key, raw := range rawUpstreams {
		rawMap, ok := raw.(map[string]interface{})
		if !ok {
			// viper lower-cases nested map keys inconsistently across
			// providers; fall back to a fresh sub-viper for this key.
			rawMap = v.Sub("upstreams." + key).AllSettings()
		}
		u, err := decodeUpstream(key, rawMap)
		if err != nil {
			return nil, mcperr.Wrap(mcperr.CodeConfigValidation, "invalid upstream "+key, err)
		}
		cfg.Upstreams[key] = u
	}

	cfg.Security = SecurityConfig{
		Allow:   v.GetStringSlice("security.tools.allow"),
		Block:   v.GetStringSlice("security.tools.block"),
		Confirm: v.GetStringSlice("security.tools.confirm"),
	}

	cfg.Operations = OperationsConfig{
		FindTools: FindToolsConfig{
			DefaultLimit:       v.GetInt("operations.findTools.defaultLimit"),
			MaxLimit:           v.GetInt("operations.findTools.maxLimit"),
			DefaultMode:        v.GetString("operations.findTools.defaultMode"),
			DefaultDetailLevel: v.GetString("operations.findTools.defaultDetailLevel"),
		},
		Index: IndexConfig{
			RefreshIntervalMs: v.GetInt("operations.index.refreshIntervalMs"),
		},
		Logging: LoggingConfig{
			Level: v.GetString("operations.logging.level"),
		},
		SelectionCache: SelectionCacheConfig{
			Enabled:                  v.GetBool("operations.selectionCache.enabled"),
			MinCooccurrenceThreshold: v.GetInt("operations.selectionCache.minCooccurrenceThreshold"),
			MaxBundleSuggestions:     v.GetInt("operations.selectionCache.maxBundleSuggestions"),
		},
		Summarize: SummarizeConfig{
			Enabled:  v.GetBool("operations.describeTools.summarize.enabled"),
			Provider: v.GetString("operations.describeTools.summarize.provider"),
			Model:    v.GetString("operations.describeTools.summarize.model"),
		},
	}

	return cfg, nil
}

// decodeUpstream implements the UpstreamConfig tagged union: a "transport"
// field of "stdio" or "http" selects which field group is read. The Auth
// sub-block may be a bare bool or a table, per spec section 3.
func decodeUpstream(key string, raw map[string]interface{}) (*UpstreamConfig, error) {
	u := &UpstreamConfig{
		Key:     key,
		Label:   stringField(raw, "label"),
		Enabled: boolField(raw, "enabled", true),
	}

	transport, _ := raw["transport"].(string)
	switch Transport(transport) {
	case TransportStdio:
		u.Transport = TransportStdio
		u.Command = stringField(raw, "command")
		u.Cwd = stringField(raw, "cwd")
		u.Args = stringSliceField(raw, "args")
		u.Env = stringMapField(raw, "env")
		if u.Command == "" {
			return nil, fmt.Errorf("stdio upstream %q missing command", key)
		}
	case TransportHTTP:
		u.Transport = TransportHTTP
		u.URL = stringField(raw, "url")
		u.Headers = stringMapField(raw, "headers")
		if authRaw, ok := raw["auth"]; ok {
			u.Auth = decodeAuth(authRaw)
		}
		if u.URL == "" {
			return nil, fmt.Errorf("http upstream %q missing url", key)
		}
	default:
		return nil, fmt.Errorf("upstream %q has unknown or missing transport %q", key, transport)
	}

	return u, nil
}

func decodeAuth(raw interface{}) *AuthOption {
	switch v := raw.(type) {
	case bool:
		return &AuthOption{Enabled: v}
	case map[string]interface{}:
		opt := &AuthOption{Enabled: boolField(v, "enabled", true)}
		// viper lower-cases config keys on read, so accept both spellings.
		opt.CallbackPort = intField(v, "callbackPort")
		if opt.CallbackPort == 0 {
			opt.CallbackPort = intField(v, "callbackport")
		}
		opt.ClientName = stringField(v, "clientName")
		if opt.ClientName == "" {
			opt.ClientName = stringField(v, "clientname")
		}
		return opt
	default:
		return &AuthOption{Enabled: true}
	}
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func boolField(m map[string]interface{}, key string, def bool) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return def
}

func intField(m map[string]interface{}, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func stringSliceField(m map[string]interface{}, key string) []string {
	raw, ok := m[key].([]interface{})
	if !ok {
		if ss, ok := m[key].([]string); ok {
			return ss
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func stringMapField(m map[string]interface{}, key string) map[string]string {
	raw, ok := m[key].(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// structValidator is shared across calls; go-playground/validator.Struct
// is safe for concurrent use once built.
var structValidator = validator.New()

// Validate checks structural invariants go-playground/validator tags
// cannot express on this loosely-typed config (exactly one transport
// variant populated, non-empty upstream keys) and anything it can.
func Validate(cfg *Config) error {
	for key, u := range cfg.Upstreams {
		if key == "" {
			return mcperr.New(mcperr.CodeConfigValidation, "upstream key must not be empty")
		}
		switch u.Transport {
		case TransportStdio:
			if u.Command == "" {
				return mcperr.New(mcperr.CodeConfigValidation, "upstream "+key+": stdio transport requires command")
			}
			if u.URL != "" {
				return mcperr.New(mcperr.CodeConfigValidation, "upstream "+key+": stdio transport must not set url")
			}
		case TransportHTTP:
			if u.URL == "" {
				return mcperr.New(mcperr.CodeConfigValidation, "upstream "+key+": http transport requires url")
			}
			if u.Command != "" {
				return mcperr.New(mcperr.CodeConfigValidation, "upstream "+key+": http transport must not set command")
			}
		default:
			return mcperr.New(mcperr.CodeConfigValidation, "upstream "+key+": unknown transport "+string(u.Transport))
		}
	}
	if err := structValidator.Struct(cfg.Operations.FindTools); err != nil {
		return mcperr.Wrap(mcperr.CodeConfigValidation, "invalid operations.findTools", err)
	}
	return nil
}
