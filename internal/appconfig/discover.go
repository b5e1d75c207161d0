package appconfig

import (
	"os"
	"path/filepath"
)

// EnvConfigVar is the environment variable that, if set, short-circuits
// config discovery entirely.
const EnvConfigVar = "MCP_SQUARED_CONFIG"

// projectConfigNames are checked, in order, in every ancestor directory
// walking up from the working directory.
var projectConfigNames = []string{
	"mcp-squared.toml",
	filepath.Join(".mcp-squared", "config.toml"),
}

// Discover finds the config file to load, in the order spec section 6
// mandates: explicit env var, nearest ancestor project file, then the
// per-OS user config home. It returns "" if nothing is found.
func Discover(cwd string, userConfigDir func() (string, error)) string {
	if p := os.Getenv(EnvConfigVar); p != "" {
		return p
	}

	dir := cwd
	for {
		for _, name := range projectConfigNames {
			candidate := filepath.Join(dir, name)
			if fileExists(candidate) {
				return candidate
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	if userConfigDir != nil {
		if base, err := userConfigDir(); err == nil {
			candidate := filepath.Join(base, "mcp-squared", "config.toml")
			if fileExists(candidate) {
				return candidate
			}
		}
	}

	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
