// Package zconfig centralizes the environment variables this runtime reads
// into a typed config object read once at startup, instead of scattered
// os.Getenv calls.
package zconfig

import (
	"os"
	"path/filepath"
)

// DefaultStoreBaseURL is used when MCP_STORE_BASE_URL is unset.
const DefaultStoreBaseURL = "https://api1.mcp.corespeed.io"

// ForwardedEnvVars are propagated from the host process into every
// subprocess (command) transport unless the caller overrides them.
var ForwardedEnvVars = []string{"PATH", "HOME", "SHELL", "TERM", "LANG"}

// Config holds the environment-derived knobs for the runtime.
type Config struct {
	// StoreBaseURL is the registry adapter's MCP store base URL.
	StoreBaseURL string
	// RemoteConfigDir is the OAuth provider's storage directory.
	RemoteConfigDir string
}

// Load reads the runtime configuration from the environment.
func Load() (Config, error) {
	cfg := Config{StoreBaseURL: DefaultStoreBaseURL}

	if v := os.Getenv("MCP_STORE_BASE_URL"); v != "" {
		cfg.StoreBaseURL = v
	}

	if v := os.Getenv("MCP_REMOTE_CONFIG_DIR"); v != "" {
		cfg.RemoteConfigDir = v
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, err
		}
		cfg.RemoteConfigDir = filepath.Join(home, ".config", "zypher", "auth")
	}

	return cfg, nil
}

// ForwardedEnv returns the subset of the host process environment that
// transport.CommandEndpoint should forward into a spawned subprocess.
func ForwardedEnv() map[string]string {
	env := make(map[string]string, len(ForwardedEnvVars))
	for _, name := range ForwardedEnvVars {
		if v, ok := os.LookupEnv(name); ok {
			env[name] = v
		}
	}
	return env
}
