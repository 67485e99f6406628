// Package config loads the optional operator-level ~/.apl/config.yaml.
// Unlike the project manifest/lockfile (TOML, project-local), this is the
// ambient tool-configuration layer: registry URL override, download
// parallelism, HTTP timeout, and a public key override for testing.
//
// Grounded on its predecessor's main.go (os.ReadFile + yaml.Unmarshal into a
// flat Config struct, read once at startup) using the same YAML library,
// go.yaml.in/yaml/v3.
package config

import (
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v3"
)

// Config is the parsed ~/.apl/config.yaml. Every field is optional; zero
// values mean "use the built-in default".
type Config struct {
	RegistryURL     string `yaml:"registry_url"`
	Parallelism     int    `yaml:"parallelism"`
	HTTPTimeoutSecs int    `yaml:"http_timeout_secs"`
	// PublicKeyOverride is a hex-encoded Ed25519 public key used instead
	// of the compiled-in one. Intended for tests and staging registries,
	// never for the default production trust root.
	PublicKeyOverride string `yaml:"public_key_override,omitempty"`
}

// Default returns the built-in defaults used when no config file exists.
func Default() Config {
	return Config{
		RegistryURL:     "https://registry.apl.dev/index.json.zst",
		Parallelism:     0, // 0 means "engine picks NumCPU capped at 8"
		HTTPTimeoutSecs: 30,
	}
}

// Load reads and parses path, falling back to Default() if the file does
// not exist. Fields absent from the file keep the Default() value.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// HTTPTimeout returns the configured timeout as a time.Duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSecs) * time.Second
}
