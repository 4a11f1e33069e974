// Package config loads SDK configuration from the extension manifest
// (kiket.yaml) and hydrates it from KIKET_* environment variables, which
// take precedence.
package config

import (
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const DefaultManifest = "kiket.yaml"

type Extension struct {
	ID      string `koanf:"id"`
	Version string `koanf:"version"`
}

type Telemetry struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
}

type Config struct {
	// WebhookSecret is the shared secret for legacy HMAC deliveries.
	WebhookSecret string `koanf:"webhook_secret"`
	// WorkspaceToken authenticates platform API calls made outside a
	// runtime-token delivery.
	WorkspaceToken string `koanf:"workspace_token"`
	// BaseURL is the platform base URL (JWKS, REST API).
	BaseURL string `koanf:"base_url"`

	Extension Extension `koanf:"extension"`
	Telemetry Telemetry `koanf:"telemetry"`

	// Settings are free-form manifest settings surfaced to handlers.
	Settings map[string]any `koanf:"settings"`
	// Secrets are process-level secrets handlers can resolve by name.
	Secrets map[string]string `koanf:"secrets"`
}

// envKeys maps environment variables onto config paths.  Anything not listed
// is ignored rather than guessed at.
var envKeys = map[string]string{
	"KIKET_WEBHOOK_SECRET":    "webhook_secret",
	"KIKET_WORKSPACE_TOKEN":   "workspace_token",
	"KIKET_BASE_URL":          "base_url",
	"KIKET_EXTENSION_ID":      "extension.id",
	"KIKET_EXTENSION_VERSION": "extension.version",
	"KIKET_TELEMETRY_ENABLED": "telemetry.enabled",
	"KIKET_TELEMETRY_URL":     "telemetry.url",
}

// Load reads the manifest at path (skipped when absent) and then the
// environment.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		path = DefaultManifest
	}
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("could not load manifest %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("KIKET_", ".", func(key, value string) (string, interface{}) {
		return envKeys[key], value
	}), nil); err != nil {
		return nil, fmt.Errorf("could not load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("could not unmarshal config: %w", err)
	}
	return cfg, nil
}
