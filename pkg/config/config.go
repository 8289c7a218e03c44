// Package config loads evidence-service configuration from an optional TOML
// file with environment-variable overrides. Environment always wins, matching
// how the services are deployed.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

// TSA modes. Proxy mode talks JSON to a timestamp-authority proxy; direct
// mode speaks RFC 3161 DER straight at a TSA endpoint.
const (
	TSAModeProxy  = "proxy"
	TSAModeDirect = "direct"
)

type Database struct {
	URL string `toml:"url"`
}

type Server struct {
	Port string `toml:"port"`
}

type TSA struct {
	// Mode selects proxy or direct. Ignored when Endpoint is empty.
	Mode     string `toml:"mode"`
	Endpoint string `toml:"endpoint"`
	// PolicyOID pins a TSA policy in direct mode.
	PolicyOID string `toml:"policy_oid"`
	// QueueSize bounds the in-flight timestamp requests; overflow leaves
	// bundles pending for external reconciliation.
	QueueSize int `toml:"queue_size"`
}

type Config struct {
	Database Database `toml:"database"`
	Server   Server   `toml:"server"`
	TSA      TSA      `toml:"tsa"`
}

// Load reads path when it exists and applies environment overrides. A
// missing file is not an error; env-only deployments carry no file at all.
func Load(path string) (Config, error) {
	cfg := Config{
		Server: Server{Port: "8084"},
		TSA:    TSA{Mode: TSAModeProxy, QueueSize: 256},
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// fall through to env
		case err != nil:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := toml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)

	if cfg.TSA.Endpoint != "" && cfg.TSA.Mode != TSAModeProxy && cfg.TSA.Mode != TSAModeDirect {
		return Config{}, fmt.Errorf("invalid tsa mode %q", cfg.TSA.Mode)
	}
	if cfg.TSA.QueueSize <= 0 {
		cfg.TSA.QueueSize = 256
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("SERVICE_PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("TSA_PROXY_URL"); v != "" {
		cfg.TSA.Endpoint = v
	}
	if v := os.Getenv("TSA_MODE"); v != "" {
		cfg.TSA.Mode = v
	}
	if v := os.Getenv("TSA_POLICY_OID"); v != "" {
		cfg.TSA.PolicyOID = v
	}
	if v := os.Getenv("TSA_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.TSA.QueueSize = n
		}
	}
}
