// Package config loads the server configuration file.
package config

import (
	"fmt"
	"math/rand"
	"os"

	"github.com/bytedance/sonic"
)

// Config is the JSON configuration file. Only apiKey is mandatory.
type Config struct {
	Host string `json:"host"`
	Port int    `json:"port"`

	// APIKey authenticates north-side clients via x-api-key or bearer.
	APIKey string `json:"apiKey"`
	// AdminAPIKey enables the admin endpoints when set.
	AdminAPIKey string `json:"adminApiKey"`

	Region string `json:"region"`

	// DatabasePath locates the embedded sqlite file. A DatabaseDSN with
	// DatabaseDriver "mysql" or "postgres" selects a server backend instead.
	DatabasePath   string `json:"databasePath"`
	DatabaseDriver string `json:"databaseDriver"`
	DatabaseDSN    string `json:"databaseDsn"`

	// Identity headers on upstream requests.
	KiroVersion   string `json:"kiroVersion"`
	SystemVersion string `json:"systemVersion"`
	NodeVersion   string `json:"nodeVersion"`

	// External token counting; empty URL falls back to the local estimator.
	CountTokensAPIURL   string `json:"countTokensApiUrl"`
	CountTokensAPIKey   string `json:"countTokensApiKey"`
	CountTokensAuthType string `json:"countTokensAuthType"` // "x-api-key" or "bearer"

	ProxyURL      string `json:"proxyUrl"`
	ProxyUsername string `json:"proxyUsername"`
	ProxyPassword string `json:"proxyPassword"`
}

// Load reads path, applies defaults, and validates. A missing file is an
// error; the caller decides the exit code.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := sonic.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.Region == "" {
		c.Region = "us-east-1"
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "kirod.db"
	}
	if c.KiroVersion == "" {
		c.KiroVersion = "0.2.13"
	}
	if c.SystemVersion == "" {
		// Generated once per process, then held constant across requests.
		c.SystemVersion = fmt.Sprintf("darwin#%d.%d.0", 23+rand.Intn(3), rand.Intn(7))
	}
	if c.NodeVersion == "" {
		c.NodeVersion = "20.16.0"
	}
	if c.CountTokensAuthType == "" {
		c.CountTokensAuthType = "x-api-key"
	}
}

func (c *Config) validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("config: apiKey is required")
	}
	if c.DatabaseDSN != "" && c.DatabaseDriver == "" {
		return fmt.Errorf("config: databaseDsn requires databaseDriver")
	}
	switch c.CountTokensAuthType {
	case "x-api-key", "bearer":
	default:
		return fmt.Errorf("config: countTokensAuthType must be x-api-key or bearer")
	}
	return nil
}

// Addr returns the listener bind address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
