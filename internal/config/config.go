// Package config loads gateway configuration: an optional perch.yaml overlaid
// by environment variables (env wins), validated before anything else starts.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is everything the gateway needs at process start.
type Config struct {
	AppSecret          string `yaml:"app_secret"`
	EncryptionKey      string `yaml:"encryption_key"` // 64 hex chars
	GoogleClientID     string `yaml:"google_client_id"`
	GoogleClientSecret string `yaml:"google_client_secret"`
	AllowedEmail       string `yaml:"allowed_email"`
	PublicURL          string `yaml:"public_url"`

	Port           int    `yaml:"port"`
	WrapperPath    string `yaml:"wrapper_path"`
	ContainerName  string `yaml:"container_name"`
	ContainerImage string `yaml:"container_image"`
	DBPath         string `yaml:"db_path"`
	LogLevel       string `yaml:"log_level"`
	LogFile        string `yaml:"log_file"`
}

const (
	defaultPort           = 3000
	defaultWrapperPath    = "./scripts/agent-wrapper.sh"
	defaultContainerName  = "perch-sandbox"
	defaultContainerImage = "perch-sandbox:latest"
	defaultDBPath         = "perch.db"
)

// WSPath is the WebSocket upgrade path the server and clients agree on.
const WSPath = "/ws"

// Load reads perch.yaml if present, applies env overrides, fills defaults,
// and validates. A validation failure lists every missing variable at once so
// a fresh deployment fails exactly one time.
func Load(path string) (*Config, error) {
	var cfg Config

	if path == "" {
		path = "perch.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.WrapperPath == "" {
		cfg.WrapperPath = defaultWrapperPath
	}
	if cfg.ContainerName == "" {
		cfg.ContainerName = defaultContainerName
	}
	if cfg.ContainerImage == "" {
		cfg.ContainerImage = defaultContainerImage
	}
	if cfg.DBPath == "" {
		cfg.DBPath = defaultDBPath
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	set(&cfg.AppSecret, "PERCH_APP_SECRET")
	set(&cfg.EncryptionKey, "PERCH_ENCRYPTION_KEY")
	set(&cfg.GoogleClientID, "PERCH_GOOGLE_CLIENT_ID")
	set(&cfg.GoogleClientSecret, "PERCH_GOOGLE_CLIENT_SECRET")
	set(&cfg.AllowedEmail, "PERCH_ALLOWED_EMAIL")
	set(&cfg.PublicURL, "PERCH_PUBLIC_URL")
	set(&cfg.WrapperPath, "PERCH_WRAPPER_PATH")
	set(&cfg.ContainerName, "PERCH_CONTAINER_NAME")
	set(&cfg.ContainerImage, "PERCH_CONTAINER_IMAGE")
	set(&cfg.DBPath, "PERCH_DB_PATH")
	set(&cfg.LogLevel, "PERCH_LOG_LEVEL")
	set(&cfg.LogFile, "PERCH_LOG_FILE")
	if v := os.Getenv("PERCH_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
}

// Validate checks required settings and reports all problems in one error.
func (c *Config) Validate() error {
	var missing []string
	if len(c.AppSecret) < 32 {
		missing = append(missing, "PERCH_APP_SECRET (min 32 chars)")
	}
	if b, err := hex.DecodeString(c.EncryptionKey); err != nil || len(b) != 32 {
		missing = append(missing, "PERCH_ENCRYPTION_KEY (64 hex chars)")
	}
	if c.GoogleClientID == "" {
		missing = append(missing, "PERCH_GOOGLE_CLIENT_ID")
	}
	if c.GoogleClientSecret == "" {
		missing = append(missing, "PERCH_GOOGLE_CLIENT_SECRET")
	}
	if c.AllowedEmail == "" {
		missing = append(missing, "PERCH_ALLOWED_EMAIL")
	}
	if c.PublicURL == "" {
		missing = append(missing, "PERCH_PUBLIC_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing or invalid configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
