// Package config provides file-based configuration for the board server. XML is the
// default format; a path ending in .toml is read and written as TOML.
package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// AppConfig represents the root configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"CompanionBoard" toml:"-"`

	Server    ServerConfig    `xml:"Server" toml:"server"`
	Storage   StorageConfig   `xml:"Storage" toml:"storage"`
	Companion CompanionConfig `xml:"Companion" toml:"companion"`
	Sync      SyncConfig      `xml:"Sync" toml:"sync"`
	Advanced  AdvancedConfig  `xml:"Advanced" toml:"advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `xml:"Port" toml:"port"`
	BindAddress  string `xml:"BindAddress" toml:"bind_address"`
	EnableCORS   bool   `xml:"EnableCORS" toml:"enable_cors"`
	AllowOrigins string `xml:"AllowOrigins" toml:"allow_origins"`
	ReadTimeout  int    `xml:"ReadTimeoutSeconds" toml:"read_timeout_seconds"`
	WriteTimeout int    `xml:"WriteTimeoutSeconds" toml:"write_timeout_seconds"`
	IdleTimeout  int    `xml:"IdleTimeoutSeconds" toml:"idle_timeout_seconds"`
	BodyLimit    string `xml:"BodyLimit" toml:"body_limit"`
}

// StorageConfig selects the persistence tiers of the board state.
type StorageConfig struct {
	DataDirectory string `xml:"DataDirectory" toml:"data_directory"`
	// InstanceID namespaces every persisted key, so several boards can share a directory.
	InstanceID string `xml:"InstanceID" toml:"instance_id"`
	Backend    string `xml:"Backend" toml:"backend"`
	Fallback   string `xml:"Fallback" toml:"fallback"`
	QuotaBytes int64  `xml:"QuotaBytes" toml:"quota_bytes"`
	// WatchExternalChanges reloads the board when another process writes the same files.
	WatchExternalChanges bool `xml:"WatchExternalChanges" toml:"watch_external_changes"`
}

// CompanionConfig contains the variable fetch settings.
type CompanionConfig struct {
	// DefaultURL seeds the default connection of an empty board.
	DefaultURL         string  `xml:"DefaultURL" toml:"default_url"`
	RequestTimeoutMs   int     `xml:"RequestTimeoutMs" toml:"request_timeout_ms"`
	FallbackIntervalMs int     `xml:"FallbackIntervalMs" toml:"fallback_interval_ms"`
	RequestsPerSecond  float64 `xml:"RequestsPerSecond" toml:"requests_per_second"`
	Burst              int     `xml:"Burst" toml:"burst"`
}

// SyncConfig contains WebSocket settings shared by the hub and peer mode.
type SyncConfig struct {
	PeerURL         string `xml:"PeerURL" toml:"peer_url"`
	RetryIntervalMs int    `xml:"RetryIntervalMs" toml:"retry_interval_ms"`
	SendBuffer      int    `xml:"SendBuffer" toml:"send_buffer"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	LogLevel             string `xml:"LogLevel" toml:"log_level"`
	LogFormat            string `xml:"LogFormat" toml:"log_format"`
	EnableRequestLogging bool   `xml:"EnableRequestLogging" toml:"enable_request_logging"`
	EnableCompression    bool   `xml:"EnableCompression" toml:"enable_compression"`
	CompressionLevel     int    `xml:"CompressionLevel" toml:"compression_level"`
	ErrorDetails         bool   `xml:"ErrorDetails" toml:"error_details"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8000,
			BindAddress:  "0.0.0.0",
			EnableCORS:   true,
			AllowOrigins: "*",
			ReadTimeout:  30,
			WriteTimeout: 30,
			IdleTimeout:  120,
			BodyLimit:    "64M",
		},
		Storage: StorageConfig{
			DataDirectory:        "./data",
			InstanceID:           "board",
			Backend:              "file",
			Fallback:             "memory",
			QuotaBytes:           5 << 20,
			WatchExternalChanges: true,
		},
		Companion: CompanionConfig{
			RequestTimeoutMs:   2000,
			FallbackIntervalMs: 5000,
			RequestsPerSecond:  50,
			Burst:              20,
		},
		Sync: SyncConfig{
			RetryIntervalMs: 2000,
			SendBuffer:      64,
		},
		Advanced: AdvancedConfig{
			LogLevel:             "info",
			LogFormat:            "text",
			EnableRequestLogging: true,
			EnableCompression:    true,
			CompressionLevel:     5,
		},
	}
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// LoadConfig loads configuration from configPath, writing the defaults there first
// when the file does not exist.
func LoadConfig(configPath string) (*AppConfig, error) {
	var config *AppConfig
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		config = DefaultConfig()
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Start from the defaults so a file that omits a section keeps working.
		config = DefaultConfig()
		if isTOML(configPath) {
			err = toml.Unmarshal(data, config)
		} else {
			err = xml.Unmarshal(data, config)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.applyEnvironmentOverrides()
	config.resolvePaths(filepath.Dir(configPath))

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save writes the configuration in the format implied by configPath.
func (c *AppConfig) Save(configPath string) error {
	var content []byte
	if isTOML(configPath) {
		var b strings.Builder
		b.WriteString("# Companion Board configuration\n# This file is auto-generated on first run\n\n")
		if err := toml.NewEncoder(&b).Encode(c); err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		content = []byte(b.String())
	} else {
		output, err := xml.MarshalIndent(c, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		header := []byte(xml.Header + "\n<!-- Companion Board Configuration -->\n<!-- This file is auto-generated on first run -->\n\n")
		content = append(header, output...)
	}

	if dir := filepath.Dir(configPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
	}
	if id := os.Getenv("INSTANCE_ID"); id != "" {
		c.Storage.InstanceID = id
	}
	if url := os.Getenv("COMPANION_URL"); url != "" {
		c.Companion.DefaultURL = url
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Advanced.LogLevel = level
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	if !filepath.IsAbs(c.Storage.DataDirectory) {
		c.Storage.DataDirectory = filepath.Join(configDir, c.Storage.DataDirectory)
	}
}

// Validate rejects settings the server cannot start with.
func (c *AppConfig) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if strings.TrimSpace(c.Storage.InstanceID) == "" {
		return fmt.Errorf("storage instance id must not be empty")
	}
	if strings.Contains(c.Storage.InstanceID, ":") {
		return fmt.Errorf("storage instance id %q must not contain ':'", c.Storage.InstanceID)
	}
	return nil
}

// GetDataDir returns the absolute data directory path
func (c *AppConfig) GetDataDir() string {
	return c.Storage.DataDirectory
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// RequestTimeout is the per-request timeout against a Companion.
func (c *AppConfig) RequestTimeout() time.Duration {
	return millis(c.Companion.RequestTimeoutMs, 2*time.Second)
}

// FallbackInterval is the fetch interval used while no connection resolves.
func (c *AppConfig) FallbackInterval() time.Duration {
	return millis(c.Companion.FallbackIntervalMs, 5*time.Second)
}

// RetryInterval is the reconnect interval of peer mode.
func (c *AppConfig) RetryInterval() time.Duration {
	return millis(c.Sync.RetryIntervalMs, 2*time.Second)
}

func millis(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	if err := os.MkdirAll(c.Storage.DataDirectory, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", c.Storage.DataDirectory, err)
	}
	return nil
}
