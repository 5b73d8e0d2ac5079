// Package config loads the server configuration from a YAML file and applies
// defaults for every omitted value, so the server can start with an empty or
// missing configuration file.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Hub      HubConfig      `yaml:"hub"`
	Recorder RecorderConfig `yaml:"recorder"`
	Feed     FeedConfig     `yaml:"feed"`
	Logging  LoggingConfig  `yaml:"logging"`
	Stats    StatsConfig    `yaml:"stats"`
}

// ServerConfig contains HTTP listener settings.
type ServerConfig struct {
	Port        int    `yaml:"port"`
	BindAddress string `yaml:"bind_address"`
	WebDir      string `yaml:"web_dir"`
}

// StorageConfig contains the live buffer document and archive locations.
//
// StrictLoad controls recovery when the persisted document is unreadable:
// false (the default) falls back to an empty buffer and keeps serving, true
// fails startup so an operator can inspect the file.
type StorageConfig struct {
	DataFile   string `yaml:"data_file"`
	ArchiveDir string `yaml:"archive_dir"`
	StrictLoad bool   `yaml:"strict_load"`
}

// HubConfig contains WebSocket hub settings.
type HubConfig struct {
	KeepaliveSeconds int `yaml:"keepalive_seconds"`
	ClientBuffer     int `yaml:"client_buffer"`
}

// RecorderConfig contains the optional SQLite record log settings.
type RecorderConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
	Limit   int    `yaml:"limit"`
}

// FeedConfig contains the optional MQTT envelope feed settings.
type FeedConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
}

// LoggingConfig contains file logging settings.
type LoggingConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
}

// StatsConfig controls the periodic counters line on the console.
type StatsConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.normalize()
	return cfg
}

// Load loads configuration from a YAML file and normalizes defaults.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", filename, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", filename, err)
	}
	cfg.normalize()
	return &cfg, nil
}

func (c *Config) normalize() {
	if c.Server.Port <= 0 {
		c.Server.Port = 3000
	}
	if strings.TrimSpace(c.Storage.DataFile) == "" {
		c.Storage.DataFile = "data/logs.json"
	}
	if strings.TrimSpace(c.Storage.ArchiveDir) == "" {
		c.Storage.ArchiveDir = "data/archives"
	}
	if c.Hub.KeepaliveSeconds <= 0 {
		c.Hub.KeepaliveSeconds = 30
	}
	if c.Hub.ClientBuffer <= 0 {
		c.Hub.ClientBuffer = 64
	}
	if strings.TrimSpace(c.Recorder.DBPath) == "" {
		c.Recorder.DBPath = "data/records.db"
	}
	if c.Recorder.Limit <= 0 {
		c.Recorder.Limit = 100000
	}
	if c.Feed.Port <= 0 {
		c.Feed.Port = 1883
	}
	if strings.TrimSpace(c.Feed.Topic) == "" {
		c.Feed.Topic = "loghub/envelopes"
	}
	if strings.TrimSpace(c.Feed.ClientID) == "" {
		c.Feed.ClientID = "loghub"
	}
	if strings.TrimSpace(c.Logging.Dir) == "" {
		c.Logging.Dir = "data/logs"
	}
	if c.Logging.RetentionDays <= 0 {
		c.Logging.RetentionDays = 7
	}
	if c.Stats.IntervalSeconds <= 0 {
		c.Stats.IntervalSeconds = 300
	}
}

// Print displays the effective configuration on startup.
func (c *Config) Print() {
	fmt.Printf("HTTP: %s:%d\n", c.Server.BindAddress, c.Server.Port)
	fmt.Printf("Storage: %s (archives in %s)\n", c.Storage.DataFile, c.Storage.ArchiveDir)
	if c.Recorder.Enabled {
		fmt.Printf("Recorder: %s (limit %d)\n", c.Recorder.DBPath, c.Recorder.Limit)
	}
	if c.Feed.Enabled {
		fmt.Printf("Feed: %s:%d (topic: %s)\n", c.Feed.Broker, c.Feed.Port, c.Feed.Topic)
	}
}
