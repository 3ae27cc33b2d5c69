// Package config loads and persists the client configuration record.
//
// Sources, later ones winning:
//
//  1. Built-in defaults (see Default).
//  2. The JSON file, created with defaults if it does not exist.
//  3. WALLSYNC_* environment variables.
//
// Save writes the record back to the JSON file. Values that came from the
// environment are not written; the file keeps what it had.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
)

// NewClientID is the identity a client announces before the relay assigns one.
const NewClientID = "NEWCLIENT"

// DefaultMaxCacheSize is the cache budget used when none is configured.
const DefaultMaxCacheSize int64 = 1 << 30

// Record is the persisted configuration.
type Record struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Server       string   `json:"server"`
	WSPort       string   `json:"ws_port"`
	RestPort     string   `json:"rest_port"`
	Command      string   `json:"command"`
	CacheDir     string   `json:"cache"`
	MaxCacheSize int64    `json:"max_cache_size"`
	Sync         []string `json:"sync"`
	LogLevel     string   `json:"log_level,omitempty"`
	LogFormat    string   `json:"log_format,omitempty"`
	MetricsAddr  string   `json:"metrics_addr,omitempty"`
}

// Config is the runtime configuration. The identity is only changed
// through SetID.
type Config struct {
	Record

	mu         sync.Mutex
	path       string
	onDisk     Record
	overridden []envField
}

// Dir returns the default configuration directory.
func Dir() string {
	if runtime.GOOS == "windows" {
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, _ := os.UserHomeDir()
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(appData, "wallsync")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "wallsync")
}

// DefaultPath returns the default configuration file path.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.json")
}

// Default returns the built-in defaults for a config file living in dir.
func Default(dir string) Record {
	return Record{
		ID:           NewClientID,
		Name:         hostname(),
		Server:       "localhost",
		WSPort:       "8080",
		RestPort:     "3000",
		Command:      "feh --bg-fill $WALL",
		CacheDir:     filepath.Join(dir, "cache"),
		MaxCacheSize: DefaultMaxCacheSize,
		Sync:         []string{},
		LogLevel:     "info",
		LogFormat:    "console",
	}
}

// Load reads the config at path, creating it with defaults when missing.
func Load(path string) (*Config, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}

	defaults := Default(dir)
	c := &Config{path: path}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		c.Record = defaults
		if err := c.write(c.Record); err != nil {
			return nil, fmt.Errorf("create config file: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		// Seeded so an explicit 0 (unlimited) in the file is kept.
		c.MaxCacheSize = defaults.MaxCacheSize
		if err := json.Unmarshal(data, &c.Record); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		c.fillDefaults(defaults)
	}

	c.onDisk = c.Record
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) fillDefaults(d Record) {
	if c.ID == "" {
		c.ID = d.ID
	}
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.Server == "" {
		c.Server = d.Server
	}
	if c.WSPort == "" {
		c.WSPort = d.WSPort
	}
	if c.RestPort == "" {
		c.RestPort = d.RestPort
	}
	if c.Command == "" {
		c.Command = d.Command
	}
	if c.CacheDir == "" {
		c.CacheDir = d.CacheDir
	}
	if c.Sync == nil {
		c.Sync = []string{}
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = d.LogFormat
	}
}

// Path returns the file the config is saved to.
func (c *Config) Path() string {
	return c.path
}

// Identity returns the current client id.
func (c *Config) Identity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ID
}

// SetID changes the client id and saves the config if it changed.
func (c *Config) SetID(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ID == id {
		return nil
	}
	c.ID = id
	return c.saveLocked()
}

// Save writes the config to its file.
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveLocked()
}

func (c *Config) saveLocked() error {
	rec := c.Record
	for _, f := range c.overridden {
		f.restore(&rec, &c.onDisk)
	}
	if err := c.write(rec); err != nil {
		return err
	}
	c.onDisk = rec
	return nil
}

func (c *Config) write(rec Record) error {
	data, err := json.MarshalIndent(rec, "", "    ")
	if err != nil {
		return err
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// WSURL returns the relay WebSocket URL.
func (c *Config) WSURL() string {
	return "ws://" + net.JoinHostPort(c.Server, c.WSPort)
}

// RestURL returns the relay REST base URL.
func (c *Config) RestURL() string {
	return "http://" + net.JoinHostPort(c.Server, c.RestPort)
}

type envField struct {
	name    string
	apply   func(r *Record, v string) error
	restore func(dst, src *Record)
}

var envFields = []envField{
	{"WALLSYNC_SERVER",
		func(r *Record, v string) error { r.Server = v; return nil },
		func(d, s *Record) { d.Server = s.Server }},
	{"WALLSYNC_WS_PORT",
		func(r *Record, v string) error { r.WSPort = v; return nil },
		func(d, s *Record) { d.WSPort = s.WSPort }},
	{"WALLSYNC_REST_PORT",
		func(r *Record, v string) error { r.RestPort = v; return nil },
		func(d, s *Record) { d.RestPort = s.RestPort }},
	{"WALLSYNC_NAME",
		func(r *Record, v string) error { r.Name = v; return nil },
		func(d, s *Record) { d.Name = s.Name }},
	{"WALLSYNC_COMMAND",
		func(r *Record, v string) error { r.Command = v; return nil },
		func(d, s *Record) { d.Command = s.Command }},
	{"WALLSYNC_CACHE_DIR",
		func(r *Record, v string) error { r.CacheDir = v; return nil },
		func(d, s *Record) { d.CacheDir = s.CacheDir }},
	{"WALLSYNC_MAX_CACHE_SIZE",
		func(r *Record, v string) error {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return err
			}
			r.MaxCacheSize = n
			return nil
		},
		func(d, s *Record) { d.MaxCacheSize = s.MaxCacheSize }},
	{"WALLSYNC_LOG_LEVEL",
		func(r *Record, v string) error { r.LogLevel = v; return nil },
		func(d, s *Record) { d.LogLevel = s.LogLevel }},
	{"WALLSYNC_LOG_FORMAT",
		func(r *Record, v string) error { r.LogFormat = v; return nil },
		func(d, s *Record) { d.LogFormat = s.LogFormat }},
	{"WALLSYNC_METRICS_ADDR",
		func(r *Record, v string) error { r.MetricsAddr = v; return nil },
		func(d, s *Record) { d.MetricsAddr = s.MetricsAddr }},
}

func (c *Config) applyEnv() error {
	for _, f := range envFields {
		v := os.Getenv(f.name)
		if v == "" {
			continue
		}
		if err := f.apply(&c.Record, v); err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		c.overridden = append(c.overridden, f)
	}
	return nil
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "wallsync"
	}
	return name
}
