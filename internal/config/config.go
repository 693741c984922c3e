// Package config loads the YAML target file for mysqlcheck and watches
// it for changes.
package config

import (
	"fmt"
	"log"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for mysqlcheck.
type Config struct {
	Listen   ListenConfig            `yaml:"listen"`
	Defaults ProbeDefaults           `yaml:"defaults"`
	Targets  map[string]TargetConfig `yaml:"targets"`
}

// ListenConfig defines the HTTP status/metrics endpoint.
type ListenConfig struct {
	APIPort int    `yaml:"api_port"`
	APIBind string `yaml:"api_bind"`
}

// ProbeDefaults defines probe settings applied when targets don't override.
type ProbeDefaults struct {
	Interval       time.Duration `yaml:"interval"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	QueryTimeout   time.Duration `yaml:"query_timeout"`
	Query          string        `yaml:"query"`
}

// TargetConfig holds the connection settings for one probed server.
type TargetConfig struct {
	Host         string         `yaml:"host"`
	Port         int            `yaml:"port"`
	Username     string         `yaml:"username"`
	Password     string         `yaml:"password"`
	DBName       string         `yaml:"dbname"`
	Charset      string         `yaml:"charset"`
	QueryTimeout *time.Duration `yaml:"query_timeout,omitempty"`
	Query        string         `yaml:"query,omitempty"`
}

// EffectiveQueryTimeout returns the target's query timeout or the default.
func (t TargetConfig) EffectiveQueryTimeout(defaults ProbeDefaults) time.Duration {
	if t.QueryTimeout != nil {
		return *t.QueryTimeout
	}
	return defaults.QueryTimeout
}

// EffectiveQuery returns the target's probe query or the default.
func (t TargetConfig) EffectiveQuery(defaults ProbeDefaults) string {
	if t.Query != "" {
		return t.Query
	}
	return defaults.Query
}

// Redacted returns a copy of the TargetConfig with the password masked.
func (t TargetConfig) Redacted() TargetConfig {
	c := t
	if c.Password != "" {
		c.Password = "***REDACTED***"
	}
	return c
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR_NAME} patterns with environment variable values.
func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(varName)); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file with env var substitution.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = substituteEnvVars(data)

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Listen.APIPort == 0 {
		cfg.Listen.APIPort = 8080
	}
	if cfg.Listen.APIBind == "" {
		cfg.Listen.APIBind = "127.0.0.1"
	}
	if cfg.Defaults.Interval == 0 {
		cfg.Defaults.Interval = 15 * time.Second
	}
	if cfg.Defaults.ConnectTimeout == 0 {
		cfg.Defaults.ConnectTimeout = 5 * time.Second
	}
	if cfg.Defaults.QueryTimeout == 0 {
		cfg.Defaults.QueryTimeout = 5 * time.Second
	}
	if cfg.Defaults.Query == "" {
		cfg.Defaults.Query = "SELECT 1"
	}
}

func validate(cfg *Config) error {
	for id, target := range cfg.Targets {
		if target.Host == "" {
			return fmt.Errorf("target %q: host is required", id)
		}
		if target.Port == 0 {
			return fmt.Errorf("target %q: port is required", id)
		}
		if target.Username == "" {
			return fmt.Errorf("target %q: username is required", id)
		}
	}
	return nil
}

// Watcher watches a config file for changes and calls the callback with the new config.
type Watcher struct {
	path     string
	callback func(*Config)
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	stopCh   chan struct{}
}

// NewWatcher creates a new config file watcher.
func NewWatcher(path string, callback func(*Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching config file: %w", err)
	}

	cw := &Watcher{
		path:     path,
		callback: callback,
		watcher:  w,
		stopCh:   make(chan struct{}),
	}

	go cw.run()
	return cw, nil
}

func (cw *Watcher) run() {
	// Debounce timer to avoid rapid reloads
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					cw.reload()
				})
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[config] watcher error: %v", err)
		case <-cw.stopCh:
			return
		}
	}
}

func (cw *Watcher) reload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cfg, err := Load(cw.path)
	if err != nil {
		log.Printf("[config] hot-reload failed: %v", err)
		return
	}

	log.Printf("[config] configuration reloaded from %s", cw.path)
	cw.callback(cfg)
}

// Stop stops the config watcher.
func (cw *Watcher) Stop() error {
	close(cw.stopCh)
	return cw.watcher.Close()
}
