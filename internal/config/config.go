package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/bryanchriswhite/windowobserver/internal/event"
	"github.com/bryanchriswhite/windowobserver/internal/logger"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	LogLevel   string   `json:"log_level" yaml:"log_level"`
	LogPretty  bool     `json:"log_pretty" yaml:"log_pretty"`
	Backend    string   `json:"backend" yaml:"backend"`
	Events     []string `json:"events" yaml:"events"`
	ServerPort int      `json:"server_port" yaml:"server_port"`
}

// Keys accepted by Manager.Set and Manager.Value
var Keys = []string{"log_level", "log_pretty", "backend", "events", "server_port"}

// Manager handles configuration loading and saving
type Manager struct {
	config     *Config
	configPath string
	mu         sync.RWMutex
}

// DefaultPath returns ~/.config/windowobserver/config.yaml
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "windowobserver", "config.yaml"), nil
}

// NewManager loads configFile (or the default path), creating it with
// defaults when missing
func NewManager(configFile string) (*Manager, error) {
	path := configFile
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}

	m := &Manager{configPath: path}

	if err := m.load(); err != nil {
		if os.IsNotExist(err) {
			logger.WithComponent("config").Info().
				Str("path", m.configPath).
				Msg("Config file not found, creating new config")
			m.config = Defaults()
			if err := m.Save(); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Strs("events", m.config.Events).
		Msg("Config loaded")

	return m, nil
}

// Defaults returns the default configuration: every event kind on the
// automatically chosen backend
func Defaults() *Config {
	return &Config{
		LogLevel:   "info",
		LogPretty:  true,
		Backend:    "auto",
		Events:     event.All().Names(),
		ServerPort: 8080,
	}
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Events == nil {
		cfg.Events = []string{}
	}
	if _, err := event.ParseFilter(cfg.Events); err != nil {
		return fmt.Errorf("invalid events in %s: %w", m.configPath, err)
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Reload re-reads the config file, keeping the current config on error
func (m *Manager) Reload() error {
	return m.load()
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg := *m.config
	cfg.Events = append([]string(nil), m.config.Events...)
	return &cfg
}

// Filter returns the configured event filter
func (m *Manager) Filter() (event.Filter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return event.ParseFilter(m.config.Events)
}

// Save writes the configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	if cfg == nil {
		cfg = Defaults()
	}

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Config saved")
	return nil
}

func (m *Manager) update(change func(cfg *Config)) error {
	m.mu.Lock()
	change(m.config)
	m.mu.Unlock()
	return m.Save()
}

// SetEvents validates and stores the default event kinds
func (m *Manager) SetEvents(names []string) error {
	f, err := event.ParseFilter(names)
	if err != nil {
		return err
	}
	return m.update(func(cfg *Config) { cfg.Events = f.Names() })
}

// SetBackend stores the backend name ("auto" picks one at runtime)
func (m *Manager) SetBackend(name string) error {
	return m.update(func(cfg *Config) { cfg.Backend = strings.ToLower(strings.TrimSpace(name)) })
}

// SetPort updates the server port
func (m *Manager) SetPort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port %d", port)
	}
	return m.update(func(cfg *Config) { cfg.ServerPort = port })
}

// SetLogLevel updates the log level
func (m *Manager) SetLogLevel(level string) error {
	return m.update(func(cfg *Config) { cfg.LogLevel = level })
}

// Set assigns a value by key, as used by `config set`
func (m *Manager) Set(key, value string) error {
	switch key {
	case "log_level":
		return m.SetLogLevel(value)
	case "log_pretty":
		pretty, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid log_pretty %q: %w", value, err)
		}
		return m.update(func(cfg *Config) { cfg.LogPretty = pretty })
	case "backend":
		return m.SetBackend(value)
	case "events":
		if v := strings.TrimSpace(value); v == "" || v == "none" {
			return m.SetEvents(nil)
		}
		return m.SetEvents(strings.Split(value, ","))
	case "server_port":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid server_port %q: %w", value, err)
		}
		return m.SetPort(port)
	}
	return fmt.Errorf("unknown config key %q (valid: %s)", key, strings.Join(Keys, ", "))
}

// Value returns the value of key formatted for display
func (m *Manager) Value(key string) (string, error) {
	cfg := m.Get()
	switch key {
	case "log_level":
		return cfg.LogLevel, nil
	case "log_pretty":
		return strconv.FormatBool(cfg.LogPretty), nil
	case "backend":
		return cfg.Backend, nil
	case "events":
		return strings.Join(cfg.Events, ","), nil
	case "server_port":
		return strconv.Itoa(cfg.ServerPort), nil
	}
	return "", fmt.Errorf("unknown config key %q (valid: %s)", key, strings.Join(Keys, ", "))
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}
