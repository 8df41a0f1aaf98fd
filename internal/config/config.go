// Package config handles Valet configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./valet.yaml, ~/.config/valet/config.yaml, /etc/valet/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"valet.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "valet", "config.yaml"))
	}

	paths = append(paths, "/etc/valet/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Valet configuration.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	Model     ModelConfig     `yaml:"model"`
	Search    SearchConfig    `yaml:"search"`
	Social    SocialConfig    `yaml:"social"`
	Calendar  CalendarConfig  `yaml:"calendar"`
	Signal    SignalConfig    `yaml:"signal"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Watchers  WatchersConfig  `yaml:"watchers"`
	DataDir   string          `yaml:"data_dir"`
	DefaultTZ string          `yaml:"default_timezone"`
	LogLevel  string          `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelConfig defines the chat model backend.
type ModelConfig struct {
	BaseURL string `yaml:"base_url"` // Ollama-compatible endpoint
	Name    string `yaml:"name"`
}

// SearchConfig selects and configures web search providers.
type SearchConfig struct {
	Primary string        `yaml:"primary"` // "brave" or "searxng"
	Brave   BraveConfig   `yaml:"brave"`
	SearXNG SearXNGConfig `yaml:"searxng"`
}

// BraveConfig holds Brave Search API settings.
type BraveConfig struct {
	APIKey string `yaml:"api_key"`
}

// Configured reports whether a Brave API key is set.
func (c BraveConfig) Configured() bool { return c.APIKey != "" }

// SearXNGConfig holds SearXNG instance settings.
type SearXNGConfig struct {
	BaseURL string `yaml:"base_url"`
}

// Configured reports whether a SearXNG URL is set.
func (c SearXNGConfig) Configured() bool { return c.BaseURL != "" }

// SocialConfig defines the GitHub-backed social collaborator.
type SocialConfig struct {
	Token string `yaml:"token"`
	Repo  string `yaml:"repo"` // owner/repo used for posts
}

// CalendarConfig defines the CalDAV source for the brief's calendar
// section. All fields must be set for the section to go live.
type CalendarConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Configured reports whether a CalDAV endpoint is set.
func (c CalendarConfig) Configured() bool { return c.URL != "" }

// SignalConfig defines the signal-cli transport.
type SignalConfig struct {
	Enabled bool     `yaml:"enabled"`
	Command string   `yaml:"command"` // default "signal-cli"
	Args    []string `yaml:"args"`    // e.g. ["-a", "+15551234567", "jsonRpc"]
}

// MQTTConfig defines the MQTT transport.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"` // host:port
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"` // default "valet"
}

// WatchersConfig carries the cron cadence for each digest kind.
// Expressions use robfig/cron syntax, including "@every" and "@daily".
type WatchersConfig struct {
	BriefSpec string `yaml:"brief_spec"` // default "0 7 * * *"
	NewsSpec  string `yaml:"news_spec"`  // default "@hourly"
	IdeasSpec string `yaml:"ideas_spec"` // default "0 9 * * 1"
}

// Load reads configuration from a YAML file. Environment variables in
// the file body (${VAR} or $VAR) are expanded before unmarshaling so
// secrets can stay out of the file itself.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen:    ListenConfig{Port: 8080},
		Model:     ModelConfig{BaseURL: "http://localhost:11434", Name: "qwen3:4b"},
		Signal:    SignalConfig{Command: "signal-cli"},
		MQTT:      MQTTConfig{TopicPrefix: "valet"},
		DataDir:   ".",
		DefaultTZ: "UTC",
		Watchers: WatchersConfig{
			BriefSpec: "0 7 * * *",
			NewsSpec:  "@hourly",
			IdeasSpec: "0 9 * * 1",
		},
	}
}
