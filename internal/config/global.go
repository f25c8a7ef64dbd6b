package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// GlobalConfig represents configuration stored in
// ~/.config/papergraph/config.yml.
type GlobalConfig struct {
	DBPath     string `yaml:"db_path,omitempty"`
	Workdir    string `yaml:"workdir,omitempty"`
	OutputPath string `yaml:"output_path,omitempty"`

	S2APIKey         string `yaml:"s2_api_key,omitempty"`
	OpenRouterAPIKey string `yaml:"openrouter_api_key,omitempty"`
	OpenRouterModel  string `yaml:"openrouter_model,omitempty"`

	OllamaURL  string `yaml:"ollama_url,omitempty"`
	EmbedModel string `yaml:"embed_model,omitempty"`

	Query         string `yaml:"query,omitempty"`
	SortBy        string `yaml:"sort_by,omitempty"`
	Category      string `yaml:"category,omitempty"`
	PaperCount    int    `yaml:"paper_count,omitempty"`
	MaxExtensions int    `yaml:"max_extensions,omitempty"`
}

const (
	// GlobalConfigDir is the directory name under XDG_CONFIG_HOME.
	GlobalConfigDir = "papergraph"
	// GlobalConfigFile is the config file name.
	GlobalConfigFile = "config.yml"
)

// globalConfigCache caches the loaded global config.
var globalConfigCache *GlobalConfig

// GlobalConfigPath returns the path to the global config file.
// Respects XDG_CONFIG_HOME, defaults to ~/.config/papergraph/config.yml.
func GlobalConfigPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, GlobalConfigDir, GlobalConfigFile)
}

// LoadGlobalConfig loads the global configuration file.
// Returns an empty config (not an error) if the file doesn't exist.
func LoadGlobalConfig() (*GlobalConfig, error) {
	if globalConfigCache != nil {
		return globalConfigCache, nil
	}

	path := GlobalConfigPath()
	if path == "" {
		return &GlobalConfig{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &GlobalConfig{}, nil
		}
		return nil, fmt.Errorf("reading global config: %w", err)
	}

	var cfg GlobalConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing global config: %w", err)
	}

	globalConfigCache = &cfg
	return &cfg, nil
}

// ResetGlobalConfigCache clears the cached global config.
// Useful for testing.
func ResetGlobalConfigCache() {
	globalConfigCache = nil
}
