package manifest

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CtlConfig is the optional registryctl config file. Flags override any
// value set here.
type CtlConfig struct {
	APIBase       string `yaml:"api_base"`
	DatabaseURL   string `yaml:"database_url"`
	Bucket        string `yaml:"bucket"`
	Extension     string `yaml:"extension"`
	ServiceSecret string `yaml:"service_secret"`
}

// LoadCtlConfig reads a YAML config file; a missing path yields a zero
// config without error.
func LoadCtlConfig(path string) (CtlConfig, error) {
	if path == "" {
		return CtlConfig{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return CtlConfig{}, fmt.Errorf("read config: %w", err)
	}
	var cfg CtlConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return CtlConfig{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
