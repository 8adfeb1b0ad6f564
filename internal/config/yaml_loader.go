package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// applyYAMLConfig overlays the YAML file at path onto cfg. Only keys present
// in the file are changed; nested sections use the mapstructure names of the
// Config fields (e.g. session.warning_threshold).
func applyYAMLConfig(path string, cfg *Config) error {
	v := viper.New()
	v.SetConfigFile(filepath.Clean(path))

	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		ext = "yaml"
	}
	v.SetConfigType(ext)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to decode config file %s: %w", path, err)
	}

	return nil
}
