package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LocalConfig is the subset of config.yaml read directly from disk rather
// than through the viper singleton. Needed when the CWD has changed since
// initialization or before Initialize has run.
//
// Using proper YAML parsing handles edge cases like comments, indentation,
// and special characters that regex-based parsing would miss.
type LocalConfig struct {
	BaseURL      string `yaml:"base-url"`
	TargetCourse int64  `yaml:"target-course"`
	ExportDir    string `yaml:"export-dir"`
	MapFile      string `yaml:"map-file"`
}

// LoadLocalConfig reads and parses config.yaml from the given project
// directory. Returns an empty LocalConfig (not nil) if the file doesn't
// exist or can't be parsed.
func LoadLocalConfig(projectDir string) *LocalConfig {
	configPath := filepath.Join(projectDir, "config.yaml")
	data, err := os.ReadFile(configPath) // #nosec G304 - config file path from projectDir
	if err != nil {
		return &LocalConfig{}
	}

	var cfg LocalConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return &LocalConfig{}
	}

	return &cfg
}

// ExportDir resolves the export directory. The viper value wins; when the
// singleton is unavailable (Initialize failed or has not run), the project
// config file is read directly so commands keep working.
func ExportDir() string {
	if s := GetString("export-dir"); s != "" {
		return s
	}
	if v != nil {
		return ""
	}
	dir, err := FindProjectDir()
	if err != nil {
		return ""
	}
	return LoadLocalConfigWithEnv(dir).ExportDir
}

// LoadLocalConfigWithEnv reads config.yaml and applies environment variable
// overrides. Environment variables take precedence over file values.
func LoadLocalConfigWithEnv(projectDir string) *LocalConfig {
	cfg := LoadLocalConfig(projectDir)

	if envURL := os.Getenv("CMIGRATE_BASE_URL"); envURL != "" {
		cfg.BaseURL = envURL
	}
	if envDir := os.Getenv("CMIGRATE_EXPORT_DIR"); envDir != "" {
		cfg.ExportDir = envDir
	}

	return cfg
}
