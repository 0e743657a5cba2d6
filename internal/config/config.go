// Package config manages cmigrate configuration through a layered viper
// instance: defaults, then the project's .cmigrate/config.yaml, then
// CMIGRATE_* environment variables, then command-line flags bound by cmd.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ProjectDirName is the per-project configuration directory, discovered by
// walking up from the working directory.
const ProjectDirName = ".cmigrate"

var v *viper.Viper

// Initialize sets up the viper instance with defaults, environment binding,
// and the project config file when one exists. Safe to call repeatedly;
// each call rebuilds the instance (tests rely on this for isolation).
func Initialize() error {
	nv := viper.New()

	nv.SetDefault("base-url", "")
	nv.SetDefault("token", "")
	nv.SetDefault("target-course", 0)
	nv.SetDefault("export-dir", "")
	nv.SetDefault("map-file", filepath.Join(ProjectDirName, "idmap.json"))
	nv.SetDefault("on-duplicate", "overwrite")
	nv.SetDefault("rewrite-concurrency", 4)
	nv.SetDefault("http-timeout", 60*time.Second)
	nv.SetDefault("backfill", true)
	nv.SetDefault("json", false)

	nv.SetEnvPrefix("CMIGRATE")
	nv.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	nv.AutomaticEnv()

	if dir, err := FindProjectDir(); err == nil {
		path := filepath.Join(dir, "config.yaml")
		if _, err := os.Stat(path); err == nil {
			nv.SetConfigFile(path)
			if err := nv.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read config.yaml: %w", err)
			}
		}
	}

	v = nv
	return nil
}

// Viper exposes the underlying instance for flag binding in cmd.
// Returns nil before Initialize.
func Viper() *viper.Viper {
	return v
}

// FindProjectDir locates the nearest .cmigrate directory at or above the
// working directory.
func FindProjectDir() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	for dir := cwd; ; dir = filepath.Dir(dir) {
		candidate := filepath.Join(dir, ProjectDirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
		if dir == filepath.Dir(dir) {
			break
		}
	}
	return "", fmt.Errorf("no %s directory found (run 'cmigrate init' first)", ProjectDirName)
}

// GetString returns a string config value. Nil-safe before Initialize.
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool returns a boolean config value. Nil-safe before Initialize.
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt returns an integer config value. Nil-safe before Initialize.
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetInt64 returns a 64-bit integer config value. Nil-safe before Initialize.
func GetInt64(key string) int64 {
	if v == nil {
		return 0
	}
	return v.GetInt64(key)
}

// GetDuration returns a duration config value. Nil-safe before Initialize.
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// AllSettings returns every resolved setting. Nil-safe before Initialize.
func AllSettings() map[string]any {
	if v == nil {
		return map[string]any{}
	}
	return v.AllSettings()
}
