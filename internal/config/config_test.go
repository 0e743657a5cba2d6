package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestInitialize(t *testing.T) {
	err := Initialize()
	if err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}

	if v == nil {
		t.Fatal("viper instance is nil after Initialize()")
	}
}

func TestDefaults(t *testing.T) {
	// Reset viper for test isolation
	err := Initialize()
	if err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}

	tests := []struct {
		key      string
		expected interface{}
		getter   func(string) interface{}
	}{
		{"base-url", "", func(k string) interface{} { return GetString(k) }},
		{"token", "", func(k string) interface{} { return GetString(k) }},
		{"target-course", int64(0), func(k string) interface{} { return GetInt64(k) }},
		{"on-duplicate", "overwrite", func(k string) interface{} { return GetString(k) }},
		{"rewrite-concurrency", 4, func(k string) interface{} { return GetInt(k) }},
		{"http-timeout", 60 * time.Second, func(k string) interface{} { return GetDuration(k) }},
		{"backfill", true, func(k string) interface{} { return GetBool(k) }},
		{"json", false, func(k string) interface{} { return GetBool(k) }},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got := tt.getter(tt.key)
			if got != tt.expected {
				t.Errorf("get(%q) = %v, want %v", tt.key, got, tt.expected)
			}
		})
	}
}

func TestEnvironmentBinding(t *testing.T) {
	tests := []struct {
		envVar string
		key    string
		value  string
	}{
		{"CMIGRATE_BASE_URL", "base-url", "https://canvas.example.edu"},
		{"CMIGRATE_TOKEN", "token", "secret-token"},
		{"CMIGRATE_ON_DUPLICATE", "on-duplicate", "rename"},
	}

	for _, tt := range tests {
		t.Run(tt.envVar, func(t *testing.T) {
			t.Setenv(tt.envVar, tt.value)

			// Re-initialize viper to pick up env var
			if err := Initialize(); err != nil {
				t.Fatalf("Initialize() returned error: %v", err)
			}
			if got := GetString(tt.key); got != tt.value {
				t.Errorf("GetString(%q) = %q, want %q", tt.key, got, tt.value)
			}
		})
	}
}

func TestProjectConfigFile(t *testing.T) {
	dir := t.TempDir()
	projectDir := filepath.Join(dir, ProjectDirName)
	if err := os.MkdirAll(projectDir, 0755); err != nil {
		t.Fatal(err)
	}
	yaml := "base-url: https://canvas.example.edu\ntarget-course: 456\nrewrite-concurrency: 8\n"
	if err := os.WriteFile(filepath.Join(projectDir, "config.yaml"), []byte(yaml), 0600); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)

	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}

	if got := GetString("base-url"); got != "https://canvas.example.edu" {
		t.Errorf("base-url = %q", got)
	}
	if got := GetInt64("target-course"); got != 456 {
		t.Errorf("target-course = %d, want 456", got)
	}
	if got := GetInt("rewrite-concurrency"); got != 8 {
		t.Errorf("rewrite-concurrency = %d, want 8", got)
	}
}

func TestNilSafety(t *testing.T) {
	// Save the current viper instance
	saved := v
	defer func() { v = saved }()

	v = nil
	if got := GetString("base-url"); got != "" {
		t.Errorf("GetString with nil viper = %q, want \"\"", got)
	}
	if got := GetBool("json"); got != false {
		t.Errorf("GetBool with nil viper = %v, want false", got)
	}
	if got := GetInt("rewrite-concurrency"); got != 0 {
		t.Errorf("GetInt with nil viper = %d, want 0", got)
	}
	if got := GetDuration("http-timeout"); got != 0 {
		t.Errorf("GetDuration with nil viper = %v, want 0", got)
	}
	if got := AllSettings(); len(got) != 0 {
		t.Errorf("AllSettings with nil viper = %v, want empty map", got)
	}
}

func TestSetYamlConfig(t *testing.T) {
	dir := t.TempDir()
	projectDir := filepath.Join(dir, ProjectDirName)
	if err := os.MkdirAll(projectDir, 0755); err != nil {
		t.Fatal(err)
	}
	existing := "# on-duplicate: rename\nbase-url: https://old.example.edu\n"
	configPath := filepath.Join(projectDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(existing), 0600); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)

	if err := SetYamlConfig("base-url", "https://new.example.edu"); err != nil {
		t.Fatalf("SetYamlConfig: %v", err)
	}
	if err := SetYamlConfig("on-duplicate", "rename"); err != nil {
		t.Fatalf("SetYamlConfig: %v", err)
	}
	if err := SetYamlConfig("target-course", "456"); err != nil {
		t.Fatalf("SetYamlConfig: %v", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if !strings.Contains(content, "base-url: https://new.example.edu") {
		t.Errorf("existing key not updated:\n%s", content)
	}
	if strings.Contains(content, "# on-duplicate") {
		t.Errorf("commented key not uncommented:\n%s", content)
	}
	if !strings.Contains(content, "on-duplicate: rename") {
		t.Errorf("commented key not set:\n%s", content)
	}
	if !strings.Contains(content, "target-course: 456") {
		t.Errorf("new key not appended:\n%s", content)
	}
}

func TestLoadLocalConfig(t *testing.T) {
	projectDir := t.TempDir()
	yaml := "base-url: https://canvas.example.edu\ntarget-course: 456\nexport-dir: ./export\n"
	if err := os.WriteFile(filepath.Join(projectDir, "config.yaml"), []byte(yaml), 0600); err != nil {
		t.Fatal(err)
	}

	cfg := LoadLocalConfig(projectDir)
	if cfg.BaseURL != "https://canvas.example.edu" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.TargetCourse != 456 {
		t.Errorf("TargetCourse = %d, want 456", cfg.TargetCourse)
	}
	if cfg.ExportDir != "./export" {
		t.Errorf("ExportDir = %q", cfg.ExportDir)
	}

	t.Setenv("CMIGRATE_EXPORT_DIR", "/elsewhere")
	cfg = LoadLocalConfigWithEnv(projectDir)
	if cfg.ExportDir != "/elsewhere" {
		t.Errorf("env override ExportDir = %q, want /elsewhere", cfg.ExportDir)
	}
}

func TestExportDirFallsBackToLocalConfig(t *testing.T) {
	saved := v
	defer func() { v = saved }()

	dir := t.TempDir()
	projectDir := filepath.Join(dir, ProjectDirName)
	if err := os.MkdirAll(projectDir, 0755); err != nil {
		t.Fatal(err)
	}
	yaml := "export-dir: ./export/123\n"
	if err := os.WriteFile(filepath.Join(projectDir, "config.yaml"), []byte(yaml), 0600); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)

	// Without an initialized viper the project file is read directly.
	v = nil
	if got := ExportDir(); got != "./export/123" {
		t.Errorf("ExportDir with nil viper = %q, want ./export/123", got)
	}

	// Once viper is initialized, its value wins.
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	if got := ExportDir(); got != "./export/123" {
		t.Errorf("ExportDir after Initialize = %q, want ./export/123", got)
	}
}

func TestLoadLocalConfigMissingFile(t *testing.T) {
	cfg := LoadLocalConfig(t.TempDir())
	if cfg == nil {
		t.Fatal("LoadLocalConfig returned nil for missing file")
	}
	if cfg.BaseURL != "" || cfg.TargetCourse != 0 {
		t.Errorf("expected zero config, got %+v", cfg)
	}
}
