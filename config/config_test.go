package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestServiceConfigApplyDefaults(t *testing.T) {
	t.Run("empty environment defaults to development", func(t *testing.T) {
		cfg := ServiceConfig{Name: "svc"}
		cfg.ApplyDefaults()
		if cfg.Environment != "development" {
			t.Errorf("expected 'development', got %q", cfg.Environment)
		}
		if !cfg.Debug {
			t.Error("expected debug=true for development")
		}
	})

	t.Run("production environment keeps debug false", func(t *testing.T) {
		cfg := ServiceConfig{Name: "svc", Environment: "production"}
		cfg.ApplyDefaults()
		if cfg.Debug {
			t.Error("expected debug=false for production")
		}
	})

	t.Run("service name propagates into logging", func(t *testing.T) {
		cfg := ServiceConfig{Name: "chat-service"}
		cfg.ApplyDefaults()
		if cfg.Logging.ServiceName != "chat-service" {
			t.Errorf("expected logging service name 'chat-service', got %q", cfg.Logging.ServiceName)
		}
		if cfg.Logging.Level != "info" {
			t.Errorf("expected logging defaults applied, got level %q", cfg.Logging.Level)
		}
	})

	t.Run("explicit logging service name wins", func(t *testing.T) {
		cfg := ServiceConfig{Name: "chat-service"}
		cfg.Logging.ServiceName = "custom"
		cfg.ApplyDefaults()
		if cfg.Logging.ServiceName != "custom" {
			t.Errorf("expected 'custom', got %q", cfg.Logging.ServiceName)
		}
	})
}

func TestServiceConfigValidate(t *testing.T) {
	valid := func(name, env string) ServiceConfig {
		cfg := ServiceConfig{Name: name, Environment: env}
		cfg.Logging.ApplyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		cfg     ServiceConfig
		wantErr bool
		errMsg  string
	}{
		{"valid development", valid("svc", "development"), false, ""},
		{"valid staging", valid("svc", "staging"), false, ""},
		{"valid production", valid("svc", "production"), false, ""},
		{"missing name", valid("", "production"), true, "config.name is required"},
		{"invalid environment", valid("svc", "invalid"), true, "config.environment must be one of"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if !strings.Contains(err.Error(), tc.errMsg) {
					t.Errorf("expected error containing %q, got %q", tc.errMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestServiceConfigValidateBadLogging(t *testing.T) {
	cfg := ServiceConfig{Name: "svc", Environment: "production"}
	cfg.Logging.Level = "shouty"
	cfg.Logging.Format = "json"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for invalid logging level")
	}
	if !strings.Contains(err.Error(), "config.logging:") {
		t.Errorf("expected wrapped logging error, got %q", err.Error())
	}
}

func TestLoadConfigWithYAML(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yml")

	yamlContent := `
name: chat-service
environment: staging
version: "1.0.0"
logging:
  level: debug
  format: json
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	type testConfig struct {
		ServiceConfig `yaml:",inline" mapstructure:",squash"`
	}

	var cfg testConfig
	err := LoadConfig("chat-service", &cfg, WithConfigFile(configPath))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Name != "chat-service" {
		t.Errorf("expected name 'chat-service', got %q", cfg.Name)
	}
	if cfg.Environment != "staging" {
		t.Errorf("expected environment 'staging', got %q", cfg.Environment)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected logging level 'debug', got %q", cfg.Logging.Level)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	type testConfig struct {
		ServiceConfig `yaml:",inline" mapstructure:",squash"`
	}

	var cfg testConfig
	// With no config file found, LoadConfig should still succeed (just empty config)
	err := LoadConfig("nonexistent-service", &cfg, WithConfigFile("/nonexistent/path.yml"))
	if err != nil {
		t.Fatalf("expected LoadConfig to succeed with missing file, got %v", err)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	os.Setenv("LOGGING_LEVEL", "warn")
	defer os.Unsetenv("LOGGING_LEVEL")

	type testConfig struct {
		ServiceConfig `yaml:",inline" mapstructure:",squash"`
	}

	var cfg testConfig
	err := LoadConfig("env-service", &cfg, WithConfigFile("/nonexistent/path.yml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected env var to set logging level 'warn', got %q", cfg.Logging.Level)
	}
}

func TestResolverWithMockFS(t *testing.T) {
	fs := &mockFS{files: map[string]bool{
		"./cmd/my-svc/config.yml": true,
	}}
	resolver := &Resolver{FileSystem: fs}
	files := resolver.ResolveFiles("my-svc", LoaderConfig{})
	if files.ConfigFile != "./cmd/my-svc/config.yml" {
		t.Errorf("expected config file at ./cmd/my-svc/config.yml, got %q", files.ConfigFile)
	}
}

func TestResolverShortName(t *testing.T) {
	// "chat-governor" should also match cmd/governor/config.yml
	fs := &mockFS{files: map[string]bool{
		"./cmd/governor/config.yml": true,
	}}
	resolver := &Resolver{FileSystem: fs}
	files := resolver.ResolveFiles("chat-governor", LoaderConfig{})
	if files.ConfigFile != "./cmd/governor/config.yml" {
		t.Errorf("expected short-name match, got %q", files.ConfigFile)
	}
}

func TestResolverExplicitPathsWin(t *testing.T) {
	fs := &mockFS{files: map[string]bool{
		"./config.yml": true,
	}}
	resolver := &Resolver{FileSystem: fs}
	files := resolver.ResolveFiles("svc", LoaderConfig{
		ConfigFile: "/explicit/config.yml",
		EnvFile:    "/explicit/.env",
	})
	if files.ConfigFile != "/explicit/config.yml" {
		t.Errorf("expected explicit config path, got %q", files.ConfigFile)
	}
	if files.EnvFile != "/explicit/.env" {
		t.Errorf("expected explicit env path, got %q", files.EnvFile)
	}
}

type mockFS struct {
	files map[string]bool
}

func (m *mockFS) Exists(path string) bool   { return m.files[path] }
func (m *mockFS) LoadEnv(path string) error { return nil }
func (m *mockFS) Getwd() (string, error)    { return "/mock", nil }

func TestWithFileSystemOption(t *testing.T) {
	var lc LoaderConfig
	fs := &mockFS{}
	WithFileSystem(fs)(&lc)
	if lc.FileSystem == nil {
		t.Error("expected FileSystem to be set")
	}
}

func TestWithConfigFileOption(t *testing.T) {
	var lc LoaderConfig
	WithConfigFile("/path/to/config.yml")(&lc)
	if lc.ConfigFile != "/path/to/config.yml" {
		t.Errorf("expected config file path, got %q", lc.ConfigFile)
	}
}

func TestWithEnvFileOption(t *testing.T) {
	var lc LoaderConfig
	WithEnvFile("/path/to/.env")(&lc)
	if lc.EnvFile != "/path/to/.env" {
		t.Errorf("expected env file path, got %q", lc.EnvFile)
	}
}

func TestGenerateEnvKeyVariants(t *testing.T) {
	tests := []struct {
		key  string
		want []string
	}{
		{"LOGGING_LEVEL", []string{"logging_level", "logging.level"}},
		{"DEBUG", []string{"debug"}},
	}
	for _, tc := range tests {
		t.Run(tc.key, func(t *testing.T) {
			got := generateEnvKeyVariants(tc.key)
			for _, want := range tc.want {
				found := false
				for _, g := range got {
					if g == want {
						found = true
						break
					}
				}
				if !found {
					t.Errorf("variants for %q missing %q (got %v)", tc.key, want, got)
				}
			}
		})
	}
}
