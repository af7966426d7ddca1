package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.BundleIdentifier != "davsync.engine" {
		t.Errorf("Expected bundle identifier 'davsync.engine', got '%s'", cfg.BundleIdentifier)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("Expected max retries 3, got %d", cfg.MaxRetries)
	}
	if cfg.TransferConcurrency != 4 {
		t.Errorf("Expected transfer concurrency 4, got %d", cfg.TransferConcurrency)
	}
	if cfg.LogLevel != "normal" {
		t.Errorf("Expected log level 'normal', got '%s'", cfg.LogLevel)
	}
}

func TestConfigValidation(t *testing.T) {
	base := func() *Config {
		c := *DefaultConfig()
		return &c
	}

	tests := []struct {
		name      string
		mutate    func(*Config)
		wantError bool
		errorMsg  string
	}{
		{name: "valid default config"},
		{
			name:      "empty directory",
			mutate:    func(c *Config) { c.Directory = "" },
			wantError: true,
			errorMsg:  "directory must not be empty",
		},
		{
			name:      "empty bundle identifier",
			mutate:    func(c *Config) { c.BundleIdentifier = "" },
			wantError: true,
			errorMsg:  "bundleIdentifier must not be empty",
		},
		{
			name:      "max retries too high",
			mutate:    func(c *Config) { c.MaxRetries = 11 },
			wantError: true,
			errorMsg:  "maxRetries must be between 0 and 10",
		},
		{
			name:      "retry base delay too low",
			mutate:    func(c *Config) { c.RetryBaseDelayMS = 1 },
			wantError: true,
			errorMsg:  "retryBaseDelayMs must be between",
		},
		{
			name:      "request timeout out of range",
			mutate:    func(c *Config) { c.RequestTimeoutSeconds = 3700 },
			wantError: true,
			errorMsg:  "requestTimeoutSeconds must be between",
		},
		{
			name:      "transfer concurrency zero",
			mutate:    func(c *Config) { c.TransferConcurrency = 0 },
			wantError: true,
			errorMsg:  "transferConcurrency must be between",
		},
		{
			name:      "invalid log level",
			mutate:    func(c *Config) { c.LogLevel = "invalid" },
			wantError: true,
			errorMsg:  "invalid log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			if tt.mutate != nil {
				tt.mutate(cfg)
			}
			err := cfg.Validate()
			if tt.wantError {
				if err == nil {
					t.Fatalf("expected error containing %q, got nil", tt.errorMsg)
				}
				if !contains(err.Error(), tt.errorMsg) {
					t.Errorf("expected error containing %q, got %q", tt.errorMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("expected no error, got: %v", err)
			}
		})
	}
}

func TestConfigDurationGetters(t *testing.T) {
	cfg := &Config{RetryBaseDelayMS: 1000, RequestTimeoutSeconds: 60}

	if d := cfg.GetRetryBaseDelay(); d != 1000*time.Millisecond {
		t.Errorf("Expected retry base delay 1000ms, got %v", d)
	}
	if d := cfg.GetRequestTimeout(); d != 60*time.Second {
		t.Errorf("Expected request timeout 60s, got %v", d)
	}
}

func TestConfigSaveAndLoad(t *testing.T) {
	tempDir := t.TempDir()

	originalHome := os.Getenv("HOME")
	os.Setenv("HOME", tempDir)
	defer os.Setenv("HOME", originalHome)
	if runtime.GOOS == "windows" {
		originalUserProfile := os.Getenv("USERPROFILE")
		os.Setenv("USERPROFILE", tempDir)
		defer os.Setenv("USERPROFILE", originalUserProfile)
	}

	cfg := &Config{
		Directory:             filepath.Join(tempDir, "state"),
		BundleIdentifier:      "test.bundle",
		MaxRetries:            5,
		RetryBaseDelayMS:      2000,
		RequestTimeoutSeconds: 120,
		TransferConcurrency:   8,
		LogLevel:              "verbose",
		ColorOutput:           false,
	}

	configDir, err := GetConfigDir()
	if err != nil {
		t.Fatalf("Failed to get config dir: %v", err)
	}
	if err := os.MkdirAll(configDir, 0700); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}

	fullConfigPath := filepath.Join(configDir, ConfigFileName)
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		t.Fatalf("Failed to marshal config: %v", err)
	}
	if err := os.WriteFile(fullConfigPath, data, 0600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	loadedCfg := DefaultConfig()
	if err := loadedCfg.loadFromFile(); err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if loadedCfg.BundleIdentifier != cfg.BundleIdentifier {
		t.Errorf("Expected bundle identifier '%s', got '%s'", cfg.BundleIdentifier, loadedCfg.BundleIdentifier)
	}
	if loadedCfg.TransferConcurrency != cfg.TransferConcurrency {
		t.Errorf("Expected transfer concurrency %d, got %d", cfg.TransferConcurrency, loadedCfg.TransferConcurrency)
	}
	if loadedCfg.MaxRetries != cfg.MaxRetries {
		t.Errorf("Expected max retries %d, got %d", cfg.MaxRetries, loadedCfg.MaxRetries)
	}
}

func TestLoadFromEnv(t *testing.T) {
	keys := []string{
		"DAVSYNC_DIRECTORY", "DAVSYNC_BUNDLE_IDENTIFIER", "DAVSYNC_MAX_RETRIES",
		"DAVSYNC_TRANSFER_CONCURRENCY", "DAVSYNC_LOG_LEVEL",
	}
	original := map[string]string{}
	for _, k := range keys {
		original[k] = os.Getenv(k)
	}
	defer func() {
		for k, v := range original {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	os.Setenv("DAVSYNC_DIRECTORY", "/tmp/env-dir")
	os.Setenv("DAVSYNC_BUNDLE_IDENTIFIER", "env.bundle")
	os.Setenv("DAVSYNC_MAX_RETRIES", "7")
	os.Setenv("DAVSYNC_TRANSFER_CONCURRENCY", "16")
	os.Setenv("DAVSYNC_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	cfg.loadFromEnv()

	if cfg.Directory != "/tmp/env-dir" {
		t.Errorf("Expected directory '/tmp/env-dir', got '%s'", cfg.Directory)
	}
	if cfg.BundleIdentifier != "env.bundle" {
		t.Errorf("Expected bundle identifier 'env.bundle', got '%s'", cfg.BundleIdentifier)
	}
	if cfg.MaxRetries != 7 {
		t.Errorf("Expected max retries 7, got %d", cfg.MaxRetries)
	}
	if cfg.TransferConcurrency != 16 {
		t.Errorf("Expected transfer concurrency 16, got %d", cfg.TransferConcurrency)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("Expected log level 'debug', got '%s'", cfg.LogLevel)
	}
}

func TestParseBool(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"true", true}, {"True", true}, {"TRUE", true}, {"1", true},
		{"yes", true}, {"YES", true}, {"on", true}, {"ON", true},
		{"false", false}, {"False", false}, {"0", false},
		{"no", false}, {"off", false}, {"", false}, {"invalid", false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseBool(tt.input); got != tt.want {
				t.Errorf("parseBool(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return len(substr) == 0
}
