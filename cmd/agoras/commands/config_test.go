package commands

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/agoras-social/agoras/internal/app"
)

func noEnv() []string { return nil }

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("", nil, noEnv)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if cfg.LogFormat != app.LogFormatText {
		t.Errorf("LogFormat = %q", cfg.LogFormat)
	}
	if cfg.Store.KeyStorage != app.KeyStorageTypeFile {
		t.Errorf("KeyStorage = %q", cfg.Store.KeyStorage)
	}
	if cfg.Store.Dir == "" || cfg.Store.KeyFile == "" {
		t.Errorf("store paths not defaulted: %+v", cfg.Store)
	}
	if cfg.Authorize.Timeout != app.DefaultConfigAuthorizeTimeout {
		t.Errorf("Authorize.Timeout = %s", cfg.Authorize.Timeout)
	}
	if cfg.Refresh.MaxAttempts != app.DefaultConfigRefreshMaxAttempts {
		t.Errorf("Refresh.MaxAttempts = %d", cfg.Refresh.MaxAttempts)
	}
	if cfg.Headless {
		t.Error("Headless defaulted to true")
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
log_format = "json"
headless = true

[store]
dir = "` + filepath.ToSlash(dir) + `/creds"
key_storage = "file"

[refresh]
safety_margin = "90s"
max_attempts = 2
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := loadConfig(path, nil, noEnv)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if cfg.LogFormat != app.LogFormatJSON {
		t.Errorf("LogFormat = %q", cfg.LogFormat)
	}
	if !cfg.Headless {
		t.Error("Headless not read from file")
	}
	if cfg.Store.Dir != filepath.ToSlash(dir)+"/creds" {
		t.Errorf("Store.Dir = %q", cfg.Store.Dir)
	}
	if cfg.Refresh.SafetyMargin != 90*time.Second {
		t.Errorf("SafetyMargin = %s", cfg.Refresh.SafetyMargin)
	}
	if cfg.Refresh.MaxAttempts != 2 {
		t.Errorf("MaxAttempts = %d", cfg.Refresh.MaxAttempts)
	}
	// Key file still defaults relative to the configured dir.
	if want := filepath.Join(cfg.Store.Dir, "key"); cfg.Store.KeyFile != want {
		t.Errorf("KeyFile = %q, want %q", cfg.Store.KeyFile, want)
	}
}

func TestLoadConfigEnvironmentOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("log_format = \"text\"\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	environ := func() []string {
		return []string{
			"AGORAS_LOG_FORMAT=json",
			"AGORAS_STORE__DIR=" + dir,
			"AGORAS_HEADLESS=true",
		}
	}

	cfg, err := loadConfig(path, nil, environ)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.LogFormat != app.LogFormatJSON {
		t.Errorf("LogFormat = %q, environment should override the file", cfg.LogFormat)
	}
	if cfg.Store.Dir != dir {
		t.Errorf("Store.Dir = %q", cfg.Store.Dir)
	}
	if !cfg.Headless {
		t.Error("Headless not read from environment")
	}
}

func TestLoadConfigFlagsOverrideEverything(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[store]
dir = "` + filepath.ToSlash(dir) + `/from-file"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	environ := func() []string {
		return []string{"AGORAS_STORE__DIR=" + dir + "/from-env"}
	}

	keyFile := filepath.Join(dir, "custom-key")
	var cfg *app.Config
	cmd := &cli.Command{
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "store--dir"},
			&cli.StringFlag{Name: "store--key-storage"},
			&cli.StringFlag{Name: "store--key-file"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			var err error
			cfg, err = loadConfig(path, cmd, environ)
			return err
		},
	}

	err := cmd.Run(context.Background(), []string{"agoras",
		"--store--dir", dir + "/from-flag",
		"--store--key-storage", "file",
		"--store--key-file", keyFile,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if cfg.Store.Dir != dir+"/from-flag" {
		t.Errorf("Store.Dir = %q, flag should beat file and environment", cfg.Store.Dir)
	}
	if cfg.Store.KeyStorage != app.KeyStorageTypeFile {
		t.Errorf("KeyStorage = %q", cfg.Store.KeyStorage)
	}
	if cfg.Store.KeyFile != keyFile {
		t.Errorf("KeyFile = %q, want %q", cfg.Store.KeyFile, keyFile)
	}
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("log_format = \"yaml\"\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := loadConfig(path, nil, noEnv); err == nil {
		t.Fatal("loadConfig accepted an unknown log format")
	}

	if err := os.WriteFile(path, []byte("[store]\nkey_storage = \"vault\"\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := loadConfig(path, nil, noEnv); err == nil {
		t.Fatal("loadConfig accepted an unknown key storage backend")
	}
}
