package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type testEndpoint struct {
	Type         string        `koanf:"type"`
	PollInterval time.Duration `koanf:"poll_interval"`
}

type testConfig struct {
	Server struct {
		Addr           string `koanf:"addr"`
		MaxConcurrency int    `koanf:"max_concurrency"`
	} `koanf:"server"`
	Endpoints       []testEndpoint `koanf:"endpoints"`
	TitleGeneration bool           `koanf:"title_generation"`
}

func TestLoadLayersFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "textgen.yaml")
	yaml := `
server:
  addr: ":9000"
endpoints:
  - type: custom-flask
    poll_interval: 2s
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TEXTGEN_SERVER__MAX_CONCURRENCY", "3")
	t.Setenv("TEXTGEN_TITLE_GENERATION", "true")

	var cfg testConfig
	cfg.Server.Addr = ":8080"
	cfg.Server.MaxConcurrency = 10
	if err := Load(path, EnvPrefix, &cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Addr != ":9000" {
		t.Errorf("Expected file to override default addr, got %q", cfg.Server.Addr)
	}
	if cfg.Server.MaxConcurrency != 3 {
		t.Errorf("Expected env to override concurrency, got %d", cfg.Server.MaxConcurrency)
	}
	if !cfg.TitleGeneration {
		t.Error("Expected title generation from env")
	}
	if len(cfg.Endpoints) != 1 || cfg.Endpoints[0].PollInterval != 2*time.Second {
		t.Errorf("Unexpected endpoints %+v", cfg.Endpoints)
	}
}

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	var cfg testConfig
	cfg.Server.Addr = ":8080"
	if err := Load(filepath.Join(t.TempDir(), "absent.yaml"), "", &cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Expected default addr, got %q", cfg.Server.Addr)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [unclosed"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	var cfg testConfig
	if err := Load(path, "", &cfg); err == nil {
		t.Error("Expected error for malformed yaml")
	}
}
