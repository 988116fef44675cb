package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleConfig = `{
  "listen": [{"addr": ":8080", "backlog": 128}],
  "log_level": "info",
  "access_log": "/var/log/nxserve/access.log",
  "cache": {"root": "/var/cache/nxserve"},
  "routes": [{"prefix": "/", "handler": "fileserver", "dir": "/var/www"}]
}`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "nxserve.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidDocument(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Listen) != 1 || cfg.Listen[0].Addr != ":8080" {
		t.Fatalf("unexpected listen entries: %+v", cfg.Listen)
	}
	if cfg.Cache.Root != "/var/cache/nxserve" {
		t.Fatalf("unexpected cache root: %q", cfg.Cache.Root)
	}
}

func TestLoadMissingRequiredFieldFails(t *testing.T) {
	path := writeConfig(t, `{"listen": [{"backlog": 1}], "cache": {"root": "/x"}}`)
	if _, err := Load(path, nil); err == nil {
		t.Fatal("expected validation error for listen entry missing addr")
	}
}

func TestLoadSecureListenRequiresCertAndKey(t *testing.T) {
	path := writeConfig(t, `{"listen": [{"addr": ":8443", "secure": true}], "cache": {"root": "/x"}}`)
	if _, err := Load(path, nil); err == nil {
		t.Fatal("expected validation error for secure listener missing cert/key")
	}
}

func TestFlagOverrideChangesOnlyOverriddenField(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	fs := FlagSet()
	fs.Parse([]string{"--log-level=debug"})

	cfg, err := Load(path, fs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log level override, got %q", cfg.LogLevel)
	}
	if cfg.AccessLog != "/var/log/nxserve/access.log" {
		t.Fatalf("expected access log unchanged, got %q", cfg.AccessLog)
	}
}
