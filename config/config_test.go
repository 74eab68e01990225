package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mini-xpc.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config is invalid: %v", err)
	}
	if cfg.Codec.MaxDepth != 64 {
		t.Errorf("expected max_depth=64, got %d", cfg.Codec.MaxDepth)
	}
	if cfg.Codec.MaxHandles != 253 {
		t.Errorf("expected max_handles=253, got %d", cfg.Codec.MaxHandles)
	}
	request, shutdown := cfg.Server.Timeouts()
	if request != 5*time.Second || shutdown != 10*time.Second {
		t.Errorf("expected timeouts 5s/10s, got %s/%s", request, shutdown)
	}
	if _, ok := cfg.Registry.Etcd(nil); ok {
		t.Error("expected no registry without endpoints")
	}
}

func TestLoad_RequiresConfigVariable(t *testing.T) {
	t.Setenv("MINI_XPC_CONFIG", "")
	_, err := Load()
	if err == nil {
		t.Fatal("expected error when MINI_XPC_CONFIG not set, got nil")
	}
	if !strings.HasPrefix(err.Error(), "MINI_XPC_CONFIG environment variable not set") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_WithConfigVariable(t *testing.T) {
	path := writeConfig(t, `
codec:
  max_depth: 8
server:
  socket_path: ${MINI_XPC_TEST_DIR}/echo.sock
  service_name: echo
  rate_limit: 100
  burst: 10
  request_timeout: 250ms
registry:
  endpoints: [127.0.0.1:2379]
log:
  level: debug
  development: true
`)
	t.Setenv("MINI_XPC_TEST_DIR", "/run/test")
	t.Setenv("MINI_XPC_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Server.SocketPath != "/run/test/echo.sock" {
		t.Errorf("expected expanded socket path, got %s", cfg.Server.SocketPath)
	}
	limits := cfg.Codec.Limits()
	if limits.Codec.MaxDepth != 8 || limits.MaxMessageSize != 16<<20 {
		t.Errorf("unexpected limits %+v", limits)
	}
	if request, _ := cfg.Server.Timeouts(); request != 250*time.Millisecond {
		t.Errorf("expected request_timeout=250ms, got %s", request)
	}
	etcd, ok := cfg.Registry.Etcd(nil)
	if !ok || etcd.Endpoints[0] != "127.0.0.1:2379" || etcd.Prefix != "/mini-xpc/" || etcd.DialTimeout != 5*time.Second {
		t.Errorf("unexpected etcd config %+v", etcd)
	}

	logger, err := cfg.Log.Build()
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("expected debug logging enabled")
	}
}

func TestExpandDefault(t *testing.T) {
	t.Setenv("MINI_XPC_UNSET_DIR", "")
	if got := expandVars("${MINI_XPC_UNSET_DIR:-/tmp}/x.sock"); got != "/tmp/x.sock" {
		t.Errorf("expandVars = %q", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"depth", func(c *Config) { c.Codec.MaxDepth = 0 }, "codec.max_depth"},
		{"message size", func(c *Config) { c.Codec.MaxMessageSize = 4 }, "codec.max_message_size"},
		{"handles", func(c *Config) { c.Codec.MaxHandles = 1000 }, "codec.max_handles"},
		{"socket", func(c *Config) { c.Server.SocketPath = "" }, "server.socket_path"},
		{"burst", func(c *Config) { c.Server.RateLimit, c.Server.Burst = 5, 0 }, "server.burst"},
		{"timeout", func(c *Config) { c.Server.RequestTimeout = "soon" }, "server.request_timeout"},
		{"negative timeout", func(c *Config) { c.Server.ShutdownTimeout = "-1s" }, "server.shutdown_timeout"},
		{"service name", func(c *Config) { c.Registry.Endpoints = []string{"x:2379"} }, "server.service_name"},
		{"lease", func(c *Config) { c.Registry.LeaseTTL = 0 }, "registry.lease_ttl"},
		{"level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestLoadFile_Invalid(t *testing.T) {
	path := writeConfig(t, "codec:\n  max_depth: -1\n")
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected validation error")
	}
	path = writeConfig(t, "codec: [not, a, map]\n")
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
