package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mercator-hq/turnpike/pkg/cli"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "turnpike.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestConfigValidate(t *testing.T) {
	valid := writeConfig(t, `
gateway:
  listen_address: 127.0.0.1:9000
ledger:
  minimum_threshold: 4096
`)
	invalid := writeConfig(t, `
gateway:
  listen_address: nope
settlement:
  storage:
    backend: redis
`)

	tests := []struct {
		name     string
		args     []string
		wantCode int
		wantOut  string
	}{
		{"valid", []string{"config", "validate", "-c", valid}, cli.ExitOK, "✓ Configuration valid"},
		{"invalid", []string{"config", "validate", "-c", invalid}, cli.ExitConfig, ""},
		{"gateway needs chain", []string{"config", "validate", "-c", valid, "--gateway"}, cli.ExitConfig, ""},
		{"missing file", []string{"config", "validate", "-c", filepath.Join(t.TempDir(), "absent.yaml")}, cli.ExitFailure, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			if got := cli.ExitCode(err); got != tt.wantCode {
				t.Fatalf("exit code = %d, want %d (err %v)", got, tt.wantCode, err)
			}
			if !strings.Contains(out, tt.wantOut) {
				t.Errorf("output %q missing %q", out, tt.wantOut)
			}
		})
	}
}

func TestConfigValidate_GatewayFromEnv(t *testing.T) {
	t.Setenv("TURNPIKE_CHAIN_RPC_URL", "http://127.0.0.1:8545")
	t.Setenv("TURNPIKE_CHAIN_PRIVATE_KEY", "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")

	if _, err := execute(t, "config", "validate", "--gateway"); err != nil {
		t.Fatalf("expected environment-only config to validate, got %v", err)
	}
}

func TestConfigShow_MasksKey(t *testing.T) {
	key := "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	t.Setenv("TURNPIKE_CHAIN_PRIVATE_KEY", key)

	out, err := execute(t, "config", "show")
	if err != nil {
		t.Fatalf("config show failed: %v", err)
	}
	if strings.Contains(out, key) {
		t.Error("private key leaked into output")
	}
	for _, want := range []string{"listen_address: 0.0.0.0:8080", "dial_timeout: 10s", "0xac09***"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRun_DryRun(t *testing.T) {
	t.Setenv("TURNPIKE_CHAIN_RPC_URL", "http://127.0.0.1:8545")
	t.Setenv("TURNPIKE_CHAIN_PRIVATE_KEY", "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")

	out, err := execute(t, "run", "--dry-run", "--listen", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("run --dry-run failed: %v", err)
	}
	if !strings.Contains(out, "✓ Configuration valid") {
		t.Errorf("unexpected output %q", out)
	}

	if _, err := execute(t, "run", "--dry-run", "--log-level", "loud"); cli.ExitCode(err) != cli.ExitConfig {
		t.Errorf("expected config error for bad log level, got %v", err)
	}
}
