package main

import (
	"encoding/json"
	"runtime"
	"strings"
	"testing"

	"mercator-hq/turnpike/pkg/telemetry/health"
)

func TestVersionCommand(t *testing.T) {
	origVersion, origCommit := Version, GitCommit
	Version, GitCommit = "0.1.0-test", "abc123"
	defer func() { Version, GitCommit = origVersion, origCommit }()

	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}

	for _, want := range []string{"Turnpike 0.1.0-test", "commit:   abc123", runtime.Version(), runtime.GOOS + "/" + runtime.GOARCH} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	out, err = execute(t, "version", "--short")
	if err != nil {
		t.Fatalf("version --short failed: %v", err)
	}
	if out != "0.1.0-test\n" {
		t.Errorf("short output = %q", out)
	}

	out, err = execute(t, "version", "-o", "json")
	if err != nil {
		t.Fatalf("version -o json failed: %v", err)
	}
	var info health.VersionInfo
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if info.Version != "0.1.0-test" || info.Commit != "abc123" || info.GoVersion != runtime.Version() {
		t.Errorf("unexpected version info: %+v", info)
	}

	if _, err := execute(t, "version", "-o", "yaml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestCommandTree(t *testing.T) {
	want := []string{"run", "connect", "signal", "batches", "config", "version"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("command %q not registered", name)
		}
	}
	for _, path := range [][]string{{"batches", "list"}, {"batches", "show"}, {"batches", "prune"}, {"config", "validate"}, {"config", "show"}} {
		cmd, _, err := rootCmd.Find(path)
		if err != nil || cmd.Name() != path[1] {
			t.Errorf("command %v not registered", path)
		}
	}
}
