package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const denyAllRego = `package test.policy

import rego.v1

# Denies every plan.
deny contains "always" if {
	true
}
`

func TestLoadFromFile_Rego(t *testing.T) {
	loader := NewLoader(testLogger())
	path := filepath.Join(t.TempDir(), "deny-all.rego")
	if err := os.WriteFile(path, []byte(denyAllRego), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	policy, err := loader.loadFromFile(path)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if policy.Name != "deny-all" {
		t.Errorf("Expected name 'deny-all', got '%s'", policy.Name)
	}
	if policy.Rego != denyAllRego {
		t.Error("Rego content doesn't match")
	}
	if !policy.Enabled || policy.Severity != SeverityWarning || policy.Builtin {
		t.Errorf("unexpected defaults: %+v", policy)
	}
	if policy.Metadata["source"] != path {
		t.Errorf("expected source metadata %s, got %v", path, policy.Metadata["source"])
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{
			name:    "valid",
			content: `{"name":"from-json","rego":"package j\n\nimport rego.v1\n\ndeny contains \"x\" if { false }","enabled":true,"builtin":true}`,
		},
		{name: "no name", content: `{"rego":"package j"}`, wantErr: true},
		{name: "invalid json", content: `{`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := NewLoader(testLogger())
			path := filepath.Join(t.TempDir(), "policy.json")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("Failed to write test file: %v", err)
			}

			policy, err := loader.loadFromFile(path)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Failed to load policy: %v", err)
			}
			if policy.Name != "from-json" || policy.Severity != SeverityWarning {
				t.Errorf("unexpected policy: %+v", policy)
			}
			if policy.Builtin {
				t.Error("loaded policies must not claim to be built-in")
			}
		})
	}
}

func TestLoadFromPaths_SkipsUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"a.rego":          denyAllRego,
		"nested/b.rego":   denyAllRego,
		"README.md":       "# not a policy",
		"nested/bad.json": "{",
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir failed: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}

	policies, err := NewLoader(testLogger()).LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths failed: %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("expected 2 policies, got %d", len(policies))
	}
}

func TestLoadFromPaths_MissingPath(t *testing.T) {
	_, err := NewLoader(testLogger()).LoadFromPaths(context.Background(), []string{"/does/not/exist"})
	if err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestExtractDescription(t *testing.T) {
	content := "# First line.\n# Second line.\n\npackage x\n# not part of it\n"
	if got := extractDescription(content); got != "First line. Second line." {
		t.Errorf("unexpected description %q", got)
	}
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watched.rego")
	if err := os.WriteFile(path, []byte(denyAllRego), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	loader := NewLoader(testLogger())
	if _, err := loader.LoadFromPaths(context.Background(), []string{dir}); err != nil {
		t.Fatalf("initial load failed: %v", err)
	}

	reloaded := make(chan []Policy, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := loader.Watch(ctx, []string{dir}, func(p []Policy) error {
		reloaded <- p
		return nil
	})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	updated := denyAllRego + "\n# updated\n"
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	select {
	case policies := <-reloaded:
		if len(policies) != 1 || policies[0].Rego != updated {
			t.Errorf("expected the updated policy after reload, got %+v", policies)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	if err := loader.StopWatching(); err != nil {
		t.Errorf("StopWatching failed: %v", err)
	}
	if err := loader.StopWatching(); err != nil {
		t.Errorf("second StopWatching failed: %v", err)
	}
}
