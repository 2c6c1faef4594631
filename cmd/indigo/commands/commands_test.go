package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/indigoops/indigo/pkg/blueprint"
	"github.com/indigoops/indigo/pkg/config"
	"github.com/indigoops/indigo/pkg/engine"
)

const testBlueprint = `{
  "schema_version": "1.0",
  "data_model": {
    "custom_fields": [
      {"name": "Roof Age", "dataType": "NUMERICAL", "key": "roof_age"},
      {"name": "Insurance Claim", "dataType": "TEXT", "key": "insurance_claim"}
    ],
    "tags": ["storm-lead"]
  },
  "pipelines": [{"name": "Inspections", "stages": ["Requested", "Scheduled", "Completed"]}]
}`

type workspace struct {
	dir       string
	config    string
	blueprint string
}

func newWorkspace(t *testing.T) *workspace {
	t.Helper()

	for _, key := range []string{config.EnvDBPath, config.EnvPlatformURL, config.EnvLogLevel} {
		t.Setenv(key, "")
	}

	dir := t.TempDir()
	ws := &workspace{
		dir:       dir,
		config:    filepath.Join(dir, "indigo.yaml"),
		blueprint: filepath.Join(dir, "blueprint.json"),
	}

	cfg := "database:\n  path: " + filepath.Join(dir, "indigo.db") + "\n" +
		"telemetry:\n  logging:\n    level: error\n"
	if err := os.WriteFile(ws.config, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(ws.blueprint, []byte(testBlueprint), 0o600); err != nil {
		t.Fatal(err)
	}
	return ws
}

func (ws *workspace) run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := newRootCommand("test", "none", "today")
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", ws.config}, args...))

	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestHashCommand(t *testing.T) {
	ws := newWorkspace(t)

	out, err := ws.run(t, "hash", ws.blueprint)
	if err != nil {
		t.Fatalf("hash failed: %v\n%s", err, out)
	}

	bp, err := blueprint.Load(ws.blueprint)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != blueprint.ComputePlanHash(bp) {
		t.Errorf("hash output = %q, want %q", out, blueprint.ComputePlanHash(bp))
	}
}

func TestDryRunCommand(t *testing.T) {
	ws := newWorkspace(t)

	out, err := ws.run(t, "dry-run", "--tenant", "loc_1", ws.blueprint)
	if err != nil {
		t.Fatalf("dry-run failed: %v\n%s", err, out)
	}

	want := []string{
		"Step 1: POST /v2/locations/loc_1/customFields",
		"Step 2: POST /v2/locations/loc_1/customFields",
		"Step 3: POST /v2/locations/loc_1/tags",
		"Step 4: POST /v2/locations/loc_1/pipelines",
	}
	for _, w := range want {
		if !strings.Contains(out, w) {
			t.Errorf("dry-run output missing %q:\n%s", w, out)
		}
	}

	if _, err := os.Stat(filepath.Join(ws.dir, "indigo.db")); !os.IsNotExist(err) {
		t.Error("dry-run should not create the database")
	}
}

func TestDryRunCommand_RequiresTenant(t *testing.T) {
	ws := newWorkspace(t)

	if _, err := ws.run(t, "dry-run", ws.blueprint); err == nil {
		t.Fatal("expected error without --tenant")
	}
}

func TestValidateCommand(t *testing.T) {
	ws := newWorkspace(t)

	out, err := ws.run(t, "validate", ws.blueprint)
	if err != nil {
		t.Fatalf("validate failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "✓ Blueprint is valid") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestApplySimulated(t *testing.T) {
	ws := newWorkspace(t)

	if _, err := ws.run(t, "apply", "--tenant", "loc_1", "--simulate", ws.blueprint); err == nil {
		t.Fatal("expected precondition error without credentials")
	}

	if out, err := ws.run(t, "credentials", "set", "--tenant", "loc_1", "--access-token", "tok_abcdef"); err != nil {
		t.Fatalf("credentials set failed: %v\n%s", err, out)
	}

	out, err := ws.run(t, "apply", "--tenant", "loc_1", "--simulate", ws.blueprint)
	if err != nil {
		t.Fatalf("apply failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "4 resources deployed") {
		t.Errorf("unexpected apply output:\n%s", out)
	}

	out, err = ws.run(t, "--json", "status", "--tenant", "loc_1")
	if err != nil {
		t.Fatalf("status failed: %v\n%s", err, out)
	}

	var report struct {
		Status *engine.BuildStatus `json:"status"`
		Runs   []json.RawMessage   `json:"runs"`
	}
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("status output is not JSON: %v\n%s", err, out)
	}
	if report.Status.Status != engine.BuildStateSuccess {
		t.Errorf("status = %s, want SUCCESS", report.Status.Status)
	}
	if len(report.Status.DeployedResourceIDs) != 4 {
		t.Errorf("deployed = %d, want 4", len(report.Status.DeployedResourceIDs))
	}
	if len(report.Runs) != 1 {
		t.Errorf("runs = %d, want 1 (precondition failures are not recorded)", len(report.Runs))
	}

	out, err = ws.run(t, "activity", "--limit", "100")
	if err != nil {
		t.Fatalf("activity failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Verifying credentials for location loc_1") {
		t.Errorf("activity should include persisted build lines:\n%s", out)
	}
}

func TestCredentialsShowMasksTokens(t *testing.T) {
	ws := newWorkspace(t)

	if out, err := ws.run(t, "credentials", "set", "--tenant", "loc_9", "--access-token", "secret-token-1234"); err != nil {
		t.Fatalf("credentials set failed: %v\n%s", err, out)
	}

	out, err := ws.run(t, "credentials", "show", "--tenant", "loc_9")
	if err != nil {
		t.Fatalf("credentials show failed: %v\n%s", err, out)
	}
	if strings.Contains(out, "secret-token") || !strings.Contains(out, "****1234") {
		t.Errorf("token not masked:\n%s", out)
	}

	if _, err := ws.run(t, "credentials", "delete", "--tenant", "loc_9"); err != nil {
		t.Fatalf("credentials delete failed: %v", err)
	}
	if _, err := ws.run(t, "credentials", "show", "--tenant", "loc_9"); !engine.IsNotFound(err) {
		t.Errorf("show after delete: got %v, want not found", err)
	}
}
