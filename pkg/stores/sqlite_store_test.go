package stores

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/indigoops/indigo/pkg/engine"
	"github.com/indigoops/indigo/pkg/telemetry"
)

// setupTestStore creates a migrated store backed by a temp-dir database.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := Open(context.Background(), Config{
		Path: filepath.Join(t.TempDir(), "indigo.db"),
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestNewSQLiteStore_RequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}, zerolog.Nop()); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: filepath.Join(t.TempDir(), "life.db")}, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err == nil {
		t.Error("expected health check to fail before Init")
	}
	if err := store.Migrate(ctx); err == nil {
		t.Error("expected Migrate to fail before Init")
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"build_status", "build_runs", "credentials", "activity"} {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// Running migrations twice is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}
}

func TestBuildStatusRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	lastRun := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	status := engine.NewBuildStatus("run-1", "loc-1", "indigo_hash_0123456789abcdef", lastRun)
	status.DeployedResourceIDs["loc-1:indigo_hash_0123456789abcdef:tag_vip"] = "res-1"
	status.Logs = append(status.Logs, "Starting build", "Step 1/1: Create tag \"vip\"")

	if err := store.SaveBuildStatus(ctx, status); err != nil {
		t.Fatalf("SaveBuildStatus failed: %v", err)
	}

	got, err := store.GetBuildStatus(ctx, "loc-1")
	if err != nil {
		t.Fatalf("GetBuildStatus failed: %v", err)
	}

	if got.RunID != "run-1" || got.PlanHash != status.PlanHash || got.Status != engine.BuildStateExecuting {
		t.Errorf("unexpected status: %+v", got)
	}
	if got.DeployedResourceIDs["loc-1:indigo_hash_0123456789abcdef:tag_vip"] != "res-1" {
		t.Errorf("deployed ids not preserved: %v", got.DeployedResourceIDs)
	}
	if len(got.Logs) != 2 || got.Logs[1] != status.Logs[1] {
		t.Errorf("logs not preserved: %v", got.Logs)
	}
	if !got.LastRunAt.Equal(lastRun) {
		t.Errorf("expected lastRunAt %v, got %v", lastRun, got.LastRunAt)
	}

	// Overwrite with the terminal state.
	status.Status = engine.BuildStateFailed
	status.Error = "[transient] step 2 failed"
	status.LastRunAt = lastRun.Add(time.Minute)
	if err := store.SaveBuildStatus(ctx, status); err != nil {
		t.Fatalf("SaveBuildStatus failed: %v", err)
	}

	got, err = store.GetBuildStatus(ctx, "loc-1")
	if err != nil {
		t.Fatalf("GetBuildStatus failed: %v", err)
	}
	if got.Status != engine.BuildStateFailed || got.Error != status.Error {
		t.Errorf("expected overwritten FAILED status, got %s %q", got.Status, got.Error)
	}
}

func TestBuildStatus_EmptyCollections(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	status := &engine.BuildStatus{
		RunID:     "run-empty",
		TenantID:  "loc-empty",
		PlanHash:  "indigo_hash_ffffffffffffffff",
		Status:    engine.BuildStateSuccess,
		LastRunAt: time.Now(),
	}
	if err := store.SaveBuildStatus(ctx, status); err != nil {
		t.Fatalf("SaveBuildStatus failed: %v", err)
	}

	got, err := store.GetBuildStatus(ctx, "loc-empty")
	if err != nil {
		t.Fatalf("GetBuildStatus failed: %v", err)
	}
	if got.DeployedResourceIDs == nil || got.Logs == nil {
		t.Errorf("expected empty, non-nil collections, got %v / %v", got.DeployedResourceIDs, got.Logs)
	}
}

func TestGetBuildStatus_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetBuildStatus(context.Background(), "missing")
	if !engine.IsNotFound(err) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestSaveBuildStatus_RequiresLocation(t *testing.T) {
	store := setupTestStore(t)

	err := store.SaveBuildStatus(context.Background(), &engine.BuildStatus{RunID: "run-1"})
	if !engine.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestListBuildRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, loc := range []string{"loc-a", "loc-b", "loc-a"} {
		status := engine.NewBuildStatus(fmt.Sprintf("run-%d", i+1), loc, "indigo_hash_0000000000000000", base.Add(time.Duration(i)*time.Hour))
		if err := store.SaveBuildStatus(ctx, status); err != nil {
			t.Fatalf("SaveBuildStatus failed: %v", err)
		}
		status.Status = engine.BuildStateSuccess
		status.DeployedResourceIDs["k"] = "v"
		status.LastRunAt = status.LastRunAt.Add(time.Minute)
		if err := store.SaveBuildStatus(ctx, status); err != nil {
			t.Fatalf("SaveBuildStatus failed: %v", err)
		}
	}

	tests := []struct {
		name     string
		location string
		opts     ListOptions
		want     []string
	}{
		{name: "one location", location: "loc-a", want: []string{"run-3", "run-1"}},
		{name: "all locations", want: []string{"run-3", "run-2", "run-1"}},
		{name: "paged", opts: ListOptions{Limit: 1, Offset: 1}, want: []string{"run-2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, err := store.ListBuildRuns(ctx, tt.location, tt.opts)
			if err != nil {
				t.Fatalf("ListBuildRuns failed: %v", err)
			}
			if len(runs) != len(tt.want) {
				t.Fatalf("expected %d runs, got %d", len(tt.want), len(runs))
			}
			for i, run := range runs {
				if run.RunID != tt.want[i] {
					t.Errorf("run %d: expected %s, got %s", i, tt.want[i], run.RunID)
				}
			}
		})
	}

	runs, err := store.ListBuildRuns(ctx, "loc-b", ListOptions{})
	if err != nil {
		t.Fatalf("ListBuildRuns failed: %v", err)
	}
	run := runs[0]
	if run.Status != engine.BuildStateSuccess || run.DeployedCount != 1 {
		t.Errorf("expected SUCCESS with 1 deployed id, got %s/%d", run.Status, run.DeployedCount)
	}
	if !run.StartedAt.Equal(base.Add(time.Hour)) || !run.LastRunAt.Equal(base.Add(time.Hour+time.Minute)) {
		t.Errorf("unexpected run times: %v / %v", run.StartedAt, run.LastRunAt)
	}
}

func TestCredentialsCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	expires := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	creds := &engine.Credentials{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    expires,
		LocationID:   "loc-1",
		Scopes:       []string{"locations/customFields.write", "locations/tags.write"},
	}
	if err := store.SaveCredentials(ctx, creds); err != nil {
		t.Fatalf("SaveCredentials failed: %v", err)
	}

	got, err := store.GetCredentials(ctx, "loc-1")
	if err != nil {
		t.Fatalf("GetCredentials failed: %v", err)
	}
	if got.AccessToken != "access-1" || got.RefreshToken != "refresh-1" || !got.ExpiresAt.Equal(expires) {
		t.Errorf("unexpected credentials: %+v", got)
	}
	if len(got.Scopes) != 2 {
		t.Errorf("expected 2 scopes, got %v", got.Scopes)
	}

	creds.AccessToken = "access-2"
	creds.ExpiresAt = time.Time{}
	if err := store.SaveCredentials(ctx, creds); err != nil {
		t.Fatalf("SaveCredentials failed: %v", err)
	}
	got, err = store.GetCredentials(ctx, "loc-1")
	if err != nil {
		t.Fatalf("GetCredentials failed: %v", err)
	}
	if got.AccessToken != "access-2" || !got.ExpiresAt.IsZero() {
		t.Errorf("expected replaced credentials without expiry, got %+v", got)
	}

	if err := store.DeleteCredentials(ctx, "loc-1"); err != nil {
		t.Fatalf("DeleteCredentials failed: %v", err)
	}
	if _, err := store.GetCredentials(ctx, "loc-1"); !engine.IsNotFound(err) {
		t.Errorf("expected not found after delete, got %v", err)
	}
	if err := store.DeleteCredentials(ctx, "loc-1"); !engine.IsNotFound(err) {
		t.Errorf("expected not found on second delete, got %v", err)
	}
}

func TestSaveCredentials_Invalid(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		creds *engine.Credentials
	}{
		{name: "nil", creds: nil},
		{name: "no location", creds: &engine.Credentials{AccessToken: "a"}},
		{name: "no token", creds: &engine.Credentials{LocationID: "loc-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := store.SaveCredentials(ctx, tt.creds); !engine.IsPermanent(err) {
				t.Errorf("expected permanent error, got %v", err)
			}
		})
	}
}

func TestActivityPersistence(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	log := telemetry.NewActivityLog(telemetry.ActivityConfig{Capacity: 2})
	unsubscribe := log.Subscribe(store.ActivitySink(ctx), nil)
	defer unsubscribe()

	for i := 1; i <= 4; i++ {
		log.PushLog(fmt.Sprintf("line %d", i))
	}

	all, err := store.ListActivity(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("ListActivity failed: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected all 4 entries persisted beyond the ring, got %d", len(all))
	}
	if all[0].Message != "line 1" || all[3].Message != "line 4" {
		t.Errorf("expected chronological order, got %q .. %q", all[0].Message, all[3].Message)
	}

	recent, err := store.ListActivity(ctx, ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("ListActivity failed: %v", err)
	}
	if len(recent) != 2 || recent[0].Message != "line 3" || recent[1].Message != "line 4" {
		t.Errorf("unexpected recent entries: %+v", recent)
	}
}
