package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"

	"github.com/indigoops/indigo/pkg/engine"
	"github.com/indigoops/indigo/pkg/telemetry"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Fixed width so text columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore persists build status, run history, credentials and activity.
// It implements engine.BuildStatusStore and engine.CredentialStore.
type SQLiteStore struct {
	db     *sql.DB
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string        `yaml:"path" validate:"required"`
	MaxOpenConns    int           `yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	BusyTimeout     time.Duration `yaml:"busy_timeout"`
}

// NewSQLiteStore creates a store. Call Init and Migrate before use.
func NewSQLiteStore(cfg Config, logger zerolog.Logger) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	return &SQLiteStore{
		cfg:    cfg,
		logger: logger.With().Str("component", "store").Logger(),
		now:    time.Now,
	}, nil
}

// Open creates, initializes and migrates a store in one call.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Init opens the database connection with WAL journaling and foreign keys.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)",
		s.cfg.Path, s.cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	s.logger.Debug().Str("path", s.cfg.Path).Msg("Database opened")
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate applies the embedded schema migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err == nil {
		s.logger.Debug().Uint("version", version).Bool("dirty", dirty).Msg("Schema migrated")
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

func storageError(op string, err error) error {
	return engine.NewTransientError(fmt.Sprintf("failed to %s", op), err).
		WithCode(engine.ErrCodeStorage).
		WithOperation(op)
}

// SaveBuildStatus overwrites the status of status.TenantID and upserts the
// run history row for status.RunID in one transaction.
func (s *SQLiteStore) SaveBuildStatus(ctx context.Context, status *engine.BuildStatus) error {
	if status == nil || status.TenantID == "" {
		return engine.NewPermanentError("build status requires a location id", nil).
			WithCode(engine.ErrCodeValidation)
	}

	deployed, err := json.Marshal(nonNilMap(status.DeployedResourceIDs))
	if err != nil {
		return fmt.Errorf("failed to encode deployed ids: %w", err)
	}
	logs, err := json.Marshal(nonNilSlice(status.Logs))
	if err != nil {
		return fmt.Errorf("failed to encode logs: %w", err)
	}

	lastRunAt := status.LastRunAt.UTC().Format(timeLayout)
	updatedAt := s.now().UTC().Format(timeLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO build_status (location_id, run_id, plan_hash, status, deployed_ids, logs, error, last_run_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(location_id) DO UPDATE SET
			run_id = excluded.run_id,
			plan_hash = excluded.plan_hash,
			status = excluded.status,
			deployed_ids = excluded.deployed_ids,
			logs = excluded.logs,
			error = excluded.error,
			last_run_at = excluded.last_run_at,
			updated_at = excluded.updated_at
	`, status.TenantID, status.RunID, status.PlanHash, string(status.Status), string(deployed), string(logs), status.Error, lastRunAt, updatedAt)
	if err != nil {
		return storageError("save build status", err)
	}

	if status.RunID != "" {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO build_runs (run_id, location_id, plan_hash, status, deployed_count, error, started_at, last_run_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_id) DO UPDATE SET
				status = excluded.status,
				deployed_count = excluded.deployed_count,
				error = excluded.error,
				last_run_at = excluded.last_run_at
		`, status.RunID, status.TenantID, status.PlanHash, string(status.Status), len(status.DeployedResourceIDs), status.Error, lastRunAt, lastRunAt)
		if err != nil {
			return storageError("record build run", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageError("commit build status", err)
	}
	return nil
}

// GetBuildStatus returns the latest status of a location.
func (s *SQLiteStore) GetBuildStatus(ctx context.Context, locationID string) (*engine.BuildStatus, error) {
	var (
		status         engine.BuildStatus
		state          string
		deployed, logs string
		lastRunAt      string
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT location_id, run_id, plan_hash, status, deployed_ids, logs, error, last_run_at
		FROM build_status
		WHERE location_id = ?
	`, locationID).Scan(
		&status.TenantID,
		&status.RunID,
		&status.PlanHash,
		&state,
		&deployed,
		&logs,
		&status.Error,
		&lastRunAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.NewNotFoundError("build status", locationID)
	}
	if err != nil {
		return nil, storageError("get build status", err)
	}

	status.Status = engine.BuildState(state)
	if err := json.Unmarshal([]byte(deployed), &status.DeployedResourceIDs); err != nil {
		return nil, fmt.Errorf("failed to decode deployed ids: %w", err)
	}
	if err := json.Unmarshal([]byte(logs), &status.Logs); err != nil {
		return nil, fmt.Errorf("failed to decode logs: %w", err)
	}
	if status.LastRunAt, err = parseTime(lastRunAt); err != nil {
		return nil, err
	}

	return &status, nil
}

// ListBuildRuns returns the run history of a location, newest first.
// An empty locationID lists runs of every location.
func (s *SQLiteStore) ListBuildRuns(ctx context.Context, locationID string, opts ListOptions) ([]*BuildRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, location_id, plan_hash, status, deployed_count, error, started_at, last_run_at
		FROM build_runs
		WHERE (? = '' OR location_id = ?)
		ORDER BY started_at DESC, run_id DESC
		LIMIT ? OFFSET ?
	`, locationID, locationID, opts.limit(), opts.Offset)
	if err != nil {
		return nil, storageError("list build runs", err)
	}
	defer rows.Close()

	runs := []*BuildRun{}
	for rows.Next() {
		var (
			run                  BuildRun
			state                string
			startedAt, lastRunAt string
		)
		if err := rows.Scan(
			&run.RunID,
			&run.LocationID,
			&run.PlanHash,
			&state,
			&run.DeployedCount,
			&run.Error,
			&startedAt,
			&lastRunAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan build run: %w", err)
		}
		run.Status = engine.BuildState(state)
		if run.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if run.LastRunAt, err = parseTime(lastRunAt); err != nil {
			return nil, err
		}
		runs = append(runs, &run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating build runs: %w", err)
	}
	return runs, nil
}

// SaveCredentials stores or replaces the credentials of creds.LocationID.
func (s *SQLiteStore) SaveCredentials(ctx context.Context, creds *engine.Credentials) error {
	if creds == nil || creds.LocationID == "" {
		return engine.NewPermanentError("credentials require a location id", nil).
			WithCode(engine.ErrCodeValidation)
	}
	if creds.AccessToken == "" {
		return engine.NewPermanentError("credentials require an access token", nil).
			WithCode(engine.ErrCodeValidation).
			WithResource(creds.LocationID)
	}

	scopes, err := json.Marshal(nonNilSlice(creds.Scopes))
	if err != nil {
		return fmt.Errorf("failed to encode scopes: %w", err)
	}

	expiresAt := ""
	if !creds.ExpiresAt.IsZero() {
		expiresAt = creds.ExpiresAt.UTC().Format(timeLayout)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credentials (location_id, access_token, refresh_token, expires_at, scopes, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(location_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			scopes = excluded.scopes,
			updated_at = excluded.updated_at
	`, creds.LocationID, creds.AccessToken, creds.RefreshToken, expiresAt, string(scopes), s.now().UTC().Format(timeLayout))
	if err != nil {
		return storageError("save credentials", err)
	}
	return nil
}

// GetCredentials returns the credentials of a location.
func (s *SQLiteStore) GetCredentials(ctx context.Context, locationID string) (*engine.Credentials, error) {
	var (
		creds     engine.Credentials
		expiresAt string
		scopes    string
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT location_id, access_token, refresh_token, expires_at, scopes
		FROM credentials
		WHERE location_id = ?
	`, locationID).Scan(
		&creds.LocationID,
		&creds.AccessToken,
		&creds.RefreshToken,
		&expiresAt,
		&scopes,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.NewNotFoundError("credentials", locationID)
	}
	if err != nil {
		return nil, storageError("get credentials", err)
	}

	if expiresAt != "" {
		if creds.ExpiresAt, err = parseTime(expiresAt); err != nil {
			return nil, err
		}
	}
	if err := json.Unmarshal([]byte(scopes), &creds.Scopes); err != nil {
		return nil, fmt.Errorf("failed to decode scopes: %w", err)
	}

	return &creds, nil
}

// DeleteCredentials removes the credentials of a location.
func (s *SQLiteStore) DeleteCredentials(ctx context.Context, locationID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE location_id = ?`, locationID)
	if err != nil {
		return storageError("delete credentials", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return engine.NewNotFoundError("credentials", locationID)
	}
	return nil
}

// AppendActivity persists one activity entry.
func (s *SQLiteStore) AppendActivity(ctx context.Context, entry telemetry.ActivityEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity (id, timestamp, level, source, message)
		VALUES (?, ?, ?, ?, ?)
	`, entry.ID, entry.Timestamp.UTC().Format(timeLayout), entry.Level, entry.Source, entry.Message)
	if err != nil {
		return storageError("append activity", err)
	}
	return nil
}

// ListActivity returns the most recent persisted entries, oldest first.
func (s *SQLiteStore) ListActivity(ctx context.Context, opts ListOptions) ([]telemetry.ActivityEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, level, source, message FROM (
			SELECT seq, id, timestamp, level, source, message
			FROM activity
			ORDER BY seq DESC
			LIMIT ? OFFSET ?
		) ORDER BY seq ASC
	`, opts.limit(), opts.Offset)
	if err != nil {
		return nil, storageError("list activity", err)
	}
	defer rows.Close()

	entries := []telemetry.ActivityEntry{}
	for rows.Next() {
		var (
			entry     telemetry.ActivityEntry
			timestamp string
		)
		if err := rows.Scan(&entry.ID, &timestamp, &entry.Level, &entry.Source, &entry.Message); err != nil {
			return nil, fmt.Errorf("failed to scan activity entry: %w", err)
		}
		if entry.Timestamp, err = parseTime(timestamp); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity: %w", err)
	}
	return entries, nil
}

// ActivitySink returns a subscriber that persists activity entries.
// Failures are logged and dropped so progress reporting never blocks a build.
func (s *SQLiteStore) ActivitySink(ctx context.Context) telemetry.ActivitySubscriber {
	ctx = context.WithoutCancel(ctx)
	return func(entry telemetry.ActivityEntry) {
		if err := s.AppendActivity(ctx, entry); err != nil {
			s.logger.Warn().Err(err).Str("entry_id", entry.ID).Msg("Failed to persist activity entry")
		}
	}
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", value, err)
	}
	return t, nil
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func nonNilSlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
