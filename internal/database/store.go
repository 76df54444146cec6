package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/CodeMonkeyCybersecurity/artemis/internal/config"
	"github.com/CodeMonkeyCybersecurity/artemis/internal/logger"
	"github.com/CodeMonkeyCybersecurity/artemis/pkg/types"
)

// Store persists runs, issued commands, and pattern findings. The log files
// under scans/logs remain the canonical run output; the store is an
// additional queryable record and the pipeline runs fine without one.
type Store interface {
	SaveRun(ctx context.Context, run *types.Run) error
	UpdateRun(ctx context.Context, run *types.Run) error
	SaveCommand(ctx context.Context, record *types.CommandRecord) error
	SaveFinding(ctx context.Context, finding *types.Finding) error
	GetFindings(ctx context.Context, runID string) ([]types.Finding, error)
	Close() error
}

type sqlStore struct {
	db     *sqlx.DB
	logger *logger.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	target TEXT NOT NULL,
	port_scan_type TEXT NOT NULL,
	output_dir TEXT NOT NULL,
	status TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	error_message TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS commands (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL REFERENCES runs(id),
	worker_id TEXT NOT NULL,
	command TEXT NOT NULL,
	issued_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS findings (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL REFERENCES runs(id),
	output_file TEXT NOT NULL,
	description TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (run_id, output_file, description)
);

CREATE INDEX IF NOT EXISTS idx_commands_run_id ON commands(run_id);
CREATE INDEX IF NOT EXISTS idx_findings_run_id ON findings(run_id);
`

// NewStore connects to the configured database and applies the schema. An
// empty DSN yields a no-op store.
func NewStore(cfg config.DatabaseConfig, log *logger.Logger) (Store, error) {
	if cfg.DSN == "" {
		return &noopStore{}, nil
	}

	log = log.WithComponent("database")

	start := time.Now()
	db, err := sqlx.Connect(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	log.Infow("Database connected",
		"driver", cfg.Driver,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &sqlStore{db: db, logger: log}, nil
}

func (s *sqlStore) SaveRun(ctx context.Context, run *types.Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO runs (id, target, port_scan_type, output_dir, status, started_at, completed_at, error_message)
		VALUES (:id, :target, :port_scan_type, :output_dir, :status, :started_at, :completed_at, :error_message)`,
		run)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

func (s *sqlStore) UpdateRun(ctx context.Context, run *types.Run) error {
	_, err := s.db.NamedExecContext(ctx, `
		UPDATE runs
		SET status = :status, completed_at = :completed_at, error_message = :error_message
		WHERE id = :id`,
		run)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	return nil
}

func (s *sqlStore) SaveCommand(ctx context.Context, record *types.CommandRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.IssuedAt.IsZero() {
		record.IssuedAt = time.Now()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO commands (id, run_id, worker_id, command, issued_at)
		VALUES (:id, :run_id, :worker_id, :command, :issued_at)`,
		record)
	if err != nil {
		return fmt.Errorf("failed to save command: %w", err)
	}
	return nil
}

func (s *sqlStore) SaveFinding(ctx context.Context, finding *types.Finding) error {
	if finding.ID == "" {
		finding.ID = uuid.New().String()
	}
	if finding.CreatedAt.IsZero() {
		finding.CreatedAt = time.Now()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO findings (id, run_id, output_file, description, created_at)
		VALUES (:id, :run_id, :output_file, :description, :created_at)
		ON CONFLICT (run_id, output_file, description) DO NOTHING`,
		finding)
	if err != nil {
		return fmt.Errorf("failed to save finding: %w", err)
	}
	return nil
}

func (s *sqlStore) GetFindings(ctx context.Context, runID string) ([]types.Finding, error) {
	var findings []types.Finding
	err := s.db.SelectContext(ctx, &findings, `
		SELECT id, run_id, output_file, description, created_at
		FROM findings
		WHERE run_id = $1
		ORDER BY created_at`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get findings: %w", err)
	}
	return findings, nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

type noopStore struct{}

func (n *noopStore) SaveRun(context.Context, *types.Run) error               { return nil }
func (n *noopStore) UpdateRun(context.Context, *types.Run) error             { return nil }
func (n *noopStore) SaveCommand(context.Context, *types.CommandRecord) error { return nil }
func (n *noopStore) SaveFinding(context.Context, *types.Finding) error       { return nil }
func (n *noopStore) GetFindings(context.Context, string) ([]types.Finding, error) {
	return nil, nil
}
func (n *noopStore) Close() error { return nil }
