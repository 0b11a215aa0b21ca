package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-phonemizer/internal/config"
	_ "modernc.org/sqlite"
)

const (
	EventUtterance      = "utterance"
	EventSwitchSummary  = "language_switch.summary"
	EventRunFailed      = "run.failed"
	defaultListRowLimit = 100
)

// Run is one phonemization run: a request served by the daemon or one
// invocation of the CLI.
type Run struct {
	ID        string
	RequestID string
	Language  string
	Policy    string
	Lines     int
	Kept      int
	CreatedAt time.Time
}

// Event is a journal entry attached to a run. Line is the utterance number,
// or zero for run-wide entries.
type Event struct {
	ID        int64
	RunID     string
	Line      int
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Store is the SQLite-backed run journal.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the journal according to config. The ephemeral retention
// mode keeps nothing and never touches disk.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("run journal vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("run journal prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    request_id TEXT,
    language TEXT,
    policy TEXT,
    lines INTEGER NOT NULL DEFAULT 0,
    kept INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS run_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    line_no INTEGER NOT NULL DEFAULT 0,
    event_type TEXT NOT NULL,
    payload BLOB,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events(run_id, line_no, id);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init run journal schema: %w", err)
	}
	return nil
}

func (s *Store) disabled() bool {
	return s.cfg.RetentionMode == "ephemeral" || s.db == nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AppendRun inserts or updates the run row.
func (s *Store) AppendRun(ctx context.Context, run Run) error {
	if s.disabled() {
		return nil
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(run_id, request_id, language, policy, lines, kept, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET lines=excluded.lines, kept=excluded.kept`,
		run.ID, run.RequestID, run.Language, run.Policy, run.Lines, run.Kept, run.CreatedAt)
	return err
}

// AppendEvents writes events in one transaction.
func (s *Store) AppendEvents(ctx context.Context, events ...Event) (err error) {
	if s.disabled() || len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	now := s.clock().UTC()
	for _, evt := range events {
		if evt.CreatedAt.IsZero() {
			evt.CreatedAt = now
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO run_events(run_id, line_no, event_type, payload, created_at) VALUES(?, ?, ?, ?, ?)`,
			evt.RunID, evt.Line, evt.Type, evt.Payload, evt.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetRun loads a run by id. ok is false when the run is unknown.
func (s *Store) GetRun(ctx context.Context, runID string) (run Run, ok bool, err error) {
	if s.disabled() {
		return Run{}, false, nil
	}
	var created time.Time
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, request_id, language, policy, lines, kept, created_at FROM runs WHERE run_id = ?`, runID)
	err = row.Scan(&run.ID, &run.RequestID, &run.Language, &run.Policy, &run.Lines, &run.Kept, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, err
	}
	run.CreatedAt = created
	return run, true, nil
}

// ListRunEvents retrieves up to limit events of a run in line order.
func (s *Store) ListRunEvents(ctx context.Context, runID string, limit int) ([]Event, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultListRowLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, line_no, event_type, payload, created_at
		 FROM run_events WHERE run_id = ? ORDER BY line_no ASC, id ASC LIMIT ?`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var created time.Time
		if err := rows.Scan(&e.ID, &e.RunID, &e.Line, &e.Type, &e.Payload, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = created
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune applies the configured retention. It runs on open and may be
// scheduled.
func (s *Store) Prune(ctx context.Context) (err error) {
	if s.disabled() {
		return nil
	}
	if s.cfg.RetentionMode != "persistent" && s.cfg.RetentionMode != "session" {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UTC()
		if _, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		if _, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id IN (
			SELECT run_id FROM runs ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Ensure checks the store is consistent with its retention mode.
func (s *Store) Ensure() error {
	if s.cfg.RetentionMode == "ephemeral" && s.db != nil {
		return errors.New("ephemeral store should not have database connection")
	}
	return nil
}
