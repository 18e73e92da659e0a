package metrics

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kestrelops/pacer/pkg/logging"
	"github.com/kestrelops/pacer/pkg/pacing"
)

// DefaultFlushInterval is how often the background flusher persists
// the pacing snapshot
const DefaultFlushInterval = 30 * time.Second

// Store is the durable per-operation-class record of pacing history.
// It is loaded once at startup, flushed periodically and on shutdown.
// A failed flush is logged, never fatal.
type Store struct {
	db     *sql.DB
	path   string
	logger *logging.Logger

	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

// Open creates or opens the metrics database at the given path and
// ensures the schema exists
func Open(path string, logger *logging.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" && path != ":memory:" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create metrics directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open metrics database: %w", err)
	}

	store := &Store{
		db:     db,
		path:   path,
		logger: logging.OrDiscard(logger).WithComponent("metrics"),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize metrics schema: %w", err)
	}

	return store, nil
}

// initSchema creates the pacing state table
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pacing_state (
		op_class TEXT PRIMARY KEY,
		delay_seconds REAL NOT NULL,
		gain REAL NOT NULL DEFAULT 0.3,
		history TEXT NOT NULL DEFAULT '[]',
		updated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	CREATE INDEX IF NOT EXISTS idx_pacing_state_updated ON pacing_state(updated_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Load reads every persisted delay state. The schema is read
// tolerantly: a history blob that fails to decode yields an empty
// history rather than an error, and value validation is left to the
// pacing controller, which repairs rather than propagates bad values.
func (s *Store) Load() (map[string]pacing.DelayState, error) {
	rows, err := s.db.Query(
		`SELECT op_class, delay_seconds, gain, history, updated_at FROM pacing_state`)
	if err != nil {
		return nil, fmt.Errorf("failed to load pacing state: %w", err)
	}
	defer rows.Close()

	states := make(map[string]pacing.DelayState)
	for rows.Next() {
		var (
			class       string
			delay, gain float64
			historyJSON string
			updatedAt   int64
		)
		if err := rows.Scan(&class, &delay, &gain, &historyJSON, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pacing state row: %w", err)
		}

		var history []pacing.Record
		if err := json.Unmarshal([]byte(historyJSON), &history); err != nil {
			s.logger.Warn("discarding undecodable pacing history",
				"class", class, "error", err.Error())
			history = nil
		}

		states[class] = pacing.DelayState{
			DelaySeconds: delay,
			Gain:         gain,
			History:      history,
			UpdatedAt:    time.Unix(updatedAt, 0),
		}
	}
	return states, rows.Err()
}

// Flush upserts the given snapshot in one transaction
func (s *Store) Flush(snapshot map[string]pacing.DelayState) error {
	if len(snapshot) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin flush transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO pacing_state (op_class, delay_seconds, gain, history, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(op_class) DO UPDATE SET
			delay_seconds = excluded.delay_seconds,
			gain = excluded.gain,
			history = excluded.history,
			updated_at = excluded.updated_at`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare flush statement: %w", err)
	}
	defer stmt.Close()

	for class, state := range snapshot {
		historyJSON, err := json.Marshal(state.History)
		if err != nil {
			historyJSON = []byte("[]")
		}
		updatedAt := state.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = time.Now()
		}
		if _, err := stmt.Exec(class, state.DelaySeconds, state.Gain,
			string(historyJSON), updatedAt.Unix()); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to flush pacing state for %q: %w", class, err)
		}
	}

	return tx.Commit()
}

// StartFlusher begins periodic background flushing of the snapshot
// produced by snapshotFn. Calling it twice is a no-op.
func (s *Store) StartFlusher(interval time.Duration, snapshotFn func() map[string]pacing.DelayState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	s.started = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := s.Flush(snapshotFn()); err != nil {
					s.logger.Warn("periodic pacing flush failed", "error", err.Error())
				}
			case <-s.stopCh:
				return
			}
		}
	}()
}

// StopFlusher stops the background flusher and waits for it to exit
func (s *Store) StopFlusher() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stopCh)
	doneCh := s.doneCh
	s.mu.Unlock()

	<-doneCh
}

// Close stops the flusher and closes the database
func (s *Store) Close() error {
	s.StopFlusher()
	return s.db.Close()
}

// Path returns the database location
func (s *Store) Path() string {
	return s.path
}
