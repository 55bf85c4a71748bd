// Package store persists planning-run state in SQLite: named artifacts
// (the persist/load key-blob surface), the append-only assessment log, the
// Q-Gate finding lifecycle, and orchestrator checkpoints.
//
// The assessment log is strictly append-only. A resolution inserts a new row
// whose resolved_from column points at the superseded record; history is never
// updated in place, which keeps concurrent readers safe without locking beyond
// SQLite's own append serialization.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"planwright/internal/logging"
	"planwright/internal/plan"

	_ "github.com/mattn/go-sqlite3"
)

// RunStore is the durable store for one or more planning runs.
type RunStore struct {
	db     *sql.DB
	dbPath string
}

// NewRunStore creates or opens the run database, creating schema on first use.
func NewRunStore(dbPath string) (*RunStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewRunStore")
	defer timer.Stop()

	if dbPath == "" {
		return nil, fmt.Errorf("database path required")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to verify database connection: %w", err)
	}

	s := &RunStore{db: db, dbPath: dbPath}
	if err := s.initializeSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Store("run store initialized at %s", dbPath)
	return s, nil
}

// Close closes the underlying database.
func (s *RunStore) Close() error {
	return s.db.Close()
}

func (s *RunStore) initializeSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS artifacts (
		run_id     TEXT NOT NULL,
		name       TEXT NOT NULL,
		content    BLOB NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (run_id, name)
	);
	CREATE TABLE IF NOT EXISTS assessments (
		id            TEXT PRIMARY KEY,
		run_id        TEXT NOT NULL,
		candidate_ref TEXT NOT NULL,
		path          TEXT NOT NULL,
		bundle        TEXT,
		certainty     TEXT NOT NULL,
		confidence    INTEGER NOT NULL,
		change_kind   TEXT,
		depends_on    TEXT,
		reasoning     TEXT,
		evidence      TEXT,
		resolved_from TEXT,
		created_at    DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_assessments_run ON assessments(run_id);
	CREATE INDEX IF NOT EXISTS idx_assessments_candidate ON assessments(run_id, candidate_ref);
	CREATE TABLE IF NOT EXISTS findings (
		id                TEXT PRIMARY KEY,
		run_id            TEXT NOT NULL,
		phase             TEXT NOT NULL,
		source            TEXT,
		type              TEXT NOT NULL,
		title             TEXT NOT NULL,
		detail            TEXT,
		resolution        TEXT NOT NULL,
		resolution_detail TEXT,
		created_at        DATETIME NOT NULL,
		resolved_at       DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_findings_phase ON findings(run_id, phase, resolution);
	CREATE TABLE IF NOT EXISTS checkpoints (
		run_id     TEXT PRIMARY KEY,
		phase      TEXT NOT NULL,
		state      TEXT NOT NULL,
		payload    BLOB NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// Persist stores a named artifact blob scoped to a run, replacing any prior
// content under the same name.
func (s *RunStore) Persist(runID, name string, content []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO artifacts (run_id, name, content, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(run_id, name) DO UPDATE SET content = excluded.content, updated_at = CURRENT_TIMESTAMP`,
		runID, name, content)
	if err != nil {
		return fmt.Errorf("failed to persist artifact %s: %w", name, err)
	}
	logging.StoreDebug("persisted artifact %s/%s (%d bytes)", runID, name, len(content))
	return nil
}

// Load retrieves a named artifact. Returns os.ErrNotExist-wrapped error when
// the artifact is absent.
func (s *RunStore) Load(runID, name string) ([]byte, error) {
	var content []byte
	err := s.db.QueryRow(`SELECT content FROM artifacts WHERE run_id = ? AND name = ?`, runID, name).Scan(&content)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("artifact %s/%s: %w", runID, name, os.ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load artifact %s: %w", name, err)
	}
	return content, nil
}

// PersistJSON marshals v and stores it under name.
func (s *RunStore) PersistJSON(runID, name string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal artifact %s: %w", name, err)
	}
	return s.Persist(runID, name, data)
}

// LoadJSON loads and unmarshals a named artifact into v.
func (s *RunStore) LoadJSON(runID, name string, v interface{}) error {
	data, err := s.Load(runID, name)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// AppendAssessments appends assessment records. Existing records are never
// updated; attempting to reuse an ID is an error.
func (s *RunStore) AppendAssessments(runID string, assessments []plan.Assessment) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO assessments (id, run_id, candidate_ref, path, bundle, certainty, confidence, change_kind, depends_on, reasoning, evidence, resolved_from, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, a := range assessments {
		resolvedFrom := sql.NullString{String: a.ResolvedFrom, Valid: a.ResolvedFrom != ""}
		dependsOn := sql.NullString{}
		if len(a.DependsOn) > 0 {
			data, err := json.Marshal(a.DependsOn)
			if err != nil {
				return fmt.Errorf("failed to marshal dependencies of assessment %s: %w", a.ID, err)
			}
			dependsOn = sql.NullString{String: string(data), Valid: true}
		}
		if _, err := stmt.Exec(a.ID, runID, a.CandidateRef, a.Path, a.Bundle, string(a.Certainty),
			a.Confidence, string(a.ChangeKind), dependsOn, a.Reasoning, a.Evidence, resolvedFrom, a.CreatedAt); err != nil {
			return fmt.Errorf("failed to append assessment %s: %w", a.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit assessments: %w", err)
	}
	logging.StoreDebug("appended %d assessments for run %s", len(assessments), runID)
	return nil
}

// LatestAssessments returns the latest-effective assessment per candidate:
// every record not superseded by a newer one via resolved_from.
func (s *RunStore) LatestAssessments(runID string) ([]plan.Assessment, error) {
	rows, err := s.db.Query(`
		SELECT id, candidate_ref, path, bundle, certainty, confidence, change_kind, depends_on, reasoning, evidence, resolved_from, created_at
		FROM assessments a
		WHERE run_id = ?
		  AND NOT EXISTS (
			SELECT 1 FROM assessments b
			WHERE b.run_id = a.run_id AND b.resolved_from = a.id
		  )
		ORDER BY created_at, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query assessments: %w", err)
	}
	defer rows.Close()
	return scanAssessments(rows)
}

// AllAssessments returns the full audit trail, superseded records included.
func (s *RunStore) AllAssessments(runID string) ([]plan.Assessment, error) {
	rows, err := s.db.Query(`
		SELECT id, candidate_ref, path, bundle, certainty, confidence, change_kind, depends_on, reasoning, evidence, resolved_from, created_at
		FROM assessments WHERE run_id = ? ORDER BY created_at, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query assessments: %w", err)
	}
	defer rows.Close()
	return scanAssessments(rows)
}

func scanAssessments(rows *sql.Rows) ([]plan.Assessment, error) {
	var out []plan.Assessment
	for rows.Next() {
		var a plan.Assessment
		var certainty string
		var changeKind, dependsOn, resolvedFrom sql.NullString
		if err := rows.Scan(&a.ID, &a.CandidateRef, &a.Path, &a.Bundle, &certainty, &a.Confidence,
			&changeKind, &dependsOn, &a.Reasoning, &a.Evidence, &resolvedFrom, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan assessment: %w", err)
		}
		a.Certainty = plan.Certainty(certainty)
		a.ChangeKind = plan.ChangeKind(changeKind.String)
		if dependsOn.Valid {
			if err := json.Unmarshal([]byte(dependsOn.String), &a.DependsOn); err != nil {
				return nil, fmt.Errorf("failed to decode dependencies of assessment %s: %w", a.ID, err)
			}
		}
		a.ResolvedFrom = resolvedFrom.String
		out = append(out, a)
	}
	return out, rows.Err()
}

// Checkpoint persists the orchestrator's resumable state for a run.
type Checkpoint struct {
	RunID   string    `json:"run_id"`
	Phase   string    `json:"phase"`
	State   string    `json:"state"`
	Payload []byte    `json:"payload"`
	Updated time.Time `json:"updated"`
}

// SaveCheckpoint upserts the run's checkpoint.
func (s *RunStore) SaveCheckpoint(cp Checkpoint) error {
	_, err := s.db.Exec(`
		INSERT INTO checkpoints (run_id, phase, state, payload, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(run_id) DO UPDATE SET phase = excluded.phase, state = excluded.state,
			payload = excluded.payload, updated_at = CURRENT_TIMESTAMP`,
		cp.RunID, cp.Phase, cp.State, cp.Payload)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint fetches a run's checkpoint, or os.ErrNotExist if none.
func (s *RunStore) LoadCheckpoint(runID string) (Checkpoint, error) {
	cp := Checkpoint{RunID: runID}
	err := s.db.QueryRow(`SELECT phase, state, payload, updated_at FROM checkpoints WHERE run_id = ?`, runID).
		Scan(&cp.Phase, &cp.State, &cp.Payload, &cp.Updated)
	if err == sql.ErrNoRows {
		return cp, fmt.Errorf("checkpoint for run %s: %w", runID, os.ErrNotExist)
	}
	if err != nil {
		return cp, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return cp, nil
}
