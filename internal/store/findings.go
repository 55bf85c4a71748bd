package store

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	"planwright/internal/logging"
	"planwright/internal/plan"
)

// RecordFindings appends Q-Gate findings. Findings are part of the audit
// trail and are never deleted.
func (s *RunStore) RecordFindings(runID string, findings []plan.GateFinding) error {
	if len(findings) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO findings (id, run_id, phase, source, type, title, detail, resolution, resolution_detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, f := range findings {
		if _, err := stmt.Exec(f.ID, runID, string(f.Phase), f.Source, f.Type, f.Title,
			f.Detail, string(f.Resolution), f.ResolutionDetail, f.CreatedAt); err != nil {
			return fmt.Errorf("failed to record finding %s: %w", f.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit findings: %w", err)
	}
	logging.QGateDebug("recorded %d findings for run %s", len(findings), runID)
	return nil
}

// QueryFindings returns findings for a phase, optionally filtered by
// resolution state (empty filter returns all).
func (s *RunStore) QueryFindings(runID string, phase plan.Phase, resolution plan.Resolution) ([]plan.GateFinding, error) {
	query := `
		SELECT id, phase, source, type, title, detail, resolution, resolution_detail, created_at, resolved_at
		FROM findings WHERE run_id = ? AND phase = ?`
	args := []interface{}{runID, string(phase)}
	if resolution != "" {
		query += ` AND resolution = ?`
		args = append(args, string(resolution))
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query findings: %w", err)
	}
	defer rows.Close()

	var out []plan.GateFinding
	for rows.Next() {
		var f plan.GateFinding
		var phaseStr, resolutionStr string
		var detail, resolutionDetail sql.NullString
		var resolvedAt sql.NullTime
		if err := rows.Scan(&f.ID, &phaseStr, &f.Source, &f.Type, &f.Title, &detail,
			&resolutionStr, &resolutionDetail, &f.CreatedAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}
		f.Phase = plan.Phase(phaseStr)
		f.Resolution = plan.Resolution(resolutionStr)
		f.Detail = detail.String
		f.ResolutionDetail = resolutionDetail.String
		if resolvedAt.Valid {
			f.ResolvedAt = resolvedAt.Time
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ResolveFinding flips one finding to /taken_into_account with a detail note.
// Only pending findings can be resolved.
func (s *RunStore) ResolveFinding(id, detail string) error {
	res, err := s.db.Exec(`
		UPDATE findings SET resolution = ?, resolution_detail = ?, resolved_at = ?
		WHERE id = ? AND resolution = ?`,
		string(plan.ResolutionTaken), detail, time.Now(), id, string(plan.ResolutionPending))
	if err != nil {
		return fmt.Errorf("failed to resolve finding %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check resolve result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finding %s: not pending or %w", id, os.ErrNotExist)
	}
	logging.QGateDebug("finding %s resolved: %s", id, detail)
	return nil
}

// PendingCount returns the number of unresolved findings for a phase.
func (s *RunStore) PendingCount(runID string, phase plan.Phase) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM findings WHERE run_id = ? AND phase = ? AND resolution = ?`,
		runID, string(phase), string(plan.ResolutionPending)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending findings: %w", err)
	}
	return n, nil
}
