package repository

import (
	"time"

	"study-orchestrator/core/models"
)

// PostgresExecutionLogRepository handles per-study raw log rows
type PostgresExecutionLogRepository struct {
	db *DB
}

// NewExecutionLogRepository creates a new execution log repository
func NewExecutionLogRepository(db *DB) *PostgresExecutionLogRepository {
	return &PostgresExecutionLogRepository{db: db}
}

// Append inserts a log row
func (r *PostgresExecutionLogRepository) Append(l *models.ExecutionLog) error {
	query := `
		INSERT INTO execution_logs (study_case_id, execution_id, message, at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	l.At = time.Now()
	return r.db.QueryRow(query, l.StudyCaseID, l.ExecutionID, l.Message, l.At).Scan(&l.ID)
}

// ListByStudy lists log rows for a study in insertion order
func (r *PostgresExecutionLogRepository) ListByStudy(studyID int64) ([]*models.ExecutionLog, error) {
	query := `
		SELECT id, study_case_id, execution_id, message, at
		FROM execution_logs
		WHERE study_case_id = $1
		ORDER BY at
	`

	rows, err := r.db.Query(query, studyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.ExecutionLog
	for rows.Next() {
		var l models.ExecutionLog
		if err := rows.Scan(&l.ID, &l.StudyCaseID, &l.ExecutionID, &l.Message, &l.At); err != nil {
			return nil, err
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

// ClearUnbound removes log rows for a study that are not tied to any
// execution; rows belonging to other executions are preserved
func (r *PostgresExecutionLogRepository) ClearUnbound(studyID int64) error {
	query := `DELETE FROM execution_logs WHERE study_case_id = $1 AND execution_id IS NULL`
	_, err := r.db.Exec(query, studyID)
	return err
}
