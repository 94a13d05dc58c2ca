package repository

import (
	"database/sql"
	"time"

	"study-orchestrator/core/models"
)

// PostgresExecutionRepository handles database operations for executions
type PostgresExecutionRepository struct {
	db *DB
}

// NewExecutionRepository creates a new execution repository
func NewExecutionRepository(db *DB) *PostgresExecutionRepository {
	return &PostgresExecutionRepository{db: db}
}

const executionColumns = `
	id, study_case_id, execution_status, execution_type, process_identifier,
	cpu_usage, memory_usage, message, requested_by, creation_date
`

// Create creates a new execution row
func (r *PostgresExecutionRepository) Create(e *models.StudyCaseExecution) error {
	query := `
		INSERT INTO study_case_executions (
			study_case_id, execution_status, execution_type, process_identifier,
			cpu_usage, memory_usage, message, requested_by, creation_date
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	e.CreationDate = time.Now()
	if e.CPUUsage == "" {
		e.CPUUsage = models.IdleUsage
	}
	if e.MemoryUsage == "" {
		e.MemoryUsage = models.IdleUsage
	}

	return r.db.QueryRow(query,
		e.StudyCaseID,
		e.ExecutionStatus,
		e.ExecutionType,
		e.ProcessIdentifier,
		e.CPUUsage,
		e.MemoryUsage,
		e.Message,
		e.RequestedBy,
		e.CreationDate,
	).Scan(&e.ID)
}

// Get retrieves an execution by ID
func (r *PostgresExecutionRepository) Get(id int64) (*models.StudyCaseExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM study_case_executions WHERE id = $1`

	var e models.StudyCaseExecution
	err := r.db.QueryRow(query, id).Scan(
		&e.ID,
		&e.StudyCaseID,
		&e.ExecutionStatus,
		&e.ExecutionType,
		&e.ProcessIdentifier,
		&e.CPUUsage,
		&e.MemoryUsage,
		&e.Message,
		&e.RequestedBy,
		&e.CreationDate,
	)
	if err == sql.ErrNoRows {
		return nil, models.NewInvalidStudy("execution %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// GetLatestByStudy returns the most recent execution for a study, or nil
func (r *PostgresExecutionRepository) GetLatestByStudy(studyID int64) (*models.StudyCaseExecution, error) {
	query := `SELECT ` + executionColumns + `
		FROM study_case_executions
		WHERE study_case_id = $1
		ORDER BY creation_date DESC
		LIMIT 1`

	var e models.StudyCaseExecution
	err := r.db.QueryRow(query, studyID).Scan(
		&e.ID,
		&e.StudyCaseID,
		&e.ExecutionStatus,
		&e.ExecutionType,
		&e.ProcessIdentifier,
		&e.CPUUsage,
		&e.MemoryUsage,
		&e.Message,
		&e.RequestedBy,
		&e.CreationDate,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListByStudy lists the execution history of a study, newest first
func (r *PostgresExecutionRepository) ListByStudy(studyID int64) ([]*models.StudyCaseExecution, error) {
	query := `SELECT ` + executionColumns + `
		FROM study_case_executions
		WHERE study_case_id = $1
		ORDER BY creation_date DESC`
	return r.list(query, studyID)
}

// ListAll lists all executions for the cross-study dashboard
func (r *PostgresExecutionRepository) ListAll() ([]*models.StudyCaseExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM study_case_executions ORDER BY creation_date DESC`
	return r.list(query)
}

func (r *PostgresExecutionRepository) list(query string, args ...interface{}) ([]*models.StudyCaseExecution, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.StudyCaseExecution
	for rows.Next() {
		var e models.StudyCaseExecution
		err := rows.Scan(
			&e.ID,
			&e.StudyCaseID,
			&e.ExecutionStatus,
			&e.ExecutionType,
			&e.ProcessIdentifier,
			&e.CPUUsage,
			&e.MemoryUsage,
			&e.Message,
			&e.RequestedBy,
			&e.CreationDate,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// UpdateStatus updates the execution status and message
func (r *PostgresExecutionRepository) UpdateStatus(id int64, status models.ExecutionStatus, message string) error {
	query := `UPDATE study_case_executions SET execution_status = $1, message = $2 WHERE id = $3`
	_, err := r.db.Exec(query, status, message, id)
	return err
}

// UpdateProcess records the execution type and OS pid of a spawned process
func (r *PostgresExecutionRepository) UpdateProcess(id int64, executionType models.ExecutionType, pid int) error {
	query := `UPDATE study_case_executions SET execution_type = $1, process_identifier = $2 WHERE id = $3`
	_, err := r.db.Exec(query, executionType, pid, id)
	return err
}

// UpdateUsage records the display usage strings reported by the runtime
func (r *PostgresExecutionRepository) UpdateUsage(id int64, cpuUsage, memoryUsage string) error {
	query := `UPDATE study_case_executions SET cpu_usage = $1, memory_usage = $2 WHERE id = $3`
	_, err := r.db.Exec(query, cpuUsage, memoryUsage, id)
	return err
}

// DeleteByStudy removes all executions of a study
func (r *PostgresExecutionRepository) DeleteByStudy(studyID int64) error {
	query := `DELETE FROM study_case_executions WHERE study_case_id = $1`
	_, err := r.db.Exec(query, studyID)
	return err
}
