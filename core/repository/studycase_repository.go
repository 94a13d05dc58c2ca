package repository

import (
	"database/sql"
	"time"

	"study-orchestrator/core/models"
)

// PostgresStudyCaseRepository handles database operations for study cases
type PostgresStudyCaseRepository struct {
	db *DB
}

// NewStudyCaseRepository creates a new study case repository
func NewStudyCaseRepository(db *DB) *PostgresStudyCaseRepository {
	return &PostgresStudyCaseRepository{db: db}
}

const studyCaseColumns = `
	id, group_id, process, repository, name, creation_status, from_type,
	reference, source_study_id, current_execution_id, study_pod_flavor,
	execution_pod_flavor, disabled, creation_date, modification_date,
	last_active_date
`

// Create creates a new study case row
func (r *PostgresStudyCaseRepository) Create(sc *models.StudyCase) error {
	query := `
		INSERT INTO study_cases (
			group_id, process, repository, name, creation_status, from_type,
			reference, source_study_id, study_pod_flavor, execution_pod_flavor,
			disabled, creation_date, modification_date, last_active_date
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		) RETURNING id
	`

	now := time.Now()
	sc.CreationDate = now
	sc.ModificationDate = now
	sc.LastActiveDate = now
	if sc.CreationStatus == "" {
		sc.CreationStatus = models.CreationPending
	}

	return r.db.QueryRow(query,
		sc.GroupID,
		sc.Process,
		sc.Repository,
		sc.Name,
		sc.CreationStatus,
		sc.FromType,
		sc.Reference,
		sc.SourceStudyID,
		sc.StudyPodFlavor,
		sc.ExecutionPodFlavor,
		sc.Disabled,
		sc.CreationDate,
		sc.ModificationDate,
		sc.LastActiveDate,
	).Scan(&sc.ID)
}

// Get retrieves a study case by ID
func (r *PostgresStudyCaseRepository) Get(id int64) (*models.StudyCase, error) {
	query := `SELECT ` + studyCaseColumns + ` FROM study_cases WHERE id = $1`
	sc, err := scanStudyCase(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, models.NewInvalidStudy("study case %d not found", id)
	}
	return sc, err
}

func scanStudyCase(row *sql.Row) (*models.StudyCase, error) {
	var sc models.StudyCase
	var sourceStudyID sql.NullInt64
	var currentExecutionID sql.NullInt64

	err := row.Scan(
		&sc.ID,
		&sc.GroupID,
		&sc.Process,
		&sc.Repository,
		&sc.Name,
		&sc.CreationStatus,
		&sc.FromType,
		&sc.Reference,
		&sourceStudyID,
		&currentExecutionID,
		&sc.StudyPodFlavor,
		&sc.ExecutionPodFlavor,
		&sc.Disabled,
		&sc.CreationDate,
		&sc.ModificationDate,
		&sc.LastActiveDate,
	)
	if err != nil {
		return nil, err
	}

	if sourceStudyID.Valid {
		sc.SourceStudyID = &sourceStudyID.Int64
	}
	if currentExecutionID.Valid {
		sc.CurrentExecutionID = &currentExecutionID.Int64
	}
	return &sc, nil
}

// Update persists mutable study case fields
func (r *PostgresStudyCaseRepository) Update(sc *models.StudyCase) error {
	query := `
		UPDATE study_cases SET
			name = $1, creation_status = $2, reference = $3,
			current_execution_id = $4, study_pod_flavor = $5,
			execution_pod_flavor = $6, disabled = $7, modification_date = $8
		WHERE id = $9
	`
	sc.ModificationDate = time.Now()
	_, err := r.db.Exec(query,
		sc.Name,
		sc.CreationStatus,
		sc.Reference,
		sc.CurrentExecutionID,
		sc.StudyPodFlavor,
		sc.ExecutionPodFlavor,
		sc.Disabled,
		sc.ModificationDate,
		sc.ID,
	)
	return err
}

// UpdateCreationStatus persists a creation status transition immediately so
// concurrent callers observe it
func (r *PostgresStudyCaseRepository) UpdateCreationStatus(id int64, status models.CreationStatus) error {
	query := `UPDATE study_cases SET creation_status = $1, modification_date = NOW() WHERE id = $2`
	_, err := r.db.Exec(query, status, id)
	return err
}

// SetCurrentExecution points the study case at its latest execution
func (r *PostgresStudyCaseRepository) SetCurrentExecution(id int64, executionID *int64) error {
	query := `UPDATE study_cases SET current_execution_id = $1 WHERE id = $2`
	_, err := r.db.Exec(query, executionID, id)
	return err
}

// UpdateModificationDate sets the modification date used for cache staleness
func (r *PostgresStudyCaseRepository) UpdateModificationDate(id int64, date time.Time) error {
	query := `UPDATE study_cases SET modification_date = $1 WHERE id = $2`
	_, err := r.db.Exec(query, date, id)
	return err
}

// TouchLastActive records study activity for the inactivity sweep
func (r *PostgresStudyCaseRepository) TouchLastActive(id int64, at time.Time) error {
	query := `UPDATE study_cases SET last_active_date = $1 WHERE id = $2`
	_, err := r.db.Exec(query, at, id)
	return err
}

// SoftDelete flags the study case disabled; the cleanup sweep hard-deletes it
func (r *PostgresStudyCaseRepository) SoftDelete(id int64) error {
	query := `UPDATE study_cases SET disabled = TRUE, modification_date = NOW() WHERE id = $1`
	_, err := r.db.Exec(query, id)
	return err
}

// Delete hard-deletes a study case, cascading to executions, allocations,
// notifications and coedition rows
func (r *PostgresStudyCaseRepository) Delete(id int64) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	cascade := []string{
		`DELETE FROM study_case_changes WHERE notification_id IN
			(SELECT id FROM notifications WHERE study_case_id = $1)`,
		`DELETE FROM notifications WHERE study_case_id = $1`,
		`DELETE FROM study_coedition_users WHERE study_case_id = $1`,
		`DELETE FROM execution_logs WHERE study_case_id = $1`,
		`DELETE FROM pod_allocations WHERE identifier = $1 AND pod_type = 'study'`,
		`DELETE FROM pod_allocations WHERE pod_type = 'execution' AND identifier IN
			(SELECT id FROM study_case_executions WHERE study_case_id = $1)`,
		`DELETE FROM study_case_executions WHERE study_case_id = $1`,
	}
	for _, q := range cascade {
		if _, err := tx.Exec(q, id); err != nil {
			return err
		}
	}

	res, err := tx.Exec(`DELETE FROM study_cases WHERE id = $1`, id)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count != 1 {
		return models.NewInvalidStudy("expected to delete 1 study case, deleted %d", count)
	}

	return tx.Commit()
}

// ListActive lists all enabled study cases
func (r *PostgresStudyCaseRepository) ListActive() ([]*models.StudyCase, error) {
	query := `SELECT ` + studyCaseColumns + ` FROM study_cases WHERE disabled = FALSE ORDER BY id`
	return r.list(query)
}

// ListInactiveSince lists enabled study cases idle since before the cutoff
func (r *PostgresStudyCaseRepository) ListInactiveSince(cutoff time.Time) ([]*models.StudyCase, error) {
	query := `SELECT ` + studyCaseColumns + ` FROM study_cases WHERE disabled = FALSE AND last_active_date < $1`
	return r.list(query, cutoff)
}

// ListDisabled lists soft-deleted study cases awaiting the cleanup sweep
func (r *PostgresStudyCaseRepository) ListDisabled() ([]*models.StudyCase, error) {
	query := `SELECT ` + studyCaseColumns + ` FROM study_cases WHERE disabled = TRUE`
	return r.list(query)
}

func (r *PostgresStudyCaseRepository) list(query string, args ...interface{}) ([]*models.StudyCase, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.StudyCase
	for rows.Next() {
		var sc models.StudyCase
		var sourceStudyID sql.NullInt64
		var currentExecutionID sql.NullInt64

		err := rows.Scan(
			&sc.ID,
			&sc.GroupID,
			&sc.Process,
			&sc.Repository,
			&sc.Name,
			&sc.CreationStatus,
			&sc.FromType,
			&sc.Reference,
			&sourceStudyID,
			&currentExecutionID,
			&sc.StudyPodFlavor,
			&sc.ExecutionPodFlavor,
			&sc.Disabled,
			&sc.CreationDate,
			&sc.ModificationDate,
			&sc.LastActiveDate,
		)
		if err != nil {
			return nil, err
		}
		if sourceStudyID.Valid {
			sc.SourceStudyID = &sourceStudyID.Int64
		}
		if currentExecutionID.Valid {
			sc.CurrentExecutionID = &currentExecutionID.Int64
		}
		out = append(out, &sc)
	}
	return out, rows.Err()
}
