package repository

import (
	"database/sql"
	"time"

	"study-orchestrator/core/models"
)

// PostgresNotificationRepository handles database operations for the
// coedition notification audit trail
type PostgresNotificationRepository struct {
	db *DB
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *DB) *PostgresNotificationRepository {
	return &PostgresNotificationRepository{db: db}
}

// Create inserts a notification and returns its id
func (r *PostgresNotificationRepository) Create(n *models.Notification) (int64, error) {
	query := `
		INSERT INTO notifications (study_case_id, author, type, message, creation_date)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	n.CreationDate = time.Now()
	err := r.db.QueryRow(query, n.StudyCaseID, n.Author, n.Type, n.Message, n.CreationDate).Scan(&n.ID)
	return n.ID, err
}

// Get retrieves a notification by id
func (r *PostgresNotificationRepository) Get(id int64) (*models.Notification, error) {
	query := `
		SELECT id, study_case_id, author, type, message, creation_date
		FROM notifications WHERE id = $1
	`
	var n models.Notification
	err := r.db.QueryRow(query, id).Scan(&n.ID, &n.StudyCaseID, &n.Author, &n.Type, &n.Message, &n.CreationDate)
	if err == sql.ErrNoRows {
		return nil, models.NewInvalidStudy("notification %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// ListByStudy lists notifications for a study, newest first
func (r *PostgresNotificationRepository) ListByStudy(studyID int64) ([]*models.Notification, error) {
	query := `
		SELECT id, study_case_id, author, type, message, creation_date
		FROM notifications
		WHERE study_case_id = $1
		ORDER BY creation_date DESC
	`

	rows, err := r.db.Query(query, studyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Notification
	for rows.Next() {
		var n models.Notification
		err := rows.Scan(&n.ID, &n.StudyCaseID, &n.Author, &n.Type, &n.Message, &n.CreationDate)
		if err != nil {
			return nil, err
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

// Delete removes a notification and its changes
func (r *PostgresNotificationRepository) Delete(id int64) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM study_case_changes WHERE notification_id = $1`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM notifications WHERE id = $1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// AddChange records a before/after value under a notification
func (r *PostgresNotificationRepository) AddChange(c *models.StudyCaseChange) error {
	query := `
		INSERT INTO study_case_changes (
			notification_id, variable_id, variable_type, change_type, new_value,
			old_value, old_value_blob, dataset_connector_id, dataset_id,
			dataset_parameter_id, variable_key, author, date
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`
	c.Date = time.Now()
	return r.db.QueryRow(query,
		c.NotificationID,
		c.VariableID,
		c.VariableType,
		c.ChangeType,
		c.NewValue,
		c.OldValue,
		c.OldValueBlob,
		c.DatasetConnectorID,
		c.DatasetID,
		c.DatasetParameterID,
		c.VariableKey,
		c.Author,
		c.Date,
	).Scan(&c.ID)
}

// ListChanges lists the changes captured under a notification
func (r *PostgresNotificationRepository) ListChanges(notificationID int64) ([]*models.StudyCaseChange, error) {
	query := `
		SELECT id, notification_id, variable_id, variable_type, change_type,
			new_value, old_value, old_value_blob, dataset_connector_id,
			dataset_id, dataset_parameter_id, variable_key, author, date
		FROM study_case_changes
		WHERE notification_id = $1
		ORDER BY date
	`

	rows, err := r.db.Query(query, notificationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.StudyCaseChange
	for rows.Next() {
		var c models.StudyCaseChange
		err := rows.Scan(
			&c.ID,
			&c.NotificationID,
			&c.VariableID,
			&c.VariableType,
			&c.ChangeType,
			&c.NewValue,
			&c.OldValue,
			&c.OldValueBlob,
			&c.DatasetConnectorID,
			&c.DatasetID,
			&c.DatasetParameterID,
			&c.VariableKey,
			&c.Author,
			&c.Date,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// CountChanges counts changes under a notification
func (r *PostgresNotificationRepository) CountChanges(notificationID int64) (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM study_case_changes WHERE notification_id = $1`, notificationID).Scan(&count)
	return count, err
}
