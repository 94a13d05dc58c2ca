package repository

import (
	"database/sql"

	"study-orchestrator/core/models"
)

// PostgresCoeditionRepository handles live room membership rows
type PostgresCoeditionRepository struct {
	db *DB
}

// NewCoeditionRepository creates a new coedition repository
func NewCoeditionRepository(db *DB) *PostgresCoeditionRepository {
	return &PostgresCoeditionRepository{db: db}
}

// Join adds a user to a study room. Joining an already joined room is a no-op
// so abrupt reconnects never create duplicate membership rows.
func (r *PostgresCoeditionRepository) Join(studyID, userID int64) error {
	query := `
		INSERT INTO study_coedition_users (study_case_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (study_case_id, user_id) DO NOTHING
	`
	_, err := r.db.Exec(query, studyID, userID)
	return err
}

// Leave removes a user from a study room
func (r *PostgresCoeditionRepository) Leave(studyID, userID int64) error {
	query := `DELETE FROM study_coedition_users WHERE study_case_id = $1 AND user_id = $2`
	_, err := r.db.Exec(query, studyID, userID)
	return err
}

// LeaveAll removes a user from every room, clearing stale presence after a
// disconnect
func (r *PostgresCoeditionRepository) LeaveAll(userID int64) error {
	_, err := r.db.Exec(`DELETE FROM study_coedition_users WHERE user_id = $1`, userID)
	return err
}

// ListUsers lists the users currently in a study room
func (r *PostgresCoeditionRepository) ListUsers(studyID int64) ([]int64, error) {
	rows, err := r.db.Query(`SELECT user_id FROM study_coedition_users WHERE study_case_id = $1 ORDER BY user_id`, studyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// PostgresUserRepository resolves user identities
type PostgresUserRepository struct {
	db *DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

// Get retrieves a user by id
func (r *PostgresUserRepository) Get(id int64) (*models.User, error) {
	var u models.User
	err := r.db.QueryRow(`SELECT id, username, fullname FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Username, &u.Fullname)
	if err == sql.ErrNoRows {
		return nil, models.NewInvalidStudy("user %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByUsername retrieves a user by username
func (r *PostgresUserRepository) GetByUsername(username string) (*models.User, error) {
	var u models.User
	err := r.db.QueryRow(`SELECT id, username, fullname FROM users WHERE username = $1`, username).
		Scan(&u.ID, &u.Username, &u.Fullname)
	if err == sql.ErrNoRows {
		return nil, models.NewInvalidStudy("user %s not found", username)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
