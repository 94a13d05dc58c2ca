package repository

import (
	"study-orchestrator/core/models"

	log "github.com/sirupsen/logrus"
)

// PostgresAllocationRepository handles database operations for pod allocations
type PostgresAllocationRepository struct {
	db *DB
}

// NewAllocationRepository creates a new allocation repository
func NewAllocationRepository(db *DB) *PostgresAllocationRepository {
	return &PostgresAllocationRepository{db: db}
}

// Create creates an allocation record
func (r *PostgresAllocationRepository) Create(a *models.PodAllocation) error {
	query := `
		INSERT INTO pod_allocations (
			identifier, pod_type, pod_status, flavor, message, kubernetes_pod_name
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	return r.db.QueryRow(query,
		a.Identifier,
		a.PodType,
		a.PodStatus,
		a.Flavor,
		a.Message,
		a.KubernetesPodName,
	).Scan(&a.ID)
}

// GetByIdentifier retrieves the allocation for (identifier, podType), or nil.
// More than one allocation for the pair is tolerated but logged as an anomaly.
func (r *PostgresAllocationRepository) GetByIdentifier(identifier int64, podType models.PodType) (*models.PodAllocation, error) {
	query := `
		SELECT id, identifier, pod_type, pod_status, flavor, message, kubernetes_pod_name
		FROM pod_allocations
		WHERE identifier = $1 AND pod_type = $2
		ORDER BY id
	`

	rows, err := r.db.Query(query, identifier, podType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var found []*models.PodAllocation
	for rows.Next() {
		var a models.PodAllocation
		err := rows.Scan(&a.ID, &a.Identifier, &a.PodType, &a.PodStatus, &a.Flavor, &a.Message, &a.KubernetesPodName)
		if err != nil {
			return nil, err
		}
		found = append(found, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(found) == 0 {
		return nil, nil
	}
	if len(found) > 1 {
		log.Warnf("found %d pod allocations for identifier %d type %s, expected at most one", len(found), identifier, podType)
	}
	return found[0], nil
}

// Update persists the allocation status fields
func (r *PostgresAllocationRepository) Update(a *models.PodAllocation) error {
	query := `
		UPDATE pod_allocations
		SET pod_status = $1, message = $2, kubernetes_pod_name = $3
		WHERE id = $4
	`
	_, err := r.db.Exec(query, a.PodStatus, a.Message, a.KubernetesPodName, a.ID)
	return err
}

// Delete removes an allocation record
func (r *PostgresAllocationRepository) Delete(id int64) error {
	_, err := r.db.Exec(`DELETE FROM pod_allocations WHERE id = $1`, id)
	return err
}

// ListByPodType lists all allocations of one pod type
func (r *PostgresAllocationRepository) ListByPodType(podType models.PodType) ([]*models.PodAllocation, error) {
	query := `
		SELECT id, identifier, pod_type, pod_status, flavor, message, kubernetes_pod_name
		FROM pod_allocations
		WHERE pod_type = $1
		ORDER BY id
	`

	rows, err := r.db.Query(query, podType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.PodAllocation
	for rows.Next() {
		var a models.PodAllocation
		err := rows.Scan(&a.ID, &a.Identifier, &a.PodType, &a.PodStatus, &a.Flavor, &a.Message, &a.KubernetesPodName)
		if err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
