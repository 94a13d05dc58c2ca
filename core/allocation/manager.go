package allocation

import (
	"context"

	"study-orchestrator/core/models"
)

// Manager creates, refreshes and deletes the external resources backing
// studies and executions. Implementations: Kubernetes pods or a degenerate
// local mode.
type Manager interface {
	// CreateAndLoad creates the backing resource for the identifier and
	// returns its allocation record (not yet persisted by the caller).
	CreateAndLoad(ctx context.Context, identifier int64, podType models.PodType, flavor string, logFile string) (*models.PodAllocation, error)

	// Load refreshes the allocation against the live resource, relaunching
	// it when it disappeared.
	Load(ctx context.Context, alloc *models.PodAllocation) error

	// GetStatus reports the current resource status and a human message.
	GetStatus(ctx context.Context, alloc *models.PodAllocation) (models.PodStatus, string, error)

	// DeleteServicesAndDeployments tears down the resources behind the
	// given allocations. Missing resources are not an error.
	DeleteServicesAndDeployments(ctx context.Context, allocs []*models.PodAllocation) error
}

// LocalManager is the degenerate allocation manager used when executions run
// in-process or as subprocesses: allocations have no external resource and
// are immediately running.
type LocalManager struct{}

// NewLocalManager creates a local allocation manager
func NewLocalManager() *LocalManager {
	return &LocalManager{}
}

func (m *LocalManager) CreateAndLoad(_ context.Context, identifier int64, podType models.PodType, flavor string, _ string) (*models.PodAllocation, error) {
	return &models.PodAllocation{
		Identifier: identifier,
		PodType:    podType,
		PodStatus:  models.PodRunning,
		Flavor:     flavor,
	}, nil
}

func (m *LocalManager) Load(_ context.Context, alloc *models.PodAllocation) error {
	alloc.PodStatus = models.PodRunning
	return nil
}

func (m *LocalManager) GetStatus(_ context.Context, alloc *models.PodAllocation) (models.PodStatus, string, error) {
	return models.PodRunning, "", nil
}

func (m *LocalManager) DeleteServicesAndDeployments(_ context.Context, _ []*models.PodAllocation) error {
	return nil
}
