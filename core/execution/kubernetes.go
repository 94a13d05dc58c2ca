package execution

import (
	"context"

	"study-orchestrator/core/models"
	"study-orchestrator/core/repository"
)

// KubernetesStrategy defers the actual computation to the pod requested
// through the allocation manager. The execution stays PENDING until the
// reconciler observes the pod state.
type KubernetesStrategy struct {
	executions repository.ExecutionRepository
}

// NewKubernetesStrategy creates a pod-backed execution strategy
func NewKubernetesStrategy(executions repository.ExecutionRepository) *KubernetesStrategy {
	return &KubernetesStrategy{executions: executions}
}

// Run records the execution as Kubernetes-backed and returns; the pod was
// already requested when the allocation was created
func (s *KubernetesStrategy) Run(ctx context.Context, sc *models.StudyCase, e *models.StudyCaseExecution) error {
	return s.executions.UpdateProcess(e.ID, models.ExecutionTypeKubernetes, 0)
}
