package execution

import (
	"context"

	"study-orchestrator/core/models"
)

// Execution strategy names accepted by the configuration
const (
	StrategyThread     = "thread"
	StrategySubprocess = "subprocess"
	StrategyKubernetes = "kubernetes"
)

// Strategy launches an execution that was already admitted and persisted
// as PENDING. Implementations decide where the computation runs.
type Strategy interface {
	Run(ctx context.Context, sc *models.StudyCase, e *models.StudyCaseExecution) error
}
