package execution

import (
	"context"

	"study-orchestrator/core/allocation"
	"study-orchestrator/core/models"
	"study-orchestrator/core/repository"

	log "github.com/sirupsen/logrus"
)

// Reconciler merges allocation status reported by the allocation manager
// into execution status records. It is read-path-triggered: there is no
// watcher process, every status read opportunistically repairs drift.
type Reconciler struct {
	executions  repository.ExecutionRepository
	allocations repository.AllocationRepository
	manager     allocation.Manager
}

// NewReconciler creates an execution status reconciler
func NewReconciler(
	executions repository.ExecutionRepository,
	allocations repository.AllocationRepository,
	manager allocation.Manager,
) *Reconciler {
	return &Reconciler{
		executions:  executions,
		allocations: allocations,
		manager:     manager,
	}
}

// UpdateExecutionStatus refreshes the allocation tied to the execution and
// applies the resulting status transition, persisting only when a
// transition actually occurred. It reports whether the execution changed.
func (r *Reconciler) UpdateExecutionStatus(ctx context.Context, e *models.StudyCaseExecution) (bool, error) {
	alloc, err := r.allocations.GetByIdentifier(e.ID, models.PodTypeExecution)
	if err != nil {
		return false, err
	}
	if alloc == nil {
		return false, nil
	}

	status, message, err := r.manager.GetStatus(ctx, alloc)
	if err != nil {
		// a status read must not fail because the scheduler is unreachable
		log.Warnf("failed to refresh allocation %d status: %v", alloc.ID, err)
		return false, nil
	}
	if status != alloc.PodStatus || message != alloc.Message {
		alloc.PodStatus = status
		alloc.Message = message
		if err := r.allocations.Update(alloc); err != nil {
			return false, err
		}
	}

	if !e.ExecutionStatus.IsActive() {
		return false, nil
	}

	var next models.ExecutionStatus
	var nextMessage string
	switch {
	case e.ExecutionStatus == models.ExecutionRunning && alloc.PodStatus != models.PodRunning:
		// the pod disappeared without a normal completion signal
		next = models.ExecutionFailed
		nextMessage = "the execution pod stopped before the execution completed"

	case alloc.PodStatus == models.PodInError || alloc.PodStatus == models.PodOOMKilled:
		next = models.ExecutionPodError
		nextMessage = alloc.Message
		if nextMessage == "" {
			nextMessage = "the execution pod is in error"
		}

	case alloc.PodStatus == models.PodPending:
		next = models.ExecutionPodPending
		nextMessage = "waiting for the execution pod to start"
		if alloc.Message != "" {
			nextMessage = "waiting for the execution pod: " + alloc.Message
		}
	}

	if next == "" || next == e.ExecutionStatus {
		return false, nil
	}

	if err := r.executions.UpdateStatus(e.ID, next, nextMessage); err != nil {
		return false, err
	}
	log.Infof("execution %d reconciled from %s to %s", e.ID, e.ExecutionStatus, next)
	e.ExecutionStatus = next
	e.Message = nextMessage
	return true, nil
}
