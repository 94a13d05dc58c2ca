package execution

import (
	"context"
	"testing"

	"study-orchestrator/core/models"
	"study-orchestrator/core/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reconcilerFixture struct {
	reconciler  *Reconciler
	allocator   *fakeAllocator
	executions  *repository.InMemoryExecutionRepository
	allocations *repository.InMemoryAllocationRepository
}

func newReconcilerFixture(t *testing.T) *reconcilerFixture {
	t.Helper()
	executions := repository.NewInMemoryExecutionRepository()
	allocations := repository.NewInMemoryAllocationRepository()
	allocator := newFakeAllocator()
	return &reconcilerFixture{
		reconciler:  NewReconciler(executions, allocations, allocator),
		allocator:   allocator,
		executions:  executions,
		allocations: allocations,
	}
}

func (fx *reconcilerFixture) seed(t *testing.T, execStatus models.ExecutionStatus, podStatus models.PodStatus) *models.StudyCaseExecution {
	t.Helper()
	e := &models.StudyCaseExecution{StudyCaseID: 1, ExecutionStatus: execStatus}
	require.NoError(t, fx.executions.Create(e))
	require.NoError(t, fx.allocations.Create(&models.PodAllocation{
		Identifier: e.ID,
		PodType:    models.PodTypeExecution,
		PodStatus:  podStatus,
	}))
	fx.allocator.setStatus(podStatus, "")
	return e
}

func TestReconcileWithoutAllocationIsNoop(t *testing.T) {
	fx := newReconcilerFixture(t)
	e := &models.StudyCaseExecution{StudyCaseID: 1, ExecutionStatus: models.ExecutionPending}
	require.NoError(t, fx.executions.Create(e))

	changed, err := fx.reconciler.UpdateExecutionStatus(context.Background(), e)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, models.ExecutionPending, e.ExecutionStatus)
}

func TestReconcilePendingPodMarksPodPending(t *testing.T) {
	fx := newReconcilerFixture(t)
	e := fx.seed(t, models.ExecutionPending, models.PodPending)
	fx.allocator.setStatus(models.PodPending, "ContainerCreating")

	changed, err := fx.reconciler.UpdateExecutionStatus(context.Background(), e)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.ExecutionPodPending, e.ExecutionStatus)
	assert.Contains(t, e.Message, "ContainerCreating")
}

func TestReconcileIsIdempotent(t *testing.T) {
	fx := newReconcilerFixture(t)
	e := fx.seed(t, models.ExecutionPending, models.PodPending)

	changed, err := fx.reconciler.UpdateExecutionStatus(context.Background(), e)
	require.NoError(t, err)
	require.True(t, changed)
	writes := fx.executions.StatusWrites()

	// a second reconcile with the same observed state writes nothing
	changed, err = fx.reconciler.UpdateExecutionStatus(context.Background(), e)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, writes, fx.executions.StatusWrites())
}

func TestReconcilePodErrorUsesAllocationMessage(t *testing.T) {
	fx := newReconcilerFixture(t)
	e := fx.seed(t, models.ExecutionPending, models.PodInError)
	fx.allocator.setStatus(models.PodInError, "ImagePullBackOff")

	changed, err := fx.reconciler.UpdateExecutionStatus(context.Background(), e)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.ExecutionPodError, e.ExecutionStatus)
	assert.Equal(t, "ImagePullBackOff", e.Message)
}

func TestReconcileOOMKilledFallsBackToGenericMessage(t *testing.T) {
	fx := newReconcilerFixture(t)
	e := fx.seed(t, models.ExecutionPending, models.PodOOMKilled)

	changed, err := fx.reconciler.UpdateExecutionStatus(context.Background(), e)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.ExecutionPodError, e.ExecutionStatus)
	assert.NotEmpty(t, e.Message)
}

func TestReconcileRunningWithVanishedPodMarksFailed(t *testing.T) {
	fx := newReconcilerFixture(t)
	e := fx.seed(t, models.ExecutionRunning, models.PodNotStarted)

	changed, err := fx.reconciler.UpdateExecutionStatus(context.Background(), e)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.ExecutionFailed, e.ExecutionStatus)
}

func TestReconcileTerminalExecutionNeverChanges(t *testing.T) {
	fx := newReconcilerFixture(t)
	e := fx.seed(t, models.ExecutionFinished, models.PodInError)

	changed, err := fx.reconciler.UpdateExecutionStatus(context.Background(), e)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, models.ExecutionFinished, e.ExecutionStatus)

	// the allocation status itself is still refreshed
	alloc, err := fx.allocations.GetByIdentifier(e.ID, models.PodTypeExecution)
	require.NoError(t, err)
	assert.Equal(t, models.PodInError, alloc.PodStatus)
}

func TestReconcileRunningHealthyIsNoop(t *testing.T) {
	fx := newReconcilerFixture(t)
	e := fx.seed(t, models.ExecutionRunning, models.PodRunning)

	changed, err := fx.reconciler.UpdateExecutionStatus(context.Background(), e)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, models.ExecutionRunning, e.ExecutionStatus)
}
