package execution

import (
	"context"
	"sync"
	"testing"
	"time"

	"study-orchestrator/core/engine"
	"study-orchestrator/core/models"
	"study-orchestrator/core/ontology"
	"study-orchestrator/core/orchestrator"
	"study-orchestrator/core/repository"
	"study-orchestrator/core/studycase"
	"study-orchestrator/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAllocator is an in-memory allocation manager with injectable status
// and failures
type fakeAllocator struct {
	mu        sync.Mutex
	status    models.PodStatus
	message   string
	createErr error
	deleteErr error
	deleted   []int64
}

func newFakeAllocator() *fakeAllocator {
	return &fakeAllocator{status: models.PodRunning}
}

func (f *fakeAllocator) CreateAndLoad(_ context.Context, identifier int64, podType models.PodType, flavor string, _ string) (*models.PodAllocation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &models.PodAllocation{
		Identifier: identifier,
		PodType:    podType,
		PodStatus:  f.status,
		Flavor:     flavor,
	}, nil
}

func (f *fakeAllocator) Load(_ context.Context, _ *models.PodAllocation) error { return nil }

func (f *fakeAllocator) GetStatus(_ context.Context, _ *models.PodAllocation) (models.PodStatus, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.message, nil
}

func (f *fakeAllocator) DeleteServicesAndDeployments(_ context.Context, allocs []*models.PodAllocation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for _, a := range allocs {
		f.deleted = append(f.deleted, a.ID)
	}
	return nil
}

func (f *fakeAllocator) setStatus(status models.PodStatus, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
	f.message = message
}

// fakeSignaler records termination requests
type fakeSignaler struct {
	mu   sync.Mutex
	pids []int
	err  error
}

func (f *fakeSignaler) Terminate(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pids = append(f.pids, pid)
	return f.err
}

type controllerFixture struct {
	controller  *Controller
	allocator   *fakeAllocator
	signaler    *fakeSignaler
	studies     *repository.InMemoryStudyCaseRepository
	executions  *repository.InMemoryExecutionRepository
	allocations *repository.InMemoryAllocationRepository
	study       *models.StudyCase
}

func newControllerFixture(t *testing.T) *controllerFixture {
	t.Helper()
	studies := repository.NewInMemoryStudyCaseRepository()
	executions := repository.NewInMemoryExecutionRepository()
	allocations := repository.NewInMemoryAllocationRepository()
	logs := repository.NewInMemoryExecutionLogRepository()
	store := storage.NewStudyStore(t.TempDir())
	cache := studycase.NewCache(studies, store, engine.LocalFactory)
	allocator := newFakeAllocator()
	orch := orchestrator.NewOrchestrator(cache, studies, executions, allocations, store, allocator, ontology.NoopClient{}, 5*time.Second)

	controller := NewController(
		studies, executions, allocations, logs,
		allocator, cache, orch, store, ontology.NoopClient{},
		StrategyThread, "")
	signaler := &fakeSignaler{}
	controller.SetSignaler(signaler)

	sc := &models.StudyCase{
		Name:           "runnable",
		Process:        "energy_process",
		Repository:     "energy_models",
		FromType:       models.StudyFromReference,
		CreationStatus: models.CreationDone,
	}
	require.NoError(t, studies.Create(sc))

	return &controllerFixture{
		controller:  controller,
		allocator:   allocator,
		signaler:    signaler,
		studies:     studies,
		executions:  executions,
		allocations: allocations,
		study:       sc,
	}
}

func waitForStatus(t *testing.T, executions *repository.InMemoryExecutionRepository, id int64, want models.ExecutionStatus) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		e, err := executions.Get(id)
		require.NoError(t, err)
		if e.ExecutionStatus == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	e, _ := executions.Get(id)
	t.Fatalf("execution %d never reached %s, last status %s", id, want, e.ExecutionStatus)
}

func TestExecuteRunsToCompletion(t *testing.T) {
	fx := newControllerFixture(t)

	e, err := fx.controller.Execute(context.Background(), fx.study.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", e.RequestedBy)

	row, err := fx.studies.Get(fx.study.ID)
	require.NoError(t, err)
	require.NotNil(t, row.CurrentExecutionID)
	assert.Equal(t, e.ID, *row.CurrentExecutionID)

	alloc, err := fx.allocations.GetByIdentifier(e.ID, models.PodTypeExecution)
	require.NoError(t, err)
	require.NotNil(t, alloc)

	waitForStatus(t, fx.executions, e.ID, models.ExecutionFinished)
}

func TestExecuteRejectsConcurrentSubmission(t *testing.T) {
	fx := newControllerFixture(t)

	running := &models.StudyCaseExecution{
		StudyCaseID:     fx.study.ID,
		ExecutionStatus: models.ExecutionRunning,
	}
	require.NoError(t, fx.executions.Create(running))
	require.NoError(t, fx.studies.SetCurrentExecution(fx.study.ID, &running.ID))

	before, err := fx.executions.ListByStudy(fx.study.ID)
	require.NoError(t, err)

	_, err = fx.controller.Execute(context.Background(), fx.study.ID, "bob")
	require.Error(t, err)
	var calcErr *models.CalculationError
	assert.ErrorAs(t, err, &calcErr)

	// a rejected submission must not leave a row behind
	after, err := fx.executions.ListByStudy(fx.study.ID)
	require.NoError(t, err)
	assert.Len(t, after, len(before))
}

func TestExecuteAfterTerminalExecutionCreatesNewRow(t *testing.T) {
	fx := newControllerFixture(t)

	finished := &models.StudyCaseExecution{
		StudyCaseID:     fx.study.ID,
		ExecutionStatus: models.ExecutionFinished,
	}
	require.NoError(t, fx.executions.Create(finished))
	require.NoError(t, fx.studies.SetCurrentExecution(fx.study.ID, &finished.ID))

	e, err := fx.controller.Execute(context.Background(), fx.study.ID, "bob")
	require.NoError(t, err)
	assert.NotEqual(t, finished.ID, e.ID)

	row, err := fx.studies.Get(fx.study.ID)
	require.NoError(t, err)
	require.NotNil(t, row.CurrentExecutionID)
	assert.Equal(t, e.ID, *row.CurrentExecutionID)
}

func TestExecuteAllocationFailureMarksExecutionFailed(t *testing.T) {
	fx := newControllerFixture(t)
	fx.allocator.createErr = assert.AnError

	_, err := fx.controller.Execute(context.Background(), fx.study.ID, "alice")
	require.Error(t, err)
	var calcErr *models.CalculationError
	assert.ErrorAs(t, err, &calcErr)

	execs, err := fx.executions.ListByStudy(fx.study.ID)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, models.ExecutionFailed, execs[0].ExecutionStatus)
}

func TestStopSignalFailureStillStops(t *testing.T) {
	fx := newControllerFixture(t)
	fx.signaler.err = assert.AnError

	e := &models.StudyCaseExecution{
		StudyCaseID:       fx.study.ID,
		ExecutionStatus:   models.ExecutionRunning,
		ExecutionType:     models.ExecutionTypeProcess,
		ProcessIdentifier: 4242,
	}
	require.NoError(t, fx.executions.Create(e))
	require.NoError(t, fx.studies.SetCurrentExecution(fx.study.ID, &e.ID))

	require.NoError(t, fx.controller.Stop(context.Background(), fx.study.ID, 0))

	fx.signaler.mu.Lock()
	assert.Equal(t, []int{4242}, fx.signaler.pids)
	fx.signaler.mu.Unlock()

	stopped, err := fx.executions.Get(e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStopped, stopped.ExecutionStatus)
}

func TestStopAllocationTeardownFailureMarksFailed(t *testing.T) {
	fx := newControllerFixture(t)
	fx.allocator.deleteErr = assert.AnError

	e := &models.StudyCaseExecution{
		StudyCaseID:     fx.study.ID,
		ExecutionStatus: models.ExecutionRunning,
	}
	require.NoError(t, fx.executions.Create(e))
	require.NoError(t, fx.studies.SetCurrentExecution(fx.study.ID, &e.ID))
	require.NoError(t, fx.allocations.Create(&models.PodAllocation{
		Identifier: e.ID,
		PodType:    models.PodTypeExecution,
		PodStatus:  models.PodRunning,
	}))

	err := fx.controller.Stop(context.Background(), fx.study.ID, 0)
	require.Error(t, err)

	failed, err := fx.executions.Get(e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionFailed, failed.ExecutionStatus)
}

func TestStopWithoutExecutionFails(t *testing.T) {
	fx := newControllerFixture(t)

	err := fx.controller.Stop(context.Background(), fx.study.ID, 0)
	require.Error(t, err)
	var execErr *models.InvalidStudyExecution
	assert.ErrorAs(t, err, &execErr)
}

func TestStatusWithoutExecutionShowsPlaceholders(t *testing.T) {
	fx := newControllerFixture(t)

	status, err := fx.controller.Status(context.Background(), fx.study.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionNotExecuted, status.ExecutionStatus)
	assert.Equal(t, models.IdleUsage, status.CPUUsage)
	assert.Equal(t, models.IdleUsage, status.MemoryUsage)
}

func TestAdmissionIsGlobalAcrossStudies(t *testing.T) {
	// the admission gate is process-wide: two submissions for different
	// studies serialize, they are never admitted concurrently
	fx := newControllerFixture(t)

	other := &models.StudyCase{
		Name:           "second study",
		Process:        "energy_process",
		Repository:     "energy_models",
		FromType:       models.StudyFromReference,
		CreationStatus: models.CreationDone,
	}
	require.NoError(t, fx.studies.Create(other))

	var wg sync.WaitGroup
	for _, id := range []int64{fx.study.ID, other.ID} {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := fx.controller.Execute(context.Background(), id, "alice")
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	execs, err := fx.executions.ListAll()
	require.NoError(t, err)
	assert.Len(t, execs, 2)
}
