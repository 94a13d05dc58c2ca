package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"study-orchestrator/core/allocation"
	"study-orchestrator/core/coedition"
	"study-orchestrator/core/engine"
	"study-orchestrator/core/models"
	"study-orchestrator/core/ontology"
	"study-orchestrator/core/repository"
	"study-orchestrator/core/studycase"
	"study-orchestrator/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingAllocator tracks how the study allocation lifecycle is exercised
type countingAllocator struct {
	*allocation.LocalManager
	mu      sync.Mutex
	created int
	loaded  int
	deleted int
}

func (a *countingAllocator) CreateAndLoad(ctx context.Context, identifier int64, podType models.PodType, flavor string, logFile string) (*models.PodAllocation, error) {
	a.mu.Lock()
	a.created++
	a.mu.Unlock()
	return a.LocalManager.CreateAndLoad(ctx, identifier, podType, flavor, logFile)
}

func (a *countingAllocator) Load(ctx context.Context, alloc *models.PodAllocation) error {
	a.mu.Lock()
	a.loaded++
	a.mu.Unlock()
	return a.LocalManager.Load(ctx, alloc)
}

func (a *countingAllocator) DeleteServicesAndDeployments(ctx context.Context, allocs []*models.PodAllocation) error {
	a.mu.Lock()
	a.deleted += len(allocs)
	a.mu.Unlock()
	return a.LocalManager.DeleteServicesAndDeployments(ctx, allocs)
}

type fixture struct {
	orchestrator *Orchestrator
	cache        *studycase.Cache
	studies      *repository.InMemoryStudyCaseRepository
	executions   *repository.InMemoryExecutionRepository
	allocations  *repository.InMemoryAllocationRepository
	allocator    *countingAllocator
	store        *storage.StudyStore
}

func newFixture(t *testing.T, factory engine.Factory) *fixture {
	t.Helper()
	studies := repository.NewInMemoryStudyCaseRepository()
	executions := repository.NewInMemoryExecutionRepository()
	allocations := repository.NewInMemoryAllocationRepository()
	store := storage.NewStudyStore(t.TempDir())
	cache := studycase.NewCache(studies, store, factory)
	allocator := &countingAllocator{LocalManager: allocation.NewLocalManager()}
	orch := NewOrchestrator(cache, studies, executions, allocations, store, allocator, ontology.NoopClient{}, 5*time.Second)
	return &fixture{
		orchestrator: orch,
		cache:        cache,
		studies:      studies,
		executions:   executions,
		allocations:  allocations,
		allocator:    allocator,
		store:        store,
	}
}

func referenceStudy(name, reference string) *models.StudyCase {
	return &models.StudyCase{
		Name:       name,
		Process:    "energy_process",
		Repository: "energy_models",
		FromType:   models.StudyFromReference,
		Reference:  reference,
	}
}

func TestCreateFromReference(t *testing.T) {
	fx := newFixture(t, engine.LocalFactory)

	sc := referenceStudy("mix 2050", "usecase_2050")
	task, err := fx.orchestrator.Create(sc)
	require.NoError(t, err)
	require.NoError(t, task.Wait(5*time.Second))

	row, err := fx.studies.Get(sc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CreationDone, row.CreationStatus)

	m, err := fx.cache.Get(sc.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.LoadStatusLoaded, m.LoadStatus())
	assert.True(t, fx.store.HasBlob(sc.ID, storage.DataManagerFile))
}

func TestCreateWithoutReferenceIsImmediatelyDone(t *testing.T) {
	fx := newFixture(t, engine.LocalFactory)

	sc := referenceStudy("empty study", "")
	task, err := fx.orchestrator.Create(sc)
	require.NoError(t, err)
	require.NoError(t, task.Wait(time.Second))

	row, err := fx.studies.Get(sc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CreationDone, row.CreationStatus)

	m, err := fx.cache.Get(sc.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.LoadStatusLoaded, m.LoadStatus())
}

// countingEngine counts Configure calls to observe load dispatch
type countingEngine struct {
	*engine.LocalEngine
	mu         sync.Mutex
	configures int
}

func (e *countingEngine) Configure() error {
	e.mu.Lock()
	e.configures++
	e.mu.Unlock()
	time.Sleep(20 * time.Millisecond)
	return e.LocalEngine.Configure()
}

func TestConcurrentLoadDispatchesOnce(t *testing.T) {
	var eng *countingEngine
	factory := func(process, repo string) (engine.Engine, error) {
		eng = &countingEngine{LocalEngine: engine.NewLocalEngine(process, repo)}
		return eng, nil
	}
	fx := newFixture(t, factory)

	sc := referenceStudy("shared", "")
	sc.CreationStatus = models.CreationDone
	require.NoError(t, fx.studies.Create(sc))

	const callers = 16
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			task, err := fx.orchestrator.Load(sc.ID, false)
			if assert.NoError(t, err) {
				assert.NoError(t, task.Wait(5*time.Second))
			}
		}()
	}
	wg.Wait()

	eng.mu.Lock()
	defer eng.mu.Unlock()
	assert.Equal(t, 1, eng.configures)
}

func TestCopyRoundTrip(t *testing.T) {
	fx := newFixture(t, engine.LocalFactory)

	source := referenceStudy("original", "usecase_2050")
	task, err := fx.orchestrator.Create(source)
	require.NoError(t, err)
	require.NoError(t, task.Wait(5*time.Second))

	running := &models.StudyCaseExecution{
		StudyCaseID:     source.ID,
		ExecutionStatus: models.ExecutionRunning,
		RequestedBy:     "alice",
	}
	require.NoError(t, fx.executions.Create(running))
	require.NoError(t, fx.studies.SetCurrentExecution(source.ID, &running.ID))

	target, copyTask, err := fx.orchestrator.Copy(source.ID, "original (copy)", 2)
	require.NoError(t, err)
	require.NoError(t, copyTask.Wait(5*time.Second))

	row, err := fx.studies.Get(target.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CreationDone, row.CreationStatus)
	assert.Equal(t, "original (copy)", row.Name)

	// study files are carried over byte for byte
	src, err := os.ReadFile(filepath.Join(fx.store.StudyDir(source.ID), storage.DataManagerFile))
	require.NoError(t, err)
	dst, err := os.ReadFile(filepath.Join(fx.store.StudyDir(target.ID), storage.DataManagerFile))
	require.NoError(t, err)
	assert.Equal(t, src, dst)

	// the cloned execution record is coerced to a terminal status
	require.NotNil(t, row.CurrentExecutionID)
	clone, err := fx.executions.Get(*row.CurrentExecutionID)
	require.NoError(t, err)
	assert.Equal(t, target.ID, clone.StudyCaseID)
	assert.Equal(t, models.ExecutionNotExecuted, clone.ExecutionStatus)
	assert.Equal(t, "alice", clone.RequestedBy)
}

func TestCopySourceNotReadyRemovesTarget(t *testing.T) {
	fx := newFixture(t, engine.LocalFactory)

	source := referenceStudy("pending source", "usecase")
	source.CreationStatus = models.CreationPending
	require.NoError(t, fx.studies.Create(source))

	target, _, err := fx.orchestrator.Copy(source.ID, "doomed copy", 2)
	require.Error(t, err)

	_, err = fx.studies.Get(target.ID)
	assert.Error(t, err, "half-created target row must be removed")
	assert.False(t, fx.cache.IsCached(target.ID))
}

// failingEngine fails reference loading to exercise the error path
type failingEngine struct {
	*engine.LocalEngine
}

func (e *failingEngine) LoadFromReference(string) error {
	return fmt.Errorf("reference data is corrupted")
}

func TestCreationFailureIsInspectable(t *testing.T) {
	factory := func(process, repo string) (engine.Engine, error) {
		return &failingEngine{LocalEngine: engine.NewLocalEngine(process, repo)}, nil
	}
	fx := newFixture(t, factory)

	sc := referenceStudy("broken", "bad_reference")
	task, err := fx.orchestrator.Create(sc)
	require.NoError(t, err)
	assert.Error(t, task.Wait(5*time.Second))

	row, err := fx.studies.Get(sc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CreationInError, row.CreationStatus)

	m, err := fx.cache.Get(sc.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.LoadStatusInError, m.LoadStatus())
	assert.Contains(t, m.Error(), "reference data is corrupted")

	// later loads fail fast instead of retrying the broken creation
	_, err = fx.orchestrator.Load(sc.ID, false)
	assert.Error(t, err)
}

func TestGetStudyCaseServesSnapshot(t *testing.T) {
	fx := newFixture(t, engine.LocalFactory)

	sc := referenceStudy("snapshotted", "")
	task, err := fx.orchestrator.Create(sc)
	require.NoError(t, err)
	require.NoError(t, task.Wait(time.Second))

	finished := &models.StudyCaseExecution{
		StudyCaseID:     sc.ID,
		ExecutionStatus: models.ExecutionFinished,
	}
	require.NoError(t, fx.executions.Create(finished))
	require.NoError(t, fx.studies.SetCurrentExecution(sc.ID, &finished.ID))
	require.NoError(t, fx.store.WriteSnapshot(sc.ID, map[string]interface{}{"tree": "frozen"}))

	resp, err := fx.orchestrator.GetStudyCase(sc.ID, models.AccessCommenter, true)
	require.NoError(t, err)
	assert.True(t, resp.ReadOnly)
	assert.NotNil(t, resp.Snapshot)
	assert.False(t, resp.CanEdit)
}

func TestGetStudyCaseSkipsSnapshotForRestrictedViewer(t *testing.T) {
	fx := newFixture(t, engine.LocalFactory)

	sc := referenceStudy("restricted", "")
	task, err := fx.orchestrator.Create(sc)
	require.NoError(t, err)
	require.NoError(t, task.Wait(time.Second))

	finished := &models.StudyCaseExecution{
		StudyCaseID:     sc.ID,
		ExecutionStatus: models.ExecutionFinished,
	}
	require.NoError(t, fx.executions.Create(finished))
	require.NoError(t, fx.studies.SetCurrentExecution(sc.ID, &finished.ID))
	require.NoError(t, fx.store.WriteSnapshot(sc.ID, map[string]interface{}{"tree": "frozen"}))

	resp, err := fx.orchestrator.GetStudyCase(sc.ID, models.AccessRestrictedViewer, true)
	require.NoError(t, err)
	assert.False(t, resp.ReadOnly)
	assert.Nil(t, resp.Snapshot)
}

func TestUpdateParameters(t *testing.T) {
	fx := newFixture(t, engine.LocalFactory)

	sc := referenceStudy("editable", "usecase_2050")
	task, err := fx.orchestrator.Create(sc)
	require.NoError(t, err)
	require.NoError(t, task.Wait(5*time.Second))

	before, err := fx.studies.Get(sc.ID)
	require.NoError(t, err)

	err = fx.orchestrator.UpdateParameters(sc.ID, []ParameterChange{
		{VariableID: "energy_process.share_renewables", NewValue: 0.42},
	})
	require.NoError(t, err)

	m, err := fx.cache.Get(sc.ID, false)
	require.NoError(t, err)
	p, ok := m.Engine().DataManager().Get("energy_process.share_renewables")
	require.True(t, ok)
	assert.Equal(t, 0.42, p.Value)

	after, err := fx.studies.Get(sc.ID)
	require.NoError(t, err)
	assert.True(t, after.ModificationDate.After(before.ModificationDate))
}

func TestDeleteRemovesEverything(t *testing.T) {
	fx := newFixture(t, engine.LocalFactory)

	sc := referenceStudy("ephemeral", "usecase_2050")
	task, err := fx.orchestrator.Create(sc)
	require.NoError(t, err)
	require.NoError(t, task.Wait(5*time.Second))

	require.NoError(t, fx.orchestrator.Delete(sc.ID))

	assert.False(t, fx.cache.IsCached(sc.ID))
	_, err = fx.studies.Get(sc.ID)
	assert.Error(t, err)
	_, err = os.Stat(fx.store.StudyDir(sc.ID))
	assert.True(t, os.IsNotExist(err))

	alloc, err := fx.allocations.GetByIdentifier(sc.ID, models.PodTypeStudy)
	require.NoError(t, err)
	assert.Nil(t, alloc, "the study's backing allocation must be torn down")
	assert.Equal(t, 1, fx.allocator.deleted)
}

func TestLoadOrCreateDoesNotReenterCopyCreation(t *testing.T) {
	fx := newFixture(t, engine.LocalFactory)

	source := referenceStudy("original", "usecase_2050")
	task, err := fx.orchestrator.Create(source)
	require.NoError(t, err)
	require.NoError(t, task.Wait(5*time.Second))

	finished := &models.StudyCaseExecution{
		StudyCaseID:     source.ID,
		ExecutionStatus: models.ExecutionFinished,
		RequestedBy:     "alice",
	}
	require.NoError(t, fx.executions.Create(finished))
	require.NoError(t, fx.studies.SetCurrentExecution(source.ID, &finished.ID))

	target, copyTask, err := fx.orchestrator.Copy(source.ID, "original (copy)", 2)
	require.NoError(t, err)
	require.NoError(t, copyTask.Wait(5*time.Second))

	rows, err := fx.executions.ListByStudy(target.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	// another process is recreating the study and persisted the transition
	require.NoError(t, fx.studies.UpdateCreationStatus(target.ID, models.CreationInProgress))

	_, err = fx.orchestrator.LoadOrCreate(target.ID)
	require.Error(t, err)

	rows, err = fx.executions.ListByStudy(target.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 1, "an in-progress creation must not run again and clone a second execution row")
}

// slowEngine delays reference loading so a creation stays observable in flight
type slowEngine struct {
	*engine.LocalEngine
	mu    sync.Mutex
	loads int
}

func (e *slowEngine) LoadFromReference(reference string) error {
	e.mu.Lock()
	e.loads++
	e.mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	return e.LocalEngine.LoadFromReference(reference)
}

func TestConcurrentLoadOrCreatePopulatesOnce(t *testing.T) {
	var eng *slowEngine
	factory := func(process, repo string) (engine.Engine, error) {
		eng = &slowEngine{LocalEngine: engine.NewLocalEngine(process, repo)}
		return eng, nil
	}
	fx := newFixture(t, factory)

	sc := referenceStudy("contended", "usecase_2050")
	task, err := fx.orchestrator.Create(sc)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if joined, err := fx.orchestrator.LoadOrCreate(sc.ID); err == nil {
				_ = joined.Wait(5 * time.Second)
			}
		}()
	}
	require.NoError(t, task.Wait(5*time.Second))
	wg.Wait()

	eng.mu.Lock()
	defer eng.mu.Unlock()
	assert.Equal(t, 1, eng.loads, "concurrent callers must join the in-flight creation")
}

func TestLoadRequestsStudyAllocation(t *testing.T) {
	fx := newFixture(t, engine.LocalFactory)

	sc := referenceStudy("backed", "usecase_2050")
	sc.StudyPodFlavor = "medium"
	task, err := fx.orchestrator.Create(sc)
	require.NoError(t, err)
	require.NoError(t, task.Wait(5*time.Second))

	alloc, err := fx.allocations.GetByIdentifier(sc.ID, models.PodTypeStudy)
	require.NoError(t, err)
	require.NotNil(t, alloc)
	assert.Equal(t, models.PodTypeStudy, alloc.PodType)
	assert.Equal(t, "medium", alloc.Flavor)
	assert.Equal(t, 1, fx.allocator.created)

	// loading the study again after eviction refreshes the existing
	// allocation instead of creating a second one
	require.NoError(t, fx.cache.Delete(sc.ID))
	loadTask, err := fx.orchestrator.Load(sc.ID, false)
	require.NoError(t, err)
	require.NoError(t, loadTask.Wait(5*time.Second))

	assert.Equal(t, 1, fx.allocator.created)
	assert.Equal(t, 1, fx.allocator.loaded)
}

func TestSaveParametersRecordsChanges(t *testing.T) {
	fx := newFixture(t, engine.LocalFactory)

	sc := referenceStudy("audited", "usecase_2050")
	task, err := fx.orchestrator.Create(sc)
	require.NoError(t, err)
	require.NoError(t, task.Wait(5*time.Second))

	m, err := fx.cache.Get(sc.ID, false)
	require.NoError(t, err)
	dm := m.Engine().DataManager()
	dm.Set("energy_process.share_renewables", 0.2)
	dm.DataDict["energy_process.load_profile"] = &engine.Parameter{
		ID:       "energy_process.load_profile",
		Value:    "hour,load\n0,1.0",
		Type:     "dataframe",
		Editable: true,
	}

	tracker := coedition.NewTracker(
		repository.NewInMemoryCoeditionRepository(),
		repository.NewInMemoryNotificationRepository(),
		repository.NewInMemoryUserRepository(&models.User{ID: 1, Username: "alice"}),
	)
	notificationID, err := tracker.AddNotification(sc.ID, 1, models.CoeditionSave, "saved study case parameters")
	require.NoError(t, err)

	err = fx.orchestrator.SaveParameters(sc.ID, []ParameterChange{
		{VariableID: "energy_process.share_renewables", NewValue: 0.55},
		{VariableID: "energy_process.load_profile", NewValue: "hour,load\n0,0.8"},
	}, notificationID, "alice", tracker)
	require.NoError(t, err)

	changes, err := tracker.ListChanges(notificationID)
	require.NoError(t, err)
	require.Len(t, changes, 2)

	scalar := changes[0]
	assert.Equal(t, models.ChangeScalar, scalar.ChangeType)
	assert.Equal(t, "0.2", scalar.OldValue)
	assert.Equal(t, "0.55", scalar.NewValue)
	assert.Equal(t, "alice", scalar.Author)

	csv := changes[1]
	assert.Equal(t, models.ChangeCSV, csv.ChangeType)
	assert.Equal(t, []byte("hour,load\n0,1.0"), csv.OldValueBlob)

	// the save notification owns changes now and survives the vacuous prune
	kept, err := tracker.ListNotifications(sc.ID)
	require.NoError(t, err)
	require.Len(t, kept, 1)
	assert.Equal(t, notificationID, kept[0].ID)
}
