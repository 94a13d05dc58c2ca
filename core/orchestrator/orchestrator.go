package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"study-orchestrator/core/allocation"
	"study-orchestrator/core/engine"
	"study-orchestrator/core/models"
	"study-orchestrator/core/ontology"
	"study-orchestrator/core/repository"
	"study-orchestrator/core/studycase"
	"study-orchestrator/storage"

	log "github.com/sirupsen/logrus"
)

// Orchestrator drives the study case creation and loading state machine.
// CreationStatus is persisted and must not be re-entered concurrently;
// LoadStatus is in-memory and cheap to retry. IN_PROGRESS is persisted
// before any background work starts so concurrent callers observe it.
type Orchestrator struct {
	cache       *studycase.Cache
	studies     repository.StudyCaseRepository
	executions  repository.ExecutionRepository
	allocations repository.AllocationRepository
	store       *storage.StudyStore
	allocator   allocation.Manager
	ontology    ontology.Client
	tasks       *TaskRegistry

	loadTimeout time.Duration
}

// NewOrchestrator creates a load/create orchestrator
func NewOrchestrator(
	cache *studycase.Cache,
	studies repository.StudyCaseRepository,
	executions repository.ExecutionRepository,
	allocations repository.AllocationRepository,
	store *storage.StudyStore,
	allocator allocation.Manager,
	ont ontology.Client,
	loadTimeout time.Duration,
) *Orchestrator {
	return &Orchestrator{
		cache:       cache,
		studies:     studies,
		executions:  executions,
		allocations: allocations,
		store:       store,
		allocator:   allocator,
		ontology:    ont,
		tasks:       NewTaskRegistry(),
		loadTimeout: loadTimeout,
	}
}

// Create inserts a new study case row and starts its creation
func (o *Orchestrator) Create(sc *models.StudyCase) (*Task, error) {
	sc.CreationStatus = models.CreationPending
	if err := o.studies.Create(sc); err != nil {
		return nil, err
	}
	return o.LoadOrCreate(sc.ID)
}

// Copy inserts a new study case row copying an existing study and starts
// its creation
func (o *Orchestrator) Copy(sourceID int64, name string, groupID int64) (*models.StudyCase, *Task, error) {
	source, err := o.studies.Get(sourceID)
	if err != nil {
		return nil, nil, err
	}

	target := &models.StudyCase{
		GroupID:            groupID,
		Process:            source.Process,
		Repository:         source.Repository,
		Name:               name,
		FromType:           models.StudyFromCopy,
		SourceStudyID:      &sourceID,
		StudyPodFlavor:     source.StudyPodFlavor,
		ExecutionPodFlavor: source.ExecutionPodFlavor,
	}
	task, err := o.Create(target)
	if err != nil {
		return target, nil, err
	}
	return target, task, nil
}

// LoadOrCreate decides whether a study case must be created or loaded and
// dispatches the corresponding work. Already created studies delegate to a
// plain load.
func (o *Orchestrator) LoadOrCreate(studyID int64) (*Task, error) {
	m, err := o.cache.Get(studyID, true)
	if err != nil {
		return nil, err
	}
	sc := m.StudyCase()

	switch sc.CreationStatus {
	case models.CreationDone:
		return o.Load(studyID, false)

	case models.CreationInError:
		return nil, models.NewStudyCaseError(fmt.Sprintf("study %d creation is in error, cannot load", sc.ID), nil)

	case models.CreationInProgress:
		// a creation is already running, join it instead of re-entering:
		// re-running the copy would clone a second execution row and the
		// reference path would overwrite the blob being populated
		if task, ok := o.tasks.Get(sc.ID); ok {
			return task, nil
		}
		return nil, models.NewStudyCaseError(fmt.Sprintf("study %d creation is already in progress", sc.ID), nil)
	}

	// persisted immediately so concurrent callers observe the transition
	if err := o.studies.UpdateCreationStatus(sc.ID, models.CreationInProgress); err != nil {
		return nil, err
	}
	if err := o.refresh(m); err != nil {
		return nil, err
	}

	switch sc.FromType {
	case models.StudyFromCopy:
		task, _ := o.tasks.StartIfAbsent(sc.ID, func() error {
			return o.createFromCopy(m)
		})
		if err := task.Wait(o.loadTimeout); err != nil {
			return nil, err
		}
		return o.Load(studyID, false)

	case models.StudyFromReference, models.StudyFromUsecaseData:
		return o.createFromSource(m)

	default:
		err := models.NewStudyCaseError(fmt.Sprintf("unknown study source type %q", sc.FromType), nil)
		o.failCreation(m, err)
		return nil, err
	}
}

// createFromCopy copies the persisted files of the source study and derives
// an execution record from the source's latest one
func (o *Orchestrator) createFromCopy(m *studycase.Manager) error {
	sc := m.StudyCase()
	if sc.SourceStudyID == nil {
		err := models.NewInvalidStudy("study %d has no source study", sc.ID)
		o.failCreation(m, err)
		return err
	}

	source, err := o.studies.Get(*sc.SourceStudyID)
	if err != nil || source.CreationStatus != models.CreationDone {
		// the target row is half-created, remove it instead of leaving an
		// orphan behind
		if delErr := o.studies.Delete(sc.ID); delErr != nil {
			log.Errorf("failed to delete half-created study %d: %v", sc.ID, delErr)
		}
		o.cache.Release(sc.ID)
		if err != nil {
			return err
		}
		return models.NewInvalidStudy("source study %d is not ready to be copied", source.ID)
	}

	if err := o.store.CopyStudy(source.ID, sc.ID); err != nil {
		o.failCreation(m, err)
		return err
	}

	latest, err := o.executions.GetLatestByStudy(source.ID)
	if err != nil {
		o.failCreation(m, err)
		return err
	}
	if latest != nil {
		status := latest.ExecutionStatus
		if !status.IsTerminal() {
			status = models.ExecutionNotExecuted
		}
		clone := &models.StudyCaseExecution{
			StudyCaseID:     sc.ID,
			ExecutionStatus: status,
			ExecutionType:   latest.ExecutionType,
			RequestedBy:     latest.RequestedBy,
		}
		if err := o.executions.Create(clone); err != nil {
			o.failCreation(m, err)
			return err
		}
		if err := o.studies.SetCurrentExecution(sc.ID, &clone.ID); err != nil {
			o.failCreation(m, err)
			return err
		}
	}

	if err := o.studies.UpdateCreationStatus(sc.ID, models.CreationDone); err != nil {
		o.failCreation(m, err)
		return err
	}
	return o.refresh(m)
}

// createFromSource dumps initial empty state and dispatches the background
// population from the reference or usecase data
func (o *Orchestrator) createFromSource(m *studycase.Manager) (*Task, error) {
	sc := m.StudyCase()

	if err := m.DumpEmptyState(); err != nil {
		o.failCreation(m, err)
		return nil, err
	}

	if sc.Reference == "" {
		// nothing to populate from: the study is immediately done with an
		// empty tree
		if err := o.studies.UpdateCreationStatus(sc.ID, models.CreationDone); err != nil {
			o.failCreation(m, err)
			return nil, err
		}
		if err := o.refresh(m); err != nil {
			return nil, err
		}
		m.SetLoadStatus(models.LoadStatusLoaded)
		return completedTask(nil), nil
	}

	task, started := o.tasks.StartIfAbsent(sc.ID, func() error {
		return o.populate(m)
	})
	if started {
		log.Infof("dispatched creation of study %d from %s %q", sc.ID, sc.FromType, sc.Reference)
	}
	return task, nil
}

// populate fills the in-memory data manager from the study's source. It
// runs detached: failures are recorded on the manager and the row, which is
// how later requests learn about them.
func (o *Orchestrator) populate(m *studycase.Manager) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = models.NewStudyCaseError(fmt.Sprintf("panic during study creation: %v", r), nil)
			m.SetError(fmt.Sprintf("%v\n%s", r, debug.Stack()))
			o.markCreationError(m)
		}
	}()

	sc := m.StudyCase()
	m.SetLoadStatus(models.LoadStatusInProgress)
	o.ensureStudyAllocation(m)

	eng := m.Engine()
	switch sc.FromType {
	case models.StudyFromUsecaseData:
		err = eng.LoadFromUsecase(sc.Reference)
	default:
		err = eng.LoadFromReference(sc.Reference)
	}
	if err == nil {
		err = m.DumpState()
	}
	if err != nil {
		m.SetError(fmt.Sprintf("%v\n%s", err, debug.Stack()))
		o.markCreationError(m)
		return models.NewStudyCaseError("study creation failed", err)
	}

	if err := o.studies.UpdateCreationStatus(sc.ID, models.CreationDone); err != nil {
		m.SetError(err.Error())
		return err
	}
	if err := o.refresh(m); err != nil {
		return err
	}
	m.SetLoadStatus(models.LoadStatusLoaded)
	log.Infof("study %d created from %s %q", sc.ID, sc.FromType, sc.Reference)
	return nil
}

// failCreation records a synchronous creation failure on both the manager
// and the persisted row, leaving the study inspectable
func (o *Orchestrator) failCreation(m *studycase.Manager, cause error) {
	m.SetError(fmt.Sprintf("%v\n%s", cause, debug.Stack()))
	o.markCreationError(m)
}

func (o *Orchestrator) markCreationError(m *studycase.Manager) {
	sc := m.StudyCase()
	if err := o.studies.UpdateCreationStatus(sc.ID, models.CreationInError); err != nil {
		log.Errorf("failed to mark study %d creation in error: %v", sc.ID, err)
	}
}

// ensureStudyAllocation requests the backing resource for the study on its
// first load and refreshes it on later loads, using the study's configured
// pod flavor. Allocation trouble never blocks an in-process load: it is
// logged and retried on the next load.
func (o *Orchestrator) ensureStudyAllocation(m *studycase.Manager) {
	sc := m.StudyCase()
	ctx := context.Background()

	alloc, err := o.allocations.GetByIdentifier(sc.ID, models.PodTypeStudy)
	if err != nil {
		log.Warnf("failed to look up study allocation of study %d: %v", sc.ID, err)
		return
	}

	if alloc == nil {
		alloc, err = o.allocator.CreateAndLoad(ctx, sc.ID, models.PodTypeStudy, sc.StudyPodFlavor, "")
		if err != nil {
			log.Warnf("failed to allocate study pod of study %d: %v", sc.ID, err)
			return
		}
		if err := o.allocations.Create(alloc); err != nil {
			log.Warnf("failed to persist study allocation of study %d: %v", sc.ID, err)
		}
		return
	}

	if err := o.allocator.Load(ctx, alloc); err != nil {
		log.Warnf("failed to refresh study allocation of study %d: %v", sc.ID, err)
		return
	}
	if err := o.allocations.Update(alloc); err != nil {
		log.Warnf("failed to persist study allocation of study %d: %v", sc.ID, err)
	}
}

// refresh re-reads the persisted row into the manager so its recorded
// modification date matches the database
func (o *Orchestrator) refresh(m *studycase.Manager) error {
	sc, err := o.studies.Get(m.StudyCase().ID)
	if err != nil {
		return err
	}
	m.SetStudyCase(sc)
	return nil
}

// Load dispatches a background load of the study's persisted state unless
// one is already in flight or done. With reload the on-disk backups are
// restored first and the in-memory state reset.
func (o *Orchestrator) Load(studyID int64, reload bool) (*Task, error) {
	m, err := o.cache.Get(studyID, false)
	if err != nil {
		return nil, err
	}
	sc := m.StudyCase()

	if sc.CreationStatus == models.CreationInError {
		return nil, models.NewStudyCaseError(fmt.Sprintf("study %d creation is in error, cannot load", sc.ID), nil)
	}
	if sc.CreationStatus != models.CreationDone {
		return nil, models.NewStudyCaseError(fmt.Sprintf("study %d is not created yet", sc.ID), nil)
	}

	if reload {
		if err := o.store.RestoreBackup(sc.ID); err != nil {
			return nil, err
		}
		m.Reset()
	}

	switch m.LoadStatus() {
	case models.LoadStatusLoaded:
		return completedTask(nil), nil
	case models.LoadStatusInError:
		return nil, models.NewStudyCaseError(m.Error(), nil)
	}

	task, started := o.tasks.StartIfAbsent(studyID, func() error {
		return o.loadStudy(m)
	})
	if started {
		log.Debugf("dispatched load of study %d", studyID)
	}
	return task, nil
}

func (o *Orchestrator) loadStudy(m *studycase.Manager) error {
	m.SetLoadStatus(models.LoadStatusInProgress)
	o.ensureStudyAllocation(m)

	if m.HasPersistedState() {
		if err := m.LoadState(); err != nil {
			m.SetError(fmt.Sprintf("%v\n%s", err, debug.Stack()))
			return models.NewStudyCaseError("study load failed", err)
		}
	} else if eng := m.Engine(); eng != nil {
		if err := eng.Configure(); err != nil {
			m.SetError(err.Error())
			return models.NewStudyCaseError("study configuration failed", err)
		}
	}

	m.SetLoadStatus(models.LoadStatusLoaded)
	return nil
}

// StudyCaseResponse is the assembled read path result
type StudyCaseResponse struct {
	StudyCase       *models.StudyCase  `json:"study_case"`
	TreeView        *engine.TreeNode   `json:"tree_view,omitempty"`
	Snapshot        interface{}        `json:"snapshot,omitempty"`
	ProcessLabel    string             `json:"process_label,omitempty"`
	RepositoryLabel string             `json:"repository_label,omitempty"`
	LoadStatus      models.LoadStatus  `json:"load_status"`
	AccessRight     models.AccessRight `json:"access_right"`
	CanEdit         bool               `json:"can_edit"`
	CanExecute      bool               `json:"can_execute"`
	ReadOnly        bool               `json:"read_only"`
}

// GetStudyCase orchestrates the full read path: ensures create/load has
// run, serves the precomputed read-only snapshot when the current execution
// is finished and rights permit, and assembles the response with rights
// flags and ontology display names
func (o *Orchestrator) GetStudyCase(studyID int64, right models.AccessRight, readOnlyMode bool) (*StudyCaseResponse, error) {
	m, err := o.cache.Get(studyID, true)
	if err != nil {
		return nil, err
	}
	sc := m.StudyCase()

	if readOnlyMode && right.CanReadSnapshot() && sc.CurrentExecutionID != nil {
		exec, err := o.executions.Get(*sc.CurrentExecutionID)
		if err == nil && exec.ExecutionStatus == models.ExecutionFinished && o.store.HasSnapshot(sc.ID) {
			var snapshot interface{}
			if err := o.store.ReadSnapshot(sc.ID, &snapshot); err == nil {
				resp := o.baseResponse(sc, right)
				resp.Snapshot = snapshot
				resp.ReadOnly = true
				resp.LoadStatus = models.LoadStatusLoaded
				return resp, nil
			}
		}
	}

	task, err := o.LoadOrCreate(studyID)
	if err != nil {
		return nil, err
	}
	if task != nil {
		if err := task.Wait(o.loadTimeout); err != nil {
			return nil, err
		}
	}

	if m.LoadStatus() == models.LoadStatusInError {
		return nil, models.NewStudyCaseError(m.Error(), nil)
	}

	if err := o.studies.TouchLastActive(sc.ID, time.Now()); err != nil {
		log.Warnf("failed to touch study %d: %v", sc.ID, err)
	}

	resp := o.baseResponse(m.StudyCase(), right)
	resp.LoadStatus = m.LoadStatus()
	if eng := m.Engine(); eng != nil {
		resp.TreeView = eng.TreeView()
	}
	return resp, nil
}

func (o *Orchestrator) baseResponse(sc *models.StudyCase, right models.AccessRight) *StudyCaseResponse {
	processLabel, repositoryLabel := o.ontology.ProcessLabel(sc.Process, sc.Repository)
	return &StudyCaseResponse{
		StudyCase:       sc,
		ProcessLabel:    processLabel,
		RepositoryLabel: repositoryLabel,
		AccessRight:     right,
		CanEdit:         right.CanEdit(),
		CanExecute:      right.CanEdit(),
	}
}

// ParameterChange is one requested parameter mutation
type ParameterChange struct {
	VariableID string      `json:"variable_id"`
	NewValue   interface{} `json:"new_value"`
}

// ChangeRecorder captures parameter before/after values under a coedition
// notification
type ChangeRecorder interface {
	AddScalarChange(notificationID int64, variableID, variableType, oldValue, newValue, author string) error
	AddCSVChange(notificationID int64, variableID, author string, oldCSV []byte) error
}

// UpdateParameters applies parameter changes to the loaded study, persists
// the new state and bumps the modification date so other processes detect
// the mutation
func (o *Orchestrator) UpdateParameters(studyID int64, changes []ParameterChange) error {
	return o.applyParameters(studyID, changes, nil, 0, "")
}

// SaveParameters applies parameter changes like UpdateParameters and records
// each one's before/after values under the save notification, so the
// notification keeps its changes instead of being pruned as vacuous
func (o *Orchestrator) SaveParameters(studyID int64, changes []ParameterChange, notificationID int64, author string, rec ChangeRecorder) error {
	return o.applyParameters(studyID, changes, rec, notificationID, author)
}

func (o *Orchestrator) applyParameters(studyID int64, changes []ParameterChange, rec ChangeRecorder, notificationID int64, author string) error {
	task, err := o.Load(studyID, false)
	if err != nil {
		return err
	}
	if err := task.Wait(o.loadTimeout); err != nil {
		return err
	}

	m, err := o.cache.Get(studyID, false)
	if err != nil {
		return err
	}
	eng := m.Engine()
	if eng == nil {
		return models.NewStudyCaseError("study engine is not attached", nil)
	}

	dm := eng.DataManager()
	for _, change := range changes {
		if rec != nil {
			o.recordChange(rec, notificationID, author, dm, change)
		}
		dm.Set(change.VariableID, change.NewValue)
	}
	if err := eng.Configure(); err != nil {
		return models.NewStudyCaseError("reconfiguration after update failed", err)
	}
	if err := m.DumpState(); err != nil {
		return err
	}

	if err := o.studies.UpdateModificationDate(studyID, time.Now()); err != nil {
		return err
	}
	return o.refresh(m)
}

// recordChange captures the before value of one parameter under the save
// notification. The trail is best effort: a failed record is logged, never
// fatal to the save itself.
func (o *Orchestrator) recordChange(rec ChangeRecorder, notificationID int64, author string, dm *engine.DataManager, change ParameterChange) {
	old, known := dm.Get(change.VariableID)
	if known && old.Type == "dataframe" {
		if err := rec.AddCSVChange(notificationID, change.VariableID, author, []byte(fmt.Sprintf("%v", old.Value))); err != nil {
			log.Warnf("failed to record change of %s: %v", change.VariableID, err)
		}
		return
	}

	oldValue := ""
	variableType := ""
	if known {
		oldValue = fmt.Sprintf("%v", old.Value)
		variableType = old.Type
	}
	err := rec.AddScalarChange(
		notificationID, change.VariableID, variableType,
		oldValue, fmt.Sprintf("%v", change.NewValue), author)
	if err != nil {
		log.Warnf("failed to record change of %s: %v", change.VariableID, err)
	}
}

// Delete removes a study case: its backing allocation, its cached
// instance, its rows and its files
func (o *Orchestrator) Delete(studyID int64) error {
	if alloc, err := o.allocations.GetByIdentifier(studyID, models.PodTypeStudy); err == nil && alloc != nil {
		if err := o.allocator.DeleteServicesAndDeployments(context.Background(), []*models.PodAllocation{alloc}); err != nil {
			return err
		}
		if err := o.allocations.Delete(alloc.ID); err != nil {
			return err
		}
	}
	if err := o.cache.Delete(studyID); err != nil {
		return err
	}
	if err := o.studies.Delete(studyID); err != nil {
		return err
	}
	return o.store.DeleteStudyDir(studyID)
}

// Tasks exposes the in-flight registry, shared with the dataset transfer
// machinery
func (o *Orchestrator) Tasks() *TaskRegistry {
	return o.tasks
}

// LoadTimeout returns how long read paths wait for a background load
func (o *Orchestrator) LoadTimeout() time.Duration {
	return o.loadTimeout
}
