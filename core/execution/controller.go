package execution

import (
	"context"
	"fmt"

	"study-orchestrator/core/allocation"
	"study-orchestrator/core/models"
	"study-orchestrator/core/ontology"
	"study-orchestrator/core/orchestrator"
	"study-orchestrator/core/repository"
	"study-orchestrator/core/studycase"
	"study-orchestrator/storage"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// Controller admits, launches, stops and reports study case executions.
// Admission is serialized by a process-wide weighted semaphore so two
// concurrent submissions cannot both observe a free slot.
type Controller struct {
	sem         *semaphore.Weighted
	studies     repository.StudyCaseRepository
	executions  repository.ExecutionRepository
	allocations repository.AllocationRepository
	logs        repository.ExecutionLogRepository
	allocator   allocation.Manager
	cache       *studycase.Cache
	store       *storage.StudyStore
	reconciler  *Reconciler
	ontology    ontology.Client
	strategies  map[string]Strategy
	strategy    string
	signaler    ProcessSignaler
}

// NewController wires the execution controller with its strategy table
func NewController(
	studies repository.StudyCaseRepository,
	executions repository.ExecutionRepository,
	allocations repository.AllocationRepository,
	logs repository.ExecutionLogRepository,
	allocator allocation.Manager,
	cache *studycase.Cache,
	orch *orchestrator.Orchestrator,
	store *storage.StudyStore,
	ontologyClient ontology.Client,
	strategy string,
	launcher string,
) *Controller {
	c := &Controller{
		sem:         semaphore.NewWeighted(1),
		studies:     studies,
		executions:  executions,
		allocations: allocations,
		logs:        logs,
		allocator:   allocator,
		cache:       cache,
		store:       store,
		reconciler:  NewReconciler(executions, allocations, allocator),
		ontology:    ontologyClient,
		strategy:    strategy,
		signaler:    OSSignaler{},
	}
	c.strategies = map[string]Strategy{
		StrategyThread:     NewThreadStrategy(orch, cache, executions, store),
		StrategySubprocess: NewSubprocessStrategy(launcher, executions, store),
		StrategyKubernetes: NewKubernetesStrategy(executions),
	}
	return c
}

// SetSignaler overrides the process signaler, used by tests
func (c *Controller) SetSignaler(s ProcessSignaler) {
	c.signaler = s
}

// Reconciler exposes the status reconciler for read paths outside Status
func (c *Controller) Reconciler() *Reconciler {
	return c.reconciler
}

// Execute submits a new execution for the study case. Returns a
// CalculationError without creating any row when the current execution is
// still active.
func (c *Controller) Execute(ctx context.Context, studyID int64, username string) (*models.StudyCaseExecution, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, models.NewCalculationError("execution submission was cancelled", err)
	}
	defer c.sem.Release(1)

	sc, err := c.studies.Get(studyID)
	if err != nil {
		return nil, err
	}

	if sc.CurrentExecutionID != nil {
		current, err := c.executions.Get(*sc.CurrentExecutionID)
		if err != nil {
			return nil, err
		}
		if current != nil {
			if _, err := c.reconciler.UpdateExecutionStatus(ctx, current); err != nil {
				return nil, err
			}
			if current.ExecutionStatus.IsActive() {
				return nil, models.NewCalculationError(
					fmt.Sprintf("study case %d already has a submitted execution", studyID), nil)
			}
		}
	}

	e := &models.StudyCaseExecution{
		StudyCaseID:     studyID,
		ExecutionStatus: models.ExecutionPending,
		RequestedBy:     username,
	}
	if err := c.executions.Create(e); err != nil {
		return nil, err
	}

	if err := c.submit(ctx, sc, e); err != nil {
		log.Errorf("execution %d of study case %d failed to start: %v", e.ID, studyID, err)
		if uerr := c.executions.UpdateStatus(e.ID, models.ExecutionFailed, err.Error()); uerr != nil {
			log.Errorf("failed to mark execution %d as failed: %v", e.ID, uerr)
		}
		return nil, models.NewCalculationError(
			fmt.Sprintf("failed to start execution for study case %d", studyID), err)
	}
	log.Infof("execution %d of study case %d submitted by %s", e.ID, studyID, username)
	return e, nil
}

// submit binds the execution to the study, provisions its allocation and
// dispatches it to the configured strategy
func (c *Controller) submit(ctx context.Context, sc *models.StudyCase, e *models.StudyCaseExecution) error {
	if err := c.studies.SetCurrentExecution(sc.ID, &e.ID); err != nil {
		return err
	}
	if err := c.logs.ClearUnbound(sc.ID); err != nil {
		return err
	}
	if err := c.store.TruncateRawLog(sc.ID); err != nil {
		return err
	}

	alloc, err := c.allocator.CreateAndLoad(ctx, e.ID, models.PodTypeExecution, sc.ExecutionPodFlavor, c.store.RawLogPath(sc.ID))
	if err != nil {
		return err
	}
	if err := c.allocations.Create(alloc); err != nil {
		return err
	}

	strat, ok := c.strategies[c.strategy]
	if !ok {
		return fmt.Errorf("unknown execution strategy %q", c.strategy)
	}
	return strat.Run(ctx, sc, e)
}

// Stop halts an execution. A zero executionID targets the study's current
// execution. Failing to tear down the allocation marks the execution
// FAILED; failing to signal a subprocess is logged and ignored.
func (c *Controller) Stop(ctx context.Context, studyID, executionID int64) error {
	sc, err := c.studies.Get(studyID)
	if err != nil {
		return err
	}

	if executionID == 0 {
		if sc.CurrentExecutionID == nil {
			return models.NewInvalidStudyExecution("study case %d has no execution to stop", studyID)
		}
		executionID = *sc.CurrentExecutionID
	}
	e, err := c.executions.Get(executionID)
	if err != nil {
		return err
	}
	if e == nil || e.StudyCaseID != studyID {
		return models.NewInvalidStudyExecution("execution %d does not belong to study case %d", executionID, studyID)
	}

	if err := c.teardownAllocation(ctx, e); err != nil {
		if uerr := c.executions.UpdateStatus(e.ID, models.ExecutionFailed, err.Error()); uerr != nil {
			log.Errorf("failed to mark execution %d as failed: %v", e.ID, uerr)
		}
		return models.NewCalculationError(
			fmt.Sprintf("failed to tear down resources of execution %d", e.ID), err)
	}

	if e.ExecutionType == models.ExecutionTypeProcess && e.ProcessIdentifier != 0 {
		if err := c.signaler.Terminate(e.ProcessIdentifier); err != nil {
			log.Warnf("failed to signal pid %d of execution %d: %v", e.ProcessIdentifier, e.ID, err)
		}
	}

	if err := c.executions.UpdateStatus(e.ID, models.ExecutionStopped, "stopped by user"); err != nil {
		return err
	}
	log.Infof("execution %d of study case %d stopped", e.ID, studyID)
	return nil
}

// teardownAllocation deletes the execution pod and its record
func (c *Controller) teardownAllocation(ctx context.Context, e *models.StudyCaseExecution) error {
	alloc, err := c.allocations.GetByIdentifier(e.ID, models.PodTypeExecution)
	if err != nil {
		return err
	}
	if alloc == nil {
		return nil
	}
	if err := c.allocator.DeleteServicesAndDeployments(ctx, []*models.PodAllocation{alloc}); err != nil {
		return err
	}
	return c.allocations.Delete(alloc.ID)
}

// StatusResult reports the reconciled state of a study's current execution
type StatusResult struct {
	StudyCaseID        int64                  `json:"study_case_id"`
	ExecutionID        int64                  `json:"execution_id,omitempty"`
	ExecutionStatus    models.ExecutionStatus `json:"execution_status"`
	CPUUsage           string                 `json:"cpu_usage"`
	MemoryUsage        string                 `json:"memory_usage"`
	Message            string                 `json:"message,omitempty"`
	DisciplineStatuses map[string]string      `json:"discipline_statuses,omitempty"`
}

// Status returns the current execution status of the study case after
// reconciling it with the allocation state
func (c *Controller) Status(ctx context.Context, studyID int64) (*StatusResult, error) {
	sc, err := c.studies.Get(studyID)
	if err != nil {
		return nil, err
	}

	result := &StatusResult{
		StudyCaseID:     studyID,
		ExecutionStatus: models.ExecutionNotExecuted,
		CPUUsage:        models.IdleUsage,
		MemoryUsage:     models.IdleUsage,
	}
	if sc.CurrentExecutionID == nil {
		return result, nil
	}

	e, err := c.executions.Get(*sc.CurrentExecutionID)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return result, nil
	}
	if _, err := c.reconciler.UpdateExecutionStatus(ctx, e); err != nil {
		return nil, err
	}

	result.ExecutionID = e.ID
	result.ExecutionStatus = e.ExecutionStatus
	result.Message = e.Message
	if e.CPUUsage != "" {
		result.CPUUsage = e.CPUUsage
	}
	if e.MemoryUsage != "" {
		result.MemoryUsage = e.MemoryUsage
	}
	result.DisciplineStatuses = c.disciplineStatuses(studyID)
	return result, nil
}

// disciplineStatuses reads statuses from the loaded engine when the study
// is in cache, falling back to the persisted blob otherwise
func (c *Controller) disciplineStatuses(studyID int64) map[string]string {
	if c.cache.IsCached(studyID) {
		if m, err := c.cache.Get(studyID, false); err == nil && m.LoadStatus() == models.LoadStatusLoaded {
			return m.Engine().DisciplineStatuses()
		}
	}
	var statuses map[string]string
	if err := c.store.LoadBlob(studyID, storage.DisciplinesStatusFile, &statuses); err != nil {
		return nil
	}
	return statuses
}

// DashboardEntry summarizes one execution for the cross-study dashboard
type DashboardEntry struct {
	StudyCaseID     int64                  `json:"study_case_id"`
	StudyName       string                 `json:"study_name"`
	Process         string                 `json:"process"`
	Repository      string                 `json:"repository"`
	ProcessLabel    string                 `json:"process_label"`
	ExecutionID     int64                  `json:"execution_id"`
	ExecutionStatus models.ExecutionStatus `json:"execution_status"`
	RequestedBy     string                 `json:"requested_by"`
	CreationDate    string                 `json:"creation_date"`
}

// Dashboard lists every execution with its study and ontology labels
func (c *Controller) Dashboard(ctx context.Context) ([]*DashboardEntry, error) {
	execs, err := c.executions.ListAll()
	if err != nil {
		return nil, err
	}

	entries := make([]*DashboardEntry, 0, len(execs))
	studies := make(map[int64]*models.StudyCase)
	for _, e := range execs {
		sc, ok := studies[e.StudyCaseID]
		if !ok {
			sc, err = c.studies.Get(e.StudyCaseID)
			if err != nil {
				log.Warnf("skipping execution %d: study case %d unavailable: %v", e.ID, e.StudyCaseID, err)
				continue
			}
			studies[e.StudyCaseID] = sc
		}
		processLabel, _ := c.ontology.ProcessLabel(sc.Process, sc.Repository)
		entries = append(entries, &DashboardEntry{
			StudyCaseID:     sc.ID,
			StudyName:       sc.Name,
			Process:         sc.Process,
			Repository:      sc.Repository,
			ProcessLabel:    processLabel,
			ExecutionID:     e.ID,
			ExecutionStatus: e.ExecutionStatus,
			RequestedBy:     e.RequestedBy,
			CreationDate:    e.CreationDate.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return entries, nil
}
