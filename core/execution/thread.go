package execution

import (
	"context"
	"fmt"

	"study-orchestrator/core/models"
	"study-orchestrator/core/orchestrator"
	"study-orchestrator/core/repository"
	"study-orchestrator/core/studycase"
	"study-orchestrator/storage"

	log "github.com/sirupsen/logrus"
)

// ThreadStrategy runs the engine inside the server process. The study is
// loaded synchronously first so the goroutine starts from a ready engine.
type ThreadStrategy struct {
	orchestrator *orchestrator.Orchestrator
	cache        *studycase.Cache
	executions   repository.ExecutionRepository
	store        *storage.StudyStore
}

// NewThreadStrategy creates an in-process execution strategy
func NewThreadStrategy(
	orch *orchestrator.Orchestrator,
	cache *studycase.Cache,
	executions repository.ExecutionRepository,
	store *storage.StudyStore,
) *ThreadStrategy {
	return &ThreadStrategy{
		orchestrator: orch,
		cache:        cache,
		executions:   executions,
		store:        store,
	}
}

// Run loads the study if needed and executes the engine in a goroutine
func (s *ThreadStrategy) Run(ctx context.Context, sc *models.StudyCase, e *models.StudyCaseExecution) error {
	task, err := s.orchestrator.Load(sc.ID, false)
	if err != nil {
		return err
	}
	if err := task.Wait(s.orchestrator.LoadTimeout()); err != nil {
		return err
	}

	m, err := s.cache.Get(sc.ID, false)
	if err != nil {
		return err
	}
	if m.LoadStatus() != models.LoadStatusLoaded {
		return models.NewInvalidStudyExecution("study case %d is not loaded: %s", sc.ID, m.Error())
	}

	logFile, err := s.store.OpenRawLog(sc.ID)
	if err != nil {
		return err
	}

	if err := s.executions.UpdateStatus(e.ID, models.ExecutionRunning, ""); err != nil {
		logFile.Close()
		return err
	}

	go func() {
		defer logFile.Close()
		if err := m.Engine().Execute(context.Background()); err != nil {
			log.Errorf("execution %d of study case %d failed: %v", e.ID, sc.ID, err)
			fmt.Fprintf(logFile, "execution failed: %v\n", err)
			if uerr := s.executions.UpdateStatus(e.ID, models.ExecutionFailed, err.Error()); uerr != nil {
				log.Errorf("failed to mark execution %d as failed: %v", e.ID, uerr)
			}
			return
		}
		s.finish(sc, e, m)
	}()
	return nil
}

// finish persists results and marks the execution finished
func (s *ThreadStrategy) finish(sc *models.StudyCase, e *models.StudyCaseExecution, m *studycase.Manager) {
	if err := m.DumpState(); err != nil {
		log.Errorf("failed to persist study case %d state after execution %d: %v", sc.ID, e.ID, err)
		if uerr := s.executions.UpdateStatus(e.ID, models.ExecutionFailed, err.Error()); uerr != nil {
			log.Errorf("failed to mark execution %d as failed: %v", e.ID, uerr)
		}
		return
	}
	if err := s.writeSnapshot(sc, m); err != nil {
		log.Warnf("failed to write snapshot for study case %d: %v", sc.ID, err)
	}
	if err := s.executions.UpdateStatus(e.ID, models.ExecutionFinished, ""); err != nil {
		log.Errorf("failed to mark execution %d as finished: %v", e.ID, err)
	}
	log.Infof("execution %d of study case %d finished", e.ID, sc.ID)
}

// writeSnapshot saves a read-only view and the dashboard summary so later
// reads can be served without loading the study
func (s *ThreadStrategy) writeSnapshot(sc *models.StudyCase, m *studycase.Manager) error {
	eng := m.Engine()
	snapshot := map[string]interface{}{
		"study_case_id": sc.ID,
		"tree_view":     eng.TreeView(),
		"parameters":    eng.DataManager().DataDict,
	}
	if err := s.store.WriteSnapshot(sc.ID, snapshot); err != nil {
		return err
	}
	dashboard := map[string]interface{}{
		"study_case_id":       sc.ID,
		"discipline_statuses": eng.DisciplineStatuses(),
	}
	return s.store.WriteDashboard(sc.ID, dashboard)
}
