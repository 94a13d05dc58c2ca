package execution

import (
	"context"
	"os/exec"
	"strconv"

	"study-orchestrator/core/models"
	"study-orchestrator/core/repository"
	"study-orchestrator/storage"

	log "github.com/sirupsen/logrus"
)

// SubprocessStrategy launches the execution as a child process running the
// configured launcher script with the execution id as argument. Stdout and
// stderr stream into the study's raw log file.
type SubprocessStrategy struct {
	launcher   string
	executions repository.ExecutionRepository
	store      *storage.StudyStore
}

// NewSubprocessStrategy creates a subprocess-backed execution strategy
func NewSubprocessStrategy(launcher string, executions repository.ExecutionRepository, store *storage.StudyStore) *SubprocessStrategy {
	return &SubprocessStrategy{
		launcher:   launcher,
		executions: executions,
		store:      store,
	}
}

// Run starts the launcher process and records its pid
func (s *SubprocessStrategy) Run(ctx context.Context, sc *models.StudyCase, e *models.StudyCaseExecution) error {
	logFile, err := s.store.OpenRawLog(sc.ID)
	if err != nil {
		return err
	}

	cmd := exec.Command(s.launcher, strconv.FormatInt(e.ID, 10))
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	if err := cmd.Start(); err != nil {
		logFile.Close()
		return err
	}

	if err := s.executions.UpdateProcess(e.ID, models.ExecutionTypeProcess, cmd.Process.Pid); err != nil {
		return err
	}
	if err := s.executions.UpdateStatus(e.ID, models.ExecutionRunning, ""); err != nil {
		return err
	}
	log.Infof("execution %d of study case %d started as pid %d", e.ID, sc.ID, cmd.Process.Pid)

	// reap the child so it does not linger as a zombie
	go func() {
		defer logFile.Close()
		if err := cmd.Wait(); err != nil {
			log.Warnf("execution %d launcher exited: %v", e.ID, err)
		}
	}()
	return nil
}
