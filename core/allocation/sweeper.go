package allocation

import (
	"context"
	"time"

	"study-orchestrator/core/models"
	"study-orchestrator/core/repository"
	"study-orchestrator/storage"

	log "github.com/sirupsen/logrus"
)

// CacheEvicter detaches a study's in-memory instance when its persisted
// state goes away
type CacheEvicter interface {
	Delete(studyID int64) error
}

// Sweeper reclaims resources for inactive studies and hard-deletes studies
// flagged disabled. It is the only automatic timeout mechanism: stop remains
// explicit and best-effort.
type Sweeper struct {
	studies     repository.StudyCaseRepository
	executions  repository.ExecutionRepository
	allocations repository.AllocationRepository
	manager     Manager
	store       *storage.StudyStore
	cache       CacheEvicter
	delay       time.Duration
	purgeDelay  time.Duration
	interval    time.Duration
	stopChan    chan struct{}
}

// NewSweeper creates an inactivity sweeper
func NewSweeper(
	studies repository.StudyCaseRepository,
	executions repository.ExecutionRepository,
	allocations repository.AllocationRepository,
	manager Manager,
	store *storage.StudyStore,
	cache CacheEvicter,
	delay time.Duration,
	purgeDelay time.Duration,
	interval time.Duration,
) *Sweeper {
	return &Sweeper{
		studies:     studies,
		executions:  executions,
		allocations: allocations,
		manager:     manager,
		store:       store,
		cache:       cache,
		delay:       delay,
		purgeDelay:  purgeDelay,
		interval:    interval,
		stopChan:    make(chan struct{}),
	}
}

// Start runs the sweep loop until the context is cancelled or Stop is called
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Stop stops the sweep loop
func (s *Sweeper) Stop() {
	close(s.stopChan)
}

// Sweep runs one reclamation pass
func (s *Sweeper) Sweep(ctx context.Context) {
	s.reclaimInactive(ctx)
	s.purgeDisabled(ctx)
}

// reclaimInactive deletes allocations for studies idle beyond the delay
func (s *Sweeper) reclaimInactive(ctx context.Context) {
	cutoff := time.Now().Add(-s.delay)
	inactive, err := s.studies.ListInactiveSince(cutoff)
	if err != nil {
		log.Errorf("failed to list inactive studies: %v", err)
		return
	}

	for _, sc := range inactive {
		if err := s.reclaimStudyAllocations(ctx, sc); err != nil {
			log.Errorf("failed to reclaim allocations for study %d: %v", sc.ID, err)
		}
	}
}

func (s *Sweeper) reclaimStudyAllocations(ctx context.Context, sc *models.StudyCase) error {
	var toDelete []*models.PodAllocation

	studyAlloc, err := s.allocations.GetByIdentifier(sc.ID, models.PodTypeStudy)
	if err != nil {
		return err
	}
	if studyAlloc != nil {
		toDelete = append(toDelete, studyAlloc)
	}

	if sc.CurrentExecutionID != nil {
		exec, err := s.executions.Get(*sc.CurrentExecutionID)
		if err == nil && !exec.ExecutionStatus.IsActive() {
			execAlloc, err := s.allocations.GetByIdentifier(exec.ID, models.PodTypeExecution)
			if err != nil {
				return err
			}
			if execAlloc != nil {
				toDelete = append(toDelete, execAlloc)
			}
		}
	}

	if len(toDelete) == 0 {
		return nil
	}

	if err := s.manager.DeleteServicesAndDeployments(ctx, toDelete); err != nil {
		return err
	}
	for _, alloc := range toDelete {
		if err := s.allocations.Delete(alloc.ID); err != nil {
			return err
		}
	}
	if s.cache != nil {
		if err := s.cache.Delete(sc.ID); err != nil {
			log.Warnf("failed to evict study %d from cache: %v", sc.ID, err)
		}
	}

	log.Infof("reclaimed %d allocations for inactive study %d", len(toDelete), sc.ID)
	return nil
}

// purgeDisabled hard-deletes soft-deleted studies past the purge delay
func (s *Sweeper) purgeDisabled(ctx context.Context) {
	disabled, err := s.studies.ListDisabled()
	if err != nil {
		log.Errorf("failed to list disabled studies: %v", err)
		return
	}

	cutoff := time.Now().Add(-s.purgeDelay)
	for _, sc := range disabled {
		if sc.ModificationDate.After(cutoff) {
			continue
		}
		if err := s.reclaimStudyAllocations(ctx, sc); err != nil {
			log.Errorf("failed to reclaim allocations for disabled study %d: %v", sc.ID, err)
			continue
		}
		if err := s.studies.Delete(sc.ID); err != nil {
			log.Errorf("failed to delete disabled study %d: %v", sc.ID, err)
			continue
		}
		if err := s.store.DeleteStudyDir(sc.ID); err != nil {
			log.Warnf("failed to delete files of study %d: %v", sc.ID, err)
		}
		log.Infof("purged disabled study %d", sc.ID)
	}
}
