package studycase

import (
	"time"

	"sync"

	"study-orchestrator/core/engine"
	"study-orchestrator/core/repository"
	"study-orchestrator/storage"

	log "github.com/sirupsen/logrus"
)

// Cache is the process-wide registry mapping study case id to its single
// in-memory Manager. It is constructed once at process start and injected;
// all requests for the same study id observe the same instance.
type Cache struct {
	mu      sync.Mutex
	entries map[int64]*Manager

	studies repository.StudyCaseRepository
	store   *storage.StudyStore
	factory engine.Factory
}

// NewCache creates an empty study case cache
func NewCache(studies repository.StudyCaseRepository, store *storage.StudyStore, factory engine.Factory) *Cache {
	return &Cache{
		entries: make(map[int64]*Manager),
		studies: studies,
		store:   store,
		factory: factory,
	}
}

// Get returns the process-wide singleton manager for a study case,
// constructing and registering it on first access. Construction is a
// critical section: two concurrent callers never receive two different
// instances for the same id. With forUpdate the persisted row is re-read
// into an already cached instance.
func (c *Cache) Get(studyID int64, forUpdate bool) (*Manager, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok := c.entries[studyID]; ok {
		if forUpdate {
			sc, err := c.studies.Get(studyID)
			if err != nil {
				return nil, err
			}
			m.SetStudyCase(sc)
		}
		return m, nil
	}

	sc, err := c.studies.Get(studyID)
	if err != nil {
		return nil, err
	}

	eng, err := c.factory(sc.Process, sc.Repository)
	if err != nil {
		return nil, err
	}

	m := NewManager(sc, eng, c.store)
	c.entries[studyID] = m
	log.Debugf("constructed study case manager for study %d", studyID)
	return m, nil
}

// IsCached reports presence without forcing construction
func (c *Cache) IsCached(studyID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[studyID]
	return ok
}

// Release removes an instance from the registry without detaching its
// resources
func (c *Cache) Release(studyID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, studyID)
}

// Delete removes an instance and detaches its engine and logger resources.
// The next Get constructs a fresh instance that re-reads persisted state.
func (c *Cache) Delete(studyID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.entries[studyID]; ok {
		m.Detach()
		delete(c.entries, studyID)
	}
	return nil
}

// UpdateModificationDate compares the cached instance's recorded
// modification date with the given persisted one and evicts the instance
// when they differ. This is how external mutation (a copy completing in
// another process, for example) is detected without a push mechanism.
func (c *Cache) UpdateModificationDate(studyID int64, newDate time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.entries[studyID]
	if !ok {
		return false
	}
	if m.ModificationDate().Equal(newDate) {
		return false
	}

	log.Infof("study %d changed on disk, evicting cached instance", studyID)
	m.Detach()
	delete(c.entries, studyID)
	return true
}
