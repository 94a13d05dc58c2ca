package studycase

import (
	"sync"
	"time"

	"study-orchestrator/core/engine"
	"study-orchestrator/core/models"
	"study-orchestrator/storage"

	"github.com/google/uuid"
)

// Export status values tracked per notification id during dataset export
const (
	ExportInProgress = "in_progress"
	ExportFinished   = "finished"
	ExportInError    = "in_error"
)

// Manager is the in-memory, process-local wrapper around one study case. It
// owns the load status, the engine reference and the per-notification
// dataset export maps. Exactly one live instance per study case id exists
// process-wide; the cache enforces that invariant.
type Manager struct {
	mu sync.RWMutex

	studyCase        *models.StudyCase
	loadStatus       models.LoadStatus
	errorMessage     string
	eng              engine.Engine
	store            *storage.StudyStore
	modificationDate time.Time

	// instanceID identifies one constructed instance; a re-read study case
	// gets a new one
	instanceID string

	exportStatus map[int64]string
	exportError  map[int64]string
}

// NewManager wraps a study case row with fresh in-memory state
func NewManager(sc *models.StudyCase, eng engine.Engine, store *storage.StudyStore) *Manager {
	return &Manager{
		studyCase:        sc,
		loadStatus:       models.LoadStatusNone,
		eng:              eng,
		store:            store,
		modificationDate: sc.ModificationDate,
		instanceID:       uuid.NewString(),
		exportStatus:     make(map[int64]string),
		exportError:      make(map[int64]string),
	}
}

// InstanceID returns the identity token set by the constructor
func (m *Manager) InstanceID() string {
	return m.instanceID
}

// StudyCase returns the wrapped study case row
func (m *Manager) StudyCase() *models.StudyCase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.studyCase
}

// SetStudyCase refreshes the wrapped row after a persisted mutation
func (m *Manager) SetStudyCase(sc *models.StudyCase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.studyCase = sc
	m.modificationDate = sc.ModificationDate
}

// LoadStatus returns the in-memory load state
func (m *Manager) LoadStatus() models.LoadStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadStatus
}

// SetLoadStatus transitions the in-memory load state
func (m *Manager) SetLoadStatus(status models.LoadStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadStatus = status
	if status != models.LoadStatusInError {
		m.errorMessage = ""
	}
}

// SetError marks the manager in error with the full failure text. The
// persisted row plus this message is how a later, unrelated request learns
// that a background operation failed.
func (m *Manager) SetError(message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadStatus = models.LoadStatusInError
	m.errorMessage = message
}

// Error returns the recorded failure text, if any
func (m *Manager) Error() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.errorMessage
}

// Reset returns the manager to the unloaded state so the next load
// re-reads from disk
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadStatus = models.LoadStatusNone
	m.errorMessage = ""
}

// Engine returns the engine behind the loaded study
func (m *Manager) Engine() engine.Engine {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.eng
}

// Detach drops the engine reference when the instance is evicted
func (m *Manager) Detach() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eng = nil
	m.loadStatus = models.LoadStatusNone
}

// ModificationDate returns the modification date recorded at construction
// or last refresh, used for staleness detection
func (m *Manager) ModificationDate() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.modificationDate
}

// DumpState serializes the engine state to the study directory
func (m *Manager) DumpState() error {
	eng := m.Engine()
	if eng == nil {
		return models.NewStudyCaseError("no engine attached", nil)
	}
	state := engine.Snapshot(eng)
	sc := m.StudyCase()
	if err := m.store.DumpBlob(sc.ID, storage.DataManagerFile, state); err != nil {
		return err
	}
	return m.store.DumpBlob(sc.ID, storage.DisciplinesStatusFile, eng.DisciplineStatuses())
}

// DumpEmptyState writes an initial empty state for a freshly created study
func (m *Manager) DumpEmptyState() error {
	sc := m.StudyCase()
	empty := &engine.EngineState{
		DataDict:         map[string]*engine.Parameter{},
		DataIDMap:        map[string]string{},
		DisciplineStatus: map[string]string{},
	}
	if err := m.store.DumpBlob(sc.ID, storage.DataManagerFile, empty); err != nil {
		return err
	}
	return m.store.DumpBlob(sc.ID, storage.DisciplinesStatusFile, map[string]string{})
}

// LoadState restores the engine state from the study directory
func (m *Manager) LoadState() error {
	eng := m.Engine()
	if eng == nil {
		return models.NewStudyCaseError("no engine attached", nil)
	}
	sc := m.StudyCase()
	var state engine.EngineState
	if err := m.store.LoadBlob(sc.ID, storage.DataManagerFile, &state); err != nil {
		return err
	}
	return engine.Restore(eng, &state)
}

// HasPersistedState reports whether a data manager blob exists on disk
func (m *Manager) HasPersistedState() bool {
	return m.store.HasBlob(m.StudyCase().ID, storage.DataManagerFile)
}

// SetExportStatus records the status of a dataset export keyed by
// notification id
func (m *Manager) SetExportStatus(notificationID int64, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exportStatus[notificationID] = status
	if status != ExportInError {
		delete(m.exportError, notificationID)
	}
}

// SetExportError records a dataset export failure
func (m *Manager) SetExportError(notificationID int64, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exportStatus[notificationID] = ExportInError
	m.exportError[notificationID] = message
}

// ExportStatus returns the status and error of one dataset export
func (m *Manager) ExportStatus(notificationID int64) (status, errMessage string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.exportStatus[notificationID], m.exportError[notificationID]
}
