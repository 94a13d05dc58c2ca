package repository

import (
	"sort"
	"sync"
	"time"

	"study-orchestrator/core/models"

	log "github.com/sirupsen/logrus"
)

// InMemoryStudyCaseRepository is a mutex-guarded map implementation used by
// unit tests and local mode
type InMemoryStudyCaseRepository struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*models.StudyCase
}

// NewInMemoryStudyCaseRepository creates an empty in-memory study repository
func NewInMemoryStudyCaseRepository() *InMemoryStudyCaseRepository {
	return &InMemoryStudyCaseRepository{rows: make(map[int64]*models.StudyCase)}
}

func (r *InMemoryStudyCaseRepository) Create(sc *models.StudyCase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	sc.ID = r.nextID
	now := time.Now()
	sc.CreationDate = now
	sc.ModificationDate = now
	sc.LastActiveDate = now
	if sc.CreationStatus == "" {
		sc.CreationStatus = models.CreationPending
	}
	cp := *sc
	r.rows[sc.ID] = &cp
	return nil
}

func (r *InMemoryStudyCaseRepository) Get(id int64) (*models.StudyCase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sc, ok := r.rows[id]
	if !ok {
		return nil, models.NewInvalidStudy("study case %d not found", id)
	}
	cp := *sc
	return &cp, nil
}

func (r *InMemoryStudyCaseRepository) Update(sc *models.StudyCase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[sc.ID]; !ok {
		return models.NewInvalidStudy("study case %d not found", sc.ID)
	}
	sc.ModificationDate = time.Now()
	cp := *sc
	r.rows[sc.ID] = &cp
	return nil
}

func (r *InMemoryStudyCaseRepository) UpdateCreationStatus(id int64, status models.CreationStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sc, ok := r.rows[id]
	if !ok {
		return models.NewInvalidStudy("study case %d not found", id)
	}
	sc.CreationStatus = status
	sc.ModificationDate = time.Now()
	return nil
}

func (r *InMemoryStudyCaseRepository) SetCurrentExecution(id int64, executionID *int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sc, ok := r.rows[id]
	if !ok {
		return models.NewInvalidStudy("study case %d not found", id)
	}
	sc.CurrentExecutionID = executionID
	return nil
}

func (r *InMemoryStudyCaseRepository) UpdateModificationDate(id int64, date time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sc, ok := r.rows[id]
	if !ok {
		return models.NewInvalidStudy("study case %d not found", id)
	}
	sc.ModificationDate = date
	return nil
}

func (r *InMemoryStudyCaseRepository) TouchLastActive(id int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sc, ok := r.rows[id]
	if !ok {
		return models.NewInvalidStudy("study case %d not found", id)
	}
	sc.LastActiveDate = at
	return nil
}

func (r *InMemoryStudyCaseRepository) SoftDelete(id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sc, ok := r.rows[id]
	if !ok {
		return models.NewInvalidStudy("study case %d not found", id)
	}
	sc.Disabled = true
	sc.ModificationDate = time.Now()
	return nil
}

func (r *InMemoryStudyCaseRepository) Delete(id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return models.NewInvalidStudy("expected to delete 1 study case, deleted 0")
	}
	delete(r.rows, id)
	return nil
}

func (r *InMemoryStudyCaseRepository) ListActive() ([]*models.StudyCase, error) {
	return r.filter(func(sc *models.StudyCase) bool { return !sc.Disabled }), nil
}

func (r *InMemoryStudyCaseRepository) ListInactiveSince(cutoff time.Time) ([]*models.StudyCase, error) {
	return r.filter(func(sc *models.StudyCase) bool {
		return !sc.Disabled && sc.LastActiveDate.Before(cutoff)
	}), nil
}

func (r *InMemoryStudyCaseRepository) ListDisabled() ([]*models.StudyCase, error) {
	return r.filter(func(sc *models.StudyCase) bool { return sc.Disabled }), nil
}

func (r *InMemoryStudyCaseRepository) filter(keep func(*models.StudyCase) bool) []*models.StudyCase {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.StudyCase
	for _, sc := range r.rows {
		if keep(sc) {
			cp := *sc
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// InMemoryExecutionRepository is the in-memory twin of the execution repository
type InMemoryExecutionRepository struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*models.StudyCaseExecution
	// writes counts status updates, exposed for reconciliation tests
	writes int
}

// NewInMemoryExecutionRepository creates an empty in-memory execution repository
func NewInMemoryExecutionRepository() *InMemoryExecutionRepository {
	return &InMemoryExecutionRepository{rows: make(map[int64]*models.StudyCaseExecution)}
}

func (r *InMemoryExecutionRepository) Create(e *models.StudyCaseExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	e.ID = r.nextID
	e.CreationDate = time.Now()
	if e.CPUUsage == "" {
		e.CPUUsage = models.IdleUsage
	}
	if e.MemoryUsage == "" {
		e.MemoryUsage = models.IdleUsage
	}
	cp := *e
	r.rows[e.ID] = &cp
	return nil
}

func (r *InMemoryExecutionRepository) Get(id int64) (*models.StudyCaseExecution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.rows[id]
	if !ok {
		return nil, models.NewInvalidStudy("execution %d not found", id)
	}
	cp := *e
	return &cp, nil
}

func (r *InMemoryExecutionRepository) GetLatestByStudy(studyID int64) (*models.StudyCaseExecution, error) {
	all, _ := r.ListByStudy(studyID)
	if len(all) == 0 {
		return nil, nil
	}
	return all[0], nil
}

func (r *InMemoryExecutionRepository) ListByStudy(studyID int64) ([]*models.StudyCaseExecution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.StudyCaseExecution
	for _, e := range r.rows {
		if e.StudyCaseID == studyID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *InMemoryExecutionRepository) ListAll() ([]*models.StudyCaseExecution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.StudyCaseExecution
	for _, e := range r.rows {
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *InMemoryExecutionRepository) UpdateStatus(id int64, status models.ExecutionStatus, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.rows[id]
	if !ok {
		return models.NewInvalidStudy("execution %d not found", id)
	}
	e.ExecutionStatus = status
	e.Message = message
	r.writes++
	return nil
}

func (r *InMemoryExecutionRepository) UpdateProcess(id int64, executionType models.ExecutionType, pid int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.rows[id]
	if !ok {
		return models.NewInvalidStudy("execution %d not found", id)
	}
	e.ExecutionType = executionType
	e.ProcessIdentifier = pid
	return nil
}

func (r *InMemoryExecutionRepository) UpdateUsage(id int64, cpuUsage, memoryUsage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.rows[id]
	if !ok {
		return models.NewInvalidStudy("execution %d not found", id)
	}
	e.CPUUsage = cpuUsage
	e.MemoryUsage = memoryUsage
	return nil
}

func (r *InMemoryExecutionRepository) DeleteByStudy(studyID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.rows {
		if e.StudyCaseID == studyID {
			delete(r.rows, id)
		}
	}
	return nil
}

// StatusWrites reports how many status updates were persisted
func (r *InMemoryExecutionRepository) StatusWrites() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

// InMemoryAllocationRepository is the in-memory twin of the allocation repository
type InMemoryAllocationRepository struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*models.PodAllocation
}

// NewInMemoryAllocationRepository creates an empty in-memory allocation repository
func NewInMemoryAllocationRepository() *InMemoryAllocationRepository {
	return &InMemoryAllocationRepository{rows: make(map[int64]*models.PodAllocation)}
}

func (r *InMemoryAllocationRepository) Create(a *models.PodAllocation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	a.ID = r.nextID
	cp := *a
	r.rows[a.ID] = &cp
	return nil
}

func (r *InMemoryAllocationRepository) GetByIdentifier(identifier int64, podType models.PodType) (*models.PodAllocation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found []*models.PodAllocation
	for _, a := range r.rows {
		if a.Identifier == identifier && a.PodType == podType {
			found = append(found, a)
		}
	}
	if len(found) == 0 {
		return nil, nil
	}
	sort.Slice(found, func(i, j int) bool { return found[i].ID < found[j].ID })
	if len(found) > 1 {
		log.Warnf("found %d pod allocations for identifier %d type %s, expected at most one", len(found), identifier, podType)
	}
	cp := *found[0]
	return &cp, nil
}

func (r *InMemoryAllocationRepository) Update(a *models.PodAllocation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[a.ID]; !ok {
		return models.NewInvalidStudy("allocation %d not found", a.ID)
	}
	cp := *a
	r.rows[a.ID] = &cp
	return nil
}

func (r *InMemoryAllocationRepository) Delete(id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
	return nil
}

func (r *InMemoryAllocationRepository) ListByPodType(podType models.PodType) ([]*models.PodAllocation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.PodAllocation
	for _, a := range r.rows {
		if a.PodType == podType {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// InMemoryNotificationRepository is the in-memory twin of the notification repository
type InMemoryNotificationRepository struct {
	mu            sync.Mutex
	nextID        int64
	notifications map[int64]*models.Notification
	changes       map[int64][]*models.StudyCaseChange
}

// NewInMemoryNotificationRepository creates an empty in-memory notification repository
func NewInMemoryNotificationRepository() *InMemoryNotificationRepository {
	return &InMemoryNotificationRepository{
		notifications: make(map[int64]*models.Notification),
		changes:       make(map[int64][]*models.StudyCaseChange),
	}
}

func (r *InMemoryNotificationRepository) Create(n *models.Notification) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	n.ID = r.nextID
	n.CreationDate = time.Now()
	cp := *n
	r.notifications[n.ID] = &cp
	return n.ID, nil
}

func (r *InMemoryNotificationRepository) Get(id int64) (*models.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notifications[id]
	if !ok {
		return nil, models.NewInvalidStudy("notification %d not found", id)
	}
	cp := *n
	return &cp, nil
}

func (r *InMemoryNotificationRepository) ListByStudy(studyID int64) ([]*models.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Notification
	for _, n := range r.notifications {
		if n.StudyCaseID == studyID {
			cp := *n
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *InMemoryNotificationRepository) Delete(id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.notifications, id)
	delete(r.changes, id)
	return nil
}

func (r *InMemoryNotificationRepository) AddChange(c *models.StudyCaseChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.notifications[c.NotificationID]; !ok {
		return models.NewInvalidStudy("notification %d not found", c.NotificationID)
	}
	r.nextID++
	c.ID = r.nextID
	c.Date = time.Now()
	cp := *c
	r.changes[c.NotificationID] = append(r.changes[c.NotificationID], &cp)
	return nil
}

func (r *InMemoryNotificationRepository) ListChanges(notificationID int64) ([]*models.StudyCaseChange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.StudyCaseChange
	for _, c := range r.changes[notificationID] {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (r *InMemoryNotificationRepository) CountChanges(notificationID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.changes[notificationID]), nil
}

// InMemoryCoeditionRepository is the in-memory twin of the coedition repository
type InMemoryCoeditionRepository struct {
	mu      sync.Mutex
	members map[int64]map[int64]bool // study id -> user ids
}

// NewInMemoryCoeditionRepository creates an empty in-memory coedition repository
func NewInMemoryCoeditionRepository() *InMemoryCoeditionRepository {
	return &InMemoryCoeditionRepository{members: make(map[int64]map[int64]bool)}
}

func (r *InMemoryCoeditionRepository) Join(studyID, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.members[studyID] == nil {
		r.members[studyID] = make(map[int64]bool)
	}
	r.members[studyID][userID] = true
	return nil
}

func (r *InMemoryCoeditionRepository) Leave(studyID, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members[studyID], userID)
	return nil
}

func (r *InMemoryCoeditionRepository) LeaveAll(userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, users := range r.members {
		delete(users, userID)
	}
	return nil
}

func (r *InMemoryCoeditionRepository) ListUsers(studyID int64) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int64
	for id := range r.members[studyID] {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// InMemoryUserRepository is the in-memory twin of the user repository
type InMemoryUserRepository struct {
	mu    sync.Mutex
	users map[int64]*models.User
}

// NewInMemoryUserRepository creates a user repository preloaded with users
func NewInMemoryUserRepository(users ...*models.User) *InMemoryUserRepository {
	r := &InMemoryUserRepository{users: make(map[int64]*models.User)}
	for _, u := range users {
		cp := *u
		r.users[u.ID] = &cp
	}
	return r
}

func (r *InMemoryUserRepository) Get(id int64) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, models.NewInvalidStudy("user %d not found", id)
	}
	cp := *u
	return &cp, nil
}

func (r *InMemoryUserRepository) GetByUsername(username string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, models.NewInvalidStudy("user %s not found", username)
}

// InMemoryExecutionLogRepository is the in-memory twin of the log repository
type InMemoryExecutionLogRepository struct {
	mu     sync.Mutex
	nextID int64
	rows   []*models.ExecutionLog
}

// NewInMemoryExecutionLogRepository creates an empty in-memory log repository
func NewInMemoryExecutionLogRepository() *InMemoryExecutionLogRepository {
	return &InMemoryExecutionLogRepository{}
}

func (r *InMemoryExecutionLogRepository) Append(l *models.ExecutionLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	l.ID = r.nextID
	l.At = time.Now()
	cp := *l
	r.rows = append(r.rows, &cp)
	return nil
}

func (r *InMemoryExecutionLogRepository) ListByStudy(studyID int64) ([]*models.ExecutionLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ExecutionLog
	for _, l := range r.rows {
		if l.StudyCaseID == studyID {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *InMemoryExecutionLogRepository) ClearUnbound(studyID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.rows[:0]
	for _, l := range r.rows {
		if l.StudyCaseID == studyID && l.ExecutionID == nil {
			continue
		}
		kept = append(kept, l)
	}
	r.rows = kept
	return nil
}
