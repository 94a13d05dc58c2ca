package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// LocalEngine is a minimal in-process engine used by the thread execution
// strategy in local deployments and by tests. Real deployments plug a
// remote engine behind the Engine interface.
type LocalEngine struct {
	mu         sync.Mutex
	process    string
	repository string
	dm         *DataManager
	statuses   map[string]string
}

// NewLocalEngine creates a local engine for a process
func NewLocalEngine(process, repository string) *LocalEngine {
	return &LocalEngine{
		process:    process,
		repository: repository,
		dm:         NewDataManager(),
		statuses:   map[string]string{process: "CONFIGURE"},
	}
}

// LocalFactory is an engine factory producing local engines
func LocalFactory(process, repository string) (Engine, error) {
	return NewLocalEngine(process, repository), nil
}

func (e *LocalEngine) Configure() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.statuses[e.process] = "CONFIGURE"
	return nil
}

func (e *LocalEngine) Execute(ctx context.Context) error {
	e.mu.Lock()
	e.statuses[e.process] = "RUNNING"
	e.mu.Unlock()

	select {
	case <-ctx.Done():
		e.mu.Lock()
		e.statuses[e.process] = "FAILED"
		e.mu.Unlock()
		return ctx.Err()
	default:
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.statuses[e.process] = "DONE"
	return nil
}

func (e *LocalEngine) DataManager() *DataManager {
	return e.dm
}

func (e *LocalEngine) DisciplineStatuses() map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]string, len(e.statuses))
	for k, v := range e.statuses {
		out[k] = v
	}
	return out
}

func (e *LocalEngine) TreeView() *TreeNode {
	root := &TreeNode{Name: e.process, FullName: e.process, Status: e.DisciplineStatuses()[e.process]}
	seen := map[string]*TreeNode{e.process: root}
	for id := range e.dm.DataDict {
		parts := strings.Split(id, ".")
		if len(parts) < 2 {
			continue
		}
		node := parts[0]
		if _, ok := seen[node]; !ok && node != e.process {
			child := &TreeNode{Name: node, FullName: node, Status: root.Status}
			seen[node] = child
			root.Children = append(root.Children, child)
		}
	}
	return root
}

// LoadFromReference seeds the data manager with the reference's parameters
func (e *LocalEngine) LoadFromReference(reference string) error {
	if reference == "" {
		return fmt.Errorf("empty reference")
	}
	e.dm.Set(e.process+".reference", reference)
	return e.Configure()
}

// LoadFromUsecase seeds the data manager with usecase data
func (e *LocalEngine) LoadFromUsecase(usecase string) error {
	if usecase == "" {
		return fmt.Errorf("empty usecase")
	}
	e.dm.Set(e.process+".usecase", usecase)
	return e.Configure()
}
