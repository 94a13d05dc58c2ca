package engine

import (
	"context"

	"study-orchestrator/core/models"
)

// Parameter is one entry of the engine's in-memory data manager
type Parameter struct {
	ID       string
	Value    interface{}
	Unit     string
	Type     string
	Editable bool
}

// DataManager is the engine's parameter table: DataDict keyed by full
// variable id, DataIDMap mapping short names to full ids
type DataManager struct {
	DataDict  map[string]*Parameter
	DataIDMap map[string]string
}

// NewDataManager creates an empty data manager
func NewDataManager() *DataManager {
	return &DataManager{
		DataDict:  make(map[string]*Parameter),
		DataIDMap: make(map[string]string),
	}
}

// Get resolves a parameter by full id or short name
func (dm *DataManager) Get(id string) (*Parameter, bool) {
	if p, ok := dm.DataDict[id]; ok {
		return p, true
	}
	if full, ok := dm.DataIDMap[id]; ok {
		p, ok := dm.DataDict[full]
		return p, ok
	}
	return nil, false
}

// Set updates the value of a parameter, registering it if unknown
func (dm *DataManager) Set(id string, value interface{}) {
	if p, ok := dm.Get(id); ok {
		p.Value = value
		return
	}
	dm.DataDict[id] = &Parameter{ID: id, Value: value, Editable: true}
}

// TreeNode is one node of the study's discipline tree view
type TreeNode struct {
	Name     string      `json:"name"`
	FullName string      `json:"full_name"`
	Status   string      `json:"status"`
	Children []*TreeNode `json:"children,omitempty"`
}

// Engine is the scientific execution engine behind a loaded study. It is an
// external collaborator: the orchestrator only consumes this surface.
type Engine interface {
	// Configure prepares the engine after its data manager changed
	Configure() error
	// Execute runs the study to completion or error
	Execute(ctx context.Context) error
	DataManager() *DataManager
	DisciplineStatuses() map[string]string
	TreeView() *TreeNode
	// LoadFromReference populates the data manager from a generated reference
	LoadFromReference(reference string) error
	// LoadFromUsecase populates the data manager from usecase data
	LoadFromUsecase(usecase string) error
}

// Factory builds an engine for a study's process and repository
type Factory func(process, repository string) (Engine, error)

// EngineState is the serialized form of the engine's in-memory state, the
// content of the data manager blob on disk
type EngineState struct {
	DataDict          map[string]*Parameter
	DataIDMap         map[string]string
	DisciplineStatus  map[string]string
	ConfiguredProcess string
}

// Restore loads a serialized state into an engine's data manager
func Restore(e Engine, state *EngineState) error {
	dm := e.DataManager()
	if dm == nil {
		return models.NewStudyCaseError("engine has no data manager", nil)
	}
	dm.DataDict = state.DataDict
	if dm.DataDict == nil {
		dm.DataDict = make(map[string]*Parameter)
	}
	dm.DataIDMap = state.DataIDMap
	if dm.DataIDMap == nil {
		dm.DataIDMap = make(map[string]string)
	}
	return e.Configure()
}

// Snapshot captures an engine's in-memory state for serialization
func Snapshot(e Engine) *EngineState {
	dm := e.DataManager()
	return &EngineState{
		DataDict:         dm.DataDict,
		DataIDMap:        dm.DataIDMap,
		DisciplineStatus: e.DisciplineStatuses(),
	}
}
