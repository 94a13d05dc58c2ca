package dataset

import (
	"context"
	"encoding/json"

	"study-orchestrator/core/models"
)

// Connector reads and writes named parameter sets in an external dataset
// store. Values are JSON-encodable scalars or documents.
type Connector interface {
	// WriteParameters stores the given values under the dataset id
	WriteParameters(ctx context.Context, datasetID string, values map[string]interface{}) error
	// ReadParameters fetches every value stored under the dataset id
	ReadParameters(ctx context.Context, datasetID string) (map[string]interface{}, error)
}

// Mapping binds study parameters to dataset parameters through a connector
type Mapping struct {
	ConnectorID string `json:"connector_id"`
	DatasetID   string `json:"dataset_id"`
	// Parameters maps study variable ids to dataset parameter names
	Parameters map[string]string `json:"parameters"`
}

// ParseMapping decodes a mapping document submitted by a client
func ParseMapping(data []byte) (*Mapping, error) {
	var m Mapping
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, models.NewStudyCaseError("invalid dataset mapping", err)
	}
	if m.ConnectorID == "" || m.DatasetID == "" {
		return nil, models.NewStudyCaseError("dataset mapping requires a connector id and a dataset id", nil)
	}
	return &m, nil
}

// Registry resolves connectors by id
type Registry struct {
	connectors map[string]Connector
}

// NewRegistry creates a connector registry
func NewRegistry() *Registry {
	return &Registry{connectors: make(map[string]Connector)}
}

// Register adds a connector under the given id
func (r *Registry) Register(id string, c Connector) {
	r.connectors[id] = c
}

// Get returns the connector for the id
func (r *Registry) Get(id string) (Connector, error) {
	c, ok := r.connectors[id]
	if !ok {
		return nil, models.NewStudyCaseError("unknown dataset connector "+id, nil)
	}
	return c, nil
}
