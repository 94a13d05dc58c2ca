package dataset

import (
	"context"

	"study-orchestrator/core/coedition"
	"study-orchestrator/core/models"
	"study-orchestrator/core/orchestrator"
	"study-orchestrator/core/studycase"

	log "github.com/sirupsen/logrus"
)

// Exporter moves parameter values between loaded study cases and dataset
// connectors. Exports run in the background; their progress is tracked on
// the study manager keyed by the triggering notification id.
type Exporter struct {
	cache        *studycase.Cache
	orchestrator *orchestrator.Orchestrator
	registry     *Registry
	tracker      *coedition.Tracker
}

// NewExporter creates a dataset exporter
func NewExporter(
	cache *studycase.Cache,
	orch *orchestrator.Orchestrator,
	registry *Registry,
	tracker *coedition.Tracker,
) *Exporter {
	return &Exporter{
		cache:        cache,
		orchestrator: orch,
		registry:     registry,
		tracker:      tracker,
	}
}

// Export pushes the mapped parameters of the study to the dataset in the
// background. The notification id identifies the export for later status
// polling.
func (e *Exporter) Export(studyID, notificationID int64, author string, mapping *Mapping) error {
	connector, err := e.registry.Get(mapping.ConnectorID)
	if err != nil {
		return err
	}
	m, err := e.loadedManager(studyID)
	if err != nil {
		return err
	}

	dm := m.Engine().DataManager()
	values := make(map[string]interface{}, len(mapping.Parameters))
	for variableID, datasetParam := range mapping.Parameters {
		p, ok := dm.Get(variableID)
		if !ok {
			return models.NewInvalidStudy("unknown parameter %s in study case %d", variableID, studyID)
		}
		values[datasetParam] = p.Value
	}

	m.SetExportStatus(notificationID, studycase.ExportInProgress)
	go func() {
		if err := connector.WriteParameters(context.Background(), mapping.DatasetID, values); err != nil {
			log.Errorf("dataset export %d of study case %d failed: %v", notificationID, studyID, err)
			m.SetExportError(notificationID, err.Error())
			return
		}
		e.recordChanges(notificationID, author, mapping)
		m.SetExportStatus(notificationID, studycase.ExportFinished)
		log.Infof("dataset export %d of study case %d finished", notificationID, studyID)
	}()
	return nil
}

// ExportStatus returns the status and error message of an export
func (e *Exporter) ExportStatus(studyID, notificationID int64) (string, string, error) {
	m, err := e.cache.Get(studyID, false)
	if err != nil {
		return "", "", err
	}
	status, errMessage := m.ExportStatus(notificationID)
	return status, errMessage, nil
}

// Import pulls the mapped parameters from the dataset into the study and
// persists the result
func (e *Exporter) Import(ctx context.Context, studyID, notificationID int64, author string, mapping *Mapping) error {
	connector, err := e.registry.Get(mapping.ConnectorID)
	if err != nil {
		return err
	}
	values, err := connector.ReadParameters(ctx, mapping.DatasetID)
	if err != nil {
		return err
	}

	changes := make([]orchestrator.ParameterChange, 0, len(mapping.Parameters))
	for variableID, datasetParam := range mapping.Parameters {
		value, ok := values[datasetParam]
		if !ok {
			return models.NewStudyCaseError("dataset "+mapping.DatasetID+" has no parameter "+datasetParam, nil)
		}
		changes = append(changes, orchestrator.ParameterChange{VariableID: variableID, NewValue: value})
	}
	if err := e.orchestrator.UpdateParameters(studyID, changes); err != nil {
		return err
	}
	e.recordChanges(notificationID, author, mapping)
	return nil
}

// recordChanges attaches one dataset mapping change per parameter to the
// notification so the audit trail keeps the provenance
func (e *Exporter) recordChanges(notificationID int64, author string, mapping *Mapping) {
	for variableID, datasetParam := range mapping.Parameters {
		err := e.tracker.AddDatasetMappingChange(
			notificationID, variableID, mapping.ConnectorID, mapping.DatasetID, datasetParam, variableID, author)
		if err != nil {
			log.Warnf("failed to record dataset change for %s: %v", variableID, err)
		}
	}
}

// loadedManager returns the study's manager after a synchronous load
func (e *Exporter) loadedManager(studyID int64) (*studycase.Manager, error) {
	task, err := e.orchestrator.Load(studyID, false)
	if err != nil {
		return nil, err
	}
	if err := task.Wait(e.orchestrator.LoadTimeout()); err != nil {
		return nil, err
	}
	m, err := e.cache.Get(studyID, false)
	if err != nil {
		return nil, err
	}
	if m.LoadStatus() != models.LoadStatusLoaded {
		return nil, models.NewStudyCaseError("study case is not loaded: "+m.Error(), nil)
	}
	return m, nil
}
