package handlers

import (
	"net/http"

	"study-orchestrator/core/execution"
	"study-orchestrator/storage"
)

// DashboardHandler handles cross-study dashboard API requests
type DashboardHandler struct {
	controller *execution.Controller
	store      *storage.StudyStore
}

// NewDashboardHandler creates a new dashboard handler
func NewDashboardHandler(controller *execution.Controller, store *storage.StudyStore) *DashboardHandler {
	return &DashboardHandler{controller: controller, store: store}
}

// GetDashboard handles GET /v1/dashboard, listing every execution with its
// study and ontology labels
func (h *DashboardHandler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.controller.Dashboard(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": entries})
}

// GetStudyDashboard handles GET /v1/study-cases/{id}/dashboard, serving
// the persisted post-execution summary of one study
func (h *DashboardHandler) GetStudyDashboard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid study case id", http.StatusBadRequest)
		return
	}
	var dashboard map[string]interface{}
	if err := h.store.ReadDashboard(id, &dashboard); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboard)
}
