package handlers

import (
	"net/http"
	"strconv"

	"study-orchestrator/core/execution"
	"study-orchestrator/core/repository"
	"study-orchestrator/storage"
)

// ExecutionHandler handles execution HTTP requests
type ExecutionHandler struct {
	controller *execution.Controller
	executions repository.ExecutionRepository
	logs       repository.ExecutionLogRepository
	store      *storage.StudyStore
}

// NewExecutionHandler creates a new execution handler
func NewExecutionHandler(
	controller *execution.Controller,
	executions repository.ExecutionRepository,
	logs repository.ExecutionLogRepository,
	store *storage.StudyStore,
) *ExecutionHandler {
	return &ExecutionHandler{
		controller: controller,
		executions: executions,
		logs:       logs,
		store:      store,
	}
}

// SubmitExecution handles POST /v1/study-cases/{id}/executions
func (h *ExecutionHandler) SubmitExecution(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid study case id", http.StatusBadRequest)
		return
	}
	if !requestRight(r).CanEdit() {
		http.Error(w, "insufficient rights to execute the study case", http.StatusForbidden)
		return
	}

	e, err := h.controller.Execute(r.Context(), id, requestUser(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

// StopExecution handles POST /v1/study-cases/{id}/executions/{executionId}/stop
// and POST /v1/study-cases/{id}/executions/stop for the current execution
func (h *ExecutionHandler) StopExecution(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid study case id", http.StatusBadRequest)
		return
	}
	var executionID int64
	if raw := r.URL.Query().Get("execution_id"); raw != "" {
		if executionID, err = strconv.ParseInt(raw, 10, 64); err != nil {
			http.Error(w, "Invalid execution id", http.StatusBadRequest)
			return
		}
	}

	if err := h.controller.Stop(r.Context(), id, executionID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// ExecutionStatus handles GET /v1/study-cases/{id}/executions/status
func (h *ExecutionHandler) ExecutionStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid study case id", http.StatusBadRequest)
		return
	}

	status, err := h.controller.Status(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// ListExecutions handles GET /v1/study-cases/{id}/executions
func (h *ExecutionHandler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid study case id", http.StatusBadRequest)
		return
	}
	execs, err := h.executions.ListByStudy(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, execs)
}

// ExecutionLogs handles GET /v1/study-cases/{id}/executions/logs
func (h *ExecutionHandler) ExecutionLogs(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid study case id", http.StatusBadRequest)
		return
	}
	rows, err := h.logs.ListByStudy(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// RawLog handles GET /v1/study-cases/{id}/executions/raw-log, streaming
// the raw log file of the study
func (h *ExecutionHandler) RawLog(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid study case id", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	http.ServeFile(w, r, h.store.RawLogPath(id))
}
