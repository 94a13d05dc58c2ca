package handlers

import (
	"encoding/json"
	"net/http"

	"study-orchestrator/core/coedition"
	"study-orchestrator/core/dataset"
	"study-orchestrator/core/models"
)

// CoeditionHandler handles room membership, notifications and dataset
// export HTTP requests
type CoeditionHandler struct {
	tracker  *coedition.Tracker
	exporter *dataset.Exporter
}

// NewCoeditionHandler creates a new coedition handler
func NewCoeditionHandler(tracker *coedition.Tracker, exporter *dataset.Exporter) *CoeditionHandler {
	return &CoeditionHandler{tracker: tracker, exporter: exporter}
}

// RoomRequest identifies the acting user
type RoomRequest struct {
	UserID int64 `json:"user_id"`
}

// JoinRoom handles POST /v1/study-cases/{id}/room/join
func (h *CoeditionHandler) JoinRoom(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid study case id", http.StatusBadRequest)
		return
	}
	var req RoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.tracker.JoinRoom(id, req.UserID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "joined"})
}

// LeaveRoom handles POST /v1/study-cases/{id}/room/leave
func (h *CoeditionHandler) LeaveRoom(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid study case id", http.StatusBadRequest)
		return
	}
	var req RoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.tracker.LeaveRoom(id, req.UserID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "left"})
}

// RoomUsers handles GET /v1/study-cases/{id}/room
func (h *CoeditionHandler) RoomUsers(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid study case id", http.StatusBadRequest)
		return
	}
	users, err := h.tracker.RoomUsers(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// NotificationRequest represents a coedition event submission
type NotificationRequest struct {
	UserID  int64  `json:"user_id"`
	Action  string `json:"action"`
	Message string `json:"message"`
}

// AddNotification handles POST /v1/study-cases/{id}/notifications
func (h *CoeditionHandler) AddNotification(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid study case id", http.StatusBadRequest)
		return
	}
	var req NotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	notificationID, err := h.tracker.AddNotification(id, req.UserID, models.CoeditionAction(req.Action), req.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"notification_id": notificationID})
}

// ListNotifications handles GET /v1/study-cases/{id}/notifications
func (h *CoeditionHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid study case id", http.StatusBadRequest)
		return
	}
	notifications, err := h.tracker.ListNotifications(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notifications)
}

// ListChanges handles GET /v1/notifications/{id}/changes
func (h *CoeditionHandler) ListChanges(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid notification id", http.StatusBadRequest)
		return
	}
	changes, err := h.tracker.ListChanges(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, changes)
}

// ExportRequest represents a dataset export or import submission
type ExportRequest struct {
	UserID  int64           `json:"user_id"`
	Mapping json.RawMessage `json:"mapping"`
}

// ExportDataset handles POST /v1/study-cases/{id}/datasets/export
func (h *CoeditionHandler) ExportDataset(w http.ResponseWriter, r *http.Request) {
	h.runDatasetTransfer(w, r, models.CoeditionExport, h.exportFunc)
}

// ImportDataset handles POST /v1/study-cases/{id}/datasets/import
func (h *CoeditionHandler) ImportDataset(w http.ResponseWriter, r *http.Request) {
	h.runDatasetTransfer(w, r, models.CoeditionSave, h.importFunc)
}

func (h *CoeditionHandler) exportFunc(r *http.Request, studyID, notificationID int64, author string, mapping *dataset.Mapping) error {
	return h.exporter.Export(studyID, notificationID, author, mapping)
}

func (h *CoeditionHandler) importFunc(r *http.Request, studyID, notificationID int64, author string, mapping *dataset.Mapping) error {
	return h.exporter.Import(r.Context(), studyID, notificationID, author, mapping)
}

// runDatasetTransfer records the notification then hands the mapping to
// the exporter
func (h *CoeditionHandler) runDatasetTransfer(
	w http.ResponseWriter,
	r *http.Request,
	action models.CoeditionAction,
	run func(r *http.Request, studyID, notificationID int64, author string, mapping *dataset.Mapping) error,
) {
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid study case id", http.StatusBadRequest)
		return
	}
	var req ExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	mapping, err := dataset.ParseMapping(req.Mapping)
	if err != nil {
		writeError(w, err)
		return
	}

	notificationID, err := h.tracker.AddNotification(id, req.UserID, action, "dataset "+mapping.DatasetID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := run(r, id, notificationID, requestUser(r), mapping); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int64{"notification_id": notificationID})
}

// ExportStatus handles GET /v1/study-cases/{id}/datasets/export/{notificationId}
func (h *CoeditionHandler) ExportStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid study case id", http.StatusBadRequest)
		return
	}
	notificationID, err := pathID(r, "notificationId")
	if err != nil {
		http.Error(w, "Invalid notification id", http.StatusBadRequest)
		return
	}

	status, errMessage, err := h.exporter.ExportStatus(id, notificationID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status, "error": errMessage})
}
