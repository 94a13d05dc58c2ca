package routes

import (
	"study-orchestrator/api/rest/handlers"
	"study-orchestrator/core/coedition"
	"study-orchestrator/core/dataset"
	"study-orchestrator/core/execution"
	"study-orchestrator/core/orchestrator"
	"study-orchestrator/core/repository"
	"study-orchestrator/core/studycase"
	"study-orchestrator/storage"

	"github.com/gorilla/mux"
)

// Dependencies carries everything the routes need
type Dependencies struct {
	DB           *repository.DB
	Store        *storage.StudyStore
	Cache        *studycase.Cache
	Orchestrator *orchestrator.Orchestrator
	Controller   *execution.Controller
	Tracker      *coedition.Tracker
	Exporter     *dataset.Exporter
}

// SetupRoutes configures all API routes
func SetupRoutes(r *mux.Router, deps *Dependencies) {
	studies := repository.NewStudyCaseRepository(deps.DB)
	executions := repository.NewExecutionRepository(deps.DB)
	logs := repository.NewExecutionLogRepository(deps.DB)

	studyHandler := handlers.NewStudyCaseHandler(deps.Orchestrator, deps.Cache, studies, deps.Tracker)
	executionHandler := handlers.NewExecutionHandler(deps.Controller, executions, logs, deps.Store)
	coeditionHandler := handlers.NewCoeditionHandler(deps.Tracker, deps.Exporter)
	dashboardHandler := handlers.NewDashboardHandler(deps.Controller, deps.Store)

	api := r.PathPrefix("/v1").Subrouter()

	// Study case lifecycle
	api.HandleFunc("/study-cases", studyHandler.CreateStudyCase).Methods("POST")
	api.HandleFunc("/study-cases", studyHandler.ListStudyCases).Methods("GET")
	api.HandleFunc("/study-cases/{id}", studyHandler.GetStudyCase).Methods("GET")
	api.HandleFunc("/study-cases/{id}", studyHandler.DeleteStudyCase).Methods("DELETE")
	api.HandleFunc("/study-cases/{id}/copy", studyHandler.CopyStudyCase).Methods("POST")
	api.HandleFunc("/study-cases/{id}/reload", studyHandler.ReloadStudyCase).Methods("POST")
	api.HandleFunc("/study-cases/{id}/parameters", studyHandler.UpdateParameters).Methods("POST")
	api.HandleFunc("/study-cases/{id}/load-status", studyHandler.StudyCaseStatus).Methods("GET")

	// Executions
	api.HandleFunc("/study-cases/{id}/executions", executionHandler.SubmitExecution).Methods("POST")
	api.HandleFunc("/study-cases/{id}/executions", executionHandler.ListExecutions).Methods("GET")
	api.HandleFunc("/study-cases/{id}/executions/stop", executionHandler.StopExecution).Methods("POST")
	api.HandleFunc("/study-cases/{id}/executions/status", executionHandler.ExecutionStatus).Methods("GET")
	api.HandleFunc("/study-cases/{id}/executions/logs", executionHandler.ExecutionLogs).Methods("GET")
	api.HandleFunc("/study-cases/{id}/executions/raw-log", executionHandler.RawLog).Methods("GET")

	// Coedition
	api.HandleFunc("/study-cases/{id}/room", coeditionHandler.RoomUsers).Methods("GET")
	api.HandleFunc("/study-cases/{id}/room/join", coeditionHandler.JoinRoom).Methods("POST")
	api.HandleFunc("/study-cases/{id}/room/leave", coeditionHandler.LeaveRoom).Methods("POST")
	api.HandleFunc("/study-cases/{id}/notifications", coeditionHandler.AddNotification).Methods("POST")
	api.HandleFunc("/study-cases/{id}/notifications", coeditionHandler.ListNotifications).Methods("GET")
	api.HandleFunc("/notifications/{id}/changes", coeditionHandler.ListChanges).Methods("GET")

	// Datasets
	api.HandleFunc("/study-cases/{id}/datasets/export", coeditionHandler.ExportDataset).Methods("POST")
	api.HandleFunc("/study-cases/{id}/datasets/import", coeditionHandler.ImportDataset).Methods("POST")
	api.HandleFunc("/study-cases/{id}/datasets/export/{notificationId}", coeditionHandler.ExportStatus).Methods("GET")

	// Dashboard
	api.HandleFunc("/dashboard", dashboardHandler.GetDashboard).Methods("GET")
	api.HandleFunc("/study-cases/{id}/dashboard", dashboardHandler.GetStudyDashboard).Methods("GET")
}
