package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"study-orchestrator/api/rest/routes"
	"study-orchestrator/config"
	"study-orchestrator/core/allocation"
	"study-orchestrator/core/coedition"
	"study-orchestrator/core/dataset"
	"study-orchestrator/core/engine"
	"study-orchestrator/core/execution"
	"study-orchestrator/core/ontology"
	"study-orchestrator/core/orchestrator"
	"study-orchestrator/core/repository"
	"study-orchestrator/core/studycase"
	"study-orchestrator/storage"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize database
	db, err := repository.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Info("Database connected successfully")

	// Initialize repositories
	studies := repository.NewStudyCaseRepository(db)
	executions := repository.NewExecutionRepository(db)
	allocations := repository.NewAllocationRepository(db)
	notifications := repository.NewNotificationRepository(db)
	coeditionRepo := repository.NewCoeditionRepository(db)
	users := repository.NewUserRepository(db)
	logs := repository.NewExecutionLogRepository(db)

	// Initialize study storage and cache
	store := storage.NewStudyStore(cfg.DataRoot)
	cache := studycase.NewCache(studies, store, engine.LocalFactory)

	// Initialize ontology client
	var ontologyClient ontology.Client = ontology.NoopClient{}
	if cfg.OntologyEndpoint != "" {
		ontologyClient = ontology.NewHTTPClient(cfg.OntologyEndpoint, cfg.OntologyCooldown)
	}

	// Initialize allocation manager
	allocator, err := buildAllocationManager(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize allocation manager: %v", err)
	}

	// Initialize orchestration
	orch := orchestrator.NewOrchestrator(cache, studies, executions, allocations, store, allocator, ontologyClient, cfg.LoadTimeout)
	controller := execution.NewController(
		studies, executions, allocations, logs,
		allocator, cache, orch, store, ontologyClient,
		cfg.ExecutionStrategy, cfg.LauncherScript)
	tracker := coedition.NewTracker(coeditionRepo, notifications, users)

	// Initialize dataset connectors
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	registry := dataset.NewRegistry()
	if cfg.S3Bucket != "" {
		s3Connector, err := dataset.NewS3Connector(ctx, cfg.S3Region, cfg.S3Bucket, cfg.S3KeyPrefix)
		if err != nil {
			log.Fatalf("Failed to initialize S3 dataset connector: %v", err)
		}
		registry.Register("s3", s3Connector)
	}
	exporter := dataset.NewExporter(cache, orch, registry, tracker)

	// Start the inactivity sweeper
	sweeper := allocation.NewSweeper(
		studies, executions, allocations, allocator, store, cache,
		cfg.InactivityDelay, cfg.PurgeDelay, cfg.SweepInterval)
	go sweeper.Start(ctx)
	defer sweeper.Stop()

	// Setup routes
	r := mux.NewRouter()
	routes.SetupRoutes(r, &routes.Dependencies{
		DB:           db,
		Store:        store,
		Cache:        cache,
		Orchestrator: orch,
		Controller:   controller,
		Tracker:      tracker,
		Exporter:     exporter,
	})

	// Health check endpoint
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	// Start server
	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// Graceful shutdown
	go func() {
		log.Infof("Starting server on port %s", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	if err := server.Shutdown(context.Background()); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	log.Info("Server exited")
}

// buildAllocationManager selects a local or Kubernetes-backed manager
// depending on the execution strategy
func buildAllocationManager(cfg *config.Config) (allocation.Manager, error) {
	if cfg.ExecutionStrategy != execution.StrategyKubernetes {
		return allocation.NewLocalManager(), nil
	}

	var kubeConfig *rest.Config
	var err error
	if cfg.Kubeconfig != "" {
		kubeConfig, err = clientcmd.BuildConfigFromFlags("", cfg.Kubeconfig)
	} else {
		kubeConfig, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, err
	}
	client, err := kubernetes.NewForConfig(kubeConfig)
	if err != nil {
		return nil, err
	}
	return allocation.NewKubernetesManager(client, cfg.KubeNamespace, cfg.KubeImage, cfg.PodFlavors), nil
}
