package config

import (
	"os"
	"strconv"
	"time"

	"study-orchestrator/core/allocation"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	// Database
	DatabaseURL string `yaml:"database_url"`

	// Server
	ServerPort string `yaml:"server_port"`

	// Study storage
	DataRoot string `yaml:"data_root"`

	// Execution
	ExecutionStrategy string        `yaml:"execution_strategy"` // thread, subprocess or kubernetes
	LauncherScript    string        `yaml:"launcher_script"`
	LoadTimeout       time.Duration `yaml:"load_timeout"`

	// Study lifecycle
	InactivityDelay time.Duration `yaml:"inactivity_delay"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	PurgeDelay      time.Duration `yaml:"purge_delay"`

	// Kubernetes
	KubeNamespace string                          `yaml:"kube_namespace"`
	KubeImage     string                          `yaml:"kube_image"`
	Kubeconfig    string                          `yaml:"kubeconfig"`
	PodFlavors    map[string]allocation.FlavorSpec `yaml:"pod_flavors"`

	// Datasets
	S3Region    string `yaml:"s3_region"`
	S3Bucket    string `yaml:"s3_bucket"`
	S3KeyPrefix string `yaml:"s3_key_prefix"`

	// Ontology
	OntologyEndpoint string        `yaml:"ontology_endpoint"`
	OntologyCooldown time.Duration `yaml:"ontology_cooldown"`
}

// Load builds the configuration from environment variables, optionally
// merged over a YAML file named by CONFIG_FILE
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:       getEnv("DATABASE_URL", "postgres://localhost/study_orchestrator?sslmode=disable"),
		ServerPort:        getEnv("SERVER_PORT", "8080"),
		DataRoot:          getEnv("DATA_ROOT", "/var/lib/study-orchestrator"),
		ExecutionStrategy: getEnv("EXECUTION_STRATEGY", "thread"),
		LauncherScript:    getEnv("LAUNCHER_SCRIPT", "/usr/local/bin/study-launcher"),
		LoadTimeout:       getDuration("LOAD_TIMEOUT", 5*time.Minute),
		InactivityDelay:   getDuration("INACTIVITY_DELAY", 48*time.Hour),
		SweepInterval:     getDuration("SWEEP_INTERVAL", 30*time.Minute),
		PurgeDelay:        getDuration("PURGE_DELAY", 30*24*time.Hour),
		KubeNamespace:     getEnv("KUBE_NAMESPACE", "study-orchestrator"),
		KubeImage:         getEnv("KUBE_IMAGE", "study-orchestrator/runner:latest"),
		Kubeconfig:        getEnv("KUBECONFIG", ""),
		S3Region:          getEnv("S3_REGION", "eu-west-1"),
		S3Bucket:          getEnv("S3_BUCKET", ""),
		S3KeyPrefix:       getEnv("S3_KEY_PREFIX", "datasets/"),
		OntologyEndpoint:  getEnv("ONTOLOGY_ENDPOINT", ""),
		OntologyCooldown:  getDuration("ONTOLOGY_COOLDOWN", 3*time.Minute),
	}

	if file := os.Getenv("CONFIG_FILE"); file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	if cfg.PodFlavors == nil {
		cfg.PodFlavors = map[string]allocation.FlavorSpec{
			"small":  {CPU: "1", Memory: "2Gi"},
			"medium": {CPU: "2", Memory: "8Gi"},
			"large":  {CPU: "8", Memory: "32Gi"},
		}
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
