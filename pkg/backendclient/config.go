package backendclient

import (
	"github.com/PFigs/backend-client/internal/adapters/kafka"
	"github.com/PFigs/backend-client/internal/adapters/mqtt"
	"github.com/PFigs/backend-client/internal/adapters/storage"
	"github.com/PFigs/backend-client/internal/app/config"
	"github.com/PFigs/backend-client/internal/app/pipeline"
	"github.com/PFigs/backend-client/internal/ports"
)

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// Policy controls the queue bound and what happens when it is full.
	Policy = ports.Policy
	// PoolConfig sizes the worker pool and its timeouts.
	PoolConfig      = pipeline.PoolConfig
	StorageConfig   = config.StorageConfig
	SQLConfig       = storage.SQLConfig
	SQLTables       = storage.Tables
	InfluxConfig    = storage.InfluxConfig
	CollectorConfig = config.CollectorConfig
	MQTTConfig      = mqtt.Config
	KafkaConfig     = kafka.Config
	// MetricsConfig configures the metrics HTTP server.
	MetricsConfig   = config.MetricsConfig
	LoggingConfig   = config.LoggingConfig
	InventoryConfig = config.InventoryConfig
)

const (
	BackendPostgres = config.BackendPostgres
	BackendInflux   = config.BackendInflux
	CollectorMQTT   = config.CollectorMQTT
	CollectorKafka  = config.CollectorKafka
)

// LoadConfig loads YAML from disk using the internal config reader.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}
