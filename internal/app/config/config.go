package config

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/PFigs/backend-client/internal/adapters/kafka"
	"github.com/PFigs/backend-client/internal/adapters/mqtt"
	"github.com/PFigs/backend-client/internal/adapters/storage"
	"github.com/PFigs/backend-client/internal/app/campaign"
	"github.com/PFigs/backend-client/internal/app/inventory"
	"github.com/PFigs/backend-client/internal/app/pipeline"
	"github.com/PFigs/backend-client/internal/domain"
	"github.com/PFigs/backend-client/internal/ports"
)

const (
	BackendPostgres = "postgres"
	BackendInflux   = "influx"

	CollectorMQTT  = "mqtt"
	CollectorKafka = "kafka"
)

type Config struct {
	Policy    ports.Policy        `yaml:"policy"`
	Workers   pipeline.PoolConfig `yaml:"workers"`
	Storage   StorageConfig       `yaml:"storage"`
	Collector CollectorConfig     `yaml:"collector"`
	Metrics   MetricsConfig       `yaml:"metrics"`
	Logging   LoggingConfig       `yaml:"logging"`
	Inventory InventoryConfig     `yaml:"inventory"`
}

type StorageConfig struct {
	Backend string               `yaml:"backend"`
	SQL     storage.SQLConfig    `yaml:"sql"`
	Influx  storage.InfluxConfig `yaml:"influx"`
}

// CollectorConfig selects the upstream source. An empty type means items
// are published through the library API only.
type CollectorConfig struct {
	Type  string       `yaml:"type"`
	MQTT  mqtt.Config  `yaml:"mqtt"`
	Kafka kafka.Config `yaml:"kafka"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type InventoryConfig struct {
	TargetNodes     []domain.NodeAddress `yaml:"target_nodes"`
	NodesFile       string               `yaml:"nodes_file"`
	TargetOTAP      *int                 `yaml:"target_otap"`
	TargetFrequency *int                 `yaml:"target_frequency"`
	StartDelay      time.Duration        `yaml:"start_delay"`
	MaximumDuration time.Duration        `yaml:"maximum_duration"`

	campaign.Config `yaml:",inline"`
}

// Tracker converts the section into a tracker configuration.
func (c InventoryConfig) Tracker() inventory.Config {
	return inventory.Config{
		TargetNodes:        append([]domain.NodeAddress(nil), c.TargetNodes...),
		TargetOTAPSequence: c.TargetOTAP,
		TargetFrequency:    c.TargetFrequency,
		StartDelay:         c.StartDelay,
		MaximumDuration:    c.MaximumDuration,
	}
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Inventory.NodesFile != "" {
		nodes, err := ReadNodesFile(cfg.Inventory.NodesFile)
		if err != nil {
			return nil, fmt.Errorf("inventory.nodes_file: %w", err)
		}
		cfg.Inventory.TargetNodes = append(cfg.Inventory.TargetNodes, nodes...)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Policy.MaxQueueLen == 0 {
		c.Policy.MaxQueueLen = 100_000
	}
	if c.Policy.IdleSleep == 0 {
		c.Policy.IdleSleep = 5 * time.Millisecond
	}
	if c.Policy.OnQueueFull == "" {
		c.Policy.OnQueueFull = "block"
	}

	c.Workers.ApplyDefaults()

	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendPostgres
	}
	if c.Storage.SQL.Hostname == "" {
		c.Storage.SQL.Hostname = "127.0.0.1"
	}
	if c.Storage.SQL.Port == 0 {
		c.Storage.SQL.Port = 5432
	}
	if c.Storage.SQL.SSLMode == "" {
		c.Storage.SQL.SSLMode = "disable"
	}
	if c.Storage.SQL.ConnectTimeout == 0 {
		c.Storage.SQL.ConnectTimeout = 10 * time.Second
	}
	c.Storage.SQL.Tables.ApplyDefaults()
	if c.Storage.Influx.Timeout == 0 {
		c.Storage.Influx.Timeout = 10 * time.Second
	}

	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	if c.Inventory.MaximumDuration == 0 {
		c.Inventory.MaximumDuration = 10 * time.Second
	}
	c.Inventory.Config.ApplyDefaults()
}

func (c *Config) validate() error {
	switch c.Policy.OnQueueFull {
	case "block", "drop", "reject":
	default:
		return fmt.Errorf("policy.on_queue_full must be block, drop or reject, got %q", c.Policy.OnQueueFull)
	}
	if c.Policy.MaxQueueLen < 0 {
		return fmt.Errorf("policy.max_queue_len must be >= 0")
	}
	if err := c.Workers.Validate(); err != nil {
		return fmt.Errorf("workers: %w", err)
	}

	switch c.Storage.Backend {
	case BackendPostgres:
		if c.Storage.SQL.Database == "" {
			return fmt.Errorf("storage.sql.database is required")
		}
	case BackendInflux:
		if c.Storage.Influx.URL == "" || c.Storage.Influx.Bucket == "" {
			return fmt.Errorf("storage.influx.url and storage.influx.bucket are required")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}

	switch c.Collector.Type {
	case "":
	case CollectorMQTT:
		if c.Collector.MQTT.Broker == "" || c.Collector.MQTT.Topic == "" {
			return fmt.Errorf("collector.mqtt.broker and collector.mqtt.topic are required")
		}
	case CollectorKafka:
		if len(c.Collector.Kafka.Brokers) == 0 || c.Collector.Kafka.Topic == "" {
			return fmt.Errorf("collector.kafka.brokers and collector.kafka.topic are required")
		}
	default:
		return fmt.Errorf("unknown collector.type %q", c.Collector.Type)
	}

	if c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required")
	}
	if c.Inventory.StartDelay < 0 {
		return fmt.Errorf("inventory.start_delay must be >= 0")
	}
	if c.Inventory.MaximumDuration <= 0 {
		return fmt.Errorf("inventory.maximum_duration must be > 0")
	}
	if err := c.Inventory.Config.Validate(); err != nil {
		return fmt.Errorf("inventory: %w", err)
	}
	return nil
}

// ReadNodesFile reads one node address per line. Blank lines and lines
// starting with # are skipped.
func ReadNodesFile(path string) ([]domain.NodeAddress, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var nodes []domain.NodeAddress
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		v, err := strconv.ParseUint(text, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		nodes = append(nodes, domain.NodeAddress(v))
	}
	return nodes, sc.Err()
}
