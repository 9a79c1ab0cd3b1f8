package backendclient

import (
	"github.com/prometheus/client_golang/prometheus"

	base "github.com/PFigs/backend-client/pkg/backendclient"
)

// Re-exported errors for convenience.
var (
	ErrQueueFull            = base.ErrQueueFull
	ErrChannelBackendClosed = base.ErrChannelBackendClosed
)

// Type aliases so consumers can import github.com/PFigs/backend-client directly.
type (
	Config          = base.Config
	Policy          = base.Policy
	PoolConfig      = base.PoolConfig
	StorageConfig   = base.StorageConfig
	SQLConfig       = base.SQLConfig
	InfluxConfig    = base.InfluxConfig
	CollectorConfig = base.CollectorConfig
	MQTTConfig      = base.MQTTConfig
	KafkaConfig     = base.KafkaConfig
	MetricsConfig   = base.MetricsConfig
	Runtime         = base.Runtime
	RuntimeOption   = base.RuntimeOption
	WorkItem        = base.WorkItem
	Collector       = base.Collector
	WorkQueue       = base.WorkQueue
	Backend         = base.Backend
	Dialer          = base.Dialer
	Observability   = base.Observability
	Field           = base.Field
	Tap             = base.Tap
	ItemHandler     = base.ItemHandler
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

// Runtime and options.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	return base.NewRuntime(cfg, opts...)
}

func WithCollector(col Collector) RuntimeOption {
	return base.WithCollector(col)
}

func WithoutCollector() RuntimeOption {
	return base.WithoutCollector()
}

func WithQueue(q WorkQueue) RuntimeOption {
	return base.WithQueue(q)
}

func WithDialer(d Dialer) RuntimeOption {
	return base.WithDialer(d)
}

func WithObservability(obs Observability) RuntimeOption {
	return base.WithObservability(obs)
}

func WithRegistry(reg *prometheus.Registry) RuntimeOption {
	return base.WithRegistry(reg)
}

func WithTap(tap Tap) RuntimeOption {
	return base.WithTap(tap)
}

// Backend adapters.
func NewCallbackBackend(name string, fn ItemHandler) Backend {
	return base.NewCallbackBackend(name, fn)
}

func NewChannelBackend(name string, buffer int) (Backend, <-chan WorkItem, func()) {
	return base.NewChannelBackend(name, buffer)
}

func SharedDialer(b Backend) Dialer {
	return base.SharedDialer(b)
}

// Envelope helpers.
func DecodeEnvelope(raw []byte) (WorkItem, error) {
	return base.DecodeEnvelope(raw)
}
