// Package kafka consumes JSON envelopes of decoded work items from a Kafka
// topic with a consumer group.
package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/PFigs/backend-client/internal/domain"
	"github.com/PFigs/backend-client/internal/ports"
)

const (
	kafkaMinBytes = 1
	kafkaMaxBytes = 10_000_000 // 10MB
)

type Config struct {
	Brokers []string      `yaml:"brokers"`
	GroupID string        `yaml:"group_id"`
	Topic   string        `yaml:"topic"`
	MaxWait time.Duration `yaml:"max_wait"`
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Collector implements ports.Collector. A message is committed once its
// item was handed downstream or found undecodable.
type Collector struct {
	cfg Config
	obs ports.Observability

	newReader func(Config) messageReader

	mu     sync.Mutex
	reader messageReader
	cancel context.CancelFunc
	done   chan struct{}
}

func NewCollector(cfg Config, obs ports.Observability) *Collector {
	return &Collector{cfg: cfg, obs: obs, newReader: newReader}
}

func newReader(cfg Config) messageReader {
	maxWait := cfg.MaxWait
	if maxWait <= 0 {
		maxWait = 500 * time.Millisecond
	}
	return kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:         cfg.Brokers,
		GroupID:         cfg.GroupID,
		Topic:           cfg.Topic,
		MinBytes:        kafkaMinBytes,
		MaxBytes:        kafkaMaxBytes,
		MaxWait:         maxWait,
		CommitInterval:  time.Second,
		ReadLagInterval: -1,
	})
}

func (c *Collector) Start(out chan<- domain.WorkItem) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reader != nil {
		return errors.New("kafka collector already started")
	}
	if len(c.cfg.Brokers) == 0 || c.cfg.Topic == "" {
		return errors.New("kafka brokers and topic are required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.reader = c.newReader(c.cfg)
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.consume(ctx, c.reader, out, c.done)
	c.obs.LogInfo("kafka_consuming", ports.Field{Key: "topic", Value: c.cfg.Topic}, ports.Field{Key: "group", Value: c.cfg.GroupID})
	return nil
}

func (c *Collector) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reader == nil {
		return nil
	}
	c.cancel()
	<-c.done
	err := c.reader.Close()
	c.reader = nil
	return errors.Wrap(err, "close kafka reader")
}

func (c *Collector) consume(ctx context.Context, r messageReader, out chan<- domain.WorkItem, done chan struct{}) {
	defer close(done)
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.obs.LogWarn("kafka_fetch_failed", err)
			select {
			case <-time.After(time.Second):
				continue
			case <-ctx.Done():
				return
			}
		}

		item, err := domain.DecodeEnvelope(msg.Value)
		if err != nil {
			c.obs.IncCounter(ports.MetricEnvelopesInvalid, 1)
			c.obs.LogWarn("envelope_invalid", err,
				ports.Field{Key: "partition", Value: msg.Partition},
				ports.Field{Key: "offset", Value: msg.Offset})
		} else {
			select {
			case out <- item:
			case <-ctx.Done():
				return
			}
		}

		if err := r.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.obs.LogWarn("kafka_commit_failed", err, ports.Field{Key: "offset", Value: msg.Offset})
		}
	}
}

var _ ports.Collector = (*Collector)(nil)
