package pipeline

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/PFigs/backend-client/internal/app/control"
	"github.com/PFigs/backend-client/internal/app/router"
	"github.com/PFigs/backend-client/internal/ports"
)

// PoolConfig controls how the queue is drained.
type PoolConfig struct {
	// Parallel runs Workers-1 workers, each on a private connection, and
	// keeps the calling goroutine as supervisor. Otherwise a single loop
	// runs on the initial connection.
	Parallel bool `yaml:"parallel"`
	Workers  int  `yaml:"count"`

	DequeueTimeout    time.Duration `yaml:"dequeue_timeout"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	ProbeTimeout      time.Duration `yaml:"probe_timeout"`
	MonitorInterval   time.Duration `yaml:"monitor_interval"`
}

func (c *PoolConfig) ApplyDefaults() {
	if c.Workers == 0 {
		c.Workers = 10
	}
	if c.DequeueTimeout == 0 {
		c.DequeueTimeout = 10 * time.Second
	}
	if c.ReconnectInterval == 0 {
		c.ReconnectInterval = 5 * time.Second
	}
	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = 5 * time.Second
	}
	if c.MonitorInterval == 0 {
		c.MonitorInterval = 10 * time.Second
	}
}

func (c PoolConfig) Validate() error {
	if c.Parallel && c.Workers < 2 {
		return errors.Errorf("parallel mode needs at least 2 workers, got %d", c.Workers)
	}
	if c.Workers < 1 {
		return errors.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	if c.DequeueTimeout <= 0 {
		return errors.New("dequeue_timeout must be > 0")
	}
	if c.ReconnectInterval <= 0 {
		return errors.New("reconnect_interval must be > 0")
	}
	if c.ProbeTimeout < 0 {
		return errors.New("probe_timeout must be >= 0")
	}
	if c.MonitorInterval <= 0 {
		return errors.New("monitor_interval must be > 0")
	}
	return nil
}

// Pool drains one shared queue into the storage backend.
type Pool struct {
	cfg    PoolConfig
	queue  ports.WorkQueue
	dial   ports.Dialer
	router *router.Router
	sig    control.Signals
	obs    ports.Observability

	workers chan []*Worker
}

func NewPool(cfg PoolConfig, q ports.WorkQueue, dial ports.Dialer, r *router.Router, sig control.Signals, obs ports.Observability) (*Pool, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.WithMessage(err, "pool config")
	}
	if q == nil || dial == nil || obs == nil {
		return nil, errors.New("pool: queue, dialer and observability are required")
	}
	if r == nil {
		r = router.New()
	}
	return &Pool{
		cfg:     cfg,
		queue:   q,
		dial:    dial,
		router:  r,
		sig:     sig,
		obs:     obs,
		workers: make(chan []*Worker, 1),
	}, nil
}

// Workers blocks until Run has created its workers.
func (p *Pool) Workers(ctx context.Context) ([]*Worker, error) {
	select {
	case ws := <-p.workers:
		p.workers <- ws
		return ws, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run blocks until every worker has stopped. Cancelling ctx sets Exit.
// A failed initial connection sets Exit and is returned.
func (p *Pool) Run(ctx context.Context) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			p.sig.Exit.Set()
		case <-p.sig.Exit.Done():
		case <-stop:
		}
	}()

	primary, err := p.dial(ctx)
	if err != nil {
		p.obs.LogCritical("initial_connect_failed", err)
		p.sig.Exit.Set()
		return errors.Wrap(err, "initial backend connection")
	}

	if !p.cfg.Parallel {
		w := newWorker(0, p.cfg, p.queue, p.dial, p.router, p.sig, p.obs, primary)
		p.workers <- []*Worker{w}
		p.obs.SetGauge(ports.MetricWorkersAlive, 1)
		err := w.Run(ctx)
		p.obs.SetGauge(ports.MetricWorkersAlive, 0)
		if err != nil {
			p.obs.LogCritical("worker_died", err, ports.Field{Key: "worker", Value: w.ID()})
			p.obs.IncCounter(ports.MetricWorkerDeaths, 1)
			p.sig.Exit.Set()
		}
		return err
	}

	if err := primary.Close(); err != nil {
		p.obs.LogWarn("backend_close_failed", err)
	}

	ws := make([]*Worker, 0, p.cfg.Workers-1)
	for id := 1; id < p.cfg.Workers; id++ {
		ws = append(ws, newWorker(id, p.cfg, p.queue, p.dial, p.router, p.sig, p.obs, nil))
	}
	for _, w := range ws {
		go func(w *Worker) { _ = w.Run(ctx) }(w)
	}
	p.workers <- ws
	p.obs.LogInfo("pool_started", ports.Field{Key: "workers", Value: len(ws)})

	var result *multierror.Error
	if err := NewSupervisor(ws, p.sig, p.cfg.MonitorInterval, p.obs).Run(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	for _, w := range ws {
		<-w.Done()
		if err := w.Err(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	p.obs.SetGauge(ports.MetricWorkersAlive, 0)
	return result.ErrorOrNil()
}
