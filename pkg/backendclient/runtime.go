package backendclient

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/PFigs/backend-client/internal/adapters/kafka"
	"github.com/PFigs/backend-client/internal/adapters/mqtt"
	"github.com/PFigs/backend-client/internal/adapters/observability"
	"github.com/PFigs/backend-client/internal/adapters/queue"
	"github.com/PFigs/backend-client/internal/adapters/storage"
	"github.com/PFigs/backend-client/internal/app/config"
	"github.com/PFigs/backend-client/internal/app/control"
	"github.com/PFigs/backend-client/internal/app/pipeline"
	"github.com/PFigs/backend-client/internal/app/router"
	"github.com/PFigs/backend-client/internal/ports"
)

// ErrQueueFull indicates the queue rejected a published item according to policy.
var ErrQueueFull = errors.New("backendclient: queue full")

// RuntimeOption customizes the dependencies used by Runtime.
type RuntimeOption func(*runtimeOverrides)

type runtimeOverrides struct {
	collector     Collector
	noCollector   bool
	queue         WorkQueue
	dialer        Dialer
	observability Observability
	registry      *prometheus.Registry
	taps          []Tap
}

// WithCollector injects a custom collector implementation (simulators,
// other brokers, file replays).
func WithCollector(col Collector) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.collector = col
	}
}

// WithoutCollector runs the runtime on Publish alone, whatever the config says.
func WithoutCollector() RuntimeOption {
	return func(o *runtimeOverrides) {
		o.noCollector = true
	}
}

// WithQueue injects a custom queue implementation.
func WithQueue(q WorkQueue) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.queue = q
	}
}

// WithDialer replaces the storage backend selected by the config.
func WithDialer(d Dialer) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.dialer = d
	}
}

// WithObservability plugs in a custom observability backend.
func WithObservability(obs Observability) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.observability = obs
	}
}

// WithRegistry registers the default metrics on reg instead of the global
// registry and serves reg on /metrics.
func WithRegistry(reg *prometheus.Registry) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.registry = reg
	}
}

// WithTap adds a function that sees every accepted item before it is queued.
func WithTap(tap Tap) RuntimeOption {
	return func(o *runtimeOverrides) {
		if tap != nil {
			o.taps = append(o.taps, tap)
		}
	}
}

// Runtime wires up the collector → queue → worker pool → backend pipeline
// and exposes simple lifecycle hooks for embedding inside any Go service.
type Runtime struct {
	cfg       *Config
	sig       control.Signals
	obs       ports.Observability
	queue     ports.WorkQueue
	collector ports.Collector
	ingress   *pipeline.Ingress
	pool      *pipeline.Pool
	metrics   http.Handler

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRuntime bootstraps the default adapters (collector and storage backend
// from cfg, in-memory queue, Prometheus observability). Callers can use
// RuntimeOption values to override any dependency.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}

	var overrides runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	var (
		reg     prometheus.Registerer = prometheus.DefaultRegisterer
		metrics                       = promhttp.Handler()
	)
	if overrides.registry != nil {
		reg = overrides.registry
		metrics = promhttp.HandlerFor(overrides.registry, promhttp.HandlerOpts{})
	}

	obs := overrides.observability
	if obs == nil {
		obs = observability.NewPromObs(reg)
	}

	q := overrides.queue
	if q == nil {
		q = queue.NewMemQueue(cfg.Policy.MaxQueueLen)
	}

	col := overrides.collector
	if col == nil && !overrides.noCollector {
		switch cfg.Collector.Type {
		case "":
		case config.CollectorMQTT:
			col = mqtt.NewCollector(cfg.Collector.MQTT, obs)
		case config.CollectorKafka:
			col = kafka.NewCollector(cfg.Collector.Kafka, obs)
		default:
			return nil, errors.Errorf("unknown collector type %q", cfg.Collector.Type)
		}
	}

	dial := overrides.dialer
	if dial == nil {
		switch cfg.Storage.Backend {
		case config.BackendPostgres, "":
			dial = storage.NewSQLDialer(cfg.Storage.SQL)
		case config.BackendInflux:
			dial = storage.NewInfluxDialer(cfg.Storage.Influx)
		default:
			return nil, errors.Errorf("unknown storage backend %q", cfg.Storage.Backend)
		}
	}

	sig := control.NewSignals()
	pool, err := pipeline.NewPool(cfg.Workers, q, dial, router.New(), sig, obs)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runtime{
		cfg:       cfg,
		sig:       sig,
		obs:       obs,
		queue:     q,
		collector: col,
		ingress:   pipeline.NewIngress(q, cfg.Policy, obs, overrides.taps...),
		pool:      pool,
		metrics:   metrics,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Publish hands one item to the pipeline from an external producer. With
// the block policy it waits for room until the runtime stops.
func (r *Runtime) Publish(item WorkItem) error {
	if item == nil {
		return errors.New("nil work item")
	}
	if !r.ingress.Push(r.ctx, item) {
		return ErrQueueFull
	}
	return nil
}

// Stop asks every worker to finish its current item and return.
func (r *Runtime) Stop() {
	r.sig.Exit.Set()
}

// Run starts the pipeline and blocks until ctx is cancelled, Stop is called
// or the pool gives up. Workers start draining the queue once all of them
// have been created.
func (r *Runtime) Run(ctx context.Context) error {
	defer r.cancel()

	ctx, cancel := r.sig.ExitContext(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := r.pool.Run(gctx)
		// a closed queue stops the pool without Exit
		r.sig.Exit.Set()
		return err
	})
	g.Go(func() error {
		if _, err := r.pool.Workers(gctx); err != nil {
			return nil
		}
		r.sig.Start.Set()
		r.obs.LogInfo("runtime_started",
			ports.Field{Key: "workers", Value: r.cfg.Workers.Workers},
			ports.Field{Key: "parallel", Value: r.cfg.Workers.Parallel})
		return nil
	})
	if r.collector != nil {
		g.Go(func() error { return r.ingress.Run(gctx, r.collector) })
	}
	g.Go(func() error {
		r.recordGauges(gctx, time.Second)
		return nil
	})

	srv := r.startMetrics(g)

	<-gctx.Done()
	var result *multierror.Error
	if srv != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			result = multierror.Append(result, errors.Wrap(err, "metrics server shutdown"))
		}
		cancelShutdown()
	}
	r.queue.Close()

	if err := g.Wait(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func (r *Runtime) startMetrics(g *errgroup.Group) *http.Server {
	if r.cfg.Metrics.Addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.metrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if r.sig.Exit.IsSet() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("stopping"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              r.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.obs.LogError("metrics_server_exited", err)
			return errors.Wrap(err, "metrics server")
		}
		return nil
	})
	return srv
}

func (r *Runtime) recordGauges(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.obs.SetGauge(ports.MetricQueueLength, float64(r.queue.Len()))
		}
	}
}
