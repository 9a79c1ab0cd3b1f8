package pipeline

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"

	"github.com/PFigs/backend-client/internal/app/control"
	"github.com/PFigs/backend-client/internal/app/router"
	"github.com/PFigs/backend-client/internal/domain"
	"github.com/PFigs/backend-client/internal/ports"
)

// State is a worker's position in its lifecycle.
type State int32

const (
	StateInit State = iota
	StateConnected
	StateDispatching
	StateReconnecting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateConnected:
		return "connected"
	case StateDispatching:
		return "dispatching"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Worker owns one backend connection and drains the shared queue through
// the router until Exit is set or the queue is torn down.
type Worker struct {
	id     int
	cfg    PoolConfig
	queue  ports.WorkQueue
	dial   ports.Dialer
	router *router.Router
	sig    control.Signals
	obs    ports.Observability

	backend ports.Backend
	state   atomic.Int32
	done    chan struct{}
	err     error
}

func newWorker(id int, cfg PoolConfig, q ports.WorkQueue, dial ports.Dialer, r *router.Router, sig control.Signals, obs ports.Observability, backend ports.Backend) *Worker {
	return &Worker{
		id:      id,
		cfg:     cfg,
		queue:   q,
		dial:    dial,
		router:  r,
		sig:     sig,
		obs:     obs,
		backend: backend,
		done:    make(chan struct{}),
	}
}

func (w *Worker) ID() int { return w.id }

func (w *Worker) State() State { return State(w.state.Load()) }

// Alive is false once Run has returned.
func (w *Worker) Alive() bool {
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// Done is closed when the worker stops.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Err is the reason the worker stopped; nil for a clean stop. Only valid
// after Done is closed.
func (w *Worker) Err() error { return w.err }

func (w *Worker) setState(s State) { w.state.Store(int32(s)) }

func (w *Worker) fields(extra ...ports.Field) []ports.Field {
	return append([]ports.Field{{Key: "worker", Value: w.id}}, extra...)
}

// Run executes the dequeue-dispatch loop. It returns nil on a clean stop.
func (w *Worker) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("worker %d panicked: %v", w.id, r)
		}
		if w.backend != nil {
			if cerr := w.backend.Close(); cerr != nil {
				w.obs.LogWarn("backend_close_failed", cerr, w.fields()...)
			}
			w.backend = nil
		}
		w.setState(StateStopped)
		w.err = err
		close(w.done)
	}()

	if w.backend == nil {
		b, err := w.dial(ctx)
		if err != nil {
			w.obs.LogCritical("initial_connect_failed", err, w.fields()...)
			w.sig.Exit.Set()
			return errors.Wrapf(err, "worker %d: connect", w.id)
		}
		w.backend = b
	}
	w.setState(StateConnected)
	w.obs.LogInfo("worker_connected", w.fields()...)

	if !w.sig.WaitStart(ctx) {
		return nil
	}

	for !w.sig.Exit.IsSet() {
		item, err := w.queue.Dequeue(w.cfg.DequeueTimeout)
		switch {
		case err == nil:
		case errors.Is(err, ports.ErrDequeueTimeout):
			continue
		case errors.Is(err, ports.ErrQueueClosed):
			w.obs.LogInfo("queue_drained", w.fields()...)
			return nil
		default:
			w.obs.LogError("dequeue_failed", err, w.fields()...)
			continue
		}
		w.handle(ctx, item)
	}
	return nil
}

// handle dispatches one item. Cancellation is only observed between items,
// so the write runs on a context that ignores ctx's cancellation.
func (w *Worker) handle(ctx context.Context, item domain.WorkItem) {
	ctx = context.WithoutCancel(ctx)
	w.setState(StateDispatching)

	if err := w.probe(ctx); err != nil {
		w.obs.LogWarn("backend_probe_failed", err, w.fields()...)
		if err := w.reconnect(ctx); err != nil {
			w.obs.LogWarn("reconnect_aborted", err, w.fields(ports.Field{Key: "kind", Value: item.Kind().String()})...)
			w.obs.RecordDiscard(item, err)
			return
		}
		w.setState(StateDispatching)
	}

	start := time.Now()
	if err := w.router.Route(ctx, w.backend, item); err != nil {
		w.obs.LogError("dispatch_failed", err, w.fields(
			ports.Field{Key: "kind", Value: item.Kind().String()},
			ports.Field{Key: "node", Value: item.Meta().Address()},
		)...)
		w.obs.RecordDiscard(item, err)
		return
	}
	w.obs.ObserveLatency(ports.MetricDispatchLatency, time.Since(start).Seconds())
	w.obs.IncCounter(ports.MetricItemsDispatched, 1)
}

func (w *Worker) probe(ctx context.Context) error {
	if w.backend == nil {
		return errors.New("no backend connection")
	}
	if w.cfg.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.ProbeTimeout)
		defer cancel()
	}
	return w.backend.Ping(ctx)
}

// reconnect drops the current connection and dials again on a fixed
// interval until it succeeds or Exit is set.
func (w *Worker) reconnect(ctx context.Context) error {
	w.setState(StateReconnecting)
	if w.backend != nil {
		_ = w.backend.Close()
		w.backend = nil
	}

	rctx, cancel := w.sig.ExitContext(ctx)
	defer cancel()

	attempt := 0
	err := retry.Do(
		func() error {
			attempt++
			w.obs.IncCounter(ports.MetricReconnectAttempts, 1)
			b, err := w.dial(rctx)
			if err != nil {
				return err
			}
			w.backend = b
			return nil
		},
		retry.Context(rctx),
		retry.Attempts(math.MaxUint32),
		retry.LastErrorOnly(true),
		retry.Delay(w.cfg.ReconnectInterval),
		retry.DelayType(retry.FixedDelay),
		retry.OnRetry(func(n uint, err error) {
			w.obs.LogWarn("reconnect_failed", err, w.fields(ports.Field{Key: "attempt", Value: n + 1})...)
		}),
	)
	if err != nil {
		return errors.Wrapf(err, "worker %d: reconnect", w.id)
	}
	w.obs.LogInfo("backend_reconnected", w.fields(ports.Field{Key: "attempts", Value: attempt})...)
	return nil
}
