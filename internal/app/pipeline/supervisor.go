package pipeline

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/PFigs/backend-client/internal/app/control"
	"github.com/PFigs/backend-client/internal/ports"
)

// Supervisor turns any worker death into a pool-wide shutdown.
type Supervisor struct {
	workers  []*Worker
	sig      control.Signals
	interval time.Duration
	obs      ports.Observability
}

func NewSupervisor(workers []*Worker, sig control.Signals, interval time.Duration, obs ports.Observability) *Supervisor {
	return &Supervisor{workers: workers, sig: sig, interval: interval, obs: obs}
}

// Run polls worker liveness every interval. It returns once Exit is set or
// every worker has stopped cleanly; the error names the first worker that
// died while the pool was running.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-s.sig.Exit.Done():
			return nil
		case <-ctx.Done():
			return nil
		}
		if s.sig.Exit.IsSet() {
			return nil
		}

		alive := 0
		for _, w := range s.workers {
			if w.Alive() {
				alive++
				continue
			}
			if err := w.Err(); err != nil {
				s.obs.LogCritical("worker_died", err, ports.Field{Key: "worker", Value: w.ID()})
				s.obs.IncCounter(ports.MetricWorkerDeaths, 1)
				s.sig.Exit.Set()
				return errors.Wrapf(err, "worker %d died", w.ID())
			}
		}
		s.obs.SetGauge(ports.MetricWorkersAlive, float64(alive))
		if alive == 0 {
			return nil
		}
	}
}
