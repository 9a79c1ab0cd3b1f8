// Package campaign runs inventory rounds against the live item stream.
package campaign

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/PFigs/backend-client/internal/app/inventory"
	"github.com/PFigs/backend-client/internal/domain"
	"github.com/PFigs/backend-client/internal/ports"
)

type Config struct {
	Rounds       int           `yaml:"rounds"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

func (c *Config) ApplyDefaults() {
	if c.Rounds == 0 {
		c.Rounds = 1
	}
	if c.PollInterval == 0 {
		c.PollInterval = time.Second
	}
}

func (c Config) Validate() error {
	if c.Rounds < 1 {
		return errors.Errorf("rounds must be >= 1, got %d", c.Rounds)
	}
	if c.PollInterval <= 0 {
		return errors.New("poll_interval must be > 0")
	}
	return nil
}

// Report summarises one round.
type Report struct {
	Sequence         int
	Start            time.Time
	Elapsed          time.Duration
	Complete         bool
	OTAPed           bool
	FrequencyReached bool
	OutOfTime        bool
	Nodes            []domain.NodeAddress
	Difference       []domain.NodeAddress
	Buckets          []inventory.FrequencyBucket
}

// Converged is true when any of the round's targets was met.
func (r Report) Converged() bool {
	return r.Complete || r.OTAPed || r.FrequencyReached
}

type Option func(*Driver)

// WithClock sets the clock driving the poll ticker. It should be the same
// clock the tracker was built with.
func WithClock(c clock.WithTicker) Option {
	return func(d *Driver) {
		if c != nil {
			d.clock = c
		}
	}
}

// Driver feeds observations into a tracker and polls it until each round
// converges or runs out of time.
type Driver struct {
	tracker *inventory.Tracker
	cfg     Config
	obs     ports.Observability
	clock   clock.WithTicker
}

func NewDriver(tracker *inventory.Tracker, cfg Config, obs ports.Observability, opts ...Option) (*Driver, error) {
	if tracker == nil {
		return nil, errors.New("campaign: tracker is required")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.WithMessage(err, "campaign config")
	}
	d := &Driver{tracker: tracker, cfg: cfg, obs: obs, clock: clock.RealClock{}}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Observe records the nodes an item proves alive. Advertiser items report
// every neighbour they heard; boot diagnostics carry the scratchpad sequence.
func (d *Driver) Observe(item domain.WorkItem) {
	if item == nil {
		return
	}
	switch m := item.(type) {
	case *domain.Advertiser:
		for _, e := range m.Entries {
			ts := e.SeenAt
			if ts.IsZero() {
				ts = m.ReceivedAt
			}
			d.tracker.Add(e.Address, []float64{e.RSS}, nil, ts)
		}
	case *domain.BootDiagnostics:
		d.tracker.Add(m.SourceAddress, nil, []int{m.ScratchpadSequence}, m.ReceivedAt)
	default:
		h := item.Meta()
		d.tracker.Add(h.SourceAddress, nil, nil, h.ReceivedAt)
	}
}

// Run executes the configured rounds. Items received while a round waits
// for its start are dropped. A closed items channel ends the current round
// and the campaign.
func (d *Driver) Run(ctx context.Context, items <-chan domain.WorkItem) ([]Report, error) {
	reports := make([]Report, 0, d.cfg.Rounds)
	for seq := 1; seq <= d.cfg.Rounds; seq++ {
		d.tracker.Reset()
		d.tracker.SetSequence(seq)

		open, err := d.waitStart(ctx, items)
		if err != nil {
			return reports, err
		}
		report, open, err := d.round(ctx, items, open)
		if err != nil {
			return reports, err
		}
		reports = append(reports, report)
		if !open {
			break
		}
	}
	return reports, nil
}

func (d *Driver) waitStart(ctx context.Context, items <-chan domain.WorkItem) (bool, error) {
	started := make(chan error, 1)
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { started <- d.tracker.Wait(wctx) }()

	open := items != nil
	for {
		select {
		case err := <-started:
			if err != nil {
				return open, errors.Wrapf(err, "round %d", d.tracker.Sequence())
			}
			return open, nil
		case _, ok := <-items:
			if !ok {
				items = nil
				open = false
			}
		}
	}
}

func (d *Driver) round(ctx context.Context, items <-chan domain.WorkItem, open bool) (Report, bool, error) {
	if !open {
		items = nil
	}
	ticker := d.clock.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Report{}, open, errors.Wrapf(ctx.Err(), "round %d", d.tracker.Sequence())
		case item, ok := <-items:
			if !ok {
				return d.finish(), false, nil
			}
			d.Observe(item)
		case <-ticker.C():
			if d.converged() || d.tracker.IsOutOfTime() {
				return d.finish(), open, nil
			}
		}
	}
}

func (d *Driver) converged() bool {
	return d.tracker.IsComplete() || d.tracker.IsOTAPed() || d.tracker.IsFrequencyReached()
}

func (d *Driver) finish() Report {
	t := d.tracker
	t.Finish()
	r := Report{
		Sequence:         t.Sequence(),
		Start:            t.Start(),
		Elapsed:          t.Elapsed(),
		Complete:         t.IsComplete(),
		OTAPed:           t.IsOTAPed(),
		FrequencyReached: t.IsFrequencyReached(),
		OutOfTime:        t.IsOutOfTime(),
		Nodes:            t.Nodes(),
		Difference:       t.Difference(),
		Buckets:          t.FrequencyByValue(),
	}
	if d.obs != nil {
		d.obs.LogInfo("inventory_round_finished",
			ports.Field{Key: "sequence", Value: r.Sequence},
			ports.Field{Key: "elapsed", Value: r.Elapsed.String()},
			ports.Field{Key: "nodes", Value: len(r.Nodes)},
			ports.Field{Key: "converged", Value: r.Converged()},
			ports.Field{Key: "frequency", Value: t.String()},
		)
	}
	return r
}
