package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/PFigs/backend-client/internal/domain"
	"github.com/PFigs/backend-client/internal/ports"
)

// Tap observes every item accepted by the ingress before it is queued.
type Tap func(domain.WorkItem)

// Ingress moves items from producers into the shared queue according to
// the queue-full policy.
type Ingress struct {
	queue ports.WorkQueue
	pol   ports.Policy
	obs   ports.Observability
	taps  []Tap
}

func NewIngress(q ports.WorkQueue, pol ports.Policy, obs ports.Observability, taps ...Tap) *Ingress {
	return &Ingress{queue: q, pol: pol, obs: obs, taps: taps}
}

// Push hands one item to the taps and the queue. It reports whether the
// item was queued.
func (in *Ingress) Push(ctx context.Context, item domain.WorkItem) bool {
	if item == nil {
		return false
	}
	in.obs.IncCounter(ports.MetricItemsReceived, 1)
	for _, tap := range in.taps {
		tap(item)
	}

	ok := enqueueWithPolicy(ctx, in.queue, item, in.pol, in.obs)
	if !ok {
		in.obs.IncCounter(ports.MetricQueueDropped, 1)
	}
	in.obs.SetGauge(ports.MetricQueueLength, float64(in.queue.Len()))
	return ok
}

// Run starts the collector and forwards what it emits until ctx ends.
func (in *Ingress) Run(ctx context.Context, col ports.Collector) error {
	size := in.pol.MaxQueueLen
	if size <= 0 {
		size = 1
	}
	ch := make(chan domain.WorkItem, size)

	if err := col.Start(ch); err != nil {
		return errors.Wrap(err, "start collector")
	}

	for {
		select {
		case <-ctx.Done():
			if err := col.Stop(); err != nil {
				return errors.Wrap(err, "stop collector")
			}
			return nil
		case item := <-ch:
			in.Push(ctx, item)
		}
	}
}

func enqueueWithPolicy(ctx context.Context, q ports.WorkQueue, item domain.WorkItem, pol ports.Policy, obs ports.Observability) bool {
	sleep := pol.IdleSleep
	if sleep <= 0 {
		sleep = 5 * time.Millisecond
	}

	for {
		if ok := q.Enqueue(item); ok {
			return true
		}

		switch pol.OnQueueFull {
		case "block":
			select {
			case <-time.After(sleep):
			case <-ctx.Done():
				obs.LogWarn("queue_full_abandoned", ctx.Err())
				return false
			}
		case "drop", "reject":
			obs.LogError("queue_full_drop", fmt.Errorf("queue length exceeded capacity %d", pol.MaxQueueLen),
				ports.Field{Key: "kind", Value: item.Kind().String()})
			return false
		default:
			obs.LogError("queue_policy_invalid", fmt.Errorf("policy=%s", pol.OnQueueFull))
			return false
		}
	}
}
