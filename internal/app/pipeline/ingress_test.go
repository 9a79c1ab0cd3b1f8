package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PFigs/backend-client/internal/domain"
	"github.com/PFigs/backend-client/internal/ports"
)

func TestEnqueueWithPolicyBlock(t *testing.T) {
	queue := &mockQueue{}
	queue.failures = 1

	pol := ports.Policy{
		OnQueueFull: "block",
		IdleSleep:   time.Millisecond,
	}
	obs := newStubObs()

	if ok := enqueueWithPolicy(context.Background(), queue, &domain.Advertiser{}, pol, obs); !ok {
		t.Fatalf("expected enqueue to eventually succeed")
	}
	if queue.calls != 2 {
		t.Fatalf("expected two enqueue attempts, got %d", queue.calls)
	}
}

func TestEnqueueWithPolicyBlockHonoursContext(t *testing.T) {
	queue := &mockQueue{failAlways: true}
	pol := ports.Policy{OnQueueFull: "block", IdleSleep: time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if ok := enqueueWithPolicy(ctx, queue, &domain.Advertiser{}, pol, newStubObs()); ok {
		t.Fatalf("expected blocked enqueue to give up when the context ends")
	}
}

func TestEnqueueWithPolicyDrop(t *testing.T) {
	queue := &mockQueue{failAlways: true}
	pol := ports.Policy{
		OnQueueFull: "drop",
	}
	obs := newStubObs()

	if ok := enqueueWithPolicy(context.Background(), queue, &domain.Advertiser{}, pol, obs); ok {
		t.Fatalf("expected enqueueWithPolicy to fail")
	}
	if len(obs.errorsLogged()) == 0 {
		t.Fatalf("expected drop to log an error")
	}
}

func TestEnqueueWithPolicyUnknown(t *testing.T) {
	queue := &mockQueue{failAlways: true}
	obs := newStubObs()

	if ok := enqueueWithPolicy(context.Background(), queue, &domain.Advertiser{}, ports.Policy{OnQueueFull: "spill"}, obs); ok {
		t.Fatalf("expected unknown policy to reject")
	}
	if len(obs.errorsLogged()) != 1 {
		t.Fatalf("expected one logged error, got %d", len(obs.errorsLogged()))
	}
}

func TestIngressPushFeedsTapsAndCounts(t *testing.T) {
	queue := &mockQueue{}
	obs := newStubObs()

	var tapped []domain.Kind
	in := NewIngress(queue, ports.Policy{OnQueueFull: "drop"}, obs, func(item domain.WorkItem) {
		tapped = append(tapped, item.Kind())
	})

	if !in.Push(context.Background(), &domain.BootDiagnostics{}) {
		t.Fatalf("expected push to succeed")
	}
	queue.failAlways = true
	if in.Push(context.Background(), &domain.TestNW{}) {
		t.Fatalf("expected push to a full queue to be dropped")
	}
	if in.Push(context.Background(), nil) {
		t.Fatalf("expected nil item to be ignored")
	}

	if len(tapped) != 2 || tapped[0] != domain.KindBootDiagnostics || tapped[1] != domain.KindTestNW {
		t.Fatalf("unexpected tapped kinds %v", tapped)
	}
	if got := obs.counter(ports.MetricItemsReceived); got != 2 {
		t.Fatalf("expected 2 received, got %v", got)
	}
	if got := obs.counter(ports.MetricQueueDropped); got != 1 {
		t.Fatalf("expected 1 dropped, got %v", got)
	}
}

func TestIngressRunForwardsCollectorOutput(t *testing.T) {
	queue := &mockQueue{}
	col := &stubCollector{items: []domain.WorkItem{&domain.Advertiser{}, &domain.NodeDiagnostics{}}}
	in := NewIngress(queue, ports.Policy{MaxQueueLen: 4, OnQueueFull: "drop"}, newStubObs())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- in.Run(ctx, col) }()

	waitFor(t, time.Second, func() bool { return queue.accepted.Load() == 2 })
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !col.stopped.Load() {
		t.Fatalf("expected collector to be stopped")
	}
}

func TestIngressRunStartFailure(t *testing.T) {
	col := &stubCollector{startErr: errors.New("broker unreachable")}
	in := NewIngress(&mockQueue{}, ports.Policy{}, newStubObs())

	if err := in.Run(context.Background(), col); err == nil {
		t.Fatalf("expected start error")
	}
}

type mockQueue struct {
	failures   int32
	failAlways bool
	calls      int
	accepted   atomic.Int32
}

func (m *mockQueue) Enqueue(domain.WorkItem) bool {
	m.calls++
	if m.failAlways {
		return false
	}
	if atomic.LoadInt32(&m.failures) > 0 {
		atomic.AddInt32(&m.failures, -1)
		return false
	}
	m.accepted.Add(1)
	return true
}

func (m *mockQueue) Dequeue(time.Duration) (domain.WorkItem, error) { return nil, ports.ErrQueueClosed }
func (m *mockQueue) Len() int                                       { return 0 }
func (m *mockQueue) Close()                                         {}

type stubCollector struct {
	items    []domain.WorkItem
	startErr error
	stopped  atomic.Bool
}

func (c *stubCollector) Start(out chan<- domain.WorkItem) error {
	if c.startErr != nil {
		return c.startErr
	}
	go func() {
		for _, item := range c.items {
			out <- item
		}
	}()
	return nil
}

func (c *stubCollector) Stop() error {
	c.stopped.Store(true)
	return nil
}

type stubObs struct {
	mu       sync.Mutex
	errors   []error
	counters map[string]float64
	discards []domain.WorkItem
	messages []string
}

func newStubObs() *stubObs {
	return &stubObs{counters: make(map[string]float64)}
}

func (m *stubObs) LogInfo(msg string, _ ...ports.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
}

func (m *stubObs) LogWarn(msg string, _ error, _ ...ports.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
}

func (m *stubObs) LogError(msg string, err error, _ ...ports.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	m.errors = append(m.errors, err)
}

func (m *stubObs) LogCritical(msg string, err error, _ ...ports.Field) {
	m.LogError(msg, err)
}

func (m *stubObs) IncCounter(name string, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] += v
}

func (m *stubObs) ObserveLatency(string, float64) {}
func (m *stubObs) SetGauge(string, float64)       {}

func (m *stubObs) RecordDiscard(item domain.WorkItem, _ error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discards = append(m.discards, item)
}

func (m *stubObs) counter(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

func (m *stubObs) errorsLogged() []error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]error(nil), m.errors...)
}

func (m *stubObs) discarded() []domain.WorkItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.WorkItem(nil), m.discards...)
}

func (m *stubObs) logged(msg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, got := range m.messages {
		if got == msg {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
