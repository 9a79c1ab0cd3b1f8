// Package inventory counts mesh nodes seen during a bounded measurement
// round and answers whether the round has converged on the configured
// coverage, firmware (OTAP) or observation frequency targets.
package inventory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/PFigs/backend-client/internal/domain"
)

// ErrNodeNotFound is returned when an address was never added in the current round.
var ErrNodeNotFound = errors.New("inventory: node not found")

// Config describes one inventory session. A nil TargetFrequency means the
// frequency target is unbounded and can never be reached.
type Config struct {
	TargetNodes        []domain.NodeAddress
	TargetOTAPSequence *int
	TargetFrequency    *int
	StartDelay         time.Duration
	MaximumDuration    time.Duration
}

func (c Config) validate() error {
	if c.StartDelay < 0 {
		return errors.Errorf("start delay must be >= 0, got %s", c.StartDelay)
	}
	if c.MaximumDuration <= 0 {
		return errors.Errorf("maximum duration must be > 0, got %s", c.MaximumDuration)
	}
	return nil
}

type Option func(*Tracker)

func WithClock(c clock.Clock) Option {
	return func(t *Tracker) {
		if c != nil {
			t.clock = c
		}
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.log = l
		}
	}
}

// Tracker holds per-node observation history for one round at a time.
// All methods are safe for concurrent use.
type Tracker struct {
	mu    sync.Mutex
	clock clock.Clock
	log   logrus.FieldLogger

	targets         map[domain.NodeAddress]struct{}
	targetOTAP      *int
	targetFrequency *int
	startDelay      time.Duration
	maximumDuration time.Duration

	records  map[domain.NodeAddress]*NodeRecord
	sequence int
	start    time.Time
	deadline time.Time
	finish   time.Time
}

func New(cfg Config, opts ...Option) (*Tracker, error) {
	if err := cfg.validate(); err != nil {
		return nil, errors.WithMessage(err, "inventory config")
	}

	t := &Tracker{
		clock:           clock.RealClock{},
		log:             logrus.StandardLogger(),
		targets:         make(map[domain.NodeAddress]struct{}, len(cfg.TargetNodes)),
		startDelay:      cfg.StartDelay,
		maximumDuration: cfg.MaximumDuration,
		records:         make(map[domain.NodeAddress]*NodeRecord),
	}
	for _, addr := range cfg.TargetNodes {
		t.targets[addr] = struct{}{}
	}
	if cfg.TargetOTAPSequence != nil {
		v := *cfg.TargetOTAPSequence
		t.targetOTAP = &v
	}
	if cfg.TargetFrequency != nil {
		v := *cfg.TargetFrequency
		t.targetFrequency = &v
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t, nil
}

// Reset drops every record and the session timestamps.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.records = make(map[domain.NodeAddress]*NodeRecord)
	t.start = time.Time{}
	t.deadline = time.Time{}
	t.finish = time.Time{}
}

// Wait opens the round window: start is now plus the start delay and the
// deadline is start plus the maximum duration. It blocks until start.
func (t *Tracker) Wait(ctx context.Context) error {
	t.mu.Lock()
	now := t.clock.Now()
	t.start = now.Add(t.startDelay)
	t.deadline = t.start.Add(t.maximumDuration)
	t.finish = time.Time{}
	delay := t.start.Sub(now)
	log := t.logger()
	t.mu.Unlock()

	log.Debugf("waiting %s to start", delay)
	if delay <= 0 {
		return nil
	}

	timer := t.clock.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Add records one observation of address. Either sample slice may be empty.
func (t *Tracker) Add(address domain.NodeAddress, rss []float64, otap []int, timestamp time.Time) {
	event := newEvent(rss, otap)

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[address]
	if !ok {
		rec = &NodeRecord{Address: address}
		t.records[address] = rec
		t.logger().Debugf("adding node: %d / %s", address, event)
	}
	rec.Count++
	rec.LastSeen = timestamp
	rec.Events = append(rec.Events, event)
}

func (t *Tracker) Remove(address domain.NodeAddress) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.records[address]; !ok {
		return errors.Wrapf(ErrNodeNotFound, "remove %d", address)
	}
	delete(t.records, address)
	return nil
}

// Node returns a copy of the record for address.
func (t *Tracker) Node(address domain.NodeAddress) (NodeRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[address]
	if !ok {
		return NodeRecord{}, errors.Wrapf(ErrNodeNotFound, "node %d", address)
	}
	return rec.clone(), nil
}

// Nodes returns the observed addresses in ascending order.
func (t *Tracker) Nodes() []domain.NodeAddress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return sortedKeys(t.records)
}

func (t *Tracker) TargetNodes() []domain.NodeAddress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return sortedKeys(t.targets)
}

func (t *Tracker) IsOutOfTime() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	left := t.deadline.Sub(t.clock.Now())
	t.logger().Debugf("time left %s ...", left)
	return left <= 0
}

// IsComplete reports plain coverage: every target node was observed. It is
// never true when a frequency or OTAP target is configured.
func (t *Tracker) IsComplete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.targets) == 0 || t.targetFrequency != nil || t.targetOTAP != nil {
		return false
	}
	missing := t.missingLocked(func(addr domain.NodeAddress) bool {
		_, seen := t.records[addr]
		return seen
	})
	if len(missing) > 0 {
		t.logger().Errorf("elapsed %s - missing %v", t.elapsedLocked(), missing)
		return false
	}
	return true
}

// IsOTAPed reports whether every target node's most recent event carries the
// target OTAP sequence as its minimum or maximum. Older events are ignored.
func (t *Tracker) IsOTAPed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.targets) == 0 || t.targetOTAP == nil {
		return false
	}
	missing := t.missingLocked(t.isOTAPedLocked)
	if len(missing) > 0 {
		t.logger().Errorf("elapsed %s - otap missing %v", t.elapsedLocked(), missing)
		return false
	}
	return true
}

// OTAPedNodes lists observed nodes whose latest event matches the OTAP target.
func (t *Tracker) OTAPedNodes() []domain.NodeAddress {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []domain.NodeAddress
	for _, addr := range sortedKeys(t.records) {
		if t.isOTAPedLocked(addr) {
			out = append(out, addr)
		}
	}
	return out
}

func (t *Tracker) IsFrequencyReached() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.targets) == 0 || t.targetFrequency == nil {
		return false
	}
	for addr := range t.targets {
		value := 0
		if rec, ok := t.records[addr]; ok {
			value = t.valueLocked(rec)
		}
		if value < *t.targetFrequency {
			return false
		}
	}
	return true
}

// NodeFrequency is the frequency value reported for one node.
type NodeFrequency struct {
	Address domain.NodeAddress
	Value   int
}

// Frequency reports the observation count of each node, or the latest OTAP
// maximum when an OTAP target is set. Target nodes never seen report 0.
func (t *Tracker) Frequency() []NodeFrequency {
	t.mu.Lock()
	defer t.mu.Unlock()

	values := make(map[domain.NodeAddress]int, len(t.records)+len(t.targets))
	for addr, rec := range t.records {
		values[addr] = t.valueLocked(rec)
	}
	for addr := range t.targets {
		if _, ok := values[addr]; !ok {
			values[addr] = 0
		}
	}

	out := make([]NodeFrequency, 0, len(values))
	for _, addr := range sortedKeys(values) {
		out = append(out, NodeFrequency{Address: addr, Value: values[addr]})
	}
	return out
}

// FrequencyBucket groups the nodes sharing one frequency value.
type FrequencyBucket struct {
	Label string
	Value int
	Nodes []domain.NodeAddress
}

// FrequencyByValue groups observed nodes by frequency value, ascending.
func (t *Tracker) FrequencyByValue() []FrequencyBucket {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bucketsLocked()
}

func (t *Tracker) bucketsLocked() []FrequencyBucket {
	groups := make(map[int][]domain.NodeAddress)
	for _, addr := range sortedKeys(t.records) {
		value := t.valueLocked(t.records[addr])
		groups[value] = append(groups[value], addr)
	}

	values := make([]int, 0, len(groups))
	for v := range groups {
		values = append(values, v)
	}
	sort.Ints(values)

	out := make([]FrequencyBucket, 0, len(values))
	for _, v := range values {
		out = append(out, FrequencyBucket{
			Label: fmt.Sprintf("frequency_%03d", v),
			Value: v,
			Nodes: groups[v],
		})
	}
	return out
}

// Difference is the symmetric difference between observed and target nodes.
func (t *Tracker) Difference() []domain.NodeAddress {
	t.mu.Lock()
	defer t.mu.Unlock()

	diff := make(map[domain.NodeAddress]struct{})
	for addr := range t.records {
		if _, ok := t.targets[addr]; !ok {
			diff[addr] = struct{}{}
		}
	}
	for addr := range t.targets {
		if _, ok := t.records[addr]; !ok {
			diff[addr] = struct{}{}
		}
	}
	return sortedKeys(diff)
}

func (t *Tracker) Start() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.start
}

func (t *Tracker) Deadline() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deadline
}

// Finish marks the end of the round. Later calls return the first value.
func (t *Tracker) Finish() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finish.IsZero() {
		t.finish = t.clock.Now()
	}
	return t.finish
}

// Elapsed is the time since start, frozen once Finish was called.
func (t *Tracker) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.elapsedLocked()
}

// Until is the time left before the deadline; negative once it has passed.
func (t *Tracker) Until() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deadline.Sub(t.clock.Now())
}

func (t *Tracker) Sequence() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sequence
}

func (t *Tracker) SetSequence(seq int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sequence = seq
}

func (t *Tracker) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	buckets := t.bucketsLocked()
	parts := make([]string, 0, len(buckets))
	for _, b := range buckets {
		parts = append(parts, fmt.Sprintf("%s: %v", b.Label, b.Nodes))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func (t *Tracker) logger() logrus.FieldLogger {
	return t.log.WithField("sequence", t.sequence)
}

func (t *Tracker) elapsedLocked() time.Duration {
	if t.start.IsZero() {
		return 0
	}
	end := t.clock.Now()
	if !t.finish.IsZero() {
		end = t.finish
	}
	return end.Sub(t.start)
}

func (t *Tracker) valueLocked(rec *NodeRecord) int {
	if t.targetOTAP == nil {
		return rec.Count
	}
	if ev, ok := rec.latest(); ok && ev.OTAPRange != nil {
		return ev.OTAPRange.Max
	}
	return 0
}

func (t *Tracker) isOTAPedLocked(addr domain.NodeAddress) bool {
	rec, ok := t.records[addr]
	if !ok || t.targetOTAP == nil {
		return false
	}
	ev, ok := rec.latest()
	if !ok || ev.OTAPRange == nil {
		return false
	}
	return ev.OTAPRange.Min == *t.targetOTAP || ev.OTAPRange.Max == *t.targetOTAP
}

func (t *Tracker) missingLocked(ok func(domain.NodeAddress) bool) []domain.NodeAddress {
	var missing []domain.NodeAddress
	for _, addr := range sortedKeys(t.targets) {
		if !ok(addr) {
			missing = append(missing, addr)
		}
	}
	return missing
}

func sortedKeys[V any](m map[domain.NodeAddress]V) []domain.NodeAddress {
	out := make([]domain.NodeAddress, 0, len(m))
	for addr := range m {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
