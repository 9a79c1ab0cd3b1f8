package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/PFigs/backend-client/internal/domain"
)

var epoch = time.Date(2020, 6, 1, 12, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

func newTracker(t *testing.T, cfg Config) (*Tracker, *clocktesting.FakeClock, *logtest.Hook) {
	t.Helper()
	if cfg.MaximumDuration == 0 {
		cfg.MaximumDuration = time.Minute
	}
	fc := clocktesting.NewFakeClock(epoch)
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	tr, err := New(cfg, WithClock(fc), WithLogger(logger))
	require.NoError(t, err)
	return tr, fc, hook
}

func nodes(addrs ...domain.NodeAddress) []domain.NodeAddress { return addrs }

func TestNewRejectsEmptyWindow(t *testing.T) {
	_, err := New(Config{MaximumDuration: 0})
	assert.Error(t, err)

	_, err = New(Config{StartDelay: -time.Second, MaximumDuration: time.Second})
	assert.Error(t, err)
}

func TestCountMatchesAddCalls(t *testing.T) {
	tr, _, _ := newTracker(t, Config{})

	calls := map[domain.NodeAddress]int{1: 1, 2: 4, 3: 7}
	for addr, n := range calls {
		for i := 0; i < n; i++ {
			tr.Add(addr, []float64{-60}, nil, epoch.Add(time.Duration(i)*time.Second))
		}
	}

	for addr, n := range calls {
		rec, err := tr.Node(addr)
		require.NoError(t, err)
		assert.Equal(t, n, rec.Count, "node %d", addr)
		assert.Len(t, rec.Events, n)
		assert.Equal(t, epoch.Add(time.Duration(n-1)*time.Second), rec.LastSeen)
	}
	assert.Equal(t, nodes(1, 2, 3), tr.Nodes())
}

func TestEventShapeFollowsSuppliedFields(t *testing.T) {
	tr, _, _ := newTracker(t, Config{})

	tr.Add(1, []float64{-50, -52}, []int{3, 9, 5}, epoch)
	tr.Add(2, []float64{-70}, nil, epoch)
	tr.Add(3, nil, []int{4}, epoch)
	tr.Add(4, nil, []int{}, epoch)

	cases := []struct {
		addr  domain.NodeAddress
		shape Shape
	}{
		{1, ShapeRSSAndOTAP},
		{2, ShapeRSSOnly},
		{3, ShapeOTAPOnly},
		{4, ShapeEmpty},
	}
	for _, tc := range cases {
		rec, err := tr.Node(tc.addr)
		require.NoError(t, err)
		require.Len(t, rec.Events, 1)
		assert.Equal(t, tc.shape, rec.Events[0].Shape(), "node %d", tc.addr)
	}

	rec, _ := tr.Node(1)
	assert.Equal(t, &OTAPRange{Min: 3, Max: 9}, rec.Events[0].OTAPRange)

	rec, _ = tr.Node(2)
	assert.Nil(t, rec.Events[0].OTAPRange)
	assert.Nil(t, rec.Events[0].OTAP)

	rec, _ = tr.Node(4)
	assert.Nil(t, rec.Events[0].OTAPRange)
	assert.Nil(t, rec.Events[0].RSS)
}

func TestAddCopiesCallerSlices(t *testing.T) {
	tr, _, _ := newTracker(t, Config{})

	rss := []float64{-40}
	tr.Add(1, rss, nil, epoch)
	rss[0] = 0

	rec, _ := tr.Node(1)
	assert.Equal(t, []float64{-40}, rec.Events[0].RSS)
}

func TestRemoveUnknownNodeIsNotFound(t *testing.T) {
	tr, _, _ := newTracker(t, Config{})

	err := tr.Remove(5)
	assert.True(t, errors.Is(err, ErrNodeNotFound), "got %v", err)

	tr.Add(5, nil, nil, epoch)
	require.NoError(t, tr.Remove(5))
	assert.Empty(t, tr.Nodes())

	_, err = tr.Node(5)
	assert.True(t, errors.Is(err, ErrNodeNotFound), "got %v", err)
}

func TestDifferenceIsSymmetric(t *testing.T) {
	tr, _, _ := newTracker(t, Config{TargetNodes: nodes(1, 2, 3)})
	assert.Equal(t, nodes(1, 2, 3), tr.Difference())

	tr.Add(2, nil, nil, epoch)
	tr.Add(9, nil, nil, epoch)
	assert.Equal(t, nodes(1, 3, 9), tr.Difference())

	tr.Add(1, nil, nil, epoch)
	tr.Add(3, nil, nil, epoch)
	assert.Equal(t, nodes(9), tr.Difference())

	require.NoError(t, tr.Remove(9))
	assert.Empty(t, tr.Difference())
}

func TestDifferenceWithoutTargets(t *testing.T) {
	tr, _, _ := newTracker(t, Config{})
	tr.Add(4, nil, nil, epoch)
	tr.Add(2, nil, nil, epoch)
	assert.Equal(t, nodes(2, 4), tr.Difference())
}

func TestIsCompletePlainCoverage(t *testing.T) {
	tr, _, hook := newTracker(t, Config{TargetNodes: nodes(1, 2)})

	tr.Add(1, nil, nil, epoch)
	assert.False(t, tr.IsComplete())
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Contains(t, hook.LastEntry().Message, "missing [2]")

	tr.Add(2, nil, nil, epoch)
	tr.Add(3, nil, nil, epoch)
	assert.True(t, tr.IsComplete())
}

func TestIsCompleteDisqualifiedByFiniteFrequency(t *testing.T) {
	tr, _, _ := newTracker(t, Config{
		TargetNodes:     nodes(1, 2),
		TargetFrequency: intPtr(5),
	})
	tr.Add(1, nil, nil, epoch)
	tr.Add(2, nil, nil, epoch)

	assert.False(t, tr.IsComplete())
}

func TestIsCompleteNeedsTargetsAndNoOTAP(t *testing.T) {
	tr, _, _ := newTracker(t, Config{})
	tr.Add(1, nil, nil, epoch)
	assert.False(t, tr.IsComplete())

	tr, _, _ = newTracker(t, Config{TargetNodes: nodes(1), TargetOTAPSequence: intPtr(3)})
	tr.Add(1, nil, []int{3}, epoch)
	assert.False(t, tr.IsComplete())
}

func TestIsOTAPedMatchesMinOrMax(t *testing.T) {
	tr, _, _ := newTracker(t, Config{
		TargetNodes:        nodes(1, 2),
		TargetOTAPSequence: intPtr(7),
	})

	tr.Add(1, nil, []int{2, 7}, epoch)
	assert.False(t, tr.IsOTAPed())

	tr.Add(2, []float64{-80}, []int{7, 12}, epoch)
	assert.True(t, tr.IsOTAPed())
	assert.Equal(t, nodes(1, 2), tr.OTAPedNodes())
}

func TestIsOTAPedUsesLatestEventOnly(t *testing.T) {
	tr, _, _ := newTracker(t, Config{
		TargetNodes:        nodes(1),
		TargetOTAPSequence: intPtr(7),
	})

	tr.Add(1, nil, []int{7}, epoch)
	assert.True(t, tr.IsOTAPed())

	tr.Add(1, []float64{-60}, nil, epoch.Add(time.Second))
	assert.False(t, tr.IsOTAPed())

	tr.Add(1, nil, []int{6}, epoch.Add(2*time.Second))
	assert.False(t, tr.IsOTAPed())
}

func TestIsOTAPedWithoutTarget(t *testing.T) {
	tr, _, _ := newTracker(t, Config{TargetNodes: nodes(1)})
	tr.Add(1, nil, []int{7}, epoch)
	assert.False(t, tr.IsOTAPed())
}

func TestIsFrequencyReachedCounts(t *testing.T) {
	tr, _, _ := newTracker(t, Config{
		TargetNodes:     nodes(1, 2),
		TargetFrequency: intPtr(2),
	})

	tr.Add(1, nil, nil, epoch)
	tr.Add(1, nil, nil, epoch)
	tr.Add(3, nil, nil, epoch)
	assert.False(t, tr.IsFrequencyReached(), "node 2 was never seen")

	tr.Add(2, nil, nil, epoch)
	assert.False(t, tr.IsFrequencyReached())

	tr.Add(2, nil, nil, epoch)
	assert.True(t, tr.IsFrequencyReached())
}

func TestIsFrequencyReachedUsesOTAPMax(t *testing.T) {
	tr, _, _ := newTracker(t, Config{
		TargetNodes:        nodes(1),
		TargetOTAPSequence: intPtr(9),
		TargetFrequency:    intPtr(5),
	})

	tr.Add(1, nil, []int{1, 4}, epoch)
	assert.False(t, tr.IsFrequencyReached())

	tr.Add(1, nil, []int{3, 6}, epoch)
	assert.True(t, tr.IsFrequencyReached())
}

func TestIsFrequencyReachedUnboundedNeverSatisfied(t *testing.T) {
	tr, _, _ := newTracker(t, Config{TargetNodes: nodes(1)})
	for i := 0; i < 100; i++ {
		tr.Add(1, nil, nil, epoch)
	}
	assert.False(t, tr.IsFrequencyReached())
}

func TestFrequencyIsAscendingWithUnseenTargets(t *testing.T) {
	tr, _, _ := newTracker(t, Config{TargetNodes: nodes(2, 8)})

	tr.Add(5, nil, nil, epoch)
	tr.Add(5, nil, nil, epoch)
	tr.Add(1, nil, nil, epoch)
	tr.Add(2, nil, nil, epoch)

	assert.Equal(t, []NodeFrequency{
		{Address: 1, Value: 1},
		{Address: 2, Value: 1},
		{Address: 5, Value: 2},
		{Address: 8, Value: 0},
	}, tr.Frequency())
}

func TestFrequencyOTAPModeWithoutOTAPData(t *testing.T) {
	tr, _, _ := newTracker(t, Config{TargetOTAPSequence: intPtr(3)})

	tr.Add(1, []float64{-60}, nil, epoch)
	tr.Add(2, nil, []int{2, 3}, epoch)

	assert.Equal(t, []NodeFrequency{
		{Address: 1, Value: 0},
		{Address: 2, Value: 3},
	}, tr.Frequency())
}

func TestFrequencyByValueBuckets(t *testing.T) {
	tr, _, _ := newTracker(t, Config{})

	for addr, n := range map[domain.NodeAddress]int{1: 3, 2: 3, 3: 5} {
		for i := 0; i < n; i++ {
			tr.Add(addr, nil, nil, epoch)
		}
	}

	assert.Equal(t, []FrequencyBucket{
		{Label: "frequency_003", Value: 3, Nodes: nodes(1, 2)},
		{Label: "frequency_005", Value: 5, Nodes: nodes(3)},
	}, tr.FrequencyByValue())
	assert.Equal(t, "{frequency_003: [1 2], frequency_005: [3]}", tr.String())
}

func TestIsOutOfTimeBoundary(t *testing.T) {
	tr, fc, _ := newTracker(t, Config{MaximumDuration: 10 * time.Second})
	require.NoError(t, tr.Wait(context.Background()))

	deadline := tr.Deadline()
	assert.Equal(t, epoch.Add(10*time.Second), deadline)
	assert.True(t, deadline.After(tr.Start()))

	fc.SetTime(deadline.Add(-time.Second))
	assert.False(t, tr.IsOutOfTime())
	assert.Equal(t, time.Second, tr.Until())

	fc.SetTime(deadline)
	assert.True(t, tr.IsOutOfTime())

	fc.SetTime(deadline.Add(time.Hour))
	assert.True(t, tr.IsOutOfTime())
}

func TestWaitBlocksUntilStart(t *testing.T) {
	tr, fc, _ := newTracker(t, Config{StartDelay: 5 * time.Second, MaximumDuration: time.Minute})

	done := make(chan error, 1)
	go func() { done <- tr.Wait(context.Background()) }()

	require.Eventually(t, fc.HasWaiters, time.Second, time.Millisecond)
	select {
	case <-done:
		t.Fatal("wait returned before the start delay elapsed")
	default:
	}

	fc.Step(5 * time.Second)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("wait did not return after the start delay")
	}

	assert.Equal(t, epoch.Add(5*time.Second), tr.Start())
	assert.Equal(t, epoch.Add(65*time.Second), tr.Deadline())
}

func TestWaitHonoursContext(t *testing.T) {
	tr, _, _ := newTracker(t, Config{StartDelay: time.Hour, MaximumDuration: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, tr.Wait(ctx), context.Canceled)
}

func TestResetIsIdempotent(t *testing.T) {
	tr, _, _ := newTracker(t, Config{TargetNodes: nodes(1)})
	require.NoError(t, tr.Wait(context.Background()))
	tr.Add(1, nil, nil, epoch)

	tr.Reset()
	tr.Reset()

	assert.Empty(t, tr.Nodes())
	assert.True(t, tr.Start().IsZero())
	assert.True(t, tr.Deadline().IsZero())
	assert.Equal(t, nodes(1), tr.TargetNodes())
}

func TestFinishFreezesElapsed(t *testing.T) {
	tr, fc, _ := newTracker(t, Config{})
	require.NoError(t, tr.Wait(context.Background()))

	fc.Step(3 * time.Second)
	finish := tr.Finish()
	fc.Step(time.Minute)

	assert.Equal(t, finish, tr.Finish())
	assert.Equal(t, 3*time.Second, tr.Elapsed())
}

func TestSequenceIsLogged(t *testing.T) {
	tr, _, hook := newTracker(t, Config{})
	tr.SetSequence(4)
	tr.Add(1, nil, nil, epoch)

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, 4, hook.LastEntry().Data["sequence"])
	assert.Equal(t, 4, tr.Sequence())
}
