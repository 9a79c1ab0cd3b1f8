package router

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PFigs/backend-client/internal/domain"
	"github.com/PFigs/backend-client/internal/ports"
)

type recordingBackend struct {
	ports.Backend

	calls        []string
	failReceived error
	failKind     error
}

func (b *recordingBackend) PutReceived(_ context.Context, item domain.WorkItem) error {
	b.calls = append(b.calls, "received:"+item.Kind().String())
	return b.failReceived
}

func (b *recordingBackend) kind(name string) error {
	b.calls = append(b.calls, name)
	return b.failKind
}

func (b *recordingBackend) PutAdvertiser(context.Context, *domain.Advertiser) error {
	return b.kind("advertiser")
}

func (b *recordingBackend) PutBootDiagnostics(context.Context, *domain.BootDiagnostics) error {
	return b.kind("boot_diagnostics")
}

func (b *recordingBackend) PutNeighborDiagnostics(context.Context, *domain.NeighborDiagnostics) error {
	return b.kind("neighbor_diagnostics")
}

func (b *recordingBackend) PutNodeDiagnostics(context.Context, *domain.NodeDiagnostics) error {
	return b.kind("node_diagnostics")
}

func (b *recordingBackend) PutTestNW(context.Context, *domain.TestNW) error {
	return b.kind("testnw")
}

func (b *recordingBackend) PutTrafficDiagnostics(context.Context, *domain.TrafficDiagnostics) error {
	return b.kind("traffic_diagnostics")
}

func (b *recordingBackend) PutDiagnostics(context.Context, *domain.Diagnostics) error {
	return b.kind("diagnostics")
}

func TestRouteEveryKind(t *testing.T) {
	r := New()

	for _, kind := range domain.Kinds() {
		item, err := domain.NewItem(kind)
		require.NoError(t, err)

		b := &recordingBackend{}
		require.NoError(t, r.Route(context.Background(), b, item))

		if kind == domain.KindDataPacket {
			assert.False(t, r.Handles(kind))
			assert.Equal(t, []string{"received:data_packet"}, b.calls)
			continue
		}
		assert.True(t, r.Handles(kind), "no handler for %s", kind)
		assert.Equal(t, []string{"received:" + kind.String(), kind.String()}, b.calls)
	}
}

func TestRouteReceivedFailureSkipsKindWrite(t *testing.T) {
	boom := errors.New("connection reset")
	b := &recordingBackend{failReceived: boom}

	err := New().Route(context.Background(), b, &domain.Advertiser{})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"received:advertiser"}, b.calls)
}

func TestRouteKindFailureKeepsReceived(t *testing.T) {
	boom := errors.New("duplicate key")
	b := &recordingBackend{failKind: boom}

	err := New().Route(context.Background(), b, &domain.NodeDiagnostics{})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"received:node_diagnostics", "node_diagnostics"}, b.calls)
}

func TestRouteNilItem(t *testing.T) {
	b := &recordingBackend{}
	assert.Error(t, New().Route(context.Background(), b, nil))
	assert.Empty(t, b.calls)
}
