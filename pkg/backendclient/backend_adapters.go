package backendclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/PFigs/backend-client/internal/domain"
)

// ErrChannelBackendClosed is returned when a channel backend is written to after being closed.
var ErrChannelBackendClosed = errors.New("backendclient: channel backend closed")

// ItemHandler receives every dispatched item once.
type ItemHandler func(ctx context.Context, item WorkItem) error

// NewCallbackBackend adapts an ItemHandler into a Backend so callers can
// plug arbitrary functions without defining structs. The handler is called
// from every worker and must be safe for concurrent use.
func NewCallbackBackend(name string, fn ItemHandler) Backend {
	if name == "" {
		name = "callback"
	}
	return &callbackBackend{name: name, fn: fn}
}

// NewChannelBackend exposes dispatched items via a channel; it returns the
// backend, the read-only channel, and a close function that the caller
// should invoke during shutdown.
func NewChannelBackend(name string, buffer int) (Backend, <-chan WorkItem, func()) {
	if name == "" {
		name = "channel"
	}
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan WorkItem, buffer)
	b := &channelBackend{
		name:   name,
		ch:     ch,
		closed: make(chan struct{}),
	}
	return b, ch, func() { b.close() }
}

// SharedDialer hands the same backend to every worker. Use it only with
// backends that are safe for concurrent use, such as the callback and
// channel backends.
func SharedDialer(b Backend) Dialer {
	return func(context.Context) (Backend, error) {
		if b == nil {
			return nil, errors.New("backendclient: nil backend")
		}
		return b, nil
	}
}

// itemOnly delivers items through PutReceived, which the router calls for
// every kind, and ignores the kind-specific writes.
type itemOnly struct{}

func (itemOnly) PutAdvertiser(context.Context, *domain.Advertiser) error { return nil }
func (itemOnly) PutBootDiagnostics(context.Context, *domain.BootDiagnostics) error {
	return nil
}
func (itemOnly) PutNeighborDiagnostics(context.Context, *domain.NeighborDiagnostics) error {
	return nil
}
func (itemOnly) PutNodeDiagnostics(context.Context, *domain.NodeDiagnostics) error { return nil }
func (itemOnly) PutTestNW(context.Context, *domain.TestNW) error                   { return nil }
func (itemOnly) PutTrafficDiagnostics(context.Context, *domain.TrafficDiagnostics) error {
	return nil
}
func (itemOnly) PutDiagnostics(context.Context, *domain.Diagnostics) error { return nil }

type callbackBackend struct {
	itemOnly
	name string
	fn   ItemHandler
}

func (b *callbackBackend) Ping(context.Context) error {
	if b.fn == nil {
		return fmt.Errorf("callback backend %q: nil handler", b.name)
	}
	return nil
}

func (b *callbackBackend) Close() error { return nil }

func (b *callbackBackend) PutReceived(ctx context.Context, item domain.WorkItem) error {
	if b.fn == nil {
		return fmt.Errorf("callback backend %q: nil handler", b.name)
	}
	return b.fn(ctx, item)
}

type channelBackend struct {
	itemOnly
	name   string
	ch     chan WorkItem
	closed chan struct{}
	once   sync.Once
	mu     sync.RWMutex
}

func (b *channelBackend) Ping(context.Context) error {
	select {
	case <-b.closed:
		return ErrChannelBackendClosed
	default:
		return nil
	}
}

// Close is a no-op; workers close their backend on every reconnect while the
// channel stays open until the close function is called.
func (b *channelBackend) Close() error { return nil }

func (b *channelBackend) PutReceived(ctx context.Context, item domain.WorkItem) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	select {
	case <-b.closed:
		return ErrChannelBackendClosed
	default:
	}

	select {
	case <-b.closed:
		return ErrChannelBackendClosed
	case <-ctx.Done():
		return ctx.Err()
	case b.ch <- item:
		return nil
	}
}

func (b *channelBackend) close() {
	b.once.Do(func() {
		close(b.closed)
		b.mu.Lock()
		close(b.ch)
		b.mu.Unlock()
	})
}
