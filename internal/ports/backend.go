package ports

import (
	"context"

	"github.com/PFigs/backend-client/internal/domain"
)

// Backend is one private connection to the storage service. A Backend is
// owned by a single worker and is never shared.
type Backend interface {
	Ping(ctx context.Context) error
	Close() error

	PutReceived(ctx context.Context, item domain.WorkItem) error
	PutAdvertiser(ctx context.Context, m *domain.Advertiser) error
	PutBootDiagnostics(ctx context.Context, m *domain.BootDiagnostics) error
	PutNeighborDiagnostics(ctx context.Context, m *domain.NeighborDiagnostics) error
	PutNodeDiagnostics(ctx context.Context, m *domain.NodeDiagnostics) error
	PutTestNW(ctx context.Context, m *domain.TestNW) error
	PutTrafficDiagnostics(ctx context.Context, m *domain.TrafficDiagnostics) error
	PutDiagnostics(ctx context.Context, m *domain.Diagnostics) error
}

// Dialer opens a new Backend connection.
type Dialer func(ctx context.Context) (Backend, error)
