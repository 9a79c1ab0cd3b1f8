// Package router maps a work item's kind to the backend writes it needs.
package router

import (
	"context"

	"github.com/pkg/errors"

	"github.com/PFigs/backend-client/internal/domain"
	"github.com/PFigs/backend-client/internal/ports"
)

// Handler performs the kind-specific write for one item.
type Handler func(ctx context.Context, b ports.Backend, item domain.WorkItem) error

// Router routes every item to the received write and then to at most one
// kind-specific handler.
type Router struct {
	handlers map[domain.Kind]Handler
}

func New() *Router {
	return &Router{handlers: map[domain.Kind]Handler{
		domain.KindAdvertiser:          typed(ports.Backend.PutAdvertiser),
		domain.KindBootDiagnostics:     typed(ports.Backend.PutBootDiagnostics),
		domain.KindNeighborDiagnostics: typed(ports.Backend.PutNeighborDiagnostics),
		domain.KindNodeDiagnostics:     typed(ports.Backend.PutNodeDiagnostics),
		domain.KindTestNW:              typed(ports.Backend.PutTestNW),
		domain.KindTrafficDiagnostics:  typed(ports.Backend.PutTrafficDiagnostics),
		domain.KindDiagnostics:         typed(ports.Backend.PutDiagnostics),
	}}
}

// Handles reports whether kind has a kind-specific write.
func (r *Router) Handles(kind domain.Kind) bool {
	_, ok := r.handlers[kind]
	return ok
}

// Route writes the received record and then the kind-specific record.
// When the received write fails the kind-specific write is skipped.
func (r *Router) Route(ctx context.Context, b ports.Backend, item domain.WorkItem) error {
	if item == nil {
		return errors.New("route: nil work item")
	}
	if err := b.PutReceived(ctx, item); err != nil {
		return errors.Wrapf(err, "put received %s", item.Kind())
	}
	h, ok := r.handlers[item.Kind()]
	if !ok {
		return nil
	}
	if err := h(ctx, b, item); err != nil {
		return errors.Wrapf(err, "put %s", item.Kind())
	}
	return nil
}

func typed[T domain.WorkItem](put func(ports.Backend, context.Context, T) error) Handler {
	return func(ctx context.Context, b ports.Backend, item domain.WorkItem) error {
		m, ok := item.(T)
		if !ok {
			return errors.Errorf("unexpected %T for kind %s", item, item.Kind())
		}
		return put(b, ctx, m)
	}
}
