package control

import (
	"context"
	"sync"
)

// Signal is a one-way boolean flag. Once set it stays set for the life of
// the value; readers may poll IsSet or block on Done.
type Signal struct {
	once sync.Once
	done chan struct{}
}

func NewSignal() *Signal {
	return &Signal{done: make(chan struct{})}
}

func (s *Signal) Set() {
	s.once.Do(func() { close(s.done) })
}

func (s *Signal) IsSet() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// Signals are the two orchestrator flags every worker and the supervisor read.
type Signals struct {
	Start *Signal
	Exit  *Signal
}

func NewSignals() Signals {
	return Signals{Start: NewSignal(), Exit: NewSignal()}
}

// WaitStart blocks until Start is set. It returns false if Exit was set or
// ctx ended first.
func (s Signals) WaitStart(ctx context.Context) bool {
	if s.Exit.IsSet() {
		return false
	}
	select {
	case <-s.Start.Done():
		return !s.Exit.IsSet()
	case <-s.Exit.Done():
		return false
	case <-ctx.Done():
		return false
	}
}

// ExitContext returns a context that is cancelled once Exit is set.
func (s Signals) ExitContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-s.Exit.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
