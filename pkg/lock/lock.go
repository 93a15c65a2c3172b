package lock

import (
	"context"
	"errors"
	"fmt"

	"github.com/xhad/becabot/internal/types"
)

// ErrNotAcquired is returned when the context ends before the lock is held.
var ErrNotAcquired = errors.New("lock not acquired")

// Local is an in-process mutex whose Lock honors context cancellation.
type Local struct {
	ch chan struct{}
}

var _ types.BuildLock = (*Local)(nil)

func NewLocal() *Local {
	return &Local{ch: make(chan struct{}, 1)}
}

func (l *Local) Lock(ctx context.Context) (func(), error) {
	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrNotAcquired, ctx.Err())
	}
	released := false
	return func() {
		if released {
			return
		}
		released = true
		<-l.ch
	}, nil
}

// Chain acquires locks in order and releases them in reverse.
type Chain []types.BuildLock

func (c Chain) Lock(ctx context.Context) (func(), error) {
	unlocks := make([]func(), 0, len(c))
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, l := range c {
		unlock, err := l.Lock(ctx)
		if err != nil {
			release()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return release, nil
}
