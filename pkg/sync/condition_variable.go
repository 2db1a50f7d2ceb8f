package sync

import (
	"context"
	"sync"

	"github.com/buildbarn/bb-storage/pkg/util"
)

// ConditionVariable is a counterpart of sync.Cond whose Wait() respects
// context cancellation. The analysis memo table uses it to let
// requesters of an in-flight key sleep until the single computation of
// that key completes.
//
// Both Broadcast() and Wait() must be called with the lock that guards
// the condition held.
type ConditionVariable struct {
	wakeup chan struct{}
}

// Broadcast wakes up all goroutines that are currently waiting.
func (cv *ConditionVariable) Broadcast() {
	if cv.wakeup != nil {
		close(cv.wakeup)
		cv.wakeup = nil
	}
}

// Wait unlocks l and suspends the calling goroutine until Broadcast()
// is called or the context is cancelled. The lock is reacquired before
// returning successfully; on cancellation it is left unlocked, matching
// the state in which errors must be handed back to the caller.
func (cv *ConditionVariable) Wait(ctx context.Context, l sync.Locker) error {
	if cv.wakeup == nil {
		cv.wakeup = make(chan struct{})
	}
	wakeup := cv.wakeup
	l.Unlock()
	select {
	case <-ctx.Done():
		return util.StatusFromContext(ctx)
	case <-wakeup:
		l.Lock()
		return nil
	}
}
