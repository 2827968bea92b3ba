package quicbridge

import (
	"context"
	"sync"

	"github.com/m-ito0810/quicbridge/quicengine"
)

// completionSlot bridges one asynchronous engine operation at a time into
// an awaitable result. The slot is armed before the engine call, completed
// from the engine's callback goroutine, and reused for the next operation
// on the same stream without allocating.
//
// At most one operation may reference the slot at a time; the owning send
// loop serializes arms, which is what guarantees a single in-flight send
// per stream.
type completionSlot struct {
	mu    sync.Mutex
	armed bool
	ch    chan quicengine.Status
}

func newCompletionSlot() *completionSlot {
	return &completionSlot{
		ch: make(chan quicengine.Status, 1),
	}
}

// Arm reserves the slot for one engine operation. It fails when a previous
// operation is still pending.
func (s *completionSlot) Arm() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.armed {
		return errCompletionConflict
	}
	s.armed = true
	return nil
}

// Disarm releases the slot after the engine call failed synchronously, so
// no completion event will follow.
func (s *completionSlot) Disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.armed = false
	select {
	case <-s.ch:
	default:
	}
}

// Complete resolves the pending operation. Completing an unarmed slot is a
// contract violation by the engine and is dropped; Complete never blocks.
func (s *completionSlot) Complete(status quicengine.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.armed {
		return
	}
	s.armed = false
	select {
	case s.ch <- status:
	default:
	}
}

// Await suspends until the armed operation completes or ctx is done. The
// slot is ready for the next Arm as soon as the result is consumed. An
// abandoned await disarms the slot, so a completion racing the
// cancellation cannot park a stale result for the next cycle.
func (s *completionSlot) Await(ctx context.Context) (quicengine.Status, error) {
	select {
	case status := <-s.ch:
		return status, nil
	case <-ctx.Done():
		s.Disarm()
		return quicengine.StatusAborted, context.Cause(ctx)
	}
}
