package ringbuf

// level is a level-triggered, edge-coalesced readiness signal: multiple
// Set calls between Wait calls coalesce into a single wakeup, and a
// waiter that checks state itself after waking (rather than trusting
// the channel alone) never misses a transition. The pattern mirrors
// the readable/writable channels in the shmring SPSC ring: a
// buffered-capacity-1 channel where a non-blocking send is the "set"
// half.
type level struct {
	ch chan struct{}
}

func newLevel() level {
	return level{ch: make(chan struct{}, 1)}
}

// set marks the signal ready, coalescing with any pending wakeup.
func (l level) set() {
	select {
	case l.ch <- struct{}{}:
	default:
	}
}

// clear drops a pending wakeup without waiting for one.
func (l level) clear() {
	select {
	case <-l.ch:
	default:
	}
}

// wait returns l's channel for use in a select. Callers must re-check
// the underlying condition after waking, since the signal is level
// triggered: it can fire once for several state transitions, and it
// can also still be set when the condition it describes has already
// been cleared by a concurrent goroutine.
func (l level) wait() <-chan struct{} {
	return l.ch
}
