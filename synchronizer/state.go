package synchronizer

import (
	"sync/atomic"
	"time"
)

// State of the in-flight guard.
type State int32

const (
	Idle State = iota
	Pending
)

func (s State) String() string {
	if s == Pending {
		return "pending"
	}
	return "idle"
}

type busyFlag struct {
	v atomic.Int32
}

// acquire moves Idle to Pending. It fails if an operation is already pending.
func (b *busyFlag) acquire() bool {
	return b.v.CompareAndSwap(int32(Idle), int32(Pending))
}

// release returns to Idle whatever the outcome was.
func (b *busyFlag) release() {
	b.v.Store(int32(Idle))
}

func (b *busyFlag) state() State {
	return State(b.v.Load())
}

var lastTimestamp atomic.Int64

// nextTimestamp returns strictly increasing unix-nano timestamps for change events.
func nextTimestamp() int64 {
	for {
		now := time.Now().UnixNano()
		last := lastTimestamp.Load()
		if now <= last {
			now = last + 1
		}
		if lastTimestamp.CompareAndSwap(last, now) {
			return now
		}
	}
}
