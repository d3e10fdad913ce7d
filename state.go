package eventstore

import "sync/atomic"

type lifecycleState int32

const (
	stateUnopened lifecycleState = iota
	stateActive
	stateClosed
)

// lifecycle tracks the open/active/closed state shared by Partition
// and Index: a closed-state short-circuit checked before any I/O,
// backed by a plain atomic int rather than a condition-variable state
// machine, since this core has no intermediate blocking state to gate
// (there is no compaction pass here).
type lifecycle struct {
	state atomic.Int32
}

func (l *lifecycle) isActive() bool {
	return lifecycleState(l.state.Load()) == stateActive
}

func (l *lifecycle) activate() {
	l.state.Store(int32(stateActive))
}

func (l *lifecycle) markClosed() {
	l.state.Store(int32(stateClosed))
}
