package fsm

import (
	"sync"
	"time"
)

// Machine is a running instance of a Definition. It processes one event at
// a time; concurrent callers are serialized by its mutex.
type Machine[C any] struct {
	mu   sync.Mutex
	def  *Definition[C]
	snap Snapshot[C]
	now  func() time.Time
}

// New starts a machine with the given context.
func New[C any](def *Definition[C], ctx C, now func() time.Time) (*Machine[C], Outcome[C], error) {
	if now == nil {
		now = time.Now
	}
	out, err := Start(def, ctx, now())
	if err != nil {
		return nil, Outcome[C]{}, err
	}
	return &Machine[C]{def: def, snap: out.Snapshot, now: now}, out, nil
}

// Restore resumes a machine from a persisted snapshot without re-entering
// the initial state.
func Restore[C any](def *Definition[C], snap Snapshot[C], now func() time.Time) (*Machine[C], error) {
	if now == nil {
		now = time.Now
	}
	if err := def.known(snap); err != nil {
		return nil, err
	}
	return &Machine[C]{def: def, snap: snap, now: now}, nil
}

// Send delivers an event. On error the snapshot is left unchanged unless
// eventless transitions already moved it.
func (m *Machine[C]) Send(ev Event) (Outcome[C], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out, err := Reduce(m.def, m.snap, ev, m.now())
	if out.Snapshot.State != "" {
		m.snap = out.Snapshot
	}
	return out, err
}

// Tick re-evaluates time-triggered transitions.
func (m *Machine[C]) Tick() (Outcome[C], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out, err := Tick(m.def, m.snap, m.now())
	if err != nil {
		return out, err
	}
	m.snap = out.Snapshot
	return out, nil
}

// Snapshot returns the current state and context.
func (m *Machine[C]) Snapshot() Snapshot[C] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// Matches reports whether the machine is in s or one of its children.
func (m *Machine[C]) Matches(s State) bool {
	return m.def.Matches(m.Snapshot(), s)
}

// Done reports whether the machine reached a final state.
func (m *Machine[C]) Done() bool {
	return m.def.IsFinal(m.Snapshot())
}
