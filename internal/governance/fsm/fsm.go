// Package fsm runs governance workflows as an explicit transition table and
// a pure reducer. A machine's context is a value: actions return a new
// context instead of mutating the one they receive.
package fsm

import (
	"fmt"
	"time"

	"github.com/coophabitat/finance-engine/internal/apperr"
)

// State names a node of a machine definition.
type State string

// EventType names an event a state can react to.
type EventType string

// Event is delivered to a machine by application code or a scheduler.
type Event interface {
	Type() EventType
}

// As returns ev's payload as E whether it was sent by value or by pointer.
func As[E Event](ev Event) (E, bool) {
	switch v := any(ev).(type) {
	case E:
		return v, true
	case *E:
		if v != nil {
			return *v, true
		}
	}
	var zero E
	return zero, false
}

// Effect is a side effect requested by a transition (a notice, an alert).
// The reducer only reports effects; callers decide how to deliver them.
type Effect struct {
	Kind string         `json:"kind"`
	At   time.Time      `json:"at"`
	Data map[string]any `json:"data,omitempty"`
}

// Guard vetoes a transition by returning an error.
type Guard[C any] func(ctx C, ev Event, now time.Time) error

// Action computes the next context. ev is nil for always transitions.
type Action[C any] func(ctx C, ev Event, now time.Time) (C, []Effect)

// Transition reacts to an event. An empty Target keeps the current state.
type Transition[C any] struct {
	Target  State
	Guard   Guard[C]
	Actions []Action[C]
}

// Always is an eventless transition taken as soon as Cond holds.
type Always[C any] struct {
	Target  State
	Cond    func(ctx C, now time.Time) bool
	Actions []Action[C]
}

// StateNode is one row of the table.
type StateNode[C any] struct {
	// Parent nests this state; events not handled here bubble up to it.
	Parent State
	// Initial is the child entered when this state is targeted.
	Initial State
	Final   bool
	On      map[EventType]Transition[C]
	Always  []Always[C]
}

// Definition is a complete machine.
type Definition[C any] struct {
	Name    string
	Initial State
	States  map[State]StateNode[C]
}

// maxSettleSteps bounds chains of always transitions.
const maxSettleSteps = 16

// Validate checks that every referenced state exists.
func (d *Definition[C]) Validate() error {
	if _, ok := d.States[d.Initial]; !ok {
		return fmt.Errorf("%s: initial state %q is not defined", d.Name, d.Initial)
	}
	check := func(from State, to State, what string) error {
		if to == "" {
			return nil
		}
		if _, ok := d.States[to]; !ok {
			return fmt.Errorf("%s: %s of %q targets undefined state %q", d.Name, what, from, to)
		}
		return nil
	}
	for name, node := range d.States {
		if err := check(name, node.Parent, "parent"); err != nil {
			return err
		}
		if err := check(name, node.Initial, "initial"); err != nil {
			return err
		}
		for ev, tr := range node.On {
			if err := check(name, tr.Target, string(ev)); err != nil {
				return err
			}
		}
		for _, a := range node.Always {
			if a.Target == "" {
				return fmt.Errorf("%s: always transition of %q has no target", d.Name, name)
			}
			if err := check(name, a.Target, "always"); err != nil {
				return err
			}
		}
	}
	return nil
}

// Snapshot is a machine's persisted form: its leaf state and context.
type Snapshot[C any] struct {
	State   State `json:"state"`
	Context C     `json:"context"`
}

// Outcome reports what a reduction did.
type Outcome[C any] struct {
	Snapshot Snapshot[C]
	Previous State
	Effects  []Effect
	// Handled is false when no transition accepted the event.
	Handled bool
	// Rejection is the guard error when a transition was vetoed.
	Rejection error
}

// Changed reports whether the leaf state moved.
func (o Outcome[C]) Changed() bool {
	return o.Previous != o.Snapshot.State
}

// Matches reports whether s is the snapshot's state or one of its ancestors.
func (d *Definition[C]) Matches(snap Snapshot[C], s State) bool {
	for _, name := range d.path(snap.State) {
		if name == s {
			return true
		}
	}
	return false
}

// IsFinal reports whether the snapshot's state accepts no further events.
func (d *Definition[C]) IsFinal(snap Snapshot[C]) bool {
	return d.States[snap.State].Final
}

// Start enters the initial state and settles eventless transitions.
func Start[C any](d *Definition[C], ctx C, now time.Time) (Outcome[C], error) {
	snap := Snapshot[C]{State: d.resolve(d.Initial), Context: ctx}
	out := Outcome[C]{Previous: snap.State, Handled: true}
	snap, effects, err := d.settle(snap, now)
	if err != nil {
		return Outcome[C]{}, err
	}
	out.Snapshot = snap
	out.Effects = effects
	return out, nil
}

// Tick re-evaluates eventless transitions against now. Ticking a finished
// machine is a no-op.
func Tick[C any](d *Definition[C], snap Snapshot[C], now time.Time) (Outcome[C], error) {
	if err := d.known(snap); err != nil {
		return Outcome[C]{}, err
	}
	out := Outcome[C]{Previous: snap.State, Snapshot: snap}
	if d.IsFinal(snap) {
		return out, nil
	}
	settled, effects, err := d.settle(snap, now)
	if err != nil {
		return Outcome[C]{}, err
	}
	out.Snapshot = settled
	out.Effects = effects
	return out, nil
}

// Reduce delivers ev to the machine in snap. Eventless transitions are
// settled before and after the event. Events with no matching transition
// are ignored. Delivering to a final state fails with ErrIllegalTransition.
func Reduce[C any](d *Definition[C], snap Snapshot[C], ev Event, now time.Time) (Outcome[C], error) {
	if err := d.known(snap); err != nil {
		return Outcome[C]{}, err
	}
	if ev == nil {
		return Outcome[C]{}, apperr.InvalidInput("event is required")
	}
	if d.IsFinal(snap) {
		return Outcome[C]{}, apperr.Newf(apperr.CodeIllegalTransition,
			"%s is in final state %s and cannot accept %s", d.Name, snap.State, ev.Type())
	}

	out := Outcome[C]{Previous: snap.State}
	cur, effects, err := d.settle(snap, now)
	if err != nil {
		return Outcome[C]{}, err
	}
	out.Effects = append(out.Effects, effects...)
	if d.IsFinal(cur) {
		out.Snapshot = cur
		return out, apperr.Newf(apperr.CodeIllegalTransition,
			"%s reached final state %s before %s", d.Name, cur.State, ev.Type())
	}

	tr, ok := d.handler(cur.State, ev.Type())
	if !ok {
		out.Snapshot = cur
		return out, nil
	}
	if tr.Guard != nil {
		if err := tr.Guard(cur.Context, ev, now); err != nil {
			out.Snapshot = cur
			out.Rejection = err
			return out, nil
		}
	}

	ctx := cur.Context
	for _, act := range tr.Actions {
		var fx []Effect
		ctx, fx = act(ctx, ev, now)
		out.Effects = append(out.Effects, fx...)
	}
	next := Snapshot[C]{State: cur.State, Context: ctx}
	if tr.Target != "" {
		next.State = d.resolve(tr.Target)
	}

	next, effects, err = d.settle(next, now)
	if err != nil {
		return Outcome[C]{}, err
	}
	out.Effects = append(out.Effects, effects...)
	out.Snapshot = next
	out.Handled = true
	return out, nil
}

func (d *Definition[C]) known(snap Snapshot[C]) error {
	if _, ok := d.States[snap.State]; !ok {
		return apperr.InvalidInput("%s has no state %q", d.Name, snap.State)
	}
	return nil
}

// path lists s followed by its ancestors.
func (d *Definition[C]) path(s State) []State {
	var out []State
	for s != "" && len(out) <= len(d.States) {
		out = append(out, s)
		s = d.States[s].Parent
	}
	return out
}

// resolve descends through Initial children to a leaf.
func (d *Definition[C]) resolve(s State) State {
	for i := 0; i <= len(d.States); i++ {
		child := d.States[s].Initial
		if child == "" {
			return s
		}
		s = child
	}
	return s
}

func (d *Definition[C]) handler(s State, ev EventType) (Transition[C], bool) {
	for _, name := range d.path(s) {
		if tr, ok := d.States[name].On[ev]; ok {
			return tr, true
		}
	}
	return Transition[C]{}, false
}

func (d *Definition[C]) settle(snap Snapshot[C], now time.Time) (Snapshot[C], []Effect, error) {
	var effects []Effect
	for step := 0; step < maxSettleSteps; step++ {
		if d.IsFinal(snap) {
			return snap, effects, nil
		}
		a, ok := d.firstAlways(snap, now)
		if !ok {
			return snap, effects, nil
		}
		ctx := snap.Context
		for _, act := range a.Actions {
			var fx []Effect
			ctx, fx = act(ctx, nil, now)
			effects = append(effects, fx...)
		}
		snap = Snapshot[C]{State: d.resolve(a.Target), Context: ctx}
	}
	return snap, effects, fmt.Errorf("%s: always transitions did not settle after %d steps at %s", d.Name, maxSettleSteps, snap.State)
}

func (d *Definition[C]) firstAlways(snap Snapshot[C], now time.Time) (Always[C], bool) {
	for _, name := range d.path(snap.State) {
		for _, a := range d.States[name].Always {
			if a.Cond == nil || a.Cond(snap.Context, now) {
				return a, true
			}
		}
	}
	return Always[C]{}, false
}
