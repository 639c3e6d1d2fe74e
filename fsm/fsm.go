/*
 * MIT License
 *
 * Copyright (c) 2022-2025 Arsene Tochemey Gandote
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

// Package fsm implements a table driven finite state machine with a single
// state variable, per state transition handlers, entry notifications and
// timeout driven transitions.
package fsm

import (
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/tochemey/recipes/log"
)

// State names a state of the machine
type State string

// String returns the state name
func (s State) String() string {
	return string(s)
}

// Target is the outcome of a transition handler: the next state and an
// optional timeout after which the machine moves on to another state
// unless it has left the target state in the meantime.
type Target struct {
	State   State
	Timeout time.Duration
	Next    State
}

// NoChange is returned by handlers that leave the machine where it is
var NoChange = Target{}

// To returns a Target without timeout
func To(state State) Target {
	return Target{State: state}
}

// After arms a timeout moving the machine to next once d elapses
func (t Target) After(d time.Duration, next State) Target {
	t.Timeout = d
	t.Next = next
	return t
}

func (t Target) hasTimeout() bool {
	return t.Timeout > 0 && t.Next != ""
}

// Handler computes the next state from an event and the machine context
type Handler[C any] func(event any, context C) Target

// EnterFunc is notified when the machine enters a state
type EnterFunc[C any] func(context C)

// Definition describes a machine
type Definition[C any] struct {
	// States lists every valid state
	States []State
	// Initial is the starting state, optionally carrying a timeout
	Initial Target
	// Final lists the terminal states
	Final []State
	// Context is handed to every handler and entry notification
	Context C
	// Transition is the default handler
	Transition Handler[C]
	// PerState overrides Transition while the machine is in the given state
	PerState map[State]Handler[C]
	// OnEnter is notified asynchronously whenever the machine enters the state
	OnEnter map[State]EnterFunc[C]
}

// Option configures a machine
type Option func(*options)

type options struct {
	logger log.Logger
	name   string
}

// WithLogger sets the logger
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithName sets the name used in log lines
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// FSM is a running machine. It is safe for concurrent use.
type FSM[C any] struct {
	mu         sync.Mutex
	definition Definition[C]
	states     mapset.Set[State]
	final      mapset.Set[State]
	current    State
	timer      *time.Timer
	generation uint64
	inert      bool
	options    options

	predicates map[State]func() bool
	setters    map[State]func() State
}

// New creates a machine in its initial state and arms the initial timeout
// if any. The initial state does not trigger its entry notification.
//
// A definition whose initial state is not part of States yields a degenerate
// machine: it reports that state and ignores every transition.
func New[C any](definition Definition[C], opts ...Option) *FSM[C] {
	config := options{logger: log.DefaultLogger, name: "fsm"}
	for _, opt := range opts {
		opt(&config)
	}

	machine := &FSM[C]{
		definition: definition,
		states:     mapset.NewThreadUnsafeSet(definition.States...),
		final:      mapset.NewThreadUnsafeSet(definition.Final...),
		current:    definition.Initial.State,
		options:    config,
		predicates: make(map[State]func() bool, len(definition.States)),
		setters:    make(map[State]func() State, len(definition.States)),
	}

	for _, state := range definition.States {
		machine.predicates[state] = func() bool { return machine.Is(state) }
		machine.setters[state] = func() State { return machine.SetState(To(state)) }
	}

	if machine.states.Contains(machine.current) && definition.Initial.hasTimeout() {
		machine.mu.Lock()
		machine.arm(definition.Initial)
		machine.mu.Unlock()
	}
	return machine
}

// Current returns the current state
func (f *FSM[C]) Current() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Is reports whether the machine is in the given state
func (f *FSM[C]) Is(state State) bool {
	return f.Current() == state
}

// IsFinal reports whether the machine reached a terminal state
func (f *FSM[C]) IsFinal() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.final.Contains(f.current)
}

// IsValid reports whether state belongs to the machine
func (f *FSM[C]) IsValid(state State) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states.Contains(state)
}

// Context returns the machine context
func (f *FSM[C]) Context() C {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.definition.Context
}

// Predicate returns the generated query for state. Unknown states always
// report false.
func (f *FSM[C]) Predicate(state State) func() bool {
	if predicate, ok := f.predicates[state]; ok {
		return predicate
	}
	return func() bool { return false }
}

// Setter returns the generated setter for state. Unknown states never
// change the machine.
func (f *FSM[C]) Setter(state State) func() State {
	if setter, ok := f.setters[state]; ok {
		return setter
	}
	return f.Current
}

// SendEvent runs the handler of the current state, or the default one, and
// applies the returned target. Terminal machines ignore events.
func (f *FSM[C]) SendEvent(event any) State {
	f.mu.Lock()
	if f.inert || f.final.Contains(f.current) {
		defer f.mu.Unlock()
		return f.current
	}

	handler := f.definition.Transition
	if perState, ok := f.definition.PerState[f.current]; ok && perState != nil {
		handler = perState
	}
	context := f.definition.Context
	f.mu.Unlock()

	if handler == nil {
		return f.Current()
	}
	return f.SetState(handler(event, context))
}

// SetState moves the machine to the target state. Invalid targets and
// terminal machines leave the state unchanged. Entering a new state cancels
// any pending timeout, dispatches the entry notification without waiting for
// it and arms the target timeout.
func (f *FSM[C]) SetState(target Target) State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transition(target)
}

// transition applies target. It must be called with the lock held.
func (f *FSM[C]) transition(target Target) State {
	if f.inert || f.final.Contains(f.current) {
		return f.current
	}

	if target.State == "" || !f.states.Contains(target.State) {
		return f.current
	}

	if target.State == f.current {
		return f.current
	}

	f.options.logger.Debugf("%s: %s -> %s", f.options.name, f.current, target.State)
	f.cancel()
	f.current = target.State

	if enter, ok := f.definition.OnEnter[target.State]; ok && enter != nil {
		go enter(f.definition.Context)
	}

	if target.hasTimeout() && !f.final.Contains(target.State) {
		f.arm(target)
	}
	return f.current
}

// Reset cancels any pending timeout and drops the definition. The machine
// keeps reporting its last state and ignores every further transition.
func (f *FSM[C]) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancel()
	f.inert = true
	f.definition = Definition[C]{}
}

// arm schedules the timeout of target. It must be called with the lock held.
func (f *FSM[C]) arm(target Target) {
	generation := f.generation
	f.timer = time.AfterFunc(target.Timeout, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if generation != f.generation {
			return
		}

		f.options.logger.Debugf("%s: timeout in %s after %s", f.options.name, f.current, target.Timeout)
		f.transition(To(target.Next))
	})
}

// cancel drops the pending timeout. It must be called with the lock held.
func (f *FSM[C]) cancel() {
	f.generation++
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
}
