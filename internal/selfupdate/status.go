// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
)

const (
	// PhaseChecking covers pre-flight validation at the start of an upgrade.
	PhaseChecking Phase = "checking"
	// PhaseDownloading covers artifact retrieval and integrity verification.
	PhaseDownloading Phase = "downloading"
	// PhaseExtracting covers unpacking the artifact into the staging directory.
	PhaseExtracting Phase = "extracting"
	// PhaseInstalling covers the swap of managed paths (commit or rollback).
	PhaseInstalling Phase = "installing"
	// PhaseDone is emitted once after a fully successful upgrade.
	PhaseDone Phase = "done"
	// PhaseError is emitted once before a failing upgrade returns.
	PhaseError Phase = "error"
)

type (
	// Phase tags one stage of the upgrade lifecycle.
	Phase string

	// Event is a status notification delivered to subscribers. Events are
	// values; subscribers receive their own copy.
	Event struct {
		Phase   Phase
		Message string // Optional human-readable detail
		Err     error  // Set only for PhaseError
	}

	// Handler receives status events. A returned error (or a panic) is logged
	// and otherwise ignored; it never reaches the emitter's caller.
	Handler func(Event) error

	// Emitter is a synchronous publish/subscribe channel for status events.
	// Events reach every current subscriber, in subscription order, before Emit
	// returns. The zero value is not usable; use NewEmitter.
	Emitter struct {
		mu     sync.Mutex // guards subs and nextID
		emitMu sync.Mutex // serializes deliveries
		subs   []subscription
		nextID uint64
		logger *log.Logger
	}

	subscription struct {
		id      uint64
		handler Handler
	}
)

// String returns the phase tag.
func (p Phase) String() string { return string(p) }

// NewEmitter creates an Emitter that logs handler failures to logger.
func NewEmitter(logger *log.Logger) *Emitter {
	if logger == nil {
		logger = defaultLogger()
	}
	return &Emitter{logger: logger}
}

// Subscribe registers handler and returns a function that removes it. The
// returned function is safe to call more than once.
func (e *Emitter) Subscribe(handler Handler) (unsubscribe func()) {
	if handler == nil {
		return func() {}
	}

	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.subs = append(e.subs, subscription{id: id, handler: handler})
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { e.remove(id) })
	}
}

// Emit delivers ev to all current subscribers.
func (e *Emitter) Emit(ev Event) {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()

	e.mu.Lock()
	subs := make([]subscription, len(e.subs))
	copy(subs, e.subs)
	e.mu.Unlock()

	for _, sub := range subs {
		if err := e.deliver(sub.handler, ev); err != nil {
			e.logger.Warn("status handler failed", "subscriber", sub.id, "phase", ev.Phase, "err", err)
		}
	}
}

// Len returns the number of current subscribers.
func (e *Emitter) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}

func (e *Emitter) remove(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, sub := range e.subs {
		if sub.id == id {
			e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
			return
		}
	}
}

// deliver runs one handler, converting a panic into an error.
func (e *Emitter) deliver(h Handler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h(ev)
}
