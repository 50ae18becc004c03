package nitztz

import (
	"context"
	"errors"

	"github.com/codeGROOVE-dev/nitzTZ/pkg/nitz"
)

// ErrStopped is returned for events sent to an actor whose Run has returned.
// Events sent before Run starts are not rejected: they wait in the buffer,
// and once it is full the sender blocks until Run drains it.
var ErrStopped = errors.New("slot actor stopped")

// Actor owns one StateMachine and applies events to it on a single
// goroutine, in the order they were sent.
type Actor struct {
	m      *StateMachine
	events chan func(*StateMachine)
	done   chan struct{}
}

// NewActor wraps m. buffer is the number of events that may queue before
// senders block, including events sent before Run is started.
func NewActor(m *StateMachine, buffer int) *Actor {
	if buffer < 0 {
		buffer = 0
	}
	return &Actor{
		m:      m,
		events: make(chan func(*StateMachine), buffer),
		done:   make(chan struct{}),
	}
}

// Slot returns the wrapped machine's slot.
func (a *Actor) Slot() int {
	return a.m.Slot()
}

// Run applies events until ctx ends. It must be called exactly once.
func (a *Actor) Run(ctx context.Context) error {
	defer close(a.done)
	a.m.logger.Debug("slot actor started")
	for {
		select {
		case <-ctx.Done():
			a.m.logger.Debug("slot actor stopped", "reason", context.Cause(ctx))
			return nil
		case fn := <-a.events:
			fn(a.m)
		}
	}
}

func (a *Actor) send(fn func(*StateMachine)) error {
	select {
	case <-a.done:
		return ErrStopped
	default:
	}
	select {
	case a.events <- fn:
		return nil
	case <-a.done:
		return ErrStopped
	}
}

// Do runs fn on the actor goroutine and waits for it, so fn may read the
// machine safely.
func (a *Actor) Do(ctx context.Context, fn func(*StateMachine)) error {
	finished := make(chan struct{})
	if err := a.send(func(m *StateMachine) {
		defer close(finished)
		fn(m)
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-a.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NetworkAvailable enqueues HandleNetworkAvailable.
func (a *Actor) NetworkAvailable() error {
	return a.send((*StateMachine).HandleNetworkAvailable)
}

// NetworkUnavailable enqueues HandleNetworkUnavailable.
func (a *Actor) NetworkUnavailable() error {
	return a.send((*StateMachine).HandleNetworkUnavailable)
}

// CountryDetected enqueues HandleCountryDetected.
func (a *Actor) CountryDetected(iso string) error {
	return a.send(func(m *StateMachine) { m.HandleCountryDetected(iso) })
}

// CountryUnavailable enqueues HandleCountryUnavailable.
func (a *Actor) CountryUnavailable() error {
	return a.send((*StateMachine).HandleCountryUnavailable)
}

// NITZReceived enqueues HandleNITZReceived.
func (a *Actor) NITZReceived(sig nitz.Signal) error {
	return a.send(func(m *StateMachine) { m.HandleNITZReceived(sig) })
}

// AirplaneModeChanged enqueues HandleAirplaneModeChanged.
func (a *Actor) AirplaneModeChanged(on bool) error {
	return a.send(func(m *StateMachine) { m.HandleAirplaneModeChanged(on) })
}

// Snapshot reads the machine's state on the actor goroutine.
func (a *Actor) Snapshot(ctx context.Context) (Snapshot, error) {
	out := make(chan Snapshot, 1)
	if err := a.Do(ctx, func(m *StateMachine) { out <- m.Snapshot() }); err != nil {
		return Snapshot{}, err
	}
	return <-out, nil
}
