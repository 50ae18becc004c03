package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/codeGROOVE-dev/nitzTZ/pkg/device"
	"github.com/codeGROOVE-dev/nitzTZ/pkg/nitz"
	"github.com/codeGROOVE-dev/nitzTZ/pkg/nitztz"
)

// Runner applies commands to one state machine on a fake clock.
type Runner struct {
	clock     *clockwork.FakeClock
	dev       *device.Clocked
	m         *nitztz.StateMachine
	logger    *slog.Logger
	discarded int
}

// NewRunner creates a runner whose wall clock starts at start and whose
// elapsed-realtime clock starts at zero.
func NewRunner(start time.Time, slot int, sink nitztz.Sink, logger *slog.Logger, opts ...nitztz.Option) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	clock := clockwork.NewFakeClockAt(start)
	dev := device.NewClocked(clock)
	opts = append([]nitztz.Option{nitztz.WithLogger(logger)}, opts...)
	return &Runner{
		clock:  clock,
		dev:    dev,
		m:      nitztz.New(slot, dev, sink, opts...),
		logger: logger,
	}
}

// Device exposes the simulated device, e.g. to change thresholds.
func (r *Runner) Device() *device.Clocked {
	return r.dev
}

// Machine exposes the state machine for inspection.
func (r *Runner) Machine() *nitztz.StateMachine {
	return r.m
}

// Discarded counts malformed NITZ strings dropped so far.
func (r *Runner) Discarded() int {
	return r.discarded
}

// Step applies one command. A malformed NITZ string is dropped before it
// reaches the machine and reported as an error wrapping nitz.ErrInvalid.
func (r *Runner) Step(cmd Command) error {
	switch cmd.Op {
	case OpCountry:
		r.m.HandleCountryDetected(cmd.Arg)
	case OpTestNetwork:
		r.m.HandleCountryDetected("")
	case OpNoCountry:
		r.m.HandleCountryUnavailable()
	case OpNITZ:
		received := r.dev.ElapsedRealtimeMillis()
		if cmd.HasElapsed {
			received = cmd.ElapsedMs
		}
		sig, err := nitz.Parse(cmd.Arg, received)
		if err != nil {
			r.discarded++
			return fmt.Errorf("line %d: %w", cmd.Line, err)
		}
		r.m.HandleNITZReceived(sig)
	case OpAdvance:
		r.clock.Advance(cmd.Advance)
	case OpNetwork:
		if cmd.On {
			r.m.HandleNetworkAvailable()
		} else {
			r.m.HandleNetworkUnavailable()
		}
	case OpAirplane:
		r.m.HandleAirplaneModeChanged(cmd.On)
	case OpIgnoreNITZ:
		r.dev.SetIgnoreNITZ(cmd.On)
	default:
		return fmt.Errorf("line %d: unsupported command %v", cmd.Line, cmd.Op)
	}
	return nil
}

// Run applies every command in order. Malformed NITZ strings are logged
// and skipped; any other failure stops the run.
func (r *Runner) Run(ctx context.Context, cmds []Command) error {
	for _, cmd := range cmds {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.Step(cmd); err != nil {
			if errors.Is(err, nitz.ErrInvalid) {
				r.logger.Warn("discarding malformed NITZ", "line", cmd.Line, "error", err)
				continue
			}
			return err
		}
	}
	return nil
}
