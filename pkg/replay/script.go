// Package replay drives a state machine from a line-oriented event script
// against a fake clock. It backs the nitztz CLI and end-to-end tests.
//
// Script lines:
//
//	country us
//	test-network
//	no-country
//	nitz 15/01/15,12:00:01-32,0 [@1500]
//	advance 10m
//	network on|off
//	airplane on|off
//	ignore-nitz on|off
//
// Blank lines and lines starting with # are ignored. The optional @ suffix of
// nitz sets the elapsed-realtime receipt time, in milliseconds or as a Go
// duration; it defaults to the clock's current reading.
package replay

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// ErrSyntax is wrapped by every script parse failure.
var ErrSyntax = errors.New("script syntax error")

// Op is a script command.
type Op int

// Script commands.
const (
	OpCountry Op = iota + 1
	OpTestNetwork
	OpNoCountry
	OpNITZ
	OpAdvance
	OpNetwork
	OpAirplane
	OpIgnoreNITZ
)

var opNames = map[string]Op{
	"country":      OpCountry,
	"test-network": OpTestNetwork,
	"no-country":   OpNoCountry,
	"nitz":         OpNITZ,
	"advance":      OpAdvance,
	"network":      OpNetwork,
	"airplane":     OpAirplane,
	"ignore-nitz":  OpIgnoreNITZ,
}

func (o Op) String() string {
	for name, op := range opNames {
		if op == o {
			return name
		}
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// Command is one parsed script line.
type Command struct {
	Arg        string
	Advance    time.Duration
	Line       int
	ElapsedMs  int64
	Op         Op
	On         bool
	HasElapsed bool
}

func (c Command) String() string {
	switch c.Op {
	case OpCountry, OpNITZ:
		return c.Op.String() + " " + c.Arg
	case OpAdvance:
		return c.Op.String() + " " + c.Advance.String()
	case OpNetwork, OpAirplane, OpIgnoreNITZ:
		if c.On {
			return c.Op.String() + " on"
		}
		return c.Op.String() + " off"
	default:
		return c.Op.String()
	}
}

// Parse reads a whole script.
func Parse(r io.Reader) ([]Command, error) {
	var cmds []Command
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		cmd, err := parseLine(text)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrSyntax, line, err)
		}
		cmd.Line = line
		cmds = append(cmds, cmd)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading script: %w", err)
	}
	return cmds, nil
}

func parseLine(text string) (Command, error) {
	fields := strings.Fields(text)
	op, ok := opNames[strings.ToLower(fields[0])]
	if !ok {
		return Command{}, fmt.Errorf("unknown command %q", fields[0])
	}
	args := fields[1:]
	cmd := Command{Op: op}

	switch op {
	case OpTestNetwork, OpNoCountry:
		if len(args) != 0 {
			return Command{}, fmt.Errorf("%s takes no arguments", op)
		}
	case OpCountry:
		if len(args) != 1 {
			return Command{}, errors.New("country needs one ISO code")
		}
		cmd.Arg = args[0]
	case OpNITZ:
		if len(args) < 1 || len(args) > 2 {
			return Command{}, errors.New("nitz needs a wire string and an optional @elapsed")
		}
		cmd.Arg = args[0]
		if len(args) == 2 {
			ms, err := parseElapsed(args[1])
			if err != nil {
				return Command{}, err
			}
			cmd.ElapsedMs = ms
			cmd.HasElapsed = true
		}
	case OpAdvance:
		if len(args) != 1 {
			return Command{}, errors.New("advance needs a duration")
		}
		d, err := time.ParseDuration(args[0])
		if err != nil {
			return Command{}, fmt.Errorf("advance: %w", err)
		}
		if d < 0 {
			return Command{}, errors.New("advance: clocks only move forward")
		}
		cmd.Advance = d
	case OpNetwork, OpAirplane, OpIgnoreNITZ:
		if len(args) != 1 {
			return Command{}, fmt.Errorf("%s needs on or off", op)
		}
		switch strings.ToLower(args[0]) {
		case "on":
			cmd.On = true
		case "off":
		default:
			return Command{}, fmt.Errorf("%s needs on or off, got %q", op, args[0])
		}
	}
	return cmd, nil
}

func parseElapsed(arg string) (int64, error) {
	v, ok := strings.CutPrefix(arg, "@")
	if !ok {
		return 0, fmt.Errorf("elapsed time %q must start with @", arg)
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("elapsed time %q is negative", arg)
		}
		return ms, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("elapsed time %q is neither milliseconds nor a duration", arg)
	}
	return d.Milliseconds(), nil
}
