// Package filter decides whether a newly received NITZ signal should
// replace the one currently cached.
package filter

import (
	"fmt"
	"log/slog"

	"github.com/codeGROOVE-dev/nitzTZ/pkg/nitz"
)

// Outcome is a rule's verdict on a candidate signal.
type Outcome int

const (
	// NoOpinion defers to the next rule.
	NoOpinion Outcome = iota
	// MustProcess accepts the candidate.
	MustProcess
	// MustSkip rejects the candidate.
	MustSkip
)

func (o Outcome) String() string {
	switch o {
	case NoOpinion:
		return "no-opinion"
	case MustProcess:
		return "must-process"
	case MustSkip:
		return "must-skip"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// DefaultRuleName names the decision reached when every rule abstained.
const DefaultRuleName = "default"

// Rule is one independent check. prev is nil when no signal is cached.
type Rule struct {
	Evaluate func(prev *nitz.Signal, cand nitz.Signal) Outcome
	Name     string
}

// Decision is the chain's verdict and the rule that reached it.
type Decision struct {
	Rule   string
	Accept bool
}

// Chain evaluates rules in order and stops at the first opinion.
type Chain struct {
	logger *slog.Logger
	rules  []Rule
}

// NewChain builds a chain; a nil logger means slog.Default().
func NewChain(logger *slog.Logger, rules ...Rule) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{rules: rules, logger: logger}
}

// Evaluate runs the chain. With no opinion from any rule the candidate is accepted.
func (c *Chain) Evaluate(prev *nitz.Signal, cand nitz.Signal) Decision {
	for _, r := range c.rules {
		switch c.run(r, prev, cand) {
		case MustProcess:
			return Decision{Accept: true, Rule: r.Name}
		case MustSkip:
			return Decision{Accept: false, Rule: r.Name}
		default:
		}
	}
	return Decision{Accept: true, Rule: DefaultRuleName}
}

// run evaluates one rule; a panicking rule counts as NoOpinion.
func (c *Chain) run(r Rule, prev *nitz.Signal, cand nitz.Signal) (out Outcome) {
	defer func() {
		if p := recover(); p != nil {
			c.logger.Warn("filter rule failed, treating as no opinion",
				"rule", r.Name, "panic", fmt.Sprint(p), "signal", cand.String())
			out = NoOpinion
		}
	}()
	return r.Evaluate(prev, cand)
}

// Rules returns the rule names in evaluation order.
func (c *Chain) Rules() []string {
	names := make([]string, len(c.rules))
	for i, r := range c.rules {
		names[i] = r.Name
	}
	return names
}
