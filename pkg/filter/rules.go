package filter

import (
	"log/slog"

	"github.com/codeGROOVE-dev/nitzTZ/pkg/device"
	"github.com/codeGROOVE-dev/nitzTZ/pkg/nitz"
)

// Rule names, as reported in decisions, logs and metrics.
const (
	RuleIgnoreNITZ           = "ignore-nitz"
	RuleBogusElapsedRealtime = "bogus-elapsed-realtime"
	RuleNoOldSignal          = "no-old-signal"
	RuleRateLimit            = "rate-limit"
)

// Default builds the standard chain over the device's settings.
func Default(dev device.State, logger *slog.Logger) *Chain {
	return NewChain(logger,
		IgnoreNITZ(dev),
		BogusElapsedRealtime(dev),
		NoOldSignal(),
		RateLimit(dev),
	)
}

// IgnoreNITZ skips everything while the device policy says to ignore NITZ.
func IgnoreNITZ(dev device.State) Rule {
	return Rule{
		Name: RuleIgnoreNITZ,
		Evaluate: func(_ *nitz.Signal, _ nitz.Signal) Outcome {
			if dev.IgnoreNITZ() {
				return MustSkip
			}
			return NoOpinion
		},
	}
}

// BogusElapsedRealtime skips signals received "in the future" of the monotonic clock.
func BogusElapsedRealtime(dev device.State) Rule {
	return Rule{
		Name: RuleBogusElapsedRealtime,
		Evaluate: func(_ *nitz.Signal, cand nitz.Signal) Outcome {
			if cand.ReceivedAtMillis > dev.ElapsedRealtimeMillis() {
				return MustSkip
			}
			return NoOpinion
		},
	}
}

// NoOldSignal accepts the first signal and skips an exact repeat of the cached one.
func NoOldSignal() Rule {
	return Rule{
		Name: RuleNoOldSignal,
		Evaluate: func(prev *nitz.Signal, cand nitz.Signal) Outcome {
			switch {
			case prev == nil:
				return MustProcess
			case *prev == cand:
				return MustSkip
			default:
				return NoOpinion
			}
		},
	}
}

// RateLimit skips signals arriving too soon after the cached one unless
// they carry materially different information.
func RateLimit(dev device.State) Rule {
	return Rule{
		Name: RuleRateLimit,
		Evaluate: func(prev *nitz.Signal, cand nitz.Signal) Outcome {
			if prev == nil {
				return NoOpinion
			}
			spacing := cand.ReceivedAtMillis - prev.ReceivedAtMillis
			if spacing >= int64(dev.NITZUpdateSpacingMillis()) {
				return MustProcess
			}
			if !cand.SameOffsetInfo(*prev) {
				return MustProcess
			}
			diff := cand.UTCMillis - prev.UTCMillisAt(cand.ReceivedAtMillis)
			if diff < 0 {
				diff = -diff
			}
			if diff > int64(dev.NITZUpdateDiffMillis()) {
				return MustProcess
			}
			return MustSkip
		},
	}
}
