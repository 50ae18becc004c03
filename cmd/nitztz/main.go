// Package main implements the nitztz CLI: it replays an event script against
// one state machine on a simulated clock and prints every suggestion.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/codeGROOVE-dev/nitzTZ/pkg/device"
	"github.com/codeGROOVE-dev/nitzTZ/pkg/nitz"
	"github.com/codeGROOVE-dev/nitzTZ/pkg/nitztz"
	"github.com/codeGROOVE-dev/nitzTZ/pkg/replay"
	"github.com/codeGROOVE-dev/nitzTZ/pkg/suggest"
	"github.com/codeGROOVE-dev/nitzTZ/pkg/tzconvert"
	"github.com/codeGROOVE-dev/nitzTZ/pkg/tzlookup"
)

var (
	start     = flag.String("start", "", "Simulated wall-clock start, RFC3339 (default now)")
	slot      = flag.Int("slot", 0, "Radio slot index")
	spacing   = flag.Int("spacing", int(device.DefaultNITZUpdateSpacingMillis), "NITZ update spacing in milliseconds")
	diff      = flag.Int("diff", int(device.DefaultNITZUpdateDiffMillis), "NITZ update difference in milliseconds")
	table     = flag.String("table", "", "Country zone table YAML (default embedded)")
	countries = flag.Bool("countries", false, "List known countries and exit")
	noColor   = flag.Bool("no-color", false, "Disable colored output")
	verbose   = flag.Bool("verbose", false, "Enable verbose logging")
	version   = flag.Bool("version", false, "Show version")
)

var (
	cmdColor  = color.New(color.FgHiBlack)
	timeColor = color.New(color.FgBlue)
	zoneColor = color.New(color.FgGreen, color.Bold)
	noneColor = color.New(color.FgYellow)
	warnColor = color.New(color.FgRed)
)

// printer is a sink that prints suggestions as they are emitted.
type printer struct {
	out     io.Writer
	machine func() *nitztz.StateMachine
}

func (p *printer) SuggestDeviceTime(s suggest.TimeSuggestion) {
	if s.IsEmpty() {
		noneColor.Fprintf(p.out, "  time     withdrawn\n") //nolint:errcheck // terminal output
		return
	}
	utc := time.UnixMilli(s.UTCTime.UTCMillis).UTC()
	line := fmt.Sprintf("  time     %s (ref %dms)", utc.Format(time.RFC3339), s.UTCTime.ReferenceMillis)
	if sig, ok := p.machine().CachedNITZ(); ok {
		local := time.UnixMilli(tzconvert.UTCToLocal(s.UTCTime.UTCMillis, sig.LocalOffsetMillis)).UTC()
		line += fmt.Sprintf(", local %s %s", local.Format("15:04:05"), tzconvert.FormatOffset(sig.LocalOffsetMillis))
	}
	timeColor.Fprintln(p.out, line) //nolint:errcheck // terminal output
}

func (p *printer) SuggestDeviceTimeZone(s suggest.TimeZoneSuggestion) {
	if s.IsEmpty() {
		noneColor.Fprintf(p.out, "  zone     none (%s)\n", strings.Join(s.DebugInfo, "; ")) //nolint:errcheck // terminal output
		return
	}
	zoneColor.Fprintf(p.out, "  zone     %s", s.ZoneID) //nolint:errcheck // terminal output
	fmt.Fprintf(p.out, " [%s, %s]\n", s.MatchType, s.Quality) //nolint:errcheck // terminal output
	if *verbose {
		for _, d := range s.DebugInfo {
			cmdColor.Fprintf(p.out, "           %s\n", d) //nolint:errcheck // terminal output
		}
	}
}

func main() {
	flag.Parse()

	if *version {
		fmt.Println("nitzTZ CLI v1.0.0")
		return
	}
	if *noColor {
		color.NoColor = true
	}

	level := slog.LevelError
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	lookup, err := newLookup(logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *countries {
		fmt.Println(strings.Join(lookup.Countries(), " "))
		return
	}

	args := flag.Args()
	if len(args) != 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <script|->\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	if err := run(args[0], lookup, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLookup(logger *slog.Logger) (*tzlookup.Lookup, error) {
	opts := []tzlookup.Option{tzlookup.WithLogger(logger)}
	if *table != "" {
		f, err := os.Open(*table)
		if err != nil {
			return nil, fmt.Errorf("opening country table: %w", err)
		}
		defer func() { _ = f.Close() }() //nolint:errcheck // read-only file
		opts = append(opts, tzlookup.WithTable(f))
	}
	return tzlookup.New(opts...)
}

func readScript(path string) ([]replay.Command, error) {
	if path == "-" {
		return replay.Parse(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening script: %w", err)
	}
	defer func() { _ = f.Close() }() //nolint:errcheck // read-only file
	return replay.Parse(f)
}

func run(path string, lookup *tzlookup.Lookup, logger *slog.Logger) error {
	cmds, err := readScript(path)
	if err != nil {
		return err
	}

	begin := time.Now().UTC()
	if *start != "" {
		begin, err = time.Parse(time.RFC3339, *start)
		if err != nil {
			return fmt.Errorf("parsing -start: %w", err)
		}
	}

	p := &printer{out: os.Stdout}
	r := replay.NewRunner(begin, *slot, p, logger, nitztz.WithLookup(lookup))
	p.machine = r.Machine
	r.Device().SetThresholds(int32(*spacing), int32(*diff)) //nolint:gosec // flag values are small

	for _, cmd := range cmds {
		cmdColor.Fprintf(os.Stdout, "%4d %s\n", cmd.Line, cmd) //nolint:errcheck // terminal output
		if err := r.Step(cmd); err != nil {
			if errors.Is(err, nitz.ErrInvalid) {
				warnColor.Fprintf(os.Stdout, "  discarded %v\n", err) //nolint:errcheck // terminal output
				continue
			}
			return err
		}
	}

	if n := r.Discarded(); n > 0 {
		fmt.Printf("%d malformed NITZ string(s) discarded\n", n)
	}
	return nil
}
