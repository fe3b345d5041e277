// Command fusion-replay replays a multi-device skeleton recording through
// the fusion manager and reports how logical bodies formed and dissolved.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/bodyfusion/internal/capture"
	"github.com/banshee-data/bodyfusion/internal/config"
	"github.com/banshee-data/bodyfusion/internal/fusion"
	"github.com/banshee-data/bodyfusion/internal/monitoring"
	"github.com/banshee-data/bodyfusion/internal/report"
	"github.com/banshee-data/bodyfusion/internal/security"
	"github.com/banshee-data/bodyfusion/internal/storage/sqlite"
	"github.com/banshee-data/bodyfusion/internal/timeutil"
	"github.com/banshee-data/bodyfusion/internal/version"
)

type options struct {
	recording  string
	configPath string
	dbPath     string
	chartPath  string
	plotPath   string
	dominant   string
	interval   time.Duration
	debug      bool

	clock timeutil.Clock
}

// summary is printed at the end of a replay.
type summary struct {
	RunID      string
	Cycles     int
	Created    int
	Evicted    int
	Dropped    int
	PeakBodies int
	Final      int
	Elapsed    time.Duration
}

func main() {
	var opts options
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.StringVar(&opts.recording, "recording", "", "JSON-lines skeleton recording (required)")
	flag.StringVar(&opts.configPath, "config", "", "tuning config JSON (defaults to built-in values)")
	flag.StringVar(&opts.dbPath, "db", "", "sqlite database to record the run into")
	flag.StringVar(&opts.chartPath, "chart", "", "write an HTML cycle chart to this path")
	flag.StringVar(&opts.plotPath, "plot", "", "write a PNG pelvis trajectory plot to this path")
	flag.StringVar(&opts.dominant, "dominant", "", "device serial to pop first each cycle")
	flag.DurationVar(&opts.interval, "interval", 0, "pace cycles at this period (e.g. 33ms); 0 replays as fast as possible")
	flag.BoolVar(&opts.debug, "debug", false, "log per-body lifecycle events")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("fusion-replay"))
		return
	}
	if opts.recording == "" {
		log.Fatal("-recording is required")
	}

	opts.clock = timeutil.RealClock{}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sum, err := run(ctx, opts)
	if err != nil {
		log.Fatalf("replay failed: %v", err)
	}
	printSummary(os.Stdout, sum)
}

func loadConfig(path string) (fusion.Config, error) {
	tuning := config.DefaultTuningConfig()
	if path != "" {
		var err error
		tuning, err = config.LoadTuningConfig(path)
		if err != nil {
			return fusion.Config{}, err
		}
	}
	return fusion.ConfigFromTuning(tuning)
}

func validateOutputs(opts options) error {
	for _, p := range []string{opts.dbPath, opts.chartPath, opts.plotPath} {
		if p == "" {
			continue
		}
		if err := security.ValidateOutputPath(p); err != nil {
			return err
		}
	}
	return nil
}

func run(ctx context.Context, opts options) (summary, error) {
	var sum summary
	monitoring.EnableDebug(opts.debug)
	if opts.clock == nil {
		opts.clock = timeutil.RealClock{}
	}
	if err := validateOutputs(opts); err != nil {
		return sum, err
	}

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return sum, err
	}
	mgr, err := fusion.NewManager(cfg)
	if err != nil {
		return sum, err
	}

	rec, err := capture.OpenRecording(opts.recording)
	if err != nil {
		return sum, err
	}
	hub := capture.NewHub()
	for _, src := range rec.Sources() {
		if err := hub.Add(src); err != nil {
			return sum, err
		}
	}
	if opts.dominant != "" {
		if err := hub.SetDominant(opts.dominant); err != nil {
			return sum, err
		}
	}
	first, last := rec.Cycles()
	log.Printf("replaying %s: %d devices, %d cycles in %d..%d", opts.recording, hub.Len(), rec.Len(), first, last)

	var store *sqlite.Store
	if opts.dbPath != "" {
		store, err = sqlite.Open(opts.dbPath, sqlite.WithClock(opts.clock))
		if err != nil {
			return sum, fmt.Errorf("open db: %w", err)
		}
		defer store.Close()
		if err := store.MigrateUp(); err != nil {
			return sum, err
		}
		sum.RunID, err = store.StartRun(opts.recording, mgr.Config())
		if err != nil {
			return sum, err
		}
		log.Printf("recording run %s into %s", sum.RunID, opts.dbPath)
	}

	recorder := report.NewTrajectoryRecorder()
	var history []fusion.CycleStats
	start := opts.clock.Now()
	for {
		cycleStart := opts.clock.Now()
		frames, err := hub.PopAll(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return sum, err
		}

		batch, _ := capture.Batch(frames)
		stats, err := mgr.Reconcile(batch)
		if err != nil {
			return sum, fmt.Errorf("cycle %d: %w", stats.Cycle, err)
		}
		history = append(history, stats)

		if store != nil {
			if err := store.RecordCycle(sum.RunID, stats, mgr.Bodies()); err != nil {
				return sum, err
			}
		}
		if err := recorder.Record(stats.Cycle, mgr.Bodies()); err != nil {
			return sum, err
		}

		sum.Cycles++
		sum.Created += stats.Created
		sum.Evicted += stats.Evicted
		sum.Dropped += stats.Dropped
		sum.PeakBodies = max(sum.PeakBodies, stats.Bodies)

		if opts.interval > 0 {
			if wait := opts.interval - opts.clock.Since(cycleStart); wait > 0 {
				opts.clock.Sleep(wait)
			}
		}
	}
	sum.Final = mgr.LogicalBodyCount()
	sum.Elapsed = opts.clock.Since(start)

	if opts.chartPath != "" {
		f, err := os.Create(opts.chartPath)
		if err != nil {
			return sum, fmt.Errorf("create chart: %w", err)
		}
		if err := report.CycleChart(f, opts.recording, history); err != nil {
			f.Close()
			return sum, err
		}
		if err := f.Close(); err != nil {
			return sum, err
		}
		log.Printf("wrote %s", opts.chartPath)
	}
	if opts.plotPath != "" {
		if err := report.TrajectoryPlot(opts.plotPath, opts.recording, recorder.Tracks()); err != nil {
			return sum, err
		}
		log.Printf("wrote %s", opts.plotPath)
	}
	return sum, nil
}

func printSummary(w io.Writer, s summary) {
	if s.RunID != "" {
		fmt.Fprintf(w, "run:          %s\n", s.RunID)
	}
	fmt.Fprintf(w, "cycles:       %d\n", s.Cycles)
	fmt.Fprintf(w, "bodies made:  %d\n", s.Created)
	fmt.Fprintf(w, "evicted:      %d\n", s.Evicted)
	fmt.Fprintf(w, "dropped obs:  %d\n", s.Dropped)
	fmt.Fprintf(w, "peak bodies:  %d\n", s.PeakBodies)
	fmt.Fprintf(w, "final bodies: %d\n", s.Final)
	fmt.Fprintf(w, "elapsed:      %s\n", s.Elapsed.Round(time.Millisecond))
}
