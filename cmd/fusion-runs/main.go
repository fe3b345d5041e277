// Command fusion-runs inspects and maintains the sqlite history written by
// fusion-replay.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/bodyfusion/internal/storage/sqlite"
	"github.com/banshee-data/bodyfusion/internal/version"
)

var errUsage = errors.New("usage error")

func printHelp(w io.Writer) {
	fmt.Fprint(w, `Usage: fusion-runs -db <path> <command> [args]

Commands:
  migrate up             apply all pending migrations
  migrate down           roll back one migration
  migrate status         print the current schema version
  list                   list recorded runs, newest first
  cycles <run>           print per-cycle statistics of a run
  timeline <run> <body>  print one body id's pelvis track and contributors
  delete <run>           delete a run and everything recorded under it
`)
}

func main() {
	dbPath := flag.String("db", "fusion.db", "sqlite database path")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("fusion-runs"))
		return
	}

	store, err := sqlite.Open(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	if err := dispatch(os.Stdout, store, flag.Args()); err != nil {
		if errors.Is(err, errUsage) {
			printHelp(os.Stderr)
		}
		store.Close()
		log.Fatal(err)
	}
}

func dispatch(w io.Writer, store *sqlite.Store, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("%w: missing command", errUsage)
	}
	switch args[0] {
	case "migrate":
		if len(args) < 2 {
			return fmt.Errorf("%w: migrate needs up, down or status", errUsage)
		}
		return migrateCommand(w, store, args[1])
	case "list":
		return listRuns(w, store)
	case "cycles":
		if len(args) < 2 {
			return fmt.Errorf("%w: cycles needs a run id", errUsage)
		}
		return listCycles(w, store, args[1])
	case "timeline":
		if len(args) < 3 {
			return fmt.Errorf("%w: timeline needs a run id and a body id", errUsage)
		}
		bodyID, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return fmt.Errorf("%w: invalid body id %q", errUsage, args[2])
		}
		return bodyTimeline(w, store, args[1], bodyID)
	case "delete":
		if len(args) < 2 {
			return fmt.Errorf("%w: delete needs a run id", errUsage)
		}
		if err := store.DeleteRun(args[1]); err != nil {
			return err
		}
		fmt.Fprintf(w, "deleted run %s\n", args[1])
		return nil
	case "help":
		printHelp(w)
		return nil
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
}

func migrateCommand(w io.Writer, store *sqlite.Store, action string) error {
	switch action {
	case "up":
		if err := store.MigrateUp(); err != nil {
			return fmt.Errorf("migration up failed: %w", err)
		}
	case "down":
		if err := store.MigrateDown(); err != nil {
			return fmt.Errorf("migration down failed: %w", err)
		}
	case "status":
	default:
		return fmt.Errorf("%w: unknown migrate action %q", errUsage, action)
	}
	v, dirty, err := store.MigrateVersion()
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	fmt.Fprintf(w, "schema version: %d (dirty: %v)\n", v, dirty)
	return nil
}

func listRuns(w io.Writer, store *sqlite.Store) error {
	runs, err := store.Runs()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tSOURCE")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.ID, r.StartedAt.UTC().Format(time.RFC3339), r.Source)
	}
	return tw.Flush()
}

func listCycles(w io.Writer, store *sqlite.Store, runID string) error {
	cycles, err := store.ListCycles(runID)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CYCLE\tOBS\tDROPPED\tCREATED\tEVICTED\tMERGED\tBODIES\tREAL")
	for _, c := range cycles {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
			c.Cycle, c.Observations, c.Dropped, c.Created, c.Evicted, c.Merged, c.Bodies, c.RealBodies)
	}
	return tw.Flush()
}

func bodyTimeline(w io.Writer, store *sqlite.Store, runID string, bodyID int64) error {
	samples, err := store.BodyTimeline(runID, bodyID)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		return fmt.Errorf("body %d has no samples in run %s", bodyID, runID)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CYCLE\tX\tY\tZ\tCONTRIBUTORS")
	for _, s := range samples {
		fmt.Fprintf(tw, "%d\t%.3f\t%.3f\t%.3f\t%v\n", s.Cycle, s.Pelvis.X, s.Pelvis.Y, s.Pelvis.Z, s.Contributors)
	}
	return tw.Flush()
}
