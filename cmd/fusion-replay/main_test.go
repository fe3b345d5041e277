package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/bodyfusion/internal/capture"
	"github.com/banshee-data/bodyfusion/internal/monitoring"
	"github.com/banshee-data/bodyfusion/internal/skeleton"
	"github.com/banshee-data/bodyfusion/internal/storage/sqlite"
	"github.com/banshee-data/bodyfusion/internal/testutil"
	"github.com/banshee-data/bodyfusion/internal/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

// writeRecording writes the two-device walkthrough: both devices see one
// person, then devB loses them, then devA does.
func writeRecording(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "walkthrough.jsonl")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	a := testutil.Standing(testutil.Marker("devA", 1), r3.Vec{})
	b := testutil.Standing(testutil.Marker("devB", 7), r3.Vec{})
	enc := capture.NewEncoder(f)
	frames := []capture.Frame{
		{Serial: "devA", Cycle: 1, Observations: []skeleton.Observation{a}},
		{Serial: "devB", Cycle: 1, Observations: []skeleton.Observation{b}},
		{Serial: "devA", Cycle: 2, Observations: []skeleton.Observation{a}},
		{Serial: "devB", Cycle: 2},
		{Serial: "devA", Cycle: 3},
		{Serial: "devB", Cycle: 3},
	}
	for _, fr := range frames {
		require.NoError(t, enc.Encode(fr))
	}
	return path
}

func TestRun(t *testing.T) {
	monitoring.SetLogger(nil)
	dir := t.TempDir()
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	opts := options{
		recording: writeRecording(t, dir),
		dbPath:    filepath.Join(dir, "fusion.db"),
		chartPath: filepath.Join(dir, "cycles.html"),
		plotPath:  filepath.Join(dir, "tracks.png"),
		dominant:  "devB",
		interval:  33 * time.Millisecond,
		clock:     clock,
	}
	sum, err := run(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Cycles)
	assert.Equal(t, 1, sum.Created)
	assert.Equal(t, 1, sum.Evicted)
	assert.Equal(t, 1, sum.PeakBodies)
	assert.Equal(t, 0, sum.Final)
	assert.NotEmpty(t, sum.RunID)
	assert.Equal(t, []time.Duration{33 * time.Millisecond, 33 * time.Millisecond, 33 * time.Millisecond}, clock.Sleeps())
	assert.Equal(t, 99*time.Millisecond, sum.Elapsed)

	for _, p := range []string{opts.chartPath, opts.plotPath} {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.NotZero(t, info.Size(), p)
	}

	store, err := sqlite.Open(opts.dbPath)
	require.NoError(t, err)
	defer store.Close()
	cycles, err := store.ListCycles(sum.RunID)
	require.NoError(t, err)
	require.Len(t, cycles, 3)
	assert.Equal(t, 2, cycles[0].RealBodies)
	assert.Equal(t, 1, cycles[1].RealBodies)
	assert.Equal(t, 0, cycles[2].Bodies)

	var out bytes.Buffer
	printSummary(&out, sum)
	assert.Contains(t, out.String(), "final bodies: 0")
}

func TestRunErrors(t *testing.T) {
	monitoring.SetLogger(nil)
	dir := t.TempDir()
	recording := writeRecording(t, dir)

	_, err := run(context.Background(), options{recording: filepath.Join(dir, "missing.jsonl")})
	assert.Error(t, err)

	_, err = run(context.Background(), options{recording: recording, dominant: "devZ"})
	assert.ErrorIs(t, err, capture.ErrUnknownSource)

	_, err = run(context.Background(), options{recording: recording, configPath: filepath.Join(dir, "tuning.yaml")})
	assert.Error(t, err)

	_, err = run(context.Background(), options{recording: recording, chartPath: "/proc/cycles.html"})
	assert.Error(t, err, "outputs are confined to the temp and working directories")
}
