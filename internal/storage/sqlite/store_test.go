package sqlite

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/bodyfusion/internal/fusion"
	"github.com/banshee-data/bodyfusion/internal/monitoring"
	"github.com/banshee-data/bodyfusion/internal/skeleton"
	"github.com/banshee-data/bodyfusion/internal/testutil"
	"github.com/banshee-data/bodyfusion/internal/timeutil"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func init() {
	monitoring.SetLogger(nil)
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "fusion.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.MigrateUp())
	return s
}

// runCycles drives a manager through the given batches, recording each cycle.
func runCycles(t *testing.T, s *Store, runID string, batches ...[]skeleton.Observation) []fusion.CycleStats {
	t.Helper()
	m, err := fusion.NewManager(fusion.DefaultConfig())
	require.NoError(t, err)

	var all []fusion.CycleStats
	for _, batch := range batches {
		stats, err := m.Reconcile(batch)
		require.NoError(t, err)
		require.NoError(t, s.RecordCycle(runID, stats, m.Bodies()))
		all = append(all, stats)
	}
	return all
}

// ---------------------------------------------------------------------------
// Schema
// ---------------------------------------------------------------------------

func TestPragmasApplied(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)

	var journalMode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout int
	require.NoError(t, s.db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, 5000, busyTimeout)

	var foreignKeys int
	require.NoError(t, s.db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
	assert.Equal(t, 1, foreignKeys)
}

func TestMigrations(t *testing.T) {
	t.Parallel()

	s, err := Open(filepath.Join(t.TempDir(), "migrate.db"))
	require.NoError(t, err)
	defer s.Close()

	version, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
	assert.False(t, dirty)

	require.NoError(t, s.MigrateUp())
	require.NoError(t, s.MigrateUp(), "second run is a no-op")
	version, dirty, err = s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	for _, table := range []string{"fusion_runs", "fusion_cycles", "fused_bodies", "body_contributors"} {
		var n int
		require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n))
		assert.Equal(t, 1, n, table)
	}

	require.NoError(t, s.MigrateDown())
	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='fusion_runs'`).Scan(&n))
	assert.Equal(t, 0, n)
}

// ---------------------------------------------------------------------------
// Runs and cycles
// ---------------------------------------------------------------------------

func TestStartRun(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	id, err := s.StartRun("walkthrough.jsonl", fusion.DefaultConfig())
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	assert.NoError(t, err)

	runs, err := s.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)
	assert.Equal(t, "walkthrough.jsonl", runs[0].Source)
	assert.False(t, runs[0].StartedAt.IsZero())

	var cfg fusion.Config
	require.NoError(t, json.Unmarshal([]byte(runs[0].ConfigJSON), &cfg))
	assert.Equal(t, 0.5, cfg.DistanceThreshold)
	assert.Equal(t, skeleton.DefaultKeyJoints, cfg.KeyJoints)
}

func TestStartRunUsesClock(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	s, err := Open(filepath.Join(t.TempDir(), "clock.db"), WithClock(timeutil.NewMockClock(started)))
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.MigrateUp())

	_, err = s.StartRun("test", fusion.DefaultConfig())
	require.NoError(t, err)
	runs, err := s.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.WithinDuration(t, started, runs[0].StartedAt, time.Millisecond)
}

func TestRecordAndListCycles(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	runID, err := s.StartRun("test", fusion.DefaultConfig())
	require.NoError(t, err)

	a := testutil.Marker("devA", 1)
	b := testutil.Marker("devB", 7)
	want := runCycles(t, s, runID,
		[]skeleton.Observation{testutil.Standing(a, r3.Vec{}), testutil.Standing(b, r3.Vec{})},
		[]skeleton.Observation{testutil.Standing(a, r3.Vec{X: 0.1})},
		nil,
	)

	got, err := s.ListCycles(runID)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("cycle stats mismatch (-want +got):\n%s", diff)
	}

	other, err := s.ListCycles(uuid.NewString())
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestBodyTimeline(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	runID, err := s.StartRun("test", fusion.DefaultConfig())
	require.NoError(t, err)

	a := testutil.Marker("devA", 1)
	b := testutil.Marker("devB", 7)
	runCycles(t, s, runID,
		[]skeleton.Observation{testutil.Standing(a, r3.Vec{}), testutil.Standing(b, r3.Vec{X: 0.2})},
		[]skeleton.Observation{testutil.Standing(a, r3.Vec{X: 0.1})},
	)

	cycles, err := s.ListCycles(runID)
	require.NoError(t, err)
	require.Len(t, cycles, 2)

	var bodyID int64
	require.NoError(t, s.db.QueryRow(`SELECT body_id FROM fused_bodies WHERE run_id = ? LIMIT 1`, runID).Scan(&bodyID))

	timeline, err := s.BodyTimeline(runID, bodyID)
	require.NoError(t, err)
	require.Len(t, timeline, 2)

	assert.Equal(t, uint64(1), timeline[0].Cycle)
	assert.Equal(t, []skeleton.DeviceMarker{a, b}, timeline[0].Contributors)
	assert.InDelta(t, 0.1, timeline[0].Pelvis.X, 1e-9)

	assert.Equal(t, uint64(2), timeline[1].Cycle)
	assert.Equal(t, []skeleton.DeviceMarker{a}, timeline[1].Contributors)
	assert.InDelta(t, 0.1, timeline[1].Pelvis.X, 1e-9)
}

func TestRecordCycleUnknownRun(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	err := s.RecordCycle(uuid.NewString(), fusion.CycleStats{Cycle: 1}, nil)
	assert.Error(t, err, "foreign key on run_id")
}

func TestRecordCycleTwiceFails(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	runID, err := s.StartRun("test", fusion.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, s.RecordCycle(runID, fusion.CycleStats{Cycle: 1}, nil))
	assert.Error(t, s.RecordCycle(runID, fusion.CycleStats{Cycle: 1}, nil))
}

func TestDeleteRunCascades(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	runID, err := s.StartRun("test", fusion.DefaultConfig())
	require.NoError(t, err)
	runCycles(t, s, runID, []skeleton.Observation{testutil.Standing(testutil.Marker("devA", 1), r3.Vec{})})

	require.NoError(t, s.DeleteRun(runID))
	assert.Error(t, s.DeleteRun(runID))

	for _, table := range []string{"fusion_cycles", "fused_bodies", "body_contributors"} {
		var n int
		require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n))
		assert.Zero(t, n, table)
	}
}
