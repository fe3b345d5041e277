package main

import (
	"bytes"
	"errors"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/banshee-data/bodyfusion/internal/fusion"
	"github.com/banshee-data/bodyfusion/internal/monitoring"
	"github.com/banshee-data/bodyfusion/internal/skeleton"
	"github.com/banshee-data/bodyfusion/internal/storage/sqlite"
	"github.com/banshee-data/bodyfusion/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func seededStore(t *testing.T) (*sqlite.Store, string, int64) {
	t.Helper()
	monitoring.SetLogger(nil)
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.MigrateUp())

	runID, err := store.StartRun("walkthrough.jsonl", fusion.DefaultConfig())
	require.NoError(t, err)

	m, err := fusion.NewManager(fusion.DefaultConfig())
	require.NoError(t, err)
	obs := []skeleton.Observation{testutil.Standing(testutil.Marker("devA", 1), r3.Vec{X: 0.25})}
	for range 2 {
		stats, err := m.Reconcile(obs)
		require.NoError(t, err)
		require.NoError(t, store.RecordCycle(runID, stats, m.Bodies()))
	}
	require.Len(t, m.Bodies(), 1)
	return store, runID, m.Bodies()[0].ID().Value
}

func TestDispatch(t *testing.T) {
	store, runID, bodyID := seededStore(t)

	var out bytes.Buffer
	require.NoError(t, dispatch(&out, store, []string{"list"}))
	assert.Contains(t, out.String(), runID)
	assert.Contains(t, out.String(), "walkthrough.jsonl")

	out.Reset()
	require.NoError(t, dispatch(&out, store, []string{"cycles", runID}))
	assert.Contains(t, out.String(), "CYCLE")
	assert.Equal(t, 3, bytes.Count(out.Bytes(), []byte("\n")), "header plus two cycles")

	out.Reset()
	require.NoError(t, dispatch(&out, store, []string{"timeline", runID, strconv.FormatInt(bodyID, 10)}))
	assert.Contains(t, out.String(), "0.250")
	assert.Contains(t, out.String(), "devA: 1")

	out.Reset()
	require.NoError(t, dispatch(&out, store, []string{"migrate", "status"}))
	assert.Equal(t, "schema version: 1 (dirty: false)\n", out.String())

	out.Reset()
	require.NoError(t, dispatch(&out, store, []string{"delete", runID}))
	require.NoError(t, dispatch(&out, store, []string{"list"}))
	assert.NotContains(t, out.String(), "walkthrough.jsonl")
}

func TestDispatchErrors(t *testing.T) {
	store, runID, _ := seededStore(t)

	tests := []struct {
		name  string
		args  []string
		usage bool
	}{
		{"no command", nil, true},
		{"unknown command", []string{"frobnicate"}, true},
		{"migrate without action", []string{"migrate"}, true},
		{"unknown migrate action", []string{"migrate", "sideways"}, true},
		{"cycles without run", []string{"cycles"}, true},
		{"timeline bad body", []string{"timeline", runID, "x"}, true},
		{"timeline unknown body", []string{"timeline", runID, "4242"}, false},
		{"delete unknown run", []string{"delete", "nope"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := dispatch(&out, store, tt.args)
			require.Error(t, err)
			assert.Equal(t, tt.usage, errors.Is(err, errUsage))
		})
	}
}
