// Package sqlite persists fusion runs: one row per replay or live session,
// per-cycle statistics, and each logical body's pelvis position and
// contributors per cycle.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/banshee-data/bodyfusion/internal/fusion"
	"github.com/banshee-data/bodyfusion/internal/skeleton"
	"github.com/banshee-data/bodyfusion/internal/timeutil"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"
	_ "modernc.org/sqlite"
)

// Store wraps a sqlite database holding fusion history.
type Store struct {
	db    *sql.DB
	clock timeutil.Clock
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used to stamp runs.
func WithClock(c timeutil.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// Run describes one recorded fusion session.
type Run struct {
	ID         string
	Source     string
	StartedAt  time.Time
	ConfigJSON string
}

// BodySample is one logical body's state at the end of one cycle.
type BodySample struct {
	Cycle        uint64
	BodyID       int64
	Contributors []skeleton.DeviceMarker
	Pelvis       r3.Vec
}

// Open opens (creating if needed) the database at path and applies the
// connection PRAGMAs. Call MigrateUp before use.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; sqlite serialises writes anyway and PRAGMAs are per
	// connection.
	db.SetMaxOpenConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	s := &Store{db: db, clock: timeutil.RealClock{}}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func applyPragmas(db *sql.DB) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// StartRun records a new run and returns its id.
func (s *Store) StartRun(source string, cfg fusion.Config) (string, error) {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	id := uuid.NewString()
	_, err = s.db.Exec(`INSERT INTO fusion_runs (run_id, source, started_at, config_json) VALUES (?, ?, ?, ?)`,
		id, source, float64(s.clock.Now().UnixNano())/1e9, string(cfgJSON))
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}
	return id, nil
}

// Runs lists recorded runs, most recent first.
func (s *Store) Runs() ([]Run, error) {
	rows, err := s.db.Query(`SELECT run_id, source, started_at, config_json FROM fusion_runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r       Run
			started float64
		)
		if err := rows.Scan(&r.ID, &r.Source, &started, &r.ConfigJSON); err != nil {
			return nil, err
		}
		r.StartedAt = time.Unix(0, int64(started*1e9))
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run and everything recorded under it.
func (s *Store) DeleteRun(runID string) error {
	res, err := s.db.Exec(`DELETE FROM fusion_runs WHERE run_id = ?`, runID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// RecordCycle stores one cycle's statistics and the fused pelvis and
// contributors of each live body, in a single transaction.
func (s *Store) RecordCycle(runID string, stats fusion.CycleStats, bodies []*fusion.Body) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO fusion_cycles (
			run_id, cycle, observations, dropped, duplicates, stale, updated,
			detached, rematched, evicted, created, merged, bodies, real_bodies
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, int64(stats.Cycle), stats.Observations, stats.Dropped, stats.Duplicates, stats.Stale,
		stats.Updated, stats.Detached, stats.Rematched, stats.Evicted, stats.Created, stats.Merged,
		stats.Bodies, stats.RealBodies,
	)
	if err != nil {
		return fmt.Errorf("failed to insert cycle %d: %w", stats.Cycle, err)
	}

	for _, b := range bodies {
		pelvis, err := b.FusedJoint(skeleton.JointPelvis)
		if err != nil {
			return fmt.Errorf("cycle %d: %w", stats.Cycle, err)
		}
		id := b.ID().Value
		_, err = tx.Exec(`INSERT INTO fused_bodies (run_id, cycle, body_id, contributors, pelvis_x, pelvis_y, pelvis_z)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			runID, int64(stats.Cycle), id, b.Len(), pelvis.Position.X, pelvis.Position.Y, pelvis.Position.Z)
		if err != nil {
			return fmt.Errorf("failed to insert body %d: %w", id, err)
		}
		for _, mk := range b.Markers() {
			_, err = tx.Exec(`INSERT INTO body_contributors (run_id, cycle, body_id, device_serial, device_body_id)
				VALUES (?, ?, ?, ?, ?)`,
				runID, int64(stats.Cycle), id, mk.DeviceSerial, mk.BodyID)
			if err != nil {
				return fmt.Errorf("failed to insert contributor %s: %w", mk, err)
			}
		}
	}

	return tx.Commit()
}

// ListCycles returns the recorded statistics for runID in cycle order.
func (s *Store) ListCycles(runID string) ([]fusion.CycleStats, error) {
	rows, err := s.db.Query(`SELECT cycle, observations, dropped, duplicates, stale, updated,
			detached, rematched, evicted, created, merged, bodies, real_bodies
		FROM fusion_cycles WHERE run_id = ? ORDER BY cycle`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []fusion.CycleStats
	for rows.Next() {
		var (
			cs    fusion.CycleStats
			cycle int64
		)
		if err := rows.Scan(&cycle, &cs.Observations, &cs.Dropped, &cs.Duplicates, &cs.Stale, &cs.Updated,
			&cs.Detached, &cs.Rematched, &cs.Evicted, &cs.Created, &cs.Merged, &cs.Bodies, &cs.RealBodies); err != nil {
			return nil, err
		}
		cs.Cycle = uint64(cycle)
		out = append(out, cs)
	}
	return out, rows.Err()
}

// BodyTimeline returns every recorded cycle of one logical body id in
// cycle order. Ids are reused after eviction, so a timeline can span more
// than one person.
func (s *Store) BodyTimeline(runID string, bodyID int64) ([]BodySample, error) {
	rows, err := s.db.Query(`SELECT cycle, pelvis_x, pelvis_y, pelvis_z
		FROM fused_bodies WHERE run_id = ? AND body_id = ? ORDER BY cycle`, runID, bodyID)
	if err != nil {
		return nil, err
	}

	var out []BodySample
	for rows.Next() {
		var (
			sample BodySample
			cycle  int64
		)
		if err := rows.Scan(&cycle, &sample.Pelvis.X, &sample.Pelvis.Y, &sample.Pelvis.Z); err != nil {
			rows.Close()
			return nil, err
		}
		sample.Cycle = uint64(cycle)
		sample.BodyID = bodyID
		out = append(out, sample)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// MaxOpenConns is 1, so contributor rows are read after the body rows
	// are closed.
	for i := range out {
		markers, err := s.contributors(runID, out[i].Cycle, bodyID)
		if err != nil {
			return nil, err
		}
		out[i].Contributors = markers
	}
	return out, nil
}

func (s *Store) contributors(runID string, cycle uint64, bodyID int64) ([]skeleton.DeviceMarker, error) {
	rows, err := s.db.Query(`SELECT device_serial, device_body_id FROM body_contributors
		WHERE run_id = ? AND cycle = ? AND body_id = ? ORDER BY device_serial, device_body_id`,
		runID, int64(cycle), bodyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []skeleton.DeviceMarker
	for rows.Next() {
		var mk skeleton.DeviceMarker
		if err := rows.Scan(&mk.DeviceSerial, &mk.BodyID); err != nil {
			return nil, err
		}
		out = append(out, mk)
	}
	return out, rows.Err()
}
