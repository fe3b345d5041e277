package fusion

import (
	"errors"
	"fmt"
	"sort"

	"github.com/banshee-data/bodyfusion/internal/idpool"
	"github.com/banshee-data/bodyfusion/internal/monitoring"
	"github.com/banshee-data/bodyfusion/internal/skeleton"
)

// ErrInvariant is returned when the marker index and the live body set
// disagree. It indicates a lifecycle bug and is never patched silently.
var ErrInvariant = errors.New("fusion invariant violated")

// CycleStats summarises one Reconcile call.
type CycleStats struct {
	Cycle        uint64 `json:"cycle"`
	Observations int    `json:"observations"` // Observations supplied
	Dropped      int    `json:"dropped"`      // Malformed observations discarded
	Duplicates   int    `json:"duplicates"`   // Repeated markers; last one wins
	Stale        int    `json:"stale"`        // Mapped markers absent from the batch
	Updated      int    `json:"updated"`      // Mapped markers that still belong
	Detached     int    `json:"detached"`     // Mapped markers that no longer belong
	Rematched    int    `json:"rematched"`    // Unassigned observations joined to a live body
	Evicted      int    `json:"evicted"`      // Empty bodies destroyed
	Created      int    `json:"created"`      // New bodies
	Merged       int    `json:"merged"`       // New observations joined to a body created this cycle
	Bodies       int    `json:"bodies"`       // Live logical bodies after the cycle
	RealBodies   int    `json:"real_bodies"`  // Mapped markers after the cycle
}

// Manager reconciles per-device observations into logical bodies once per
// fusion cycle.
type Manager struct {
	cfg   Config
	pool  *idpool.Pool
	state *ledger
	cycle uint64
}

// ledger is the authoritative body set plus the marker reverse index.
type ledger struct {
	cfg     *Config
	bodies  map[idpool.ID]*Body
	markers map[skeleton.DeviceMarker]idpool.ID
}

// NewManager creates a manager with its own id pool.
func NewManager(cfg Config) (*Manager, error) {
	cfg = cfg.normalised()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid fusion config: %w", err)
	}
	m := &Manager{
		cfg:  cfg,
		pool: idpool.New(cfg.PoolName, idpool.WithCapacity(cfg.PoolCapacity), idpool.WithAutoScale(cfg.PoolAutoScale)),
	}
	m.state = newLedger(&m.cfg)
	return m, nil
}

func newLedger(cfg *Config) *ledger {
	return &ledger{
		cfg:     cfg,
		bodies:  make(map[idpool.ID]*Body),
		markers: make(map[skeleton.DeviceMarker]idpool.ID),
	}
}

// clone deep-copies contributor state for dry-run planning.
func (l *ledger) clone() *ledger {
	c := newLedger(l.cfg)
	for id, b := range l.bodies {
		c.bodies[id] = b.clone()
	}
	for mk, id := range l.markers {
		c.markers[mk] = id
	}
	return c
}

// Config returns the normalised configuration in use.
func (m *Manager) Config() Config { return m.cfg }

// Cycle is the number of completed Reconcile calls.
func (m *Manager) Cycle() uint64 { return m.cycle }

// LogicalBodyCount is the number of live bodies.
func (m *Manager) LogicalBodyCount() int { return len(m.state.bodies) }

// RealBodyCount is the number of mapped per-device markers.
func (m *Manager) RealBodyCount() int { return len(m.state.markers) }

// IDsInUse is the number of ids currently issued by the manager's pool.
func (m *Manager) IDsInUse() int { return m.pool.InUse() }

// Bodies returns the live bodies ordered by id.
func (m *Manager) Bodies() []*Body {
	return m.state.sortedBodies()
}

// Body looks up a live body by id.
func (m *Manager) Body(id idpool.ID) (*Body, bool) {
	b, ok := m.state.bodies[id]
	return b, ok
}

// RawBody returns the logical body that marker currently contributes to.
func (m *Manager) RawBody(marker skeleton.DeviceMarker) (*Body, bool) {
	id, ok := m.state.markers[marker]
	if !ok {
		return nil, false
	}
	b, ok := m.state.bodies[id]
	return b, ok
}

// RawObservation returns the unfused snapshot stored for marker.
func (m *Manager) RawObservation(marker skeleton.DeviceMarker) (skeleton.Observation, bool) {
	b, ok := m.RawBody(marker)
	if !ok {
		return skeleton.Observation{}, false
	}
	return b.Contributor(marker)
}

// FusedObservations returns every live body's fused skeleton in the
// per-device shape, ordered by id.
func (m *Manager) FusedObservations() ([]skeleton.Observation, error) {
	bodies := m.Bodies()
	out := make([]skeleton.Observation, 0, len(bodies))
	for _, b := range bodies {
		obs, err := b.AsObservation()
		if err != nil {
			return nil, err
		}
		out = append(out, obs)
	}
	return out, nil
}

// Reset destroys every body and clears the marker index.
func (m *Manager) Reset() error {
	var errs []error
	for _, b := range m.state.sortedBodies() {
		if err := b.Destroy(); err != nil {
			errs = append(errs, err)
		}
	}
	m.state = newLedger(&m.cfg)
	m.cycle = 0
	return errors.Join(errs...)
}

// Reconcile runs one fusion cycle over the complete set of observations
// visible this cycle. A marker absent from observations is gone.
//
// Malformed observations are dropped and counted; the rest of the cycle
// proceeds. ErrPoolExhausted (fixed-size pools only) is returned before any
// state is changed. ErrInvalidRelease and ErrInvariant abort the cycle.
func (m *Manager) Reconcile(observations []skeleton.Observation) (CycleStats, error) {
	stats := CycleStats{Cycle: m.cycle + 1, Observations: len(observations)}
	pending := m.collect(observations, &stats)

	if !m.pool.AutoScale() {
		if err := m.preflight(pending); err != nil {
			return stats, err
		}
	}

	l := m.state

	// Step 1: Drop stale markers.
	stats.Stale = l.dropStale(pending)

	// Step 2: Try to update existing mappings.
	unassigned := make(map[skeleton.DeviceMarker]skeleton.Observation, len(pending))
	for mk, obs := range pending {
		unassigned[mk] = obs
	}
	stats.Updated, stats.Detached = l.tryUpdate(unassigned)

	// Step 3: Re-match unassigned observations against live bodies.
	stats.Rematched = l.rematch(unassigned)

	// Step 4: Evict empty bodies.
	evicted, err := l.evictEmpty()
	stats.Evicted = evicted
	if err != nil {
		return stats, err
	}

	// Step 5: Create bodies for what is left.
	groups, merged := l.planNew(unassigned)
	stats.Merged = merged
	for _, b := range groups {
		id, err := m.pool.Acquire()
		if err != nil {
			return stats, fmt.Errorf("create body: %w", err)
		}
		b.bind(m.pool, id)
		l.bodies[id] = b
		for _, mk := range b.order {
			l.markers[mk] = id
		}
		monitoring.Debugf("fusion: cycle %d created %s from %v", stats.Cycle, b, b.order)
	}
	stats.Created = len(groups)

	stats.Bodies = len(l.bodies)
	stats.RealBodies = len(l.markers)
	m.cycle++

	if m.cfg.CheckInvariants {
		if err := m.CheckInvariants(); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// collect validates the batch and keys it by marker.
func (m *Manager) collect(observations []skeleton.Observation, stats *CycleStats) map[skeleton.DeviceMarker]skeleton.Observation {
	pending := make(map[skeleton.DeviceMarker]skeleton.Observation, len(observations))
	for _, obs := range observations {
		if err := obs.Validate(); err != nil {
			stats.Dropped++
			monitoring.Logf("fusion: cycle %d dropping observation: %v", stats.Cycle, err)
			continue
		}
		if _, dup := pending[obs.Marker]; dup {
			stats.Duplicates++
		}
		pending[obs.Marker] = obs
	}
	return pending
}

// preflight dry-runs the cycle on a copy of the ledger and fails if the
// fixed-size pool cannot supply the ids the cycle will need.
func (m *Manager) preflight(pending map[skeleton.DeviceMarker]skeleton.Observation) error {
	plan := m.state.clone()
	plan.dropStale(pending)
	unassigned := make(map[skeleton.DeviceMarker]skeleton.Observation, len(pending))
	for mk, obs := range pending {
		unassigned[mk] = obs
	}
	plan.tryUpdate(unassigned)
	plan.rematch(unassigned)
	freed := len(plan.emptyBodies())
	groups, _ := plan.planNew(unassigned)

	need := len(groups)
	if need > m.pool.Free()+freed {
		return fmt.Errorf("%w: cycle needs %d new ids, %d free and %d released by eviction",
			idpool.ErrPoolExhausted, need, m.pool.Free(), freed)
	}
	return nil
}

func (l *ledger) sortedBodies() []*Body {
	out := make([]*Body, 0, len(l.bodies))
	for _, b := range l.bodies {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id.Less(out[j].id) })
	return out
}

func sortedMarkers[V any](m map[skeleton.DeviceMarker]V) []skeleton.DeviceMarker {
	out := make([]skeleton.DeviceMarker, 0, len(m))
	for mk := range m {
		out = append(out, mk)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// dropStale removes mapped markers that are not in the batch.
func (l *ledger) dropStale(pending map[skeleton.DeviceMarker]skeleton.Observation) int {
	stale := 0
	for _, mk := range sortedMarkers(l.markers) {
		if _, ok := pending[mk]; ok {
			continue
		}
		id := l.markers[mk]
		if b, ok := l.bodies[id]; ok {
			b.RemoveContributor(mk)
		}
		delete(l.markers, mk)
		stale++
	}
	return stale
}

// tryUpdate refreshes mapped markers that still belong to their body and
// detaches those that do not. Consumed observations are removed from
// unassigned.
func (l *ledger) tryUpdate(unassigned map[skeleton.DeviceMarker]skeleton.Observation) (updated, detached int) {
	for _, mk := range sortedMarkers(unassigned) {
		id, mapped := l.markers[mk]
		if !mapped {
			continue
		}
		b := l.bodies[id]
		obs := unassigned[mk]

		if b.belongsAsUpdate(obs) {
			// Validated in collect; AddContributor cannot fail here.
			_ = b.AddContributor(obs)
			delete(unassigned, mk)
			updated++
			continue
		}

		b.RemoveContributor(mk)
		delete(l.markers, mk)
		detached++
		monitoring.Debugf("fusion: detached %s from %s", mk, id)
	}
	return updated, detached
}

// rematch assigns each unassigned observation to the closest live body it
// belongs to. An observation joins at most one body.
func (l *ledger) rematch(unassigned map[skeleton.DeviceMarker]skeleton.Observation) int {
	bodies := l.sortedBodies()
	rematched := 0
	for _, mk := range sortedMarkers(unassigned) {
		obs := unassigned[mk]
		best := closestBody(bodies, obs)
		if best == nil {
			continue
		}
		_ = best.AddContributor(obs)
		l.markers[mk] = best.id
		delete(unassigned, mk)
		rematched++
	}
	return rematched
}

// closestBody returns the non-empty body obs belongs to with the lowest
// match score. Ties go to the earlier body in the slice.
func closestBody(bodies []*Body, obs skeleton.Observation) *Body {
	var best *Body
	bestScore := 0.0
	for _, b := range bodies {
		if b.IsEmpty() {
			continue
		}
		ok, score := b.matchScore(obs)
		if !ok {
			continue
		}
		if best == nil || score < bestScore {
			best, bestScore = b, score
		}
	}
	return best
}

func (l *ledger) emptyBodies() []*Body {
	var out []*Body
	for _, b := range l.sortedBodies() {
		if b.IsEmpty() {
			out = append(out, b)
		}
	}
	return out
}

// evictEmpty destroys bodies with no contributors and purges any marker
// still pointing at them.
func (l *ledger) evictEmpty() (int, error) {
	empty := l.emptyBodies()
	if len(empty) == 0 {
		return 0, nil
	}

	gone := make(map[idpool.ID]bool, len(empty))
	var errs []error
	for _, b := range empty {
		id := b.id
		gone[id] = true
		delete(l.bodies, id)
		if err := b.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("evict %s: %w", id, err))
		}
		monitoring.Debugf("fusion: evicted %s", id)
	}
	for mk, id := range l.markers {
		if gone[id] {
			delete(l.markers, mk)
		}
	}
	return len(empty), errors.Join(errs...)
}

// planNew groups the remaining observations into new, unbound bodies. Each
// observation first tries the bodies already planned this cycle so that
// one person first seen by several devices at once becomes one body.
func (l *ledger) planNew(unassigned map[skeleton.DeviceMarker]skeleton.Observation) ([]*Body, int) {
	var planned []*Body
	merged := 0
	for _, mk := range sortedMarkers(unassigned) {
		obs := unassigned[mk]
		if b := closestBody(planned, obs); b != nil {
			_ = b.AddContributor(obs)
			merged++
			continue
		}
		b := newUnboundBody(l.cfg)
		_ = b.AddContributor(obs)
		planned = append(planned, b)
	}
	return planned, merged
}

// CheckInvariants verifies that every marker is a contributor of exactly
// the body it maps to, that every contributor is indexed, and that no live
// body is empty.
func (m *Manager) CheckInvariants() error {
	l := m.state
	contributors := 0
	for id, b := range l.bodies {
		if b.IsEmpty() {
			return fmt.Errorf("%w: %s is empty", ErrInvariant, id)
		}
		if b.id != id {
			return fmt.Errorf("%w: %s stored under %s", ErrInvariant, b.id, id)
		}
		for _, mk := range b.order {
			contributors++
			mapped, ok := l.markers[mk]
			if !ok {
				return fmt.Errorf("%w: contributor %s of %s is not indexed", ErrInvariant, mk, id)
			}
			if mapped != id {
				return fmt.Errorf("%w: contributor %s of %s indexed to %s", ErrInvariant, mk, id, mapped)
			}
		}
	}
	if contributors != len(l.markers) {
		return fmt.Errorf("%w: %d indexed markers, %d contributors", ErrInvariant, len(l.markers), contributors)
	}
	if m.pool.InUse() != len(l.bodies) {
		return fmt.Errorf("%w: %d ids in use for %d bodies", ErrInvariant, m.pool.InUse(), len(l.bodies))
	}
	return nil
}
