package fusion

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/bodyfusion/internal/idpool"
	"github.com/banshee-data/bodyfusion/internal/skeleton"
)

var (
	// ErrEmptyBody is returned when fusing a body with no contributors.
	ErrEmptyBody = errors.New("body has no contributors")
	// ErrJointIndex is returned for a joint index outside the taxonomy.
	ErrJointIndex = errors.New("joint index out of range")
)

// LogicalBodySerial is the device serial reported by AsObservation.
const LogicalBodySerial = "LOGIC_BODY"

// unboundID marks a body that has not been given a pool id yet.
var unboundID = idpool.ID{Value: -1}

// Body is a persistent logical identity backed by one snapshot per
// contributing device detection.
type Body struct {
	id   idpool.ID
	pool *idpool.Pool
	cfg  *Config

	// contributors is keyed by marker; order keeps insertion order for
	// deterministic iteration.
	contributors map[skeleton.DeviceMarker]*skeleton.Skeleton
	order        []skeleton.DeviceMarker

	destroyed bool
}

// NewBody acquires an id from pool and seeds the body with obs.
func NewBody(pool *idpool.Pool, cfg Config, obs skeleton.Observation) (*Body, error) {
	cfg = cfg.normalised()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid fusion config: %w", err)
	}
	b := newUnboundBody(&cfg)
	if err := b.AddContributor(obs); err != nil {
		return nil, err
	}
	id, err := pool.Acquire()
	if err != nil {
		return nil, err
	}
	b.bind(pool, id)
	return b, nil
}

func newUnboundBody(cfg *Config) *Body {
	return &Body{
		id:           unboundID,
		cfg:          cfg,
		contributors: make(map[skeleton.DeviceMarker]*skeleton.Skeleton),
	}
}

func (b *Body) bind(pool *idpool.Pool, id idpool.ID) {
	b.pool = pool
	b.id = id
}

// clone copies contributor state. The clone shares id and pool but must
// never be destroyed; it exists for dry-run planning only.
func (b *Body) clone() *Body {
	c := &Body{
		id:           b.id,
		cfg:          b.cfg,
		contributors: make(map[skeleton.DeviceMarker]*skeleton.Skeleton, len(b.contributors)),
		order:        append([]skeleton.DeviceMarker(nil), b.order...),
		destroyed:    b.destroyed,
	}
	for mk, sk := range b.contributors {
		cp := *sk
		c.contributors[mk] = &cp
	}
	return c
}

// ID returns the body's logical id, or the pool's invalid sentinel once
// the body has been destroyed.
func (b *Body) ID() idpool.ID { return b.id }

// Destroyed reports whether Destroy has released the id.
func (b *Body) Destroyed() bool { return b.destroyed }

// Len is the number of contributing detections.
func (b *Body) Len() int { return len(b.order) }

// IsEmpty reports whether the body has no contributors.
func (b *Body) IsEmpty() bool { return len(b.order) == 0 }

// Markers returns contributor markers in insertion order.
func (b *Body) Markers() []skeleton.DeviceMarker {
	return append([]skeleton.DeviceMarker(nil), b.order...)
}

// DeviceSerials returns the serial of each contributor in insertion order.
func (b *Body) DeviceSerials() []string {
	out := make([]string, len(b.order))
	for i, mk := range b.order {
		out[i] = mk.DeviceSerial
	}
	return out
}

// HasContributor reports whether marker contributes to the body.
func (b *Body) HasContributor(marker skeleton.DeviceMarker) bool {
	_, ok := b.contributors[marker]
	return ok
}

// Contributor returns the raw, unfused snapshot stored for marker.
func (b *Body) Contributor(marker skeleton.DeviceMarker) (skeleton.Observation, bool) {
	sk, ok := b.contributors[marker]
	if !ok {
		return skeleton.Observation{}, false
	}
	return skeleton.FromSkeleton(marker, *sk), true
}

// AddContributor inserts or overwrites the snapshot for obs.Marker. It
// performs no matching; callers check Belongs first where it matters.
func (b *Body) AddContributor(obs skeleton.Observation) error {
	if err := obs.Validate(); err != nil {
		return err
	}
	sk := obs.Skeleton()
	if existing, ok := b.contributors[obs.Marker]; ok {
		*existing = sk
		return nil
	}
	b.contributors[obs.Marker] = &sk
	b.order = append(b.order, obs.Marker)
	return nil
}

// RemoveContributor deletes the snapshot for marker. Absent markers are a no-op.
func (b *Body) RemoveContributor(marker skeleton.DeviceMarker) {
	if _, ok := b.contributors[marker]; !ok {
		return
	}
	delete(b.contributors, marker)
	for i, mk := range b.order {
		if mk == marker {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// Belongs reports whether obs matches any existing view of this body on at
// least MinMatchedKeyJoints key joints. A key joint matches when a single
// contributor is inside both the position and orientation gates. An empty
// body never matches.
func (b *Body) Belongs(obs skeleton.Observation) bool {
	matched, _ := b.match(obs, nil)
	return matched >= b.cfg.MinMatchedKeyJoints
}

// belongsAsUpdate is Belongs for a marker that already contributes. Its own
// previous snapshot is ignored unless it is the only contributor, so a view
// that drifts away from the others is detached instead of matching itself.
func (b *Body) belongsAsUpdate(obs skeleton.Observation) bool {
	var skip *skeleton.DeviceMarker
	if b.HasContributor(obs.Marker) && len(b.order) > 1 {
		skip = &obs.Marker
	}
	matched, _ := b.match(obs, skip)
	return matched >= b.cfg.MinMatchedKeyJoints
}

// matchScore returns whether obs belongs and the mean distance from each
// matched key joint to its nearest gated contributor. Lower is closer.
func (b *Body) matchScore(obs skeleton.Observation) (bool, float64) {
	matched, score := b.match(obs, nil)
	return matched >= b.cfg.MinMatchedKeyJoints, score
}

func (b *Body) match(obs skeleton.Observation, skip *skeleton.DeviceMarker) (int, float64) {
	if b.IsEmpty() || len(obs.Joints) != skeleton.JointCount {
		return 0, math.Inf(1)
	}

	matched := 0
	total := 0.0
	for _, j := range b.cfg.KeyJoints {
		candidate := obs.Joints[j]
		best := math.Inf(1)
		for _, mk := range b.order {
			if skip != nil && mk == *skip {
				continue
			}
			ref := b.contributors[mk][j]
			d := candidate.Distance(ref)
			if d >= b.cfg.DistanceThreshold {
				continue
			}
			if candidate.OrientationDistance(ref) >= b.cfg.OrientationThreshold {
				continue
			}
			if d < best {
				best = d
			}
		}
		if !math.IsInf(best, 1) {
			matched++
			total += best
		}
	}

	if matched == 0 {
		return 0, math.Inf(1)
	}
	return matched, total / float64(matched)
}

// FusedJoint returns the confidence-weighted fusion of every contributor's
// sample at index.
func (b *Body) FusedJoint(index skeleton.JointName) (skeleton.JointSample, error) {
	if !index.Valid() {
		return skeleton.JointSample{}, fmt.Errorf("%w: %d", ErrJointIndex, int(index))
	}
	if b.IsEmpty() {
		return skeleton.JointSample{}, fmt.Errorf("%w: %s", ErrEmptyBody, b.id)
	}

	samples := make([]skeleton.JointSample, len(b.order))
	for i, mk := range b.order {
		samples[i] = b.contributors[mk][index]
	}
	return fuseSamples(index, samples, b.cfg.AlignQuaternionSigns), nil
}

// FusedSkeleton fuses every joint.
func (b *Body) FusedSkeleton() (skeleton.Skeleton, error) {
	var sk skeleton.Skeleton
	if b.IsEmpty() {
		return sk, fmt.Errorf("%w: %s", ErrEmptyBody, b.id)
	}
	for i := range sk {
		j, err := b.FusedJoint(skeleton.JointName(i))
		if err != nil {
			return sk, err
		}
		sk[i] = j
	}
	return sk, nil
}

// AsObservation presents the fused skeleton in the per-device shape, with
// marker {LogicalBodySerial, id}.
func (b *Body) AsObservation() (skeleton.Observation, error) {
	sk, err := b.FusedSkeleton()
	if err != nil {
		return skeleton.Observation{}, err
	}
	marker := skeleton.DeviceMarker{DeviceSerial: LogicalBodySerial, BodyID: b.id.Value}
	return skeleton.FromSkeleton(marker, sk), nil
}

// Destroy releases the id back to its pool. Later ID calls return the
// sentinel. Destroying twice, or destroying an unbound body, is a no-op.
func (b *Body) Destroy() error {
	if b.destroyed || b.pool == nil {
		return nil
	}
	err := b.pool.Release(b.id)
	b.id = b.pool.InvalidID()
	b.destroyed = true
	return err
}

func (b *Body) String() string {
	return fmt.Sprintf("body %s (%d contributors)", b.id, len(b.order))
}
