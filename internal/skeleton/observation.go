package skeleton

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrMalformedObservation is returned when an observation does not carry
// exactly JointCount joints indexed 0..JointCount-1.
var ErrMalformedObservation = errors.New("malformed observation")

// IdentityOrientation is the orientation reported for joints without one.
var IdentityOrientation = quat.Number{Real: 1}

// JointSample is one joint's observed state.
type JointSample struct {
	Index       JointName
	Position    r3.Vec      // metres, shared world frame
	Orientation quat.Number // unit quaternion (w = Real)
	Confidence  ConfidenceLevel
}

// Distance is the Euclidean distance between the two joint positions.
func (s JointSample) Distance(other JointSample) float64 {
	return r3.Norm(r3.Sub(s.Position, other.Position))
}

// OrientationDistance is the L2 distance over the four quaternion
// components. It is not an angle and does not treat q and -q as equal.
func (s JointSample) OrientationDistance(other JointSample) float64 {
	return quat.Abs(quat.Sub(s.Orientation, other.Orientation))
}

// DeviceMarker identifies a per-device detection across consecutive cycles.
// It is not a guarantee of real-world identity.
type DeviceMarker struct {
	DeviceSerial string
	BodyID       int64
}

func (m DeviceMarker) String() string {
	return fmt.Sprintf("%s: %d", m.DeviceSerial, m.BodyID)
}

// Less orders markers by device serial, then body id.
func (m DeviceMarker) Less(other DeviceMarker) bool {
	if m.DeviceSerial != other.DeviceSerial {
		return m.DeviceSerial < other.DeviceSerial
	}
	return m.BodyID < other.BodyID
}

// Skeleton is a complete, fixed-size set of joint samples.
type Skeleton [JointCount]JointSample

// Observation is one body detected by one device in one cycle. Treat it as
// immutable once constructed; the fusion core copies joint data out of it.
type Observation struct {
	Marker DeviceMarker
	Joints []JointSample
}

// NewObservation validates joints and returns an Observation holding a
// private copy of them.
func NewObservation(marker DeviceMarker, joints []JointSample) (Observation, error) {
	obs := Observation{Marker: marker, Joints: joints}
	if err := obs.Validate(); err != nil {
		return Observation{}, err
	}
	return obs.Clone(), nil
}

// FromSkeleton wraps a complete skeleton as an observation.
func FromSkeleton(marker DeviceMarker, sk Skeleton) Observation {
	joints := make([]JointSample, JointCount)
	copy(joints, sk[:])
	return Observation{Marker: marker, Joints: joints}
}

// Validate checks the joint count and that every joint sits at its own index.
func (o Observation) Validate() error {
	if len(o.Joints) != JointCount {
		return fmt.Errorf("%w: %s has %d joints, want %d", ErrMalformedObservation, o.Marker, len(o.Joints), JointCount)
	}
	for i, j := range o.Joints {
		if j.Index != JointName(i) {
			return fmt.Errorf("%w: %s joint %d carries index %d", ErrMalformedObservation, o.Marker, i, int(j.Index))
		}
	}
	return nil
}

// Joint returns the sample at index j. The observation must be valid.
func (o Observation) Joint(j JointName) JointSample {
	return o.Joints[j]
}

// Skeleton copies the joints into a fixed-size array. The observation must
// be valid.
func (o Observation) Skeleton() Skeleton {
	var sk Skeleton
	copy(sk[:], o.Joints)
	return sk
}

// Clone returns a deep copy.
func (o Observation) Clone() Observation {
	joints := make([]JointSample, len(o.Joints))
	copy(joints, o.Joints)
	return Observation{Marker: o.Marker, Joints: joints}
}
