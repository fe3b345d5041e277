package fusion

import (
	"github.com/banshee-data/bodyfusion/internal/skeleton"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"
)

// fuseSamples combines one joint across contributors.
//
// Position is the confidence-weighted mean. Orientation is the weighted
// mean of the four components renormalised to unit length; this is only a
// good rotation average when the inputs are close together. With
// alignSigns each quaternion is first flipped into the hemisphere of the
// first sample, which removes the q / -q ambiguity but is still not a
// manifold mean. Confidence is the mean weight mapped to the nearest level.
//
// When every weight is zero the unweighted mean is used.
func fuseSamples(index skeleton.JointName, samples []skeleton.JointSample, alignSigns bool) skeleton.JointSample {
	n := len(samples)
	weights := make([]float64, n)
	xs := make([]float64, n)
	ys := make([]float64, n)
	zs := make([]float64, n)
	qw := make([]float64, n)
	qi := make([]float64, n)
	qj := make([]float64, n)
	qk := make([]float64, n)

	ref := samples[0].Orientation
	for i, s := range samples {
		weights[i] = s.Confidence.Weight()
		xs[i], ys[i], zs[i] = s.Position.X, s.Position.Y, s.Position.Z

		q := s.Orientation
		if alignSigns && quatDot(q, ref) < 0 {
			q = quat.Scale(-1, q)
		}
		qw[i], qi[i], qj[i], qk[i] = q.Real, q.Imag, q.Jmag, q.Kmag
	}

	meanWeight := stat.Mean(weights, nil)
	w := weights
	if floats.Sum(weights) == 0 {
		w = nil
	}

	orientation := quat.Number{
		Real: stat.Mean(qw, w),
		Imag: stat.Mean(qi, w),
		Jmag: stat.Mean(qj, w),
		Kmag: stat.Mean(qk, w),
	}

	return skeleton.JointSample{
		Index:       index,
		Position:    r3.Vec{X: stat.Mean(xs, w), Y: stat.Mean(ys, w), Z: stat.Mean(zs, w)},
		Orientation: normaliseQuat(orientation),
		Confidence:  skeleton.ConfidenceFromWeight(meanWeight),
	}
}

func quatDot(a, b quat.Number) float64 {
	return a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag
}

// normaliseQuat scales q to unit length. A zero-length mean (opposite
// orientations cancelling) falls back to identity.
func normaliseQuat(q quat.Number) quat.Number {
	norm := quat.Abs(q)
	if norm == 0 {
		return skeleton.IdentityOrientation
	}
	return quat.Scale(1/norm, q)
}
