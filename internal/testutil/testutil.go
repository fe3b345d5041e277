// Package testutil provides shared test fixtures for skeleton observations.
//
// This package centralises the synthetic body builders used across the
// fusion, capture, storage and report tests so every package exercises the
// same joint layout.
package testutil

import (
	"testing"

	"github.com/banshee-data/bodyfusion/internal/skeleton"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// restPose holds joint offsets (metres) from the pelvis for a standing body
// facing +Z. Only the torso is anatomically careful; limbs just need to be
// distinct.
var restPose = [skeleton.JointCount]r3.Vec{
	{X: 0, Y: 0, Z: 0},         // pelvis
	{X: 0, Y: 0.20, Z: 0},      // spine navel
	{X: 0, Y: 0.40, Z: 0},      // spine chest
	{X: 0, Y: 0.60, Z: 0},      // neck
	{X: -0.05, Y: 0.55, Z: 0},  // left clavicle
	{X: -0.18, Y: 0.55, Z: 0},  // left shoulder
	{X: -0.20, Y: 0.30, Z: 0},  // left elbow
	{X: -0.22, Y: 0.05, Z: 0},  // left wrist
	{X: -0.22, Y: -0.02, Z: 0}, // left hand
	{X: -0.22, Y: -0.08, Z: 0}, // left handtip
	{X: -0.20, Y: -0.03, Z: 0.03},
	{X: 0.05, Y: 0.55, Z: 0}, // right clavicle
	{X: 0.18, Y: 0.55, Z: 0},
	{X: 0.20, Y: 0.30, Z: 0},
	{X: 0.22, Y: 0.05, Z: 0},
	{X: 0.22, Y: -0.02, Z: 0},
	{X: 0.22, Y: -0.08, Z: 0},
	{X: 0.20, Y: -0.03, Z: 0.03},
	{X: -0.10, Y: -0.05, Z: 0}, // left hip
	{X: -0.10, Y: -0.45, Z: 0},
	{X: -0.10, Y: -0.85, Z: 0},
	{X: -0.10, Y: -0.90, Z: 0.10},
	{X: 0.10, Y: -0.05, Z: 0}, // right hip
	{X: 0.10, Y: -0.45, Z: 0},
	{X: 0.10, Y: -0.85, Z: 0},
	{X: 0.10, Y: -0.90, Z: 0.10},
	{X: 0, Y: 0.80, Z: 0}, // head
	{X: 0, Y: 0.78, Z: 0.10},
	{X: -0.03, Y: 0.82, Z: 0.08},
	{X: -0.07, Y: 0.80, Z: 0},
	{X: 0.03, Y: 0.82, Z: 0.08},
	{X: 0.07, Y: 0.80, Z: 0},
}

// Standing builds a valid observation of a standing body whose pelvis is at
// origin, every joint at identity orientation and Medium confidence.
func Standing(marker skeleton.DeviceMarker, origin r3.Vec) skeleton.Observation {
	joints := make([]skeleton.JointSample, skeleton.JointCount)
	for i := range joints {
		joints[i] = skeleton.JointSample{
			Index:       skeleton.JointName(i),
			Position:    r3.Add(origin, restPose[i]),
			Orientation: skeleton.IdentityOrientation,
			Confidence:  skeleton.ConfidenceMedium,
		}
	}
	return skeleton.Observation{Marker: marker, Joints: joints}
}

// Shifted returns a copy of obs translated by d.
func Shifted(obs skeleton.Observation, d r3.Vec) skeleton.Observation {
	out := obs.Clone()
	for i := range out.Joints {
		out.Joints[i].Position = r3.Add(out.Joints[i].Position, d)
	}
	return out
}

// Oriented returns a copy of obs with every joint set to q.
func Oriented(obs skeleton.Observation, q quat.Number) skeleton.Observation {
	out := obs.Clone()
	for i := range out.Joints {
		out.Joints[i].Orientation = q
	}
	return out
}

// WithConfidence returns a copy of obs with every joint set to level.
func WithConfidence(obs skeleton.Observation, level skeleton.ConfidenceLevel) skeleton.Observation {
	out := obs.Clone()
	for i := range out.Joints {
		out.Joints[i].Confidence = level
	}
	return out
}

// Marker is shorthand for a DeviceMarker literal.
func Marker(serial string, id int64) skeleton.DeviceMarker {
	return skeleton.DeviceMarker{DeviceSerial: serial, BodyID: id}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}
