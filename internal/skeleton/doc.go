// Package skeleton owns the per-device detection data model.
//
// Responsibilities: the fixed joint taxonomy, joint confidence levels and
// their fusion weights, per-joint samples, and the immutable per-device,
// per-cycle Observation produced by an external body tracker.
// Key types: JointSample, DeviceMarker, Observation, Skeleton.
//
// Dependency rule: skeleton depends on nothing else in this module.
// Positions are metres in the shared (already registered) world frame.
package skeleton
