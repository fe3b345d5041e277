// Package fusion owns multi-camera body fusion.
//
// Responsibilities: identity matching of per-device detections against
// logical bodies, confidence-weighted fusion of joint poses, and the
// per-cycle reconciliation that keeps the marker index and the live body
// set consistent.
// Key types: Body, Manager, Config, CycleStats.
//
// A Manager is not safe for concurrent use. Drive Reconcile from a single
// goroutine and read Bodies / RawBody only between cycles.
//
// Dependency rule: fusion may depend on skeleton, idpool, config and
// monitoring, but never on capture, storage or report.
package fusion
