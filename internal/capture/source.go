// Package capture gathers per-device skeleton frames for a fusion cycle.
//
// A Source yields one Frame per cycle. A Hub holds the registered sources,
// keeps one of them dominant, and pops a frame from each when the caller
// is ready to reconcile.
package capture

import (
	"context"
	"errors"

	"github.com/banshee-data/bodyfusion/internal/skeleton"
)

var (
	// ErrTrackerGone is returned by Frame.Source after the producing
	// source has been removed from its hub.
	ErrTrackerGone = errors.New("tracker no longer registered")
	// ErrUnknownSource is returned for a serial the hub does not hold.
	ErrUnknownSource = errors.New("unknown source")
	// ErrNoDominant is returned when the hub holds no sources.
	ErrNoDominant = errors.New("no dominant source")
	// ErrDuplicateSource is returned when adding a serial already registered.
	ErrDuplicateSource = errors.New("source already registered")
)

// Source produces skeleton frames for one device.
type Source interface {
	// Serial identifies the device and is unique within a hub.
	Serial() string
	// NextFrame blocks until the next frame is available. It returns io.EOF
	// once the source is exhausted.
	NextFrame(ctx context.Context) (Frame, error)
}

// Frame is one device's detections for a cycle.
type Frame struct {
	Serial       string
	Cycle        uint64
	Observations []skeleton.Observation

	hub *Hub
}

// Source returns the registered source that produced the frame. Frames
// that were not popped from a hub, or whose source has since been removed,
// return ErrTrackerGone.
func (f Frame) Source() (Source, error) {
	if f.hub == nil {
		return nil, ErrTrackerGone
	}
	src, ok := f.hub.lookup(f.Serial)
	if !ok {
		return nil, ErrTrackerGone
	}
	return src, nil
}
