package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/banshee-data/bodyfusion/internal/monitoring"
	"github.com/banshee-data/bodyfusion/internal/skeleton"
)

// Hub is the set of sources feeding one fusion manager. It is safe for
// concurrent use; sources may be added and removed while another goroutine
// pops frames.
type Hub struct {
	mu       sync.Mutex
	sources  map[string]Source
	order    []string // registration order
	dominant string
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{sources: make(map[string]Source)}
}

// Add registers src. The first source added becomes dominant.
func (h *Hub) Add(src Source) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	serial := src.Serial()
	if _, ok := h.sources[serial]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSource, serial)
	}
	h.sources[serial] = src
	h.order = append(h.order, serial)
	if h.dominant == "" {
		h.dominant = serial
	}
	return nil
}

// Remove unregisters serial. If it was dominant, the earliest remaining
// source takes over.
func (h *Hub) Remove(serial string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sources[serial]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSource, serial)
	}
	delete(h.sources, serial)
	for i, s := range h.order {
		if s == serial {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	if h.dominant == serial {
		h.dominant = ""
		if len(h.order) > 0 {
			h.dominant = h.order[0]
		}
	}
	return nil
}

// SetDominant makes serial the source popped first each cycle.
func (h *Hub) SetDominant(serial string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sources[serial]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSource, serial)
	}
	h.dominant = serial
	return nil
}

// Dominant returns the dominant source.
func (h *Hub) Dominant() (Source, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dominant == "" {
		return nil, ErrNoDominant
	}
	return h.sources[h.dominant], nil
}

// Len is the number of registered sources.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sources)
}

// Sources returns the registered sources, dominant first and the rest in
// registration order.
func (h *Hub) Sources() []Source {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Source, 0, len(h.order))
	if h.dominant != "" {
		out = append(out, h.sources[h.dominant])
	}
	for _, serial := range h.order {
		if serial != h.dominant {
			out = append(out, h.sources[serial])
		}
	}
	return out
}

func (h *Hub) lookup(serial string) (Source, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	src, ok := h.sources[serial]
	return src, ok
}

// PopAll takes the next frame from every source, dominant first. A source
// that reports io.EOF is removed from the hub. PopAll returns io.EOF once
// no sources remain. Other source errors are joined and returned with the
// frames that were read.
func (h *Hub) PopAll(ctx context.Context) ([]Frame, error) {
	sources := h.Sources()
	if len(sources) == 0 {
		return nil, io.EOF
	}

	frames := make([]Frame, 0, len(sources))
	var errs []error
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return frames, err
		}
		f, err := src.NextFrame(ctx)
		if errors.Is(err, io.EOF) {
			monitoring.Logf("capture: source %s finished", src.Serial())
			_ = h.Remove(src.Serial())
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", src.Serial(), err))
			continue
		}
		f.Serial = src.Serial()
		f.hub = h
		frames = append(frames, f)
	}

	if len(frames) == 0 && len(errs) == 0 {
		return nil, io.EOF
	}
	return frames, errors.Join(errs...)
}

// Batch flattens frames into one reconcile batch. A marker seen more than
// once keeps its last observation, at the position of its first; the
// number of discarded repeats is returned.
func Batch(frames []Frame) ([]skeleton.Observation, int) {
	var out []skeleton.Observation
	seen := make(map[skeleton.DeviceMarker]int)
	duplicates := 0
	for _, f := range frames {
		for _, obs := range f.Observations {
			if i, ok := seen[obs.Marker]; ok {
				out[i] = obs
				duplicates++
				continue
			}
			seen[obs.Marker] = len(out)
			out = append(out, obs)
		}
	}
	return out, duplicates
}
