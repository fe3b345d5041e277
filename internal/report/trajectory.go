package report

import (
	"fmt"
	"image/color"
	"sort"

	"github.com/banshee-data/bodyfusion/internal/fusion"
	"github.com/banshee-data/bodyfusion/internal/skeleton"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// TrackPoint is a fused pelvis position at the end of one cycle.
type TrackPoint struct {
	Cycle    uint64
	Position r3.Vec
}

// Track is the pelvis path of one logical body. An id that is evicted and
// reissued, even within the same cycle, starts a new track.
type Track struct {
	BodyID int64
	Points []TrackPoint
}

// TrajectoryRecorder accumulates pelvis tracks from a manager's bodies,
// one Record call per cycle.
type TrajectoryRecorder struct {
	open   map[*fusion.Body]*Track
	closed []Track
}

// NewTrajectoryRecorder returns an empty recorder.
func NewTrajectoryRecorder() *TrajectoryRecorder {
	return &TrajectoryRecorder{open: make(map[*fusion.Body]*Track)}
}

// Record appends each live body's fused pelvis. Tracks are keyed by body,
// not id: a body created this cycle always opens a new track, and tracks of
// bodies that are no longer live are closed.
func (r *TrajectoryRecorder) Record(cycle uint64, bodies []*fusion.Body) error {
	live := make(map[*fusion.Body]bool, len(bodies))
	for _, b := range bodies {
		pelvis, err := b.FusedJoint(skeleton.JointPelvis)
		if err != nil {
			return fmt.Errorf("record cycle %d: %w", cycle, err)
		}
		live[b] = true
		tr, ok := r.open[b]
		if !ok {
			tr = &Track{BodyID: b.ID().Value}
			r.open[b] = tr
		}
		tr.Points = append(tr.Points, TrackPoint{Cycle: cycle, Position: pelvis.Position})
	}
	for b, tr := range r.open {
		if !live[b] {
			r.closed = append(r.closed, *tr)
			delete(r.open, b)
		}
	}
	return nil
}

// Tracks returns every closed and open track ordered by first cycle, then
// body id.
func (r *TrajectoryRecorder) Tracks() []Track {
	out := append([]Track(nil), r.closed...)
	for _, tr := range r.open {
		out = append(out, *tr)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Points[0].Cycle, out[j].Points[0].Cycle
		if a != b {
			return a < b
		}
		return out[i].BodyID < out[j].BodyID
	})
	return out
}

// TrajectoryPlot saves a top-down (X against Z) plot of tracks to path. The
// image format follows the file extension.
func TrajectoryPlot(path, title string, tracks []Track) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Z (m)"
	p.Add(plotter.NewGrid())

	colors := generateColors(len(tracks))
	for i, tr := range tracks {
		pts := make(plotter.XYs, len(tr.Points))
		for j, tp := range tr.Points {
			pts[j] = plotter.XY{X: tp.Position.X, Y: tp.Position.Z}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("body %d: %w", tr.BodyID, err)
		}
		line.Width = vg.Points(1.5)
		line.Color = colors[i]
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("body %d @%d", tr.BodyID, tr.Points[0].Cycle), line)
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(8*vg.Inch, 8*vg.Inch, path); err != nil {
		return fmt.Errorf("save trajectory plot: %w", err)
	}
	return nil
}

// generateColors spreads n hues around the colour wheel.
func generateColors(n int) []color.Color {
	colors := make([]color.Color, n)
	for i := range colors {
		r, g, b := hslToRGB(float64(i)/float64(n), 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

func hslToRGB(h, s, l float64) (r, g, b uint8) {
	q := l + s - l*s
	if l < 0.5 {
		q = l * (1 + s)
	}
	p := 2*l - q
	return uint8(hueToRGB(p, q, h+1.0/3.0) * 255),
		uint8(hueToRGB(p, q, h) * 255),
		uint8(hueToRGB(p, q, h-1.0/3.0) * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6.0:
		return p + (q-p)*6*t
	case t < 0.5:
		return q
	case t < 2.0/3.0:
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}
