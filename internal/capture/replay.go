package capture

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/banshee-data/bodyfusion/internal/skeleton"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// maxRecordLine bounds one JSON line; a frame with many bodies of 32
// joints each is far larger than bufio's default token size.
const maxRecordLine = 8 << 20

// Recording line format, one device frame per line:
//
//	{"cycle":1,"device":"devA","bodies":[{"id":1,"joints":[
//	  {"position":[x,y,z],"orientation":[w,x,y,z],"confidence":2}, ...]}]}
//
// Joint order is the skeleton taxonomy order.
type wireRecord struct {
	Cycle  uint64     `json:"cycle"`
	Device string     `json:"device"`
	Bodies []wireBody `json:"bodies"`
}

type wireBody struct {
	ID     int64       `json:"id"`
	Joints []wireJoint `json:"joints"`
}

type wireJoint struct {
	Position    [3]float64 `json:"position"`
	Orientation [4]float64 `json:"orientation"`
	Confidence  int        `json:"confidence"`
}

func (b wireBody) observation(device string) skeleton.Observation {
	joints := make([]skeleton.JointSample, len(b.Joints))
	for i, j := range b.Joints {
		joints[i] = skeleton.JointSample{
			Index:       skeleton.JointName(i),
			Position:    r3.Vec{X: j.Position[0], Y: j.Position[1], Z: j.Position[2]},
			Orientation: quat.Number{Real: j.Orientation[0], Imag: j.Orientation[1], Jmag: j.Orientation[2], Kmag: j.Orientation[3]},
			Confidence:  skeleton.ConfidenceLevel(j.Confidence),
		}
	}
	return skeleton.Observation{
		Marker: skeleton.DeviceMarker{DeviceSerial: device, BodyID: b.ID},
		Joints: joints,
	}
}

func toWire(obs skeleton.Observation) wireBody {
	joints := make([]wireJoint, len(obs.Joints))
	for i, j := range obs.Joints {
		q := j.Orientation
		joints[i] = wireJoint{
			Position:    [3]float64{j.Position.X, j.Position.Y, j.Position.Z},
			Orientation: [4]float64{q.Real, q.Imag, q.Jmag, q.Kmag},
			Confidence:  int(j.Confidence),
		}
	}
	return wireBody{ID: obs.Marker.BodyID, Joints: joints}
}

// Recording is a parsed JSON-lines capture from one or more devices.
type Recording struct {
	devices []string
	frames  map[string]map[uint64][]skeleton.Observation
	cycles  []uint64 // distinct logged cycles, ascending
	first   uint64
	last    uint64
	empty   bool
}

// OpenRecording loads the recording at path.
func OpenRecording(path string) (*Recording, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recording: %w", err)
	}
	defer f.Close()
	return ReadRecording(f)
}

// ReadRecording parses a recording. Blank lines are skipped; lines for the
// same device and cycle are appended.
func ReadRecording(r io.Reader) (*Recording, error) {
	rec := &Recording{frames: make(map[string]map[uint64][]skeleton.Observation), empty: true}
	scan := bufio.NewScanner(r)
	scan.Buffer(make([]byte, 64*1024), maxRecordLine)

	line := 0
	for scan.Scan() {
		line++
		raw := bytes.TrimSpace(scan.Bytes())
		if len(raw) == 0 {
			continue
		}
		var w wireRecord
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("recording line %d: %w", line, err)
		}
		if w.Device == "" {
			return nil, fmt.Errorf("recording line %d: missing device", line)
		}
		rec.add(w)
	}
	if err := scan.Err(); err != nil {
		return nil, fmt.Errorf("failed to read recording: %w", err)
	}
	rec.index()
	return rec, nil
}

// index collects the cycles that at least one device logged.
func (r *Recording) index() {
	seen := make(map[uint64]struct{})
	for _, byCycle := range r.frames {
		for c := range byCycle {
			seen[c] = struct{}{}
		}
	}
	r.cycles = make([]uint64, 0, len(seen))
	for c := range seen {
		r.cycles = append(r.cycles, c)
	}
	sort.Slice(r.cycles, func(i, j int) bool { return r.cycles[i] < r.cycles[j] })
}

func (r *Recording) add(w wireRecord) {
	byCycle, ok := r.frames[w.Device]
	if !ok {
		byCycle = make(map[uint64][]skeleton.Observation)
		r.frames[w.Device] = byCycle
		r.devices = append(r.devices, w.Device)
	}
	for _, b := range w.Bodies {
		byCycle[w.Cycle] = append(byCycle[w.Cycle], b.observation(w.Device))
	}
	if _, ok := byCycle[w.Cycle]; !ok {
		byCycle[w.Cycle] = nil
	}

	if r.empty || w.Cycle < r.first {
		r.first = w.Cycle
	}
	if r.empty || w.Cycle > r.last {
		r.last = w.Cycle
	}
	r.empty = false
}

// Devices returns device serials in the order they first appear.
func (r *Recording) Devices() []string {
	return append([]string(nil), r.devices...)
}

// Cycles returns the first and last cycle numbers present.
func (r *Recording) Cycles() (first, last uint64) {
	return r.first, r.last
}

// Len returns the number of distinct cycles logged by any device.
func (r *Recording) Len() int { return len(r.cycles) }

// Sources returns one replay source per device. Every source yields a
// frame for each cycle that any device logged, empty where its own device
// logged nothing, so the sources stay in step. Cycles no device logged are
// skipped.
func (r *Recording) Sources() []*ReplaySource {
	out := make([]*ReplaySource, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, &ReplaySource{serial: d, rec: r})
	}
	return out
}

// ReplaySource replays one device from a Recording.
type ReplaySource struct {
	serial string
	rec    *Recording
	pos    int
	done   bool
}

func (s *ReplaySource) Serial() string { return s.serial }

// NextFrame returns the next cycle's frame, or io.EOF after the last one.
func (s *ReplaySource) NextFrame(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if s.done || s.pos >= len(s.rec.cycles) {
		s.done = true
		return Frame{}, io.EOF
	}
	cycle := s.rec.cycles[s.pos]
	s.pos++
	obs := s.rec.frames[s.serial][cycle]
	cp := make([]skeleton.Observation, len(obs))
	for i, o := range obs {
		cp[i] = o.Clone()
	}
	return Frame{Serial: s.serial, Cycle: cycle, Observations: cp}, nil
}

// Encoder writes frames in the recording format.
type Encoder struct {
	enc *json.Encoder
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: json.NewEncoder(w)}
}

// Encode writes one frame as a single line.
func (e *Encoder) Encode(f Frame) error {
	w := wireRecord{Cycle: f.Cycle, Device: f.Serial, Bodies: make([]wireBody, 0, len(f.Observations))}
	for _, obs := range f.Observations {
		w.Bodies = append(w.Bodies, toWire(obs))
	}
	if err := e.enc.Encode(w); err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	return nil
}
