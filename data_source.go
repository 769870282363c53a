package cardiod

// SampleSource is the contract between the acquisition loop and whatever
// produces voltages: the ADC driver, a playback file, or a synthesizer.
// The source keeps no timing of its own; the acquisition loop is the timing
// authority and calls ReadVoltage once per cadence slot.

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
)

// SampleSource produces one voltage (in volts) per call. ReadVoltage returns
// ok=false on a transient failure or at end of stream; Available
// distinguishes the two by going false when the stream is exhausted.
type SampleSource interface {
	ReadVoltage() (volts float32, ok bool)
	Available() bool
}

// sampleRecordSize is the fixed on-disk record: int16 raw + int64 µs, LE.
const sampleRecordSize = 10

// PlaybackSource replays a binary sample file as if it were a live ADC.
// The whole file is decoded into memory at construction.
type PlaybackSource struct {
	voltages []float32
	next     int
	loop     bool
}

// NewPlaybackSource loads the binary file at path, converting each raw int16
// to volts with the given full-scale range. With loop set, the stream
// restarts from the first sample instead of ending.
func NewPlaybackSource(path string, voltageRange float64, loop bool) (*PlaybackSource, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	nrec := len(raw) / sampleRecordSize
	if nrec == 0 {
		return nil, fmt.Errorf("playback file %s contains no complete records", path)
	}
	if len(raw)%sampleRecordSize != 0 {
		ProblemLogger.Printf("playback file %s has %d trailing bytes, ignoring them",
			path, len(raw)%sampleRecordSize)
	}

	ps := &PlaybackSource{voltages: make([]float32, nrec), loop: loop}
	for i := 0; i < nrec; i++ {
		rawv := int16(binary.LittleEndian.Uint16(raw[i*sampleRecordSize:]))
		ps.voltages[i] = float32(float64(rawv) * voltageRange / 32768.0)
	}
	return ps, nil
}

// ReadVoltage returns the next stored voltage in file order.
func (ps *PlaybackSource) ReadVoltage() (float32, bool) {
	if ps.next >= len(ps.voltages) {
		if !ps.loop {
			return 0, false
		}
		ps.next = 0
	}
	v := ps.voltages[ps.next]
	ps.next++
	return v, true
}

// Available reports whether any samples remain (always true when looping).
func (ps *PlaybackSource) Available() bool {
	return ps.loop || ps.next < len(ps.voltages)
}

// SyntheticSource synthesizes an idealized repeating PQRST cycle: useful for
// demos and for exercising the detector without hardware or a capture file.
type SyntheticSource struct {
	onecycle []float32
	next     int
}

// Durations of the synthetic beat's segments, in seconds.
const (
	synBaselinePre  = 0.200 // flat before the P wave
	synPWidth       = 0.080
	synPRSegment    = 0.100 // flat between P and Q
	synSTSegment    = 0.120 // flat between S and T
	synTWidth       = 0.120
	synBaselinePost = 0.300 // flat to round out the cycle

	synPHeight = 0.3
	synQDepth  = -0.5
	synRHeight = 3.0
	synSDepth  = -0.5
	synTHeight = 0.5
)

// NewSyntheticSource builds one cycle of the idealized beat at the given
// sample rate. Q, R and S are single-sample deflections; P and T are
// half-sine bumps.
func NewSyntheticSource(sampleRate float64) *SyntheticSource {
	nsamp := func(seconds float64) int { return int(math.Round(seconds * sampleRate)) }
	bump := func(out []float32, n int, height float64) []float32 {
		for i := 0; i < n; i++ {
			out = append(out, float32(height*math.Sin(math.Pi*float64(i)/float64(n))))
		}
		return out
	}
	flat := func(out []float32, n int) []float32 {
		for i := 0; i < n; i++ {
			out = append(out, 0)
		}
		return out
	}

	var c []float32
	c = flat(c, nsamp(synBaselinePre))
	c = bump(c, nsamp(synPWidth), synPHeight)
	c = flat(c, nsamp(synPRSegment))
	c = append(c, synQDepth, synRHeight, synSDepth)
	c = flat(c, nsamp(synSTSegment))
	c = bump(c, nsamp(synTWidth), synTHeight)
	c = flat(c, nsamp(synBaselinePost))
	return &SyntheticSource{onecycle: c}
}

// ReadVoltage returns the next voltage of the repeating cycle.
func (ss *SyntheticSource) ReadVoltage() (float32, bool) {
	v := ss.onecycle[ss.next]
	ss.next = (ss.next + 1) % len(ss.onecycle)
	return v, true
}

// Available is always true: the synthesizer never runs out.
func (ss *SyntheticSource) Available() bool { return true }
