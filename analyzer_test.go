package cardiod

import (
	"testing"
	"time"

	"github.com/openecg/cardiod/internal/ringbuffer"
)

// analyze runs the full detector over the given voltages at the given rate
// and returns the classified output stream.
func analyze(t *testing.T, voltages []float32, sampleRate, thresholdR float64) []Sample {
	t.Helper()
	rbRaw := ringbuffer.New[Sample](len(voltages) + 1)
	rbClass := ringbuffer.New[Sample](len(voltages) + 1)
	t0 := time.Now()
	period := time.Duration(float64(time.Second) / sampleRate)
	for i, v := range voltages {
		rbRaw.AddData(Sample{Voltage: v, Timestamp: t0.Add(time.Duration(i) * period)})
	}
	rbRaw.Shutdown()

	a := NewAnalyzer(rbRaw, rbClass, sampleRate, thresholdR, nil)
	a.Start()
	a.Stop()

	var out []Sample
	for {
		s, ok := rbClass.TryConsume()
		if !ok {
			break
		}
		out = append(out, s)
	}
	return out
}

// segment appends n copies of v.
func segment(dst []float32, n int, v float32) []float32 {
	for i := 0; i < n; i++ {
		dst = append(dst, v)
	}
	return dst
}

// idealBeat builds one idealized cardiac cycle at 250 SPS with known
// landmark indices: Q at 95, R at 96, S at 97, P plateau starting at 50,
// T plateau starting at 128.
func idealBeat() []float32 {
	var v []float32
	v = segment(v, 50, 0)    // baseline 200 ms
	v = segment(v, 20, 0.3)  // P 80 ms
	v = segment(v, 25, 0)    // PR segment 100 ms
	v = append(v, -0.5, 3.0, -0.5)
	v = segment(v, 30, 0)    // ST segment 120 ms
	v = segment(v, 30, 0.5)  // T 120 ms
	v = segment(v, 150, 0)   // tail so every window can resolve
	return v
}

func classCounts(out []Sample) map[WaveType][]int {
	counts := make(map[WaveType][]int)
	for i, s := range out {
		counts[s.Class] = append(counts[s.Class], i)
	}
	return counts
}

func TestKnownPQRSTWaveform(t *testing.T) {
	out := analyze(t, idealBeat(), 250, 2.5)
	if len(out) != len(idealBeat()) {
		t.Fatalf("emitted %d samples, want %d", len(out), len(idealBeat()))
	}
	counts := classCounts(out)
	for _, w := range []WaveType{WaveP, WaveQ, WaveR, WaveS, WaveT} {
		if len(counts[w]) != 1 {
			t.Errorf("wave %s marked %d times, want exactly once (at %v)", w, len(counts[w]), counts[w])
		}
	}
	if r := counts[WaveR]; len(r) == 1 && r[0] != 96 {
		t.Errorf("R marked at index %d, want 96 (the R spike)", r[0])
	}
	if q := counts[WaveQ]; len(q) == 1 && q[0] != 95 {
		t.Errorf("Q marked at index %d, want 95", q[0])
	}
	if s := counts[WaveS]; len(s) == 1 && s[0] != 97 {
		t.Errorf("S marked at index %d, want 97", s[0])
	}
	// On the flat P and T plateaus the earliest index achieving the extremum
	// wins.
	if p := counts[WaveP]; len(p) == 1 && p[0] != 50 {
		t.Errorf("P marked at index %d, want 50 (start of the P plateau)", p[0])
	}
	if tt := counts[WaveT]; len(tt) == 1 && tt[0] != 128 {
		t.Errorf("T marked at index %d, want 128 (start of the T plateau)", tt[0])
	}
}

func TestBeatConsistency(t *testing.T) {
	out := analyze(t, idealBeat(), 250, 2.5)
	counts := classCounts(out)
	p, q, r, s := counts[WaveP], counts[WaveQ], counts[WaveR], counts[WaveS]
	tw := counts[WaveT]
	if len(p) != 1 || len(q) != 1 || len(r) != 1 || len(s) != 1 || len(tw) != 1 {
		t.Fatalf("expected one landmark of each kind, got P=%v Q=%v R=%v S=%v T=%v", p, q, r, s, tw)
	}
	if !(p[0] < q[0] && q[0] < r[0] && r[0] < s[0] && s[0] < tw[0]) {
		t.Errorf("landmarks out of order: P=%d Q=%d R=%d S=%d T=%d", p[0], q[0], r[0], s[0], tw[0])
	}
}

func TestRefractoryGuard(t *testing.T) {
	// Two R spikes separated by REFRACTORY-1 samples: only the first counts.
	const refractory = 75 // 0.300 s at 250 SPS
	var v []float32
	v = segment(v, 10, 0)
	v = append(v, 3.0)
	v = segment(v, refractory-2, 0)
	v = append(v, 3.0)
	v = segment(v, 150, 0)

	out := analyze(t, v, 250, 2.5)
	counts := classCounts(out)
	if len(counts[WaveR]) != 1 {
		t.Errorf("detected %d R peaks at %v, want 1 (second spike is inside the refractory window)",
			len(counts[WaveR]), counts[WaveR])
	}
	if r := counts[WaveR]; len(r) == 1 && r[0] != 10 {
		t.Errorf("R marked at index %d, want 10 (the first spike)", r[0])
	}
}

func TestSpikesOutsideRefractoryBothCount(t *testing.T) {
	const refractory = 75
	var v []float32
	v = segment(v, 30, 0)
	v = append(v, 3.0)
	v = segment(v, refractory, 0)
	v = append(v, 3.0)
	v = segment(v, 150, 0)

	out := analyze(t, v, 250, 2.5)
	if n := len(classCounts(out)[WaveR]); n != 2 {
		t.Errorf("detected %d R peaks, want 2", n)
	}
}

func TestPlateauIsNotAnRPeak(t *testing.T) {
	// Equal neighbors fail the strict inequality test on both sides.
	var v []float32
	v = segment(v, 10, 0)
	v = append(v, 3.0, 3.0)
	v = segment(v, 150, 0)

	out := analyze(t, v, 250, 2.5)
	if n := len(classCounts(out)[WaveR]); n != 0 {
		t.Errorf("detected %d R peaks on a flat-topped plateau, want 0", n)
	}
}

func TestSubThresholdPeakIgnored(t *testing.T) {
	var v []float32
	v = segment(v, 10, 0)
	v = append(v, 2.4) // below the 2.5 V threshold
	v = segment(v, 150, 0)

	out := analyze(t, v, 250, 2.5)
	if n := len(classCounts(out)[WaveR]); n != 0 {
		t.Errorf("detected %d R peaks below threshold, want 0", n)
	}
}

func TestOrderPreservation(t *testing.T) {
	// Several beats in a row; output timestamps must be non-decreasing and
	// the sample count must match the input exactly.
	var v []float32
	for i := 0; i < 4; i++ {
		v = append(v, idealBeat()...)
	}
	out := analyze(t, v, 250, 2.5)
	if len(out) != len(v) {
		t.Fatalf("emitted %d samples, want %d", len(out), len(v))
	}
	for i := 1; i < len(out); i++ {
		if out[i].Timestamp.Before(out[i-1].Timestamp) {
			t.Fatalf("timestamp order violated at index %d", i)
		}
	}
}

func TestAtMostOneClassification(t *testing.T) {
	var v []float32
	for i := 0; i < 4; i++ {
		v = append(v, idealBeat()...)
	}
	out := analyze(t, v, 250, 2.5)
	counts := classCounts(out)
	nLandmarks := 0
	for _, w := range []WaveType{WaveP, WaveQ, WaveR, WaveS, WaveT} {
		if len(counts[w]) != 4 {
			t.Errorf("wave %s marked %d times over 4 beats, want 4", w, len(counts[w]))
		}
		nLandmarks += len(counts[w])
	}
	if got := len(out) - len(counts[WaveNormal]); got != nLandmarks {
		t.Errorf("landmark samples %d do not add up to %d; some sample carries two tags", got, nLandmarks)
	}
}

func TestRSpikeBeforeQRSWindowStreamsThrough(t *testing.T) {
	// A recording that starts mid-beat: the R fires at index 2, so its QRS
	// look-back can never resolve. The R keeps its mark, nothing else is
	// stamped, and the long tail drives the window through many trims.
	var v []float32
	v = append(v, 0, 0, 3.0)
	v = segment(v, 400, 0)

	out := analyze(t, v, 250, 2.5)
	if len(out) != len(v) {
		t.Fatalf("emitted %d samples, want %d", len(out), len(v))
	}
	counts := classCounts(out)
	if r := counts[WaveR]; len(r) != 1 || r[0] != 2 {
		t.Errorf("R marks at %v, want exactly one at index 2", r)
	}
	for _, w := range []WaveType{WaveP, WaveQ, WaveS, WaveT} {
		if len(counts[w]) != 0 {
			t.Errorf("wave %s marked at %v, want none for a beat cut off at the stream start", w, counts[w])
		}
	}
}

func TestRSpikeBeforePWindowStreamsThrough(t *testing.T) {
	// R at index 30: the QRS windows fit, but Q lands at index 10 and the
	// 200 ms P look-back reaches before the stream start, so P never
	// resolves. Every other landmark is stamped and the stream drains.
	var v []float32
	v = segment(v, 30, 0)
	v = append(v, 3.0)
	v = segment(v, 400, 0)

	out := analyze(t, v, 250, 2.5)
	if len(out) != len(v) {
		t.Fatalf("emitted %d samples, want %d", len(out), len(v))
	}
	counts := classCounts(out)
	if r := counts[WaveR]; len(r) != 1 || r[0] != 30 {
		t.Errorf("R marks at %v, want exactly one at index 30", r)
	}
	if q := counts[WaveQ]; len(q) != 1 || q[0] != 10 {
		t.Errorf("Q marks at %v, want exactly one at index 10", q)
	}
	if s := counts[WaveS]; len(s) != 1 || s[0] != 31 {
		t.Errorf("S marks at %v, want exactly one at index 31", s)
	}
	if tt := counts[WaveT]; len(tt) != 1 || tt[0] != 32 {
		t.Errorf("T marks at %v, want exactly one at index 32", tt)
	}
	if p := counts[WaveP]; len(p) != 0 {
		t.Errorf("P marked at %v, want none when the P window reaches before the stream start", p)
	}
}

func TestLongStreamWindowStaysBounded(t *testing.T) {
	// Many beats through the rolling window exercises transfer, trim, and
	// beat rebasing. Every input sample must come out exactly once.
	var v []float32
	for i := 0; i < 40; i++ {
		v = append(v, idealBeat()...)
	}
	out := analyze(t, v, 250, 2.5)
	if len(out) != len(v) {
		t.Fatalf("emitted %d samples, want %d", len(out), len(v))
	}
	if n := len(classCounts(out)[WaveR]); n != 40 {
		t.Errorf("detected %d R peaks over 40 beats, want 40", n)
	}
}
