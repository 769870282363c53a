package cardiod

// The streaming PQRST detector. One worker consumes raw samples from RB-raw,
// maintains a rolling window with enough look-back for P/QRS search and
// enough look-ahead for T search, and emits classified samples in arrival
// order to RB-class. No sample is emitted before it is certain no later
// landmark decision can rewrite it.

import (
	"fmt"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/openecg/cardiod/internal/ringbuffer"
)

// Detection window durations as fractions of a second, converted to sample
// counts at construction.
const (
	qrsWindowSec   = 0.080
	pWindowSec     = 0.200
	tWindowSec     = 0.400
	refractorySec  = 0.300
	DefaultRThresh = 2.5 // volts; sensible for a 4.096 V range
)

// Analyzer detects P, Q, R, S and T landmarks on the live sample stream.
type Analyzer struct {
	rbRaw   *ringbuffer.RingBuffer[Sample]
	rbClass *ringbuffer.RingBuffer[Sample]
	filter  *FilterChain

	qsWin      int
	pWin       int
	tWin       int
	refractory int
	thresholdR float64

	// The rolling window. voltages holds the (possibly filtered) values the
	// detector searches; samples holds what is emitted downstream.
	samples         []Sample
	voltages        []float64
	beats           []Beat
	lastTransferred int

	stopOnce sync.Once
	done     chan struct{}
}

// NewAnalyzer wires the detector between the two ring buffers. The filter
// chain may be nil, in which case detection runs on the raw voltages.
func NewAnalyzer(rbRaw, rbClass *ringbuffer.RingBuffer[Sample], sampleRate float64,
	thresholdR float64, filter *FilterChain) *Analyzer {
	return &Analyzer{
		rbRaw:      rbRaw,
		rbClass:    rbClass,
		filter:     filter,
		qsWin:      int(sampleRate * qrsWindowSec),
		pWin:       int(sampleRate * pWindowSec),
		tWin:       int(sampleRate * tWindowSec),
		refractory: int(sampleRate * refractorySec),
		thresholdR: thresholdR,
		done:       make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (a *Analyzer) Start() {
	go a.run()
}

// Stop blocks until the worker has drained RB-raw, flushed the rolling
// window, and shut down RB-class. The upstream producer must already have
// called Shutdown on RB-raw or Stop will block indefinitely. Idempotent.
func (a *Analyzer) Stop() {
	a.stopOnce.Do(func() { <-a.done })
}

func (a *Analyzer) run() {
	defer close(a.done)
	// Pending elements survive Shutdown, so this loop doubles as the drain:
	// Consume keeps delivering until RB-raw is both empty and shut down.
	for {
		s, ok := a.rbRaw.Consume()
		if !ok {
			break
		}
		a.ingest(s)
	}
	// Final flush: everything still held back for T look-ahead goes out.
	for _, s := range a.samples[a.lastTransferred:] {
		a.rbClass.AddData(s)
	}
	a.lastTransferred = len(a.samples)
	a.rbClass.Shutdown()
}

// ingest runs the full per-sample pipeline: detect, complete, transfer, trim.
func (a *Analyzer) ingest(s Sample) {
	a.samples = append(a.samples, s)
	a.voltages = append(a.voltages, float64(a.filter.Process(s.Voltage)))

	a.scanForR()
	a.completeBeats()
	a.transferAndTrim()
	a.checkInvariants()
}

// scanForR examines the second-newest sample (one-sample lag gives it a
// right neighbor). A candidate must exceed both neighbors strictly, exceed
// the amplitude threshold, and respect the refractory distance to the
// previous beat.
func (a *Analyzer) scanForR() {
	n := len(a.voltages)
	if n < 3 {
		return
	}
	p := n - 2
	v := a.voltages
	if v[p] <= v[p-1] || v[p] <= v[p+1] || v[p] <= a.thresholdR {
		return
	}
	if len(a.beats) > 0 && p-a.beats[len(a.beats)-1].rPos < a.refractory {
		return
	}
	a.beats = append(a.beats, Beat{rPos: p})
	a.samples[p].Class = WaveR
	metricBeatsDetected.Inc()
}

// completeBeats resolves any search windows that have enough context. Q and
// S come first; P and T only after the QRS complex is pinned down. Several
// beats can advance on a single incoming sample.
func (a *Analyzer) completeBeats() {
	n := len(a.voltages)
	v := a.voltages
	for i := range a.beats {
		b := &a.beats[i]
		if !b.qrsComplete && b.rPos >= a.qsWin && b.rPos+a.qsWin < n {
			b.qPos = b.rPos - a.qsWin + floats.MinIdx(v[b.rPos-a.qsWin:b.rPos])
			b.sPos = b.rPos + 1 + floats.MinIdx(v[b.rPos+1:b.rPos+a.qsWin+1])
			b.qrsComplete = true
			a.samples[b.qPos].Class = WaveQ
			a.samples[b.sPos].Class = WaveS
		}
		if b.qrsComplete && !b.pComplete && b.qPos >= a.pWin {
			b.pPos = b.qPos - a.pWin + floats.MaxIdx(v[b.qPos-a.pWin:b.qPos])
			b.pComplete = true
			a.samples[b.pPos].Class = WaveP
		}
		if b.qrsComplete && !b.tComplete && b.sPos+a.tWin < n {
			b.tPos = b.sPos + 1 + floats.MaxIdx(v[b.sPos+1:b.sPos+a.tWin+1])
			b.tComplete = true
			a.samples[b.tPos].Class = WaveT
		}
	}
}

// transferAndTrim emits every sample old enough that no pending T search can
// still reach it, then drops the same prefix from the rolling window and
// rebases beat positions.
func (a *Analyzer) transferAndTrim() {
	safe := len(a.samples) - a.tWin
	if safe <= a.lastTransferred {
		return
	}
	for _, s := range a.samples[a.lastTransferred:safe] {
		a.rbClass.AddData(s)
	}
	a.lastTransferred = safe

	if a.lastTransferred <= a.tWin {
		return
	}
	drop := a.lastTransferred - a.tWin

	n := copy(a.samples, a.samples[drop:])
	a.samples = a.samples[:n]
	n = copy(a.voltages, a.voltages[drop:])
	a.voltages = a.voltages[:n]
	a.lastTransferred = a.tWin

	kept := a.beats[:0]
	for _, b := range a.beats {
		if a.forgettable(&b, drop) {
			continue
		}
		b.rPos -= drop
		if b.qrsComplete {
			b.qPos -= drop
			b.sPos -= drop
		}
		if b.pComplete {
			b.pPos -= drop
		}
		if b.tComplete {
			b.tPos -= drop
		}
		kept = append(kept, b)
	}
	a.beats = kept
}

// forgettable reports whether a trim dropping the first drop samples may
// discard the beat: it will stamp no further landmark, and its earliest
// stamped position is about to leave the window. A look-back window whose
// start was already out of reach when the R fired (an R inside the first
// qsWin or pWin samples of the stream) can never resolve, because positions
// only shrink; such a beat keeps its stamped landmarks and is forgotten
// here instead of being rebased forever.
func (a *Analyzer) forgettable(b *Beat, drop int) bool {
	if !b.qrsComplete {
		return b.rPos < a.qsWin && b.rPos < drop
	}
	if !b.tComplete {
		return false
	}
	if !b.pComplete && b.qPos >= a.pWin {
		return false
	}
	first := b.qPos
	if b.pComplete {
		first = b.pPos
	}
	return first < drop
}

// checkInvariants panics on states that can only arise from a bug, not from
// bad data.
func (a *Analyzer) checkInvariants() {
	n := len(a.samples)
	if a.lastTransferred > n {
		panic(fmt.Sprintf("analyzer: lastTransferred %d exceeds window size %d", a.lastTransferred, n))
	}
	prev := -1
	for _, b := range a.beats {
		if b.rPos <= prev {
			panic(fmt.Sprintf("analyzer: beat R positions not increasing (%d after %d)", b.rPos, prev))
		}
		prev = b.rPos
		for _, pos := range []int{b.rPos, b.qPos, b.sPos, b.pPos, b.tPos} {
			if pos < 0 || pos >= n {
				panic(fmt.Sprintf("analyzer: beat position %d outside window [0,%d)", pos, n))
			}
		}
	}
}
