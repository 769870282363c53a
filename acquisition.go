package cardiod

// The acquisition loop is the pipeline's timing authority. It wakes once per
// sample period on the monotonic clock, pulls one voltage from the source,
// and pushes a timestamped Sample into RB-raw. When the loop falls behind by
// more than resyncThreshold it skips ahead to the current cadence slot
// rather than racing to catch up.

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/openecg/cardiod/internal/ringbuffer"
)

// resyncThreshold is how late a sample may run before the loop realigns its
// cadence index with real time.
const resyncThreshold = 10 * time.Millisecond

// Acquisition drives a SampleSource at a fixed cadence.
type Acquisition struct {
	source   SampleSource
	rbRaw    *ringbuffer.RingBuffer[Sample]
	period   time.Duration
	duration time.Duration

	running     *atomic.Bool // cleared by the loop on exit, and by Application on shutdown
	shutdownReq *atomic.Bool

	stopOnce sync.Once
	done     chan struct{}
}

// NewAcquisition prepares a loop reading from source at sampleRate for at
// most duration (0 means unbounded). The two flags are shared with the
// Application: either one going false/true stops the loop at its next wakeup.
func NewAcquisition(source SampleSource, rbRaw *ringbuffer.RingBuffer[Sample],
	sampleRate float64, duration time.Duration, running, shutdownReq *atomic.Bool) *Acquisition {
	return &Acquisition{
		source:      source,
		rbRaw:       rbRaw,
		period:      time.Duration(float64(time.Second) / sampleRate),
		duration:    duration,
		running:     running,
		shutdownReq: shutdownReq,
		done:        make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (aq *Acquisition) Start() {
	go aq.run()
}

// Stop blocks until the loop has exited and shut down RB-raw. Idempotent.
func (aq *Acquisition) Stop() {
	aq.stopOnce.Do(func() { <-aq.done })
}

func (aq *Acquisition) run() {
	defer close(aq.done)
	// The exit protocol runs even if the loop body panics: clear the run
	// flag, then release the analyzer's blocked Consume.
	defer func() {
		if r := recover(); r != nil {
			ProblemLogger.Printf("acquisition loop panic: %v", r)
		}
		aq.running.Store(false)
		aq.rbRaw.Shutdown()
	}()

	t0 := time.Now()
	var lastLateWarning time.Time
	for k := int64(1); ; k++ {
		target := t0.Add(time.Duration(k) * aq.period)
		time.Sleep(time.Until(target))

		if !aq.running.Load() || aq.shutdownReq.Load() {
			return
		}
		if aq.duration > 0 && time.Since(t0) >= aq.duration {
			return
		}

		if v, ok := aq.source.ReadVoltage(); ok {
			aq.rbRaw.AddData(Sample{Voltage: v, Timestamp: time.Now()})
			metricSamplesAcquired.Inc()
		} else if !aq.source.Available() {
			UpdateLogger.Printf("sample source exhausted after %d cadence slots", k)
			return
		} else {
			// Transient read failure: the cadence slot stays empty and the
			// next slot is still target_{k+1}.
			ProblemLogger.Printf("sample source read failed at slot %d, skipping", k)
			metricSamplesDropped.Inc()
		}

		if delay := time.Since(target); delay > resyncThreshold {
			k = int64(time.Since(t0) / aq.period)
			metricAcquisitionResyncs.Inc()
			if time.Since(lastLateWarning) >= time.Second {
				ProblemLogger.Printf("acquisition running %v late, resyncing to slot %d", delay, k)
				lastLateWarning = time.Now()
			}
		}
	}
}
