package cardiod

// The Application owns both ring buffers and every pipeline stage, arms the
// acquisition duration, and walks the stages through the graceful shutdown
// sequence in downstream order so that no in-flight sample is lost.

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/openecg/cardiod/internal/ecgdb"
	"github.com/openecg/cardiod/internal/ringbuffer"
)

// defaultRingCapacity holds two seconds of samples at the highest rate.
const defaultRingCapacity = 2048

// Config is the validated run configuration assembled from viper and the
// command line.
type Config struct {
	SampleRate    float64
	VoltageRange  float64
	Duration      time.Duration
	WriteInterval time.Duration
	RingCapacity  int

	DataDir  string
	OutDir   string
	BaseName string

	RThreshold float64
	Filter     string

	Simulate     bool
	PlaybackPath string
	PlaybackLoop bool
	Synthesize   bool

	EnableTCP bool
	TCPPort   int

	EnableStatus bool
	StatusPort   int

	EnableMetrics bool
	MetricsPort   int

	EnableDB bool
	DBAddr   string

	ExportNPY bool
	ExportEDF bool
}

// Validate rejects configurations the ADC or the pipeline cannot honor.
func (cfg *Config) Validate() error {
	if !containsFloat(ValidSampleRates, cfg.SampleRate) {
		return fmt.Errorf("sample rate %g is not one of %v", cfg.SampleRate, ValidSampleRates)
	}
	if !containsFloat(ValidVoltageRanges, cfg.VoltageRange) {
		return fmt.Errorf("voltage range %g is not one of %v", cfg.VoltageRange, ValidVoltageRanges)
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("acquisition duration %v must be positive", cfg.Duration)
	}
	if cfg.WriteInterval <= 0 {
		return fmt.Errorf("write interval %v must be positive", cfg.WriteInterval)
	}
	if cfg.RThreshold <= 0 {
		return fmt.Errorf("R threshold %g must be positive", cfg.RThreshold)
	}
	if cfg.RingCapacity < 0 {
		return fmt.Errorf("ring capacity %d must not be negative", cfg.RingCapacity)
	}
	if _, err := ParseFilterChain(cfg.Filter, cfg.SampleRate); err != nil {
		return err
	}
	return nil
}

func containsFloat(valid []float64, x float64) bool {
	for _, v := range valid {
		if v == x {
			return true
		}
	}
	return false
}

// Application wires the pipeline together and runs it to completion.
type Application struct {
	cfg    Config
	source SampleSource
	runID  string

	rbRaw   *ringbuffer.RingBuffer[Sample]
	rbClass *ringbuffer.RingBuffer[Sample]

	running           atomic.Bool
	shutdownRequested atomic.Bool
	shutdownChan      chan struct{}
}

// NewApplication validates the configuration and builds the data source.
func NewApplication(cfg Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var source SampleSource
	var err error
	switch {
	case cfg.Synthesize:
		source = NewSyntheticSource(cfg.SampleRate)
	case cfg.Simulate:
		source, err = NewPlaybackSource(cfg.PlaybackPath, cfg.VoltageRange, cfg.PlaybackLoop)
		if err != nil {
			return nil, fmt.Errorf("could not open playback source: %v", err)
		}
	default:
		// Hardware builds plug the ADC driver in here; without one, fall
		// back to playback so the pipeline is always runnable.
		source, err = NewPlaybackSource(cfg.PlaybackPath, cfg.VoltageRange, cfg.PlaybackLoop)
		if err != nil {
			return nil, fmt.Errorf("no hardware ADC and could not open playback source: %v", err)
		}
	}
	if !source.Available() {
		return nil, fmt.Errorf("data source is not available")
	}

	capacity := cfg.RingCapacity
	if capacity == 0 {
		capacity = defaultRingCapacity
	}
	return &Application{
		cfg:          cfg,
		source:       source,
		runID:        ulid.Make().String(),
		rbRaw:        ringbuffer.New[Sample](capacity),
		rbClass:      ringbuffer.New[Sample](capacity),
		shutdownChan: make(chan struct{}),
	}, nil
}

// RunID returns the ULID identifying this run in logs, status messages, and
// the recording database.
func (app *Application) RunID() string { return app.runID }

// RequestShutdown asks the pipeline to drain and exit. Safe to call from a
// signal handler context; repeated calls are coalesced.
func (app *Application) RequestShutdown() {
	if app.shutdownRequested.CompareAndSwap(false, true) {
		close(app.shutdownChan)
	}
}

// Run executes one complete acquisition run and returns after the shutdown
// sequence has drained every stage. A nil error covers both normal
// completion and an externally requested graceful shutdown.
func (app *Application) Run() error {
	cfg := app.cfg
	start := time.Now()

	// Side services first, so the pipeline's startup is already observable.
	abort := make(chan struct{})
	db := app.startDB(abort)
	defer db.Wait()
	defer close(abort)

	var statusChan chan StatusUpdate
	if cfg.EnableStatus {
		statusChan = make(chan StatusUpdate)
		go RunStatusPublisher(statusChan, cfg.StatusPort, abort)
	}

	var metricsSrv *http.Server
	if cfg.EnableMetrics {
		metricsSrv = StartMetricsServer(cfg.MetricsPort)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			metricsSrv.Shutdown(ctx)
		}()
	}

	runMsg := &ecgdb.RunMessage{
		ID:           app.runID,
		DataSource:   app.sourceName(),
		Directory:    cfg.OutDir,
		SampleRate:   cfg.SampleRate,
		VoltageRange: cfg.VoltageRange,
		Filter:       cfg.Filter,
		Start:        start,
	}
	db.RecordRun(runMsg)
	app.publish(statusChan, NewStatusUpdate("START", RunStartStatus{
		RunID:        app.runID,
		DataSource:   app.sourceName(),
		SampleRate:   cfg.SampleRate,
		VoltageRange: cfg.VoltageRange,
		Filter:       cfg.Filter,
		Version:      Build.Version,
	}))

	// Pipeline stages, upstream to downstream.
	filter, err := ParseFilterChain(cfg.Filter, cfg.SampleRate)
	if err != nil {
		return err
	}
	analyzer := NewAnalyzer(app.rbRaw, app.rbClass, cfg.SampleRate, cfg.RThreshold, filter)
	writer, err := NewWriter(app.rbClass, WriterConfig{
		OutDir:        cfg.OutDir,
		BaseName:      cfg.BaseName,
		WriteInterval: cfg.WriteInterval,
		SampleRate:    cfg.SampleRate,
		VoltageRange:  cfg.VoltageRange,
		ExportNPY:     cfg.ExportNPY,
		ExportEDF:     cfg.ExportEDF,
	})
	if err != nil {
		return err
	}

	var tcpServer *TCPFileServer
	if cfg.EnableTCP {
		tcpServer, err = NewTCPFileServer(cfg.OutDir, cfg.TCPPort)
		if err != nil {
			writer.closeAll()
			return err
		}
		tcpServer.Start()
	}

	app.running.Store(true)
	acq := NewAcquisition(app.source, app.rbRaw, cfg.SampleRate, cfg.Duration,
		&app.running, &app.shutdownRequested)
	analyzer.Start()
	writer.Start()
	acq.Start()
	UpdateLogger.Printf("run %s started: %g SPS, ±%g V, duration %v",
		app.runID, cfg.SampleRate, cfg.VoltageRange, cfg.Duration)

	// Wait for the run to end, heartbeating once a second.
	heartbeat := time.NewTicker(time.Second)
	defer heartbeat.Stop()
waitLoop:
	for app.running.Load() {
		select {
		case <-app.shutdownChan:
			UpdateLogger.Printf("run %s: shutdown requested", app.runID)
			break waitLoop
		case <-heartbeat.C:
			metricRingDepth.WithLabelValues("raw").Set(float64(app.rbRaw.Size()))
			metricRingDepth.WithLabelValues("class").Set(float64(app.rbClass.Size()))
			app.publish(statusChan, NewStatusUpdate("HEARTBEAT", HeartbeatStatus{
				RunID:           app.runID,
				ElapsedSeconds:  time.Since(start).Seconds(),
				SamplesAcquired: counterValue(metricSamplesAcquired),
				BeatsDetected:   counterValue(metricBeatsDetected),
			}))
		}
	}

	// Graceful drain, downstream order. Every step is idempotent.
	app.running.Store(false)
	app.rbRaw.Shutdown()
	acq.Stop()
	analyzer.Stop()
	writer.Stop()

	db.FinishRun(runMsg)
	for _, msg := range writer.FileMessages(app.runID) {
		db.RecordFile(msg)
	}

	if tcpServer != nil {
		tcpServer.SendAvailableFiles()
		tcpServer.Stop()
	}

	app.publish(statusChan, NewStatusUpdate("STOP", RunStopStatus{
		RunID:           app.runID,
		ElapsedSeconds:  time.Since(start).Seconds(),
		SamplesAcquired: counterValue(metricSamplesAcquired),
		BeatsDetected:   counterValue(metricBeatsDetected),
		Graceful:        true,
	}))
	binPath, csvPath := writer.Paths()
	UpdateLogger.Printf("run %s complete after %v: %s, %s",
		app.runID, time.Since(start).Round(time.Millisecond), binPath, csvPath)
	return nil
}

func (app *Application) sourceName() string {
	switch app.source.(type) {
	case *SyntheticSource:
		return "synthetic"
	case *PlaybackSource:
		return "playback:" + app.cfg.PlaybackPath
	default:
		return "adc"
	}
}

// publish sends a status update without blocking the pipeline when the
// publisher is disabled or busy.
func (app *Application) publish(ch chan StatusUpdate, update StatusUpdate) {
	if ch == nil {
		return
	}
	select {
	case ch <- update:
	case <-time.After(100 * time.Millisecond):
		ProblemLogger.Printf("status publisher not keeping up, dropped %s", update.Tag)
	}
}

// PingDatabase checks that the recording database at addr is reachable.
func PingDatabase(addr string) error {
	return ecgdb.PingServer(addr)
}

// startDB opens the recording database when configured, otherwise returns
// the dummy connection whose Record methods are no-ops.
func (app *Application) startDB(abort <-chan struct{}) *ecgdb.Connection {
	if !app.cfg.EnableDB {
		db := ecgdb.DummyConnection()
		go func() {
			<-abort
			db.Done()
		}()
		return db
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	session := &ecgdb.SessionMessage{
		ID:        ulid.Make().String(),
		Hostname:  hostname,
		Githash:   Build.Githash,
		Version:   Build.Version,
		GoVersion: runtime.Version(),
		CPUs:      runtime.NumCPU(),
		Start:     CardiodStartTime,
		End:       time.Now(),
	}
	db := ecgdb.StartConnection(app.cfg.DBAddr, session, abort)
	if !db.IsConnected() {
		ProblemLogger.Printf("recording database unavailable, continuing without it")
	}
	return db
}
