package cardiod

// The file writer drains the classified stream in periodic batches and
// persists it to two primary formats (raw binary and CSV), plus optional
// numpy and EDF exports. The two primary streams fail independently: losing
// one is logged and tolerated as long as the other keeps working.

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/OpenPSG/edf"

	"github.com/openecg/cardiod/internal/asyncbufio"
	"github.com/openecg/cardiod/internal/ecgdb"
	"github.com/openecg/cardiod/internal/getbytes"
	"github.com/openecg/cardiod/internal/npytrace"
	"github.com/openecg/cardiod/internal/ringbuffer"
)

// writerBatchSize caps how many samples one wakeup drains from RB-class.
const writerBatchSize = 100

const asyncChannelDepth = 64

// WriterConfig collects everything the writer needs to open its outputs.
type WriterConfig struct {
	OutDir        string
	BaseName      string
	WriteInterval time.Duration
	SampleRate    float64
	VoltageRange  float64
	ExportNPY     bool
	ExportEDF     bool
}

// outputStream is one of the writer's primary on-disk formats, with its own
// failure state and integrity hash.
type outputStream struct {
	path    string
	file    *os.File
	aw      *asyncbufio.Writer
	hash    hash.Hash
	records int64
	broken  bool
}

func (st *outputStream) write(p []byte) {
	if st.broken {
		return
	}
	st.hash.Write(p)
	if _, err := st.aw.Write(p); err != nil {
		ProblemLogger.Printf("writing %s failed, closing that stream: %v", st.path, err)
		st.broken = true
	}
}

// Writer drains RB-class to disk.
type Writer struct {
	rbClass *ringbuffer.RingBuffer[Sample]
	cfg     WriterConfig

	bin *outputStream
	csv *outputStream

	npyFile *os.File
	npy     *npytrace.Writer

	edfFile  *os.File
	edf      *edf.Writer
	edfChunk []float64

	firstStamp time.Time
	haveFirst  bool
	openedAt   time.Time

	stopOnce sync.Once
	done     chan struct{}
}

// NewWriter creates the output directory, opens every configured output with
// a shared wall-clock timestamp in the name, and writes the CSV header.
// Failure to open any configured output fails the whole initialization.
func NewWriter(rbClass *ringbuffer.RingBuffer[Sample], cfg WriterConfig) (*Writer, error) {
	if err := os.MkdirAll(cfg.OutDir, 0775); err != nil {
		return nil, fmt.Errorf("could not create output directory %s: %v", cfg.OutDir, err)
	}
	stamp := time.Now().Format("20060102_150405")
	pathFor := func(ext string) string {
		return filepath.Join(cfg.OutDir, fmt.Sprintf("%s_%s.%s", cfg.BaseName, stamp, ext))
	}

	w := &Writer{
		rbClass:  rbClass,
		cfg:      cfg,
		openedAt: time.Now(),
		done:     make(chan struct{}),
	}

	var err error
	if w.bin, err = openStream(pathFor("bin"), cfg.WriteInterval); err != nil {
		return nil, err
	}
	if w.csv, err = openStream(pathFor("csv"), cfg.WriteInterval); err != nil {
		w.bin.close()
		return nil, err
	}
	w.csv.write([]byte("timestamp_us,voltage,classification\n"))

	if cfg.ExportNPY {
		if w.npyFile, err = os.Create(pathFor("npy")); err != nil {
			w.closeAll()
			return nil, err
		}
		if w.npy, err = npytrace.NewWriter(w.npyFile); err != nil {
			w.closeAll()
			return nil, err
		}
	}
	if cfg.ExportEDF {
		if w.edfFile, err = os.Create(pathFor("edf")); err != nil {
			w.closeAll()
			return nil, err
		}
		hdr := edf.Header{
			Version:            edf.Version0,
			PatientID:          "X X X X",
			RecordingID:        fmt.Sprintf("Startdate %s cardiod", strings.ToUpper(w.openedAt.Format("02-Jan-2006"))),
			StartTime:          w.openedAt,
			DataRecordDuration: time.Second,
			SignalCount:        1,
			Signals: []edf.SignalHeader{{
				Label:             "ECG lead I",
				TransducerType:    "AgAgCl electrodes",
				PhysicalDimension: "V",
				PhysicalMin:       -cfg.VoltageRange,
				PhysicalMax:       cfg.VoltageRange,
				DigitalMin:        -32768,
				DigitalMax:        32767,
				SamplesPerRecord:  int(cfg.SampleRate),
			}},
		}
		if w.edf, err = edf.Create(w.edfFile, hdr); err != nil {
			w.closeAll()
			return nil, err
		}
	}
	return w, nil
}

func openStream(path string, flushInterval time.Duration) (*outputStream, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("could not create %s: %v", path, err)
	}
	return &outputStream{
		path: path,
		file: f,
		aw:   asyncbufio.NewWriter(f, asyncChannelDepth, flushInterval),
		hash: sha256.New(),
	}, nil
}

func (st *outputStream) close() {
	st.aw.Close()
	st.file.Close()
}

// Start launches the writer loop.
func (w *Writer) Start() {
	go w.run()
}

// Stop blocks until the writer has drained RB-class, flushed, and closed all
// outputs. RB-class must already be shut down. Idempotent.
func (w *Writer) Stop() {
	w.stopOnce.Do(func() { <-w.done })
}

// Paths returns the primary output file paths (binary first).
func (w *Writer) Paths() (string, string) { return w.bin.path, w.csv.path }

func (w *Writer) run() {
	defer close(w.done)
	ticker := time.NewTicker(w.cfg.WriteInterval)
	defer ticker.Stop()

	for {
		<-ticker.C
		w.drainBatch(writerBatchSize)
		if w.rbClass.IsShutdown() && w.rbClass.Empty() {
			break
		}
	}
	// Final unbounded drain catches anything added between the check above
	// and the upstream stage finishing.
	w.drainBatch(-1)
	w.closeAll()
}

// drainBatch moves up to limit samples (all of them when limit < 0) from
// RB-class to the outputs, then flushes if anything was written.
func (w *Writer) drainBatch(limit int) {
	var batch []Sample
	for limit < 0 || len(batch) < limit {
		s, ok := w.rbClass.TryConsume()
		if !ok {
			break
		}
		batch = append(batch, s)
	}
	if len(batch) == 0 {
		return
	}
	w.writeBatch(batch)
	w.flush()
}

func (w *Writer) writeBatch(batch []Sample) {
	if !w.haveFirst {
		w.firstStamp = batch[0].Timestamp
		w.haveFirst = true
	}

	binbuf := make([]byte, 0, sampleRecordSize*len(batch))
	var csvbuf strings.Builder
	for _, s := range batch {
		raw := rawFromVolts(s.Voltage, w.cfg.VoltageRange)
		binbuf = append(binbuf, getbytes.FromInt16(raw)...)
		binbuf = append(binbuf, getbytes.FromInt64(s.Timestamp.UnixMicro())...)
		fmt.Fprintf(&csvbuf, "%d,%f,%s\n",
			s.Timestamp.Sub(w.firstStamp).Microseconds(), s.Voltage, s.Class.Code())
	}
	w.bin.write(binbuf)
	w.csv.write([]byte(csvbuf.String()))
	if !w.bin.broken {
		w.bin.records += int64(len(batch))
	}
	if !w.csv.broken {
		w.csv.records += int64(len(batch))
	}
	metricSamplesWritten.Add(float64(len(batch)))

	if w.npy != nil {
		voltages := make([]float32, len(batch))
		for i, s := range batch {
			voltages[i] = s.Voltage
		}
		if err := w.npy.Append(voltages); err != nil {
			ProblemLogger.Printf("numpy export failed, disabling it: %v", err)
			w.npy = nil
		}
	}
	if w.edf != nil {
		for _, s := range batch {
			w.edfChunk = append(w.edfChunk, float64(s.Voltage))
			if len(w.edfChunk) == int(w.cfg.SampleRate) {
				w.writeEDFRecord()
			}
		}
	}
}

func (w *Writer) writeEDFRecord() {
	if err := w.edf.WriteRecord([][]float64{w.edfChunk}); err != nil {
		ProblemLogger.Printf("EDF export failed, disabling it: %v", err)
		w.edf = nil
	}
	w.edfChunk = w.edfChunk[:0]
}

func (w *Writer) flush() {
	if !w.bin.broken {
		if err := w.bin.aw.Flush(); err != nil {
			ProblemLogger.Printf("flushing %s failed, closing that stream: %v", w.bin.path, err)
			w.bin.broken = true
		}
	}
	if !w.csv.broken {
		if err := w.csv.aw.Flush(); err != nil {
			ProblemLogger.Printf("flushing %s failed, closing that stream: %v", w.csv.path, err)
			w.csv.broken = true
		}
	}
}

func (w *Writer) closeAll() {
	if w.bin != nil {
		w.bin.close()
	}
	if w.csv != nil {
		w.csv.close()
	}
	if w.npyFile != nil {
		w.npyFile.Close()
	}
	if w.edf != nil {
		// Zero-pad the tail so the last data record is complete.
		if len(w.edfChunk) > 0 {
			for len(w.edfChunk) < int(w.cfg.SampleRate) {
				w.edfChunk = append(w.edfChunk, 0)
			}
			w.writeEDFRecord()
		}
		if w.edf != nil {
			if err := w.edf.Close(); err != nil {
				ProblemLogger.Printf("finalizing EDF header failed: %v", err)
			}
		}
	}
	if w.edfFile != nil {
		w.edfFile.Close()
	}
}

// FileMessages describes the finished primary outputs for the recording
// database. Valid only after Stop has returned.
func (w *Writer) FileMessages(runID string) []*ecgdb.FileMessage {
	var msgs []*ecgdb.FileMessage
	for _, st := range []*outputStream{w.bin, w.csv} {
		fi, err := os.Stat(st.path)
		if err != nil {
			ProblemLogger.Printf("could not stat finished file %s: %v", st.path, err)
			continue
		}
		msgs = append(msgs, &ecgdb.FileMessage{
			RunID:    runID,
			Filename: filepath.Base(st.path),
			Filetype: strings.TrimPrefix(filepath.Ext(st.path), "."),
			Records:  st.records,
			Size:     fi.Size(),
			SHA256:   hex.EncodeToString(st.hash.Sum(nil)),
			Start:    w.openedAt,
			End:      time.Now(),
		})
	}
	return msgs
}

// rawFromVolts scales volts to the ADC's signed 16-bit code, clamping at the
// rails.
func rawFromVolts(v float32, voltageRange float64) int16 {
	scaled := float64(v) * 32768.0 / voltageRange
	if scaled > 32767 {
		return 32767
	}
	if scaled < -32768 {
		return -32768
	}
	return int16(scaled)
}
