package cardiod

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/openecg/cardiod/internal/ringbuffer"
)

func testConfig(t *testing.T, playbackPath string) Config {
	t.Helper()
	return Config{
		SampleRate:    250,
		VoltageRange:  4.096,
		Duration:      time.Minute,
		WriteInterval: 50 * time.Millisecond,
		OutDir:        t.TempDir(),
		BaseName:      "ecg",
		RThreshold:    2.5,
		Simulate:      true,
		PlaybackPath:  playbackPath,
		PlaybackLoop:  true,
	}
}

func TestConfigValidation(t *testing.T) {
	good := testConfig(t, "unused")
	if err := good.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"sample rate", func(c *Config) { c.SampleRate = 100 }},
		{"voltage range", func(c *Config) { c.VoltageRange = 5.0 }},
		{"duration", func(c *Config) { c.Duration = 0 }},
		{"write interval", func(c *Config) { c.WriteInterval = -time.Second }},
		{"R threshold", func(c *Config) { c.RThreshold = 0 }},
		{"filter", func(c *Config) { c.Filter = "bandstop50" }},
	}
	for _, c := range cases {
		cfg := testConfig(t, "unused")
		c.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("bad %s accepted by Validate", c.name)
		}
	}
}

func TestShutdownDuringAcquisition(t *testing.T) {
	path := writeSampleFile(t, constantRaws(1000, 50))
	cfg := testConfig(t, path)

	app, err := NewApplication(cfg)
	if err != nil {
		t.Fatalf("NewApplication: %v", err)
	}

	runErr := make(chan error, 1)
	go func() { runErr <- app.Run() }()
	time.Sleep(300 * time.Millisecond)
	app.RequestShutdown()
	app.RequestShutdown() // repeated signals are coalesced

	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("Run returned %v after graceful shutdown, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return within 5s of the shutdown request")
	}

	binPaths, _ := filepath.Glob(filepath.Join(cfg.OutDir, "*.bin"))
	csvPaths, _ := filepath.Glob(filepath.Join(cfg.OutDir, "*.csv"))
	if len(binPaths) != 1 || len(csvPaths) != 1 {
		t.Fatalf("found %d bin and %d csv files, want 1 each", len(binPaths), len(csvPaths))
	}

	fi, err := os.Stat(binPaths[0])
	if err != nil {
		t.Fatal(err)
	}
	if fi.Size() == 0 {
		t.Errorf("binary output is empty")
	}
	if fi.Size()%sampleRecordSize != 0 {
		t.Errorf("binary output ends on a partial record (%d bytes)", fi.Size())
	}

	csvData, err := os.ReadFile(csvPaths[0])
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(string(csvData), "\n"), "\n")
	if len(lines) < 2 {
		t.Fatalf("CSV has no data rows")
	}
	lastFields := strings.Split(lines[len(lines)-1], ",")
	lastUS, err := strconv.ParseInt(lastFields[0], 10, 64)
	if err != nil {
		t.Fatalf("last CSV timestamp unparseable: %q", lines[len(lines)-1])
	}
	// Acquisition stopped at ~300 ms; allow generous scheduler slack.
	if lastUS > 500_000 {
		t.Errorf("last CSV timestamp %d µs, want samples to stop shortly after the shutdown request", lastUS)
	}
}

func constantRaws(raw int16, n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = raw
	}
	return out
}

func TestRunCompletesAtDurationEnd(t *testing.T) {
	path := writeSampleFile(t, constantRaws(1000, 50))
	cfg := testConfig(t, path)
	cfg.Duration = 300 * time.Millisecond

	app, err := NewApplication(cfg)
	if err != nil {
		t.Fatalf("NewApplication: %v", err)
	}
	runErr := make(chan error, 1)
	go func() { runErr <- app.Run() }()
	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("Run returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after the configured duration")
	}

	// Roughly duration·rate samples made it to disk.
	binPaths, _ := filepath.Glob(filepath.Join(cfg.OutDir, "*.bin"))
	if len(binPaths) != 1 {
		t.Fatalf("found %d bin files, want 1", len(binPaths))
	}
	data, _ := os.ReadFile(binPaths[0])
	records := len(data) / sampleRecordSize
	if records < 60 || records > 80 {
		t.Errorf("persisted %d records from a 300ms run at 250 SPS, want about 74", records)
	}
	for i := 0; i < records; i++ {
		if raw := int16(binary.LittleEndian.Uint16(data[i*sampleRecordSize:])); raw != 1000 {
			t.Fatalf("record %d raw = %d, want 1000", i, raw)
		}
	}
}

func TestBackpressureOverwritesOldest(t *testing.T) {
	// RB-raw held at capacity 4 while the analyzer is not yet consuming:
	// the last 4 samples survive, in order, and flow through classification.
	rbRaw := ringbuffer.New[Sample](4)
	rbClass := ringbuffer.New[Sample](100)
	t0 := time.Now()
	for i := 0; i < 10; i++ {
		rbRaw.AddData(Sample{Voltage: 0.1, Timestamp: t0.Add(time.Duration(i) * time.Millisecond)})
	}
	rbRaw.Shutdown()

	a := NewAnalyzer(rbRaw, rbClass, 250, 2.5, nil)
	a.Start()
	a.Stop()

	var got []Sample
	for {
		s, ok := rbClass.TryConsume()
		if !ok {
			break
		}
		got = append(got, s)
	}
	if len(got) != 4 {
		t.Fatalf("analyzer observed %d samples, want the last 4", len(got))
	}
	for i, s := range got {
		want := t0.Add(time.Duration(6+i) * time.Millisecond)
		if !s.Timestamp.Equal(want) {
			t.Errorf("sample %d timestamp = %v, want %v (sample %d of the original 10)",
				i, s.Timestamp, want, 6+i)
		}
	}
}

func TestRequestShutdownBeforeRun(t *testing.T) {
	path := writeSampleFile(t, constantRaws(1000, 50))
	app, err := NewApplication(testConfig(t, path))
	if err != nil {
		t.Fatalf("NewApplication: %v", err)
	}
	app.RequestShutdown()

	runErr := make(chan error, 1)
	go func() { runErr <- app.Run() }()
	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("Run returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not honor a shutdown requested before start")
	}
}
