package cardiod

import (
	"fmt"
	"time"
)

// WaveType labels one sample with the ECG landmark it belongs to, if any.
type WaveType int

// The closed set of classifications. Samples default to WaveNormal and are
// promoted to a landmark at most once, by the analyzer.
const (
	WaveNormal WaveType = iota
	WaveP
	WaveQ
	WaveR
	WaveS
	WaveT
)

var waveCodes = [...]string{"N", "P", "Q", "R", "S", "T"}

// Code returns the single-letter code used in the CSV output.
func (w WaveType) Code() string {
	if w < WaveNormal || int(w) >= len(waveCodes) {
		panic(fmt.Sprintf("invalid WaveType %d", int(w)))
	}
	return waveCodes[w]
}

func (w WaveType) String() string { return w.Code() }

// Sample is one ECG measurement. Samples are value objects: they are copied
// between pipeline stages and never aliased.
type Sample struct {
	Voltage   float32
	Timestamp time.Time
	Class     WaveType
}

// Beat is the analyzer's working record for one detected cardiac cycle.
// Positions are indices into the analyzer's window buffer and are rebased
// whenever that buffer is trimmed.
type Beat struct {
	rPos int
	qPos int
	sPos int
	pPos int
	tPos int

	qrsComplete bool
	pComplete   bool
	tComplete   bool
}
