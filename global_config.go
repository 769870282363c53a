package cardiod

import (
	"log"
	"os"
	"time"
)

// Portnumbers structs can contain all TCP port numbers used by cardiod.
type Portnumbers struct {
	FileTransfer int
	Status       int
	Metrics      int
}

// Ports globally holds all TCP port numbers used by cardiod.
var Ports Portnumbers

func setPortnumbers(base int) {
	Ports.FileTransfer = base
	Ports.Status = base + 1
	Ports.Metrics = base + 2
}

// BuildInfo can contain compile-time information about the build
type BuildInfo struct {
	Version string
	Githash string
	Date    string
}

// Build is a global holding compile-time information about the build
var Build = BuildInfo{
	Version: "0.3.1",
	Githash: "no git hash computed",
	Date:    "no build date computed",
}

// CardiodStartTime is a global holding the time init() was run
var CardiodStartTime time.Time

// ProblemLogger will log warning messages to a file
var ProblemLogger *log.Logger

// UpdateLogger will log general progress messages to a file
var UpdateLogger *log.Logger

// ValidSampleRates lists the ADC data rates (samples per second) the
// converter can be programmed for. Configuration fails on any other value.
var ValidSampleRates = []float64{8, 16, 32, 64, 128, 250, 475, 860}

// ValidVoltageRanges lists the programmable full-scale ranges, in volts.
var ValidVoltageRanges = []float64{6.144, 4.096, 2.048, 1.024, 0.512, 0.256}

func init() {
	setPortnumbers(8080)
	CardiodStartTime = time.Now()

	// Cardiod main program will override these, but at least initialize with
	// a sensible value
	ProblemLogger = log.New(os.Stderr, "", log.LstdFlags)
	UpdateLogger = log.New(os.Stderr, "", log.LstdFlags)
}
