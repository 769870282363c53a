package ecgdb

import "time"

// The composite types used for messages to the ClickHouse database.

// SessionMessage is the information for the sessions table: one row per
// process lifetime of the daemon.
type SessionMessage struct {
	ID        string
	Hostname  string
	Githash   string
	Version   string
	GoVersion string
	CPUs      int
	Start     time.Time
	End       time.Time
}

// RunMessage is the information required to make an entry in the runs table.
// One row per recording run.
type RunMessage struct {
	ID           string
	SessionID    string
	DataSource   string
	Directory    string
	SampleRate   float64
	VoltageRange float64
	Filter       string
	Start        time.Time
	End          time.Time
}

// FileMessage describes one finished output file of a run.
type FileMessage struct {
	RunID    string
	Filename string
	Filetype string
	Records  int64
	Size     int64
	SHA256   string
	Start    time.Time
	End      time.Time
}
