// Package ecgdb records recording-session metadata in a ClickHouse database:
// one row per daemon session, one per recording run, one per finished output
// file. The database is strictly optional; a dummy connection satisfies the
// same API and discards everything.
package ecgdb

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

const databaseName = "cardiod" // official SQL name of the database

const timeLayout = "2006-01-02 15:04:05.000000"

// Connection wraps a ClickHouse connection plus the channels used to
// serialize inserts through a single handler goroutine.
type Connection struct {
	conn         clickhouse.Conn
	err          error
	sessionEntry *SessionMessage
	runmsg       chan *RunMessage
	filemsg      chan *FileMessage
	sync.WaitGroup
}

// IsConnected reports whether the connection is usable. A nil or dummy
// Connection reports false, which short-circuits every Record method.
func (db *Connection) IsConnected() bool {
	return (db != nil) && (db.conn != nil) && (db.err == nil)
}

// PingServer connects with default settings and prints the server version.
// Used by the -ping command-line mode to check the database is reachable.
func PingServer(addr string) error {
	db := createConnection(addr)
	if !db.IsConnected() {
		if db.err != nil {
			return db.err
		}
		return fmt.Errorf("database is not connected")
	}
	defer db.conn.Close()
	v, err := db.conn.ServerVersion()
	if err != nil {
		return err
	}
	fmt.Printf("ClickHouse server is alive. Version:\n%s\n", v)
	return nil
}

// StartConnection opens the database, records the session row, and starts
// the handler goroutine. The goroutine runs until abort is closed, then
// updates the session row's end time. Wait() blocks until that happens.
func StartConnection(addr string, session *SessionMessage, abort <-chan struct{}) *Connection {
	db := createConnection(addr)
	db.sessionEntry = session
	if db.conn == nil {
		// Open failed; there is no handler to join.
		return db
	}
	db.logSession()
	go db.handleConnection(abort)
	return db
}

// DummyConnection returns a Connection that is never connected. All Record
// methods are no-ops and Wait returns once Done is called.
func DummyConnection() *Connection {
	db := &Connection{}
	db.Add(1)
	return db
}

func createConnection(addr string) *Connection {
	db := &Connection{}
	auth := clickhouse.Auth{
		Database: databaseName,
		Username: os.Getenv("CARDIOD_DB_USER"),
		Password: os.Getenv("CARDIOD_DB_PASSWORD"),
	}
	client := clickhouse.ClientInfo{
		Products: []struct {
			Name    string
			Version string
		}{
			{Name: "cardiod", Version: "unknown"},
		},
	}
	opt := clickhouse.Options{
		Addr:       []string{addr},
		Auth:       auth,
		ClientInfo: client,
		TLS:        nil,
	}
	conn, err := clickhouse.Open(&opt)
	if err != nil {
		db.err = err
		return db
	}
	db.conn = conn
	db.Add(1)

	if err = conn.Ping(context.Background()); err != nil {
		if exception, ok := err.(*clickhouse.Exception); ok {
			fmt.Printf("Exception [%d] %s \n%s\n", exception.Code, exception.Message, exception.StackTrace)
		}
		db.err = err
		return db
	}

	db.runmsg = make(chan *RunMessage)
	db.filemsg = make(chan *FileMessage)
	return db
}

func (db *Connection) logSession() {
	if !db.IsConnected() {
		return
	}
	const nowait = false
	se := db.sessionEntry
	if err := db.conn.AsyncInsert(context.Background(),
		`INSERT INTO sessions VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, nowait,
		se.ID, se.Hostname, se.Githash, se.Version,
		se.GoVersion, se.CPUs, se.Start.Format(timeLayout), se.End.Format(timeLayout),
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into sessions ", err)
		db.err = err
	}
}

func (db *Connection) handleConnection(abort <-chan struct{}) {
	defer db.Done()
	for {
		select {
		case <-abort:
			db.Disconnect()
			return
		case rmsg := <-db.runmsg:
			db.handleRunMessage(rmsg)
		case fmsg := <-db.filemsg:
			db.handleFileMessage(fmsg)
		}
	}
}

// Disconnect closes out the session row with the current time.
func (db *Connection) Disconnect() {
	if db.IsConnected() {
		db.sessionEntry.End = time.Now()
		db.logSession()
	}
}

// RecordRun takes a RunMessage and stores it in the DB (if it's open).
// This function will block until the select statement in `handleConnection`
// accepts the message.
// WARNING: Don't change this blocking behavior! It is how we ensure that a
// run is entered in the DB before any corresponding calls to `RecordFile`
// begin. Without the blocking, there would be a race between the 2 kinds of
// DB entries, and some files would be entered without valid run IDs.
func (db *Connection) RecordRun(msg *RunMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	db.runmsg <- msg
}

// FinishRun re-records the run with its end time set to now. Asynchronous.
func (db *Connection) FinishRun(msg *RunMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	msg.End = time.Now()
	go func() { db.runmsg <- msg }()
}

// RecordFile stores one finished-file row. Asynchronous.
func (db *Connection) RecordFile(msg *FileMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	go func() { db.filemsg <- msg }()
}

func (db *Connection) handleRunMessage(m *RunMessage) {
	if !db.IsConnected() {
		return
	}
	const nowait = false
	if err := db.conn.AsyncInsert(context.Background(),
		`INSERT INTO runs VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, nowait,
		m.ID, db.sessionEntry.ID, m.DataSource, m.Directory,
		m.SampleRate, m.VoltageRange, m.Filter,
		m.Start.Format(timeLayout), m.End.Format(timeLayout),
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into runs ", err)
		db.err = err
	}
}

func (db *Connection) handleFileMessage(m *FileMessage) {
	if !db.IsConnected() {
		return
	}
	const nowait = false
	if err := db.conn.AsyncInsert(context.Background(),
		`INSERT INTO files VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, nowait,
		m.RunID, m.Filename, m.Filetype, m.Records, m.Size, m.SHA256,
		m.Start.Format(timeLayout), m.End.Format(timeLayout),
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into files ", err)
		db.err = err
	}
}
