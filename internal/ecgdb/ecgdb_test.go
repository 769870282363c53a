package ecgdb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The dummy connection must absorb every call without blocking, because the
// daemon uses it whenever no database is configured.
func TestDummyConnection(t *testing.T) {
	db := DummyConnection()
	assert.False(t, db.IsConnected(), "DummyConnection must not report connected")

	run := &RunMessage{ID: "run1", Start: time.Now()}
	done := make(chan struct{})
	go func() {
		db.RecordRun(run)
		db.RecordFile(&FileMessage{RunID: "run1", Filename: "a.bin"})
		db.FinishRun(run)
		db.Disconnect()
		db.Done()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		require.Fail(t, "dummy connection blocked a Record call")
	}
	db.Wait()
}

func TestNilConnection(t *testing.T) {
	var db *Connection
	assert.False(t, db.IsConnected(), "nil Connection must not report connected")

	// Record methods must tolerate nil messages too.
	db2 := DummyConnection()
	assert.NotPanics(t, func() {
		db2.RecordRun(nil)
		db2.RecordFile(nil)
		db2.FinishRun(nil)
	})
}
