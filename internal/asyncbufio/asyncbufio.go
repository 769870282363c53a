// Package asyncbufio decouples the file writer's output streams from disk
// latency: writes go to a channel, a background goroutine moves them into a
// bufio.Writer, and Flush blocks until everything queued so far is on disk.
package asyncbufio

import (
	"bufio"
	"io"
	"sync"
	"time"
)

// Writer provides asynchronous writing to an underlying io.Writer using
// buffered channels. Write errors are sticky: once the underlying writer
// fails, Err reports the first failure and further writes are discarded.
type Writer struct {
	writer        *bufio.Writer // this does the actual writing
	flushNow      chan struct{} // signal the write loop to flush
	flushComplete chan struct{} // write loop confirms flush is complete
	datachannel   chan []byte   // holds data before writing it
	flushInterval time.Duration

	errMu sync.Mutex
	err   error // first error from the underlying writer
}

// NewWriter creates a Writer and starts its background write loop.
func NewWriter(w io.Writer, channelDepth int, flushInterval time.Duration) *Writer {
	aw := &Writer{
		writer:        bufio.NewWriter(w),
		datachannel:   make(chan []byte, channelDepth),
		flushNow:      make(chan struct{}),
		flushComplete: make(chan struct{}),
		flushInterval: flushInterval,
	}
	go aw.writeLoop()
	return aw
}

// Write queues p for writing. The caller must not reuse p afterwards.
// Returns io.ErrShortWrite without blocking if the channel is full.
func (aw *Writer) Write(p []byte) (int, error) {
	if err := aw.Err(); err != nil {
		return 0, err
	}
	select {
	case aw.datachannel <- p:
		return len(p), nil
	default:
		return 0, io.ErrShortWrite
	}
}

// WriteString queues s for writing (with a copy).
func (aw *Writer) WriteString(s string) (int, error) {
	return aw.Write([]byte(s))
}

// Err returns the first error the underlying writer reported, or nil.
func (aw *Writer) Err() error {
	aw.errMu.Lock()
	defer aw.errMu.Unlock()
	return aw.err
}

func (aw *Writer) setErr(err error) {
	aw.errMu.Lock()
	if aw.err == nil {
		aw.err = err
	}
	aw.errMu.Unlock()
}

// Flush drains the channel into the underlying writer and flushes it.
// Blocks until the flush is complete.
func (aw *Writer) Flush() error {
	aw.flushNow <- struct{}{}
	<-aw.flushComplete
	return aw.Err()
}

// Close flushes remaining data and stops the write loop. Calling Write or
// Flush after Close panics; we don't test for that case.
func (aw *Writer) Close() error {
	close(aw.flushNow)
	<-aw.flushComplete
	return aw.Err()
}

func (aw *Writer) writeLoop() {
	ticker := time.NewTicker(aw.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-aw.datachannel:
			aw.write(data)

		case _, ok := <-aw.flushNow:
			aw.flush()
			aw.flushComplete <- struct{}{}
			if !ok {
				return
			}

		case <-ticker.C:
			aw.flush()
		}
	}
}

func (aw *Writer) write(data []byte) {
	if _, err := aw.writer.Write(data); err != nil {
		aw.setErr(err)
	}
}

// flush empties the data channel before calling the underlying writer's
// Flush method.
func (aw *Writer) flush() {
	for {
		select {
		case data := <-aw.datachannel:
			aw.write(data)
		default:
			if err := aw.writer.Flush(); err != nil {
				aw.setErr(err)
			}
			return
		}
	}
}
