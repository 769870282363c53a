package cardiod

// Single-client TCP push server. After a run ends, the finished files in the
// output directory are sent to whichever client is connected (or to the next
// one that connects). The wire format is a line-oriented ASCII header per
// file followed by the raw bytes:
//
//	FILES <n>\n
//	FILE <name> <size>\n<bytes...>
//
// The server never reads from the client and closes the session after the
// last file.

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const sendChunkSize = 8192

// TCPFileServer listens for one operator workstation at a time.
type TCPFileServer struct {
	dataDir  string
	listener *net.TCPListener
	running  atomic.Bool

	// client and filesReady can race between the accept loop, the shutdown
	// sequence, and Stop.
	mu         sync.Mutex
	client     net.Conn
	filesReady bool

	stopOnce sync.Once
	done     chan struct{}
}

// NewTCPFileServer verifies the data directory exists and binds the
// listening socket.
func NewTCPFileServer(dataDir string, port int) (*TCPFileServer, error) {
	fi, err := os.Stat(dataDir)
	if err != nil {
		return nil, fmt.Errorf("data directory %s: %v", dataDir, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("data directory %s is not a directory", dataDir)
	}
	addr := &net.TCPAddr{Port: port}
	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("could not listen on port %d: %v", port, err)
	}
	return &TCPFileServer{
		dataDir:  dataDir,
		listener: listener,
		done:     make(chan struct{}),
	}, nil
}

// Addr returns the listener's address, useful when binding to port 0.
func (ts *TCPFileServer) Addr() net.Addr {
	return ts.listener.Addr()
}

// Start launches the accept loop.
func (ts *TCPFileServer) Start() {
	ts.running.Store(true)
	go ts.acceptLoop()
}

// acceptLoop admits one client at a time. The 1-second accept deadline is
// the tick for re-checking the run flag; a newer client replaces an older
// one that never received files.
func (ts *TCPFileServer) acceptLoop() {
	defer close(ts.done)
	for ts.running.Load() {
		ts.listener.SetDeadline(time.Now().Add(time.Second))
		conn, err := ts.listener.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ts.running.Load() {
				ProblemLogger.Printf("TCP accept failed: %v", err)
			}
			return
		}
		UpdateLogger.Printf("TCP client connected from %s", conn.RemoteAddr())

		ts.mu.Lock()
		if ts.client != nil {
			ts.client.Close()
		}
		ts.client = conn
		ready := ts.filesReady
		ts.mu.Unlock()

		if ready {
			ts.sendFiles(conn)
		}
	}
}

// SendAvailableFiles marks the output files final and pushes them to the
// connected client, if any. With no client connected the files are sent to
// the next one that arrives.
func (ts *TCPFileServer) SendAvailableFiles() {
	ts.mu.Lock()
	ts.filesReady = true
	conn := ts.client
	ts.mu.Unlock()
	if conn == nil {
		UpdateLogger.Printf("files ready, waiting for a TCP client")
		return
	}
	ts.sendFiles(conn)
}

// sendFiles transfers every regular file in the data directory, sorted by
// name, then closes the session.
func (ts *TCPFileServer) sendFiles(conn net.Conn) {
	defer func() {
		conn.Close()
		ts.mu.Lock()
		if ts.client == conn {
			ts.client = nil
		}
		ts.mu.Unlock()
	}()

	entries, err := os.ReadDir(ts.dataDir)
	if err != nil {
		ProblemLogger.Printf("could not list %s: %v", ts.dataDir, err)
		fmt.Fprintf(conn, "ERROR: cannot list data directory\n")
		return
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}

	if _, err := fmt.Fprintf(conn, "FILES %d\n", len(names)); err != nil {
		ProblemLogger.Printf("TCP send failed: %v", err)
		return
	}
	for _, name := range names {
		if strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
			fmt.Fprintf(conn, "ERROR: illegal filename\n")
			return
		}
		if err := ts.sendOneFile(conn, name); err != nil {
			ProblemLogger.Printf("TCP send of %s failed: %v", name, err)
			return
		}
		metricFilesServed.Inc()
	}
	UpdateLogger.Printf("sent %d files to %s", len(names), conn.RemoteAddr())
}

func (ts *TCPFileServer) sendOneFile(conn net.Conn, name string) error {
	path := filepath.Join(ts.dataDir, name)
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(conn, "FILE %s %d\n", name, fi.Size()); err != nil {
		return err
	}
	buf := make([]byte, sendChunkSize)
	_, err = io.CopyBuffer(conn, f, buf)
	return err
}

// Stop shuts the accept loop down, closing any connected client and the
// listener, and waits for the loop to exit. Idempotent.
func (ts *TCPFileServer) Stop() {
	ts.stopOnce.Do(func() {
		ts.running.Store(false)
		ts.mu.Lock()
		if ts.client != nil {
			ts.client.Close()
			ts.client = nil
		}
		ts.mu.Unlock()
		ts.listener.Close()
		<-ts.done
	})
}
