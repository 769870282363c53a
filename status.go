package cardiod

// Contains the status publisher, which publishes JSON-encoded messages
// giving the latest cardiod run state on a ZMQ PUB socket. Monitoring
// clients subscribe to the tags they care about: START, HEARTBEAT, STOP.

import (
	"encoding/json"
	"fmt"

	zmq "github.com/pebbe/zmq4"
)

// StatusUpdate carries one message to be published on the status port.
type StatusUpdate struct {
	Tag     string
	Message []byte
}

// RunStartStatus is the payload of a START message.
type RunStartStatus struct {
	RunID        string
	DataSource   string
	SampleRate   float64
	VoltageRange float64
	Filter       string
	Version      string
}

// HeartbeatStatus is the payload of the 1 Hz HEARTBEAT message.
type HeartbeatStatus struct {
	RunID           string
	ElapsedSeconds  float64
	SamplesAcquired int64
	BeatsDetected   int64
}

// RunStopStatus is the payload of a STOP message.
type RunStopStatus struct {
	RunID           string
	ElapsedSeconds  float64
	SamplesAcquired int64
	BeatsDetected   int64
	Graceful        bool
}

// NewStatusUpdate JSON-encodes the payload under the given tag.
func NewStatusUpdate(tag string, payload any) StatusUpdate {
	message, err := json.Marshal(payload)
	if err != nil {
		// Payload types are plain structs; a marshal failure is a bug.
		panic(fmt.Sprintf("could not marshal %s status: %v", tag, err))
	}
	return StatusUpdate{Tag: tag, Message: message}
}

// RunStatusPublisher forwards any message from its input channel to the ZMQ
// publisher socket, as two frames: the tag, then the JSON payload. Runs
// until abort is closed. Publish failures are logged and dropped; status is
// advisory and never blocks the pipeline.
func RunStatusPublisher(messages <-chan StatusUpdate, port int, abort <-chan struct{}) {
	pubSocket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		ProblemLogger.Printf("could not create status PUB socket: %v", err)
		return
	}
	defer pubSocket.Close()
	if err := pubSocket.Bind(fmt.Sprintf("tcp://*:%d", port)); err != nil {
		ProblemLogger.Printf("could not bind status port %d: %v", port, err)
		return
	}

	for {
		select {
		case <-abort:
			return
		case update := <-messages:
			if _, err := pubSocket.Send(update.Tag, zmq.SNDMORE); err != nil {
				ProblemLogger.Printf("status publish failed: %v", err)
				continue
			}
			if _, err := pubSocket.SendBytes(update.Message, 0); err != nil {
				ProblemLogger.Printf("status publish failed: %v", err)
			}
		}
	}
}
