package mixer

import (
	"sync/atomic"
	"time"
)

// Message is one unit of engine work: an inbound OSC message to route to
// a channel, or an outbound sample produced by a channel to dispatch to
// its output devices.
type Message struct {
	Address         string
	FloatValues     []float64
	IntValues       []int32
	StringValues    []string
	PrimaryType     byte
	Timestamp       time.Time
	SourceChannelID int // -1 for inbound messages not yet attributed to a channel
	DeviceID        string
}

// queueCapacity bounds the message queue; beyond it Enqueue drops the
// oldest pending message rather than blocking a producer.
const queueCapacity = 4096

// dequeueTimeout bounds how long a blocking Dequeue waits.
const dequeueTimeout = 10 * time.Millisecond

// messageQueue is the bounded FIFO bridging producer threads (OSC
// receivers, supervisory calls, the engine loop itself) to the single
// engine-loop consumer. Enqueue is non-blocking; Dequeue blocks up to
// dequeueTimeout waiting for a message.
type messageQueue struct {
	ch      chan Message
	dropped atomic.Uint64
}

func newMessageQueue() *messageQueue {
	return &messageQueue{ch: make(chan Message, queueCapacity)}
}

// Enqueue never blocks: if the queue is full, the oldest pending message
// is dropped to make room.
func (q *messageQueue) Enqueue(m Message) {
	select {
	case q.ch <- m:
		return
	default:
	}
	select {
	case <-q.ch:
		q.dropped.Add(1)
	default:
	}
	select {
	case q.ch <- m:
	default:
		q.dropped.Add(1)
	}
}

// Dequeue blocks up to dequeueTimeout for a message, returning ok=false
// on timeout.
func (q *messageQueue) Dequeue() (Message, bool) {
	select {
	case m := <-q.ch:
		return m, true
	case <-time.After(dequeueTimeout):
		return Message{}, false
	}
}

// TryDequeue returns a queued message without waiting, used by the engine
// loop to finish a drain once the blocking first dequeue has fired.
func (q *messageQueue) TryDequeue() (Message, bool) {
	select {
	case m := <-q.ch:
		return m, true
	default:
		return Message{}, false
	}
}

// Dropped reports how many messages have been discarded for overflow.
func (q *messageQueue) Dropped() uint64 { return q.dropped.Load() }

// Len reports the number of messages currently queued.
func (q *messageQueue) Len() int { return len(q.ch) }
