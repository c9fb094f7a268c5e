// Package osc implements OSC 1.0 wire encoding/decoding, a sender
// (transport) bound to one remote address:port, and a receiver bound to a
// local port that dispatches parsed messages to typed callbacks.
package osc

import "time"

// Message is a decoded/pending OSC message, carrying at most one argument
// kind in the slices that matters for PrimaryType.
type Message struct {
	Address         string
	FloatValues     []float32
	IntValues       []int32
	StringValues    []string
	BlobValues      [][]byte
	PrimaryType     byte // 'f', 'i', 's', or 'b'
	Timestamp       time.Time
	SourceChannelID int // -1 when the message did not originate from a channel
	DeviceID        string
}
