package audiostream

import (
	"fmt"
	"sync"
)

// Manager is the registry of audio streams keyed by device id.
// The map mutex is held only for the lookup/insert itself; stream methods
// below are always called without it held.
type Manager struct {
	opener HostOpener

	mu      sync.Mutex
	streams map[string]*Stream
}

// NewManager builds a Manager that opens streams through opener.
func NewManager(opener HostOpener) *Manager {
	return &Manager{opener: opener, streams: make(map[string]*Stream)}
}

func (m *Manager) take(id string) (*Stream, bool) {
	m.mu.Lock()
	s, ok := m.streams[id]
	m.mu.Unlock()
	return s, ok
}

func (m *Manager) set(id string, s *Stream) {
	m.mu.Lock()
	m.streams[id] = s
	m.mu.Unlock()
}

func (m *Manager) deleteEntry(id string) {
	m.mu.Lock()
	delete(m.streams, id)
	m.mu.Unlock()
}

func (m *Manager) newStream(channels int, sampleRate float64, framesPerBuffer int) *Stream {
	return New(m.opener, channels, sampleRate, framesPerBuffer)
}

// CreateInput removes any existing stream for id, then opens a new
// input-only stream on deviceIndex.
func (m *Manager) CreateInput(id string, deviceIndex, channels int, sampleRate float64, framesPerBuffer int) (*Stream, error) {
	_ = m.Remove(id)
	s := m.newStream(channels, sampleRate, framesPerBuffer)
	if err := s.StartInput(deviceIndex); err != nil {
		return nil, err
	}
	m.set(id, s)
	return s, nil
}

// CreateOutput removes any existing stream for id, then opens a new
// output-only stream on deviceIndex.
func (m *Manager) CreateOutput(id string, deviceIndex, channels int, sampleRate float64, framesPerBuffer int) (*Stream, error) {
	_ = m.Remove(id)
	s := m.newStream(channels, sampleRate, framesPerBuffer)
	if err := s.StartOutput(deviceIndex); err != nil {
		return nil, err
	}
	m.set(id, s)
	return s, nil
}

// CreateDuplex removes any existing stream for id, then opens a new
// full-duplex stream bridging inIndex to outIndex.
func (m *Manager) CreateDuplex(id string, inIndex, outIndex, channels int, sampleRate float64, framesPerBuffer int) (*Stream, error) {
	_ = m.Remove(id)
	s := m.newStream(channels, sampleRate, framesPerBuffer)
	if err := s.StartDuplex(inIndex, outIndex); err != nil {
		return nil, err
	}
	m.set(id, s)
	return s, nil
}

// Remove closes and forgets the stream registered under id, if any.
func (m *Manager) Remove(id string) error {
	s, ok := m.take(id)
	if !ok {
		return nil
	}
	m.deleteEntry(id)
	return s.Stop()
}

// HasStream reports whether a stream is registered under id.
func (m *Manager) HasStream(id string) bool {
	_, ok := m.take(id)
	return ok
}

// IsRunning reports whether a stream is registered under id and has an
// open host stream.
func (m *Manager) IsRunning(id string) bool {
	s, ok := m.take(id)
	if !ok {
		return false
	}
	return s.host != nil
}

// InputLevel returns the current CV-scaled input level for id, or an
// error if no stream is registered there.
func (m *Manager) InputLevel(id string) (float32, error) {
	s, ok := m.take(id)
	if !ok {
		return 0, fmt.Errorf("audiostream: no stream for device %q", id)
	}
	return s.InputLevel(), nil
}

// Underruns sums the underrun counts of every registered stream.
func (m *Manager) Underruns() uint64 {
	m.mu.Lock()
	streams := make([]*Stream, 0, len(m.streams))
	for _, s := range m.streams {
		streams = append(streams, s)
	}
	m.mu.Unlock()

	var total uint64
	for _, s := range streams {
		total += s.Underruns()
	}
	return total
}

// SendOutput pushes sample to the output stream registered under id.
func (m *Manager) SendOutput(id string, sample float32) error {
	s, ok := m.take(id)
	if !ok {
		return fmt.Errorf("audiostream: no stream for device %q", id)
	}
	s.SendOutput(sample)
	return nil
}
