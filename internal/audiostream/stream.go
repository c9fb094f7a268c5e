// Package audiostream owns the host audio callback: opening input/output/
// duplex streams, the lock-free ring buffer that bridges them, and the
// registry (stream manager) that the mixer engine addresses by device id.
package audiostream

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"
)

// Mode is the stream's I/O direction.
type Mode int

const (
	ModeInput Mode = iota
	ModeOutput
	ModeDuplex
)

// ringBufferFrames is the passthrough ring buffer length: two seconds
// at 44100 Hz.
const ringBufferFrames = 44100 * 2

// AudioOpenError is returned when the host audio backend fails to open or
// start a stream.
type AudioOpenError struct {
	DeviceIndex int
	Channels    int
	Err         error
}

func (e *AudioOpenError) Error() string {
	return fmt.Sprintf("audiostream: open device %d (channels=%d): %v", e.DeviceIndex, e.Channels, e.Err)
}
func (e *AudioOpenError) Unwrap() error { return e.Err }

// HostStream is the portion of a host audio stream's API that Stream
// depends on. The production implementation wraps
// github.com/gordonklaus/portaudio; tests use a fake.
type HostStream interface {
	Start() error
	Stop() error
	Close() error
}

// HostOpener opens a host audio stream for the given parameters, wiring
// inCallback/outCallback as the PortAudio-style per-buffer callbacks.
// inCallback receives an interleaved input buffer; outCallback fills an
// interleaved output buffer. Either may be nil depending on Mode.
type HostOpener func(deviceIn, deviceOut, channels int, sampleRate float64, framesPerBuffer int,
	inCallback func(in []float32), outCallback func(out []float32)) (HostStream, error)

// LevelCallback is invoked on the audio callback thread whenever a new
// input level has been computed. It must not block.
type LevelCallback func(level float32)

// Stream owns one host audio stream: input-only, output-only, or a
// bridging duplex between an input and an output device.
type Stream struct {
	opener HostOpener
	host   HostStream

	mode            Mode
	channels        int
	sampleRate      float64
	framesPerBuffer int

	deviceIn  int
	deviceOut int

	// Ring buffer: single writer (input callback), single reader (output
	// callback), atomic cursors, no locks on the hot path.
	ring     []float32
	writePos atomic.Uint64
	readPos  atomic.Uint64

	currentInputLevel atomic.Uint64 // float32 bits via math.Float32bits
	peakLevel         atomic.Uint64
	lastPeakUpdate    atomic.Int64 // unix nano

	underruns atomic.Uint64

	duplexPassthrough bool

	onLevel LevelCallback
}

// New builds a Stream that will use opener to talk to the host audio
// backend when started.
func New(opener HostOpener, channels int, sampleRate float64, framesPerBuffer int) *Stream {
	return &Stream{
		opener:          opener,
		channels:        channels,
		sampleRate:      sampleRate,
		framesPerBuffer: framesPerBuffer,
		ring:            make([]float32, ringBufferFrames),
	}
}

// OnLevel registers the callback invoked with each new input level.
func (s *Stream) OnLevel(cb LevelCallback) { s.onLevel = cb }

func (s *Stream) stopLocked() error {
	if s.host == nil {
		return nil
	}
	_ = s.host.Stop()
	err := s.host.Close()
	s.host = nil
	return err
}

// Stop idempotently halts and closes any open host stream.
func (s *Stream) Stop() error {
	return s.stopLocked()
}

// StartInput opens an input-only stream on deviceIndex.
func (s *Stream) StartInput(deviceIndex int) error {
	_ = s.stopLocked()
	s.mode = ModeInput
	s.deviceIn = deviceIndex
	return s.open(deviceIndex, -1, s.inputCallback, nil)
}

// StartOutput opens an output-only stream on deviceIndex.
func (s *Stream) StartOutput(deviceIndex int) error {
	_ = s.stopLocked()
	s.mode = ModeOutput
	s.deviceOut = deviceIndex
	return s.open(-1, deviceIndex, nil, s.outputCallback)
}

// StartDuplex opens a full-duplex stream bridging deviceIn to deviceOut,
// copying input straight to output without going through the ring buffer
// (sample-exact, lowest latency) while still updating the input level.
func (s *Stream) StartDuplex(deviceIn, deviceOut int) error {
	_ = s.stopLocked()
	s.mode = ModeDuplex
	s.deviceIn, s.deviceOut = deviceIn, deviceOut
	s.duplexPassthrough = true
	return s.openDuplex(deviceIn, deviceOut)
}

func (s *Stream) open(deviceIn, deviceOut int, in func([]float32), out func([]float32)) error {
	host, err := s.openWithRetry(deviceIn, deviceOut, in, out)
	if err != nil {
		return err
	}
	s.host = host
	return nil
}

func (s *Stream) openDuplex(deviceIn, deviceOut int) error {
	var lastIn []float32
	inCb := func(in []float32) {
		lastIn = in
		s.updateLevelAndBuffer(in)
	}
	outCb := func(out []float32) {
		if len(lastIn) == len(out) {
			copy(out, lastIn)
			return
		}
		for i := range out {
			out[i] = 0
		}
	}
	host, err := s.openWithRetry(deviceIn, deviceOut, inCb, outCb)
	if err != nil {
		return err
	}
	s.host = host
	return nil
}

// openWithRetry retries a failed open once with a single channel and a
// doubled buffer size before escalating.
func (s *Stream) openWithRetry(deviceIn, deviceOut int, in func([]float32), out func([]float32)) (HostStream, error) {
	host, err := s.opener(deviceIn, deviceOut, s.channels, s.sampleRate, s.framesPerBuffer, in, out)
	if err == nil {
		if startErr := host.Start(); startErr == nil {
			return host, nil
		} else {
			_ = host.Close()
			err = startErr
		}
	}

	retryChannels := 1
	retryBuffer := s.framesPerBuffer * 2
	host2, err2 := s.opener(deviceIn, deviceOut, retryChannels, s.sampleRate, retryBuffer, in, out)
	if err2 != nil {
		return nil, &AudioOpenError{DeviceIndex: pickDevice(deviceIn, deviceOut), Channels: s.channels, Err: errors.Join(err, err2)}
	}
	if startErr := host2.Start(); startErr != nil {
		_ = host2.Close()
		return nil, &AudioOpenError{DeviceIndex: pickDevice(deviceIn, deviceOut), Channels: retryChannels, Err: errors.Join(err, startErr)}
	}
	s.channels = retryChannels
	s.framesPerBuffer = retryBuffer
	return host2, nil
}

func pickDevice(in, out int) int {
	if in >= 0 {
		return in
	}
	return out
}

// inputCallback downmixes to mono, pushes into the ring buffer, and
// updates the level meter. Runs on the host audio callback thread.
func (s *Stream) inputCallback(in []float32) {
	s.updateLevelAndBuffer(in)
}

// outputCallback reads from the ring buffer, zero-filling on underrun, and
// broadcasts the mono sample across output channels.
func (s *Stream) outputCallback(out []float32) {
	frames := len(out) / s.channels
	if s.channels <= 0 {
		frames = len(out)
	}
	if available := s.writePos.Load() - s.readPos.Load(); available < uint64(frames) {
		s.underruns.Add(1)
	}
	for f := 0; f < frames; f++ {
		sample := s.popRing()
		for c := 0; c < s.channels; c++ {
			out[f*s.channels+c] = sample
		}
	}
}

func downmix(in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}
	frames := len(in) / channels
	mono := make([]float32, frames)
	for f := 0; f < frames; f++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += in[f*channels+c]
		}
		mono[f] = sum / float32(channels)
	}
	return mono
}

func (s *Stream) pushRing(mono []float32) {
	n := uint64(len(s.ring))
	for _, v := range mono {
		pos := s.writePos.Add(1) - 1
		s.ring[pos%n] = v
	}
}

func (s *Stream) popRing() float32 {
	n := uint64(len(s.ring))
	wp := s.writePos.Load()
	rp := s.readPos.Load()
	if rp >= wp {
		return 0
	}
	v := s.ring[rp%n]
	s.readPos.Add(1)
	return v
}

// rmsInputScale and peakInputScale are the empirical mic-level scaling:
// RMS*50, falling back to peak*10 when RMS is negligible but peak is
// appreciable.
const (
	rmsInputScale      = 50.0
	peakInputScale     = 10.0
	rmsFallbackFloor   = 0.001
	peakFallbackFloor  = 0.01
	peakDecayPerSecond = 0.98
)

func (s *Stream) updateLevelAndBuffer(in []float32) {
	mono := downmix(in, s.channels)
	s.pushRing(mono)

	var sumSq float64
	var peak float32
	for _, v := range mono {
		sumSq += float64(v) * float64(v)
		if av := absF32(v); av > peak {
			peak = av
		}
	}
	var rms float64
	if len(mono) > 0 {
		rms = math.Sqrt(sumSq / float64(len(mono)))
	}

	level := rms * rmsInputScale
	if rms < rmsFallbackFloor && float64(peak) > peakFallbackFloor {
		level = float64(peak) * peakInputScale
	}
	if level < 0 {
		level = 0
	}
	if level > 10 {
		level = 10
	}

	s.currentInputLevel.Store(uint64(math.Float32bits(float32(level))))

	prevPeak := math.Float32frombits(uint32(s.peakLevel.Load()))
	now := time.Now()
	last := s.lastPeakUpdate.Load()
	decayed := prevPeak
	if last != 0 {
		elapsed := now.Sub(time.Unix(0, last)).Seconds()
		decayed = prevPeak * float32(math.Pow(peakDecayPerSecond, elapsed))
	}
	newPeak := decayed
	if peak > newPeak {
		newPeak = peak
	}
	s.peakLevel.Store(uint64(math.Float32bits(newPeak)))
	s.lastPeakUpdate.Store(now.UnixNano())

	if s.onLevel != nil {
		s.onLevel(float32(level))
	}
}

func absF32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

// InputLevel returns the last computed CV-scaled input level in [0,10].
func (s *Stream) InputLevel() float32 {
	return math.Float32frombits(uint32(s.currentInputLevel.Load()))
}

// SendOutput pushes one sample into the output ring buffer (non-duplex
// output streams pull from here via the host callback).
func (s *Stream) SendOutput(sample float32) {
	s.pushRing([]float32{sample})
}

// Underruns reports how many output callbacks found fewer samples
// buffered than they needed.
func (s *Stream) Underruns() uint64 {
	return s.underruns.Load()
}
