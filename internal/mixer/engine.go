// Package mixer implements the engine at the heart of the system: the
// channel state machine, the ~100 Hz engine loop, OSC/audio device
// bridging, and the passthrough routing policy.
package mixer

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cvosc/engine/internal/audiostream"
	"github.com/cvosc/engine/internal/format"
	"github.com/cvosc/engine/internal/osc"
)

// tickInterval is the engine loop's default target rate, ~100 Hz.
const tickInterval = 10 * time.Millisecond

// routeAddress recognises the three inbound address forms routed to a
// channel index by routeInput/parseChannelAddress.
var routeAddress = regexp.MustCompile(`^/(channel|ch|cv)/(\d+)$`)

// Reporter receives engine-level errors for the telemetry bus. A nil
// Reporter is a no-op.
type Reporter interface {
	Report(severity, category, message string)
}

// PerfRecorder receives dispatch outcomes and loss events for the
// performance monitor. telemetry.Monitor satisfies it. A nil recorder
// is a no-op.
type PerfRecorder interface {
	RecordSent()
	RecordFailed()
	RecordDropped()
	RecordUnderrun()
}

// Engine owns channels, device transports, and the message queue. It is
// the engine-loop thread's exclusive mutator of channel state; all other
// access goes through its supervisory methods.
type Engine struct {
	stateMutex sync.Mutex
	channels   []*Channel

	deviceMutex    sync.Mutex
	senders        map[string]*osc.Sender
	receivers      map[string]*osc.Receiver
	deviceStatuses map[string]*DeviceStatus
	streams        *audiostream.Manager

	queue *messageQueue

	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	soloActive bool

	masterLevel float64
	masterMute  bool

	learningTarget string

	reporter Reporter
	perf     PerfRecorder

	formats *format.Manager

	messageCount      atomic.Uint64
	messagesPerSecond atomic.Uint64
	lastRateSample    time.Time
	lastRateCount     uint64
	lastDropCount     uint64
	lastUnderruns     uint64
	tickCount         atomic.Uint64

	sampleRate      float64
	framesPerBuffer int
	updateInterval  time.Duration
}

// New builds an Engine with n channels, each spanning [minV, maxV] and
// backed by streams opened through opener.
func New(n int, minV, maxV float64, opener audiostream.HostOpener) (*Engine, error) {
	e := &Engine{
		senders:         make(map[string]*osc.Sender),
		receivers:       make(map[string]*osc.Receiver),
		deviceStatuses:  make(map[string]*DeviceStatus),
		streams:         audiostream.NewManager(opener),
		queue:           newMessageQueue(),
		sampleRate:      44100,
		framesPerBuffer: 256,
		masterLevel:     1.0,
		updateInterval:  tickInterval,
	}
	for i := 0; i < n; i++ {
		ch, err := NewChannel(i, minV, maxV)
		if err != nil {
			return nil, err
		}
		e.channels = append(e.channels, ch)
	}
	return e, nil
}

// SetReporter wires the telemetry sink used for engine-level diagnostics.
func (e *Engine) SetReporter(r Reporter) { e.reporter = r }

// SetPerfRecorder wires the performance-counter sink fed by every OSC
// dispatch outcome, queue drop, and audio underrun.
func (e *Engine) SetPerfRecorder(p PerfRecorder) { e.perf = p }

func (e *Engine) recordSent() {
	if e.perf != nil {
		e.perf.RecordSent()
	}
}

func (e *Engine) recordFailed() {
	if e.perf != nil {
		e.perf.RecordFailed()
	}
}

// SetFormats wires the format manager whose templates are evaluated
// against the channel CV vector each tick and dispatched to the manager's
// target devices. Nil disables template-driven emission.
func (e *Engine) SetFormats(m *format.Manager) {
	e.stateMutex.Lock()
	e.formats = m
	e.stateMutex.Unlock()
}

// TickCount reports how many loop iterations the engine has completed;
// read by the performance monitor to derive the cycle rate.
func (e *Engine) TickCount() uint64 { return e.tickCount.Load() }

// MessageRate reports the number of messages dispatched during the most
// recently completed one-second window.
func (e *Engine) MessageRate() uint64 { return e.messagesPerSecond.Load() }

// QueueDropped reports how many queued messages were discarded for
// overflow.
func (e *Engine) QueueDropped() uint64 { return e.queue.Dropped() }

func (e *Engine) report(severity, category, message string) {
	if e.reporter != nil {
		e.reporter.Report(severity, category, message)
	}
}

// Channel returns channel id, or nil if out of range.
func (e *Engine) Channel(id int) *Channel {
	e.stateMutex.Lock()
	defer e.stateMutex.Unlock()
	if id < 0 || id >= len(e.channels) {
		return nil
	}
	return e.channels[id]
}

// Channels returns a snapshot slice of all owned channels.
func (e *Engine) Channels() []*Channel {
	e.stateMutex.Lock()
	defer e.stateMutex.Unlock()
	out := make([]*Channel, len(e.channels))
	copy(out, e.channels)
	return out
}

// Enqueue places a message on the engine queue. Safe to call from any
// producer thread (OSC receiver callbacks, supervisory API, the loop
// itself).
func (e *Engine) Enqueue(m Message) { e.queue.Enqueue(m) }

// StartChannel transitions channel id from STOPPED to RUNNING, opening
// its configured devices: prefer a
// single duplex audio stream when both roles have an enabled audio
// device, falling back to independent streams; OSC-backed roles get a
// receiver or sender keyed by device id.
func (e *Engine) StartChannel(id int) error {
	e.stateMutex.Lock()
	ch := e.channelLocked(id)
	if ch == nil {
		e.stateMutex.Unlock()
		return fmt.Errorf("mixer: no such channel %d", id)
	}
	e.stateMutex.Unlock()

	workingRole := false

	audioIn := ch.enabledAudioInput()
	audioOut := ch.enabledAudioOutput()
	if audioIn != nil && audioOut != nil {
		streamID := fmt.Sprintf("ch%d-duplex", ch.ID)
		if _, err := e.streams.CreateDuplex(streamID, audioIn.HostDeviceIndex, audioOut.HostDeviceIndex, 1, e.sampleRate, e.framesPerBuffer); err != nil {
			e.report("WARNING", "AUDIO", fmt.Sprintf("channel %d: duplex open failed, falling back: %v", ch.ID, err))
			workingRole = e.startIndependentAudio(ch, audioIn, audioOut) || workingRole
		} else {
			e.setDeviceStatus(audioIn.ID, StatusConnected)
			e.setDeviceStatus(audioOut.ID, StatusConnected)
			workingRole = true
		}
	} else {
		workingRole = e.startIndependentAudio(ch, audioIn, audioOut) || workingRole
	}

	for _, d := range ch.Inputs {
		if !d.Enabled || d.Kind.IsAudio() {
			continue
		}
		if err := e.startOSCInput(ch, d); err != nil {
			e.report("ERROR", "NETWORK", fmt.Sprintf("channel %d: device %s: %v", ch.ID, d.ID, err))
			e.setDeviceStatus(d.ID, StatusError)
			continue
		}
		workingRole = true
	}

	for _, d := range ch.Outputs {
		if !d.Enabled || d.Kind.IsAudio() {
			continue
		}
		if err := e.startOSCOutput(d); err != nil {
			e.report("ERROR", "NETWORK", fmt.Sprintf("channel %d: device %s: %v", ch.ID, d.ID, err))
			e.setDeviceStatus(d.ID, StatusError)
			continue
		}
		workingRole = true
	}

	e.stateMutex.Lock()
	defer e.stateMutex.Unlock()
	if workingRole || (len(ch.Inputs) == 0 && len(ch.Outputs) == 0) {
		ch.State = StateRunning
	} else {
		ch.State = StateError
	}
	e.recomputeSoloLocked()
	return nil
}

func (e *Engine) startIndependentAudio(ch *Channel, in, out *DeviceConfig) bool {
	started := false
	if in != nil {
		id := fmt.Sprintf("ch%d-in", ch.ID)
		if _, err := e.streams.CreateInput(id, in.HostDeviceIndex, 1, e.sampleRate, e.framesPerBuffer); err != nil {
			e.report("ERROR", "AUDIO", fmt.Sprintf("channel %d: input open: %v", ch.ID, err))
			e.setDeviceStatus(in.ID, StatusError)
		} else {
			e.setDeviceStatus(in.ID, StatusConnected)
			started = true
		}
	}
	if out != nil {
		id := fmt.Sprintf("ch%d-out", ch.ID)
		if _, err := e.streams.CreateOutput(id, out.HostDeviceIndex, 1, e.sampleRate, e.framesPerBuffer); err != nil {
			e.report("ERROR", "AUDIO", fmt.Sprintf("channel %d: output open: %v", ch.ID, err))
			e.setDeviceStatus(out.ID, StatusError)
		} else {
			e.setDeviceStatus(out.ID, StatusConnected)
			started = true
		}
	}
	return started
}

func (e *Engine) startOSCInput(ch *Channel, d *DeviceConfig) error {
	r := osc.NewReceiver(d.LocalPort)
	r.OnAny(func(msg *osc.Message) {
		m := Message{Address: msg.Address, PrimaryType: msg.PrimaryType, Timestamp: msg.Timestamp, SourceChannelID: -1, DeviceID: d.ID}
		for _, v := range msg.FloatValues {
			m.FloatValues = append(m.FloatValues, float64(v))
		}
		m.IntValues = msg.IntValues
		m.StringValues = msg.StringValues
		e.Enqueue(m)
	})
	if err := r.Start(); err != nil {
		return err
	}
	e.deviceMutex.Lock()
	e.receivers[d.ID] = r
	e.deviceMutex.Unlock()
	e.setDeviceStatus(d.ID, StatusConnected)
	return nil
}

func (e *Engine) startOSCOutput(d *DeviceConfig) error {
	timeout := time.Duration(d.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	s, err := osc.NewSender(d.Transport, d.RemoteAddr, d.RemotePort, timeout)
	if err != nil {
		return err
	}
	e.deviceMutex.Lock()
	e.senders[d.ID] = s
	e.deviceMutex.Unlock()
	e.setDeviceStatus(d.ID, StatusConnected)
	return nil
}

func (e *Engine) channelLocked(id int) *Channel {
	if id < 0 || id >= len(e.channels) {
		return nil
	}
	return e.channels[id]
}

func (e *Engine) setDeviceStatus(id string, state Status) {
	e.deviceMutex.Lock()
	defer e.deviceMutex.Unlock()
	st, ok := e.deviceStatuses[id]
	if !ok {
		st = &DeviceStatus{}
		e.deviceStatuses[id] = st
	}
	st.State = state
	if state == StatusConnected {
		st.LastActivity = time.Now()
	}
}

// StopChannel transitions channel id to STOPPED, closing its devices.
func (e *Engine) StopChannel(id int) error {
	e.stateMutex.Lock()
	ch := e.channelLocked(id)
	if ch == nil {
		e.stateMutex.Unlock()
		return fmt.Errorf("mixer: no such channel %d", id)
	}
	ch.State = StateStopped
	e.recomputeSoloLocked()
	e.stateMutex.Unlock()

	for _, prefix := range []string{fmt.Sprintf("ch%d-duplex", id), fmt.Sprintf("ch%d-in", id), fmt.Sprintf("ch%d-out", id)} {
		_ = e.streams.Remove(prefix)
	}
	for _, d := range ch.Inputs {
		e.deviceMutex.Lock()
		if r, ok := e.receivers[d.ID]; ok {
			r.Stop()
			delete(e.receivers, d.ID)
		}
		e.deviceMutex.Unlock()
	}
	for _, d := range ch.Outputs {
		e.deviceMutex.Lock()
		if s, ok := e.senders[d.ID]; ok {
			s.Close()
			delete(e.senders, d.ID)
		}
		e.deviceMutex.Unlock()
	}
	return nil
}

// SetMaster records the master level and mute. Only the mute is
// honoured, at explicit route-output sends on the audio path; the level
// is stored and saved with the mixer document but applied to no signal.
// The passthrough forward loop always forwards unattenuated.
func (e *Engine) SetMaster(level float64, mute bool) {
	e.stateMutex.Lock()
	e.masterLevel = level
	e.masterMute = mute
	e.stateMutex.Unlock()
}

// SetMode sets a channel's mix mode and recomputes solo-active state.
func (e *Engine) SetMode(id int, mode Mode) error {
	e.stateMutex.Lock()
	defer e.stateMutex.Unlock()
	ch := e.channelLocked(id)
	if ch == nil {
		return fmt.Errorf("mixer: no such channel %d", id)
	}
	ch.Mode = mode
	e.recomputeSoloLocked()
	return nil
}

// recomputeSoloLocked updates soloActive: true iff any RUNNING channel is
// in SOLO mode. Caller must hold stateMutex.
func (e *Engine) recomputeSoloLocked() {
	for _, ch := range e.channels {
		if ch.State == StateRunning && ch.Mode == ModeSolo {
			e.soloActive = true
			return
		}
	}
	e.soloActive = false
}

// shouldBeAudible gates every output dispatch: a channel may emit only
// if it is RUNNING and either no channel is in SOLO mode, or this
// channel itself is SOLO. Applied symmetrically by the loop's
// per-channel pass, routeInput, and routeOutput, so a SOLO exclusion
// cannot leak a sample through any path.
func (e *Engine) shouldBeAudible(ch *Channel) bool {
	e.stateMutex.Lock()
	defer e.stateMutex.Unlock()
	return e.shouldBeAudibleLocked(ch)
}

func (e *Engine) shouldBeAudibleLocked(ch *Channel) bool {
	if ch.State != StateRunning {
		return false
	}
	if !e.soloActive {
		return true
	}
	return ch.Mode == ModeSolo
}

// SetLearningTarget sets the OSC address pattern watched by the learning
// subsystem; empty disables learning.
func (e *Engine) SetLearningTarget(addr string) {
	e.stateMutex.Lock()
	e.learningTarget = addr
	e.stateMutex.Unlock()
}

// SetUpdateInterval overrides the default 10 ms loop interval. Must be
// called before Run.
func (e *Engine) SetUpdateInterval(d time.Duration) {
	if d > 0 {
		e.updateInterval = d
	}
}

// Run starts the background engine-loop goroutine. Cancel via Stop.
func (e *Engine) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true
	e.wg.Add(1)
	go e.loop(ctx)
}

// Stop signals the engine loop to exit and waits for it to return.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.running = false
}

// loop is the single engine-loop thread: drains the queue, sweeps device
// statuses, and advances every running channel's forward path, sleeping
// to approximate tickInterval between iterations.
func (e *Engine) loop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.updateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		now := time.Now()
		e.drainQueue()
		e.sweepDeviceStatuses(now)
		e.advanceChannels(now)
		e.generateFromTemplates(now)
		e.tickCount.Add(1)
		e.sampleMessageRate(now)
		e.forwardLossCounters()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// drainQueue pulls every currently-queued message and routes it. The
// first dequeue blocks up to dequeueTimeout; the rest of the drain is
// non-blocking so an empty queue costs the loop only one wait.
func (e *Engine) drainQueue() {
	msg, ok := e.queue.Dequeue()
	for ok {
		if msg.SourceChannelID >= 0 {
			e.routeOutput(msg)
		} else {
			e.routeInput(msg)
		}
		msg, ok = e.queue.TryDequeue()
	}
}

// sampleMessageRate rolls the dispatched-message counter into a
// per-second rate once each second.
func (e *Engine) sampleMessageRate(now time.Time) {
	if e.lastRateSample.IsZero() {
		e.lastRateSample = now
		e.lastRateCount = e.messageCount.Load()
		return
	}
	if now.Sub(e.lastRateSample) < time.Second {
		return
	}
	count := e.messageCount.Load()
	e.messagesPerSecond.Store(count - e.lastRateCount)
	e.lastRateCount = count
	e.lastRateSample = now
}

// forwardLossCounters feeds queue drops and audio underruns accumulated
// since the last tick into the performance recorder, one event per
// occurrence.
func (e *Engine) forwardLossCounters() {
	if e.perf == nil {
		return
	}
	for drops := e.queue.Dropped(); e.lastDropCount < drops; e.lastDropCount++ {
		e.perf.RecordDropped()
	}
	for under := e.streams.Underruns(); e.lastUnderruns < under; e.lastUnderruns++ {
		e.perf.RecordUnderrun()
	}
}

// generateFromTemplates evaluates the wired format manager's templates
// against the current per-channel CV vector and dispatches the resulting
// messages to the manager's target devices.
func (e *Engine) generateFromTemplates(now time.Time) {
	e.stateMutex.Lock()
	formats := e.formats
	cv := make([]float64, len(e.channels))
	for i, ch := range e.channels {
		if ch.State == StateRunning && e.shouldBeAudibleLocked(ch) {
			cv[i] = ch.LevelV
		}
	}
	e.stateMutex.Unlock()
	if formats == nil {
		return
	}

	messages, err := formats.Generate(cv, now)
	if err != nil {
		e.report("ERROR", "CONFIG", fmt.Sprintf("template generation: %v", err))
		return
	}
	if len(messages) == 0 {
		return
	}

	targets := formats.Targets()
	for _, msg := range messages {
		for _, deviceID := range targets {
			e.deviceMutex.Lock()
			sender := e.senders[deviceID]
			e.deviceMutex.Unlock()
			if sender == nil {
				continue
			}
			if err := e.sendGenerated(sender, msg); err != nil {
				e.markDeviceError(deviceID, err)
				e.recordFailed()
				continue
			}
			e.bumpDeviceActivity(deviceID, now)
			e.recordSent()
			e.messageCount.Add(1)
		}
	}
}

// sendGenerated dispatches one template-generated message through a
// sender, picking the send call from the message's primary type.
func (e *Engine) sendGenerated(s *osc.Sender, msg *format.GeneratedMessage) error {
	switch msg.PrimaryType {
	case 'i':
		if len(msg.Arguments) == 0 {
			return nil
		}
		return s.SendInt(msg.Address, msg.Arguments[0].Int)
	case 's':
		if len(msg.Arguments) == 0 {
			return nil
		}
		return s.SendString(msg.Address, msg.Arguments[0].Str)
	default:
		if len(msg.Arguments) == 1 {
			return s.SendFloat(msg.Address, msg.Arguments[0].Float)
		}
		values := make([]float64, len(msg.Arguments))
		for i, a := range msg.Arguments {
			values[i] = a.Float
		}
		return s.SendFloatArray(msg.Address, values)
	}
}

func (e *Engine) sweepDeviceStatuses(now time.Time) {
	e.deviceMutex.Lock()
	defer e.deviceMutex.Unlock()
	for _, st := range e.deviceStatuses {
		st.sweep(now)
	}
}

// advanceChannels runs the per-channel forward-path update: acquire the
// latest input sample (audio level, a recent OSC meter reading, or peak
// decay if neither is fresh), filter+calibrate it, publish it to the
// input meter and channel level, and, when the channel is audible,
// dispatch it to every enabled output device and the output meter.
// No gain, fader, mute, or solo scaling is applied here by design; solo
// exclusion still governs whether the dispatch happens at all.
func (e *Engine) advanceChannels(now time.Time) {
	e.stateMutex.Lock()
	channels := append([]*Channel(nil), e.channels...)
	e.stateMutex.Unlock()

	for _, ch := range channels {
		if ch.State != StateRunning {
			continue
		}

		raw, ok := e.latestInput(ch, now)
		if !ok {
			ch.InputMeter.DecayPeak(now)
			ch.OutputMeter.DecayPeak(now)
			continue
		}

		value := raw
		if ch.FilterChain != nil {
			value = ch.FilterChain.Process(value)
		}
		if ch.Classifier != nil {
			ch.Classifier.Append(value)
		}
		if ch.Calibration != nil {
			value = ch.Calibration.Apply(value)
		}

		ch.InputMeter.Push(value, now)
		ch.SetLevel(value)

		if !e.shouldBeAudible(ch) {
			continue
		}

		// Audio outputs receive the calibrated sample untouched; OSC
		// outputs receive it normalised to [0,1] over the channel range,
		// the wire contract for /cv/channel/{N}.
		norm := ch.normalised()
		for _, d := range ch.Outputs {
			if !d.Enabled {
				continue
			}
			e.dispatchToDevice(ch, d, ch.LevelV, norm, now)
		}
		ch.OutputMeter.Push(value, now)
	}
}

// latestInput picks the freshest input source: a live audio
// stream's level, else a recently-updated OSC meter, else "no input" so
// the caller decays peaks instead of publishing a stale value.
func (e *Engine) latestInput(ch *Channel, now time.Time) (float64, bool) {
	if audioIn := ch.enabledAudioInput(); audioIn != nil {
		// The stream may be the preferred duplex bridge or the
		// independent-input fallback; check both ids.
		for _, streamID := range []string{fmt.Sprintf("ch%d-duplex", ch.ID), fmt.Sprintf("ch%d-in", ch.ID)} {
			if level, err := e.streams.InputLevel(streamID); err == nil {
				return float64(level), true
			}
		}
	}
	if now.Sub(ch.InputMeter.LastUpdate()) <= 100*time.Millisecond {
		return ch.InputMeter.Current(), true
	}
	return 0, false
}

// dispatchToDevice sends one value to a single output device: audioValue
// to an audio stream, oscValue to an OSC transport. The two are the same
// for queue-routed messages (raw passthrough) and differ only on the
// forward path, where OSC gets the range-normalised form.
func (e *Engine) dispatchToDevice(ch *Channel, d *DeviceConfig, audioValue, oscValue float64, now time.Time) {
	if d.Kind.IsAudio() {
		// A duplex bridge feeds its output directly in the callback; only
		// an independent output stream pulls from the ring buffer.
		streamID := fmt.Sprintf("ch%d-out", ch.ID)
		if !e.streams.HasStream(streamID) {
			return
		}
		if err := e.streams.SendOutput(streamID, float32(audioValue)); err != nil {
			e.markDeviceError(d.ID, err)
		}
		return
	}

	address := fmt.Sprintf("%s/%d", trimTrailingSlash(d.AddressPrefix), ch.ID+1)
	e.deviceMutex.Lock()
	sender := e.senders[d.ID]
	e.deviceMutex.Unlock()
	if sender == nil {
		return
	}
	if err := sender.SendFloat(address, oscValue); err != nil {
		e.markDeviceError(d.ID, err)
		e.recordFailed()
		ch.Errors++
		return
	}
	e.bumpDeviceActivity(d.ID, now)
	e.recordSent()
	e.messageCount.Add(1)
	ch.MessagesSent++
}

func (e *Engine) markDeviceError(id string, err error) {
	e.deviceMutex.Lock()
	st, ok := e.deviceStatuses[id]
	if !ok {
		st = &DeviceStatus{}
		e.deviceStatuses[id] = st
	}
	st.State = StatusError
	st.LastError = err.Error()
	e.deviceMutex.Unlock()
}

func (e *Engine) bumpDeviceActivity(id string, now time.Time) {
	e.deviceMutex.Lock()
	defer e.deviceMutex.Unlock()
	st, ok := e.deviceStatuses[id]
	if !ok {
		st = &DeviceStatus{}
		e.deviceStatuses[id] = st
	}
	st.LastActivity = now
	st.MessageCount++
}

func trimTrailingSlash(s string) string {
	if len(s) > 0 && s[len(s)-1] == '/' {
		return s[:len(s)-1]
	}
	return s
}

// routeInput handles a message arriving from outside: parse the channel
// index from the message address, add the first float value as an input sample on
// that channel if RUNNING, and dispatch the same value to every enabled
// output device (still passthrough). When the address equals the learning
// target, the observed values are also reported as a DEBUG event.
func (e *Engine) routeInput(msg Message) {
	channelIdx, ok := parseChannelAddress(msg.Address)
	if !ok {
		return
	}

	e.stateMutex.Lock()
	ch := e.channelLocked(channelIdx)
	e.stateMutex.Unlock()
	if ch == nil || ch.State != StateRunning {
		return
	}
	if len(msg.FloatValues) == 0 {
		return
	}
	value := msg.FloatValues[0]

	ch.InputMeter.Push(value, msg.Timestamp)
	ch.SetLevel(value)
	ch.MessagesReceived++

	if e.learningTarget != "" && e.learningTarget == msg.Address {
		e.report("DEBUG", "SYSTEM", fmt.Sprintf("learned %s = %v", msg.Address, msg.FloatValues))
	}

	if !e.shouldBeAudible(ch) {
		return
	}
	now := time.Now()
	for _, d := range ch.Outputs {
		if !d.Enabled {
			continue
		}
		e.dispatchToDevice(ch, d, value, value, now)
	}
}

// routeOutput handles a channel-originated message: guarded by shouldBeAudible,
// dispatch msg to its originating channel's output devices and update the
// output meter. A channel in MUTE mode sends nothing here, and the master
// mute skips audio outputs. Each successful send bumps device activity; a
// failed send marks the device ERROR (a failed OSC send also bumps the
// channel's error counter).
func (e *Engine) routeOutput(msg Message) {
	e.stateMutex.Lock()
	ch := e.channelLocked(msg.SourceChannelID)
	e.stateMutex.Unlock()
	if ch == nil {
		return
	}
	if !e.shouldBeAudible(ch) {
		return
	}
	if len(msg.FloatValues) == 0 {
		return
	}
	value := msg.FloatValues[0]
	now := time.Now()

	e.stateMutex.Lock()
	masterMute := e.masterMute
	channelMute := ch.Mode == ModeMute
	e.stateMutex.Unlock()
	if channelMute {
		return
	}

	for _, d := range ch.Outputs {
		if !d.Enabled {
			continue
		}
		if masterMute && d.Kind.IsAudio() {
			continue
		}
		e.dispatchToDevice(ch, d, value, value, now)
	}
	ch.OutputMeter.Push(value, now)
}

// parseChannelAddress recognises /channel/N, /ch/N, /cv/N with N in
// [1,8], returning the zero-based channel index.
func parseChannelAddress(address string) (int, bool) {
	m := routeAddress.FindStringSubmatch(address)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil || n < 1 || n > 8 {
		return 0, false
	}
	return n - 1, true
}
