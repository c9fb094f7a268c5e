package mixer

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvosc/engine/internal/osc"
)

func freeUDPPort(t *testing.T) int {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, conn.Close())
	return port
}

func TestNewChannelRejectsInvertedRange(t *testing.T) {
	_, err := NewChannel(0, 10, 0)
	assert.Error(t, err)
}

func TestChannelSetLevelClamps(t *testing.T) {
	ch, err := NewChannel(0, 0, 10)
	require.NoError(t, err)
	ch.SetLevel(12)
	assert.Equal(t, 10.0, ch.LevelV)
	ch.SetLevel(-5)
	assert.Equal(t, 0.0, ch.LevelV)
}

func TestSingleChannelNormalisationScenario(t *testing.T) {
	// Channel 0 range [0,10]V, input sequence 0,2.5,5,10,12,
	// no calibration. Expected level_volts clamps to the channel range.
	e, err := New(1, 0, 10, nil)
	require.NoError(t, err)
	ch := e.Channel(0)
	ch.State = StateRunning

	for _, raw := range []float64{0, 2.5, 5, 10, 12} {
		ch.InputMeter.Push(raw, time.Now())
		ch.SetLevel(raw)
	}
	assert.Equal(t, 10.0, ch.LevelV)
}

func TestSoloGateScenario(t *testing.T) {
	// Channels 0 and 1 RUNNING/MIX, both receive 0.5. Setting
	// channel 1 to SOLO must silence channel 0's forward path while
	// channel 1 keeps emitting.
	e, err := New(2, -10, 10, nil)
	require.NoError(t, err)
	e.Channel(0).State = StateRunning
	e.Channel(1).State = StateRunning

	require.NoError(t, e.SetMode(1, ModeSolo))

	assert.False(t, e.shouldBeAudible(e.Channel(0)))
	assert.True(t, e.shouldBeAudible(e.Channel(1)))
}

func TestSoloGateClearsWhenSoloChannelStops(t *testing.T) {
	e, err := New(2, -10, 10, nil)
	require.NoError(t, err)
	e.Channel(0).State = StateRunning
	e.Channel(1).State = StateRunning
	require.NoError(t, e.SetMode(1, ModeSolo))
	require.NoError(t, e.StopChannel(1))

	assert.True(t, e.shouldBeAudible(e.Channel(0)))
}

func TestRouteInputDispatchesOnRecognisedAddress(t *testing.T) {
	port := freeUDPPort(t)
	serverDone := make(chan []byte, 1)
	server, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	require.NoError(t, err)
	defer server.Close()
	go func() {
		buf := make([]byte, 1024)
		n, _, err := server.ReadFromUDP(buf)
		if err == nil {
			serverDone <- buf[:n]
		}
	}()

	e, err := New(1, 0, 10, nil)
	require.NoError(t, err)
	ch := e.Channel(0)
	ch.State = StateRunning
	out := &DeviceConfig{ID: "out1", Kind: KindOSCOutput, Transport: osc.TransportUDPUnicast, RemoteAddr: "127.0.0.1", RemotePort: port, AddressPrefix: "/cv/channel", Enabled: true}
	require.NoError(t, ch.AddOutput(out))
	require.NoError(t, e.startOSCOutput(out))

	e.routeInput(Message{Address: "/channel/1", FloatValues: []float64{0.42}, SourceChannelID: -1, Timestamp: time.Now()})

	select {
	case raw := <-serverDone:
		msg, err := osc.DecodeMessage(raw)
		require.NoError(t, err)
		assert.Equal(t, "/cv/channel/1", msg.Address)
		require.Len(t, msg.FloatValues, 1)
		assert.InDelta(t, 0.42, msg.FloatValues[0], 1e-6)
	case <-time.After(2 * time.Second):
		t.Fatal("no OSC message received")
	}
}

func TestParseChannelAddressRecognisesAllForms(t *testing.T) {
	cases := map[string]int{"/channel/1": 0, "/ch/8": 7, "/cv/3": 2}
	for addr, want := range cases {
		got, ok := parseChannelAddress(addr)
		require.True(t, ok, addr)
		assert.Equal(t, want, got, addr)
	}
	_, ok := parseChannelAddress("/cv/9")
	assert.False(t, ok)
	_, ok = parseChannelAddress("/unrelated/1")
	assert.False(t, ok)
}

func TestMessageQueueFIFOOrderUnderProducerChurn(t *testing.T) {
	// N enqueues followed by drain dequeue in
	// FIFO order, across concurrent producers.
	q := newMessageQueue()
	const perProducer = 2500
	const producers = 4

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(Message{DeviceID: "p" + strconv.Itoa(p), SourceChannelID: i})
			}
		}(p)
	}
	wg.Wait()

	lastSeen := make(map[string]int)
	for {
		m, ok := q.Dequeue()
		if !ok {
			break
		}
		prev, seen := lastSeen[m.DeviceID]
		if seen {
			assert.Greater(t, m.SourceChannelID, prev, "out-of-order within producer %s", m.DeviceID)
		}
		lastSeen[m.DeviceID] = m.SourceChannelID
	}
	assert.LessOrEqual(t, q.Dropped(), uint64(producers*perProducer))
}

func TestMessageQueueDropsOldestOnOverflow(t *testing.T) {
	q := newMessageQueue()
	for i := 0; i < queueCapacity+10; i++ {
		q.Enqueue(Message{SourceChannelID: i})
	}
	assert.Equal(t, uint64(10), q.Dropped())
	first, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, 10, first.SourceChannelID)
}

func TestDeviceStatusSweepDeclaresTimeout(t *testing.T) {
	st := &DeviceStatus{State: StatusConnected, LastActivity: time.Now().Add(-31 * time.Second)}
	st.sweep(time.Now())
	assert.Equal(t, StatusTimeout, st.State)
}

func TestDeviceStatusSweepLeavesFreshConnectionAlone(t *testing.T) {
	st := &DeviceStatus{State: StatusConnected, LastActivity: time.Now()}
	st.sweep(time.Now())
	assert.Equal(t, StatusConnected, st.State)
}

func TestDeviceConfigValidateSanitisesAddressPrefix(t *testing.T) {
	d := &DeviceConfig{ID: "x", Kind: KindOSCOutput, AddressPrefix: "//cv//out", RemotePort: 9000}
	require.NoError(t, d.Validate())
	assert.Regexp(t, `^/[A-Za-z0-9/_-]*$`, d.AddressPrefix)
}

func TestDeviceConfigValidateRejectsEmptyID(t *testing.T) {
	d := &DeviceConfig{AddressPrefix: "/cv", RemotePort: 9000}
	assert.Error(t, d.Validate())
}

func TestMeterRMSNeverExceedsPeak(t *testing.T) {
	m := &Meter{}
	now := time.Now()
	for i, v := range []float64{0.1, -0.9, 0.2, 0.5, -0.3} {
		m.Push(v, now.Add(time.Duration(i)*time.Millisecond))
	}
	assert.LessOrEqual(t, m.RMS(), m.Peak()+1e-12)
}

func TestChannelInputOutputListsBounded(t *testing.T) {
	ch, err := NewChannel(0, 0, 10)
	require.NoError(t, err)
	for i := 0; i < MaxDevicesPerRole; i++ {
		require.NoError(t, ch.AddInput(&DeviceConfig{ID: "in" + strconv.Itoa(i)}))
	}
	assert.Error(t, ch.AddInput(&DeviceConfig{ID: "one-too-many"}))
	for i := 0; i < MaxDevicesPerRole; i++ {
		require.NoError(t, ch.AddOutput(&DeviceConfig{ID: "out" + strconv.Itoa(i)}))
	}
	assert.Error(t, ch.AddOutput(&DeviceConfig{ID: "one-too-many"}))
}

func TestForwardPathNormalisesOSCOutput(t *testing.T) {
	// End to end: channel range [0,10]V, raw input 2.5V, no
	// calibration. The OSC wire value at /cv/channel/1 is the
	// range-normalised 0.25, not the raw voltage.
	port := freeUDPPort(t)
	server, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	require.NoError(t, err)
	defer server.Close()
	received := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 1024)
		n, _, err := server.ReadFromUDP(buf)
		if err == nil {
			received <- buf[:n]
		}
	}()

	e, err := New(1, 0, 10, nil)
	require.NoError(t, err)
	ch := e.Channel(0)
	ch.State = StateRunning
	out := &DeviceConfig{ID: "out-norm", Kind: KindOSCOutput, Transport: osc.TransportUDPUnicast, RemoteAddr: "127.0.0.1", RemotePort: port, AddressPrefix: "/cv/channel", Enabled: true}
	require.NoError(t, ch.AddOutput(out))
	require.NoError(t, e.startOSCOutput(out))

	ch.InputMeter.Push(2.5, time.Now())
	e.advanceChannels(time.Now())

	select {
	case raw := <-received:
		msg, err := osc.DecodeMessage(raw)
		require.NoError(t, err)
		assert.Equal(t, "/cv/channel/1", msg.Address)
		require.Len(t, msg.FloatValues, 1)
		assert.InDelta(t, 0.25, msg.FloatValues[0], 1e-6)
	case <-time.After(2 * time.Second):
		t.Fatal("no OSC message received")
	}
}

func TestEngineLoopTracksTickCount(t *testing.T) {
	e, err := New(1, 0, 10, nil)
	require.NoError(t, err)
	e.SetUpdateInterval(time.Millisecond)
	e.Run(context.Background())
	time.Sleep(100 * time.Millisecond)
	e.Stop()
	assert.Greater(t, e.TickCount(), uint64(0))
}

func TestMeterDecayAppliedOncePerInterval(t *testing.T) {
	m := &Meter{}
	t0 := time.Now()
	m.Push(1.0, t0)

	// Two decay calls for the same elapsed second must not compound.
	m.DecayPeak(t0.Add(time.Second))
	after := m.Peak()
	m.DecayPeak(t0.Add(time.Second + time.Millisecond))
	assert.InDelta(t, 0.98, after, 1e-9)
	assert.InDelta(t, after, m.Peak(), 1e-3)
}

type recorderStub struct {
	sent, failed, dropped, underruns int
}

func (r *recorderStub) RecordSent()     { r.sent++ }
func (r *recorderStub) RecordFailed()   { r.failed++ }
func (r *recorderStub) RecordDropped()  { r.dropped++ }
func (r *recorderStub) RecordUnderrun() { r.underruns++ }

func TestDispatchOutcomeFeedsPerfRecorder(t *testing.T) {
	port := freeUDPPort(t)
	server, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	require.NoError(t, err)
	defer server.Close()

	e, err := New(1, 0, 10, nil)
	require.NoError(t, err)
	rec := &recorderStub{}
	e.SetPerfRecorder(rec)
	ch := e.Channel(0)
	ch.State = StateRunning
	out := &DeviceConfig{ID: "out-perf", Kind: KindOSCOutput, Transport: osc.TransportUDPUnicast, RemoteAddr: "127.0.0.1", RemotePort: port, AddressPrefix: "/cv/channel", Enabled: true}
	require.NoError(t, ch.AddOutput(out))
	require.NoError(t, e.startOSCOutput(out))

	e.routeInput(Message{Address: "/channel/1", FloatValues: []float64{0.5}, SourceChannelID: -1, Timestamp: time.Now()})
	assert.Equal(t, 1, rec.sent)
	assert.Equal(t, 0, rec.failed)
}

func TestForwardLossCountersReportsQueueDrops(t *testing.T) {
	e, err := New(1, 0, 10, nil)
	require.NoError(t, err)
	rec := &recorderStub{}
	e.SetPerfRecorder(rec)

	for i := 0; i < queueCapacity+3; i++ {
		e.Enqueue(Message{SourceChannelID: i})
	}
	e.forwardLossCounters()
	assert.Equal(t, 3, rec.dropped)

	// Already-forwarded drops are not reported again.
	e.forwardLossCounters()
	assert.Equal(t, 3, rec.dropped)
}
