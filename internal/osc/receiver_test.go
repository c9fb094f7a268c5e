package osc

import (
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeUDPPort(t *testing.T) int {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, conn.Close())
	return port
}

func TestReceiverDispatchesToTypetagHandler(t *testing.T) {
	port := freeUDPPort(t)
	r := NewReceiver(port)
	require.NoError(t, r.Start())
	defer r.Stop()

	var mu sync.Mutex
	var got *Message
	done := make(chan struct{}, 1)
	r.OnTypetag('f', func(msg *Message) {
		mu.Lock()
		got = msg
		mu.Unlock()
		done <- struct{}{}
	})

	sendRaw(t, port, &Message{Address: "/ch/3", FloatValues: []float32{0.25}, PrimaryType: 'f'})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}
	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, got)
	assert.Equal(t, "/ch/3", got.Address)
}

func TestReceiverBindErrorOnPortInUse(t *testing.T) {
	port := freeUDPPort(t)
	r1 := NewReceiver(port)
	require.NoError(t, r1.Start())
	defer r1.Stop()

	r2 := NewReceiver(port)
	err := r2.Start()
	require.Error(t, err)
	var bindErr *ErrBindError
	require.ErrorAs(t, err, &bindErr)
}

func TestReceiverTracksReceivedCount(t *testing.T) {
	port := freeUDPPort(t)
	r := NewReceiver(port)
	require.NoError(t, r.Start())
	defer r.Stop()

	done := make(chan struct{}, 1)
	r.OnTypetag('f', func(msg *Message) { done <- struct{}{} })
	sendRaw(t, port, &Message{Address: "/ch/1", FloatValues: []float32{1}, PrimaryType: 'f'})
	<-done
	assert.Equal(t, uint64(1), r.ReceivedCount("/ch/1"))
}

func TestReceiverAllowlistBlocksOtherSources(t *testing.T) {
	port := freeUDPPort(t)
	r := NewReceiver(port)
	r.SetAllowlist(NewAllowlist("10.0.0.1")) // not localhost
	require.NoError(t, r.Start())
	defer r.Stop()

	called := make(chan struct{}, 1)
	r.OnTypetag('f', func(msg *Message) { called <- struct{}{} })
	sendRaw(t, port, &Message{Address: "/x", FloatValues: []float32{1}, PrimaryType: 'f'})

	select {
	case <-called:
		t.Fatal("handler should not have been called for disallowed source")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestRateLimiterExhaustsThenRefills(t *testing.T) {
	rl := NewRateLimiter(1)
	assert.True(t, rl.Allow("host"))
	assert.False(t, rl.Allow("host"))
	time.Sleep(1100 * time.Millisecond)
	assert.True(t, rl.Allow("host"))
}

func TestNilRateLimiterAllowsEverything(t *testing.T) {
	var rl *RateLimiter
	assert.True(t, rl.Allow("anyone"))
}

func TestNilAllowlistAllowsEverything(t *testing.T) {
	var al *Allowlist
	assert.True(t, al.Allowed("anyone"))
}

func sendRaw(t *testing.T, port int, msg *Message) {
	data, err := EncodeMessage(msg)
	require.NoError(t, err)
	conn, err := net.Dial("udp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(data)
	require.NoError(t, err)
}
