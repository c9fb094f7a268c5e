package telemetry

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportAppendsToHistoryAndLogs(t *testing.T) {
	var buf bytes.Buffer
	h := New(&buf)
	h.Report(Error, Audio, "device open failed", "deviceIndex=2", "audiostream.open", true, "retry with fallback params")

	hist := h.History()
	require.Len(t, hist, 1)
	assert.Equal(t, Error, hist[0].Severity)
	assert.Equal(t, Audio, hist[0].Category)
	assert.Contains(t, buf.String(), "device open failed")
}

func TestHistoryIsBoundedAndTrimsOldest(t *testing.T) {
	h := New(nil)
	h.SetHistoryLimit(5)
	for i := 0; i < 20; i++ {
		h.Infof(System, "event %d", i)
	}
	hist := h.History()
	require.Len(t, hist, 5)
	assert.Equal(t, "event 19", hist[len(hist)-1].Message)
}

func TestCriticalCountIncrementsOnCriticalOnly(t *testing.T) {
	h := New(nil)
	h.Criticalf(Hardware, "fan failure")
	h.Infof(System, "startup")
	assert.Equal(t, uint64(1), h.CriticalCount())
}

func TestSubscriberReceivesEveryEvent(t *testing.T) {
	h := New(nil)
	var got []Event
	h.Subscribe(func(e Event) { got = append(got, e) })
	h.Warnf(Network, "retrying connection")
	require.Len(t, got, 1)
	assert.Equal(t, Warning, got[0].Severity)
}

func TestRecoveryAttemptsAreRateLimitedForAudio(t *testing.T) {
	h := New(nil)
	calls := make(chan struct{}, 10)
	h.OnRecover(Audio, func() { calls <- struct{}{} })

	for i := 0; i < 10; i++ {
		h.Report(Error, Audio, "transient failure", "", "", true, "")
	}
	// First attempt fires immediately; subsequent ones within the 5s
	// spacing window are suppressed regardless of the attempt cap.
	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("expected at least one recovery attempt")
	}
	select {
	case <-calls:
		t.Fatal("second attempt should have been rate-limited")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestEngineSinkAdaptsSeverityAndCategoryStrings(t *testing.T) {
	h := New(nil)
	sink := EngineSink{Handler: h}
	sink.Report("CRITICAL", "AUDIO", "duplex open failed")
	hist := h.History()
	require.Len(t, hist, 1)
	assert.Equal(t, Critical, hist[0].Severity)
	assert.Equal(t, Audio, hist[0].Category)
}

func TestMonitorComputesCycleRateAndEfficiency(t *testing.T) {
	h := New(nil)
	m := NewMonitor(h, 100)

	t0 := time.Now()
	m.Sample(t0, 0)
	s := m.Sample(t0.Add(time.Second), 100)
	assert.InDelta(t, 100, s.CycleRate, 1)
	assert.InDelta(t, 1.0, s.Efficiency, 0.05)
}

func TestMonitorHealthDegradesOnLowEfficiency(t *testing.T) {
	h := New(nil)
	m := NewMonitor(h, 100)
	t0 := time.Now()
	m.Sample(t0, 0)
	m.Sample(t0.Add(time.Second), 40) // 40% of expected rate
	assert.Equal(t, "critical", m.Health())
}

func TestMonitorHealthyWithNoSamples(t *testing.T) {
	m := NewMonitor(New(nil), 100)
	assert.Equal(t, "healthy", m.Health())
}

func TestMonitorRecordCountersFeedSamples(t *testing.T) {
	m := NewMonitor(New(nil), 100)
	m.RecordSent()
	m.RecordSent()
	m.RecordFailed()
	s := m.Sample(time.Now(), 0)
	assert.Equal(t, uint64(2), s.OSCSent)
	assert.Equal(t, uint64(1), s.OSCFailed)
}

func TestMonitorHealthCautionOnRecentLoss(t *testing.T) {
	m := NewMonitor(nil, 100)
	now := time.Now()
	m.Sample(now, 100)
	m.RecordFailed()
	m.Sample(now.Add(time.Second), 200)
	assert.Equal(t, "caution", m.Health())

	// A quiet follow-up sample clears the caution state.
	m.Sample(now.Add(2*time.Second), 300)
	assert.Equal(t, "healthy", m.Health())
}
