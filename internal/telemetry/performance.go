package telemetry

import (
	"runtime"
	"sync"
	"time"
)

// Thresholds configures the performance monitor's alert levels. The
// monitor samples no latency, so LatencyWarning and LatencyCritical raise
// no alert and do not affect Health.
type Thresholds struct {
	CPUWarning       float64
	CPUCritical      float64
	LatencyWarning   time.Duration
	LatencyCritical  time.Duration
	MemoryWarningMB  float64
	MemoryCriticalMB float64
}

// DefaultThresholds holds CPU/latency/memory bands left generous since no
// source numbers are given. The 0.8/0.6 efficiency bands are not part of
// Thresholds; they are fixed in checkAlerts and Health.
var DefaultThresholds = Thresholds{
	CPUWarning:       70,
	CPUCritical:      90,
	LatencyWarning:   20 * time.Millisecond,
	LatencyCritical:  50 * time.Millisecond,
	MemoryWarningMB:  512,
	MemoryCriticalMB: 1024,
}

// Sample is one performance snapshot.
type Sample struct {
	Time            time.Time
	CPUPercent      float64
	LoadAverage     float64
	RSSMB           float64
	Goroutines      int
	OSCSent         uint64
	OSCFailed       uint64
	DroppedSamples  uint64
	BufferUnderruns uint64
	CycleRate       float64 // ticks/second observed since the previous sample
	Efficiency      float64 // CycleRate / expectedRate
}

// Monitor samples process and engine-supplied counters at a configurable
// interval, keeps rolling history, and raises alerts against Thresholds.
type Monitor struct {
	mu sync.Mutex

	handler    *Handler
	thresholds Thresholds
	expectedHz float64
	interval   time.Duration
	history    []Sample
	historyCap int

	sent, failed, dropped, underruns uint64
	lastTickCount                    uint64
	lastSampleTime                   time.Time

	cpu cpuSampler

	stop chan struct{}
}

// NewMonitor builds a Monitor reporting alerts through handler, expecting
// expectedHz engine-loop iterations per second.
func NewMonitor(handler *Handler, expectedHz float64) *Monitor {
	return &Monitor{
		handler:    handler,
		thresholds: DefaultThresholds,
		expectedHz: expectedHz,
		interval:   time.Second,
		historyCap: 300,
	}
}

// SetThresholds overrides the default alert thresholds.
func (m *Monitor) SetThresholds(t Thresholds) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.thresholds = t
}

// SetInterval overrides the default 1s sampling interval.
func (m *Monitor) SetInterval(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interval = d
}

// RecordSent/RecordFailed/RecordDropped/RecordUnderrun are counters fed
// by the engine (through its PerfRecorder) as events occur.
func (m *Monitor) RecordSent()     { m.mu.Lock(); m.sent++; m.mu.Unlock() }
func (m *Monitor) RecordFailed()   { m.mu.Lock(); m.failed++; m.mu.Unlock() }
func (m *Monitor) RecordDropped()  { m.mu.Lock(); m.dropped++; m.mu.Unlock() }
func (m *Monitor) RecordUnderrun() { m.mu.Lock(); m.underruns++; m.mu.Unlock() }

// Sample takes one immediate performance snapshot given the engine's
// current tick count, independent of the background Run loop (used by
// tests and by callers that drive sampling themselves).
func (m *Monitor) Sample(now time.Time, tickCount uint64) Sample {
	m.mu.Lock()
	defer m.mu.Unlock()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	s := Sample{
		Time:            now,
		CPUPercent:      m.cpu.cpuPercent(now),
		LoadAverage:     m.cpu.loadAverage(),
		RSSMB:           float64(memStats.Sys) / (1024 * 1024),
		Goroutines:      runtime.NumGoroutine(),
		OSCSent:         m.sent,
		OSCFailed:       m.failed,
		DroppedSamples:  m.dropped,
		BufferUnderruns: m.underruns,
	}

	if !m.lastSampleTime.IsZero() {
		elapsed := now.Sub(m.lastSampleTime).Seconds()
		if elapsed > 0 {
			s.CycleRate = float64(tickCount-m.lastTickCount) / elapsed
			if m.expectedHz > 0 {
				s.Efficiency = s.CycleRate / m.expectedHz
			}
		}
	}
	m.lastTickCount = tickCount
	m.lastSampleTime = now

	m.history = append(m.history, s)
	if len(m.history) > m.historyCap {
		m.history = m.history[len(m.history)-m.historyCap:]
	}

	m.checkAlerts(s)
	return s
}

func (m *Monitor) checkAlerts(s Sample) {
	if m.handler == nil {
		return
	}
	if s.CPUPercent >= m.thresholds.CPUCritical {
		m.handler.Report(Critical, Performance, "cpu usage critical", "", "", false, "reduce channel count or update interval")
	} else if s.CPUPercent >= m.thresholds.CPUWarning {
		m.handler.Report(Warning, Performance, "cpu usage high", "", "", true, "")
	}

	if s.RSSMB >= m.thresholds.MemoryCriticalMB {
		m.handler.Report(Critical, Performance, "memory usage critical", "", "", false, "reduce buffer sizes or restart")
	} else if s.RSSMB >= m.thresholds.MemoryWarningMB {
		m.handler.Report(Warning, Performance, "memory usage high", "", "", true, "")
	}

	if s.CycleRate > 0 {
		switch {
		case s.Efficiency < 0.6:
			m.handler.Report(Critical, Performance, "engine cycle rate critically low", "", "", false, "")
		case s.Efficiency < 0.8:
			m.handler.Report(Warning, Performance, "engine cycle rate degraded", "", "", true, "")
		}
	}
}

// History returns a snapshot of retained samples, oldest first.
func (m *Monitor) History() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Sample(nil), m.history...)
}

// Health summarises the current state as a coarse status string:
// healthy, caution, warning, degraded, or critical.
func (m *Monitor) Health() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == 0 {
		return "healthy"
	}
	last := m.history[len(m.history)-1]
	switch {
	case last.RSSMB >= m.thresholds.MemoryCriticalMB ||
		last.CPUPercent >= m.thresholds.CPUCritical ||
		(last.CycleRate > 0 && last.Efficiency < 0.6):
		return "critical"
	case last.RSSMB >= m.thresholds.MemoryWarningMB:
		return "degraded"
	case last.CPUPercent >= m.thresholds.CPUWarning ||
		(last.CycleRate > 0 && last.Efficiency < 0.8):
		return "warning"
	case m.recentLossLocked(last):
		return "caution"
	default:
		return "healthy"
	}
}

// recentLossLocked reports whether the latest sample shows new send
// failures, dropped samples, or underruns relative to the previous one.
// Caller must hold m.mu.
func (m *Monitor) recentLossLocked(last Sample) bool {
	if len(m.history) < 2 {
		return last.OSCFailed > 0 || last.DroppedSamples > 0 || last.BufferUnderruns > 0
	}
	prev := m.history[len(m.history)-2]
	return last.OSCFailed > prev.OSCFailed ||
		last.DroppedSamples > prev.DroppedSamples ||
		last.BufferUnderruns > prev.BufferUnderruns
}

// Run samples at the configured interval until ctx-like stop is
// signalled via Stop. tick returns the engine's current loop tick count.
func (m *Monitor) Run(tick func() uint64) {
	m.mu.Lock()
	interval := m.interval
	m.stop = make(chan struct{})
	stop := m.stop
	m.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			m.Sample(now, tick())
		}
	}
}

// Stop halts a running Run loop.
func (m *Monitor) Stop() {
	m.mu.Lock()
	stop := m.stop
	m.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}
