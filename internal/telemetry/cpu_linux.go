//go:build linux

package telemetry

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// cpuSampler derives the process CPU percentage from successive
// /proc/self/stat readings (utime+stime jiffies over wall time) and the
// 1-minute system load from /proc/loadavg.
type cpuSampler struct {
	lastJiffies uint64
	lastTime    time.Time
}

// clockTicksPerSecond is the kernel USER_HZ value; fixed at 100 on every
// Linux architecture Go supports.
const clockTicksPerSecond = 100

func (c *cpuSampler) cpuPercent(now time.Time) float64 {
	data, err := os.ReadFile("/proc/self/stat")
	if err != nil {
		return 0
	}
	// Fields after the parenthesised comm: field 14 is utime, 15 stime
	// (1-indexed, counting from the start of the line).
	closing := strings.LastIndexByte(string(data), ')')
	if closing < 0 {
		return 0
	}
	fields := strings.Fields(string(data[closing+1:]))
	if len(fields) < 13 {
		return 0
	}
	utime, _ := strconv.ParseUint(fields[11], 10, 64)
	stime, _ := strconv.ParseUint(fields[12], 10, 64)
	jiffies := utime + stime

	defer func() {
		c.lastJiffies = jiffies
		c.lastTime = now
	}()

	if c.lastTime.IsZero() {
		return 0
	}
	elapsed := now.Sub(c.lastTime).Seconds()
	if elapsed <= 0 || jiffies < c.lastJiffies {
		return 0
	}
	cpuSeconds := float64(jiffies-c.lastJiffies) / clockTicksPerSecond
	return cpuSeconds / elapsed * 100
}

func (c *cpuSampler) loadAverage() float64 {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0
	}
	load, _ := strconv.ParseFloat(fields[0], 64)
	return load
}
