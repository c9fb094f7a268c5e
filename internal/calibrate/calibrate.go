// Package calibrate implements per-channel linear calibration: a
// multi-point least-squares fit from measured raw samples to expected
// volts, gated by the fit's coefficient of determination (R²).
package calibrate

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"time"
)

// DefaultTolerance is the maximum allowed |measured/expected - 1| before
// a calibration point is refused as implausible.
const DefaultTolerance = 0.1

// Point is one calibration sample: an expected voltage and the raw value
// measured for it.
type Point struct {
	ExpectedVolts float64   `json:"inputVoltage"`
	MeasuredValue float64   `json:"measuredValue"`
	Timestamp     time.Time `json:"timestamp"`
}

// Result is a completed (or in-progress) calibration for one channel.
type Result struct {
	Offset          float64   `json:"offset"`
	Scale           float64   `json:"scale"`
	RSquared        float64   `json:"accuracy"`
	ActualMin       float64   `json:"actualMin"`
	ActualMax       float64   `json:"actualMax"`
	IsValid         bool      `json:"is_valid"`
	Points          []Point   `json:"points"`
	CalibrationTime time.Time `json:"calibrationTime"`
}

// Apply maps a raw sample through the fitted scale/offset. Uncalibrated
// (zero-value) results pass the raw sample through unchanged.
func (r *Result) Apply(raw float64) float64 {
	if r == nil || !r.IsValid {
		return raw
	}
	return raw*r.Scale + r.Offset
}

// Validate returns true iff the result is valid, has R² > 0.9, and was
// computed less than 30 days ago.
func (r *Result) Validate(now time.Time) bool {
	if r == nil || !r.IsValid {
		return false
	}
	if r.RSquared <= 0.9 {
		return false
	}
	return now.Sub(r.CalibrationTime) < 30*24*time.Hour
}

// SampleProvider reads the live (raw, pre-calibration) sample for a channel.
type SampleProvider func(channel int) (float64, error)

// ErrPointRejected is returned by AddPoint when a measurement is implausible.
type ErrPointRejected struct {
	Channel  int
	Expected float64
	Measured float64
	Ratio    float64
}

func (e *ErrPointRejected) Error() string {
	return fmt.Sprintf("calibrate: channel %d point rejected: expected %.4f measured %.4f (ratio %.4f)",
		e.Channel, e.Expected, e.Measured, e.Ratio)
}

// session tracks in-progress calibration for a single channel.
type session struct {
	points []Point
}

// Calibrator owns per-channel calibration sessions and results.
type Calibrator struct {
	provider  SampleProvider
	tolerance float64

	sessions map[int]*session
	results  map[int]*Result
}

// New builds a Calibrator reading live samples from provider.
func New(provider SampleProvider) *Calibrator {
	return &Calibrator{
		provider:  provider,
		tolerance: DefaultTolerance,
		sessions:  make(map[int]*session),
		results:   make(map[int]*Result),
	}
}

// SetTolerance overrides the default plausibility tolerance.
func (c *Calibrator) SetTolerance(t float64) { c.tolerance = t }

// Start clears any in-progress points for channel and begins a new session.
func (c *Calibrator) Start(channel int) {
	c.sessions[channel] = &session{}
}

// AddPoint reads the live sample for channel via the configured provider,
// validates it against expectedVolts within tolerance, and appends it to
// the in-progress session. Start must have been called first.
func (c *Calibrator) AddPoint(channel int, expectedVolts float64) error {
	s, ok := c.sessions[channel]
	if !ok {
		return fmt.Errorf("calibrate: channel %d: no calibration in progress", channel)
	}
	measured, err := c.provider(channel)
	if err != nil {
		return fmt.Errorf("calibrate: channel %d: reading sample: %w", channel, err)
	}
	if expectedVolts != 0 {
		ratio := measured/expectedVolts - 1
		if math.Abs(ratio) > c.tolerance {
			return &ErrPointRejected{Channel: channel, Expected: expectedVolts, Measured: measured, Ratio: ratio}
		}
	}
	s.points = append(s.points, Point{ExpectedVolts: expectedVolts, MeasuredValue: measured, Timestamp: time.Now()})
	return nil
}

// degenerateDenominator is the least-squares denominator floor below which
// a fit is considered degenerate (e.g. all expected values identical).
const degenerateDenominator = 1e-10

// Finish computes the least-squares fit for channel's in-progress points,
// stores the Result, clears the in-progress session, and returns the
// Result. Validity requires at least 2 points and R² > 0.8.
func (c *Calibrator) Finish(channel int) (*Result, error) {
	s, ok := c.sessions[channel]
	if !ok {
		return nil, fmt.Errorf("calibrate: channel %d: no calibration in progress", channel)
	}
	delete(c.sessions, channel)

	r := fit(s.points)
	r.CalibrationTime = time.Now()
	c.results[channel] = r
	return r, nil
}

// fit performs the closed-form least-squares linear regression.
func fit(points []Point) *Result {
	r := &Result{Points: points}
	n := float64(len(points))
	if len(points) == 0 {
		return r
	}

	var sumX, sumY, sumXY, sumX2 float64
	r.ActualMin, r.ActualMax = points[0].ExpectedVolts, points[0].ExpectedVolts
	for _, p := range points {
		x, y := p.ExpectedVolts, p.MeasuredValue
		sumX += x
		sumY += y
		sumXY += x * y
		sumX2 += x * x
		if x < r.ActualMin {
			r.ActualMin = x
		}
		if x > r.ActualMax {
			r.ActualMax = x
		}
	}

	denom := n*sumX2 - sumX*sumX
	if math.Abs(denom) < degenerateDenominator || len(points) < 2 {
		return r
	}
	scale := (n*sumXY - sumX*sumY) / denom
	offset := (sumY - scale*sumX) / n

	meanY := sumY / n
	var ssRes, ssTot float64
	for _, p := range points {
		predicted := p.ExpectedVolts*scale + offset
		ssRes += (p.MeasuredValue - predicted) * (p.MeasuredValue - predicted)
		ssTot += (p.MeasuredValue - meanY) * (p.MeasuredValue - meanY)
	}
	var rsq float64
	if ssTot > degenerateDenominator {
		rsq = 1 - ssRes/ssTot
	}

	r.Scale = scale
	r.Offset = offset
	r.RSquared = rsq
	r.IsValid = len(points) >= 2 && rsq > 0.8
	return r
}

// Result returns the stored calibration for a channel, or nil if none.
func (c *Calibrator) Result(channel int) *Result {
	return c.results[channel]
}

// documentVersion is written to and checked against persisted calibration files.
const documentVersion = "1.0"

type channelEntry struct {
	ChannelID int `json:"channelId"`
	Result
}

type document struct {
	Version   string         `json:"version"`
	Timestamp int64          `json:"timestamp"`
	Channels  []channelEntry `json:"channels"`
}

// Save persists all channel results as a JSON document.
func (c *Calibrator) Save(path string) error {
	doc := document{
		Version:   documentVersion,
		Timestamp: time.Now().Unix(),
		Channels:  make([]channelEntry, 0, len(c.results)),
	}
	for ch, r := range c.results {
		doc.Channels = append(doc.Channels, channelEntry{ChannelID: ch, Result: *r})
	}
	sort.Slice(doc.Channels, func(i, j int) bool { return doc.Channels[i].ChannelID < doc.Channels[j].ChannelID })
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("calibrate: marshal: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Load restores channel results from a previously-saved JSON document.
// A missing or unparsable file is non-fatal: channels simply revert to
// (uncalibrated) defaults.
func (c *Calibrator) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return nil //nolint:nilerr // load failure is non-fatal per spec
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil //nolint:nilerr
	}
	for _, entry := range doc.Channels {
		rc := entry.Result
		c.results[entry.ChannelID] = &rc
	}
	return nil
}
