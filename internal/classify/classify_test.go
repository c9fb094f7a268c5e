package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestDeviceNameHeuristic(t *testing.T) {
	assert.Equal(t, CV, FromDeviceName("Eurorack CV Input 1"))
	assert.Equal(t, Audio, FromDeviceName("Built-in Microphone"))
	assert.Equal(t, Unknown, FromDeviceName("Line 6"))
}

func TestPureDCClassifiesAsCVWithFullConfidence(t *testing.T) {
	c := New(64, "")
	var a Analysis
	for i := 0; i < 64; i++ {
		a = c.Append(5.0)
	}
	assert.Equal(t, CV, a.DetectedType)
	assert.InDelta(t, 1.0, a.Confidence, 1e-9)
}

func TestHighRMSACClassifiesAsAudioWithFullConfidence(t *testing.T) {
	c := New(64, "")
	var a Analysis
	sign := 1.0
	for i := 0; i < 64; i++ {
		sign = -sign
		a = c.Append(sign * 2.0) // large swings -> ac_rms > 0.2
	}
	assert.Equal(t, Audio, a.DetectedType)
	assert.InDelta(t, 1.0, a.Confidence, 1e-9)
}

func TestSlidingWindowCapsAtCapacity(t *testing.T) {
	c := New(4, "")
	for i := 0; i < 10; i++ {
		c.Append(float64(i))
	}
	assert.Len(t, c.window, 4)
	assert.Equal(t, []float64{6, 7, 8, 9}, c.window)
}

func TestConsecutiveStableResetsOnAudio(t *testing.T) {
	c := New(64, "")
	for i := 0; i < 10; i++ {
		c.Append(1.0)
	}
	assert.Greater(t, c.Analysis().ConsecutiveStable, 0)
	for i := 0; i < 10; i++ {
		c.Append(float64(i % 2 * 4))
	}
	assert.Equal(t, 0, c.Analysis().ConsecutiveStable)
}

func TestAutoDetectOffFreezesClassification(t *testing.T) {
	c := New(8, "CV eurorack")
	c.SetAutoDetect(false)
	before := c.Analysis()
	c.Append(99)
	c.Append(-99)
	assert.Equal(t, before.DetectedType, c.Analysis().DetectedType)
}

func TestConfidenceAlwaysInUnitInterval(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		c := New(64, "")
		samples := rapid.SliceOfN(rapid.Float64Range(-20, 20), 1, 100).Draw(rt, "samples")
		for _, s := range samples {
			a := c.Append(s)
			if a.Confidence < 0 || a.Confidence > 1 {
				rt.Fatalf("confidence %v out of [0,1]", a.Confidence)
			}
		}
	})
}
