package filter

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestLowPassBootstrapsOnFirstSample(t *testing.T) {
	f := NewLowPass(50, 44100)
	assert.Equal(t, 3.0, f.Process(3.0))
}

func TestLowPassConvergesToConstantInput(t *testing.T) {
	f := NewLowPass(50, 44100)
	var y float64
	for i := 0; i < 10000; i++ {
		y = f.Process(5.0)
	}
	assert.InDelta(t, 5.0, y, 1e-6)
}

func TestHighPassFirstSampleIsZero(t *testing.T) {
	f := NewHighPass(20, 44100)
	assert.Equal(t, 0.0, f.Process(1.0))
}

func TestHighPassBlocksDC(t *testing.T) {
	f := NewHighPass(20, 44100)
	var y float64
	for i := 0; i < 10000; i++ {
		y = f.Process(5.0)
	}
	assert.InDelta(t, 0.0, y, 1e-3)
}

func TestMovingAverageWindow(t *testing.T) {
	f := NewMovingAverage(4)
	assert.Equal(t, 1.0, f.Process(1))
	assert.Equal(t, 1.5, f.Process(2))
	assert.Equal(t, 2.0, f.Process(3))
	assert.Equal(t, 2.5, f.Process(4))
	// window now full; oldest (1) drops off as 5 enters.
	assert.Equal(t, 3.5, f.Process(5))
}

func TestMedianRejectsOutliers(t *testing.T) {
	f := NewMedian(3)
	f.Process(1)
	f.Process(1)
	got := f.Process(100)
	assert.Equal(t, 1.0, got)
}

func TestMedianWindowClampedToMax(t *testing.T) {
	f := NewMedian(1000)
	assert.LessOrEqual(t, len(f.window), MaxMedianWindow)
}

func TestExponentialClampsAlpha(t *testing.T) {
	f := NewExponential(5)
	require.InDelta(t, 1.0, f.alpha, 1e-9)
	f2 := NewExponential(-1)
	require.InDelta(t, 0.001, f2.alpha, 1e-9)
}

func TestChainAppliesStagesInOrder(t *testing.T) {
	c := NewChain(NewExponential(1.0), NewExponential(1.0))
	// alpha=1 means each stage is pass-through after bootstrap.
	assert.Equal(t, 2.0, c.Process(2.0))
}

func TestChainResetResetsEveryStage(t *testing.T) {
	lp := NewLowPass(50, 44100)
	c := NewChain(lp)
	c.Process(10)
	c.Reset()
	assert.True(t, lp.bootstrap)
}

func TestPresetsBuildWithoutError(t *testing.T) {
	for _, name := range []string{PresetCV, PresetAudio, PresetSmoothing, PresetNoiseReduction} {
		_, err := NewPreset(name, 44100)
		require.NoError(t, err)
	}
}

func TestPresetUnknownNameErrors(t *testing.T) {
	_, err := NewPreset("bogus", 44100)
	require.Error(t, err)
}

// A bounded input always produces a finite, bounded output: no filter here
// should introduce NaN/Inf or unbounded gain for a bounded stationary signal.
func TestLowPassOutputStaysBounded(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		fc := rapid.Float64Range(1, 15000).Draw(rt, "fc")
		f := NewLowPass(fc, 44100)
		samples := rapid.SliceOfN(rapid.Float64Range(-10, 10), 1, 200).Draw(rt, "samples")
		for _, s := range samples {
			y := f.Process(s)
			if math.IsNaN(y) || math.IsInf(y, 0) {
				rt.Fatalf("non-finite output %v for input %v", y, s)
			}
			if y < -10.0001 || y > 10.0001 {
				rt.Fatalf("output %v escaped input bound for input %v", y, s)
			}
		}
	})
}
