package validation

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleStd(vals []float64) float64 {
	var mean float64
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))
	var variance float64
	for _, v := range vals {
		variance += (v - mean) * (v - mean)
	}
	return math.Sqrt(variance / float64(len(vals)-1))
}

func randomSample(n int, seed int64, offset, scale float64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		out[i] = offset + scale*rng.NormFloat64()
	}
	return out
}

func TestMeanStdRoundTrip(t *testing.T) {
	src := randomSample(200, 1, 0.2, 0.05)
	ref := randomSample(200, 2, 0.35, 0.11)

	scaled, err := MeanStdScale(src, ref)
	require.NoError(t, err)

	back, err := InverseMeanStdScale(scaled, src, ref)
	require.NoError(t, err)

	for i := range src {
		assert.InDelta(t, src[i], back[i], 1e-9)
	}
}

func TestMinMaxMapsRange(t *testing.T) {
	src := []float64{0, 0.25, 0.5, 0.75, 1}
	ref := []float64{10, 12, 14, 16, 20}

	scaled, err := MinMaxScale(src, ref)
	require.NoError(t, err)
	assert.InDelta(t, 10, scaled[0], 1e-12)
	assert.InDelta(t, 20, scaled[4], 1e-12)
	assert.InDelta(t, 15, scaled[2], 1e-12)
}

func TestDegenerateDistributionFails(t *testing.T) {
	flat := []float64{0.3, 0.3, 0.3, 0.3}
	ref := []float64{1, 2, 3, 4}

	for _, fn := range []Scaler{MinMaxScale, MeanStdScale, LinCDFMatch, CDFMatch} {
		_, err := fn(flat, ref)
		require.Error(t, err)
		var se *ScalingError
		assert.ErrorAs(t, err, &se)
	}
}

func TestDegenerateReferencePassesThrough(t *testing.T) {
	// Only the source side is checked: a constant reference collapses
	// the output to its mean/range rather than failing.
	src := []float64{1, 2, 3, 4}
	flat := []float64{0.3, 0.3, 0.3, 0.3}

	scaled, err := MeanStdScale(src, flat)
	require.NoError(t, err)
	for _, v := range scaled {
		assert.InDelta(t, 0.3, v, 1e-12)
	}

	scaled, err = MinMaxScale(src, flat)
	require.NoError(t, err)
	for _, v := range scaled {
		assert.InDelta(t, 0.3, v, 1e-12)
	}
}

func TestLinCDFMatchMapsQuantiles(t *testing.T) {
	src := randomSample(500, 3, 0.2, 0.04)
	ref := randomSample(500, 4, 0.4, 0.08)

	scaled, err := LinCDFMatch(src, ref)
	require.NoError(t, err)
	require.Len(t, scaled, len(src))

	// Monotonicity: ordering of source values survives the mapping.
	for i := range src {
		for j := i + 1; j < len(src); j += 97 {
			if src[i] < src[j] {
				assert.LessOrEqual(t, scaled[i], scaled[j])
			}
		}
	}

	// The mapped distribution lands inside the reference value range.
	rmin, rmax := minMax(ref)
	for _, v := range scaled {
		assert.GreaterOrEqual(t, v, rmin-1e-9)
		assert.LessOrEqual(t, v, rmax+1e-9)
	}
}

func TestCDFMatchCloseToLinearOnGaussian(t *testing.T) {
	src := randomSample(1000, 5, 0.0, 1.0)
	ref := randomSample(1000, 6, 5.0, 2.0)

	scaled, err := CDFMatch(src, ref)
	require.NoError(t, err)

	// A Gaussian-to-Gaussian CDF match is roughly an affine map; the
	// scaled mean should sit near the reference mean.
	var sum float64
	for _, v := range scaled {
		sum += v
	}
	assert.InDelta(t, 5.0, sum/float64(len(scaled)), 0.3)
}

func TestTripleCollocationScale(t *testing.T) {
	truth := randomSample(500, 7, 0.3, 0.1)
	src := make([]float64, len(truth))
	third := make([]float64, len(truth))
	noise1 := randomSample(500, 8, 0, 0.01)
	noise2 := randomSample(500, 9, 0, 0.01)
	for i := range truth {
		src[i] = 2*truth[i] + 0.5 + noise1[i] // biased, stretched copy
		third[i] = truth[i] + noise2[i]
	}

	scaled, err := TripleCollocationScale(src, truth, third)
	require.NoError(t, err)

	// Scaling recovers the reference mean and removes the factor-2
	// stretch: the scaled spread should sit close to the truth's.
	assert.InDelta(t, 0, Bias(scaled, truth), 1e-9)
	assert.InDelta(t, sampleStd(truth), sampleStd(scaled), 0.02)
}

func TestScaleFrameSkipsSmallSamples(t *testing.T) {
	engine, err := NewScalingEngine(ScaleMeanStd, 10, nil)
	require.NoError(t, err)

	frame := &Frame{
		Times: []time.Time{day(0), day(1), day(2)},
		Columns: []FrameColumn{
			{Label: "ref", Ref: ColumnRef{Dataset: "a", Column: "sm"}, Values: []float64{1, 2, 3}},
			{Label: "k1", Ref: ColumnRef{Dataset: "b", Column: "sm"}, Values: []float64{4, 5, 6}},
		},
	}

	scaled, skipped, err := engine.ScaleFrame(frame, frame.Columns[0].Ref, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.sm"}, skipped)
	// Passed through unscaled.
	assert.Equal(t, []float64{4, 5, 6}, scaled.Columns[1].Values)
}

func TestScaleFrameTripleCollocationNeedsThird(t *testing.T) {
	engine, err := NewScalingEngine(ScaleTripleCol, 2, nil)
	require.NoError(t, err)

	frame := &Frame{
		Columns: []FrameColumn{
			{Label: "ref", Ref: ColumnRef{Dataset: "a", Column: "sm"}, Values: randomSample(20, 10, 0, 1)},
			{Label: "k1", Ref: ColumnRef{Dataset: "b", Column: "sm"}, Values: randomSample(20, 11, 0, 1)},
		},
	}

	_, _, err = engine.ScaleFrame(frame, frame.Columns[0].Ref, nil)
	require.Error(t, err)
	var se *ScalingError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ScaleTripleCol, se.Method)
}

func TestUnknownScalingMethodRejected(t *testing.T) {
	_, err := NewScalingEngine("zscore", 0, nil)
	require.Error(t, err)
}

func TestScaleFrameDoesNotMutateInput(t *testing.T) {
	engine, err := NewScalingEngine(ScaleMeanStd, 2, nil)
	require.NoError(t, err)

	src := randomSample(50, 12, 0.5, 0.2)
	orig := append([]float64(nil), src...)
	frame := &Frame{
		Columns: []FrameColumn{
			{Label: "ref", Ref: ColumnRef{Dataset: "a", Column: "sm"}, Values: randomSample(50, 13, 0.3, 0.1)},
			{Label: "k1", Ref: ColumnRef{Dataset: "b", Column: "sm"}, Values: src},
		},
	}

	_, _, err = engine.ScaleFrame(frame, frame.Columns[0].Ref, nil)
	require.NoError(t, err)
	assert.Equal(t, orig, src)
}

func TestMeanStdMatchesReferenceMoments(t *testing.T) {
	src := randomSample(300, 14, 0.2, 0.05)
	ref := randomSample(300, 15, 0.4, 0.12)

	scaled, err := MeanStdScale(src, ref)
	require.NoError(t, err)

	var mean float64
	for _, v := range scaled {
		mean += v
	}
	mean /= float64(len(scaled))
	var variance float64
	for _, v := range scaled {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(scaled) - 1)

	var rmean float64
	for _, v := range ref {
		rmean += v
	}
	rmean /= float64(len(ref))
	var rvar float64
	for _, v := range ref {
		rvar += (v - rmean) * (v - rmean)
	}
	rvar /= float64(len(ref) - 1)

	assert.InDelta(t, rmean, mean, 1e-9)
	assert.InDelta(t, math.Sqrt(rvar), math.Sqrt(variance), 1e-9)
}
