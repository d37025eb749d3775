package validation

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pairFrame(x, y []float64) *Frame {
	return &Frame{
		Columns: []FrameColumn{
			{Label: "ref", Ref: ColumnRef{Dataset: "a", Column: "sm"}, Values: x},
			{Label: "k1", Ref: ColumnRef{Dataset: "b", Column: "sm"}, Values: y},
		},
	}
}

func TestBias(t *testing.T) {
	x := []float64{1, 2, 3, 4}
	y := []float64{2, 3, 4, 5}
	assert.InDelta(t, -1, Bias(x, y), 1e-12)
	assert.InDelta(t, 1, Bias(y, x), 1e-12)
}

func TestDeviationMeasures(t *testing.T) {
	x := []float64{0, 0, 0, 0}
	y := []float64{1, -1, 2, -2}
	assert.InDelta(t, 1.5, AAD(x, y), 1e-12)
	assert.InDelta(t, 10, RSS(x, y), 1e-12)
	assert.InDelta(t, 2.5, MSD(x, y), 1e-12)
	assert.InDelta(t, math.Sqrt(2.5), RMSD(x, y), 1e-12)
}

func TestMADMedianConvention(t *testing.T) {
	// Even length averages the two middle deviations: sorted |d| is
	// {1, 1, 2, 2}.
	x := []float64{0, 0, 0, 0}
	y := []float64{1, -1, 2, -2}
	assert.InDelta(t, 1.5, MAD(x, y), 1e-12)

	// Odd length takes the middle element.
	assert.InDelta(t, 2, MAD([]float64{0, 0, 0}, []float64{1, 2, 3}), 1e-12)
}

func TestUbRMSDRemovesBias(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5}
	y := []float64{3, 4, 5, 6, 7} // constant offset of 2
	assert.InDelta(t, 2, math.Abs(Bias(x, y)), 1e-12)
	assert.InDelta(t, 0, UbRMSD(x, y), 1e-9)
}

func TestPearsonPerfectCorrelation(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5}
	y := []float64{2, 4, 6, 8, 10}
	r, p := PearsonR(x, y)
	assert.InDelta(t, 1, r, 1e-9)
	assert.InDelta(t, 0, p, 1e-9)
}

func TestPearsonUncorrelated(t *testing.T) {
	x := randomSample(200, 20, 0, 1)
	y := randomSample(200, 21, 0, 1)
	r, p := PearsonR(x, y)
	assert.Less(t, math.Abs(r), 0.2)
	assert.Greater(t, p, 0.01)
}

func TestSpearmanMonotone(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5}
	y := []float64{1, 8, 27, 64, 125} // nonlinear but monotone
	assert.InDelta(t, 1, SpearmanRho(x, y), 1e-9)
	r, _ := PearsonR(x, y)
	assert.Less(t, r, 1.0)
}

func TestSpearmanTies(t *testing.T) {
	// Average ranks for ties: still well-defined and symmetric.
	x := []float64{1, 2, 2, 3}
	y := []float64{1, 2, 2, 3}
	assert.InDelta(t, 1, SpearmanRho(x, y), 1e-9)
}

func TestNashSutcliffePerfect(t *testing.T) {
	x := []float64{1, 2, 3, 4}
	assert.InDelta(t, 1, NashSutcliffe(x, x), 1e-12)
	assert.InDelta(t, 1, IndexOfAgreement(x, x), 1e-12)
}

func TestMSEDecompositionAddsUp(t *testing.T) {
	x := randomSample(300, 22, 0.3, 0.1)
	y := randomSample(300, 23, 0.4, 0.15)
	mse, mseCorr, mseBias, mseVar := MSEDecomposition(x, y)
	assert.InDelta(t, mse, mseCorr+mseBias+mseVar, 1e-9)
	assert.GreaterOrEqual(t, mseBias, 0.0)
	assert.GreaterOrEqual(t, mseVar, 0.0)
}

func TestPairwiseBasicSet(t *testing.T) {
	f := pairFrame(
		randomSample(100, 24, 0.3, 0.1),
		randomSample(100, 25, 0.4, 0.1),
	)
	out, err := PairwiseBasic(f)
	require.NoError(t, err)
	for _, key := range []string{"bias", "rmsd", "ubrmsd", "pearson_r", "pearson_p"} {
		assert.Contains(t, out, key)
	}
}

func TestPairwiseExtendedSet(t *testing.T) {
	f := pairFrame(
		randomSample(100, 26, 0.3, 0.1),
		randomSample(100, 27, 0.4, 0.1),
	)
	out, err := PairwiseExtended(f)
	require.NoError(t, err)
	for _, key := range []string{
		"aad", "mad", "nrmsd", "rss", "mse", "mse_corr", "mse_bias",
		"mse_var", "spearman_rho", "nash_sutcliffe", "index_of_agreement",
	} {
		assert.Contains(t, out, key)
	}
}

func TestPairwiseRejectsWrongArity(t *testing.T) {
	f := &Frame{Columns: []FrameColumn{{Label: "ref"}}}
	_, err := PairwiseBasic(f)
	require.Error(t, err)
}

func TestTcolMetrics(t *testing.T) {
	n := 1000
	truth := randomSample(n, 28, 0.3, 0.1)
	noiseX := randomSample(n, 29, 0, 0.01)
	noiseY := randomSample(n, 30, 0, 0.02)
	noiseZ := randomSample(n, 31, 0, 0.03)

	x := make([]float64, n)
	y := make([]float64, n)
	z := make([]float64, n)
	for i := 0; i < n; i++ {
		x[i] = truth[i] + noiseX[i]
		y[i] = 0.5*truth[i] + noiseY[i]
		z[i] = 2*truth[i] + noiseZ[i]
	}

	f := &Frame{
		Times: make([]time.Time, n),
		Columns: []FrameColumn{
			{Label: "ref", Ref: ColumnRef{Dataset: "a", Column: "sm"}, Values: x},
			{Label: "k1", Ref: ColumnRef{Dataset: "b", Column: "sm"}, Values: y},
			{Label: "k2", Ref: ColumnRef{Dataset: "c", Column: "sm"}, Values: z},
		},
	}
	for i := range f.Times {
		f.Times[i] = day(i)
	}

	out, err := TcolMetrics(f)
	require.NoError(t, err)

	assert.InDelta(t, 1, out["beta_ref"], 1e-12)
	// Dataset b is compressed by 0.5 and c stretched by 2 relative to
	// the reference; the betas undo that.
	assert.InDelta(t, 2, out["beta_k1"], 0.1)
	assert.InDelta(t, 0.5, out["beta_k2"], 0.05)
	// Error levels recover the injected noise magnitudes.
	assert.InDelta(t, 0.01, out["err_std_ref"], 0.005)
	for _, key := range []string{"snr_ref", "snr_k1", "snr_k2"} {
		assert.False(t, math.IsNaN(out[key]))
		assert.Greater(t, out[key], 0.0)
	}
}

func TestTcolRejectsWrongArity(t *testing.T) {
	f := pairFrame([]float64{1, 2, 3}, []float64{1, 2, 3})
	_, err := TcolMetrics(f)
	require.Error(t, err)
}

func TestLookupMetric(t *testing.T) {
	for _, name := range []string{MetricsPairwiseBasic, MetricsPairwiseExtended, MetricsTripleCollocation} {
		fn, err := LookupMetric(name)
		require.NoError(t, err)
		require.NotNil(t, fn)
	}
	_, err := LookupMetric("bogus")
	require.Error(t, err)
}
