package validation

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// MetricFunc computes named metric values over the projected combination
// frame. The first frame column is the reference. Job identity and the
// observation count are attached by the Validator.
type MetricFunc func(f *Frame) (map[string]float64, error)

// Named metric sets selectable in run configuration.
const (
	MetricsPairwiseBasic     = "pairwise_basic"
	MetricsPairwiseExtended  = "pairwise_extended"
	MetricsTripleCollocation = "tcol"
)

// LookupMetric resolves a configured metric set name.
func LookupMetric(name string) (MetricFunc, error) {
	switch name {
	case MetricsPairwiseBasic:
		return PairwiseBasic, nil
	case MetricsPairwiseExtended:
		return PairwiseExtended, nil
	case MetricsTripleCollocation:
		return TcolMetrics, nil
	}
	return nil, fmt.Errorf("unknown metric set %q", name)
}

func pairwiseColumns(f *Frame) (x, y []float64, err error) {
	if len(f.Columns) != 2 {
		return nil, nil, fmt.Errorf("pairwise metrics need exactly 2 columns, got %d", len(f.Columns))
	}
	return f.Columns[0].Values, f.Columns[1].Values, nil
}

// PairwiseBasic computes bias, RMSD, ubRMSD and Pearson correlation for a
// (reference, other) column pair.
func PairwiseBasic(f *Frame) (map[string]float64, error) {
	x, y, err := pairwiseColumns(f)
	if err != nil {
		return nil, err
	}
	if len(x) < 2 {
		return nil, fmt.Errorf("need at least 2 observations, got %d", len(x))
	}
	r, p := PearsonR(x, y)
	return map[string]float64{
		"bias":      Bias(x, y),
		"rmsd":      RMSD(x, y),
		"ubrmsd":    UbRMSD(x, y),
		"pearson_r": r,
		"pearson_p": p,
	}, nil
}

// PairwiseExtended adds the deviation measures, the MSE decomposition,
// rank correlation and the efficiency scores on top of PairwiseBasic.
func PairwiseExtended(f *Frame) (map[string]float64, error) {
	out, err := PairwiseBasic(f)
	if err != nil {
		return nil, err
	}
	x, y, _ := pairwiseColumns(f)
	mse, mseCorr, mseBias, mseVar := MSEDecomposition(x, y)
	out["aad"] = AAD(x, y)
	out["mad"] = MAD(x, y)
	out["nrmsd"] = NRMSD(x, y)
	out["rss"] = RSS(x, y)
	out["mse"] = mse
	out["mse_corr"] = mseCorr
	out["mse_bias"] = mseBias
	out["mse_var"] = mseVar
	out["spearman_rho"] = SpearmanRho(x, y)
	out["nash_sutcliffe"] = NashSutcliffe(x, y)
	out["index_of_agreement"] = IndexOfAgreement(x, y)
	return out, nil
}

// Bias is the mean difference x - y.
func Bias(x, y []float64) float64 {
	var sum float64
	for i := range x {
		sum += x[i] - y[i]
	}
	return sum / float64(len(x))
}

// AAD is the average absolute deviation.
func AAD(x, y []float64) float64 {
	var sum float64
	for i := range x {
		sum += math.Abs(x[i] - y[i])
	}
	return sum / float64(len(x))
}

// MAD is the median absolute deviation. Even-length samples take the
// mean of the two middle elements.
func MAD(x, y []float64) float64 {
	d := make([]float64, len(x))
	for i := range x {
		d[i] = math.Abs(x[i] - y[i])
	}
	sort.Float64s(d)
	n := len(d)
	if n%2 == 0 {
		return (d[n/2-1] + d[n/2]) / 2
	}
	return d[n/2]
}

// RSS is the residual sum of squares.
func RSS(x, y []float64) float64 {
	var sum float64
	for i := range x {
		d := x[i] - y[i]
		sum += d * d
	}
	return sum
}

// MSD is the mean squared deviation.
func MSD(x, y []float64) float64 {
	return RSS(x, y) / float64(len(x))
}

// RMSD is the root mean squared deviation.
func RMSD(x, y []float64) float64 {
	return math.Sqrt(MSD(x, y))
}

// NRMSD normalizes RMSD by the joint value range of both samples.
func NRMSD(x, y []float64) float64 {
	xmin, xmax := minMax(x)
	ymin, ymax := minMax(y)
	span := math.Max(xmax, ymax) - math.Min(xmin, ymin)
	if span == 0 {
		return math.NaN()
	}
	return RMSD(x, y) / span
}

// UbRMSD is the unbiased (bias-removed) root mean squared deviation.
func UbRMSD(x, y []float64) float64 {
	b := Bias(x, y)
	return math.Sqrt(math.Max(MSD(x, y)-b*b, 0))
}

// MSEDecomposition splits the mean squared error into correlation, bias
// and variance components. mse = mse_corr + mse_bias + mse_var.
func MSEDecomposition(x, y []float64) (mse, mseCorr, mseBias, mseVar float64) {
	mx, sx := stat.MeanStdDev(x, nil)
	my, sy := stat.MeanStdDev(y, nil)
	r := stat.Correlation(x, y, nil)
	mseCorr = 2 * sx * sy * (1 - r)
	mseBias = (mx - my) * (mx - my)
	mseVar = (sx - sy) * (sx - sy)
	return mseCorr + mseBias + mseVar, mseCorr, mseBias, mseVar
}

// PearsonR returns the Pearson correlation coefficient and its two-sided
// p-value from the t distribution with n-2 degrees of freedom.
func PearsonR(x, y []float64) (r, p float64) {
	n := len(x)
	r = stat.Correlation(x, y, nil)
	if n < 3 || math.Abs(r) >= 1 {
		return r, 0
	}
	t := r * math.Sqrt(float64(n-2)/(1-r*r))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(n - 2)}
	return r, 2 * dist.CDF(-math.Abs(t))
}

// SpearmanRho is the Pearson correlation of the rank-transformed samples,
// with ties assigned average ranks.
func SpearmanRho(x, y []float64) float64 {
	return stat.Correlation(ranks(x), ranks(y), nil)
}

func ranks(vals []float64) []float64 {
	n := len(vals)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return vals[idx[a]] < vals[idx[b]] })
	out := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && vals[idx[j+1]] == vals[idx[i]] {
			j++
		}
		// Average rank over the tie run.
		r := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			out[idx[k]] = r
		}
		i = j + 1
	}
	return out
}

// NashSutcliffe is the model efficiency of y predicting the observed x.
func NashSutcliffe(x, y []float64) float64 {
	mx := stat.Mean(x, nil)
	var num, den float64
	for i := range x {
		num += (x[i] - y[i]) * (x[i] - y[i])
		den += (x[i] - mx) * (x[i] - mx)
	}
	if den == 0 {
		return math.NaN()
	}
	return 1 - num/den
}

// IndexOfAgreement is Willmott's d between observed x and predicted y.
func IndexOfAgreement(x, y []float64) float64 {
	mx := stat.Mean(x, nil)
	var num, den float64
	for i := range x {
		num += (x[i] - y[i]) * (x[i] - y[i])
		s := math.Abs(y[i]-mx) + math.Abs(x[i]-mx)
		den += s * s
	}
	if den == 0 {
		return math.NaN()
	}
	return 1 - num/den
}

// TcolMetrics computes triple collocation SNR (dB), error standard
// deviation and scaling coefficient per dataset from the covariance
// matrix of three independent columns. Keys are suffixed with the frame
// column labels (ref, k1, k2).
func TcolMetrics(f *Frame) (map[string]float64, error) {
	if len(f.Columns) != 3 {
		return nil, fmt.Errorf("triple collocation needs exactly 3 columns, got %d", len(f.Columns))
	}
	n := f.Len()
	if n < 3 {
		return nil, fmt.Errorf("need at least 3 observations, got %d", n)
	}
	data := mat.NewDense(n, 3, nil)
	for j := range f.Columns {
		for i := 0; i < n; i++ {
			data.Set(i, j, f.Columns[j].Values[i])
		}
	}
	cov := mat.NewSymDense(3, nil)
	stat.CovarianceMatrix(cov, data, nil)

	out := make(map[string]float64, 9)
	for i := 0; i < 3; i++ {
		j, k := (i+1)%3, (i+2)%3
		cij, cik, cjk := cov.At(i, j), cov.At(i, k), cov.At(j, k)
		if cij*cik == 0 || cjk == 0 {
			return nil, &MetricError{
				Combination: f.Columns[i].Ref.String(),
				Err:         fmt.Errorf("singular covariance structure"),
			}
		}
		label := f.Columns[i].Label
		out["snr_"+label] = -10 * math.Log10(cov.At(i, i)*cjk/(cij*cik)-1)
		out["err_std_"+label] = math.Sqrt(math.Max(cov.At(i, i)-cij*cik/cjk, 0))
		if i == 0 {
			out["beta_"+label] = 1
		} else {
			// beta_i rescales dataset i onto the reference:
			// beta_y = C_xz/C_yz, beta_z = C_xy/C_zy.
			other := 3 - i
			out["beta_"+label] = cov.At(0, other) / cov.At(i, other)
		}
	}
	return out, nil
}
