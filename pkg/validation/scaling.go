package validation

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/stat"
)

// Scaler maps a source sample into the value distribution of a
// row-aligned reference sample.
type Scaler func(src, ref []float64) ([]float64, error)

// Scaling method names accepted in configuration.
const (
	ScaleMinMax      = "min_max"
	ScaleMeanStd     = "mean_std"
	ScaleLinCDFMatch = "lin_cdf_match"
	ScaleCDFMatch    = "cdf_match"
	ScaleTripleCol   = "triple_collocation"
)

// DefaultMinObs is the minimum paired sample count below which scaling is
// skipped and the column passed through unscaled.
const DefaultMinObs = 10

// cdfPercentiles are the empirical CDF knots used by the CDF matching
// methods.
var cdfPercentiles = []float64{0, 5, 10, 30, 50, 70, 90, 95, 100}

// ScalingEngine rescales matched frame columns toward the scaling
// reference column. It is stateless and shared read-only across jobs.
type ScalingEngine struct {
	Method string
	MinObs int
	logger *zap.Logger
}

// NewScalingEngine validates the method name. minObs <= 0 selects
// DefaultMinObs.
func NewScalingEngine(method string, minObs int, logger *zap.Logger) (*ScalingEngine, error) {
	switch method {
	case ScaleMinMax, ScaleMeanStd, ScaleLinCDFMatch, ScaleCDFMatch, ScaleTripleCol:
	default:
		return nil, fmt.Errorf("unknown scaling method %q", method)
	}
	if minObs <= 0 {
		minObs = DefaultMinObs
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScalingEngine{Method: method, MinObs: minObs, logger: logger}, nil
}

// ScaleFrame transforms every non-reference column of the frame toward
// the scaling reference column, preserving row alignment and column
// order. context is the full matched frame the projection was taken
// from; methods needing a third independent dataset (triple collocation)
// search it for one. It returns the scaled frame and the list of columns
// passed through unscaled because the sample was too small. Degenerate
// distributions surface as ScalingError.
func (e *ScalingEngine) ScaleFrame(frame *Frame, scalingRef ColumnRef, context *Frame) (*Frame, []string, error) {
	if context == nil {
		context = frame
	}
	refCol := frame.Column(scalingRef)
	if refCol == nil {
		// Designated scaling reference not part of this combination;
		// fall back to the temporal reference column.
		refCol = &frame.Columns[0]
	}

	out := &Frame{Times: frame.Times, Columns: make([]FrameColumn, len(frame.Columns))}
	copy(out.Columns, frame.Columns)

	var skipped []string
	for i := range out.Columns {
		col := &out.Columns[i]
		if col.Ref == refCol.Ref {
			continue
		}
		if len(col.Values) < e.MinObs {
			e.logger.Debug("sample too small, passing through unscaled",
				zap.String("column", col.Ref.String()),
				zap.Int("n", len(col.Values)),
				zap.Int("min", e.MinObs))
			skipped = append(skipped, col.Ref.String())
			continue
		}
		scaled, err := e.scaleColumn(context, col, refCol)
		if err != nil {
			return nil, nil, err
		}
		col.Values = scaled
	}
	return out, skipped, nil
}

func (e *ScalingEngine) scaleColumn(context *Frame, col, refCol *FrameColumn) ([]float64, error) {
	switch e.Method {
	case ScaleMinMax:
		return MinMaxScale(col.Values, refCol.Values)
	case ScaleMeanStd:
		return MeanStdScale(col.Values, refCol.Values)
	case ScaleLinCDFMatch:
		return LinCDFMatch(col.Values, refCol.Values)
	case ScaleCDFMatch:
		return CDFMatch(col.Values, refCol.Values)
	case ScaleTripleCol:
		third := thirdColumn(context, col.Ref, refCol.Ref)
		if third == nil {
			return nil, &ScalingError{
				Method: e.Method,
				Reason: "triple collocation scaling needs a third independent dataset in the combination",
			}
		}
		return TripleCollocationScale(col.Values, refCol.Values, third.Values)
	}
	return nil, &ScalingError{Method: e.Method, Reason: "method not registered"}
}

func thirdColumn(frame *Frame, a, b ColumnRef) *FrameColumn {
	for i := range frame.Columns {
		c := &frame.Columns[i]
		if c.Ref != a && c.Ref != b && c.Ref.Dataset != a.Dataset && c.Ref.Dataset != b.Dataset {
			return c
		}
	}
	return nil
}

// MinMaxScale linearly rescales src so its min/max map onto the
// reference min/max. Only the source range is checked for degeneracy; a
// constant reference collapses the output to that constant.
func MinMaxScale(src, ref []float64) ([]float64, error) {
	smin, smax := minMax(src)
	rmin, rmax := minMax(ref)
	if smax == smin {
		return nil, &ScalingError{Method: ScaleMinMax, Reason: "source range is zero"}
	}
	out := make([]float64, len(src))
	scale := (rmax - rmin) / (smax - smin)
	for i, v := range src {
		out[i] = rmin + (v-smin)*scale
	}
	return out, nil
}

// MeanStdScale shifts and scales src so its mean and standard deviation
// match the reference. Only the source deviation is checked for
// degeneracy; a zero-variance reference collapses the output to its
// mean.
func MeanStdScale(src, ref []float64) ([]float64, error) {
	smean, sstd := stat.MeanStdDev(src, nil)
	rmean, rstd := stat.MeanStdDev(ref, nil)
	if sstd == 0 || math.IsNaN(sstd) {
		return nil, &ScalingError{Method: ScaleMeanStd, Reason: "source standard deviation is zero"}
	}
	out := make([]float64, len(src))
	for i, v := range src {
		out[i] = (v-smean)/sstd*rstd + rmean
	}
	return out, nil
}

// LinCDFMatch fits a piecewise-linear mapping between the empirical CDFs
// of src and ref at fixed percentile knots and applies it to src.
func LinCDFMatch(src, ref []float64) ([]float64, error) {
	xs, ys, err := cdfKnots(src, ref, ScaleLinCDFMatch)
	if err != nil {
		return nil, err
	}
	var pl interp.PiecewiseLinear
	if err := pl.Fit(xs, ys); err != nil {
		return nil, &ScalingError{Method: ScaleLinCDFMatch, Reason: err.Error()}
	}
	return applyMonotone(src, xs, &pl), nil
}

// CDFMatch fits a smooth monotone mapping through the same percentile
// knots using an Akima spline. With too few distinct knots it falls back
// to the piecewise-linear fit.
func CDFMatch(src, ref []float64) ([]float64, error) {
	xs, ys, err := cdfKnots(src, ref, ScaleCDFMatch)
	if err != nil {
		return nil, err
	}
	if len(xs) < 5 {
		return LinCDFMatch(src, ref)
	}
	var spline interp.AkimaSpline
	if err := spline.Fit(xs, ys); err != nil {
		return nil, &ScalingError{Method: ScaleCDFMatch, Reason: err.Error()}
	}
	return applyMonotone(src, xs, &spline), nil
}

// cdfKnots computes matching percentile pairs of src and ref, collapsing
// duplicate source knots so the x grid is strictly increasing.
func cdfKnots(src, ref []float64, method string) (xs, ys []float64, err error) {
	ssorted := sortedCopy(src)
	rsorted := sortedCopy(ref)
	for _, p := range cdfPercentiles {
		x := stat.Quantile(p/100, stat.Empirical, ssorted, nil)
		y := stat.Quantile(p/100, stat.Empirical, rsorted, nil)
		if n := len(xs); n > 0 && x <= xs[n-1] {
			continue
		}
		xs = append(xs, x)
		ys = append(ys, y)
	}
	if len(xs) < 2 {
		return nil, nil, &ScalingError{Method: method, Reason: "degenerate source distribution, all percentile knots equal"}
	}
	return xs, ys, nil
}

func applyMonotone(src, xs []float64, p interp.Predictor) []float64 {
	lo, hi := xs[0], xs[len(xs)-1]
	out := make([]float64, len(src))
	for i, v := range src {
		// Constant extrapolation outside the fitted knot range.
		if v < lo {
			v = lo
		} else if v > hi {
			v = hi
		}
		out[i] = p.Predict(v)
	}
	return out
}

// TripleCollocationScale derives the scaling slope from a three-way error
// decomposition: beta = cov(ref, third) / cov(src, third), then maps src
// onto the reference mean.
func TripleCollocationScale(src, ref, third []float64) ([]float64, error) {
	covSrc := stat.Covariance(src, third, nil)
	if covSrc == 0 {
		return nil, &ScalingError{Method: ScaleTripleCol, Reason: "source and third dataset are uncorrelated"}
	}
	beta := stat.Covariance(ref, third, nil) / covSrc
	smean := stat.Mean(src, nil)
	rmean := stat.Mean(ref, nil)
	out := make([]float64, len(src))
	for i, v := range src {
		out[i] = rmean + beta*(v-smean)
	}
	return out, nil
}

// InverseMeanStdScale undoes MeanStdScale given the same reference; used
// by round-trip tests and for reporting in source units.
func InverseMeanStdScale(scaled, src, ref []float64) ([]float64, error) {
	smean, sstd := stat.MeanStdDev(src, nil)
	rmean, rstd := stat.MeanStdDev(ref, nil)
	if rstd == 0 || math.IsNaN(rstd) {
		return nil, &ScalingError{Method: ScaleMeanStd, Reason: "reference standard deviation is zero"}
	}
	out := make([]float64, len(scaled))
	for i, v := range scaled {
		out[i] = (v-rmean)/rstd*sstd + smean
	}
	return out, nil
}

func minMax(vals []float64) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range vals {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

func sortedCopy(vals []float64) []float64 {
	out := append([]float64(nil), vals...)
	sort.Float64s(out)
	return out
}
