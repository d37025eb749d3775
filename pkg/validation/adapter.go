package validation

import (
	"fmt"

	"go.uber.org/zap"
)

// IDReader is a provider capability: read a time series by opaque location
// identifier. ReadArgs carries provider-specific options from the
// DatasetSpec untouched.
type IDReader interface {
	ReadSeries(id int64, args map[string]any) (*Series, error)
}

// CoordReader is a provider capability: read the series of the location
// nearest to the given coordinates.
type CoordReader interface {
	ReadSeriesAt(lon, lat float64, args map[string]any) (*Series, error)
}

// LocationGrid converts between location identifiers and coordinates.
// Providers that only support one lookup mode can still serve the other
// when a grid is available.
type LocationGrid interface {
	FindNearest(lon, lat float64) (id int64, err error)
	Coords(id int64) (lon, lat float64, err error)
}

// Adapter is the uniform read contract the DataManager consumes.
type Adapter interface {
	Fetch(job Job) (*Series, error)
}

// MaskAdapter produces boolean mask series instead of observation series.
type MaskAdapter interface {
	FetchMask(job Job) (*MaskSeries, error)
}

// ProviderAdapter wraps an arbitrary data provider behind the Adapter
// contract. Lookup mode is chosen from the capabilities the provider
// actually has:
//
//   - LookupByID and an IDReader: read by job.SpatialID directly.
//   - A CoordReader: read by (lon, lat).
//   - Only an IDReader plus a grid: convert coordinates to the nearest
//     grid identifier first.
//   - LookupByID but only a CoordReader plus a grid: convert the
//     identifier to coordinates first.
//
// If no path works the fetch fails with ErrUnsupportedLookup.
type ProviderAdapter struct {
	Name       string
	IDs        IDReader
	Coords     CoordReader
	Grid       LocationGrid
	Columns    []string
	ReadArgs   map[string]any
	LookupByID bool
	Logger     *zap.Logger
}

func (a *ProviderAdapter) logger() *zap.Logger {
	if a.Logger == nil {
		return zap.NewNop()
	}
	return a.Logger
}

// Fetch reads and validates the series for one job.
func (a *ProviderAdapter) Fetch(job Job) (*Series, error) {
	s, err := a.read(job)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(a.Columns); err != nil {
		return nil, &ReadError{Dataset: a.Name, Err: err}
	}
	if len(a.Columns) > 0 {
		s = selectColumns(s, a.Columns)
	}
	return s, nil
}

func (a *ProviderAdapter) read(job Job) (*Series, error) {
	if a.LookupByID {
		if a.IDs != nil {
			return a.wrap(a.IDs.ReadSeries(job.SpatialID, a.ReadArgs))
		}
		if a.Coords != nil && a.Grid != nil {
			lon, lat, err := a.Grid.Coords(job.SpatialID)
			if err != nil {
				return nil, &ReadError{Dataset: a.Name, Err: err}
			}
			return a.wrap(a.Coords.ReadSeriesAt(lon, lat, a.ReadArgs))
		}
		return nil, fmt.Errorf("dataset %q: %w", a.Name, ErrUnsupportedLookup)
	}

	if a.Coords != nil {
		return a.wrap(a.Coords.ReadSeriesAt(job.Lon, job.Lat, a.ReadArgs))
	}
	if a.IDs != nil && a.Grid != nil {
		id, err := a.Grid.FindNearest(job.Lon, job.Lat)
		if err != nil {
			return nil, &ReadError{Dataset: a.Name, Err: err}
		}
		a.logger().Debug("resolved coordinates through grid",
			zap.String("dataset", a.Name),
			zap.Float64("lon", job.Lon),
			zap.Float64("lat", job.Lat),
			zap.Int64("id", id))
		return a.wrap(a.IDs.ReadSeries(id, a.ReadArgs))
	}
	return nil, fmt.Errorf("dataset %q: %w", a.Name, ErrUnsupportedLookup)
}

func (a *ProviderAdapter) wrap(s *Series, err error) (*Series, error) {
	if err != nil {
		return nil, &ReadError{Dataset: a.Name, Err: err}
	}
	if s == nil {
		return nil, &ReadError{Dataset: a.Name, Err: fmt.Errorf("provider returned no data")}
	}
	return s, nil
}

func selectColumns(s *Series, cols []string) *Series {
	out := &Series{
		Times:   s.Times,
		Columns: append([]string(nil), cols...),
		Values:  make(map[string][]float64, len(cols)),
	}
	for _, c := range cols {
		out.Values[c] = s.Values[c]
	}
	return out
}

// CompareOp is a row-wise threshold comparison used by the masking
// adapters.
type CompareOp string

const (
	OpLT CompareOp = "<"
	OpLE CompareOp = "<="
	OpGT CompareOp = ">"
	OpGE CompareOp = ">="
	OpEQ CompareOp = "=="
	OpNE CompareOp = "!="
)

// ParseCompareOp validates an operator string from configuration.
func ParseCompareOp(s string) (CompareOp, error) {
	switch op := CompareOp(s); op {
	case OpLT, OpLE, OpGT, OpGE, OpEQ, OpNE:
		return op, nil
	}
	return "", fmt.Errorf("unknown comparison operator %q", s)
}

// Eval applies the comparison against the threshold.
func (op CompareOp) Eval(v, threshold float64) bool {
	switch op {
	case OpLT:
		return v < threshold
	case OpLE:
		return v <= threshold
	case OpGT:
		return v > threshold
	case OpGE:
		return v >= threshold
	case OpEQ:
		return v == threshold
	case OpNE:
		return v != threshold
	}
	return false
}

// MaskingAdapter turns a regular adapter into a mask source: it evaluates
// `column <op> threshold` row-wise and emits a single boolean column.
type MaskingAdapter struct {
	Adapter   Adapter
	Op        CompareOp
	Threshold float64
	Column    string
}

// FetchMask reads the wrapped dataset and evaluates the condition.
func (m *MaskingAdapter) FetchMask(job Job) (*MaskSeries, error) {
	s, err := m.Adapter.Fetch(job)
	if err != nil {
		return nil, err
	}
	vals, ok := s.Values[m.Column]
	if !ok {
		return nil, fmt.Errorf("masking column %q not in fetched series", m.Column)
	}
	out := &MaskSeries{
		Times: s.Times,
		Flags: make([]bool, len(vals)),
	}
	for i, v := range vals {
		out.Flags[i] = m.Op.Eval(v, m.Threshold)
	}
	return out, nil
}

// SelfMaskingAdapter filters the wrapped read in place: only rows where
// the condition holds survive, columns unchanged.
type SelfMaskingAdapter struct {
	Adapter   Adapter
	Op        CompareOp
	Threshold float64
	Column    string
}

// Fetch reads the wrapped dataset and drops rows failing the condition.
func (m *SelfMaskingAdapter) Fetch(job Job) (*Series, error) {
	s, err := m.Adapter.Fetch(job)
	if err != nil {
		return nil, err
	}
	vals, ok := s.Values[m.Column]
	if !ok {
		return nil, fmt.Errorf("self-masking column %q not in fetched series", m.Column)
	}
	return s.Filter(func(i int) bool { return m.Op.Eval(vals[i], m.Threshold) }), nil
}
