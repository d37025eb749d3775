package validation

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Job identifies one spatial validation unit: the location identifier of
// the spatial reference dataset plus its coordinates. Jobs are created by
// the caller and consumed once per Compute call.
type Job struct {
	SpatialID int64
	Lon       float64
	Lat       float64
}

func (j Job) String() string {
	return fmt.Sprintf("gpi=%d lon=%.4f lat=%.4f", j.SpatialID, j.Lon, j.Lat)
}

// Period is a closed [Start, End] time window applied to every series
// before matching. The zero value disables filtering on that side.
type Period struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t lies inside the period (boundaries included).
func (p Period) Contains(t time.Time) bool {
	if !p.Start.IsZero() && t.Before(p.Start) {
		return false
	}
	if !p.End.IsZero() && t.After(p.End) {
		return false
	}
	return true
}

// Series is a table of timestamped observations for one dataset. The time
// index is not required to be sorted or unique on input; the matcher sorts
// a copy before lookup. Values holds one slice per column, all the same
// length as Times.
type Series struct {
	Times   []time.Time
	Columns []string
	Values  map[string][]float64
}

// NewSeries allocates an empty series with the given column set.
func NewSeries(columns []string) *Series {
	vals := make(map[string][]float64, len(columns))
	for _, c := range columns {
		vals[c] = nil
	}
	return &Series{Columns: append([]string(nil), columns...), Values: vals}
}

// Append adds one observation row. The order of vals follows Columns.
func (s *Series) Append(t time.Time, vals ...float64) {
	s.Times = append(s.Times, t)
	for i, c := range s.Columns {
		v := math.NaN()
		if i < len(vals) {
			v = vals[i]
		}
		s.Values[c] = append(s.Values[c], v)
	}
}

// Len returns the number of rows.
func (s *Series) Len() int { return len(s.Times) }

// Validate checks the series shape: all requested columns present and all
// value slices aligned with the time index.
func (s *Series) Validate(required []string) error {
	for _, c := range required {
		vals, ok := s.Values[c]
		if !ok {
			return fmt.Errorf("missing required column %q", c)
		}
		if len(vals) != len(s.Times) {
			return fmt.Errorf("column %q has %d values for %d timestamps", c, len(vals), len(s.Times))
		}
	}
	return nil
}

// Filter returns a copy keeping only rows where keep reports true.
func (s *Series) Filter(keep func(i int) bool) *Series {
	out := NewSeries(s.Columns)
	for i, t := range s.Times {
		if !keep(i) {
			continue
		}
		out.Times = append(out.Times, t)
		for _, c := range s.Columns {
			out.Values[c] = append(out.Values[c], s.Values[c][i])
		}
	}
	return out
}

// Clip discards rows outside the period.
func (s *Series) Clip(p Period) *Series {
	return s.Filter(func(i int) bool { return p.Contains(s.Times[i]) })
}

// sorted returns a copy of the series with rows ordered by timestamp.
// The sort is stable so duplicate timestamps keep their input order.
func (s *Series) sorted() *Series {
	idx := make([]int, len(s.Times))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return s.Times[idx[a]].Before(s.Times[idx[b]])
	})
	out := NewSeries(s.Columns)
	out.Times = make([]time.Time, len(idx))
	for _, c := range s.Columns {
		out.Values[c] = make([]float64, len(idx))
	}
	for pos, i := range idx {
		out.Times[pos] = s.Times[i]
		for _, c := range s.Columns {
			out.Values[c][pos] = s.Values[c][i]
		}
	}
	return out
}

// MaskSeries is a boolean time series produced by a masking adapter.
// Rows where the flag is true mark reference observations to exclude.
type MaskSeries struct {
	Times []time.Time
	Flags []bool
}

// Len returns the number of rows.
func (m *MaskSeries) Len() int { return len(m.Times) }

// sortedMask returns a copy of the mask ordered by timestamp.
func (m *MaskSeries) sortedMask() *MaskSeries {
	idx := make([]int, len(m.Times))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return m.Times[idx[a]].Before(m.Times[idx[b]])
	})
	out := &MaskSeries{
		Times: make([]time.Time, len(idx)),
		Flags: make([]bool, len(idx)),
	}
	for pos, i := range idx {
		out.Times[pos] = m.Times[i]
		out.Flags[pos] = m.Flags[i]
	}
	return out
}

// ColumnRef names one column of one dataset. Ordered tuples of ColumnRefs
// form the combination keys under which results are reported.
type ColumnRef struct {
	Dataset string
	Column  string
}

func (r ColumnRef) String() string {
	return fmt.Sprintf("%s.%s", r.Dataset, r.Column)
}

// FrameColumn is one reference-aligned column of a matched frame. Label is
// "ref" for the temporal reference and "k1", "k2", ... for the matched
// datasets in match order; datasets with several selected columns share
// the label.
type FrameColumn struct {
	Label  string
	Ref    ColumnRef
	Values []float64
}

// Frame is the output of temporal matching: one row per surviving
// reference timestamp, every column fully populated. Scaling preserves
// row alignment and column order.
type Frame struct {
	Times   []time.Time
	Columns []FrameColumn
}

// Len returns the number of rows.
func (f *Frame) Len() int { return len(f.Times) }

// Column returns the column for a dataset/column pair, or nil.
func (f *Frame) Column(ref ColumnRef) *FrameColumn {
	for i := range f.Columns {
		if f.Columns[i].Ref == ref {
			return &f.Columns[i]
		}
	}
	return nil
}

// Project returns a new frame containing only the given columns, in the
// given order, sharing the underlying value slices.
func (f *Frame) Project(refs []ColumnRef) (*Frame, error) {
	out := &Frame{Times: f.Times}
	for _, r := range refs {
		col := f.Column(r)
		if col == nil {
			return nil, fmt.Errorf("frame has no column %s", r)
		}
		out.Columns = append(out.Columns, *col)
	}
	return out, nil
}
