package validation

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// TemporalMatcher aligns comparison series onto a reference time index by
// nearest-neighbour lookup with a tolerance window.
//
// The window is inclusive: a candidate lying exactly at window distance
// is accepted (|Δt| <= window). When two candidates are equidistant the
// earlier one wins, so results are deterministic.
type TemporalMatcher struct {
	Window time.Duration
}

// DefaultWindow is the symmetric matching tolerance used when none is
// configured.
const DefaultWindow = time.Hour

// NewTemporalMatcher returns a matcher with the given tolerance window.
// A zero window falls back to DefaultWindow.
func NewTemporalMatcher(window time.Duration) (*TemporalMatcher, error) {
	if window < 0 {
		return nil, &MatchError{Reason: fmt.Sprintf("negative window %v", window)}
	}
	if window == 0 {
		window = DefaultWindow
	}
	return &TemporalMatcher{Window: window}, nil
}

// nearestIndex finds the index in the ascending-sorted times slice whose
// timestamp minimizes |t - times[i]|, subject to the window. Equidistant
// candidates resolve to the earlier timestamp. Runs in O(log n).
func (m *TemporalMatcher) nearestIndex(t time.Time, times []time.Time) (int, bool) {
	n := len(times)
	if n == 0 {
		return 0, false
	}
	// First index with times[i] >= t.
	hi := sort.Search(n, func(i int) bool { return !times[i].Before(t) })

	best := -1
	var bestDist time.Duration
	if hi < n {
		best = hi
		bestDist = times[hi].Sub(t)
	}
	if hi > 0 {
		lo := hi - 1
		d := t.Sub(times[lo])
		// <= : on a tie the earlier candidate wins.
		if best == -1 || d <= bestDist {
			best = lo
			bestDist = d
		}
	}
	if best == -1 || bestDist > m.Window {
		return 0, false
	}
	// With duplicate timestamps sort.Search lands on the first of the run,
	// which is the stable choice; for the predecessor, walk back to the
	// earliest equal timestamp.
	for best > 0 && times[best-1].Equal(times[best]) {
		best--
	}
	return best, true
}

// ApplyMasks matches every mask pairwise to the reference index (same
// nearest-neighbour rule) and removes reference rows where any matched
// mask evaluates true. Unmatched mask rows leave the reference untouched.
func (m *TemporalMatcher) ApplyMasks(ref *Series, masks []*MaskSeries) *Series {
	if len(masks) == 0 {
		return ref
	}
	drop := make([]bool, ref.Len())
	for _, mask := range masks {
		ms := mask.sortedMask()
		for i, t := range ref.Times {
			if j, ok := m.nearestIndex(t, ms.Times); ok && ms.Flags[j] {
				drop[i] = true
			}
		}
	}
	return ref.Filter(func(i int) bool { return !drop[i] })
}

// Match builds the n-way matched frame for the reference plus the given
// datasets, in declaration order. A reference row survives only if every
// dataset has an observation within the window and none of the matched
// values is NaN. Columns are labeled ref, k1, k2, ... per dataset.
func (m *TemporalMatcher) Match(refName string, ref *Series, others []DatasetSpec, series map[string]*Series) (*Frame, error) {
	sortedRef := ref.sorted()

	type matchSource struct {
		spec   DatasetSpec
		label  string
		sorted *Series
	}
	sources := make([]matchSource, 0, len(others))
	for i, spec := range others {
		s, ok := series[spec.Name]
		if !ok {
			return nil, &MatchError{Reason: fmt.Sprintf("no series for dataset %q", spec.Name)}
		}
		sources = append(sources, matchSource{
			spec:   spec,
			label:  fmt.Sprintf("k%d", i+1),
			sorted: s.sorted(),
		})
	}

	frame := &Frame{}
	for _, c := range sortedRef.Columns {
		frame.Columns = append(frame.Columns, FrameColumn{
			Label: "ref",
			Ref:   ColumnRef{Dataset: refName, Column: c},
		})
	}
	for _, src := range sources {
		for _, c := range src.spec.Columns {
			frame.Columns = append(frame.Columns, FrameColumn{
				Label: src.label,
				Ref:   ColumnRef{Dataset: src.spec.Name, Column: c},
			})
		}
	}

	row := make([]float64, len(frame.Columns))
	for i, t := range sortedRef.Times {
		ok := true
		pos := 0
		for _, c := range sortedRef.Columns {
			v := sortedRef.Values[c][i]
			if math.IsNaN(v) {
				ok = false
				break
			}
			row[pos] = v
			pos++
		}
		for _, src := range sources {
			if !ok {
				break
			}
			j, found := m.nearestIndex(t, src.sorted.Times)
			if !found {
				ok = false
				break
			}
			for _, c := range src.spec.Columns {
				v := src.sorted.Values[c][j]
				if math.IsNaN(v) {
					ok = false
					break
				}
				row[pos] = v
				pos++
			}
		}
		if !ok {
			continue
		}
		frame.Times = append(frame.Times, t)
		for k := range frame.Columns {
			frame.Columns[k].Values = append(frame.Columns[k].Values, row[k])
		}
	}

	return frame, nil
}
