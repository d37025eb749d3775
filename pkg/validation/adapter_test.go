package validation

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeIDProvider serves one canned series per location identifier.
type fakeIDProvider struct {
	series map[int64]*Series
}

func (p *fakeIDProvider) ReadSeries(id int64, _ map[string]any) (*Series, error) {
	s, ok := p.series[id]
	if !ok {
		return nil, fmt.Errorf("no data for location %d", id)
	}
	return s, nil
}

// fakeCoordProvider records the coordinates it was asked for.
type fakeCoordProvider struct {
	series  *Series
	lastLon float64
	lastLat float64
}

func (p *fakeCoordProvider) ReadSeriesAt(lon, lat float64, _ map[string]any) (*Series, error) {
	p.lastLon, p.lastLat = lon, lat
	return p.series, nil
}

// fakeGrid maps id 7 to (10, 20) and everything near (10, 20) to id 7.
type fakeGrid struct{}

func (fakeGrid) FindNearest(lon, lat float64) (int64, error) { return 7, nil }

func (fakeGrid) Coords(id int64) (float64, float64, error) {
	if id != 7 {
		return 0, 0, fmt.Errorf("unknown location %d", id)
	}
	return 10, 20, nil
}

func smSeries(vals ...float64) *Series {
	s := NewSeries([]string{"sm"})
	for i, v := range vals {
		s.Append(day(i), v)
	}
	return s
}

func TestFetchByID(t *testing.T) {
	a := &ProviderAdapter{
		Name:       "ismn",
		IDs:        &fakeIDProvider{series: map[int64]*Series{7: smSeries(1, 2, 3)}},
		Columns:    []string{"sm"},
		LookupByID: true,
	}
	s, err := a.Fetch(Job{SpatialID: 7, Lon: 10, Lat: 20})
	require.NoError(t, err)
	assert.Equal(t, 3, s.Len())
}

func TestFetchByCoords(t *testing.T) {
	p := &fakeCoordProvider{series: smSeries(1, 2)}
	a := &ProviderAdapter{Name: "ascat", Coords: p, Columns: []string{"sm"}}
	_, err := a.Fetch(Job{SpatialID: 7, Lon: 10.5, Lat: 20.5})
	require.NoError(t, err)
	assert.Equal(t, 10.5, p.lastLon)
	assert.Equal(t, 20.5, p.lastLat)
}

func TestFetchCoordToIDConversion(t *testing.T) {
	// Provider only reads by id; the grid resolves the coordinates.
	a := &ProviderAdapter{
		Name:    "era",
		IDs:     &fakeIDProvider{series: map[int64]*Series{7: smSeries(4, 5)}},
		Grid:    fakeGrid{},
		Columns: []string{"sm"},
	}
	s, err := a.Fetch(Job{SpatialID: 99, Lon: 10.1, Lat: 19.9})
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())
}

func TestFetchIDToCoordConversion(t *testing.T) {
	// Identifier lookup requested but the provider only reads by
	// coordinates; the grid supplies them.
	p := &fakeCoordProvider{series: smSeries(1)}
	a := &ProviderAdapter{
		Name:       "cci",
		Coords:     p,
		Grid:       fakeGrid{},
		Columns:    []string{"sm"},
		LookupByID: true,
	}
	_, err := a.Fetch(Job{SpatialID: 7})
	require.NoError(t, err)
	assert.Equal(t, 10.0, p.lastLon)
	assert.Equal(t, 20.0, p.lastLat)
}

func TestFetchUnsupportedLookup(t *testing.T) {
	// ID-only provider, no grid, coordinate lookup requested.
	a := &ProviderAdapter{
		Name: "era",
		IDs:  &fakeIDProvider{},
	}
	_, err := a.Fetch(Job{Lon: 1, Lat: 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedLookup)
}

func TestFetchMissingColumnIsReadError(t *testing.T) {
	a := &ProviderAdapter{
		Name:       "ismn",
		IDs:        &fakeIDProvider{series: map[int64]*Series{7: smSeries(1)}},
		Columns:    []string{"sm", "soil_temp"},
		LookupByID: true,
	}
	_, err := a.Fetch(Job{SpatialID: 7})
	require.Error(t, err)
	var re *ReadError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "ismn", re.Dataset)
}

func TestFetchProviderFailureIsReadError(t *testing.T) {
	a := &ProviderAdapter{
		Name:       "ismn",
		IDs:        &fakeIDProvider{},
		LookupByID: true,
	}
	_, err := a.Fetch(Job{SpatialID: 1})
	var re *ReadError
	require.ErrorAs(t, err, &re)
}

func TestParseCompareOp(t *testing.T) {
	for _, s := range []string{"<", "<=", ">", ">=", "==", "!="} {
		_, err := ParseCompareOp(s)
		require.NoError(t, err)
	}
	_, err := ParseCompareOp("~=")
	require.Error(t, err)
}

func TestCompareOpEval(t *testing.T) {
	tests := []struct {
		op   CompareOp
		v    float64
		want bool
	}{
		{OpLT, 0.4, true},
		{OpLT, 0.5, false},
		{OpLE, 0.5, true},
		{OpGT, 0.6, true},
		{OpGE, 0.5, true},
		{OpEQ, 0.5, true},
		{OpNE, 0.5, false},
		{OpNE, 0.4, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.op.Eval(tt.v, 0.5))
		})
	}
}

// staticAdapter hands back a fixed series; used across the package tests.
type staticAdapter struct {
	series *Series
	err    error
}

func (a *staticAdapter) Fetch(Job) (*Series, error) {
	if a.err != nil {
		return nil, a.err
	}
	return a.series, nil
}

func TestMaskingAdapter(t *testing.T) {
	s := NewSeries([]string{"frozen_prob"})
	for i, v := range []float64{0.1, 0.6, 0.5, 0.9} {
		s.Append(day(i), v)
	}
	m := &MaskingAdapter{
		Adapter:   &staticAdapter{series: s},
		Op:        OpGE,
		Threshold: 0.5,
		Column:    "frozen_prob",
	}
	mask, err := m.FetchMask(Job{})
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true, true, true}, mask.Flags)
}

func TestMaskingAdapterMissingColumn(t *testing.T) {
	m := &MaskingAdapter{
		Adapter: &staticAdapter{series: smSeries(1, 2)},
		Op:      OpGT,
		Column:  "frozen_prob",
	}
	_, err := m.FetchMask(Job{})
	require.Error(t, err)
}

func TestSelfMaskingAdapter(t *testing.T) {
	s := NewSeries([]string{"sm", "flag"})
	s.Append(day(0), 0.1, 0)
	s.Append(day(1), 0.2, 1)
	s.Append(day(2), 0.3, 0)

	m := &SelfMaskingAdapter{
		Adapter:   &staticAdapter{series: s},
		Op:        OpEQ,
		Threshold: 0,
		Column:    "flag",
	}
	out, err := m.Fetch(Job{})
	require.NoError(t, err)
	require.Equal(t, 2, out.Len())
	assert.Equal(t, []float64{0.1, 0.3}, out.Values["sm"])
	assert.True(t, out.Times[1].Equal(day(2)))
}

func TestSelfMaskingPropagatesReadError(t *testing.T) {
	m := &SelfMaskingAdapter{
		Adapter: &staticAdapter{err: &ReadError{Dataset: "x", Err: errors.New("boom")}},
		Op:      OpGT,
		Column:  "sm",
	}
	_, err := m.Fetch(Job{})
	var re *ReadError
	require.ErrorAs(t, err, &re)
}

func TestPeriodContains(t *testing.T) {
	p := Period{Start: day(1), End: day(3)}
	assert.False(t, p.Contains(day(0)))
	assert.True(t, p.Contains(day(1)))
	assert.True(t, p.Contains(day(3)))
	assert.False(t, p.Contains(day(3).Add(time.Second)))
	assert.True(t, Period{}.Contains(day(100)))
}
