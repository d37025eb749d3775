package infrastructure

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGrid() *Grid {
	return NewGrid([]GridPoint{
		{ID: 1, Lon: 16.37, Lat: 48.21}, // Vienna
		{ID: 2, Lon: 13.40, Lat: 52.52}, // Berlin
		{ID: 3, Lon: 2.35, Lat: 48.86},  // Paris
	})
}

func TestFindNearest(t *testing.T) {
	g := testGrid()

	id, err := g.FindNearest(16.0, 48.0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	id, err = g.FindNearest(2.0, 49.0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)
}

func TestCoords(t *testing.T) {
	g := testGrid()

	lon, lat, err := g.Coords(2)
	require.NoError(t, err)
	assert.Equal(t, 13.40, lon)
	assert.Equal(t, 52.52, lat)

	_, _, err = g.Coords(99)
	require.Error(t, err)
}

func TestFindNearestAntimeridian(t *testing.T) {
	// Great-circle distance must not treat lon 179.9 and -179.9 as far
	// apart.
	g := NewGrid([]GridPoint{
		{ID: 1, Lon: 179.9, Lat: 0},
		{ID: 2, Lon: 0, Lat: 0},
	})

	id, err := g.FindNearest(-179.9, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
}

func TestLoadGrid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "grid.txt")
	content := "# id lon lat\n1 16.37 48.21\n2 13.40 52.52\n\n3 2.35 48.86\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	g, err := LoadGrid(path)
	require.NoError(t, err)
	assert.Equal(t, 3, g.Len())

	lon, lat, err := g.Coords(1)
	require.NoError(t, err)
	assert.Equal(t, 16.37, lon)
	assert.Equal(t, 48.21, lat)
}

func TestLoadGridMalformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "grid.txt")
	require.NoError(t, os.WriteFile(path, []byte("1 16.37\n"), 0o644))

	_, err := LoadGrid(path)
	require.Error(t, err)
}

func TestLoadGridEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "grid.txt")
	require.NoError(t, os.WriteFile(path, []byte("# nothing\n"), 0o644))

	_, err := LoadGrid(path)
	require.Error(t, err)
}
