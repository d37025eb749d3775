package infrastructure

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

const earthRadiusKm = 6371.0

// GridPoint is one cell of a discrete global grid.
type GridPoint struct {
	ID  int64
	Lon float64
	Lat float64
}

// Grid is an in-memory coordinate grid supporting both lookup directions
// the adapter contract needs: nearest cell for a lon/lat pair and the
// coordinates of a cell id. Lookup is a linear scan over the cells, which
// is adequate for the grid sizes the service handles.
type Grid struct {
	points []GridPoint
	byID   map[int64]GridPoint
}

func NewGrid(points []GridPoint) *Grid {
	byID := make(map[int64]GridPoint, len(points))
	for _, p := range points {
		byID[p.ID] = p
	}
	return &Grid{points: points, byID: byID}
}

// LoadGrid reads a grid definition file: one "id lon lat" triple per line,
// comment lines starting with '#' skipped.
func LoadGrid(path string) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var points []GridPoint
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, fmt.Errorf("grid file %s: line %d: want 3 fields, got %d", path, lineNo, len(fields))
		}
		id, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("grid file %s: line %d: %w", path, lineNo, err)
		}
		lon, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("grid file %s: line %d: %w", path, lineNo, err)
		}
		lat, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, fmt.Errorf("grid file %s: line %d: %w", path, lineNo, err)
		}
		points = append(points, GridPoint{ID: id, Lon: lon, Lat: lat})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("grid file %s: no points", path)
	}
	return NewGrid(points), nil
}

// FindNearest returns the cell id closest to the given coordinates by
// great-circle distance.
func (g *Grid) FindNearest(lon, lat float64) (int64, error) {
	if len(g.points) == 0 {
		return 0, fmt.Errorf("grid is empty")
	}
	best := g.points[0]
	bestDist := haversineKm(lon, lat, best.Lon, best.Lat)
	for _, p := range g.points[1:] {
		if d := haversineKm(lon, lat, p.Lon, p.Lat); d < bestDist {
			best, bestDist = p, d
		}
	}
	return best.ID, nil
}

// Coords returns the coordinates of a cell id.
func (g *Grid) Coords(id int64) (float64, float64, error) {
	p, ok := g.byID[id]
	if !ok {
		return 0, 0, fmt.Errorf("grid has no cell %d", id)
	}
	return p.Lon, p.Lat, nil
}

// Len returns the number of grid cells.
func (g *Grid) Len() int { return len(g.points) }

func haversineKm(lon1, lat1, lon2, lat2 float64) float64 {
	const degToRad = math.Pi / 180
	phi1 := lat1 * degToRad
	phi2 := lat2 * degToRad
	dPhi := (lat2 - lat1) * degToRad
	dLambda := (lon2 - lon1) * degToRad

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
