package infrastructure

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"geoval-system/pkg/validation"
)

var ErrInvalidFileFormat = errors.New("invalid file format")

// ASCIIReader reads whitespace-separated time-series files, one file per
// location identifier (<id>.txt under the dataset directory). The first
// line is a header: "timestamp" followed by column names; data rows carry
// an RFC 3339 timestamp and one value per column.
type ASCIIReader struct {
	dir    string
	logger *zap.Logger
}

func NewASCIIReader(dir string, logger *zap.Logger) *ASCIIReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ASCIIReader{dir: dir, logger: logger}
}

// ReadSeries loads the series file for one location identifier.
func (r *ASCIIReader) ReadSeries(id int64, _ map[string]any) (*validation.Series, error) {
	path := filepath.Join(r.dir, fmt.Sprintf("%d.txt", id))
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, err
		}
		return nil, ErrInvalidFileFormat
	}

	header := strings.Fields(scanner.Text())
	if len(header) < 2 {
		return nil, ErrInvalidFileFormat
	}
	columns := header[1:]
	series := validation.NewSeries(columns)

	lineNo := 1
	for scanner.Scan() {
		lineNo++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != len(columns)+1 {
			return nil, fmt.Errorf("%w: line %d has %d fields, want %d",
				ErrInvalidFileFormat, lineNo, len(fields), len(columns)+1)
		}

		ts, err := time.Parse(time.RFC3339, fields[0])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidFileFormat, lineNo, err)
		}

		vals := make([]float64, len(columns))
		for i, field := range fields[1:] {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				r.logger.Warn("unparseable value, replaced with NaN",
					zap.String("file", path),
					zap.Int("line", lineNo),
					zap.String("field", field))
				v = math.NaN()
			}
			vals[i] = v
		}
		series.Append(ts, vals...)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return series, nil
}
