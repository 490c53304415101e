package data

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantframe/streamalpha/pkg/types"
)

// SliceTickSource replays an in-memory tick slice in order. It is the
// source of choice for tests and for ticks already loaded by the Store.
type SliceTickSource struct {
	ticks []types.Tick
	pos   int
}

// NewSliceTickSource wraps ticks in a source. The caller must hand the
// ticks over in non-decreasing timestamp order.
func NewSliceTickSource(ticks []types.Tick) *SliceTickSource {
	return &SliceTickSource{ticks: ticks}
}

// Next returns the next tick, or io.EOF when the slice is exhausted.
func (s *SliceTickSource) Next() (types.Tick, error) {
	if s.pos >= len(s.ticks) {
		return types.Tick{}, io.EOF
	}
	t := s.ticks[s.pos]
	s.pos++
	return t, nil
}

// CSVTickSource streams ticks from a CSV file without loading the whole
// file into memory. Expected columns: timestamp (RFC3339 or unix
// seconds), symbol, price, volume. A header row is skipped if present.
type CSVTickSource struct {
	file   *os.File
	reader *csv.Reader
	line   int
}

// OpenCSVTickSource opens path for streaming replay.
func OpenCSVTickSource(path string) (*CSVTickSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open tick file: %w", err)
	}
	r := csv.NewReader(f)
	r.FieldsPerRecord = 4
	r.ReuseRecord = true
	return &CSVTickSource{file: f, reader: r}, nil
}

// Next parses the next row. Malformed rows return an error with the
// offending line number; io.EOF signals a clean end of stream.
func (c *CSVTickSource) Next() (types.Tick, error) {
	for {
		record, err := c.reader.Read()
		if err == io.EOF {
			return types.Tick{}, io.EOF
		}
		if err != nil {
			return types.Tick{}, fmt.Errorf("read tick csv: %w", err)
		}
		c.line++

		// Skip a header row.
		if c.line == 1 && record[0] == "timestamp" {
			continue
		}

		ts, err := parseTimestamp(record[0])
		if err != nil {
			return types.Tick{}, fmt.Errorf("line %d: %w", c.line, err)
		}
		price, err := decimal.NewFromString(record[2])
		if err != nil {
			return types.Tick{}, fmt.Errorf("line %d: bad price %q", c.line, record[2])
		}
		size, err := decimal.NewFromString(record[3])
		if err != nil {
			return types.Tick{}, fmt.Errorf("line %d: bad volume %q", c.line, record[3])
		}

		return types.Tick{
			Timestamp: ts,
			Symbol:    record[1],
			Price:     price,
			Size:      size,
		}, nil
	}
}

// Close releases the underlying file.
func (c *CSVTickSource) Close() error {
	return c.file.Close()
}

func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("bad timestamp %q", s)
}
