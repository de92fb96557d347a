// Package ingest feeds access-log values into the counters. Logs are read as
// newline-delimited JSON and one field is extracted from every record.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/tidwall/gjson"
)

const (
	DefaultField = "remote_addr"

	maxLineSize = 1 << 20
)

// Stats describes one pass over a log.
type Stats struct {
	Lines     int // non-blank lines read
	Malformed int // lines that are not valid JSON
	Missing   int // records without the field or with an empty value
	Values    int // values handed to the callback
}

// Reader extracts Field from every JSON record of a log. Field is a gjson
// path, so nested fields such as "request.remote_addr" work.
type Reader struct {
	Field string
}

// NewReader returns a Reader for field, or for DefaultField if field is empty.
func NewReader(field string) *Reader {
	if field == "" {
		field = DefaultField
	}
	return &Reader{Field: field}
}

// Each calls fn with the field value of every well-formed record in r.
// Malformed lines (including lines longer than 1 MiB) and records whose field
// is absent or not a non-empty string are skipped and counted.
// An error from fn stops the scan and is returned.
func (rd *Reader) Each(ctx context.Context, r io.Reader, fn func(value string) error) (Stats, error) {
	var stats Stats
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		line, tooLong, readErr := readLine(br, maxLineSize)
		if readErr != nil && readErr != io.EOF {
			return stats, fmt.Errorf("ingest: reading line %d: %w", stats.Lines+1, readErr)
		}
		line = bytes.TrimSpace(line)
		switch {
		case tooLong:
			stats.Lines++
			stats.Malformed++
		case len(line) == 0:
		case !gjson.ValidBytes(line):
			stats.Lines++
			stats.Malformed++
		default:
			stats.Lines++
			value := gjson.GetBytes(line, rd.Field)
			if value.Type != gjson.String || value.Str == "" {
				stats.Missing++
				break
			}
			stats.Values++
			if err := fn(value.Str); err != nil {
				return stats, err
			}
		}
		if readErr == io.EOF {
			return stats, nil
		}
	}
}

// readLine returns the next line of br without the newline. Once the line
// exceeds limit the rest of it is drained and discarded, and tooLong is set.
func readLine(br *bufio.Reader, limit int) ([]byte, bool, error) {
	var buf []byte
	tooLong := false
	for {
		chunk, err := br.ReadSlice('\n')
		if !tooLong {
			if len(buf)+len(chunk) > limit+1 {
				tooLong = true
				buf = buf[:0]
			} else {
				buf = append(buf, chunk...)
			}
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		return bytes.TrimSuffix(buf, []byte("\n")), tooLong, err
	}
}

// Load collects the field values of r in order, duplicates included.
func (rd *Reader) Load(ctx context.Context, r io.Reader) ([]string, Stats, error) {
	var values []string
	stats, err := rd.Each(ctx, r, func(value string) error {
		values = append(values, value)
		return nil
	})
	return values, stats, err
}

// LoadFile is Load for the file at path. A missing file yields an error
// matching fs.ErrNotExist.
func (rd *Reader) LoadFile(ctx context.Context, path string) ([]string, Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("ingest: %w", err)
	}
	defer f.Close()
	return rd.Load(ctx, f)
}
