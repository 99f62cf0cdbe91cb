package chat

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrInputUnavailable is returned when the export cannot be opened or read.
var ErrInputUnavailable = errors.New("input unavailable")

const (
	initialLineBuf = 1024 * 1024
	maxLineBuf     = 10 * 1024 * 1024
)

// ParseFile parses the export at path. See Parse.
func ParseFile(path string, emit func(Record) error, opts ...Option) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: open: %w", ErrInputUnavailable, err)
	}
	defer f.Close()

	return Parse(f, emit, opts...)
}

// Parse reads r line by line and passes every completed record to emit in
// input order. Malformed lines never abort the run; they become system
// records or continuations. Lines longer than 10 MB are cut at that length
// and the rest of the line is dropped. A read failure is returned wrapped in
// ErrInputUnavailable, and an emit error stops the run and is returned as is.
func Parse(r io.Reader, emit func(Record) error, opts ...Option) (Stats, error) {
	return parse(r, emit, maxLineBuf, opts...)
}

func parse(r io.Reader, emit func(Record) error, maxLine int, opts ...Option) (Stats, error) {
	a := NewAssembler(opts...)

	split := &lineSplitter{max: maxLine}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, min(initialLineBuf, maxLine)), maxLine)
	scanner.Split(split.split)
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if first {
			line = strings.TrimPrefix(line, "\ufeff")
			first = false
		}
		if split.cut {
			split.cut = false
			a.stats.Truncated++
			a.logger.Warn("line too long, truncated", "line", a.lineNo+1, "kept_bytes", len(line))
		}
		for _, rec := range a.Feed(line) {
			if err := emit(rec); err != nil {
				return a.Stats(), err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return a.Stats(), fmt.Errorf("%w: scan: %w", ErrInputUnavailable, err)
	}

	for _, rec := range a.Flush() {
		if err := emit(rec); err != nil {
			return a.Stats(), err
		}
	}

	stats := a.Stats()
	a.logger.Info("finished parsing", "records", stats.Records, "lines", stats.Lines)
	if stats.Unparsed > 0 {
		a.logger.Warn("lines treated as unparsed or with date parsing issues", "count", stats.Unparsed)
	}
	return stats, nil
}

// lineSplitter is bufio.ScanLines except that a line filling the whole
// buffer is returned cut, and the remainder up to its newline is skipped.
type lineSplitter struct {
	max      int
	skipping bool // inside the tail of a cut line
	cut      bool // the last token was cut
}

func (s *lineSplitter) split(data []byte, atEOF bool) (int, []byte, error) {
	if s.skipping {
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			s.skipping = false
			return i + 1, nil, nil
		}
		return len(data), nil, nil
	}

	advance, token, err := bufio.ScanLines(data, atEOF)
	if advance == 0 && token == nil && err == nil && len(data) >= s.max {
		s.skipping = true
		s.cut = true
		return len(data), bytes.TrimSuffix(data, []byte{'\r'}), nil
	}
	return advance, token, err
}

// Collect parses r and returns all records in memory.
func Collect(r io.Reader, opts ...Option) ([]Record, Stats, error) {
	var recs []Record
	stats, err := Parse(r, func(rec Record) error {
		recs = append(recs, rec)
		return nil
	}, opts...)
	return recs, stats, err
}
