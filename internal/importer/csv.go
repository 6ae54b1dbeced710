package importer

// csv.go parses uploaded roster files into raw rows.
//
// Step 1 only checks structural well-formedness: the file decodes, has a
// header plus at least one data row, stays under the configured limits, and
// every line has the header's column count. Width problems are collected per
// line so the client can fix the whole batch at once; only unrecoverable
// input fails the parse outright. Required-field checks wait until a column
// mapping exists.

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// ParseError is an unrecoverable problem with the uploaded file. No session
// is created when ParseCSV returns one.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return "invalid upload: " + e.Reason }

// ParseOptions bounds a parse. Zero values fall back to the listed defaults.
type ParseOptions struct {
	MaxBytes  int64 // default 25MB
	MaxRows   int   // default 50000
	Delimiter rune  // 0 = auto-detect (comma, semicolon or tab)
}

const (
	defaultMaxBytes = 25 * 1024 * 1024
	defaultMaxRows  = 50000
)

// ParseResult is the outcome of a structural parse.
type ParseResult struct {
	Header    []string
	Rows      []RawRow
	Errors    []LineError
	Delimiter rune
}

// ParseCSV decodes delimited text into raw rows. Cell values are trimmed and
// unquoted but otherwise untouched. Line numbers are 1-based physical lines
// with the header on line 1.
func ParseCSV(data []byte, opts ParseOptions) (*ParseResult, error) {
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	maxRows := opts.MaxRows
	if maxRows <= 0 {
		maxRows = defaultMaxRows
	}

	if int64(len(data)) > maxBytes {
		return nil, &ParseError{Reason: fmt.Sprintf("file exceeds %dMB limit", maxBytes/(1024*1024))}
	}

	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	data = sanitizeUTF8(data)

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ParseError{Reason: "file is empty"}
	}

	delim := opts.Delimiter
	if delim == 0 {
		delim = detectDelimiter(data)
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		return nil, &ParseError{Reason: fmt.Sprintf("unreadable header row: %v", err)}
	}
	for i, h := range header {
		header[i] = cleanCell(h)
	}

	result := &ParseResult{Header: header, Delimiter: delim}

	// Physical line tracking assumes one record per line; quoted embedded
	// newlines are rare in roster exports and at worst skew the reported
	// line numbers of later errors.
	line := 1
	for {
		record, err := r.Read()
		line++
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			result.Errors = append(result.Errors, LineError{Line: line, Reason: err.Error()})
			continue
		}

		if len(result.Rows) >= maxRows {
			return nil, &ParseError{Reason: fmt.Sprintf("file has more than %d data rows", maxRows)}
		}

		if len(record) != len(header) {
			result.Errors = append(result.Errors, LineError{
				Line:   line,
				Reason: fmt.Sprintf("has %d columns, expected %d", len(record), len(header)),
			})
			continue
		}

		cells := make([]string, len(record))
		for i, cell := range record {
			cells[i] = cleanCell(cell)
		}
		result.Rows = append(result.Rows, RawRow{Line: line, Cells: cells})
	}

	if len(result.Rows) == 0 && len(result.Errors) == 0 {
		return nil, &ParseError{Reason: "file has a header but no data rows"}
	}

	return result, nil
}

// detectDelimiter picks the delimiter with the most occurrences on the
// header line. Comma wins ties.
func detectDelimiter(data []byte) rune {
	firstLine := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		firstLine = data[:i]
	}

	best, count := ',', bytes.Count(firstLine, []byte{','})
	if n := bytes.Count(firstLine, []byte{';'}); n > count {
		best, count = ';', n
	}
	if n := bytes.Count(firstLine, []byte{'\t'}); n > count {
		best = '\t'
	}
	return best
}

// cleanCell trims whitespace and strips spreadsheet artifacts: a leading
// formula marker (`="value"` or `=value`) and stray surrounding quotes.
func cleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, `="`) && strings.HasSuffix(s, `"`) {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	return strings.TrimSpace(strings.Trim(s, `"'`))
}

// sanitizeUTF8 replaces invalid UTF-8 sequences with the Unicode replacement
// character so the csv reader never chokes on exports from legacy encodings.
func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}

	var buf bytes.Buffer
	buf.Grow(len(data))

	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune(utf8.RuneError)
			data = data[1:]
		} else {
			buf.Write(data[:size])
			data = data[size:]
		}
	}

	return buf.Bytes()
}
