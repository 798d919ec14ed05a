// Package csvio reads input CSV files of unknown encoding and writes output
// CSV files atomically.
package csvio

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/tmsincomb/oscapify/internal/atomicfile"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// ErrEmptyFile is returned for input without a header row.
var ErrEmptyFile = errors.New("file is empty")

// ErrUndecodable is returned when no candidate encoding can decode the input.
var ErrUndecodable = errors.New("no candidate encoding could decode the file")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// candidate is one encoding tried by Decode.
type candidate struct {
	name string
	enc  encoding.Encoding // nil for UTF-8
}

// Candidates are tried in order; the first successful decode wins.
// ISO-8859-1 maps every byte, so it always succeeds as the last resort.
var candidates = []candidate{
	{name: "utf-8"},
	{name: "windows-1252", enc: charmap.Windows1252},
	{name: "iso-8859-1", enc: charmap.ISO8859_1},
}

// Encodings returns the candidate encoding names in the order they are tried.
func Encodings() []string {
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.name
	}
	return names
}

// Table is a parsed CSV file.
type Table struct {
	Path     string
	Encoding string
	Header   []string
	Rows     [][]string
}

// Read loads and parses a CSV file.
func Read(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	text, enc, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}

	header, rows, err := Parse(strings.NewReader(text))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return &Table{Path: path, Encoding: enc, Header: header, Rows: rows}, nil
}

// Decode converts raw bytes to UTF-8 text and reports the encoding used.
func Decode(data []byte) (string, string, error) {
	for _, c := range candidates {
		if c.enc == nil {
			trimmed := bytes.TrimPrefix(data, utf8BOM)
			if utf8.Valid(trimmed) {
				return string(trimmed), c.name, nil
			}
			continue
		}
		out, err := c.enc.NewDecoder().Bytes(data)
		if err != nil || bytes.ContainsRune(out, utf8.RuneError) {
			continue
		}
		return string(out), c.name, nil
	}
	return "", "", ErrUndecodable
}

// Parse reads a header row and the remaining records. Rows may be shorter or
// longer than the header. Rows whose cells are all blank are dropped.
func Parse(r io.Reader) ([]string, [][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil, ErrEmptyFile
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading header: %w", err)
	}

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		if isBlank(record) {
			continue
		}
		rows = append(rows, record)
	}
	return header, rows, nil
}

func isBlank(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// WriteAtomic writes header and rows to path as UTF-8 CSV. The file appears
// complete or not at all.
func WriteAtomic(ctx context.Context, path string, header []string, rows [][]string) error {
	return atomicfile.Write(ctx, path, 0644, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(header); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
		if err := cw.WriteAll(rows); err != nil {
			return fmt.Errorf("writing rows: %w", err)
		}
		return cw.Error()
	})
}
