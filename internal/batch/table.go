package batch

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrEmptyFile is returned when a CSV file has no header row.
var ErrEmptyFile = errors.New("csv file is empty")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Table is a CSV file held in memory. Every row has one cell per header
// column.
type Table struct {
	Header []string
	Rows   [][]string
	// Encoding names the encoding the file was decoded from.
	Encoding string
	// ExtraColumns counts the header columns ReadTable named itself because
	// some row had more cells than the header.
	ExtraColumns int
}

// ReadTable loads a CSV file. UTF-8 (with or without BOM) and BOM-marked
// UTF-16 are detected directly; other input is decoded as GB18030, which
// also covers GBK and GB2312 exports.
func ReadTable(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	data, name, err := decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if len(records) == 0 {
		return nil, ErrEmptyFile
	}

	t := &Table{Encoding: name}
	for _, h := range records[0] {
		t.Header = append(t.Header, strings.TrimSpace(h))
	}
	width := len(t.Header)
	for _, rec := range records[1:] {
		width = max(width, len(rec))
	}
	// Cells past the header survive under generated names, so writing the
	// table back never drops data.
	for len(t.Header) < width {
		t.Header = append(t.Header, t.unusedColumnName(len(t.Header)+1))
		t.ExtraColumns++
	}
	for _, rec := range records[1:] {
		row := make([]string, width)
		copy(row, rec)
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func (t *Table) unusedColumnName(pos int) string {
	name := fmt.Sprintf("column_%d", pos)
	for i := 2; t.Column(name) >= 0; i++ {
		name = fmt.Sprintf("column_%d_%d", pos, i)
	}
	return name
}

func decode(raw []byte) ([]byte, string, error) {
	switch {
	case bytes.HasPrefix(raw, utf8BOM):
		return raw[len(utf8BOM):], "utf-8", nil
	case bytes.HasPrefix(raw, []byte{0xFF, 0xFE}), bytes.HasPrefix(raw, []byte{0xFE, 0xFF}):
		out, err := decodeWith(unicode.UTF16(unicode.LittleEndian, unicode.UseBOM), raw)
		return out, "utf-16", err
	case utf8.Valid(raw):
		return raw, "utf-8", nil
	}
	out, err := decodeWith(simplifiedchinese.GB18030, raw)
	return out, "gb18030", err
}

func decodeWith(enc encoding.Encoding, raw []byte) ([]byte, error) {
	out, _, err := transform.Bytes(enc.NewDecoder(), raw)
	return out, err
}

// Column returns the index of the named column, or -1.
func (t *Table) Column(name string) int {
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	return -1
}

// EnsureColumn returns the index of the named column, appending an empty
// column when it does not exist yet.
func (t *Table) EnsureColumn(name string) int {
	if i := t.Column(name); i >= 0 {
		return i
	}
	t.Header = append(t.Header, name)
	for i := range t.Rows {
		t.Rows[i] = append(t.Rows[i], "")
	}
	return len(t.Header) - 1
}

// Cell returns the trimmed value at row and column col, or "" when col is
// negative.
func (t *Table) Cell(row, col int) string {
	if col < 0 || col >= len(t.Rows[row]) {
		return ""
	}
	return strings.TrimSpace(t.Rows[row][col])
}

// Write stores the table as UTF-8 CSV at path, creating parent directories.
func (t *Table) Write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := t.encode(f); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	return f.Close()
}

func (t *Table) encode(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return err
	}
	return cw.Error()
}
