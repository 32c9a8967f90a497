package batch

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// InputColumns are the accepted key columns, in order of preference.
var InputColumns = []string{"domain", "company_domain", "email", "website"}

// ReadInputs reads subject keys from the first recognised column of a CSV.
// Header matching is case-insensitive; extra columns are ignored.
func ReadInputs(r io.Reader) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := columnIndex(header)
	if idx < 0 {
		return nil, fmt.Errorf("missing key column, want one of %q", InputColumns)
	}

	var keys []string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return keys, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if idx >= len(rec) {
			return nil, fmt.Errorf("row has %d columns, want at least %d", len(rec), idx+1)
		}
		keys = append(keys, rec[idx])
	}
}

func columnIndex(header []string) int {
	for _, want := range InputColumns {
		for i, col := range header {
			if strings.EqualFold(strings.TrimSpace(col), want) {
				return i
			}
		}
	}
	return -1
}

// Writer streams rows as CSV with the stable Header() ordering.
type Writer struct {
	cw *csv.Writer
}

// NewWriter writes and flushes the header, so an input with no rows still
// yields a header-only file.
func NewWriter(w io.Writer) (*Writer, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header()); err != nil {
		return nil, err
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, err
	}
	return &Writer{cw: cw}, nil
}

func (w *Writer) Write(r Row) error {
	if err := w.cw.Write(r.values()); err != nil {
		return err
	}
	w.cw.Flush()
	return w.cw.Error()
}
