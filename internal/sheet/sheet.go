// Package sheet reads offer spreadsheets (CSV or XLSX) and writes the daily
// agenda.
package sheet

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/TobiSchelling/offerpilot/internal/offer"
)

// ReadRecords loads a CSV or XLSX file. The first row is the header.
func ReadRecords(path string) ([]offer.Record, error) {
	rows, err := ReadRows(path)
	if err != nil {
		return nil, err
	}
	return toRecords(rows), nil
}

// ReadRows loads every row of a CSV file or of the first XLSX sheet.
func ReadRows(path string) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return readXLSX(path)
	case ".csv", ".txt", "":
		return readCSV(path)
	}
	return nil, eris.Errorf("sheet: unsupported file type %s", path)
}

func readXLSX(path string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "sheet: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("sheet: %s has no sheets", path)
	}

	var rows [][]string
	for _, row := range f.Sheets[0].Rows {
		if row == nil {
			continue
		}
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

func readCSV(path string) ([][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "sheet: read csv")
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = sniffDelimiter(data)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "sheet: parse %s", path)
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

// sniffDelimiter picks ';' when the header has more semicolons than commas.
func sniffDelimiter(data []byte) rune {
	header := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		header = data[:i]
	}
	if bytes.Count(header, []byte(";")) > bytes.Count(header, []byte(",")) {
		return ';'
	}
	return ','
}

func toRecords(rows [][]string) []offer.Record {
	if len(rows) == 0 {
		return nil
	}
	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.TrimSpace(h)
	}

	var out []offer.Record
	for _, row := range rows[1:] {
		rec := make(offer.Record, len(header))
		empty := true
		for i, h := range header {
			if h == "" || i >= len(row) {
				continue
			}
			v := strings.TrimSpace(row[i])
			if v != "" {
				empty = false
			}
			if _, dup := rec[h]; !dup {
				rec[h] = v
			}
		}
		if !empty {
			out = append(out, rec)
		}
	}
	return out
}

// FileSource is a collect source over local spreadsheet files.
type FileSource struct {
	Paths []string
}

func (s FileSource) Name() string { return "files" }

// Fetch reads every file. Any unreadable file fails the source.
func (s FileSource) Fetch(ctx context.Context) ([]offer.Record, error) {
	var all []offer.Record
	for _, p := range s.Paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		records, err := ReadRecords(p)
		if err != nil {
			return nil, err
		}
		all = append(all, records...)
	}
	return all, nil
}
