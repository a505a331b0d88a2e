package sheet

import (
	"encoding/csv"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// AgendaRow is one line of the exported day plan.
type AgendaRow struct {
	Time      string
	Block     string
	ProductID string
	Title     string
	Price     string
	Link      string
	ImageURL  string
	Valid     bool
	Reason    string
	Message   string
}

// AgendaHeader is the column order of agenda exports.
var AgendaHeader = []string{"time", "block", "product_id", "title", "price", "link", "image_url", "valid", "reason", "message"}

func (r AgendaRow) cells() []string {
	return []string{r.Time, r.Block, r.ProductID, r.Title, r.Price, r.Link, r.ImageURL, strconv.FormatBool(r.Valid), r.Reason, r.Message}
}

// WriteAgendaXLSX writes the agenda to an XLSX file with one sheet.
func WriteAgendaXLSX(path string, rows []AgendaRow) error {
	f := xlsx.NewFile()
	sh, err := f.AddSheet("agenda")
	if err != nil {
		return eris.Wrap(err, "sheet: add agenda sheet")
	}
	addRow(sh, AgendaHeader)
	for _, r := range rows {
		addRow(sh, r.cells())
	}
	return eris.Wrapf(f.Save(path), "sheet: save %s", path)
}

func addRow(sh *xlsx.Sheet, values []string) {
	row := sh.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

// WriteAgendaCSV writes the agenda as CSV.
func WriteAgendaCSV(path string, rows []AgendaRow) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "sheet: create %s", path)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(AgendaHeader); err != nil {
		return eris.Wrap(err, "sheet: write header")
	}
	for _, r := range rows {
		if err := w.Write(r.cells()); err != nil {
			return eris.Wrap(err, "sheet: write row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrap(err, "sheet: flush")
	}
	return eris.Wrap(f.Close(), "sheet: close")
}
