// Package excel reads account import spreadsheets and writes the blank
// template operators fill in.
package excel

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/netresearch/ipa-admin-portal/internal/bulk"
)

// ContentType is the media type of .xlsx files.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// TemplateFilename is the download name of the template.
const TemplateFilename = "freeipa_users_template.xlsx"

// Column order of the import layout.
const (
	colFullName = iota
	colEmail
	colPhone
	colTitle
	colGroups
)

var header = []any{"Full name", "Email", "Phone", "Title", "Groups"}

var exampleRow = []any{"Ivanov Ivan Ivanovich", "ivan.ivanov@example.com", "+7 900 000-00-00", "Engineer", "developers, vpn-users"}

// ParseRows reads the active sheet of an .xlsx workbook. Row 1 is a header
// and rows whose first cell is blank are skipped. Row numbers in the result
// are 1-based sheet rows. The second return value counts every data row,
// skipped ones included.
func ParseRows(r io.Reader) ([]bulk.ImportRow, int, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, 0, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	if sheet == "" {
		return nil, 0, fmt.Errorf("workbook has no sheets")
	}

	raw, err := f.GetRows(sheet)
	if err != nil {
		return nil, 0, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if len(raw) <= 1 {
		return []bulk.ImportRow{}, 0, nil
	}

	rows := make([]bulk.ImportRow, 0, len(raw)-1)
	for i, cells := range raw[1:] {
		if cell(cells, colFullName) == "" {
			continue
		}
		rows = append(rows, bulk.ImportRow{
			Row:      i + 2,
			FullName: cell(cells, colFullName),
			Email:    cell(cells, colEmail),
			Phone:    cell(cells, colPhone),
			Title:    cell(cells, colTitle),
			Groups:   ParseGroups(cell(cells, colGroups)),
		})
	}
	return rows, len(raw) - 1, nil
}

func cell(cells []string, i int) string {
	if i >= len(cells) {
		return ""
	}
	return strings.TrimSpace(cells[i])
}

// ParseGroups splits a comma-separated group list, trimming names and
// dropping empty entries.
func ParseGroups(s string) []string {
	var groups []string
	for _, g := range strings.Split(s, ",") {
		if g = strings.TrimSpace(g); g != "" {
			groups = append(groups, g)
		}
	}
	return groups
}

// WriteTemplate writes a workbook with the header row and one example row.
func WriteTemplate(w io.Writer) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	const sheet = "Users"
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := f.SetSheetRow(sheet, "A2", &exampleRow); err != nil {
		return fmt.Errorf("write example row: %w", err)
	}

	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}
	if err := f.SetCellStyle(sheet, "A1", "E1", style); err != nil {
		return fmt.Errorf("style header: %w", err)
	}
	if err := f.SetColWidth(sheet, "A", "E", 28); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
