package partition

import (
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// dateLayouts are the spreadsheet display formats normalized to the
// canonical 2006-01-02 form.
var dateLayouts = []string{
	"01-02-06",
	"1/2/06 15:04",
	"01/02/2006",
	"1/2/2006",
	"2006-01-02",
	"2-Jan-06",
	"02-Jan-2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2006/01/02",
}

// FromXLSX reads a spreadsheet partition source. Every named tab
// contributes rows; the first row of each tab is its header. Date cells are
// normalized to 2006-01-02; duplicate headers are disambiguated by
// suffixing an ascending index.
func FromXLSX(path string) (*Store, error) {
	wb, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer wb.Close()

	store := &Store{}
	for _, sheet := range wb.GetSheetList() {
		rows, err := wb.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		if len(rows) < 2 {
			continue
		}

		headers := dedupeHeaders(rows[0])
		for _, row := range rows[1:] {
			if isEmptyRow(row) {
				continue
			}
			cells := make([]string, len(row))
			for i, cell := range row {
				cells[i] = normalizeCell(cell)
			}
			store.parts = append(store.parts, rowPartition(headers, cells))
		}
	}
	return store, nil
}

// normalizeCell canonicalizes a decoded cell: date-like display strings
// become 2006-01-02, everything else is trimmed and kept verbatim.
func normalizeCell(cell string) string {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return cell
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, cell); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return cell
}
