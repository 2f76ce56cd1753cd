package export

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/pithecene-io/prospect/types"
)

const xlsxSheet = "Stores"

// renderXLSX writes the tabular snapshot as a spreadsheet, sanitized
// the same way the CSV export is.
func renderXLSX(stores []types.Store) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	idx, err := f.NewSheet(xlsxSheet)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, err
	}

	fields := Fieldnames(stores)
	if err := writeXLSXRow(f, 1, toAny(fields)); err != nil {
		return nil, err
	}
	for i := range stores {
		clean := stores[i].Clone()
		clean.Sanitize()
		if err := writeXLSXRow(f, i+2, toAny(row(clean, fields))); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

func writeXLSXRow(f *excelize.File, rowNum int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return err
	}
	return f.SetSheetRow(xlsxSheet, cell, &values)
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
