package report

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"
)

const (
	entriesSheet = "Sheet1"
	summarySheet = "Summary"
)

// WriteXLSX writes a spreadsheet with one row per entry on the first sheet
// and the summary on a second sheet.
//
// Arguments:
//   - path: The .xlsx file to create.
//   - entries: The evaluated images.
//   - classes: Class names heading the per-class columns. May be nil or
//     shorter than the per-class scores; unnamed columns are headed "class N".
//
// Returns:
//   - An error if the workbook cannot be built or saved.
func WriteXLSX(path string, entries []Entry, classes []string) error {
	f := excelize.NewFile()
	defer f.Close()

	columns := 0
	for _, e := range entries {
		columns = max(columns, len(e.PerClass))
	}

	header := []interface{}{"Image", "Kind", "IoU", "Foreground accuracy", "Dice", "Jaccard loss"}
	for c := 0; c < columns; c++ {
		header = append(header, "IoU "+className(classes, c))
	}
	header = append(header, "Error")
	if err := setRow(f, entriesSheet, 1, header); err != nil {
		return err
	}

	for i, e := range entries {
		row := []interface{}{e.Image, e.Kind, e.IoU, e.ForegroundAccuracy, e.Dice, e.Loss}
		for c := 0; c < columns; c++ {
			if c < len(e.PerClass) {
				row = append(row, e.PerClass[c])
			} else {
				row = append(row, "")
			}
		}
		row = append(row, e.Err)
		if err := setRow(f, entriesSheet, i+2, row); err != nil {
			return err
		}
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return errors.Wrap(err, "create summary sheet")
	}
	s := Summarize(entries)
	rows := [][]interface{}{
		{"Images", s.Count},
		{"Failed", s.Failed},
		{"Mean IoU", s.MeanIoU},
		{"Std IoU", s.StdIoU},
		{"Min IoU", s.MinIoU},
		{"Max IoU", s.MaxIoU},
		{"Median IoU", s.MedianIoU},
		{"Mean foreground accuracy", s.MeanAccuracy},
		{"Mean dice", s.MeanDice},
	}
	for c, v := range MeanPerClass(entries) {
		rows = append(rows, []interface{}{"Mean IoU " + className(classes, c), v})
	}
	for i, row := range rows {
		if err := setRow(f, summarySheet, i+1, row); err != nil {
			return err
		}
	}

	return errors.Wrapf(f.SaveAs(path), "save %s", path)
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return errors.Wrap(err, "cell name")
	}
	return errors.Wrapf(f.SetSheetRow(sheet, cell, &values), "write %s row %d", sheet, row)
}

func className(classes []string, c int) string {
	if c < len(classes) {
		return classes[c]
	}
	return fmt.Sprintf("class %d", c)
}
