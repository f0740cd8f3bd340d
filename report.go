package main

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/goldfish-inc/oceanid/apps/conll-ingestion-worker/conll"
)

const (
	reportFile       = "tag_report.xlsx"
	tagsSheet        = "Tags"
	splitsSheet      = "Splits"
	defaultSheetName = "Sheet1"
)

// splitResult is everything a job knows about one converted split.
type splitResult struct {
	Group   conll.Group
	Records []conll.Record
	Summary conll.Summary
}

// writeTagReport writes a workbook with one row per registered tag (with
// per-split counts) and one row per split.
func writeTagReport(path string, reg *conll.Registry, splits []splitResult) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(defaultSheetName, tagsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(splitsSheet); err != nil {
		return fmt.Errorf("add sheet: %w", err)
	}

	header := []interface{}{"ID", "Tag", "New"}
	for _, s := range splits {
		header = append(header, s.Group.Name)
	}
	header = append(header, "Total")
	if err := setRow(f, tagsSheet, 1, header); err != nil {
		return err
	}

	discovered := make(map[string]bool)
	for _, s := range splits {
		for _, tag := range s.Summary.NewEntities {
			discovered[tag] = true
		}
	}

	for i, entry := range reg.Snapshot() {
		row := []interface{}{entry.ID, entry.Tag, discovered[entry.Tag]}
		total := 0
		for _, s := range splits {
			n := s.Summary.TagCounts[entry.Tag]
			row = append(row, n)
			total += n
		}
		row = append(row, total)
		if err := setRow(f, tagsSheet, i+2, row); err != nil {
			return err
		}
	}

	if err := setRow(f, splitsSheet, 1, []interface{}{"Split", "File", "Blocks", "Sentences", "Unique tags", "New tags"}); err != nil {
		return err
	}
	for i, s := range splits {
		row := []interface{}{
			s.Group.Name,
			s.Group.FileName(),
			s.Group.BlockCount(),
			s.Summary.SentencesProcessed,
			s.Summary.UniqueTags,
			len(s.Summary.NewEntities),
		}
		if err := setRow(f, splitsSheet, i+2, row); err != nil {
			return err
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}
