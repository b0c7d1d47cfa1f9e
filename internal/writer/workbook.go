package writer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/p-n-ai/pai-curriculum/internal/curriculum"
)

const (
	curriculumSheet = "Curriculum"
	modulesSheet    = "Modules"
)

var curriculumHeader = []any{
	"Position", "ID", "Kind", "Module", "Title", "Complexity", "Tags", "Prerequisites", "Related", "Parent", "Placeholder",
}

var modulesHeader = []any{"Module ID", "Module", "First position", "Items"}

type moduleRow struct {
	id    string
	name  string
	first int
	items int
}

// WriteWorkbook writes a review workbook with one row per curriculum item
// and one row per module. The file is replaced atomically.
func WriteWorkbook(path string, items []curriculum.CurriculumItem) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", curriculumSheet); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}
	if _, err := f.NewSheet(modulesSheet); err != nil {
		return fmt.Errorf("adding sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("creating style: %w", err)
	}

	var modules []*moduleRow
	byModule := make(map[string]*moduleRow)

	if err := writeRow(f, curriculumSheet, 1, curriculumHeader); err != nil {
		return err
	}
	for i, it := range items {
		row := []any{
			it.Position,
			it.ID,
			string(it.Kind),
			it.ModuleName,
			it.Title,
			it.Complexity,
			strings.Join(it.Tags, ", "),
			strings.Join(it.Prerequisites, ", "),
			yesNo(it.IsRelatedItem),
			it.ParentID,
			yesNo(it.Placeholder),
		}
		if err := writeRow(f, curriculumSheet, i+2, row); err != nil {
			return err
		}

		m, ok := byModule[it.ModuleID]
		if !ok {
			m = &moduleRow{id: it.ModuleID, name: it.ModuleName, first: it.Position}
			byModule[it.ModuleID] = m
			modules = append(modules, m)
		}
		m.items++
	}

	if err := writeRow(f, modulesSheet, 1, modulesHeader); err != nil {
		return err
	}
	for i, m := range modules {
		if err := writeRow(f, modulesSheet, i+2, []any{m.id, m.name, m.first, m.items}); err != nil {
			return err
		}
	}

	for _, sheet := range []string{curriculumSheet, modulesSheet} {
		if err := f.SetRowStyle(sheet, 1, 1, bold); err != nil {
			return fmt.Errorf("styling %s header: %w", sheet, err)
		}
		if err := f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
			return fmt.Errorf("freezing %s header: %w", sheet, err)
		}
	}
	if err := f.SetColWidth(curriculumSheet, "B", "B", 28); err != nil {
		return err
	}
	if err := f.SetColWidth(curriculumSheet, "E", "E", 48); err != nil {
		return err
	}

	return save(f, path)
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("writing %s row %d: %w", sheet, row, err)
	}
	return nil
}

func save(f *excelize.File, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create workbook dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp workbook: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := f.WriteTo(tmp); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write workbook: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close workbook: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace workbook: %w", err)
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return ""
}
