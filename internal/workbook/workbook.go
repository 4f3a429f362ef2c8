// Package workbook implements the WorkbookWriter capability (spec.md §4.6):
// rendering one or more processed documents into an .xlsx workbook via
// github.com/xuri/excelize/v2. No file in the retrieval pack exercises
// excelize directly, so sheet layout follows excelize's own idiomatic API
// rather than a ported pattern (see DESIGN.md).
package workbook

import (
	"fmt"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/local/docengine/internal/model"
)

const maxColWidth = 60

// WriteSingle renders one document's Data/Metadata/Summary sheets per
// spec.md §4.6.
func WriteSingle(doc model.Document) (*excelize.File, error) {
	f := excelize.NewFile()
	dataSheet := "Data"
	f.SetSheetName("Sheet1", dataSheet)

	names := sortedFieldNames(doc.ExtractedFields)
	writeHeader(f, dataSheet, []string{"Field", "Value", "Confidence"})
	for i, name := range names {
		row := i + 2
		f.SetCellValue(dataSheet, cell(1, row), name)
		setTypedCell(f, dataSheet, cell(2, row), doc.ExtractedFields[name])
		f.SetCellValue(dataSheet, cell(3, row), doc.ConfidenceScores[name])
	}
	autoSizeColumns(f, dataSheet, 3)

	metaSheet := "Metadata"
	f.NewSheet(metaSheet)
	writeHeader(f, metaSheet, []string{"Key", "Value"})
	meta := [][2]string{
		{"Document ID", fmt.Sprintf("%d", doc.ID)},
		{"Original Filename", doc.OriginalFilename},
		{"Schema", doc.SchemaName},
		{"Page Count", fmt.Sprintf("%d", doc.PageCount)},
		{"Status", string(doc.Status)},
		{"Worker", doc.ProcessingMeta.WorkerID},
		{"Model", doc.ProcessingMeta.ModelName},
		{"Duration (ms)", fmt.Sprintf("%d", doc.ProcessingMeta.DurationMS)},
		{"Created At", doc.CreatedAt.Format(time.RFC3339)},
	}
	for i, kv := range meta {
		row := i + 2
		f.SetCellValue(metaSheet, cell(1, row), kv[0])
		f.SetCellValue(metaSheet, cell(2, row), kv[1])
	}
	autoSizeColumns(f, metaSheet, 2)

	summarySheet := "Summary"
	f.NewSheet(summarySheet)
	writeHeader(f, summarySheet, []string{"Page", "Status"})
	pages := sortedPageNums(doc.ProcessingMeta.PageStatuses)
	for i, p := range pages {
		row := i + 2
		f.SetCellValue(summarySheet, cell(1, row), p)
		f.SetCellValue(summarySheet, cell(2, row), doc.ProcessingMeta.PageStatuses[p])
	}
	autoSizeColumns(f, summarySheet, 2)

	f.SetActiveSheet(0)
	return f, nil
}

// WriteBatch renders one Data_<id> sheet per document plus a Combined
// sheet unioning all fields across documents.
func WriteBatch(docs []model.Document) (*excelize.File, error) {
	f := excelize.NewFile()
	first := true
	for _, doc := range docs {
		sheet := fmt.Sprintf("Data_%d", doc.ID)
		if first {
			f.SetSheetName("Sheet1", sheet)
			first = false
		} else {
			f.NewSheet(sheet)
		}
		names := sortedFieldNames(doc.ExtractedFields)
		writeHeader(f, sheet, []string{"Field", "Value", "Confidence"})
		for i, name := range names {
			row := i + 2
			f.SetCellValue(sheet, cell(1, row), name)
			setTypedCell(f, sheet, cell(2, row), doc.ExtractedFields[name])
			f.SetCellValue(sheet, cell(3, row), doc.ConfidenceScores[name])
		}
		autoSizeColumns(f, sheet, 3)
	}

	combined := "Combined"
	f.NewSheet(combined)
	allFields := unionFieldNames(docs)
	header := append([]string{"Document ID", "Filename"}, allFields...)
	writeHeader(f, combined, header)
	for i, doc := range docs {
		row := i + 2
		f.SetCellValue(combined, cell(1, row), doc.ID)
		f.SetCellValue(combined, cell(2, row), doc.OriginalFilename)
		for j, name := range allFields {
			v, ok := doc.ExtractedFields[name]
			if !ok {
				f.SetCellValue(combined, cell(j+3, row), "")
				continue
			}
			setTypedCell(f, combined, cell(j+3, row), v)
		}
	}
	autoSizeColumns(f, combined, len(header))
	f.SetActiveSheet(0)
	return f, nil
}

// WriteTemplate renders the multi-document aggregation described in
// spec.md §4.5: a Template sheet with the union of fields ordered by
// first-seen ascending, frequency descending, name ascending, and a
// Template Info sheet describing the projection.
func WriteTemplate(docs []model.Document, proj model.TemplateProjection) (*excelize.File, error) {
	f := excelize.NewFile()
	templateSheet := "Template"
	f.SetSheetName("Sheet1", templateSheet)

	header := append([]string{"Document ID", "Filename"}, proj.Columns...)
	writeHeader(f, templateSheet, header)
	for i, doc := range docs {
		row := i + 2
		f.SetCellValue(templateSheet, cell(1, row), doc.ID)
		f.SetCellValue(templateSheet, cell(2, row), doc.OriginalFilename)
		for j, col := range proj.Columns {
			v, ok := doc.ExtractedFields[col]
			if !ok {
				f.SetCellValue(templateSheet, cell(j+3, row), "")
				continue
			}
			setTypedCell(f, templateSheet, cell(j+3, row), v)
		}
	}
	autoSizeColumns(f, templateSheet, len(header))

	infoSheet := "Template Info"
	f.NewSheet(infoSheet)
	writeHeader(f, infoSheet, []string{"Column", "Documents Containing"})
	for i, col := range proj.Columns {
		row := i + 2
		count := 0
		for _, doc := range docs {
			if _, ok := doc.ExtractedFields[col]; ok {
				count++
			}
		}
		f.SetCellValue(infoSheet, cell(1, row), col)
		f.SetCellValue(infoSheet, cell(2, row), count)
	}
	autoSizeColumns(f, infoSheet, 2)

	f.SetActiveSheet(0)
	return f, nil
}

// BuildTemplateProjection implements spec.md §4.5's column-ordering
// algorithm: union of fields across docs, sorted by first-seen document
// order ascending, then by frequency descending, then by name ascending.
func BuildTemplateProjection(docs []model.Document) model.TemplateProjection {
	firstSeen := map[string]int{}
	frequency := map[string]int{}
	order := 0
	for _, doc := range docs {
		for _, name := range sortedFieldNames(doc.ExtractedFields) {
			if _, ok := firstSeen[name]; !ok {
				firstSeen[name] = order
				order++
			}
			frequency[name]++
		}
	}

	columns := make([]string, 0, len(firstSeen))
	for name := range firstSeen {
		columns = append(columns, name)
	}
	sort.Slice(columns, func(i, j int) bool {
		a, b := columns[i], columns[j]
		if firstSeen[a] != firstSeen[b] {
			return firstSeen[a] < firstSeen[b]
		}
		if frequency[a] != frequency[b] {
			return frequency[a] > frequency[b]
		}
		return a < b
	})

	ids := make([]int64, len(docs))
	for i, doc := range docs {
		ids[i] = doc.ID
	}
	return model.TemplateProjection{Columns: columns, DocumentIDs: ids}
}

func sortedFieldNames(fields model.FieldMap) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func unionFieldNames(docs []model.Document) []string {
	seen := map[string]bool{}
	var names []string
	for _, doc := range docs {
		for _, name := range sortedFieldNames(doc.ExtractedFields) {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}

func sortedPageNums(m map[int]string) []int {
	nums := make([]int, 0, len(m))
	for p := range m {
		nums = append(nums, p)
	}
	sort.Ints(nums)
	return nums
}

func writeHeader(f *excelize.File, sheet string, header []string) {
	style, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	for i, h := range header {
		c := cell(i+1, 1)
		f.SetCellValue(sheet, c, h)
		f.SetCellStyle(sheet, c, c, style)
	}
	f.SetPanes(sheet, &excelize.Panes{Freeze: true, Split: false, XSplit: 0, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

// setTypedCell writes a model.Value according to its kind so excelize
// stores it as a native number/bool/date rather than stringifying it.
func setTypedCell(f *excelize.File, sheet, c string, v model.Value) {
	switch v.Kind {
	case model.KindNumber:
		f.SetCellValue(sheet, c, v.Number)
	case model.KindBool:
		f.SetCellValue(sheet, c, v.Bool)
	case model.KindNull:
		f.SetCellValue(sheet, c, "")
	case model.KindDate:
		if t, err := time.Parse("2006-01-02", v.Text); err == nil {
			f.SetCellValue(sheet, c, t)
		} else if t, err := time.Parse(time.RFC3339, v.Text); err == nil {
			f.SetCellValue(sheet, c, t)
		} else {
			f.SetCellValue(sheet, c, v.Text)
		}
	default:
		f.SetCellValue(sheet, c, v.String())
	}
}

func cell(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}

func autoSizeColumns(f *excelize.File, sheet string, numCols int) {
	for i := 1; i <= numCols; i++ {
		colName, _ := excelize.ColumnNumberToName(i)
		width := 10
		rows, _ := f.GetRows(sheet)
		for _, row := range rows {
			if i-1 < len(row) && len(row[i-1]) > width {
				width = len(row[i-1])
			}
		}
		if width > maxColWidth {
			width = maxColWidth
		}
		f.SetColWidth(sheet, colName, colName, float64(width+2))
	}
}
