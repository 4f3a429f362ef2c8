package workbook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/docengine/internal/model"
)

func TestBuildTemplateProjectionOrdersByFirstSeenThenFrequency(t *testing.T) {
	docs := []model.Document{
		{ID: 1, ExtractedFields: model.FieldMap{"vendor": model.Text("Acme"), "total": model.Number(10)}},
		{ID: 2, ExtractedFields: model.FieldMap{"total": model.Number(20), "tax": model.Number(1)}},
		{ID: 3, ExtractedFields: model.FieldMap{"total": model.Number(30), "tax": model.Number(2), "vendor": model.Text("Globex")}},
	}

	proj := BuildTemplateProjection(docs)

	// Each field's first-seen order is distinct (total in doc 1, vendor in
	// doc 1 right after it, tax in doc 2), so ordering is fully decided by
	// first-seen position; frequency only breaks ties within the same
	// first-seen slot.
	assert.Equal(t, []string{"total", "vendor", "tax"}, proj.Columns)
	assert.Equal(t, []int64{1, 2, 3}, proj.DocumentIDs)
}

func TestBuildTemplateProjectionEmptyDocs(t *testing.T) {
	proj := BuildTemplateProjection(nil)
	assert.Empty(t, proj.Columns)
	assert.Empty(t, proj.DocumentIDs)
}

func TestWriteSingleProducesDataMetadataSummarySheets(t *testing.T) {
	doc := model.Document{
		ID:               1,
		OriginalFilename: "invoice.pdf",
		SchemaName:       "invoice",
		PageCount:        2,
		Status:           model.StatusCompleted,
		ExtractedFields:  model.FieldMap{"total": model.Number(99.5), "vendor_name": model.Text("Acme")},
		ConfidenceScores: map[string]float64{"total": 0.95, "vendor_name": 0.8},
		ProcessingMeta: model.ProcessingMetadata{
			PageStatuses: map[int]string{1: "vision", 2: "ocr_fallback"},
		},
	}

	f, err := WriteSingle(doc)
	require.NoError(t, err)
	defer f.Close()

	sheets := f.GetSheetList()
	assert.ElementsMatch(t, []string{"Data", "Metadata", "Summary"}, sheets)

	// fields are alphabetical: total, vendor_name
	v1, _ := f.GetCellValue("Data", "A2")
	v2, _ := f.GetCellValue("Data", "A3")
	assert.Equal(t, "total", v1)
	assert.Equal(t, "vendor_name", v2)

	p1, _ := f.GetCellValue("Summary", "B2")
	p2, _ := f.GetCellValue("Summary", "B3")
	assert.Equal(t, "vision", p1)
	assert.Equal(t, "ocr_fallback", p2)
}

func TestWriteBatchProducesPerDocSheetsAndCombined(t *testing.T) {
	docs := []model.Document{
		{ID: 1, OriginalFilename: "a.pdf", ExtractedFields: model.FieldMap{"total": model.Number(1)}},
		{ID: 2, OriginalFilename: "b.pdf", ExtractedFields: model.FieldMap{"vendor": model.Text("X")}},
	}

	f, err := WriteBatch(docs)
	require.NoError(t, err)
	defer f.Close()

	sheets := f.GetSheetList()
	assert.ElementsMatch(t, []string{"Data_1", "Data_2", "Combined"}, sheets)

	header, err := f.GetRows("Combined")
	require.NoError(t, err)
	assert.Equal(t, []string{"Document ID", "Filename", "total", "vendor"}, header[0])
}

func TestWriteTemplateUsesProjectionColumnOrder(t *testing.T) {
	docs := []model.Document{
		{ID: 1, OriginalFilename: "a.pdf", ExtractedFields: model.FieldMap{"total": model.Number(1), "vendor": model.Text("X")}},
		{ID: 2, OriginalFilename: "b.pdf", ExtractedFields: model.FieldMap{"total": model.Number(2)}},
	}
	proj := BuildTemplateProjection(docs)

	f, err := WriteTemplate(docs, proj)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Template")
	require.NoError(t, err)
	assert.Equal(t, append([]string{"Document ID", "Filename"}, proj.Columns...), rows[0])

	infoRows, err := f.GetRows("Template Info")
	require.NoError(t, err)
	require.Len(t, infoRows, len(proj.Columns)+1)
}
