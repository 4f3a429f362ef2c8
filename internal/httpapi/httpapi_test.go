package httpapi

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/docengine/internal/errs"
	"github.com/local/docengine/internal/model"
)

func TestHandleHealth(t *testing.T) {
	api := New(nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	api.handleHealth(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestUploadRejectsNonPOST(t *testing.T) {
	api := New(nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/upload", nil)
	rec := httptest.NewRecorder()

	api.handleUpload(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleProcessRejectsInvalidDocumentID(t *testing.T) {
	api := New(nil)
	req := httptest.NewRequest(http.MethodPost, apiPrefix+"/documents/process/not-a-number", nil)
	rec := httptest.NewRecorder()

	api.handleProcess(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWriteErrorMapsTypedErrorToItsHTTPStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, errs.New(errs.UnknownSchema, "no such schema"))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "UnknownSchema")
}

func TestWriteErrorMapsUntypedErrorTo500(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, errors.New("boom"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal error")
}

func TestPathInt(t *testing.T) {
	id, err := pathInt(apiPrefix+"/documents/process/42", apiPrefix+"/documents/process/")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	_, err = pathInt(apiPrefix+"/documents/process/abc", apiPrefix+"/documents/process/")
	assert.Error(t, err)
}

func TestAtoiDefault(t *testing.T) {
	assert.Equal(t, 20, atoiDefault("", 20))
	assert.Equal(t, 5, atoiDefault("5", 20))
	assert.Equal(t, 20, atoiDefault("not-a-number", 20))
}

func TestParseIDList(t *testing.T) {
	ids, err := parseIDList("1, 2,3")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids)

	_, err = parseIDList("")
	assert.Error(t, err)

	_, err = parseIDList("1,x")
	assert.Error(t, err)
}

func TestDocumentJSONProjectsExpectedFields(t *testing.T) {
	now := time.Now()
	doc := &model.Document{
		ID:               1,
		Status:           model.StatusCompleted,
		OriginalFilename: "invoice.pdf",
		PageCount:        3,
		SchemaName:       "invoice",
		CreatedAt:        now,
	}

	out := documentJSON(doc)
	assert.Equal(t, int64(1), out["id"])
	assert.Equal(t, model.StatusCompleted, out["status"])
	assert.Equal(t, "invoice.pdf", out["original_filename"])
	assert.Equal(t, 3, out["page_count"])
	assert.Equal(t, "invoice", out["schema"])
}
