// Package httpapi is the thin HTTP adapter mapping the Controller facade
// onto the endpoint table in spec.md §6. Grounded on the source's
// internal/orchestrator/orchestrator.go RegisterRoutes/handle* style: a
// plain net/http.ServeMux with manual path-suffix trimming for path
// parameters, rather than a router library the source itself never
// imports directly.
package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/local/docengine/internal/controller"
	"github.com/local/docengine/internal/errs"
	"github.com/local/docengine/internal/metadatastore"
	"github.com/local/docengine/internal/model"
)

const apiPrefix = "/api/v1"

type API struct {
	ctl *controller.Controller
}

func New(ctl *controller.Controller) *API {
	return &API{ctl: ctl}
}

func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", a.handleHealth)
	mux.HandleFunc(apiPrefix+"/documents/upload", a.handleUpload)
	mux.HandleFunc(apiPrefix+"/documents/batch/process", a.handleBatchProcess)
	mux.HandleFunc(apiPrefix+"/documents/batch/download/excel", a.handleDownloadBatch)
	mux.HandleFunc(apiPrefix+"/documents/template/download/excel", a.handleDownloadTemplate)
	mux.HandleFunc(apiPrefix+"/documents/process/", a.handleProcess)
	mux.HandleFunc(apiPrefix+"/documents/", a.handleDocumentPath)
	mux.HandleFunc(apiPrefix+"/schemas/detect", a.handleDetectSchema)
	mux.HandleFunc(apiPrefix+"/schemas/", a.handleSchemaPath)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleUpload implements POST /documents/upload.
func (a *API) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, errs.New(errs.InvalidFile, "invalid multipart form"))
		return
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, errs.New(errs.InvalidFile, "missing file field"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, errs.Wrap(errs.InvalidFile, "read upload", err))
		return
	}
	doc, err := a.ctl.Upload(r.Context(), data, hdr.Filename)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, documentJSON(doc))
}

type processReq struct {
	Schema       *string `json:"schema"`
	TemplateMode bool    `json:"template_mode"`
}

// handleProcess implements POST /documents/process/{id}.
func (a *API) handleProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id, err := pathInt(r.URL.Path, apiPrefix+"/documents/process/")
	if err != nil {
		writeError(w, errs.New(errs.InvalidFile, "invalid document id"))
		return
	}
	var body processReq
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body) // empty body is a valid {}
	}
	opts := model.ProcessOptions{TemplateMode: body.TemplateMode}
	if body.Schema != nil {
		opts.SchemaName = *body.Schema
	}
	status, err := a.ctl.StartProcessing(r.Context(), id, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, status)
}

type batchProcessReq struct {
	DocumentIDs []int64 `json:"document_ids"`
	Schema      *string `json:"schema"`
}

// handleBatchProcess implements POST /documents/batch/process.
func (a *API) handleBatchProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body batchProcessReq
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errs.New(errs.InvalidFile, "malformed request body"))
		return
	}
	opts := model.ProcessOptions{TemplateMode: true}
	if body.Schema != nil {
		opts.SchemaName = *body.Schema
	}
	results := make([]controller.AcceptedStatus, 0, len(body.DocumentIDs))
	for _, id := range body.DocumentIDs {
		status, err := a.ctl.StartProcessing(r.Context(), id, opts)
		if err != nil {
			log.Warn().Err(err).Int64("document_id", id).Msg("batch process: start failed")
			continue
		}
		results = append(results, status)
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"jobs": results})
}

// handleDocumentPath dispatches /documents/ and /documents/{id}[/...] GET/DELETE
// requests that don't have their own registered prefix.
func (a *API) handleDocumentPath(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, apiPrefix+"/documents/")

	if rest == "" {
		a.handleList(w, r)
		return
	}

	switch {
	case strings.HasSuffix(rest, "/status"):
		a.handleStatus(w, r, strings.TrimSuffix(rest, "/status"))
	case strings.HasSuffix(rest, "/stream"):
		a.handleStream(w, r, strings.TrimSuffix(rest, "/stream"))
	case strings.HasSuffix(rest, "/download/excel"):
		a.handleDownloadSingle(w, r, strings.TrimSuffix(rest, "/download/excel"))
	default:
		a.handleDocumentByID(w, r, rest)
	}
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	f := metadatastore.ListFilter{
		Skip:  atoiDefault(q.Get("skip"), 0),
		Limit: atoiDefault(q.Get("limit"), 20),
	}
	if s := q.Get("status"); s != "" {
		st := model.Status(s)
		f.Status = &st
	}
	docs, err := a.ctl.List(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]map[string]any, len(docs))
	for i, d := range docs {
		out[i] = documentJSON(d)
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleDocumentByID(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, errs.New(errs.InvalidFile, "invalid document id"))
		return
	}
	switch r.Method {
	case http.MethodDelete:
		if err := a.ctl.Delete(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request, idStr string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, errs.New(errs.InvalidFile, "invalid document id"))
		return
	}
	snap, err := a.ctl.GetStatus(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleStream implements GET /documents/{id}/stream as text/event-stream,
// emitting one `data:` line per snapshot until a terminal status or the
// client disconnects, per spec.md §4.1's StreamStatus contract.
func (a *API) handleStream(w http.ResponseWriter, r *http.Request, idStr string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, errs.New(errs.InvalidFile, "invalid document id"))
		return
	}
	snapshots, cancel, err := a.ctl.StreamStatus(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	defer cancel()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, fmt.Errorf("httpapi: streaming unsupported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for snap := range snapshots {
		b, err := json.Marshal(snap)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", b)
		flusher.Flush()
	}
}

func (a *API) handleDownloadSingle(w http.ResponseWriter, r *http.Request, idStr string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, errs.New(errs.InvalidFile, "invalid document id"))
		return
	}
	b, err := a.ctl.DownloadSingle(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeXLSX(w, fmt.Sprintf("document_%d.xlsx", id), b)
}

func (a *API) handleDownloadBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ids, err := parseIDList(r.URL.Query().Get("document_ids"))
	if err != nil {
		writeError(w, err)
		return
	}
	b, err := a.ctl.DownloadBatch(r.Context(), ids)
	if err != nil {
		writeError(w, err)
		return
	}
	writeXLSX(w, "documents_batch.xlsx", b)
}

func (a *API) handleDownloadTemplate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ids, err := parseIDList(r.URL.Query().Get("document_ids"))
	if err != nil {
		writeError(w, err)
		return
	}
	b, err := a.ctl.DownloadTemplate(r.Context(), ids)
	if err != nil {
		writeError(w, err)
		return
	}
	writeXLSX(w, "documents_template.xlsx", b)
}

// handleSchemaPath dispatches GET /schemas/ and GET /schemas/{name}.
func (a *API) handleSchemaPath(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, apiPrefix+"/schemas/")
	if name == "" {
		writeJSON(w, http.StatusOK, a.ctl.ListSchemas())
		return
	}
	schema, err := a.ctl.GetSchema(name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

type detectSchemaReq struct {
	SampleImageBase64 string  `json:"sample_image_base64"`
	Description       *string `json:"description"`
}

func (a *API) handleDetectSchema(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body detectSchemaReq
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errs.New(errs.InvalidFile, "malformed request body"))
		return
	}
	sample, err := base64.StdEncoding.DecodeString(body.SampleImageBase64)
	if err != nil {
		writeError(w, errs.New(errs.InvalidFile, "sample_image_base64 is not valid base64"))
		return
	}
	result, err := a.ctl.DetectSchema(r.Context(), sample)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func documentJSON(doc *model.Document) map[string]any {
	return map[string]any{
		"id":                doc.ID,
		"status":            doc.Status,
		"original_filename": doc.OriginalFilename,
		"page_count":        doc.PageCount,
		"schema":            doc.SchemaName,
		"created_at":        doc.CreatedAt,
	}
}

func pathInt(path, prefix string) (int64, error) {
	return strconv.ParseInt(strings.TrimPrefix(path, prefix), 10, 64)
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func parseIDList(raw string) ([]int64, error) {
	if raw == "" {
		return nil, errs.New(errs.InvalidFile, "document_ids is required")
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, errs.New(errs.InvalidFile, fmt.Sprintf("invalid document id %q", p))
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeXLSX(w http.ResponseWriter, filename string, data []byte) {
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// writeError maps a typed errs.Error onto the status-code table in spec.md
// §6; unclassified errors surface as 5xx per the Controller's propagation
// policy.
func writeError(w http.ResponseWriter, err error) {
	if e, ok := err.(*errs.Error); ok {
		writeJSON(w, e.Kind.HTTPStatus(), map[string]string{"error": e.Message, "kind": string(e.Kind)})
		return
	}
	log.Error().Err(err).Msg("unclassified error surfaced to http layer")
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}
