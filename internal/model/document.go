package model

import "time"

// Status is the Document's closed lifecycle enum.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ProcessingMetadata holds timings, worker identity, per-page statuses and
// the terminal error message, persisted as a JSON blob alongside the row.
type ProcessingMetadata struct {
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	FinishedAt   *time.Time        `json:"finished_at,omitempty"`
	DurationMS   int64             `json:"duration_ms,omitempty"`
	WorkerID     string            `json:"worker_id,omitempty"`
	ModelName    string            `json:"model_name,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	PageStatuses map[int]string    `json:"page_statuses,omitempty"`
	Warnings     []string          `json:"warnings,omitempty"`
}

// Document is the central entity: the persistent record of one uploaded PDF
// and its processing state.
type Document struct {
	ID               int64
	ContentHash      string
	OriginalFilename string
	StoredFilename   string
	ByteLength       int64
	PageCount        int
	Status           Status
	Progress         float64
	AttemptNumber    int64
	CurrentWorker    string
	HeartbeatAt      *time.Time
	ExtractedFields  FieldMap
	ConfidenceScores map[string]float64
	ProcessingMeta   ProcessingMetadata
	BlobRef          string
	SchemaName       string
	Tombstoned       bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Snapshot is the read-facing projection returned by GetStatus/StreamStatus
// and serialized verbatim as the HTTP status-snapshot JSON body.
type Snapshot struct {
	DocumentID       int64              `json:"document_id"`
	Status           Status             `json:"status"`
	Progress         float64            `json:"progress"`
	PageCount        int                `json:"page_count"`
	ExtractedData    FieldMap           `json:"extracted_data,omitempty"`
	ConfidenceScores map[string]float64 `json:"confidence_scores,omitempty"`
	ErrorMessage     string             `json:"error_message,omitempty"`
}

func (d *Document) Snapshot() Snapshot {
	s := Snapshot{
		DocumentID: d.ID,
		Status:     d.Status,
		Progress:   roundTo2(d.Progress),
		PageCount:  d.PageCount,
	}
	if d.Status == StatusCompleted || d.Status == StatusFailed {
		s.ExtractedData = d.ExtractedFields
		s.ConfidenceScores = d.ConfidenceScores
	}
	if d.ProcessingMeta.ErrorMessage != "" {
		s.ErrorMessage = d.ProcessingMeta.ErrorMessage
	}
	return s
}

func roundTo2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}

// PageResult is the transient, per-page extraction outcome; never persisted
// as its own row, only folded into Document.ExtractedFields by the Merge
// stage.
type PageResult struct {
	Index             int
	Status            string // "vision" | "ocr_fallback" | "error"
	ExtractedFragment FieldMap
	Confidence        map[string]float64
	Err               error
}

// ProcessOptions is the Job payload's options: the chosen schema (or Auto)
// and whether the request participates in template-mode aggregation.
type ProcessOptions struct {
	SchemaName   string // "" or "auto" means Auto
	TemplateMode bool
}

func (o ProcessOptions) IsAuto() bool {
	return o.SchemaName == "" || o.SchemaName == "auto" || o.SchemaName == "Auto"
}
