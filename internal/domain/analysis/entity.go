package analysis

import (
	"time"
)

// JobID tipe untuk AnalysisJob
type JobID string

// Status enum
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Statuses lists every job status in lifecycle order.
var Statuses = []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}

// Active reports whether the status still holds the fingerprint's single-flight slot.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusProcessing
}

// Label enum hasil deteksi
type Label string

const (
	LabelReal        Label = "REAL"
	LabelAIGenerated Label = "AI_GENERATED"
	LabelUncertain   Label = "UNCERTAIN"
)

// Labels lists every detection label.
var Labels = []Label{LabelReal, LabelAIGenerated, LabelUncertain}

// ContentMeta describes the uploaded bytes, captured at admission.
type ContentMeta struct {
	FileName      string `json:"file_name,omitempty"`
	FileSize      int64  `json:"file_size"`
	MimeType      string `json:"mime_type,omitempty"`
	Width         int    `json:"width,omitempty"`
	Height        int    `json:"height,omitempty"`
	StagingHandle string `json:"staging_handle,omitempty"`
}

// Job is one admitted unit of work. Fields are only mutated through the
// transition functions in transition.go.
type Job struct {
	ID           JobID       `json:"id"`
	Fingerprint  Fingerprint `json:"fingerprint"`
	RequestorID  string      `json:"requestor_id"`
	Status       Status      `json:"status"`
	Priority     int         `json:"priority"`
	RetryCount   int         `json:"retry_count"`
	MaxRetries   int         `json:"max_retries"`
	Meta         ContentMeta `json:"meta"`
	ErrorMessage string      `json:"error_message,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
}

// Terminal reports whether no further transition is reachable under the retry policy.
func (j *Job) Terminal() bool {
	if j.Status == StatusCompleted {
		return true
	}
	return j.Status == StatusFailed && j.RetryCount >= j.MaxRetries
}

// Result is the write-once outcome for a fingerprint.
type Result struct {
	Fingerprint      Fingerprint        `json:"fingerprint"`
	RequestorID      string             `json:"requestor_id,omitempty"`
	Label            Label              `json:"label"`
	Confidence       float64            `json:"confidence"`
	Scores           map[string]float64 `json:"scores"`
	ProcessingTimeMS int64              `json:"processing_time_ms"`
	ModelVersion     string             `json:"model_version"`
	Narrative        string             `json:"narrative"`
	Meta             ContentMeta        `json:"meta"`
	CreatedAt        time.Time          `json:"created_at"`
}

// Stats rollup untuk dashboard
type Stats struct {
	TotalAnalyses     int64            `json:"total_analyses"`
	PerLabel          map[Label]int64  `json:"per_label_counts"`
	PerStatus         map[Status]int64 `json:"per_status_counts"`
	PendingJobs       int64            `json:"pending_jobs"`
	ProcessingJobs    int64            `json:"processing_jobs"`
	CompletedJobs     int64            `json:"completed_jobs"`
	FailedJobs        int64            `json:"failed_jobs"`
	AverageConfidence float64          `json:"average_confidence"`
	AverageLatencyMS  float64          `json:"average_latency_ms"`
}

// PageRequest is a classic page/pageSize pair.
type PageRequest struct {
	Page     int
	PageSize int
}

// Normalize applies defaults and returns the SQL offset.
func (p PageRequest) Normalize() (PageRequest, int) {
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = 20
	}
	if p.PageSize > 100 {
		p.PageSize = 100
	}
	return p, (p.Page - 1) * p.PageSize
}
