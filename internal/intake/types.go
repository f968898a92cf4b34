// Package intake defines the domain model for the file intake and
// analysis coordination layer: uploaded file records, analysis jobs,
// analysis results and the cache entries that tie identical content
// back to prior results.
package intake

import (
	"time"

	"github.com/google/uuid"
)

// FileRecord is the durable catalog entry for an uploaded file. The
// bytes themselves live in the object store; the record only tracks
// location, content hash and lifecycle status. Records are never hard
// deleted by this layer, archival is a status transition.
type FileRecord struct {
	ID               uuid.UUID      `json:"id"`
	OriginalFilename string         `json:"original_filename"`
	StorageKey       string         `json:"storage_key"`
	StorageBucket    string         `json:"storage_bucket"`
	FileSizeBytes    *int64         `json:"file_size_bytes,omitempty"`
	MIMEType         *string        `json:"mime_type,omitempty"`
	ContentHash      *string        `json:"file_hash,omitempty"`
	UploadedBy       *string        `json:"uploaded_by,omitempty"`
	SourceDevice     *string        `json:"source_device,omitempty"`
	Status           FileStatus     `json:"status"`
	InvestmentID     *uuid.UUID     `json:"investment_id,omitempty"`
	DocumentID       *uuid.UUID     `json:"document_id,omitempty"`
	Tags             []string       `json:"tags,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	ProcessedAt      *time.Time     `json:"processed_at,omitempty"`
}

// Job is one unit of analysis work referencing a FileRecord. Lower
// Priority dispatches first; within a priority band jobs run in
// creation order. NotBefore defers dispatch until the given time.
type Job struct {
	ID           uuid.UUID      `json:"id"`
	JobType      JobType        `json:"job_type"`
	Status       JobStatus      `json:"status"`
	Priority     int            `json:"priority"`
	FileID       uuid.UUID      `json:"file_id"`
	InvestmentID *uuid.UUID     `json:"investment_id,omitempty"`
	WorkerID     *string        `json:"worker_id,omitempty"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	RetryCount   int            `json:"retry_count"`
	MaxRetries   int            `json:"max_retries"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	ResultID     *uuid.UUID     `json:"result_id,omitempty"`
	ErrorMessage *string        `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	NotBefore    *time.Time     `json:"scheduled_at,omitempty"`
}

// AnalysisResult is the immutable output of one completed analysis
// attempt. A result may exist without an originating job (direct
// insert) but is always tied to a file.
type AnalysisResult struct {
	ID                uuid.UUID      `json:"id"`
	JobID             *uuid.UUID     `json:"job_id,omitempty"`
	FileID            uuid.UUID      `json:"file_id"`
	InvestmentID      *uuid.UUID     `json:"investment_id,omitempty"`
	AnalysisType      string         `json:"analysis_type"`
	Provider          string         `json:"provider"`
	ModelVersion      *string        `json:"model_version,omitempty"`
	RawText           *string        `json:"raw_text,omitempty"`
	StructuredData    map[string]any `json:"structured_data,omitempty"`
	Summary           *string        `json:"summary,omitempty"`
	ExtractedEntities map[string]any `json:"extracted_entities,omitempty"`
	ExtractedDates    map[string]any `json:"extracted_dates,omitempty"`
	ExtractedAmounts  map[string]any `json:"extracted_amounts,omitempty"`
	ConfidenceScore   *float64       `json:"confidence_score,omitempty"`
	QualityFlags      []string       `json:"quality_flags,omitempty"`
	ProcessingTimeMs  *int           `json:"processing_time_ms,omitempty"`
	TokensUsed        *int           `json:"tokens_used,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// CacheEntry links a (content hash, analysis type, provider) key to a
// prior AnalysisResult so identical content never pays for a second
// provider call. Expired entries are treated as absent.
type CacheEntry struct {
	ContentHash  string    `json:"content_hash"`
	AnalysisType string    `json:"analysis_type"`
	Provider     string    `json:"provider"`
	ResultID     uuid.UUID `json:"result_id"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// ActivityEntry is one append-only audit record for a status change or
// administrative action.
type ActivityEntry struct {
	ID          uuid.UUID      `json:"id"`
	EntityType  string         `json:"entity_type"`
	EntityID    uuid.UUID      `json:"entity_id"`
	Action      string         `json:"action"`
	PerformedBy string         `json:"performed_by,omitempty"`
	PerformedAt time.Time      `json:"performed_at"`
	OldValues   map[string]any `json:"old_values,omitempty"`
	NewValues   map[string]any `json:"new_values,omitempty"`
}

// Entity type constants for activity log records.
const (
	EntityFile = "file"
	EntityJob  = "job"
)

// DefaultCacheTTL is how long a cache entry stays live unless
// configured otherwise.
const DefaultCacheTTL = 30 * 24 * time.Hour

// Default job knobs, matching the queue's column defaults.
const (
	DefaultPriority   = 5
	DefaultMaxRetries = 3
)

// RetryBackoff returns how long a retried job is deferred before the
// next dispatch attempt: 30s, 1m, 2m, 4m... capped at 15 minutes.
func RetryBackoff(retryCount int) time.Duration {
	d := 30 * time.Second
	for i := 1; i < retryCount; i++ {
		d *= 2
		if d >= 15*time.Minute {
			return 15 * time.Minute
		}
	}
	return d
}
