package model

import "time"

// SummaryPayload is the remote service's successful answer for one input.
// OriginalLength and SummaryLength are word counts and may be absent.
type SummaryPayload struct {
	Filename       string `json:"filename,omitempty"`
	Summary        string `json:"summary"`
	Language       string `json:"language,omitempty"`
	OriginalLength *int   `json:"original_length,omitempty"`
	SummaryLength  *int   `json:"summary_length,omitempty"`
	OriginalText   string `json:"original_text,omitempty"`
}

// SummarizeTextRequest is the text intake request body.
type SummarizeTextRequest struct {
	Text               string `json:"text" validate:"required,max=200000"`
	TargetLanguage     string `json:"targetLanguage" validate:"omitempty,oneof=en hi ta te kn ml bn gu mr pa ur sa"`
	MinLength          int    `json:"minLength" validate:"omitempty,min=1,max=2000"`
	MaxLength          int    `json:"maxLength" validate:"omitempty,min=1,max=2000,gtefield=MinLength"`
	PreserveFormatting bool   `json:"preserveFormatting"`
}

// SummaryStats are the word statistics shown next to a summary.
type SummaryStats struct {
	OriginalWords    int `json:"originalWords"`
	SummaryWords     int `json:"summaryWords"`
	CompressionRatio int `json:"compressionRatio"`
}

// SummarizeTextResponse is returned by the text intake.
type SummarizeTextResponse struct {
	Summary  string        `json:"summary"`
	Language string        `json:"language"`
	Stats    *SummaryStats `json:"stats,omitempty"`
}

// SummaryBlock is one labelled summary in a render model.
type SummaryBlock struct {
	Handle   Handle        `json:"handle"`
	Filename string        `json:"filename"`
	Summary  string        `json:"summary"`
	Stats    *SummaryStats `json:"stats,omitempty"`
}

// FailedBlock is one failed item in a render model.
type FailedBlock struct {
	Handle   Handle `json:"handle"`
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// RenderModel is the combined, display-ready view of a batch result.
type RenderModel struct {
	Blocks    []SummaryBlock `json:"blocks"`
	Failures  []FailedBlock  `json:"failures"`
	Combined  string         `json:"combined"`
	Processed int            `json:"processed"`
	Failed    int            `json:"failed"`
	Total     int            `json:"total"`
	Message   string         `json:"message"`
	Stats     *SummaryStats  `json:"stats,omitempty"`
}

// BatchJob is the persisted record of a queued batch.
type BatchJob struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"sessionId"`
	Status      JobStatus      `json:"status"`
	Mode        ProcessingMode `json:"mode"`
	Processed   int            `json:"processed"`
	Failed      int            `json:"failed"`
	Total       int            `json:"total"`
	Error       *string        `json:"error,omitempty"`
	Result      []byte         `json:"-"`
	CreatedAt   time.Time      `json:"createdAt"`
	StartedAt   *time.Time     `json:"startedAt,omitempty"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
}

// BatchJobPayload is the queued task payload for an asynchronous batch.
type BatchJobPayload struct {
	SessionID          string         `json:"sessionId"`
	TargetLanguage     string         `json:"targetLanguage"`
	Bounds             LengthBounds   `json:"bounds"`
	PreserveFormatting bool           `json:"preserveFormatting"`
	Mode               ProcessingMode `json:"mode"`
}

// StartBatchResponse is returned when a batch is queued.
type StartBatchResponse struct {
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	Total     int       `json:"total"`
	CreatedAt time.Time `json:"createdAt"`
}
