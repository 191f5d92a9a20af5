package model

import "time"

// Handle is the opaque reference a UI surface holds for an intake item.
// It is also the registry key for the item's payload.
type Handle string

// UploadCandidate is a user-selected file before validation.
type UploadCandidate struct {
	Name     string
	Size     int64
	MimeType string
	Payload  []byte
}

// FileItem is the UI-facing record of an accepted candidate.
// Status, Progress, Error and Summary are mutated through the status tracker only.
type FileItem struct {
	Handle    Handle     `json:"handle"`
	Name      string     `json:"name"`
	Size      int64      `json:"size"`
	MimeType  string     `json:"mimeType"`
	Status    ItemStatus `json:"status"`
	Progress  int        `json:"progress"`
	Error     string     `json:"error,omitempty"`
	Summary   string     `json:"summary,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// LengthBounds bounds the summary length requested from the remote service.
type LengthBounds struct {
	Min int `json:"minLength"`
	Max int `json:"maxLength"`
}

// DefaultLengthBounds matches the remote service's form defaults.
var DefaultLengthBounds = LengthBounds{Min: 50, Max: 150}

// BatchRequest is a set of accepted items submitted together.
type BatchRequest struct {
	Items              []*FileItem
	GroupSize          int
	TargetLanguage     string
	Bounds             LengthBounds
	PreserveFormatting bool
	Mode               ProcessingMode
}

// ItemSuccess records a settled item with its summary.
type ItemSuccess struct {
	Item    *FileItem
	Summary *SummaryPayload
}

// ItemFailure records a settled item with its error message.
type ItemFailure struct {
	Item  *FileItem
	Error string
}

// BatchResult holds every settled item, each bucket in original order.
type BatchResult struct {
	Successes []ItemSuccess
	Failures  []ItemFailure
}

// Total returns the number of settled items.
func (r *BatchResult) Total() int {
	return len(r.Successes) + len(r.Failures)
}

// RejectedFile describes a candidate refused by the validation policy.
type RejectedFile struct {
	Name   string `json:"name"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// SessionResponse is the public view of an intake session.
type SessionResponse struct {
	SessionID string     `json:"sessionId"`
	Items     []FileItem `json:"items"`
	CreatedAt time.Time  `json:"createdAt"`
}

// AddFilesResponse lists the items accepted and the files rejected by one upload.
type AddFilesResponse struct {
	Accepted []FileItem     `json:"accepted"`
	Rejected []RejectedFile `json:"rejected"`
}

// AttachSharedRequest attaches a payload staged by another intake surface.
type AttachSharedRequest struct {
	Handle   string `json:"handle" validate:"required"`
	Name     string `json:"name" validate:"required,max=255"`
	MimeType string `json:"mimeType" validate:"omitempty,max=255"`
}

// StartBatchRequest triggers processing of a session's pending items.
type StartBatchRequest struct {
	TargetLanguage     string         `json:"targetLanguage" validate:"omitempty,oneof=en hi ta te kn ml bn gu mr pa ur sa"`
	MinLength          int            `json:"minLength" validate:"omitempty,min=1,max=2000"`
	MaxLength          int            `json:"maxLength" validate:"omitempty,min=1,max=2000,gtefield=MinLength"`
	PreserveFormatting bool           `json:"preserveFormatting"`
	Mode               ProcessingMode `json:"mode" validate:"omitempty,oneof=combined stream"`
	Async              bool           `json:"async"`
}
