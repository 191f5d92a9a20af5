package intake

import (
	"fmt"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/lingosum/intake/internal/model"
)

// DefaultMaxBytes is the default upload size limit (10MB).
const DefaultMaxBytes int64 = 10 * 1024 * 1024

// RejectionReason names the policy rule a candidate violated.
type RejectionReason string

const (
	ReasonSizeExceeded    RejectionReason = "FILE_TOO_LARGE"
	ReasonUnsupportedType RejectionReason = "UNSUPPORTED_TYPE"
)

// RejectionError is returned by Validate for a refused candidate.
type RejectionError struct {
	Reason   RejectionReason
	Name     string
	Size     int64
	MaxBytes int64
	MimeType string
}

func (e *RejectionError) Error() string {
	switch e.Reason {
	case ReasonSizeExceeded:
		return fmt.Sprintf("%s: file size %d exceeds the %d byte limit", e.Name, e.Size, e.MaxBytes)
	case ReasonUnsupportedType:
		return fmt.Sprintf("%s: unsupported file type %q", e.Name, e.MimeType)
	default:
		return fmt.Sprintf("%s: rejected", e.Name)
	}
}

// ValidationPolicy is the size/type policy applied to every candidate.
type ValidationPolicy struct {
	MaxBytes         int64
	AllowedMimeTypes map[string]bool
}

// DefaultAllowedMimeTypes: plain text, PDF, legacy and OOXML Word, common images.
var DefaultAllowedMimeTypes = []string{
	"text/plain",
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/bmp",
	"image/tiff",
}

// NewPolicy builds a policy. Zero or negative maxBytes and an empty type list
// fall back to the defaults.
func NewPolicy(maxBytes int64, allowed []string) *ValidationPolicy {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if len(allowed) == 0 {
		allowed = DefaultAllowedMimeTypes
	}
	types := make(map[string]bool, len(allowed))
	for _, t := range allowed {
		types[normalizeMimeType(t)] = true
	}
	return &ValidationPolicy{MaxBytes: maxBytes, AllowedMimeTypes: types}
}

// DefaultPolicy returns the policy with default size and type limits.
func DefaultPolicy() *ValidationPolicy {
	return NewPolicy(DefaultMaxBytes, nil)
}

// Validate returns nil when the candidate is accepted, or a *RejectionError.
// Size is checked first and independently of type.
func (p *ValidationPolicy) Validate(c *model.UploadCandidate) error {
	if c.Size > p.MaxBytes {
		return &RejectionError{
			Reason:   ReasonSizeExceeded,
			Name:     c.Name,
			Size:     c.Size,
			MaxBytes: p.MaxBytes,
			MimeType: c.MimeType,
		}
	}
	if !p.AllowedMimeTypes[normalizeMimeType(c.MimeType)] {
		return &RejectionError{
			Reason:   ReasonUnsupportedType,
			Name:     c.Name,
			Size:     c.Size,
			MaxBytes: p.MaxBytes,
			MimeType: c.MimeType,
		}
	}
	return nil
}

// DetectMimeType keeps a usable declared type and otherwise sniffs the payload.
// Browsers and the CLI send application/octet-stream or nothing for files
// they cannot classify.
func DetectMimeType(declared string, payload []byte) string {
	declared = normalizeMimeType(declared)
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	return normalizeMimeType(mimetype.Detect(payload).String())
}

func normalizeMimeType(t string) string {
	t = strings.TrimSpace(t)
	if t == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(t); err == nil {
		return strings.ToLower(mt)
	}
	return strings.ToLower(t)
}
