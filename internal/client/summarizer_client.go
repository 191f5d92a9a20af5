package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/lingosum/intake/internal/config"
	"github.com/lingosum/intake/internal/model"
)

// Summarizer defines the remote summarization operations
type Summarizer interface {
	SummarizeText(ctx context.Context, req *TextRequest) (*model.SummaryPayload, error)
	UploadFile(ctx context.Context, req *FileRequest) (*model.SummaryPayload, error)
	Languages(ctx context.Context) ([]model.LanguageInfo, error)
}

// SummarizerClient implements Summarizer for the summarization HTTP service
type SummarizerClient struct {
	httpClient *http.Client
	baseURL    string
}

// TextRequest represents the JSON body of POST /summarize
type TextRequest struct {
	Text               string `json:"text"`
	TargetLanguage     string `json:"target_language"`
	MaxLength          int    `json:"max_length"`
	MinLength          int    `json:"min_length"`
	PreserveFormatting bool   `json:"preserve_formatting"`
}

// FileRequest represents the multipart form of POST /upload
type FileRequest struct {
	Filename           string
	MimeType           string
	Content            []byte
	TargetLanguage     string
	MaxLength          int
	MinLength          int
	PreserveFormatting bool
	// Progress, when set, is called with the bytes sent so far while the
	// request body streams.
	Progress func(sent, total int64)
}

type languagesResponse struct {
	Languages []model.LanguageInfo `json:"languages"`
}

// APIError is a non-2xx answer from the summarization service
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.StatusCode == http.StatusUnprocessableEntity {
		if e.Detail == "" {
			return "Validation error"
		}
		return "Validation error: " + e.Detail
	}
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// IsValidation reports whether the service rejected the request's fields
func (e *APIError) IsValidation() bool {
	return e.StatusCode == http.StatusUnprocessableEntity
}

// NewSummarizerClient creates a new summarization service client
func NewSummarizerClient(cfg *config.SummarizerConfig) *SummarizerClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &SummarizerClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}
}

// SummarizeText sends text to the /summarize endpoint
func (c *SummarizerClient) SummarizeText(ctx context.Context, req *TextRequest) (*model.SummaryPayload, error) {
	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/summarize", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var result model.SummaryPayload
	if err := c.do(httpReq, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UploadFile sends a file to the /upload endpoint as multipart form data
func (c *SummarizerClient) UploadFile(ctx context.Context, req *FileRequest) (*model.SummaryPayload, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	partHeader := make(textproto.MIMEHeader)
	partHeader.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, req.Filename))
	contentType := req.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	partHeader.Set("Content-Type", contentType)

	part, err := writer.CreatePart(partHeader)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(req.Content); err != nil {
		return nil, fmt.Errorf("failed to write form file: %w", err)
	}

	fields := map[string]string{
		"target_language": req.TargetLanguage,
		"max_length":      strconv.Itoa(req.MaxLength),
		"min_length":      strconv.Itoa(req.MinLength),
	}
	if req.PreserveFormatting {
		fields["preserve_formatting"] = "true"
	}
	for _, name := range []string{"target_language", "max_length", "min_length", "preserve_formatting"} {
		value, ok := fields[name]
		if !ok {
			continue
		}
		if err := writer.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("failed to write form field %s: %w", name, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close form: %w", err)
	}

	total := int64(buf.Len())
	var body io.Reader = &buf
	if req.Progress != nil {
		body = &progressReader{r: &buf, total: total, report: req.Progress}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.ContentLength = total
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	var result model.SummaryPayload
	if err := c.do(httpReq, &result); err != nil {
		return nil, err
	}
	if result.Filename == "" {
		result.Filename = req.Filename
	}
	return &result, nil
}

// Languages fetches the language list offered by the service
func (c *SummarizerClient) Languages(ctx context.Context) ([]model.LanguageInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/languages", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var result languagesResponse
	if err := c.do(httpReq, &result); err != nil {
		return nil, err
	}
	return result.Languages, nil
}

// IsConfigured returns true if the client has a base URL
func (c *SummarizerClient) IsConfigured() bool {
	return c.baseURL != ""
}

// do sends the request and decodes a 2xx JSON body into result
func (c *SummarizerClient) do(req *http.Request, result interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Detail:     parseDetail(respBody),
		}
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// parseDetail extracts the error detail, which is either a string or a list
// of {msg} objects.
func parseDetail(body []byte) string {
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Detail) == 0 {
		return ""
	}

	var text string
	if err := json.Unmarshal(envelope.Detail, &text); err == nil {
		return text
	}

	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(envelope.Detail, &items); err == nil {
		msgs := make([]string, 0, len(items))
		for _, item := range items {
			if item.Msg != "" {
				msgs = append(msgs, item.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return ""
}

// AsAPIError unwraps an *APIError from err
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

type progressReader struct {
	r      io.Reader
	sent   int64
	total  int64
	report func(sent, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		p.report(p.sent, p.total)
	}
	return n, err
}
