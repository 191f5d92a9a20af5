package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"sync"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/lingosum/intake/internal/batch"
	"github.com/lingosum/intake/internal/client"
	"github.com/lingosum/intake/internal/config"
	"github.com/lingosum/intake/internal/intake"
	"github.com/lingosum/intake/internal/middleware"
	"github.com/lingosum/intake/internal/model"
	"github.com/lingosum/intake/internal/service"
)

const testJWTSecret = "test-secret-for-handlers"

// stubSummarizer stands in for the remote summarization service.
type stubSummarizer struct {
	mu       sync.Mutex
	failures map[string]error
	textErr  error
}

func (s *stubSummarizer) SummarizeText(ctx context.Context, req *client.TextRequest) (*model.SummaryPayload, error) {
	if s.textErr != nil {
		return nil, s.textErr
	}
	return &model.SummaryPayload{Summary: "a b c", Language: req.TargetLanguage}, nil
}

func (s *stubSummarizer) UploadFile(ctx context.Context, req *client.FileRequest) (*model.SummaryPayload, error) {
	s.mu.Lock()
	err := s.failures[req.Filename]
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &model.SummaryPayload{Filename: req.Filename, Summary: "summary of " + req.Filename}, nil
}

func (s *stubSummarizer) Languages(ctx context.Context) ([]model.LanguageInfo, error) {
	return nil, errors.New("service unavailable")
}

// testApp holds all components needed for testing
type testApp struct {
	app        *fiber.App
	summarizer *stubSummarizer
	primary    *intake.MemoryStore
	shared     *intake.MemoryStore
}

// setupApp mounts the real routes over in-memory registry tiers and a stub
// summarizer. Queued batches need Redis and are not mounted.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	ta := &testApp{
		summarizer: &stubSummarizer{failures: map[string]error{}},
		primary:    intake.NewMemoryStore(),
		shared:     intake.NewMemoryStore(),
	}

	validate := validator.New()
	registry := intake.NewRegistry(ta.primary, ta.shared)
	tracker := intake.NewTracker()

	intakeService := service.NewIntakeService(service.IntakeDeps{
		Policy:      intake.NewPolicy(1024, nil),
		Registry:    registry,
		Tracker:     tracker,
		Coordinator: batch.NewCoordinator(registry, tracker, 3),
		Summarizer:  ta.summarizer,
	})
	textService := service.NewTextService(ta.summarizer, service.Defaults{})

	handlers := &Handlers{
		Intake:    NewIntakeHandler(intakeService, nil, validate),
		Summarize: NewSummarizeHandler(textService, validate),
	}

	ta.app = fiber.New()
	RegisterRoutes(ta.app, handlers,
		middleware.NewAuthMiddleware(testJWTSecret).Authenticate(),
		middleware.NewRateLimiter(nil),
		config.RateLimitConfig{})

	return ta
}

// generateToken creates a signed token for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	token, err := middleware.NewAuthMiddleware(testJWTSecret).GenerateToken("test-user-123", "test@example.com", 0)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return token
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body io.Reader, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequest(method, path, body)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return app.Test(req, -1)
}

// doAuthJSON performs an authenticated request with a JSON body.
func doAuthJSON(t *testing.T, app *fiber.App, method, path, body string) *http.Response {
	t.Helper()
	headers := map[string]string{"Authorization": "Bearer " + generateToken(t)}
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
		headers["Content-Type"] = "application/json"
	}
	resp, err := doRequest(app, method, path, reader, headers)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

type formFile struct {
	name        string
	contentType string
	content     []byte
}

// doAuthUpload posts files as repeated multipart "file" parts.
func doAuthUpload(t *testing.T, app *fiber.App, path string, files ...formFile) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="`+f.name+`"`)
		h.Set("Content-Type", f.contentType)
		part, err := w.CreatePart(h)
		if err != nil {
			t.Fatalf("failed to create part: %v", err)
		}
		part.Write(f.content)
	}
	w.Close()

	resp, err := doRequest(app, http.MethodPost, path, &buf, map[string]string{
		"Authorization": "Bearer " + generateToken(t),
		"Content-Type":  w.FormDataContentType(),
	})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

// createSession opens a session and returns its ID.
func createSession(t *testing.T, app *fiber.App) string {
	t.Helper()
	resp := doAuthJSON(t, app, http.MethodPost, "/api/sessions", "")
	assertStatus(t, resp, http.StatusCreated)
	result := parseJSON(t, resp)
	id, _ := result["sessionId"].(string)
	if id == "" {
		t.Fatal("expected sessionId in response")
	}
	return id
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// errorCode extracts error.code from an error response.
func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	result := parseJSON(t, resp)
	errObj, _ := result["error"].(map[string]interface{})
	code, _ := errObj["code"].(string)
	return code
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
