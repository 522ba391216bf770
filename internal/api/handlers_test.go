package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"fintelligence/internal/middleware"
	"fintelligence/internal/models"
	"fintelligence/internal/service/extract"
	"fintelligence/internal/service/relay"
	"fintelligence/internal/worker"
)

type mockCompleter struct {
	mu      sync.Mutex
	replies map[models.OutputFormat]string
	err     error
	calls   [][]*models.Message
}

func (m *mockCompleter) Complete(_ context.Context, messages []*models.Message, format models.OutputFormat) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, messages)
	if m.err != nil {
		return "", m.err
	}
	return m.replies[format], nil
}

func (m *mockCompleter) lastUserPrompt(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		t.Fatalf("completer was not called")
	}
	msgs := m.calls[len(m.calls)-1]
	return msgs[len(msgs)-1].Content
}

func TestHandlersEndToEndFlow(t *testing.T) {
	completer := &mockCompleter{replies: map[models.OutputFormat]string{
		models.FormatJSONObject: `{"checking": 1200, "savings": 5000, "transactions": []}`,
		models.FormatText:       "## Recommendation\nKeep saving.",
	}}
	router, _ := newTestServer(t, completer, Limits{MaxUploadBytes: 1 << 20, MaxJSONBodyBytes: 1 << 20})

	rec := doUpload(t, router, "/api/parse-pdf", "statement.txt", []byte("Checking 1200\nSavings 5000"))
	assertStatus(t, rec, http.StatusOK)
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("unexpected content type %q", ct)
	}
	var finances map[string]any
	decodeJSON(t, rec.Body.Bytes(), &finances)
	if finances["checking"] != float64(1200) {
		t.Fatalf("unexpected finances %v", finances)
	}
	if got := completer.lastUserPrompt(t); !strings.Contains(got, "Checking 1200\nSavings 5000") {
		t.Fatalf("extracted text not forwarded: %q", got)
	}

	rec = doJSONRequest(t, router, http.MethodPost, "/api/connect-brokerage", map[string]string{"apiKey": "sk-live-9876"}, nil)
	assertStatus(t, rec, http.StatusOK)
	if got := completer.lastUserPrompt(t); !strings.HasSuffix(got, "...9876") || strings.Contains(got, "sk-live") {
		t.Fatalf("unexpected brokerage prompt %q", got)
	}

	rec = doUpload(t, router, "/api/parse-transaction-pdf", "card.txt", []byte("01/03 GROCERY 54.20"))
	assertStatus(t, rec, http.StatusOK)

	rec = doJSONRequest(t, router, http.MethodPost, "/api/parse-transactions", map[string]string{"text": "coffee 4.50"}, nil)
	assertStatus(t, rec, http.StatusOK)

	rec = doJSONRequest(t, router, http.MethodPost, "/api/analyze", map[string]any{
		"finances":  map[string]any{"checking": 1200, "savings": 5000},
		"portfolio": map[string]any{"value": 25000, "risk": "low"},
		"news":      []string{"Rates hold", "Tech rallies"},
	}, nil)
	assertStatus(t, rec, http.StatusOK)
	var advice models.AdviceResponse
	decodeJSON(t, rec.Body.Bytes(), &advice)
	if advice.Advice != "## Recommendation\nKeep saving." {
		t.Fatalf("unexpected advice %q", advice.Advice)
	}
	prompt := completer.lastUserPrompt(t)
	for _, want := range []string{"Risk Tolerance: low", "Latest News Headlines: Rates hold, Tech rallies", "Portfolio Value: $25000"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("advice prompt missing %q:\n%s", want, prompt)
		}
	}
	if len(completer.calls) != 5 {
		t.Fatalf("expected exactly one completion per request, got %d", len(completer.calls))
	}
}

func TestValidationErrors(t *testing.T) {
	completer := &mockCompleter{replies: map[models.OutputFormat]string{models.FormatJSONObject: `{}`}}
	router, _ := newTestServer(t, completer, Limits{MaxUploadBytes: 1 << 20, MaxJSONBodyBytes: 1 << 20})

	cases := []struct {
		name string
		rec  *httptest.ResponseRecorder
		want string
	}{
		{"short key", doJSONRequest(t, router, http.MethodPost, "/api/connect-brokerage", map[string]string{"apiKey": "ab"}, nil), "Please enter a valid API key"},
		{"missing key", doJSONRequest(t, router, http.MethodPost, "/api/connect-brokerage", nil, nil), "Please enter a valid API key"},
		{"blank text", doJSONRequest(t, router, http.MethodPost, "/api/parse-transactions", map[string]string{"text": "   "}, nil), "No transaction data provided"},
		{"no file", doJSONRequest(t, router, http.MethodPost, "/api/parse-pdf", nil, nil), "No PDF file uploaded"},
		{"wrong field", doUploadField(t, router, "/api/parse-transaction-pdf", "file", "a.txt", []byte("x")), "No PDF file uploaded"},
		{"bad analyze body", doRawRequest(t, router, "/api/analyze", `{"portfolio": "lots"}`), "Invalid request body"},
		{"news not strings", doRawRequest(t, router, "/api/analyze", `{"portfolio": {}, "news": [1, 2]}`), "Invalid request body"},
		{"empty analyze body", doRawRequest(t, router, "/api/analyze", ``), "Invalid request body"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assertStatus(t, tc.rec, http.StatusBadRequest)
			var body map[string]string
			decodeJSON(t, tc.rec.Body.Bytes(), &body)
			if body["error"] != tc.want {
				t.Fatalf("unexpected error %q, want %q", body["error"], tc.want)
			}
		})
	}
	if len(completer.calls) != 0 {
		t.Fatalf("validation failures must not reach the completer, got %d calls", len(completer.calls))
	}
}

func TestUploadTooLarge(t *testing.T) {
	completer := &mockCompleter{replies: map[models.OutputFormat]string{models.FormatJSONObject: `{}`}}
	router, _ := newTestServer(t, completer, Limits{MaxUploadBytes: 1 << 20, MaxJSONBodyBytes: 1 << 20})

	rec := doUpload(t, router, "/api/parse-pdf", "big.txt", bytes.Repeat([]byte("a"), 2<<20))
	assertStatus(t, rec, http.StatusRequestEntityTooLarge)
	var body map[string]string
	decodeJSON(t, rec.Body.Bytes(), &body)
	if body["error"] != "File too large. Maximum size is 1MB" {
		t.Fatalf("unexpected error %q", body["error"])
	}
	if len(completer.calls) != 0 {
		t.Fatalf("oversized upload must not reach the completer")
	}
}

func TestJSONBodyTooLarge(t *testing.T) {
	router, _ := newTestServer(t, &mockCompleter{}, Limits{MaxUploadBytes: 1 << 20, MaxJSONBodyBytes: 64})
	rec := doJSONRequest(t, router, http.MethodPost, "/api/parse-transactions",
		map[string]string{"text": strings.Repeat("x", 200)}, nil)
	assertStatus(t, rec, http.StatusRequestEntityTooLarge)
}

func TestUpstreamErrorsAreStatic(t *testing.T) {
	completer := &mockCompleter{err: errors.New("401 invalid api key sk-upstream")}
	router, _ := newTestServer(t, completer, Limits{MaxUploadBytes: 1 << 20, MaxJSONBodyBytes: 1 << 20})

	cases := []struct {
		rec  *httptest.ResponseRecorder
		want string
	}{
		{doUpload(t, router, "/api/parse-pdf", "s.txt", []byte("balance 10")), "Failed to parse PDF. Please try again or enter data manually."},
		{doJSONRequest(t, router, http.MethodPost, "/api/connect-brokerage", map[string]string{"apiKey": "abcd"}, nil), "Failed to connect to brokerage. Please try again."},
		{doUpload(t, router, "/api/parse-transaction-pdf", "s.txt", []byte("coffee 4")), "Failed to parse transaction PDF."},
		{doJSONRequest(t, router, http.MethodPost, "/api/parse-transactions", map[string]string{"text": "coffee 4"}, nil), "Failed to parse transactions."},
		{doJSONRequest(t, router, http.MethodPost, "/api/analyze", map[string]any{"portfolio": map[string]any{}}, nil), "Failed to generate financial advice"},
	}
	for _, tc := range cases {
		assertStatus(t, tc.rec, http.StatusInternalServerError)
		if strings.Contains(tc.rec.Body.String(), "sk-upstream") {
			t.Fatalf("upstream detail leaked: %s", tc.rec.Body.String())
		}
		var body map[string]string
		decodeJSON(t, tc.rec.Body.Bytes(), &body)
		if body["error"] != tc.want {
			t.Fatalf("unexpected error %q, want %q", body["error"], tc.want)
		}
	}
}

func TestBusyWorkerPoolReturns429(t *testing.T) {
	completer := &mockCompleter{err: worker.ErrDispatcherBusy}
	router, _ := newTestServer(t, completer, Limits{MaxUploadBytes: 1 << 20, MaxJSONBodyBytes: 1 << 20})

	rec := doJSONRequest(t, router, http.MethodPost, "/api/parse-transactions", map[string]string{"text": "coffee 4"}, nil)
	assertStatus(t, rec, http.StatusTooManyRequests)
	var body map[string]string
	decodeJSON(t, rec.Body.Bytes(), &body)
	if body["error"] != "server is busy, please retry" {
		t.Fatalf("unexpected error %q", body["error"])
	}
}

func TestUnreadableDocumentIsUpstreamError(t *testing.T) {
	completer := &mockCompleter{replies: map[models.OutputFormat]string{models.FormatJSONObject: `{}`}}
	router, _ := newTestServer(t, completer, Limits{MaxUploadBytes: 1 << 20, MaxJSONBodyBytes: 1 << 20})

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	rec := doUpload(t, router, "/api/parse-pdf", "scan.png", png)
	assertStatus(t, rec, http.StatusInternalServerError)
	if len(completer.calls) != 0 {
		t.Fatalf("completion must not run for unreadable documents")
	}
}

func TestNonObjectCompletionIsUpstreamError(t *testing.T) {
	completer := &mockCompleter{replies: map[models.OutputFormat]string{models.FormatJSONObject: "I could not find any transactions."}}
	router, _ := newTestServer(t, completer, Limits{MaxUploadBytes: 1 << 20, MaxJSONBodyBytes: 1 << 20})

	rec := doJSONRequest(t, router, http.MethodPost, "/api/parse-transactions", map[string]string{"text": "??"}, nil)
	assertStatus(t, rec, http.StatusInternalServerError)
}

func TestIndexAndHealth(t *testing.T) {
	router, handler := newTestServer(t, &mockCompleter{}, Limits{})
	handler.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	rec := doJSONRequest(t, router, http.MethodGet, "/", nil, nil)
	assertStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), "<title>Fintelligence</title>") {
		t.Fatalf("landing page not served")
	}

	rec = doJSONRequest(t, router, http.MethodGet, "/health", nil, nil)
	assertStatus(t, rec, http.StatusOK)
	var body map[string]string
	decodeJSON(t, rec.Body.Bytes(), &body)
	if body["status"] != "ok" || body["timestamp"] != "2024-05-01T12:00:00Z" {
		t.Fatalf("unexpected health body %v", body)
	}
}

func TestRequestIDAndRateLimitOnRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ext, err := extract.NewExtractor(context.Background())
	if err != nil {
		t.Fatalf("new extractor: %v", err)
	}
	handler := NewHandler(relay.NewService(&mockCompleter{}, ext), Limits{})
	router := gin.New()
	router.Use(middleware.RequestID(), middleware.Recovery(), middleware.RateLimit(middleware.NewMemoryLimiter(2, time.Minute)))
	handler.RegisterRoutes(router)

	for i := 0; i < 2; i++ {
		rec := doJSONRequest(t, router, http.MethodGet, "/health", nil, nil)
		assertStatus(t, rec, http.StatusOK)
		if rec.Header().Get(middleware.HeaderRequestID) == "" {
			t.Fatalf("missing request id header")
		}
	}
	rec := doJSONRequest(t, router, http.MethodGet, "/health", nil, nil)
	assertStatus(t, rec, http.StatusTooManyRequests)
}

func newTestServer(t *testing.T, completer relay.Completer, limits Limits) (*gin.Engine, *Handler) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ext, err := extract.NewExtractor(context.Background())
	if err != nil {
		t.Fatalf("new extractor: %v", err)
	}
	handler := NewHandler(relay.NewService(completer, ext), limits)

	router := gin.New()
	router.Use(middleware.RequestID())
	handler.RegisterRoutes(router)
	return router, handler
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func doRawRequest(t *testing.T, router *gin.Engine, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func doUpload(t *testing.T, router *gin.Engine, path, filename string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	return doUploadField(t, router, path, "pdf", filename, data)
}

func doUploadField(t *testing.T, router *gin.Engine, path, field, filename string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d, body: %s", rec.Code, rec.Body.String())
	}
}
