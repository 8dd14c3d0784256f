package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"media-compressor/internal/logging"
)

func TestResponseWriterCapturesStatusAndBytes(t *testing.T) {
	w := httptest.NewRecorder()
	rw := newResponseWriter(w)

	if rw.statusCode != http.StatusOK {
		t.Errorf("Expected default status 200, got %d", rw.statusCode)
	}

	rw.WriteHeader(http.StatusRequestEntityTooLarge)
	rw.WriteHeader(http.StatusOK)
	if rw.statusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected first status to stick, got %d", rw.statusCode)
	}

	if _, err := rw.Write([]byte("hello")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if rw.bytesWritten != 5 {
		t.Errorf("Expected 5 bytes written, got %d", rw.bytesWritten)
	}
}

func TestSanitizeLogField(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"line\nbreak", "line break"},
		{"cr\rlf", "cr lf"},
		{"nul\x00byte", "nulbyte"},
		{"\x1b[31mred", "[31mred"},
		{"tab\tok", "tab\tok"},
	}

	for _, tt := range tests {
		if got := sanitizeLogField(tt.in); got != tt.want {
			t.Errorf("sanitizeLogField(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestShouldSkip(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		config LoggingConfig
		want   bool
	}{
		{"compress endpoint", "/api/compress", DefaultLoggingConfig(), false},
		{"static asset", "/app.js", DefaultLoggingConfig(), true},
		{"static asset logged", "/app.js", LoggingConfig{LogStaticFiles: true, SkipExtensions: []string{".js"}}, false},
		{"health enabled", "/livez", LoggingConfig{LogHealthChecks: true}, false},
		{"health disabled", "/livez", LoggingConfig{LogHealthChecks: false}, true},
		{"skip prefix", "/metrics", LoggingConfig{SkipPaths: []string{"/metrics"}, LogHealthChecks: true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shouldSkip(tt.path, tt.config); got != tt.want {
				t.Errorf("shouldSkip(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestLoggerWritesAccessLine(t *testing.T) {
	t.Setenv("LOG_FORMAT", "json")
	var buf bytes.Buffer
	logging.SetOutput(&buf)
	defer logging.SetOutput(io.Discard)

	handler := Logger(DefaultLoggingConfig())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Job-Id", "job-123")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/compress?x=1", http.NoBody)
	req.Header.Set("User-Agent", "test\nagent")
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("access line is not JSON: %v: %q", err, buf.String())
	}
	want := map[string]any{
		"log":        "access",
		"client_ip":  "10.0.0.1",
		"method":     "POST",
		"path":       "/api/compress",
		"query":      "x=1",
		"status":     float64(201),
		"bytes":      float64(2),
		"user_agent": "test agent",
		"job_id":     "job-123",
	}
	for k, v := range want {
		if line[k] != v {
			t.Errorf("%s = %v, want %v", k, line[k], v)
		}
	}
}

func TestLoggerSkipsStaticFiles(t *testing.T) {
	var buf bytes.Buffer
	logging.SetOutput(&buf)
	defer logging.SetOutput(io.Discard)

	handler := Logger(DefaultLoggingConfig())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/app.js", http.NoBody))

	if buf.Len() != 0 {
		t.Errorf("Expected no access line for a static file, got %q", buf.String())
	}
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.RemoteAddr = "192.168.1.5:4321"
	if got := getClientIP(req); got != "192.168.1.5" {
		t.Errorf("RemoteAddr: got %q", got)
	}

	req.Header.Set("X-Real-IP", "172.16.0.9")
	if got := getClientIP(req); got != "172.16.0.9" {
		t.Errorf("X-Real-IP: got %q", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	if got := getClientIP(req); got != "203.0.113.7" {
		t.Errorf("X-Forwarded-For: got %q", got)
	}
}

func TestCompressionMiddleware(t *testing.T) {
	largeJSON := `{"data":"` + strings.Repeat("x", 2000) + `"}`
	binary := bytes.Repeat([]byte{0xff, 0xd8, 0x00}, 1000)

	tests := []struct {
		name           string
		contentType    string
		body           []byte
		acceptEncoding string
		accept         string
		wantCompressed bool
	}{
		{"large json", "application/json", []byte(largeJSON), "gzip", "", true},
		{"small json", "application/json", []byte(`{"a":1}`), "gzip", "", false},
		{"webp result", "image/webp", binary, "gzip", "", false},
		{"mp4 result", "video/mp4", binary, "gzip", "", false},
		{"no gzip support", "application/json", []byte(largeJSON), "", "", false},
		{"event stream", "application/json", []byte(largeJSON), "gzip", "text/event-stream", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := Compression(DefaultCompressionConfig())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				_, _ = w.Write(tt.body)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/jobs", http.NoBody)
			if tt.acceptEncoding != "" {
				req.Header.Set("Accept-Encoding", tt.acceptEncoding)
			}
			if tt.accept != "" {
				req.Header.Set("Accept", tt.accept)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			compressed := w.Header().Get("Content-Encoding") == "gzip"
			if compressed != tt.wantCompressed {
				t.Fatalf("compressed = %v, want %v", compressed, tt.wantCompressed)
			}

			body := w.Body.Bytes()
			if compressed {
				gr, err := gzip.NewReader(w.Body)
				if err != nil {
					t.Fatalf("gzip reader: %v", err)
				}
				body, err = io.ReadAll(gr)
				if err != nil {
					t.Fatalf("reading gzip body: %v", err)
				}
			}
			if !bytes.Equal(body, tt.body) {
				t.Errorf("body mismatch: got %d bytes, want %d", len(body), len(tt.body))
			}
		})
	}
}

func TestCompressionDropsContentLength(t *testing.T) {
	body := []byte(strings.Repeat("a", 4096))
	handler := Compression(DefaultCompressionConfig())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("Content-Length", "4096")
		_, _ = w.Write(body)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatal("expected gzip response")
	}
	if w.Header().Get("Content-Length") != "" {
		t.Errorf("Content-Length should be removed, got %q", w.Header().Get("Content-Length"))
	}
}

func TestCompressionStreamsMediaUnbuffered(t *testing.T) {
	w := httptest.NewRecorder()
	handler := Compression(DefaultCompressionConfig())(http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		rw.Header().Set("Content-Type", "video/mp4")
		_, _ = rw.Write([]byte("ftyp"))
		if w.Body.Len() != 4 {
			t.Errorf("Expected media bytes to pass through at once, recorder has %d", w.Body.Len())
		}
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/compress-video", http.NoBody)
	req.Header.Set("Accept-Encoding", "gzip")
	handler.ServeHTTP(w, req)

	if w.Header().Get("Content-Encoding") != "" {
		t.Error("media results must not be gzipped")
	}
}

func TestGzipPoolPerLevel(t *testing.T) {
	if gzipPool(gzip.BestSpeed) != gzipPool(gzip.BestSpeed) {
		t.Error("expected the same pool for the same level")
	}
	if gzipPool(gzip.BestSpeed) == gzipPool(gzip.BestCompression) {
		t.Error("expected distinct pools for distinct levels")
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/", "/"},
		{"/health", "/health"},
		{"/api/compress", "/api/compress"},
		{"/api/compress-image", "/api/compress-image"},
		{"/api/compress-video", "/api/compress-video"},
		{"/api/progress/3f2b8c1e-9d4a-4b7e-8f10-2a6c5d7e9b01", "/api/progress/{jobId}"},
		{"/api/jobs/3f2b8c1e-9d4a-4b7e-8f10-2a6c5d7e9b01", "/api/jobs/{jobId}"},
		{"/a/b/c/d/e/f", "/a/b/c/{path}"},
	}

	for _, tt := range tests {
		if got := normalizePath(tt.path); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestMetricsMiddleware(t *testing.T) {
	handler := Metrics(DefaultMetricsConfig())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))

	for _, path := range []string{"/api/compress", "/metrics", "/livez"} {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, http.NoBody))
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected status 400 to pass through, got %d", path, w.Code)
		}
	}
}

// deadlineRecorder records the write deadline set through the response
// controller.
type deadlineRecorder struct {
	*httptest.ResponseRecorder
	deadline time.Time
}

func (d *deadlineRecorder) SetWriteDeadline(t time.Time) error {
	d.deadline = t
	return nil
}

func TestWrappersPassWriteDeadline(t *testing.T) {
	tests := []struct {
		name       string
		middleware func(http.Handler) http.Handler
		accept     string
	}{
		{"logger", Logger(DefaultLoggingConfig()), ""},
		{"metrics", Metrics(DefaultMetricsConfig()), ""},
		{"compression", Compression(DefaultCompressionConfig()), "gzip"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := time.Now().Add(time.Minute)
			handler := tt.middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if err := http.NewResponseController(w).SetWriteDeadline(want); err != nil {
					t.Errorf("SetWriteDeadline through %s: %v", tt.name, err)
				}
				w.Header().Set("Content-Type", "video/mp4")
				_, _ = w.Write([]byte("mp4"))
			}))

			rec := &deadlineRecorder{ResponseRecorder: httptest.NewRecorder()}
			req := httptest.NewRequest(http.MethodPost, "/api/compress-video", http.NoBody)
			if tt.accept != "" {
				req.Header.Set("Accept-Encoding", tt.accept)
			}
			handler.ServeHTTP(rec, req)

			if !rec.deadline.Equal(want) {
				t.Errorf("deadline = %v, want %v", rec.deadline, want)
			}
		})
	}
}

func TestResponseWriterFlush(t *testing.T) {
	w := httptest.NewRecorder()
	rw := newResponseWriter(w)
	rw.Flush()
	if !w.Flushed {
		t.Error("expected Flush to reach the underlying writer")
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Rate: 1, Burst: 2, StaleAfter: time.Minute})
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/compress", http.NoBody)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	for i := 0; i < 2; i++ {
		if w := send("10.0.0.1"); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, w.Code)
		}
	}

	w := send("10.0.0.1")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "1" {
		t.Errorf("expected Retry-After 1, got %q", w.Header().Get("Retry-After"))
	}
	if !strings.Contains(w.Body.String(), "Rate limit exceeded") {
		t.Errorf("unexpected body %q", w.Body.String())
	}

	if w := send("10.0.0.2"); w.Code != http.StatusOK {
		t.Errorf("other client should not be limited, got %d", w.Code)
	}
	if rl.Clients() != 2 {
		t.Errorf("expected 2 tracked clients, got %d", rl.Clients())
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Rate: 0})
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 20; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/compress", http.NoBody))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200 with limiting disabled, got %d", i, w.Code)
		}
	}
}

func TestRateLimiterPrune(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Rate: 1, Burst: 1, StaleAfter: time.Millisecond})
	rl.limiterFor("10.0.0.1")

	time.Sleep(5 * time.Millisecond)

	if removed := rl.Prune(); removed != 1 {
		t.Errorf("expected 1 pruned client, got %d", removed)
	}
	if rl.Clients() != 0 {
		t.Errorf("expected no clients after prune, got %d", rl.Clients())
	}
}
