package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"media-compressor/internal/compression"
	"media-compressor/internal/database"
	"media-compressor/internal/media"
	"media-compressor/internal/progress"
	"media-compressor/internal/scratch"
	"media-compressor/internal/startup"
	"media-compressor/internal/transcoder"
)

// =============================================================================
// Helpers
// =============================================================================

const probeScript = `echo '{"streams":[{"codec_type":"video","codec_name":"h264","width":640,"height":360}],"format":{"duration":"2.0"}}'
`

const encodeScript = `for last; do :; done
echo out_time_us=1000000
echo progress=continue
echo out_time_us=2000000
echo progress=end
printf 'encoded-video' > "$last"
`

// failScript writes a partial output, then dies the way ffmpeg does on a
// corrupt input.
const failScript = `for last; do :; done
printf 'partial' > "$last"
echo "frame=   12 fps=0.0 q=28.0" >&2
echo "Invalid data found when processing input" >&2
exit 1
`

type testEnv struct {
	h          *Handlers
	scratch    *scratch.Manager
	scratchDir string
	hub        *progress.Hub
	db         *database.Database
}

func writeEngine(t *testing.T, name, body string) startup.EnginePath {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script engines not supported on windows")
	}
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("Failed to create mock %s: %v", name, err)
	}
	return startup.EnginePath{Name: name, Path: path}
}

func newTestEnv(t *testing.T, codec media.Codec, ffmpegBody string) *testEnv {
	t.Helper()

	dir := t.TempDir()
	scratchDir := filepath.Join(dir, "scratch")
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		t.Fatalf("Failed to create scratch dir: %v", err)
	}

	trans := transcoder.New(transcoder.Options{
		FFmpeg:   writeEngine(t, "ffmpeg", ffmpegBody),
		FFprobe:  writeEngine(t, "ffprobe", probeScript),
		GPUAccel: string(transcoder.GPUAccelNone),
		Timeout:  30 * time.Second,
	})
	t.Cleanup(trans.Cleanup)
	invoker := transcoder.NewInvoker(codec, trans)

	db, err := database.New(context.Background(), filepath.Join(dir, "jobs.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mgr := scratch.NewManager(scratchDir)
	controller := compression.NewController(invoker, mgr, compression.NewLimiter(2, 1), db)
	hub := progress.NewHub(64, time.Minute)

	config := &startup.Config{
		MaxUploadBytes:   8 << 20,
		ProgressInterval: time.Millisecond,
	}

	return &testEnv{
		h:          New(controller, invoker, hub, db, mgr, config),
		scratch:    mgr,
		scratchDir: scratchDir,
		hub:        hub,
		db:         db,
	}
}

// multipartRequest builds a POST with the given fields and, when fileName
// is not empty, a "file" part.
func multipartRequest(t *testing.T, path string, fields map[string]string, fileName string, data []byte) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		if _, err := fw.Write(data); err != nil {
			t.Fatalf("write file part: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func syntheticJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("jpeg.Encode: %v", err)
	}
	return buf.Bytes()
}

func scratchEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir(%s): %v", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode error body: %v", err)
	}
	return body["error"]
}

func attachmentName(t *testing.T, header string) string {
	t.Helper()
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		t.Fatalf("ParseMediaType(%q): %v", header, err)
	}
	return params["filename"]
}

// =============================================================================
// Image compression
// =============================================================================

func TestCompressImage_WebP(t *testing.T) {
	if err := media.InitVips(0); err != nil || !media.IsVipsAvailable() {
		t.Skip("libvips not available")
	}
	env := newTestEnv(t, media.VipsCodec{}, encodeScript)

	req := multipartRequest(t, "/api/compress", map[string]string{"format": "webp", "quality": "50"}, "photo.jpg", syntheticJPEG(t, 100, 100))
	w := httptest.NewRecorder()
	env.h.CompressImage(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/webp" {
		t.Errorf("Expected Content-Type image/webp, got %q", ct)
	}
	if name := attachmentName(t, w.Header().Get("Content-Disposition")); !strings.HasSuffix(name, ".webp") {
		t.Errorf("Expected filename ending .webp, got %q", name)
	}
	if w.Body.Len() == 0 {
		t.Error("Expected non-empty body")
	}
}

func TestCompressImage_PNGWithImaging(t *testing.T) {
	env := newTestEnv(t, media.ImagingCodec{}, encodeScript)

	input := syntheticJPEG(t, 100, 100)
	jobID := uuid.NewString()
	req := multipartRequest(t, "/api/compress", map[string]string{"format": "png", "maxWidth": "50", "jobId": jobID}, "photo.HEIC", input)
	w := httptest.NewRecorder()
	env.h.CompressImage(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Expected Content-Type image/png, got %q", ct)
	}
	if name := attachmentName(t, w.Header().Get("Content-Disposition")); name != "compressed-photo.png" {
		t.Errorf("Expected filename compressed-photo.png, got %q", name)
	}
	if got := w.Header().Get("X-Job-Id"); got != jobID {
		t.Errorf("Expected X-Job-Id %q, got %q", jobID, got)
	}
	if got := w.Header().Get("X-Original-Size"); got != strconv.Itoa(len(input)) {
		t.Errorf("Expected X-Original-Size %d, got %q", len(input), got)
	}
	if got := w.Header().Get("Content-Length"); got != strconv.Itoa(w.Body.Len()) {
		t.Errorf("Content-Length %q does not match body length %d", got, w.Body.Len())
	}

	img, _, err := image.Decode(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatalf("Failed to decode result: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 50 || b.Dy() != 50 {
		t.Errorf("Expected 50x50 result, got %dx%d", b.Dx(), b.Dy())
	}

	ch, ok := env.hub.Lookup(jobID)
	if !ok {
		t.Fatal("Expected job channel in hub")
	}
	events := ch.Events()
	last := events[len(events)-1]
	if !last.Terminal || last.Status != progress.StatusComplete {
		t.Errorf("Expected terminal Complete event, got %+v", last)
	}
}

func TestCompressImage_FormatUnsupportedByEngine(t *testing.T) {
	tests := []struct {
		format string
	}{
		{"webp"},
		{"avif"},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			env := newTestEnv(t, media.ImagingCodec{}, encodeScript)

			req := multipartRequest(t, "/api/compress-image", map[string]string{"format": tt.format}, "photo.jpg", syntheticJPEG(t, 16, 16))
			w := httptest.NewRecorder()
			env.h.CompressImage(w, req)

			if w.Code != http.StatusUnprocessableEntity {
				t.Fatalf("Expected status 422, got %d: %s", w.Code, w.Body.String())
			}
			want := "Format " + tt.format + " is not supported by the imaging image engine"
			if msg := decodeError(t, w); msg != want {
				t.Errorf("Expected message %q, got %q", want, msg)
			}
		})
	}
}

func TestCompressImage_MissingFile(t *testing.T) {
	env := newTestEnv(t, media.ImagingCodec{}, encodeScript)

	req := multipartRequest(t, "/api/compress", map[string]string{"format": "webp"}, "", nil)
	w := httptest.NewRecorder()
	env.h.CompressImage(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", w.Code)
	}
	if msg := decodeError(t, w); msg != compression.MessageMissingInput {
		t.Errorf("Expected error %q, got %q", compression.MessageMissingInput, msg)
	}
	if names := scratchEntries(t, env.scratchDir); len(names) != 0 {
		t.Errorf("Expected no scratch files, found %v", names)
	}
	if env.scratch.Issued() != 0 {
		t.Errorf("Expected no scratch paths issued, got %d", env.scratch.Issued())
	}
}

func TestCompressImage_NotMultipart(t *testing.T) {
	env := newTestEnv(t, media.ImagingCodec{}, encodeScript)

	req := httptest.NewRequest(http.MethodPost, "/api/compress", strings.NewReader(`{"format":"png"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.h.CompressImage(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", w.Code)
	}
}

func TestCompressImage_UndecodableInput(t *testing.T) {
	env := newTestEnv(t, media.ImagingCodec{}, encodeScript)

	req := multipartRequest(t, "/api/compress", map[string]string{"format": "png"}, "broken.jpg", []byte("not an image"))
	w := httptest.NewRecorder()
	env.h.CompressImage(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("Expected status 500, got %d", w.Code)
	}
	if msg := decodeError(t, w); msg != compression.MessageFailed {
		t.Errorf("Expected generic error %q, got %q", compression.MessageFailed, msg)
	}
}

func TestCompressImage_TooLarge(t *testing.T) {
	env := newTestEnv(t, media.ImagingCodec{}, encodeScript)
	env.h.maxUploadBytes = 1024

	req := multipartRequest(t, "/api/compress", nil, "big.jpg", bytes.Repeat([]byte{0xff}, 8192))
	w := httptest.NewRecorder()
	env.h.CompressImage(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("Expected status 413, got %d", w.Code)
	}
	if msg := decodeError(t, w); msg != compression.MessageTooLarge {
		t.Errorf("Expected error %q, got %q", compression.MessageTooLarge, msg)
	}
}

func TestCompressImage_JobIDValidation(t *testing.T) {
	env := newTestEnv(t, media.ImagingCodec{}, encodeScript)

	req := multipartRequest(t, "/api/compress", map[string]string{"jobId": "not-a-uuid"}, "a.jpg", syntheticJPEG(t, 8, 8))
	w := httptest.NewRecorder()
	env.h.CompressImage(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Invalid job ID: expected 400, got %d", w.Code)
	}

	jobID := uuid.NewString()
	for i, want := range []int{http.StatusOK, http.StatusConflict} {
		req := multipartRequest(t, "/api/compress", map[string]string{"jobId": jobID, "format": "jpeg"}, "a.jpg", syntheticJPEG(t, 8, 8))
		w := httptest.NewRecorder()
		env.h.CompressImage(w, req)
		if w.Code != want {
			t.Errorf("submission %d: expected %d, got %d", i, want, w.Code)
		}
	}
}

func TestCompressImage_JobIDClaims(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, hub *progress.Hub, id string)
		want  int
	}{
		{
			name:  "fresh id",
			setup: func(t *testing.T, hub *progress.Hub, id string) {},
			want:  http.StatusOK,
		},
		{
			name: "subscriber reserved the id",
			setup: func(t *testing.T, hub *progress.Hub, id string) {
				if _, err := hub.Channel(id); err != nil {
					t.Fatal(err)
				}
			},
			want: http.StatusOK,
		},
		{
			name: "another upload is running",
			setup: func(t *testing.T, hub *progress.Hub, id string) {
				_, release, err := hub.Claim(id)
				if err != nil {
					t.Fatal(err)
				}
				t.Cleanup(release)
			},
			want: http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, media.ImagingCodec{}, encodeScript)
			jobID := uuid.NewString()
			tt.setup(t, env.hub, jobID)

			req := multipartRequest(t, "/api/compress-image", map[string]string{"jobId": jobID, "format": "jpeg"}, "a.jpg", syntheticJPEG(t, 8, 8))
			w := httptest.NewRecorder()
			env.h.CompressImage(w, req)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
			if tt.want == http.StatusConflict {
				if msg := decodeError(t, w); msg != "Job ID already used" {
					t.Errorf("unexpected message %q", msg)
				}
			}
		})
	}
}

// =============================================================================
// Video compression
// =============================================================================

func TestCompressVideo_Success(t *testing.T) {
	env := newTestEnv(t, media.ImagingCodec{}, encodeScript)

	jobID := uuid.NewString()
	req := multipartRequest(t, "/api/compress-video", map[string]string{"videoBitrate": "800k", "maxWidth": "320", "jobId": jobID}, "clip.MOV", []byte("fake video bytes"))
	w := httptest.NewRecorder()
	env.h.CompressVideo(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "video/mp4" {
		t.Errorf("Expected Content-Type video/mp4, got %q", ct)
	}
	if name := attachmentName(t, w.Header().Get("Content-Disposition")); name != "compressed-clip.mp4" {
		t.Errorf("Expected filename compressed-clip.mp4, got %q", name)
	}
	if w.Body.String() != "encoded-video" {
		t.Errorf("Unexpected body %q", w.Body.String())
	}
	if names := scratchEntries(t, env.scratchDir); len(names) != 0 {
		t.Errorf("Expected scratch dir to be empty, found %v", names)
	}

	ch, _ := env.hub.Lookup(jobID)
	prev := -1
	for _, ev := range ch.Events() {
		if ev.Progress < prev {
			t.Errorf("progress decreased: %d after %d", ev.Progress, prev)
		}
		prev = ev.Progress
	}
	if prev != 100 || !ch.Closed() {
		t.Errorf("Expected closed channel ending at 100, got %d closed=%v", prev, ch.Closed())
	}
}

func TestCompressVideo_EngineFailureLeavesNoFiles(t *testing.T) {
	env := newTestEnv(t, media.ImagingCodec{}, failScript)

	jobID := uuid.NewString()
	req := multipartRequest(t, "/api/compress-video", map[string]string{"jobId": jobID}, "clip.mp4", []byte("corrupt video"))
	w := httptest.NewRecorder()
	env.h.CompressVideo(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("Expected status 500, got %d", w.Code)
	}
	msg := decodeError(t, w)
	if !strings.HasPrefix(msg, compression.MessageVideoFailed) {
		t.Errorf("Expected error starting with %q, got %q", compression.MessageVideoFailed, msg)
	}
	if !strings.Contains(msg, "Invalid data found when processing input") {
		t.Errorf("Expected engine diagnostic in error, got %q", msg)
	}

	if names := scratchEntries(t, env.scratchDir); len(names) != 0 {
		t.Errorf("Expected no leaked scratch files, found %v", names)
	}
	if env.scratch.Removed() != env.scratch.Issued() {
		t.Errorf("Removed %d scratch files, issued %d", env.scratch.Removed(), env.scratch.Issued())
	}

	ch, _ := env.hub.Lookup(jobID)
	events := ch.Events()
	last := events[len(events)-1]
	if !last.Terminal || last.Status != progress.StatusFailed || last.Error == "" {
		t.Errorf("Expected terminal Failed event with error, got %+v", last)
	}

	job, err := env.db.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != database.JobStatusFailed || job.ErrorKind != string(compression.KindEngineError) {
		t.Errorf("Expected failed engine_error record, got %+v", job)
	}
}

func TestCompressVideo_MissingFile(t *testing.T) {
	env := newTestEnv(t, media.ImagingCodec{}, encodeScript)

	req := multipartRequest(t, "/api/compress-video", map[string]string{"videoBitrate": "500k"}, "", nil)
	w := httptest.NewRecorder()
	env.h.CompressVideo(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", w.Code)
	}
	if env.scratch.Issued() != 0 {
		t.Errorf("Expected no scratch paths issued, got %d", env.scratch.Issued())
	}
}

// =============================================================================
// Progress
// =============================================================================

func readEvents(t *testing.T, body string) []progress.Event {
	t.Helper()
	var events []progress.Event
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line, ok := strings.CutPrefix(sc.Text(), "data: ")
		if !ok {
			continue
		}
		var ev progress.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("bad event %q: %v", line, err)
		}
		events = append(events, ev)
	}
	return events
}

func TestCompressProgress_Simulated(t *testing.T) {
	env := newTestEnv(t, media.ImagingCodec{}, encodeScript)

	w := httptest.NewRecorder()
	env.h.CompressProgress(w, httptest.NewRequest(http.MethodPost, "/api/compress-progress", http.NoBody))

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Expected text/event-stream, got %q", ct)
	}

	events := readEvents(t, w.Body.String())
	if len(events) < 2 {
		t.Fatalf("Expected at least 2 events, got %d", len(events))
	}
	if events[0].Progress != 0 || events[0].Status != progress.StatusStarting {
		t.Errorf("Unexpected first event %+v", events[0])
	}

	terminal := 0
	prev := -1
	for _, ev := range events {
		if ev.Progress < prev {
			t.Errorf("progress decreased: %d after %d", ev.Progress, prev)
		}
		prev = ev.Progress
		if ev.Terminal {
			terminal++
		}
	}
	last := events[len(events)-1]
	if terminal != 1 || last.Progress != 100 || last.Status != progress.StatusComplete {
		t.Errorf("Expected one terminal Complete event at 100, got %d terminal, last %+v", terminal, last)
	}
}

func TestJobProgress(t *testing.T) {
	env := newTestEnv(t, media.ImagingCodec{}, encodeScript)

	jobID := uuid.NewString()
	ch, err := env.hub.Channel(jobID)
	if err != nil {
		t.Fatalf("Channel: %v", err)
	}
	ch.Report(0, progress.StatusStarting)
	ch.Report(40, progress.StatusEncoding)
	ch.Complete()

	req := httptest.NewRequest(http.MethodGet, "/api/progress/"+jobID, http.NoBody)
	req = mux.SetURLVars(req, map[string]string{"jobId": jobID})
	w := httptest.NewRecorder()
	env.h.JobProgress(w, req)

	events := readEvents(t, w.Body.String())
	if len(events) != 3 {
		t.Fatalf("Expected 3 events, got %+v", events)
	}
	if events[1].Progress != 40 || !events[2].Terminal {
		t.Errorf("Unexpected events %+v", events)
	}
}

func TestJobProgress_InvalidID(t *testing.T) {
	env := newTestEnv(t, media.ImagingCodec{}, encodeScript)

	req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/api/progress/x", http.NoBody), map[string]string{"jobId": "x"})
	w := httptest.NewRecorder()
	env.h.JobProgress(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}
