package handlers

import (
	"errors"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"media-compressor/internal/compression"
	"media-compressor/internal/logging"
	"media-compressor/internal/media"
	"media-compressor/internal/mediatypes"
	"media-compressor/internal/options"
	"media-compressor/internal/progress"
	"media-compressor/internal/streaming"
)

// multipartMemory is how much of an upload is held in memory before the
// multipart reader spills to a temporary file.
const multipartMemory = 32 << 20

// Form fields that are not compression options.
const (
	fieldFile  = "file"
	fieldJobID = "jobId"
)

// CompressImage handles image compression.
// POST /api/compress-image (also /api/compress)
func (h *Handlers) CompressImage(w http.ResponseWriter, r *http.Request) {
	h.compress(w, r, mediatypes.KindImage)
}

// CompressVideo handles video compression.
// POST /api/compress-video
func (h *Handlers) CompressVideo(w http.ResponseWriter, r *http.Request) {
	h.compress(w, r, mediatypes.KindVideo)
}

func (h *Handlers) compress(w http.ResponseWriter, r *http.Request, kind mediatypes.Kind) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			logging.Warn("Rejected %s upload over %d bytes", kind, h.maxUploadBytes)
			writeJSONError(w, compression.MessageTooLarge, http.StatusRequestEntityTooLarge)
			return
		}
		// Anything else is treated as a request without a file.
		logging.Debug("Multipart parse failed: %v", err)
	}
	if r.MultipartForm != nil {
		defer func() {
			if err := r.MultipartForm.RemoveAll(); err != nil {
				logging.Warn("Failed to remove multipart temp files: %v", err)
			}
		}()
	}

	jobID := formValue(r, fieldJobID)
	if jobID == "" {
		jobID = uuid.NewString()
	}
	ch, release, err := h.hub.Claim(jobID)
	if errors.Is(err, progress.ErrJobIDInUse) {
		writeJSONError(w, "Job ID already used", http.StatusConflict)
		return
	}
	if err != nil {
		writeJSONError(w, "Invalid job ID", http.StatusBadRequest)
		return
	}
	defer release()
	w.Header().Set("X-Job-Id", jobID)

	req := compression.Request{
		JobID:    jobID,
		Kind:     kind,
		Progress: ch,
	}
	if r.MultipartForm != nil {
		req.Options = options.FromValues(r.MultipartForm.Value)
	}

	file, header, err := r.FormFile(fieldFile)
	if err == nil {
		defer closeFile(file)
		req.Input = file
		req.Name = header.Filename
	}

	res, err := h.controller.Compress(r.Context(), req)
	if err != nil {
		writeCompressionError(w, err)
		return
	}

	h.deliver(w, r, res, ch)
}

func (h *Handlers) deliver(w http.ResponseWriter, r *http.Request, res *compression.Result, ch *progress.Channel) {
	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": res.Filename}))
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Original-Size", strconv.FormatInt(res.InputSize, 10))
	w.Header().Set("X-Compressed-Size", strconv.FormatInt(res.Size(), 10))

	if err := streaming.Deliver(r.Context(), w, res.Data, ch, h.delivery); err != nil {
		logging.Warn("Job %s: result delivery failed: %v", res.JobID, err)
		ch.Fail(errors.New("result delivery failed"))
	}
}

// writeCompressionError maps a controller failure to its status code and
// client message.
func writeCompressionError(w http.ResponseWriter, err error) {
	message := compression.MessageFailed
	var cerr *compression.Error
	if errors.As(err, &cerr) {
		message = cerr.UserMessage()
	}
	status := compression.KindOf(err).HTTPStatus()
	if errors.Is(err, media.ErrUnsupportedFormat) {
		status = http.StatusUnprocessableEntity
	}
	writeJSONError(w, message, status)
}

// formValue reads a field from the multipart form, falling back to the
// query string.
func formValue(r *http.Request, key string) string {
	if r.MultipartForm != nil {
		if v := r.MultipartForm.Value[key]; len(v) > 0 {
			return v[0]
		}
	}
	return r.URL.Query().Get(key)
}

func closeFile(f multipart.File) {
	if err := f.Close(); err != nil {
		logging.Warn("Failed to close upload: %v", err)
	}
}
