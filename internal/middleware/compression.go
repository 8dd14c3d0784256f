package middleware

import (
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// CompressionConfig holds configuration for the gzip middleware.
type CompressionConfig struct {
	// MinSize is the smallest body, in bytes, worth compressing.
	MinSize int
	// Level is the gzip level (gzip.BestSpeed to gzip.BestCompression).
	Level int
	// CompressibleTypes lists the media types that are compressed.
	// Compressed media results are already entropy coded and never listed.
	CompressibleTypes []string
}

// DefaultCompressionConfig compresses JSON and text bodies of 1KB or more.
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		MinSize: 1024,
		Level:   gzip.DefaultCompression,
		CompressibleTypes: []string{
			"text/html",
			"text/css",
			"text/plain",
			"text/javascript",
			"application/json",
			"application/javascript",
			"image/svg+xml",
		},
	}
}

var (
	gzipPoolsMu sync.Mutex
	gzipPools   = map[int]*sync.Pool{}
)

// gzipPool returns the writer pool for a compression level.
func gzipPool(level int) *sync.Pool {
	gzipPoolsMu.Lock()
	defer gzipPoolsMu.Unlock()

	if p, ok := gzipPools[level]; ok {
		return p
	}
	p := &sync.Pool{
		New: func() interface{} {
			w, err := gzip.NewWriterLevel(io.Discard, level)
			if err != nil {
				w, _ = gzip.NewWriterLevel(io.Discard, gzip.DefaultCompression)
			}
			return w
		},
	}
	gzipPools[level] = p
	return p
}

// writeMode is the gzip writer's decision for one response.
type writeMode int

const (
	modeUndecided writeMode = iota
	modeBuffering           // compressible type, waiting for MinSize bytes
	modePlain
	modeGzip
)

// gzipResponseWriter decides per response whether to compress. Bodies
// whose type is not compressible are passed through from the first byte,
// so large media results are never held in memory here.
type gzipResponseWriter struct {
	http.ResponseWriter
	config     CompressionConfig
	pool       *sync.Pool
	gz         *gzip.Writer
	mode       writeMode
	statusCode int
	buffer     []byte
}

func newGzipResponseWriter(w http.ResponseWriter, config CompressionConfig) *gzipResponseWriter {
	return &gzipResponseWriter{
		ResponseWriter: w,
		config:         config,
		pool:           gzipPool(config.Level),
		statusCode:     http.StatusOK,
	}
}

// WriteHeader records the status; it is sent once the encoding is known.
func (g *gzipResponseWriter) WriteHeader(statusCode int) {
	if g.mode == modeUndecided {
		g.statusCode = statusCode
	}
}

func (g *gzipResponseWriter) Write(data []byte) (int, error) {
	if g.mode == modeUndecided {
		if g.compressible() {
			g.mode = modeBuffering
		} else {
			g.start(modePlain)
		}
	}

	switch g.mode {
	case modeBuffering:
		g.buffer = append(g.buffer, data...)
		if len(g.buffer) >= g.config.MinSize {
			if err := g.flushBuffer(modeGzip); err != nil {
				return 0, err
			}
		}
		return len(data), nil
	case modeGzip:
		return g.gz.Write(data)
	default:
		return g.ResponseWriter.Write(data)
	}
}

// compressible reports whether the response type is worth compressing.
func (g *gzipResponseWriter) compressible() bool {
	h := g.Header()
	if h.Get("Content-Encoding") != "" {
		return false
	}
	mediaType, _, _ := strings.Cut(h.Get("Content-Type"), ";")
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	if mediaType == "" {
		return false
	}
	for _, t := range g.config.CompressibleTypes {
		if mediaType == t {
			return true
		}
	}
	return false
}

// start sends the headers for mode.
func (g *gzipResponseWriter) start(mode writeMode) {
	g.mode = mode
	if mode == modeGzip {
		h := g.Header()
		h.Del("Content-Length")
		h.Set("Content-Encoding", "gzip")
		h.Add("Vary", "Accept-Encoding")
		g.gz = g.pool.Get().(*gzip.Writer)
		g.gz.Reset(g.ResponseWriter)
	}
	g.ResponseWriter.WriteHeader(g.statusCode)
}

// flushBuffer commits to mode and writes what was buffered.
func (g *gzipResponseWriter) flushBuffer(mode writeMode) error {
	g.start(mode)
	buf := g.buffer
	g.buffer = nil
	if len(buf) == 0 {
		return nil
	}
	var err error
	if mode == modeGzip {
		_, err = g.gz.Write(buf)
	} else {
		_, err = g.ResponseWriter.Write(buf)
	}
	return err
}

// Close settles a response that never reached MinSize and returns the gzip
// writer to its pool.
func (g *gzipResponseWriter) Close() error {
	switch g.mode {
	case modeUndecided:
		g.start(modePlain)
	case modeBuffering:
		if err := g.flushBuffer(modePlain); err != nil {
			return err
		}
	}

	if g.gz == nil {
		return nil
	}
	err := g.gz.Close()
	g.pool.Put(g.gz)
	g.gz = nil
	return err
}

func (g *gzipResponseWriter) Unwrap() http.ResponseWriter {
	return g.ResponseWriter
}

func (g *gzipResponseWriter) Flush() {
	switch g.mode {
	case modeUndecided:
		g.start(modePlain)
	case modeBuffering:
		_ = g.flushBuffer(modeGzip)
	}
	if g.gz != nil {
		_ = g.gz.Flush()
	}
	if f, ok := g.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Compression returns a middleware that gzips JSON and text responses.
func Compression(config CompressionConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
				next.ServeHTTP(w, r)
				return
			}

			// Progress streams must reach the client per event.
			if r.Header.Get("Upgrade") != "" || strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
				next.ServeHTTP(w, r)
				return
			}

			gzw := newGzipResponseWriter(w, config)
			defer gzw.Close()
			next.ServeHTTP(gzw, r)
		})
	}
}
