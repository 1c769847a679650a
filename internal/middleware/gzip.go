// Package middleware provides the HTTP middleware chain of the DOOH proxy
package middleware

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"strings"
	"sync"
)

// GzipConfig holds gzip compression configuration
type GzipConfig struct {
	Enabled       bool
	MinLength     int // responses shorter than this are sent as is
	Level         int
	ContentTypes  []string
	ExcludedPaths []string
}

// DefaultGzipConfig compresses VAST documents and bid responses
func DefaultGzipConfig() *GzipConfig {
	return &GzipConfig{
		Enabled:   true,
		MinLength: 512,
		Level:     gzip.DefaultCompression,
		ContentTypes: []string{
			"application/xml",
			"application/json",
		},
		ExcludedPaths: []string{"/metrics", "/health"},
	}
}

// Gzip provides response compression middleware
type Gzip struct {
	config *GzipConfig
	pool   sync.Pool
}

// NewGzip creates the middleware. A nil config uses the defaults.
func NewGzip(cfg *GzipConfig) *Gzip {
	if cfg == nil {
		cfg = DefaultGzipConfig()
	}
	level := cfg.Level
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}

	g := &Gzip{config: cfg}
	g.pool.New = func() any {
		w, _ := gzip.NewWriterLevel(io.Discard, level)
		return w
	}
	return g
}

// bufferedWriter holds the whole response so the size and content type are
// known before deciding to compress
type bufferedWriter struct {
	http.ResponseWriter
	buf    bytes.Buffer
	status int
}

func (b *bufferedWriter) WriteHeader(code int) {
	if b.status == 0 {
		b.status = code
	}
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	return b.buf.Write(p)
}

// Middleware returns the gzip compression middleware handler
func (g *Gzip) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.config.Enabled || g.excluded(r.URL.Path) || !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}

		bw := &bufferedWriter{ResponseWriter: w}
		next.ServeHTTP(bw, r)
		if bw.status == 0 {
			bw.status = http.StatusOK
		}

		data := bw.buf.Bytes()
		if len(data) < g.config.MinLength || !g.compressible(w.Header().Get("Content-Type")) {
			w.WriteHeader(bw.status)
			w.Write(data)
			return
		}

		gz, ok := g.pool.Get().(*gzip.Writer)
		if !ok || gz == nil {
			w.WriteHeader(bw.status)
			w.Write(data)
			return
		}
		defer func() {
			gz.Reset(io.Discard)
			g.pool.Put(gz)
		}()

		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Del("Content-Length")
		w.Header().Add("Vary", "Accept-Encoding")
		w.WriteHeader(bw.status)
		gz.Reset(w)
		gz.Write(data)
		gz.Close()
	})
}

func (g *Gzip) excluded(path string) bool {
	for _, p := range g.config.ExcludedPaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func (g *Gzip) compressible(contentType string) bool {
	if i := strings.Index(contentType, ";"); i != -1 {
		contentType = contentType[:i]
	}
	contentType = strings.TrimSpace(contentType)
	for _, ct := range g.config.ContentTypes {
		if strings.EqualFold(ct, contentType) {
			return true
		}
	}
	return false
}
