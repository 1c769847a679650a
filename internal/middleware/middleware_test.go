package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	})
}

type rejectCounter struct{ n int }

func (c *rejectCounter) IncRateLimitRejected() { c.n++ }

func TestRateLimiter_RejectsOverBurst(t *testing.T) {
	rec := &rejectCounter{}
	rl := NewRateLimiter(&RateLimitConfig{Enabled: true, RequestsPerSecond: 1, BurstSize: 2}, rec)
	defer rl.Stop()
	h := rl.Middleware(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/bids/hivestack", nil)
		req.RemoteAddr = "10.1.1.1:4000"
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("unexpected codes %v", codes)
	}
	if rec.n != 1 {
		t.Errorf("expected one rejection recorded, got %d", rec.n)
	}

	// a different client has its own bucket
	req := httptest.NewRequest(http.MethodPost, "/bids/hivestack", nil)
	req.RemoteAddr = "10.1.1.2:4000"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("expected second client allowed, got %d", rr.Code)
	}
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{Enabled: false, RequestsPerSecond: 1, BurstSize: 1}, nil)
	defer rl.Stop()
	h := rl.Middleware(okHandler())
	for i := 0; i < 5; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/win", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: got %d", i, rr.Code)
		}
	}
}

func TestRateLimiter_ClientIP(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 10,
		BurstSize:         10,
		TrustedProxies:    ParseTrustedProxies("10.0.0.0/8, 192.168.1.1,bogus"),
	}, nil)
	defer rl.Stop()

	if n := len(rl.config.TrustedProxies); n != 2 {
		t.Fatalf("expected 2 trusted networks, got %d", n)
	}

	tests := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{"untrusted peer ignores header", "203.0.113.5:1234", "1.2.3.4", "203.0.113.5"},
		{"trusted peer uses rightmost untrusted hop", "10.0.0.1:1234", "1.2.3.4, 5.6.7.8, 10.0.0.2", "5.6.7.8"},
		{"trusted peer without header", "192.168.1.1:80", "", "192.168.1.1"},
		{"ipv6 peer", "[2001:db8::1]:443", "", "2001:db8::1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := rl.clientIP(req); got != tt.want {
				t.Errorf("clientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSizeLimiter(t *testing.T) {
	s := NewSizeLimiter(&SizeLimitConfig{Enabled: true, MaxBodySize: 16, MaxURLLength: 32})
	h := s.Middleware(okHandler())

	tests := []struct {
		name   string
		target string
		body   string
		want   int
	}{
		{"small request", "/bids/vistar", "{}", http.StatusOK},
		{"long url", "/win?" + strings.Repeat("a", 64), "", http.StatusRequestURITooLong},
		{"large body", "/bids/vistar", strings.Repeat("x", 64), http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, tt.target, strings.NewReader(tt.body)))
			if rr.Code != tt.want {
				t.Errorf("got %d, want %d", rr.Code, tt.want)
			}
		})
	}

	s.SetMaxBodySize(128)
	if got := s.GetConfig().MaxBodySize; got != 128 {
		t.Errorf("MaxBodySize = %d", got)
	}
}

func TestGzip(t *testing.T) {
	doc := "<VAST version=\"4.0\">" + strings.Repeat("<Ad/>", 200) + "</VAST>"
	g := NewGzip(nil)
	h := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(doc))
	}))

	req := httptest.NewRequest(http.MethodGet, "/cachedDocuments/a/b", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip encoding, headers %v", rr.Header())
	}
	zr, err := gzip.NewReader(rr.Body)
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	body, _ := io.ReadAll(zr)
	if string(body) != doc {
		t.Error("decompressed body mismatch")
	}

	// clients without gzip support get the plain body
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/cachedDocuments/a/b", nil))
	if rr.Header().Get("Content-Encoding") != "" || rr.Body.String() != doc {
		t.Error("expected uncompressed response")
	}
}

func TestGzip_SkipsSmallAndExcluded(t *testing.T) {
	g := NewGzip(nil)
	h := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"not_ready"}`))
	}))

	for _, path := range []string{"/health/ready", "/bids/hivestack"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Accept-Encoding", "gzip")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Header().Get("Content-Encoding") != "" {
			t.Errorf("%s: unexpected compression", path)
		}
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: status %d not preserved", path, rr.Code)
		}
	}
}
