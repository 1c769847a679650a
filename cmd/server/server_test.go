package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/thenexusengine/tne_dooh/internal/endpoints"
	"github.com/thenexusengine/tne_dooh/internal/exchange"
	"github.com/thenexusengine/tne_dooh/internal/metrics"
	"github.com/thenexusengine/tne_dooh/internal/middleware"
	"github.com/thenexusengine/tne_dooh/internal/openrtb"
	"github.com/thenexusengine/tne_dooh/internal/partner"
	"github.com/thenexusengine/tne_dooh/internal/transport"
	"github.com/thenexusengine/tne_dooh/internal/vast"
	"github.com/thenexusengine/tne_dooh/pkg/logger"
)

func init() {
	logger.Init(logger.Config{
		Level:      "error",
		Format:     "json",
		TimeFormat: time.RFC3339,
	})
}

type disabledRouter struct{ calls int }

func (d *disabledRouter) RouteBid(ctx context.Context, req *openrtb.BidRequest, p partner.Partner) (*exchange.Result, error) {
	d.calls++
	return nil, exchange.ErrPartnerDisabled
}

type nopRelay struct{ urls []string }

func (n *nopRelay) Enqueue(url string) bool {
	n.urls = append(n.urls, url)
	return true
}

func testHandlers(t *testing.T, contextPath string, router endpoints.BidRouter) *handlers {
	t.Helper()
	docs := vast.NewLocalStore(1024*1024, time.Minute)
	if err := docs.Put(context.Background(), vast.DocumentKey("disp-1", "imp-1"), "<VAST/>"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	return &handlers{
		contextPath: contextPath,
		bids:        endpoints.NewBidHandler(router),
		events:      endpoints.NewEventHandler(&nopRelay{}, nil),
		documents:   endpoints.NewDocumentHandler(docs),
		health:      endpoints.NewHealthHandler(nil),
		metrics:     metrics.NewMetrics("test").Handler(),
	}
}

func TestNewServer_RequiresDatabase(t *testing.T) {
	cfg := &ServerConfig{Port: "8080", Timeout: time.Second}
	if _, err := NewServer(cfg); err == nil {
		t.Fatal("expected error without a registry database")
	}
}

func TestRoutes(t *testing.T) {
	router := &disabledRouter{}
	h := testHandlers(t, "/starproxy", router).routes()

	tests := []struct {
		name   string
		method string
		target string
		body   string
		want   int
	}{
		{"bid on disabled partner", http.MethodPost, "/starproxy/bids/hivestack", `{"id":"r1","imp":[{"id":"1"}]}`, http.StatusNoContent},
		{"bid on unknown partner", http.MethodPost, "/starproxy/bids/acme", `{"id":"r1"}`, http.StatusBadRequest},
		{"bid with wrong method", http.MethodGet, "/starproxy/bids/hivestack", "", http.StatusMethodNotAllowed},
		{"cached document", http.MethodGet, "/starproxy/cachedDocuments/disp-1/imp-1", "", http.StatusOK},
		{"win without params", http.MethodGet, "/starproxy/win", "", http.StatusBadRequest},
		{"loss without params", http.MethodGet, "/starproxy/loss", "", http.StatusBadRequest},
		{"liveness", http.MethodGet, "/starproxy/health", "", http.StatusOK},
		{"readiness", http.MethodGet, "/starproxy/health/ready", "", http.StatusOK},
		{"metrics", http.MethodGet, "/starproxy/metrics", "", http.StatusOK},
		{"outside context path", http.MethodGet, "/health", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.target, rr.Code, tt.want)
			}
		})
	}

	if router.calls != 1 {
		t.Errorf("expected one routed bid, got %d", router.calls)
	}
}

func TestRoutes_DocumentBody(t *testing.T) {
	h := testHandlers(t, "", &disabledRouter{}).routes()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/cachedDocuments/disp-1/imp-1", nil))
	if rr.Body.String() != "<VAST/>" {
		t.Errorf("unexpected body %q", rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/xml") {
		t.Errorf("unexpected content type %q", ct)
	}
}

func TestServer_BuildHandler(t *testing.T) {
	s := &Server{
		config:  &ServerConfig{RateLimitRPS: 1, RateLimitBurst: 1},
		metrics: metrics.NewMetrics("test"),
	}
	s.rateLimiter = middleware.NewRateLimiter(&middleware.RateLimitConfig{Enabled: true, RequestsPerSecond: 1, BurstSize: 1}, s.metrics)
	defer s.rateLimiter.Stop()

	h := s.buildHandler(testHandlers(t, "", &disabledRouter{}).routes())

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/health", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("first request = %d", first.Code)
	}
	if first.Header().Get("X-Request-ID") == "" {
		t.Error("expected a generated request id")
	}

	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/health", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("second request = %d, want 429", second.Code)
	}
}

func TestLoggingMiddleware_WithExistingRequestID(t *testing.T) {
	h := loggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Request-ID"); got != "req-42" {
		t.Errorf("X-Request-ID = %q", got)
	}
	if rr.Code != http.StatusTeapot {
		t.Errorf("status = %d", rr.Code)
	}
}

func TestServer_CircuitBreakerHandler(t *testing.T) {
	s := &Server{metrics: metrics.NewMetrics("test")}
	s.relay = endpoints.NewLossRelay(transport.NewClient(time.Second), 1, 1, time.Second, nil)
	defer s.relay.Close()

	s.guard(transport.NewClient(time.Second), partner.Hivestack)
	s.guard(transport.NewClient(time.Second), partner.Vistar)

	rr := httptest.NewRecorder()
	s.circuitBreakerHandler(rr, httptest.NewRequest(http.MethodGet, "/admin/circuit-breaker", nil), httprouter.Params{})

	var body struct {
		Partners  []transport.BreakerStats `json:"partners"`
		LossRelay endpoints.LossRelayStats `json:"loss_relay"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(body.Partners) != 2 {
		t.Fatalf("expected two breakers, got %d", len(body.Partners))
	}
	if body.Partners[0].Name != "hivestack" || body.Partners[0].State != transport.StateClosed {
		t.Errorf("unexpected breaker %+v", body.Partners[0])
	}
}

func TestResponseWriter_WriteHeader(t *testing.T) {
	rr := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rr, statusCode: http.StatusOK}
	rw.WriteHeader(http.StatusNotFound)
	if rw.statusCode != http.StatusNotFound || rr.Code != http.StatusNotFound {
		t.Errorf("status not captured: %d %d", rw.statusCode, rr.Code)
	}
}
