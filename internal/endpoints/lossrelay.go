package endpoints

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thenexusengine/tne_dooh/internal/config"
	"github.com/thenexusengine/tne_dooh/internal/transport"
	"github.com/thenexusengine/tne_dooh/pkg/logger"
)

// RelayMetrics records relay drops
type RelayMetrics interface {
	RecordLossNotifyDropped()
}

// LossRelay forwards partner expiration URLs on a bounded worker pool. A
// full queue drops the notification instead of blocking the handler.
type LossRelay struct {
	client  transport.Doer
	timeout time.Duration
	metrics RelayMetrics

	queue  chan string
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	sent    atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

// LossRelayStats is a point-in-time view of the relay
type LossRelayStats struct {
	Sent    int64 `json:"sent"`
	Failed  int64 `json:"failed"`
	Dropped int64 `json:"dropped"`
	Queued  int   `json:"queued"`
}

// NewLossRelay starts the worker pool. Non-positive sizes use the defaults.
// metrics may be nil.
func NewLossRelay(client transport.Doer, workers, queueSize int, timeout time.Duration, metrics RelayMetrics) *LossRelay {
	if workers <= 0 {
		workers = config.LossNotifyWorkers
	}
	if queueSize <= 0 {
		queueSize = config.LossNotifyQueueSize
	}
	if timeout <= 0 {
		timeout = config.LossNotifyTimeout
	}

	r := &LossRelay{
		client:  client,
		timeout: timeout,
		metrics: metrics,
		queue:   make(chan string, queueSize),
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return r
}

// Enqueue schedules a GET of url and reports whether it was accepted
func (r *LossRelay) Enqueue(url string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}

	select {
	case r.queue <- url:
		return true
	default:
		r.dropped.Add(1)
		if r.metrics != nil {
			r.metrics.RecordLossNotifyDropped()
		}
		logger.Log.Warn().Str("url", url).Msg("Loss relay queue full, dropping notification")
		return false
	}
}

func (r *LossRelay) worker() {
	defer r.wg.Done()
	for url := range r.queue {
		r.send(url)
	}
}

func (r *LossRelay) send(url string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	resp, err := r.client.Do(ctx, &transport.Request{Method: http.MethodGet, URI: url}, r.timeout)
	if err != nil {
		r.failed.Add(1)
		logger.Log.Warn().Err(err).Str("url", url).Msg("Loss relay failed")
		return
	}
	if !resp.IsSuccess() {
		r.failed.Add(1)
		logger.Log.Warn().Int("status", resp.StatusCode).Str("url", url).Msg("Loss relay rejected")
		return
	}
	r.sent.Add(1)
}

// Close stops accepting URLs and waits for queued ones to be sent
func (r *LossRelay) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	r.wg.Wait()
}

// Stats returns relay counters
func (r *LossRelay) Stats() LossRelayStats {
	return LossRelayStats{
		Sent:    r.sent.Load(),
		Failed:  r.failed.Load(),
		Dropped: r.dropped.Load(),
		Queued:  len(r.queue),
	}
}
