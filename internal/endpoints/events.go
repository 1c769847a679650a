package endpoints

import (
	"net/http"
	"net/url"

	"github.com/julienschmidt/httprouter"

	"github.com/thenexusengine/tne_dooh/pkg/logger"
)

// Relay forwards partner loss URLs
type Relay interface {
	Enqueue(url string) bool
}

// EventMetrics records SSP notifications
type EventMetrics interface {
	RecordNotification(kind, partner string)
}

var (
	winParams  = []string{"auction", "bid", "adid", "partner", "device"}
	lossParams = []string{"auction", "bid", "adid", "partner", "device", "loss"}
)

// EventHandler handles the SSP win and loss notifications
type EventHandler struct {
	relay   Relay
	metrics EventMetrics
}

// NewEventHandler creates an event handler. metrics may be nil.
func NewEventHandler(relay Relay, metrics EventMetrics) *EventHandler {
	return &EventHandler{relay: relay, metrics: metrics}
}

// Win handles GET /win
func (h *EventHandler) Win(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	q := r.URL.Query()
	if missing := firstMissing(q, winParams); missing != "" {
		writeError(w, "missing "+missing+" parameter", http.StatusBadRequest)
		return
	}

	logger.Log.Info().
		Str("auction_id", q.Get("auction")).
		Str("bid_id", q.Get("bid")).
		Str("adid", q.Get("adid")).
		Str("partner", q.Get("partner")).
		Str("device", q.Get("device")).
		Msg("Win")
	h.record("win", q.Get("partner"))

	w.WriteHeader(http.StatusOK)
}

// Loss handles GET /loss. A lossurl parameter is relayed to the partner.
func (h *EventHandler) Loss(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	q := r.URL.Query()
	if missing := firstMissing(q, lossParams); missing != "" {
		writeError(w, "missing "+missing+" parameter", http.StatusBadRequest)
		return
	}

	code := LookupLossCode(q.Get("loss"))
	logger.Log.Info().
		Str("auction_id", q.Get("auction")).
		Str("bid_id", q.Get("bid")).
		Str("adid", q.Get("adid")).
		Str("partner", q.Get("partner")).
		Str("device", q.Get("device")).
		Str("loss_code", code.Code).
		Str("loss_description", code.Description).
		Str("loss_explanation", code.Explanation).
		Msg("Loss")
	h.record("loss", q.Get("partner"))

	if lossURL := q.Get("lossurl"); lossURL != "" && h.relay != nil {
		if u, err := url.Parse(lossURL); err != nil || !u.IsAbs() {
			logger.Log.Warn().Str("lossurl", lossURL).Msg("Ignoring invalid loss url")
		} else {
			h.relay.Enqueue(lossURL)
		}
	}

	w.WriteHeader(http.StatusOK)
}

func (h *EventHandler) record(kind, partner string) {
	if h.metrics != nil {
		h.metrics.RecordNotification(kind, partner)
	}
}

func firstMissing(q url.Values, required []string) string {
	for _, name := range required {
		if q.Get(name) == "" {
			return name
		}
	}
	return ""
}
