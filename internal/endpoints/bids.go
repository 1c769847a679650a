// Package endpoints provides HTTP endpoint handlers
package endpoints

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/julienschmidt/httprouter"
	log "github.com/rs/zerolog/log"

	"github.com/thenexusengine/tne_dooh/internal/config"
	"github.com/thenexusengine/tne_dooh/internal/exchange"
	"github.com/thenexusengine/tne_dooh/internal/openrtb"
	"github.com/thenexusengine/tne_dooh/internal/partner"
	"github.com/thenexusengine/tne_dooh/pkg/logger"
)

// BidRouter answers one bid request through one partner
type BidRouter interface {
	RouteBid(ctx context.Context, req *openrtb.BidRequest, p partner.Partner) (*exchange.Result, error)
}

// BidHandler handles POST /bids/:partner
type BidHandler struct {
	router      BidRouter
	maxBodySize int64
}

// NewBidHandler creates a bid handler
func NewBidHandler(router BidRouter) *BidHandler {
	return &BidHandler{router: router, maxBodySize: config.DefaultMaxBodySize}
}

// Handle is the httprouter handle for the bid endpoint
func (h *BidHandler) Handle(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	p, err := partner.Parse(ps.ByName("partner"))
	if err != nil {
		logger.Log.Warn().Str("partner", ps.ByName("partner")).Msg("Bid for unknown partner")
		writeError(w, "unknown partner", http.StatusBadRequest)
		return
	}

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBodySize))
	if err != nil {
		writeError(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	var req openrtb.BidRequest
	if err := json.Unmarshal(body, &req); err != nil {
		logger.Log.Warn().Err(err).Str("partner", p.String()).Msg("Invalid JSON in bid request")
		writeError(w, "Invalid JSON in request body", http.StatusBadRequest)
		return
	}

	ctx := logger.WithRequestID(r.Context(), req.ID)
	result, err := h.router.RouteBid(ctx, &req, p)
	if errors.Is(err, exchange.ErrPartnerDisabled) {
		logger.Log.Info().Str("partner", p.String()).Str("request_id", req.ID).Msg("Partner disabled, not bidding")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		logger.Log.Error().Err(err).Str("partner", p.String()).Str("request_id", req.ID).Msg("Bid routing failed")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if result.Outcome.IsNoFill() {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result.Response); err != nil {
		log.Error().Err(err).Str("request_id", req.ID).Msg("failed to encode bid response")
	}
}

// writeError writes a JSON error body
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		log.Error().Err(err).Str("message", message).Msg("failed to encode error response")
	}
}
