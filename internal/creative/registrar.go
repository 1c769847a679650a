package creative

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/buger/jsonparser"
	"golang.org/x/sync/singleflight"

	"github.com/thenexusengine/tne_dooh/internal/config"
	"github.com/thenexusengine/tne_dooh/internal/partner"
	"github.com/thenexusengine/tne_dooh/internal/token"
	"github.com/thenexusengine/tne_dooh/internal/transport"
	"github.com/thenexusengine/tne_dooh/pkg/logger"
)

// conflictMarker identifies the platform's "already registered" answer
const conflictMarker = "Must be unique inside"

// Result is the outcome of a registration
type Result int

const (
	Failed Result = iota
	Created
	AlreadyPresent
)

func (r Result) String() string {
	switch r {
	case Created:
		return "created"
	case AlreadyPresent:
		return "already_present"
	}
	return "failed"
}

// Usable reports whether the creative can be referenced in a bid
func (r Result) Usable() bool {
	return r == Created || r == AlreadyPresent
}

// RegistrarConfig holds the creative platform endpoint
type RegistrarConfig struct {
	BaseURL      string
	CreativePath string
	Timeout      time.Duration
}

// MetricsRecorder records registration outcomes
type MetricsRecorder interface {
	RecordRegistration(partner, result string)
}

type tokenInvalidator interface {
	Invalidate(p partner.Partner)
}

// Registrar registers creatives at most once per content URL
type Registrar struct {
	config  RegistrarConfig
	client  transport.Doer
	tokens  token.Source
	dedup   *DedupCache
	metrics MetricsRecorder
	group   singleflight.Group
}

// NewRegistrar creates a registrar. metrics may be nil.
func NewRegistrar(cfg RegistrarConfig, client transport.Doer, tokens token.Source, dedup *DedupCache, metrics MetricsRecorder) *Registrar {
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultPartnerTimeout
	}
	return &Registrar{
		config:  cfg,
		client:  client,
		tokens:  tokens,
		dedup:   dedup,
		metrics: metrics,
	}
}

// Known reports whether url is already registered, without network calls
// to the creative platform
func (r *Registrar) Known(ctx context.Context, url string) bool {
	ok, err := r.dedup.Exists(ctx, url)
	if err != nil {
		logger.Log.Warn().Err(err).Str("url", url).Msg("Creative lookup failed")
		return false
	}
	return ok
}

// RegisterIfAbsent registers req unless its content URL is already known.
// Concurrent calls for one URL share a single registration, which runs
// detached from any one caller's deadline. A caller whose context ends first
// gets Failed while the registration carries on for the others.
func (r *Registrar) RegisterIfAbsent(ctx context.Context, req *Request, p partner.Partner, display string) Result {
	if req == nil || req.ContentURL == "" || req.ExternalID == "" {
		return Failed
	}

	ch := r.group.DoChan(req.ContentURL, func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.RegistrationBudget)
		defer cancel()
		return r.register(rctx, req, p, display), nil
	})

	var result Result
	select {
	case res := <-ch:
		result = res.Val.(Result)
	case <-ctx.Done():
		logger.Log.Warn().
			Err(ctx.Err()).
			Str("partner", p.String()).
			Str("url", req.ContentURL).
			Msg("Stopped waiting for creative registration")
		result = Failed
	}

	if r.metrics != nil {
		r.metrics.RecordRegistration(p.String(), result.String())
	}
	return result
}

func (r *Registrar) register(ctx context.Context, req *Request, p partner.Partner, display string) Result {
	log := logger.Log.With().
		Str("partner", p.String()).
		Str("display", display).
		Str("url", req.ContentURL).
		Str("external_id", req.ExternalID).
		Logger()

	exists, err := r.dedup.Exists(ctx, req.ContentURL)
	if err != nil {
		log.Error().Err(err).Msg("Creative ledger lookup failed")
		return Failed
	}
	if exists {
		log.Debug().Msg("Creative already registered")
		return AlreadyPresent
	}

	bearer, err := r.tokens.Token(ctx, p)
	if err != nil {
		log.Error().Err(err).Msg("No bearer token for creative registration")
		return Failed
	}

	body, err := json.Marshal(req)
	if err != nil {
		log.Error().Err(transport.NewMarshalError(p.String(), err)).Msg("Creative registration failed")
		return Failed
	}

	httpReq := transport.JSONRequest(http.MethodPost, r.config.BaseURL+r.config.CreativePath, body)
	httpReq.Headers.Set("Authorization", bearer)

	resp, err := r.client.Do(ctx, httpReq, r.config.Timeout)
	if err != nil {
		log.Error().Err(transport.NewCallError(p.String(), err)).Msg("Creative registration failed")
		return Failed
	}

	switch {
	case resp.IsSuccess():
		id, err := extractID(resp.Body)
		if err != nil {
			log.Error().Err(transport.NewParseError(p.String(), err)).Msg("Creative registration response unreadable")
			return Failed
		}
		if err := r.dedup.Record(ctx, &id, req.ContentURL); err != nil {
			log.Error().Err(err).Msg("Creative registered but not recorded")
		}
		log.Info().Str("reach_id", id).Msg("Creative registered")
		return Created

	case resp.IsError() && strings.Contains(string(resp.Body), conflictMarker):
		if err := r.dedup.Record(ctx, nil, req.ContentURL); err != nil {
			log.Error().Err(err).Msg("Existing creative not recorded")
		}
		log.Info().Msg("Creative already present downstream")
		return AlreadyPresent
	}

	if resp.StatusCode == http.StatusUnauthorized {
		if inv, ok := r.tokens.(tokenInvalidator); ok {
			inv.Invalidate(p)
		}
	}
	log.Error().
		Err(transport.NewBadStatusError(p.String(), resp.StatusCode, resp.Body)).
		Msg("Creative registration rejected")
	return Failed
}

// extractID reads "id" as a number or string
func extractID(body []byte) (string, error) {
	v, dataType, _, err := jsonparser.Get(body, "id")
	if err != nil {
		return "", err
	}
	switch dataType {
	case jsonparser.String:
		return jsonparser.ParseString(v)
	case jsonparser.Number:
		return string(v), nil
	}
	return "", fmt.Errorf("id has unexpected type %s", dataType)
}
