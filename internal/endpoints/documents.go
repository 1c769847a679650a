package endpoints

import (
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/thenexusengine/tne_dooh/internal/vast"
	"github.com/thenexusengine/tne_dooh/pkg/logger"
)

// DocumentHandler serves cached VAST documents to screens
type DocumentHandler struct {
	store vast.Store
}

// NewDocumentHandler creates a document handler
func NewDocumentHandler(store vast.Store) *DocumentHandler {
	return &DocumentHandler{store: store}
}

// Handle serves GET /cachedDocuments/:deviceKey/:impressionId. A missing
// document is an empty 200 body.
func (h *DocumentHandler) Handle(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	key := vast.DocumentKey(ps.ByName("deviceKey"), ps.ByName("impressionId"))

	doc, ok, err := h.store.Get(r.Context(), key)
	if err != nil {
		logger.Log.Error().Err(err).Str("key", key).Msg("VAST document lookup failed")
	}
	if !ok {
		logger.Log.Debug().Str("key", key).Msg("VAST document not found")
	}

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	if ok {
		w.Write([]byte(doc))
	}
}
