package handler

import (
	"net/http"
	"strconv"

	"github.com/alanyoungcy/solbot/internal/domain"
)

// IntentSource reports recently emitted intents.
type IntentSource interface {
	ActiveName() string
	RecentIntents(limit int) []domain.TradeIntent
}

// IntentHandler serves the strategy engine's recent decisions.
type IntentHandler struct {
	source IntentSource
}

// NewIntentHandler creates an IntentHandler.
func NewIntentHandler(source IntentSource) *IntentHandler {
	return &IntentHandler{source: source}
}

// ListRecent returns the newest intents first.
// GET /api/intents?limit=
func (h *IntentHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = min(n, 500)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"strategy": h.source.ActiveName(),
		"intents":  h.source.RecentIntents(limit),
	})
}
