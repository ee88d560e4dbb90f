package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/solbot/internal/domain"
	"github.com/alanyoungcy/solbot/internal/executor"
)

// Positions exposes the risk controller's live view.
type Positions interface {
	Active() []domain.Position
	Get(mint solana.PublicKey) (domain.Position, bool)
	Mark(mint solana.PublicKey) (decimal.Decimal, bool)
}

// History lists past positions.
type History interface {
	ListHistory(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error)
}

// Enqueuer accepts trade intents.
type Enqueuer interface {
	Enqueue(intent domain.TradeIntent) error
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	positions Positions
	history   History
	exec      Enqueuer
	logger    *slog.Logger
	now       func() time.Time
}

// NewPositionHandler creates a PositionHandler. history and exec may be nil
// when no store is configured or the engine runs in monitor mode.
func NewPositionHandler(positions Positions, history History, exec Enqueuer, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		history:   history,
		exec:      exec,
		logger:    logger,
		now:       time.Now,
	}
}

type positionView struct {
	domain.Position
	MarkPrice     *decimal.Decimal `json:",omitempty"`
	UnrealizedPnL *decimal.Decimal `json:",omitempty"`
}

type listPositionsResponse struct {
	Positions []positionView `json:"positions"`
}

// ListPositions returns all active positions with their latest mark.
// GET /api/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	active := h.positions.Active()
	out := make([]positionView, 0, len(active))
	for _, p := range active {
		v := positionView{Position: p}
		if mark, ok := h.positions.Mark(p.Mint); ok && !mark.IsZero() {
			v.MarkPrice = &mark
			if p.Status == domain.PositionOpen {
				upnl := mark.Mul(p.Tokens()).Sub(p.CostBasis)
				v.UnrealizedPnL = &upnl
			}
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: out})
}

// ListHistory returns stored positions, newest first.
// GET /api/positions/history?limit=&offset=&since=&until=
func (h *PositionHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotImplemented, "position history requires a store")
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	positions, err := h.history.ListHistory(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list position history failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": positions})
}

// ClosePosition requests a manual exit of the open position in mint.
// POST /api/positions/{mint}/close
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	if h.exec == nil {
		writeError(w, http.StatusConflict, "engine is not trading")
		return
	}
	mint, err := solana.PublicKeyFromBase58(r.PathValue("mint"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid mint")
		return
	}
	pos, ok := h.positions.Get(mint)
	if !ok {
		writeError(w, http.StatusNotFound, "no active position")
		return
	}
	if pos.Status != domain.PositionOpen {
		writeError(w, http.StatusConflict, "position is "+string(pos.Status))
		return
	}

	intent := domain.TradeIntent{
		ID:        uuid.NewString(),
		Mint:      mint,
		Side:      domain.SideSell,
		Amount:    pos.Quantity,
		Reason:    domain.ReasonManualClose,
		Source:    "api",
		CreatedAt: h.now(),
	}
	if err := h.exec.Enqueue(intent); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, executor.ErrQueueFull) {
			status = http.StatusServiceUnavailable
		}
		h.logger.ErrorContext(r.Context(), "handler: enqueue manual close failed",
			slog.String("mint", mint.String()),
			slog.String("error", err.Error()),
		)
		writeError(w, status, err.Error())
		return
	}
	h.logger.InfoContext(r.Context(), "manual close requested",
		slog.String("mint", mint.String()),
		slog.String("position", pos.ID),
	)
	writeJSON(w, http.StatusAccepted, map[string]string{"intent_id": intent.ID, "position_id": pos.ID})
}
