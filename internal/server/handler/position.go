package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/oddslab/makerbot/internal/domain"
)

// PositionService is the engine surface the position handler drives.
type PositionService interface {
	CreatePosition(ctx context.Context, spec domain.PositionSpec) (domain.Position, error)
	ListPositions() []domain.Position
	GetPosition(id string) (domain.Position, error)
	EditPosition(ctx context.Context, id string, patch domain.PositionPatch) error
	ClosePosition(ctx context.Context, id string) error
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	engine PositionService
	logger *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(engine PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{engine: engine, logger: logger}
}

// positionResponse is the JSON shape of a position. Big integers travel as
// decimal strings.
type positionResponse struct {
	ID                  string     `json:"id"`
	MarketID            string     `json:"market_id"`
	Side                string     `json:"side"`
	MaxStake            string     `json:"max_stake"`
	FilledStake         string     `json:"filled_stake"`
	PremiumBps          int64      `json:"premium_bps"`
	MaxVig              string     `json:"max_vig"`
	MinLiquidity        string     `json:"min_liquidity"`
	MinForOdds          string     `json:"min_for_odds"`
	MinForVig           string     `json:"min_for_vig"`
	Status              string     `json:"status"`
	OrderStatus         string     `json:"order_status"`
	ActiveOrderID       string     `json:"active_order_id,omitempty"`
	LastQuotedTakerOdds *string    `json:"last_quoted_taker_odds,omitempty"`
	RiskBreached        bool       `json:"risk_breached"`
	CreatedAt           time.Time  `json:"created_at"`
	ClosedAt            *time.Time `json:"closed_at,omitempty"`
}

func toPositionResponse(p domain.Position) positionResponse {
	return positionResponse{
		ID:                  p.ID,
		MarketID:            p.MarketID,
		Side:                string(p.ChosenSide),
		MaxStake:            p.MaxStake.String(),
		FilledStake:         p.FilledStake.String(),
		PremiumBps:          p.PremiumBps,
		MaxVig:              p.MaxVig.String(),
		MinLiquidity:        p.MinLiquidity.String(),
		MinForOdds:          p.MinForOdds.String(),
		MinForVig:           p.MinForVig.String(),
		Status:              string(p.Status),
		OrderStatus:         string(p.OrderStatus),
		ActiveOrderID:       p.ActiveOrderID,
		LastQuotedTakerOdds: intString(p.LastQuotedTakerOdds),
		RiskBreached:        p.RiskBreached,
		CreatedAt:           p.CreatedAt,
		ClosedAt:            p.ClosedAt,
	}
}

// createPositionRequest is the payload for POST /api/positions.
type createPositionRequest struct {
	MarketID     string `json:"market_id"`
	Side         string `json:"side"`
	MaxStake     string `json:"max_stake"`
	PremiumBps   int64  `json:"premium_bps"`
	MaxVig       string `json:"max_vig"`
	MinLiquidity string `json:"min_liquidity"`
	MinForOdds   string `json:"min_for_odds"`
	MinForVig    string `json:"min_for_vig"`
}

// ListPositions returns every position.
// GET /api/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions := h.engine.ListPositions()
	out := make([]positionResponse, 0, len(positions))
	for _, p := range positions {
		out = append(out, toPositionResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": out})
}

// GetPosition returns a single position.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	pos, err := h.engine.GetPosition(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toPositionResponse(pos))
}

// CreatePosition opens a new maker position.
// POST /api/positions
func (h *PositionHandler) CreatePosition(w http.ResponseWriter, r *http.Request) {
	var req createPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	maxStake, ok1 := parseBig(req.MaxStake)
	maxVig, ok2 := parseBig(req.MaxVig)
	minLiq, ok3 := parseBig(req.MinLiquidity)
	minOdds, ok4 := parseBig(req.MinForOdds)
	minVig, ok5 := parseBig(req.MinForVig)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		writeError(w, http.StatusBadRequest, "stake and threshold fields must be decimal integer strings")
		return
	}

	pos, err := h.engine.CreatePosition(r.Context(), domain.PositionSpec{
		MarketID:     req.MarketID,
		ChosenSide:   domain.Side(req.Side),
		MaxStake:     maxStake,
		PremiumBps:   req.PremiumBps,
		MaxVig:       maxVig,
		MinLiquidity: minLiq,
		MinForOdds:   minOdds,
		MinForVig:    minVig,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: create position failed",
			slog.String("market_id", req.MarketID),
			slog.String("error", err.Error()),
		)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toPositionResponse(pos))
}

// editPositionRequest is the payload for PATCH /api/positions/{id}. Absent
// fields stay unchanged.
type editPositionRequest struct {
	MaxStake     *string `json:"max_stake"`
	PremiumBps   *int64  `json:"premium_bps"`
	MaxVig       *string `json:"max_vig"`
	MinLiquidity *string `json:"min_liquidity"`
	MinForOdds   *string `json:"min_for_odds"`
	MinForVig    *string `json:"min_for_vig"`
}

// EditPosition patches a position's settings.
// PATCH /api/positions/{id}
func (h *PositionHandler) EditPosition(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req editPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	maxStake, ok1 := parseBigOpt(req.MaxStake)
	maxVig, ok2 := parseBigOpt(req.MaxVig)
	minLiq, ok3 := parseBigOpt(req.MinLiquidity)
	minOdds, ok4 := parseBigOpt(req.MinForOdds)
	minVig, ok5 := parseBigOpt(req.MinForVig)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		writeError(w, http.StatusBadRequest, "stake and threshold fields must be decimal integer strings")
		return
	}

	err := h.engine.EditPosition(r.Context(), id, domain.PositionPatch{
		MaxStake:     maxStake,
		PremiumBps:   req.PremiumBps,
		MaxVig:       maxVig,
		MinLiquidity: minLiq,
		MinForOdds:   minOdds,
		MinForVig:    minVig,
	})
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	pos, err := h.engine.GetPosition(id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toPositionResponse(pos))
}

// ClosePosition cancels the position's order and removes it.
// DELETE /api/positions/{id}
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.engine.ClosePosition(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed", "id": id})
}
