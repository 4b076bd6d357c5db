// Package httpapi exposes the lottery service over HTTP.
package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	domainsettle "github.com/R3E-Network/lotto_layer/internal/domain/settlement"
	"github.com/R3E-Network/lotto_layer/internal/httputil"
	"github.com/R3E-Network/lotto_layer/internal/middleware"
	"github.com/R3E-Network/lotto_layer/internal/services/lotto"
	"github.com/R3E-Network/lotto_layer/internal/services/randomness"
	"github.com/R3E-Network/lotto_layer/internal/services/settlement"
	"github.com/R3E-Network/lotto_layer/pkg/logger"
)

// Handler routes API requests to the lottery services.
type Handler struct {
	rounds  *lotto.Service
	oracle  *randomness.Service
	settler *settlement.Service
	log     *logger.Logger
}

// NewHandler creates the API handler.
func NewHandler(rounds *lotto.Service, oracle *randomness.Service, settler *settlement.Service, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	return &Handler{rounds: rounds, oracle: oracle, settler: settler, log: log}
}

// Register attaches the API routes to the router. Round creation and
// deletion require the admin role; the oracle callback is authenticated by
// the surrounding middleware like every other route.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/rounds", middleware.RequireRole(middleware.RoleAdmin, h.createRound)).Methods(http.MethodPost)
	r.HandleFunc("/rounds", h.listRounds).Methods(http.MethodGet)
	r.HandleFunc("/rounds/{id}", h.getRound).Methods(http.MethodGet)
	r.HandleFunc("/rounds/{id}", middleware.RequireRole(middleware.RoleAdmin, h.deleteRound)).Methods(http.MethodDelete)
	r.HandleFunc("/rounds/{id}/deposits", h.deposit).Methods(http.MethodPost)
	r.HandleFunc("/rounds/{id}/close", h.closeRound).Methods(http.MethodPost)
	r.HandleFunc("/rounds/{id}/selection", h.advanceSelection).Methods(http.MethodPost)
	r.HandleFunc("/rounds/{id}/withdraw", h.withdraw).Methods(http.MethodPost)
	r.HandleFunc("/rounds/{id}/ledger", h.listLedger).Methods(http.MethodGet)
	r.HandleFunc("/randomness/fulfillments", h.fulfill).Methods(http.MethodPost)
	r.HandleFunc("/stats", h.stats).Methods(http.MethodGet)
}

func (h *Handler) createRound(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Deadline time.Time `json:"deadline"`
	}
	if err := httputil.DecodeJSON(r.Body, &payload); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err)
		return
	}

	created, err := h.rounds.CreateRound(r.Context(), payload.Deadline)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) listRounds(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			httputil.WriteError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = parsed
	}

	rounds, err := h.rounds.ListRounds(r.Context(), limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rounds)
}

func (h *Handler) getRound(w http.ResponseWriter, r *http.Request) {
	id, ok := roundID(w, r)
	if !ok {
		return
	}
	round, err := h.rounds.GetRound(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, round)
}

func (h *Handler) deleteRound(w http.ResponseWriter, r *http.Request) {
	id, ok := roundID(w, r)
	if !ok {
		return
	}
	if err := h.rounds.DeleteRound(r.Context(), id); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deposit(w http.ResponseWriter, r *http.Request) {
	id, ok := roundID(w, r)
	if !ok {
		return
	}
	var payload struct {
		Participant string `json:"participant"`
		Amount      int64  `json:"amount"`
	}
	if err := httputil.DecodeJSON(r.Body, &payload); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err)
		return
	}

	round, err := h.rounds.Deposit(r.Context(), id, payload.Participant, payload.Amount)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, round)
}

func (h *Handler) closeRound(w http.ResponseWriter, r *http.Request) {
	id, ok := roundID(w, r)
	if !ok {
		return
	}
	round, err := h.rounds.Close(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, round)
}

func (h *Handler) advanceSelection(w http.ResponseWriter, r *http.Request) {
	id, ok := roundID(w, r)
	if !ok {
		return
	}
	var payload struct {
		StepLimit int `json:"step_limit"`
	}
	if err := httputil.DecodeJSON(r.Body, &payload); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err)
		return
	}

	round, err := h.rounds.AdvanceSelection(r.Context(), id, payload.StepLimit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, round)
}

func (h *Handler) withdraw(w http.ResponseWriter, r *http.Request) {
	id, ok := roundID(w, r)
	if !ok {
		return
	}
	round, err := h.rounds.Withdraw(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, round)
}

func (h *Handler) listLedger(w http.ResponseWriter, r *http.Request) {
	id, ok := roundID(w, r)
	if !ok {
		return
	}
	entries, err := h.settler.ListByRound(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entries)
}

// fulfill is the oracle callback delivering a random draw.
func (h *Handler) fulfill(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		RequestID string `json:"request_id"`
		Value     string `json:"value"` // decimal uint64
		Proof     string `json:"proof"`
	}
	if err := httputil.DecodeJSON(r.Body, &payload); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err)
		return
	}

	rawValue, err := strconv.ParseUint(payload.Value, 10, 64)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, fmt.Errorf("invalid value: %w", err))
		return
	}

	if err := h.oracle.Fulfill(r.Context(), payload.RequestID, rawValue, payload.Proof); err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "fulfilled"})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	totals := make(map[string]int64, 4)
	for _, typ := range []domainsettle.EntryType{
		domainsettle.TypeFeeSkim,
		domainsettle.TypeFundingSpend,
		domainsettle.TypePayout,
		domainsettle.TypeSweep,
	} {
		total, err := h.settler.TotalByType(ctx, typ)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		totals[string(typ)] = total
	}
	httputil.WriteJSON(w, http.StatusOK, totals)
}

func roundID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		httputil.WriteError(w, http.StatusBadRequest, fmt.Errorf("invalid round id %q", raw))
		return 0, false
	}
	return id, true
}

// writeServiceError maps service errors to HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, lotto.ErrRoundNotFound),
		errors.Is(err, randomness.ErrRequestNotFound):
		status = http.StatusNotFound
	case errors.Is(err, lotto.ErrInvalidDeadline),
		errors.Is(err, lotto.ErrInvalidParticipant),
		errors.Is(err, lotto.ErrDepositTooSmall),
		errors.Is(err, lotto.ErrNoForwardProgress):
		status = http.StatusBadRequest
	case errors.Is(err, lotto.ErrRoundClosed),
		errors.Is(err, lotto.ErrTooEarly),
		errors.Is(err, lotto.ErrAlreadyClosed),
		errors.Is(err, lotto.ErrInsufficientPool),
		errors.Is(err, lotto.ErrRoundNotClosed),
		errors.Is(err, lotto.ErrDrawNotReady),
		errors.Is(err, lotto.ErrWinnerAlreadySet),
		errors.Is(err, lotto.ErrWinnerNotSet),
		errors.Is(err, lotto.ErrAlreadyPaidOut),
		errors.Is(err, lotto.ErrCooldownActive),
		errors.Is(err, randomness.ErrRequestConsumed):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.log.WithError(err).Error("request failed")
	}
	httputil.WriteError(w, status, err)
}
