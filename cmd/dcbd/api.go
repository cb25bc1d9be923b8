package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/codewandler/dcb-go/core/app"
	"github.com/codewandler/dcb-go/core/dcb"
	"github.com/codewandler/dcb-go/core/suid"
	"github.com/codewandler/dcb-go/internal/bank"
)

type (
	openAccountRequest struct {
		Owner          string `json:"owner"`
		InitialBalance int    `json:"initial_balance"`
	}
	depositRequest struct {
		Amount int `json:"amount"`
	}
	transferRequest struct {
		From   string `json:"from"`
		To     string `json:"to"`
		Amount int    `json:"amount"`
	}
	commandResponse struct {
		SortableID suid.ID `json:"sortable_id"`
		Events     int     `json:"events"`
	}
	ledgerResponse struct {
		Ledger         bank.Ledger `json:"ledger"`
		Version        int         `json:"version"`
		LastSortableID suid.ID     `json:"last_sortable_id"`
		IsSafe         bool        `json:"is_safe"`
	}
)

type api struct {
	app *app.App
	log *slog.Logger
}

func newAPI(a *app.App, log *slog.Logger) *api {
	return &api{app: a, log: log.With(slog.String("component", "api"))}
}

func (h *api) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /accounts/{id}", h.openAccount)
	mux.HandleFunc("POST /accounts/{id}/deposit", h.deposit)
	mux.HandleFunc("GET /accounts/{id}", h.getAccount)
	mux.HandleFunc("POST /transfers", h.transfer)
	mux.HandleFunc("GET /ledger", h.getLedger)
	return mux
}

func (h *api) openAccount(w http.ResponseWriter, r *http.Request) {
	var req openAccountRequest
	if !decode(w, r, &req) {
		return
	}
	h.execute(w, r, bank.OpenAccount(r.PathValue("id"), req.Owner, req.InitialBalance))
}

func (h *api) deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !decode(w, r, &req) {
		return
	}
	h.execute(w, r, bank.Deposit(r.PathValue("id"), req.Amount))
}

func (h *api) transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !decode(w, r, &req) {
		return
	}
	h.execute(w, r, bank.Transfer(req.From, req.To, req.Amount))
}

func (h *api) execute(w http.ResponseWriter, r *http.Request, cmd dcb.CommandHandler) {
	res, err := h.app.Executor().ExecuteWithRetry(r.Context(), cmd)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, commandResponse{SortableID: res.SortableID, Events: len(res.Events)})
}

func (h *api) getAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := bank.ReadAccount(r.Context(), h.app.Host(), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// getLedger serves the safe state unless ?unsafe=true asks for everything
// received so far.
func (h *api) getLedger(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.app.Projection(bank.LedgerProjector)
	if !ok {
		http.Error(w, "ledger projection not registered", http.StatusNotFound)
		return
	}
	read := actor.State
	if r.URL.Query().Get("unsafe") == "true" {
		read = actor.UnsafeState
	}
	s, err := read(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	ledger, _ := s.Payload.(bank.Ledger)
	writeJSON(w, http.StatusOK, ledgerResponse{
		Ledger:         ledger,
		Version:        s.Version,
		LastSortableID: s.LastSortableID,
		IsSafe:         s.IsSafe,
	})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, bank.ErrAccountNotFound), errors.Is(err, dcb.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, bank.ErrAccountExists), errors.Is(err, dcb.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, bank.ErrInsufficientFunds),
		errors.Is(err, bank.ErrInvalidAmount),
		errors.Is(err, bank.ErrSameAccount),
		errors.Is(err, dcb.ErrValidation):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *api) fail(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", slog.Any("error", err))
	}
	http.Error(w, err.Error(), status)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
