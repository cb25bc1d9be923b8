package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/dcb-go/core/app"
	"github.com/codewandler/dcb-go/core/dcb"
	"github.com/codewandler/dcb-go/core/projection"
	"github.com/codewandler/dcb-go/internal/bank"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	opts := projection.DefaultOptions()
	opts.SafeWindow = 0
	a, err := app.Run(app.Config{
		Store:             dcb.NewInMemoryStore(),
		Types:             bank.EventTypes(),
		TagProjectors:     bank.TagProjectors(),
		Projectors:        bank.Projectors(),
		ProjectionOptions: &opts,
	})
	require.NoError(t, err)
	t.Cleanup(a.Stop)

	srv := httptest.NewServer(newAPI(a, slog.Default()).routes())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	res, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Body.Close() })
	return res
}

func TestAPI(t *testing.T) {
	srv := newTestServer(t)

	res := do(t, srv, http.MethodPost, "/accounts/alice", `{"owner":"Alice","initial_balance":100}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var cmd commandResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&cmd))
	require.Equal(t, 1, cmd.Events)
	require.NoError(t, cmd.SortableID.Validate())

	require.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/accounts/bob", `{"owner":"Bob"}`).StatusCode)
	require.Equal(t, http.StatusConflict, do(t, srv, http.MethodPost, "/accounts/bob", `{"owner":"Bob"}`).StatusCode)
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/accounts/bob/deposit", `{"amount":5}`).StatusCode)
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/transfers", `{"from":"alice","to":"bob","amount":30}`).StatusCode)
	require.Equal(t, http.StatusUnprocessableEntity, do(t, srv, http.MethodPost, "/transfers", `{"from":"bob","to":"alice","amount":500}`).StatusCode)
	require.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodPost, "/transfers", `{`).StatusCode)

	res = do(t, srv, http.MethodGet, "/accounts/bob", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var acc bank.Account
	require.NoError(t, json.NewDecoder(res.Body).Decode(&acc))
	require.Equal(t, bank.Account{ID: "bob", Owner: "Bob", Balance: 35}, acc)

	require.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/accounts/carol", "").StatusCode)

	require.Eventually(t, func() bool {
		res := do(t, srv, http.MethodGet, "/ledger?unsafe=true", "")
		var l ledgerResponse
		if err := json.NewDecoder(res.Body).Decode(&l); err != nil {
			return false
		}
		return l.Ledger == bank.Ledger{Accounts: 2, TotalBalance: 105, Deposits: 1, Transfers: 1, Volume: 30}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStatusOf(t *testing.T) {
	require.Equal(t, http.StatusConflict, statusOf(dcb.Errorf(dcb.KindConflict, "reserve", "moved")))
	require.Equal(t, http.StatusUnprocessableEntity, statusOf(dcb.Errorf(dcb.KindValidation, "tag", "bad")))
	require.Equal(t, http.StatusNotFound, statusOf(bank.ErrAccountNotFound))
	require.Equal(t, http.StatusInternalServerError, statusOf(errors.New("boom")))
}
