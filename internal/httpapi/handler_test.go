package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"

	"github.com/R3E-Network/lotto_layer/internal/domain/round"
	"github.com/R3E-Network/lotto_layer/internal/middleware"
	"github.com/R3E-Network/lotto_layer/internal/services/exchange"
	"github.com/R3E-Network/lotto_layer/internal/services/lotto"
	"github.com/R3E-Network/lotto_layer/internal/services/randomness"
	"github.com/R3E-Network/lotto_layer/internal/services/settlement"
	"github.com/R3E-Network/lotto_layer/internal/storage/memory"
)

var testSecret = []byte("test-secret")

type testAPI struct {
	server *httptest.Server
	lotto  *lotto.Service
	oracle *randomness.Service
	now    time.Time
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	store := memory.New()
	oracle := randomness.New(store, nil)
	funding := exchange.New(&exchange.FixedRateVenue{RateNum: 1, RateDen: 1}, []string{"POOL", "FEE"}, "collector", nil)
	settler := settlement.New(store, nil, nil)

	api := &testAPI{
		oracle: oracle,
		now:    time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	api.lotto = lotto.New(store, oracle, funding, settler, lotto.Params{
		FeeRateBps:     100,
		MinDeposit:     1,
		FeeCollector:   "collector",
		RandomnessFee:  10,
		DeleteCooldown: time.Hour,
	}, nil)
	api.lotto.WithClock(func() time.Time { return api.now })
	oracle.SetHandler(api.lotto)

	router := mux.NewRouter()
	auth := middleware.NewAuthMiddleware(testSecret, nil, []string{"/healthz"})
	router.Use(auth.Handler)
	NewHandler(api.lotto, oracle, settler, nil).Register(router)

	api.server = httptest.NewServer(router)
	t.Cleanup(api.server.Close)
	return api
}

func (api *testAPI) token(t *testing.T, role string) string {
	t.Helper()
	claims := &middleware.Claims{
		Subject: "user-1",
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func (api *testAPI) do(t *testing.T, method, path, role, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, api.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+api.token(t, role))
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeRound(t *testing.T, resp *http.Response) round.Round {
	t.Helper()
	var r round.Round
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		t.Fatalf("decode round: %v", err)
	}
	return r
}

func TestRoundLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)

	deadline := api.now.Add(time.Hour).Format(time.RFC3339)
	resp := api.do(t, http.MethodPost, "/rounds", "admin", fmt.Sprintf(`{"deadline":%q}`, deadline))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create round: %d", resp.StatusCode)
	}
	created := decodeRound(t, resp)

	path := fmt.Sprintf("/rounds/%d", created.ID)
	resp = api.do(t, http.MethodPost, path+"/deposits", "player", `{"participant":"alice","amount":1000}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("deposit: %d", resp.StatusCode)
	}

	// Closing before the deadline conflicts.
	resp = api.do(t, http.MethodPost, path+"/close", "player", "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("early close: %d", resp.StatusCode)
	}

	api.now = api.now.Add(2 * time.Hour)
	resp = api.do(t, http.MethodPost, path+"/close", "player", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("close: %d", resp.StatusCode)
	}
	closed := decodeRound(t, resp)
	if closed.RequestID == "" {
		t.Fatalf("close did not issue a randomness request")
	}

	// Oracle delivers the draw over the callback endpoint.
	fulfillment := fmt.Sprintf(`{"request_id":%q,"value":"0","proof":"p"}`, closed.RequestID)
	resp = api.do(t, http.MethodPost, "/randomness/fulfillments", "oracle", fulfillment)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fulfill: %d", resp.StatusCode)
	}
	// Replays conflict.
	resp = api.do(t, http.MethodPost, "/randomness/fulfillments", "oracle", fulfillment)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("replayed fulfill: %d", resp.StatusCode)
	}

	resp = api.do(t, http.MethodPost, path+"/selection", "player", `{"step_limit":1}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("selection: %d", resp.StatusCode)
	}
	selected := decodeRound(t, resp)
	if selected.Winner != "alice" {
		t.Fatalf("winner %q", selected.Winner)
	}

	resp = api.do(t, http.MethodPost, path+"/withdraw", "player", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("withdraw: %d", resp.StatusCode)
	}

	resp = api.do(t, http.MethodGet, path+"/ledger", "player", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ledger: %d", resp.StatusCode)
	}
	var entries []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatalf("decode ledger: %v", err)
	}
	// fee skim, funding spend, payout
	if len(entries) != 3 {
		t.Fatalf("expected 3 ledger entries, got %d", len(entries))
	}

	resp = api.do(t, http.MethodGet, "/stats", "player", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats: %d", resp.StatusCode)
	}
	var totals map[string]int64
	if err := json.NewDecoder(resp.Body).Decode(&totals); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if totals["fee_skim"] != 10 || totals["payout"] == 0 {
		t.Fatalf("unexpected totals: %v", totals)
	}
}

func TestAdminOnlyRoutes(t *testing.T) {
	api := newTestAPI(t)

	deadline := api.now.Add(time.Hour).Format(time.RFC3339)
	body := fmt.Sprintf(`{"deadline":%q}`, deadline)

	resp := api.do(t, http.MethodPost, "/rounds", "player", body)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("player created a round: %d", resp.StatusCode)
	}
	resp = api.do(t, http.MethodPost, "/rounds", "", body)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous create: %d", resp.StatusCode)
	}
	resp = api.do(t, http.MethodDelete, "/rounds/1", "player", "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("player deleted a round: %d", resp.StatusCode)
	}
}

func TestValidationErrors(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(t, http.MethodGet, "/rounds/abc", "player", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad id: %d", resp.StatusCode)
	}
	resp = api.do(t, http.MethodGet, "/rounds/999", "player", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing round: %d", resp.StatusCode)
	}
	resp = api.do(t, http.MethodPost, "/rounds", "admin", `{"deadline":"2000-01-01T00:00:00Z"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("past deadline: %d", resp.StatusCode)
	}
	resp = api.do(t, http.MethodPost, "/randomness/fulfillments", "oracle", `{"request_id":"x","value":"not-a-number"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad value: %d", resp.StatusCode)
	}
	resp = api.do(t, http.MethodPost, "/randomness/fulfillments", "oracle", `{"request_id":"x","value":"1"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown request: %d", resp.StatusCode)
	}
}
