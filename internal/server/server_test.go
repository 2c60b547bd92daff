package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bankrails/internal/bank"
	"bankrails/internal/config"
	"bankrails/internal/engine"
	"bankrails/internal/ledger"
	"bankrails/internal/processed"
	"bankrails/internal/state"
	"bankrails/internal/webhooksig"
)

const (
	testAdmin  = "0x9965507D1a55bcC2695C58ba16FB37d819B0A4dc"
	testToken  = "0x1111111111111111111111111111111111111111"
	testWallet = "0x2222222222222222222222222222222222222222"
)

type testServer struct {
	srv   *Server
	bank  *bank.FakeClient
	chain *ledger.FakeClient
	conns state.ConnectionStore
}

func newTestServer(t *testing.T, webhookSecret string) *testServer {
	t.Helper()

	cfg := &config.AppConfig{
		Networks: config.NetworksConfig{
			Default:  "celo",
			Networks: map[string]string{"celo": "http://localhost:8545"},
		},
		Service: config.ServiceConfig{
			HTTPPort:         0,
			BaseURL:          "https://rails.example",
			ReconcileTimeout: 5 * time.Second,
		},
		Bank: config.BankConfig{WebhookSecret: webhookSecret},
	}

	bankClient := bank.NewFakeClient()
	chain := ledger.NewFakeClient(testAdmin)
	conns := state.NewMemoryConnectionStore()

	eng := engine.New(engine.Config{
		BaseURL:        cfg.Service.BaseURL,
		LookBack:       time.Hour,
		BankConfigured: true,
	}, bankClient, map[string]ledger.Client{"celo": chain}, engine.Stores{
		Connections: conns,
		Links:       state.NewMemoryLinkStore(),
		Cursors:     state.NewMemoryCursorStore(),
		Processed:   processed.NewMemoryStore(),
	})

	return &testServer{
		srv:   NewServer(cfg, eng, conns, NewMetrics(), map[string]ledger.Client{"celo": chain}),
		bank:  bankClient,
		chain: chain,
		conns: conns,
	}
}

func (ts *testServer) request(t *testing.T, method, path string, payload interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.srv.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func TestCreateConnectionEndpoint(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.request(t, http.MethodPost, "/api/v1/connections", map[string]string{
		"tokenAddress": testToken,
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var offer engine.ConnectionOffer
	if err := json.Unmarshal(rec.Body.Bytes(), &offer); err != nil {
		t.Fatalf("decode offer: %v", err)
	}
	if offer.ConnectURL == "" {
		t.Fatalf("expected a connect url")
	}
}

func TestCreateConnectionRejectsBadToken(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.request(t, http.MethodPost, "/api/v1/connections", map[string]string{
		"tokenAddress": "not-an-address",
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCreateConnectionUnknownNetwork(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.request(t, http.MethodPost, "/api/v1/connections", map[string]string{
		"tokenAddress": testToken,
		"network":      "mars",
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown network, got %d", rec.Code)
	}
}

func TestLinkEndpoint(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.request(t, http.MethodPost, "/api/v1/links", map[string]string{
		"tokenAddress": testToken,
		"paymentKey":   "alice@pix",
		"wallet":       testWallet,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = ts.request(t, http.MethodPost, "/api/v1/links", map[string]string{
		"tokenAddress": testToken,
		"paymentKey":   "alice@pix",
		"wallet":       "junk",
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad wallet, got %d", rec.Code)
	}
}

func TestReconcileNotConnected(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.request(t, http.MethodPost, "/api/v1/reconcile", map[string]string{
		"tokenAddress": testToken,
	}, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for unconnected token, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRedeemWithoutCustody(t *testing.T) {
	ts := newTestServer(t, "")
	ts.connect(t)

	rec := ts.request(t, http.MethodPost, "/api/v1/redemptions", map[string]interface{}{
		"tokenAddress": testToken,
		"paymentKey":   "alice@pix",
		"amount":       50.0,
	}, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 without custody, got %d: %s", rec.Code, rec.Body.String())
	}
}

// connect walks the token through the pending -> connected path.
func (ts *testServer) connect(t *testing.T) {
	t.Helper()
	ts.bank.SeedAccounts("item-1", bank.Account{ID: "acc-1", BalanceMajor: 1000, CurrencyCode: "BRL"})

	rec := ts.request(t, http.MethodPost, "/api/v1/connections", map[string]string{
		"tokenAddress": testToken,
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("connect setup: %d: %s", rec.Code, rec.Body.String())
	}

	ctx := context.Background()
	conn, err := ts.conns.Get(ctx, testToken)
	if err != nil || conn == nil {
		t.Fatalf("connection not stored: %v", err)
	}
	conn.Status = state.StatusConnected
	conn.ItemID = "item-1"
	conn.AccountID = "acc-1"
	if err := ts.conns.Save(ctx, testToken, *conn); err != nil {
		t.Fatalf("save connection: %v", err)
	}
}

func TestWebhookAcksRegardlessOfOutcome(t *testing.T) {
	ts := newTestServer(t, "")

	// Unknown item id: handling fails internally, but the aggregator still
	// gets a 200.
	rec := ts.request(t, http.MethodPost, "/api/v1/webhooks/bank", map[string]string{
		"type":   "ACCOUNTS_UPDATED",
		"itemId": "no-such-item",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestWebhookMissingTypeRejected(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.request(t, http.MethodPost, "/api/v1/webhooks/bank", map[string]string{
		"itemId": "item-1",
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing event type, got %d", rec.Code)
	}
}

func TestWebhookSignatureEnforced(t *testing.T) {
	const secret = "hook-secret"
	ts := newTestServer(t, secret)

	payload := []byte(`{"type":"ACCOUNTS_UPDATED","itemId":"item-1"}`)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/bank", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	ts.srv.httpServer.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without signature, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/bank", bytes.NewReader(payload))
	req.Header.Set("X-Webhook-Signature", webhooksig.Sign(secret, payload))
	rec = httptest.NewRecorder()
	ts.srv.httpServer.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid signature, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.request(t, http.MethodGet, "/api/v1/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var health struct {
		Status         string `json:"status"`
		BankConfigured bool   `json:"bankConfigured"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "healthy" || !health.BankConfigured {
		t.Fatalf("unexpected health: %+v", health)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.request(t, http.MethodGet, "/api/v1/metrics", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatalf("expected prometheus exposition output")
	}
}
