package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"bankrails/internal/config"
	"bankrails/internal/engine"
	"bankrails/internal/ledger"
	"bankrails/internal/state"
	"bankrails/internal/webhooksig"

	"github.com/gorilla/mux"
	"github.com/labstack/gommon/log"
)

// Server exposes the engine's operations over HTTP.
type Server struct {
	cfg         *config.AppConfig
	engine      *engine.Engine
	conns       state.ConnectionStore
	metrics     *Metrics
	webhookSig  *webhooksig.Verifier
	httpServer  *http.Server
	rpcHealthFn func(context.Context) error
	dbHealthFn  func(context.Context) error
}

func NewServer(cfg *config.AppConfig, eng *engine.Engine, conns state.ConnectionStore, metrics *Metrics, ledgers map[string]ledger.Client) *Server {
	if metrics == nil {
		metrics = NewMetrics()
	}

	s := &Server{
		cfg:     cfg,
		engine:  eng,
		conns:   conns,
		metrics: metrics,
		webhookSig: &webhooksig.Verifier{
			Secret:  cfg.Bank.WebhookSecret,
			MaxSkew: cfg.Service.WebhookSkew,
		},
	}

	if lc, ok := ledgers[cfg.Networks.Default]; ok {
		if checker, ok := lc.(ledger.HealthChecker); ok {
			s.rpcHealthFn = checker.Ping
		}
	}
	if checker, ok := conns.(interface{ Ping(context.Context) error }); ok {
		s.dbHealthFn = checker.Ping
	}

	router := mux.NewRouter().StrictSlash(true)
	router.HandleFunc("/api/v1/connections", s.handleCreateConnection).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/links", s.handleLink).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/redemptions", s.handleRedeem).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/reconcile", s.handleReconcile).Methods(http.MethodPost)
	router.Handle("/api/v1/webhooks/bank", s.webhookSig.Middleware(http.HandlerFunc(s.handleWebhook))).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/health", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/api/v1/metrics", metrics.handler()).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	log.Infof("API listening on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type createConnectionRequest struct {
	TokenAddress string `json:"tokenAddress"`
	Network      string `json:"network"`
}

func (s *Server) handleCreateConnection(w http.ResponseWriter, r *http.Request) {
	var payload createConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}
	if payload.Network == "" {
		payload.Network = s.cfg.Networks.Default
	}

	offer, err := s.engine.CreateConnection(r.Context(), engine.ConnectionRequest{
		Token:   payload.TokenAddress,
		Network: payload.Network,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, offer)
}

type linkRequest struct {
	TokenAddress string `json:"tokenAddress"`
	PaymentKey   string `json:"paymentKey"`
	Wallet       string `json:"wallet"`
}

func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	var payload linkRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}

	if err := s.engine.LinkPaymentKey(r.Context(), payload.TokenAddress, payload.PaymentKey, payload.Wallet); err != nil {
		writeError(w, err)
		return
	}

	// A deposit matching the fresh link may already be waiting.
	go s.reconcileInBackground(payload.TokenAddress)

	writeJSON(w, http.StatusOK, map[string]string{"status": "linked"})
}

type redeemRequest struct {
	TokenAddress string  `json:"tokenAddress"`
	PaymentKey   string  `json:"paymentKey"`
	Amount       float64 `json:"amount"`
	Network      string  `json:"network"`
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var payload redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}
	if payload.Network == "" {
		payload.Network = s.cfg.Networks.Default
	}

	err := s.engine.Redeem(r.Context(), engine.RedemptionRequest{
		Token:      payload.TokenAddress,
		PaymentKey: payload.PaymentKey,
		Amount:     payload.Amount,
		Network:    payload.Network,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "redeemed"})
}

type reconcileRequest struct {
	TokenAddress string `json:"tokenAddress"`
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var payload reconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}

	if err := s.engine.Reconcile(r.Context(), payload.TokenAddress); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reconciled"})
}

// handleWebhook acknowledges receipt and runs the event in the background;
// the aggregator cannot usefully retry application-level failures, so the
// response is independent of the reconciliation outcome.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var event engine.WebhookEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}
	if event.Type == "" {
		http.Error(w, "event type is required", http.StatusBadRequest)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Service.ReconcileTimeout)
		defer cancel()
		if err := s.engine.HandleWebhookEvent(ctx, event); err != nil && !errors.Is(err, engine.ErrNotConnected) {
			log.Errorf("[Webhook] Handling %s for item %s failed: %v", event.Type, event.ItemID, err)
		}
	}()

	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

func (s *Server) reconcileInBackground(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Service.ReconcileTimeout)
	defer cancel()
	if err := s.engine.Reconcile(ctx, token); err != nil && !errors.Is(err, engine.ErrNotConnected) {
		log.Errorf("[Reconcile] Background pass for token %s failed: %v", token, err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	rpcInfo := struct {
		Connected bool    `json:"connected"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}{Connected: true}

	if s.rpcHealthFn != nil {
		start := time.Now()
		rpcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.rpcHealthFn(rpcCtx); err != nil {
			rpcInfo.Connected = false
			rpcInfo.Error = err.Error()
			overallHealthy = false
		} else {
			rpcInfo.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		}
	}

	dbInfo := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}

	if s.dbHealthFn != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.dbHealthFn(dbCtx); err != nil {
			dbInfo.Connected = false
			dbInfo.Error = err.Error()
			overallHealthy = false
		}
	}

	if conns, err := s.conns.List(ctx); err == nil {
		connected := 0
		for _, conn := range conns {
			if conn.Status == state.StatusConnected {
				connected++
			}
		}
		s.metrics.setConnectedTokens(connected)
	}

	status := "healthy"
	if !overallHealthy {
		status = "degraded"
	}

	resp := struct {
		Status         string      `json:"status"`
		BankConfigured bool        `json:"bankConfigured"`
		RPC            interface{} `json:"rpc"`
		Store          interface{} `json:"store"`
	}{
		Status:         status,
		BankConfigured: s.engine.Health().BankConfigured,
		RPC:            rpcInfo,
		Store:          dbInfo,
	}

	code := http.StatusOK
	if !overallHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps engine errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusBadGateway
	switch {
	case errors.Is(err, engine.ErrValidation):
		code = http.StatusBadRequest
	case errors.Is(err, engine.ErrNetworkNotConfigured):
		code = http.StatusBadRequest
	case errors.Is(err, engine.ErrConfiguration):
		code = http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrNotConnected):
		code = http.StatusConflict
	case errors.Is(err, engine.ErrInsufficientCustody):
		code = http.StatusConflict
	case errors.Is(err, ledger.ErrUnauthorized):
		code = http.StatusForbidden
	case errors.Is(err, ledger.ErrBackingInsufficient):
		code = http.StatusConflict
	case errors.Is(err, engine.ErrInconsistent):
		code = http.StatusInternalServerError
	}
	http.Error(w, err.Error(), code)
}
