package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"bankrails/internal/bank"
	"bankrails/internal/config"
	"bankrails/internal/engine"
	"bankrails/internal/ledger"
	"bankrails/internal/processed"
	"bankrails/internal/server"
	"bankrails/internal/state"

	"github.com/labstack/gommon/log"
)

// devOperator stands in as the operator/admin identity when no chain key is
// configured and the fake ledger is in use.
const devOperator = "0x1000000000000000000000000000000000000001"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx := context.Background()

	var (
		conns   state.ConnectionStore
		links   state.LinkStore
		cursors state.CursorStore
		settled processed.Store
	)
	if cfg.Storage.PostgresDSN != "" {
		pgStores, err := state.NewPostgresStores(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			log.Fatalf("postgres stores error: %v", err)
		}
		defer pgStores.Close()

		processedStore, err := processed.NewPostgresStoreWithPool(ctx, pgStores.Pool())
		if err != nil {
			log.Fatalf("processed store error: %v", err)
		}
		conns, links, cursors, settled = pgStores.Connections, pgStores.Links, pgStores.Cursors, processedStore
	} else {
		fileStore, err := processed.NewFileStore(cfg.Storage.ProcessedStorePath)
		if err != nil {
			log.Fatalf("processed store error: %v", err)
		}
		conns = state.NewMemoryConnectionStore()
		links = state.NewMemoryLinkStore()
		cursors = state.NewMemoryCursorStore()
		settled = fileStore
	}

	ledgers := make(map[string]ledger.Client)
	if cfg.Chain.PrivateKey != "" {
		for network, rpcURL := range cfg.Networks.Networks {
			ethClient, err := ledger.NewEthClient(ctx, ledger.EthClientConfig{
				RPCURL:        rpcURL,
				PrivateKeyHex: cfg.Chain.PrivateKey,
			})
			if err != nil {
				log.Fatalf("ledger client for %s error: %v", network, err)
			}
			ledgers[network] = ethClient
		}
	}
	if len(ledgers) == 0 {
		log.Warnf("No chain credentials configured, using in-memory ledger on network %q", cfg.Networks.Default)
		ledgers[cfg.Networks.Default] = ledger.NewFakeClient(devOperator)
	}

	var bankClient bank.Client
	if cfg.Bank.Configured() {
		bankClient, err = bank.NewHTTPClient(bank.HTTPClientConfig{
			BaseURL:      cfg.Bank.BaseURL,
			ClientID:     cfg.Bank.ClientID,
			ClientSecret: cfg.Bank.ClientSecret,
		})
		if err != nil {
			log.Fatalf("bank client error: %v", err)
		}
	} else {
		log.Warnf("No aggregator credentials configured, using in-memory bank client")
		bankClient = bank.NewFakeClient()
	}

	metrics := server.NewMetrics()

	eng := engine.New(engine.Config{
		BaseURL:        cfg.Service.BaseURL,
		LookBack:       cfg.Service.LookBack,
		BankConfigured: cfg.Bank.Configured(),
		Observer:       metrics,
	}, bankClient, ledgers, engine.Stores{
		Connections: conns,
		Links:       links,
		Cursors:     cursors,
		Processed:   settled,
	})

	poller := engine.NewPoller(eng, cfg.Service.PollInterval, cfg.Service.ReconcileTimeout)
	poller.Start()

	apiServer := server.NewServer(cfg, eng, conns, metrics, ledgers)
	go func() {
		if err := apiServer.Start(); err != nil {
			log.Errorf("server stopped: %v", err)
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	poller.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
	defer cancel()
	_ = apiServer.Shutdown(shutdownCtx)
}
