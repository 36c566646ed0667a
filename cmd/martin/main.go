// Command martin runs the trading loop, the snapshot cache worker, the
// trade-card callback server, and the metrics server as independent
// goroutines sharing one process lifetime, shutting down together on
// SIGINT/SIGTERM.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"martin/internal/candles"
	"martin/internal/chatapi"
	"martin/internal/clock"
	"martin/internal/config"
	"martin/internal/discovery"
	"martin/internal/execution"
	"martin/internal/httpx"
	"martin/internal/logger"
	"martin/internal/metrics"
	"martin/internal/orchestrator"
	"martin/internal/orderapi"
	"martin/internal/pricehistory"
	"martin/internal/security"
	"martin/internal/snapshot"
	"martin/internal/stats"
	"martin/internal/store"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		panic(err)
	}
	logger.Init(cfg.LogLevel, os.Stdout)

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Errorf("open database %s: %v", cfg.DBPath, err)
		os.Exit(1)
	}
	defer db.Close()

	timeMode, err := clock.NewTimeMode(cfg.App.Timezone, cfg.DayNight.DayStartHour, cfg.DayNight.DayEndHour)
	if err != nil {
		logger.Errorf("build time mode: %v", err)
		os.Exit(1)
	}

	clk := clock.RealClock{}
	statsSvc := stats.New(db, cfg.DayNight, cfg.Quantile, clk)
	if err := statsSvc.RefreshQuantiles(); err != nil {
		logger.Warnf("refresh strict quality thresholds at startup: %v", err)
	}
	sec := security.New(db, cfg.Security, clk)
	metrics.Init()
	metrics.SetLiveArmed(sec.Armed())

	httpClient := httpx.New(httpx.Config{})
	discoveryClient := discovery.New(httpClient, cfg.Venue.DiscoveryBaseURL)
	priceHistory := buildPriceHistoryFetcher(httpClient, cfg)
	candleClient := candles.New("", "")
	snapshotWorker := snapshot.New(cfg.Trading.Assets, cfg.TA.WarmupSeconds, candleClient, clk, snapshot.DefaultRefreshInterval)

	executor, err := buildExecutor(httpClient, sec, cfg)
	if err != nil {
		logger.Errorf("build executor: %v", err)
		os.Exit(1)
	}

	cardSender := chatapi.New(db, httpClient, cfg.ChatAPI)

	orch := orchestrator.New(orchestrator.Params{
		DB: db, Discovery: discoveryClient, PriceHistory: priceHistory,
		Snapshot: snapshotWorker.Cache, Fallback: candleClient, Executor: executor,
		Stats: statsSvc, TimeMode: timeMode, Clock: clk, Cards: cardSender,
		Reminder: cardSender,
		Trading:  cfg.Trading, TA: cfg.TA, DayNight: cfg.DayNight, Risk: cfg.Risk,
		Execution: cfg.Execution,
	})

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Infof("shutdown signal received")
		cancel()
	}()

	var wg sync.WaitGroup
	wg.Add(4)

	go func() {
		defer wg.Done()
		snapshotWorker.Run(ctx)
	}()

	go func() {
		defer wg.Done()
		orch.Run(ctx, orchestrator.DefaultInterval)
	}()

	go func() {
		defer wg.Done()
		runChatAPIServer(ctx, cardSender, cfg.ChatAPI.ListenAddr)
	}()

	go func() {
		defer wg.Done()
		serveMetrics(ctx, cfg.App.MetricsListenAddr)
	}()

	wg.Wait()
	logger.Infof("martin stopped")
}

// buildPriceHistoryFetcher prefers the websocket push stream when
// configured, since StreamClient.Fetch serves buffered ticks without a
// per-cycle HTTP round trip; it falls back to the plain polling client
// otherwise.
func buildPriceHistoryFetcher(httpClient *httpx.Client, cfg *config.Config) orchestrator.PriceHistoryFetcher {
	poller := pricehistory.New(httpClient, cfg.Venue.PriceHistoryBaseURL)
	if cfg.Venue.PriceStreamWSURL == "" {
		return poller
	}
	return pricehistory.NewStreamClient(cfg.Venue.PriceStreamWSURL, cfg.ChatAPI.JWTSecret, poller)
}

// buildExecutor returns the paper simulator in paper mode, or a live
// executor gated behind the security arming state once a signing key has
// been loaded from the vault. The vault's API secret field doubles as
// the hex-encoded order-signing private key for live mode.
func buildExecutor(httpClient *httpx.Client, sec *security.Service, cfg *config.Config) (execution.Executor, error) {
	if cfg.Execution.Mode != config.ExecutionLive {
		return execution.NewPaperExecutor(), nil
	}

	creds, err := sec.LoadCredentials()
	if err != nil {
		return nil, err
	}
	signer, err := orderapi.NewECDSASigner(creds.APISecret)
	if err != nil {
		return nil, err
	}
	domain := orderapi.Domain{
		Name: cfg.Venue.OrderDomainName, Version: cfg.Venue.OrderDomainVersion,
		ChainID: cfg.Venue.OrderChainID, VerifyingContract: cfg.Venue.OrderVerifyingContract,
	}
	client := orderapi.New(httpClient, cfg.Venue.OrderAPIBaseURL, domain, signer)
	return execution.NewLiveExecutor(sec, client), nil
}

func runChatAPIServer(ctx context.Context, cardSender *chatapi.Server, addr string) {
	srv := &http.Server{Addr: addr, Handler: cardSender.Router()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Errorf("chatapi server: %v", err)
	}
}

func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Errorf("metrics server: %v", err)
	}
}
