// Command collector runs the tiered wallet poller and the read-only
// control surface against a single exchange venue and a single sqlite raw
// store. This is the thin runnable wiring point the core components
// (rawstore, poller, risk) were deliberately built without any opinion on;
// the wiring here follows SynapseStrike/trader/auto_trader.go's
// NewAutoTrader-then-Run construction shape.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ksiaz/liquidation-trading-sub004/absorption"
	"github.com/ksiaz/liquidation-trading-sub004/api"
	"github.com/ksiaz/liquidation-trading-sub004/cascade"
	"github.com/ksiaz/liquidation-trading-sub004/config"
	"github.com/ksiaz/liquidation-trading-sub004/exchange"
	"github.com/ksiaz/liquidation-trading-sub004/logx"
	"github.com/ksiaz/liquidation-trading-sub004/metrics"
	"github.com/ksiaz/liquidation-trading-sub004/poller"
	"github.com/ksiaz/liquidation-trading-sub004/rawstore"
	"github.com/ksiaz/liquidation-trading-sub004/risk"
	"github.com/ksiaz/liquidation-trading-sub004/thresholdstore"
)

var log = logx.Named("collector")

func main() {
	config.LoadDotEnv(".env")
	metrics.Init()

	dbPath := envOr("COLLECTOR_DB_PATH", "collector.db")
	thresholdDBPath := envOr("COLLECTOR_THRESHOLD_DB_PATH", "thresholds.db")
	venue := exchange.Kind(envOr("COLLECTOR_EXCHANGE", string(exchange.KindBinance)))
	listenAddr := envOr("COLLECTOR_LISTEN_ADDR", ":8080")
	accountName := envOr("COLLECTOR_ACCOUNT_NAME", "default")
	jwtSecret := os.Getenv("COLLECTOR_JWT_SECRET")

	store, err := rawstore.Open(dbPath)
	if err != nil {
		log.Errorf("open raw store: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	thresholds, err := thresholdstore.Open(thresholdDBPath)
	if err != nil {
		log.Errorf("open threshold store: %v", err)
		os.Exit(1)
	}
	defer thresholds.Close()

	adapter, err := exchange.New(venue, exchange.Credentials{EnvPrefix: envOr("COLLECTOR_CREDS_ENV_PREFIX", "COLLECTOR")})
	if err != nil {
		log.Errorf("construct exchange adapter: %v", err)
		os.Exit(1)
	}

	pollerCfg := config.DefaultPollerConfig()
	wp, err := poller.New(pollerCfg, adapter, store)
	if err != nil {
		log.Errorf("construct poller: %v", err)
		os.Exit(1)
	}

	absorptionTracker, err := absorption.NewTracker(config.DefaultAbsorptionConfig())
	if err != nil {
		log.Errorf("construct absorption tracker: %v", err)
		os.Exit(1)
	}

	cascadeCfg := config.DefaultCascadeConfig()
	coins := strings.Split(envOr("COLLECTOR_COINS", "BTCUSDT"), ",")
	cascadeTrackers := make(map[string]*cascade.Tracker, len(coins))
	for _, coin := range coins {
		ct, err := cascade.NewTracker(coin, cascadeCfg, absorptionTracker)
		if err != nil {
			log.Errorf("construct cascade tracker for %s: %v", coin, err)
			os.Exit(1)
		}
		cascadeTrackers[coin] = ct
	}

	startingCapital, decErr := decimal.NewFromString(envOr("COLLECTOR_STARTING_CAPITAL", "100000"))
	if decErr != nil {
		log.Errorf("parse starting capital: %v", decErr)
		os.Exit(1)
	}
	cm, err := risk.NewCapitalManager(accountName, config.DefaultRiskConfig(), startingCapital, nil, nil)
	if err != nil {
		log.Errorf("construct capital manager: %v", err)
		os.Exit(1)
	}

	var overrideLog *risk.OverrideLog
	if jwtSecret != "" {
		overrideLog, err = risk.OpenOverrideLog(envOr("COLLECTOR_OVERRIDE_LOG_PATH", "override_log.db"))
		if err != nil {
			log.Errorf("open override log: %v", err)
			os.Exit(1)
		}
		defer overrideLog.Close()
		cm.WithOverrideLog(overrideLog)
	}

	accounts := map[string]*risk.CapitalManager{accountName: cm}

	var httpServer *http.Server
	if jwtSecret != "" {
		srv, err := api.NewServer(store, thresholds, accounts, []byte(jwtSecret))
		if err != nil {
			log.Errorf("construct control surface: %v", err)
			os.Exit(1)
		}
		httpServer = &http.Server{Addr: listenAddr, Handler: srv.Handler()}
	} else {
		log.Warnf("COLLECTOR_JWT_SECRET not set, control surface disabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go wp.Run(ctx)

	for _, coin := range coins {
		go runTradeConsumer(ctx, adapter, absorptionTracker, coin)
		go runOrderbookConsumer(ctx, adapter, absorptionTracker, coin)
		go runOIConsumer(ctx, adapter, cascadeTrackers[coin], coin, cascadeCfg.SignificantDropPct)
	}

	if httpServer != nil {
		go func() {
			log.Infof("control surface listening on %s", listenAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("control surface: %v", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Infof("shutdown signal received, draining in-flight polls")

	cancel()
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}
}

// streamReconnectDelay is the back-off between a trade/orderbook stream
// ending (closed connection, cancelled poll) and the next subscribe
// attempt, for the venues whose SubscribeTrades/SubscribeOrderbook can
// recover mid-run (§5 "one consumer task per upstream stream").
const streamReconnectDelay = 5 * time.Second

// oiPollInterval is the cadence of the OI-rate consumer task that drives
// the cascade tracker (§4.C). No adapter exposes a push feed for open
// interest in this package, so this task polls CoinContext on a ticker and
// derives OIChangePct from consecutive readings, the same REST-polling
// trade-off used by the non-binance trade/orderbook stand-ins.
const oiPollInterval = 2 * time.Second

// runTradeConsumer is the one-task-per-upstream-stream trade consumer:
// it holds one subscription open for coin and feeds every trade into the
// shared absorption tracker, resubscribing after streamReconnectDelay if
// the stream ends before ctx is cancelled.
func runTradeConsumer(ctx context.Context, adapter exchange.Adapter, tracker *absorption.Tracker, coin string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		ch, err := adapter.SubscribeTrades(ctx, coin)
		if err != nil {
			log.Warnf("subscribe trades for %s: %v", coin, err)
			metrics.IncAPIError("subscribe_trades")
			return
		}
		for tr := range ch {
			tracker.RecordTrade(coin, absorption.Trade{
				Timestamp: time.Unix(0, tr.Timestamp), Price: tr.Price, Volume: tr.Volume, IsSell: tr.IsSell,
			})
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(streamReconnectDelay):
		}
	}
}

// runOrderbookConsumer is the orderbook counterpart to runTradeConsumer.
func runOrderbookConsumer(ctx context.Context, adapter exchange.Adapter, tracker *absorption.Tracker, coin string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		ch, err := adapter.SubscribeOrderbook(ctx, coin)
		if err != nil {
			log.Warnf("subscribe orderbook for %s: %v", coin, err)
			metrics.IncAPIError("subscribe_orderbook")
			return
		}
		for ob := range ch {
			tracker.RecordOrderbook(coin, absorption.OrderbookSample{
				Timestamp: time.Unix(0, ob.Timestamp), TotalBidSize: ob.TotalBidSize, TotalAskSize: ob.TotalAskSize,
				Mid: ob.Mid, Spread: ob.Spread,
			})
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(streamReconnectDelay):
		}
	}
}

// runOIConsumer polls CoinContext on oiPollInterval and feeds the cascade
// tracker one Event per reading, skipping the first (there is no prior
// reading to diff against).
func runOIConsumer(ctx context.Context, adapter exchange.Adapter, tracker *cascade.Tracker, coin string, significantDropPct float64) {
	ticker := time.NewTicker(oiPollInterval)
	defer ticker.Stop()

	var lastOI float64
	haveLast := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		cc, err := adapter.CoinContext(ctx, coin)
		if err != nil {
			metrics.IncAPIError("oi_poll")
			continue
		}
		oi, err := strconv.ParseFloat(cc.OI, 64)
		if err != nil {
			continue
		}
		if !haveLast {
			lastOI, haveLast = oi, true
			continue
		}
		changePct := 0.0
		if lastOI != 0 {
			changePct = (oi - lastOI) / lastOI * 100
		}
		tracker.Process(cascade.Event{
			Timestamp: time.Now(), OIChangePct: changePct, IsSignificant: changePct < -significantDropPct,
		})
		lastOI = oi
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
