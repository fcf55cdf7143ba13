// Package exchange defines the normalized adapter boundary between
// upstream exchange REST/WebSocket transport (explicitly out of the core's
// scope per spec §1) and the rest of this repository. Concrete adapters
// are thin: they translate a venue's SDK (Binance) or REST (Bybit,
// Hyperliquid, Lighter) response shapes into the event shapes below and do
// nothing else. The core never imports an exchange SDK
// directly; it only imports this package's interface.
//
// Grounded on SynapseStrike/trader/auto_trader.go's switch-on-config-string
// construction of concrete Trader implementations (NewAutoTrader) and
// SynapseStrike/market/api_client.go's credential-fallback/hook-override
// pattern for HTTP client construction.
package exchange

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// AccountSummary is the per-wallet clearinghouse account summary §6 requires.
type AccountSummary struct {
	Wallet          string
	Timestamp       int64
	AccountValue    string
	TotalMarginUsed string
	Withdrawable    string
}

// Position mirrors the raw fields in a Position Snapshot (§3), exactly as
// received from the exchange — no normalization beyond the wallet address.
type Position struct {
	Coin             string
	Size             string
	EntryPrice       string
	LiquidationPrice string
	LeverageKind     string
	LeverageValue    string
	MarginUsed       string
	PositionValue    string
	UnrealizedPnL    string
}

// CoinContext is the per-coin active context: mark, OI, funding, premium,
// day volume, all raw strings per §3.
type CoinContext struct {
	Coin        string
	Timestamp   int64
	Mark        string
	OI          string
	Funding     string
	Premium     string
	DayVolume   string
}

// OrderbookSnapshot is an L2 orderbook summary consumed by the absorption
// tracker's regime context (§4.D).
type OrderbookSnapshot struct {
	Timestamp    int64
	TotalBidSize float64
	TotalAskSize float64
	Mid          float64
	Spread       float64
}

// Trade is a single executed trade, consumed by the absorption tracker.
type Trade struct {
	Timestamp int64
	Price     float64
	Volume    float64
	IsSell    bool
}

// UserEventKind enumerates the kinds of user-channel events an adapter can
// push (fills, liquidations).
type UserEventKind string

const (
	UserEventFill        UserEventKind = "fill"
	UserEventLiquidation UserEventKind = "liquidation"
)

type UserEvent struct {
	Kind      UserEventKind
	Wallet    string
	Coin      string
	Timestamp int64
	Raw       map[string]string
}

// Adapter normalizes one exchange's transport into the event shapes above.
// Implementations must be safe for concurrent use by multiple poller tiers.
type Adapter interface {
	Name() string
	ClearinghouseState(ctx context.Context, wallet string) (AccountSummary, []Position, error)
	CoinContext(ctx context.Context, coin string) (CoinContext, error)
	OrderbookL2(ctx context.Context, coin string) (OrderbookSnapshot, error)
	RecentTrades(ctx context.Context, coin string, since int64) ([]Trade, error)
	SubscribeUserEvents(ctx context.Context, wallet string) (<-chan UserEvent, error)
	// SubscribeTrades and SubscribeOrderbook feed the absorption tracker
	// (§5 "one consumer task per upstream stream"). Venues with no public
	// push feed wired in this package degrade to REST polling, except
	// Hyperliquid's SubscribeTrades, which returns an error because that
	// venue has no REST trade query; see each concrete adapter.
	SubscribeTrades(ctx context.Context, coin string) (<-chan Trade, error)
	SubscribeOrderbook(ctx context.Context, coin string) (<-chan OrderbookSnapshot, error)
}

// Credentials carries the per-exchange auth material. The fallback chain
// (explicit value wins, else environment variable) mirrors api_client.go's
// credential resolution; this package never hardcodes a key.
type Credentials struct {
	APIKey    string
	APISecret string
	// EnvPrefix, if set, causes New to fall back to
	// <EnvPrefix>_API_KEY / <EnvPrefix>_API_SECRET when APIKey/APISecret
	// are empty. Resolution happens in the concrete adapter constructors.
	EnvPrefix string
}

// httpClient is the shared default transport: a bounded-timeout client,
// overridable by tests the same way api_client.go allows DI of its client.
func httpClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// adapterPollInterval is the fixed cadence used by the REST-polling
// stand-ins below. It is not configurable per §9's "reject unknown options
// at construction" note: venues that need a different cadence need a real
// push feed, not a tuning knob on the fallback.
const adapterPollInterval = 2 * time.Second

// pollTrades is the REST-polling stand-in for SubscribeTrades on venues
// with no public trade push stream wired in this package: it re-polls fetch
// on adapterPollInterval and forwards only trades newer than the last one
// seen. It is not a real push feed and callers should not expect
// sub-second latency from it.
func pollTrades(ctx context.Context, since int64, fetch func(ctx context.Context, since int64) ([]Trade, error)) <-chan Trade {
	ch := make(chan Trade)
	go func() {
		defer close(ch)
		cursor := since
		ticker := time.NewTicker(adapterPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				trades, err := fetch(ctx, cursor)
				if err != nil {
					continue
				}
				for _, t := range trades {
					if t.Timestamp <= cursor {
						continue
					}
					select {
					case ch <- t:
					case <-ctx.Done():
						return
					}
				}
				if len(trades) > 0 {
					cursor = trades[len(trades)-1].Timestamp
				}
			}
		}
	}()
	return ch
}

// pollOrderbook is the REST-polling stand-in for SubscribeOrderbook on
// venues with no public orderbook push stream wired in this package.
func pollOrderbook(ctx context.Context, fetch func(ctx context.Context) (OrderbookSnapshot, error)) <-chan OrderbookSnapshot {
	ch := make(chan OrderbookSnapshot)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(adapterPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ob, err := fetch(ctx)
				if err != nil {
					continue
				}
				select {
				case ch <- ob:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch
}

// Kind enumerates the exchanges this repository has a concrete adapter for.
type Kind string

const (
	KindBinance     Kind = "binance"
	KindBybit       Kind = "bybit"
	KindHyperliquid Kind = "hyperliquid"
	KindLighter     Kind = "lighter"
)

// New constructs the concrete Adapter for kind, rejecting an unknown kind
// at construction time (§9's "reject unknown options at construction"
// design note). Credentials are resolved by the constructors but not
// checked against the venue.
func New(kind Kind, creds Credentials) (Adapter, error) {
	switch kind {
	case KindBinance:
		return newBinanceAdapter(creds)
	case KindBybit:
		return newBybitAdapter(creds)
	case KindHyperliquid:
		return newHyperliquidAdapter(creds)
	case KindLighter:
		return newLighterAdapter(creds)
	default:
		return nil, fmt.Errorf("exchange: unknown adapter kind %q", kind)
	}
}
