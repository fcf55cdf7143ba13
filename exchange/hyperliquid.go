package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// hyperliquidAdapter speaks Hyperliquid's public "info" REST endpoint
// directly, in market/api_client.go's manual-JSON style: a single POST
// endpoint with a type-tagged request body and an untyped response decoded
// into narrow local structs per call site.
type hyperliquidAdapter struct {
	http *http.Client
	base string
}

func newHyperliquidAdapter(creds Credentials) (Adapter, error) {
	return &hyperliquidAdapter{http: httpClient(30 * time.Second), base: "https://api.hyperliquid.xyz"}, nil
}

func (a *hyperliquidAdapter) Name() string { return string(KindHyperliquid) }

func (a *hyperliquidAdapter) post(ctx context.Context, body interface{}, out interface{}) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base+"/info", bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("hyperliquid info: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("hyperliquid info: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("hyperliquid info: decode: %w", err)
	}
	return nil
}

type hlClearinghouseState struct {
	MarginSummary struct {
		AccountValue    string `json:"accountValue"`
		TotalMarginUsed string `json:"totalMarginUsed"`
	} `json:"marginSummary"`
	Withdrawable   string `json:"withdrawable"`
	AssetPositions []struct {
		Position struct {
			Coin           string `json:"coin"`
			Szi            string `json:"szi"`
			EntryPx        string `json:"entryPx"`
			LiquidationPx  string `json:"liquidationPx"`
			MarginUsed     string `json:"marginUsed"`
			PositionValue  string `json:"positionValue"`
			UnrealizedPnl  string `json:"unrealizedPnl"`
			Leverage       struct {
				Type  string `json:"type"`
				Value int    `json:"value"`
			} `json:"leverage"`
		} `json:"position"`
	} `json:"assetPositions"`
}

func (a *hyperliquidAdapter) ClearinghouseState(ctx context.Context, wallet string) (AccountSummary, []Position, error) {
	var out hlClearinghouseState
	if err := a.post(ctx, map[string]string{"type": "clearinghouseState", "user": wallet}, &out); err != nil {
		return AccountSummary{}, nil, fmt.Errorf("hyperliquid clearinghouse state: %w", err)
	}
	summary := AccountSummary{
		Wallet: wallet, AccountValue: out.MarginSummary.AccountValue,
		TotalMarginUsed: out.MarginSummary.TotalMarginUsed, Withdrawable: out.Withdrawable,
	}
	positions := make([]Position, 0, len(out.AssetPositions))
	for _, ap := range out.AssetPositions {
		p := ap.Position
		positions = append(positions, Position{
			Coin: p.Coin, Size: p.Szi, EntryPrice: p.EntryPx, LiquidationPrice: p.LiquidationPx,
			LeverageKind: p.Leverage.Type, LeverageValue: fmt.Sprintf("%d", p.Leverage.Value),
			MarginUsed: p.MarginUsed, PositionValue: p.PositionValue, UnrealizedPnL: p.UnrealizedPnl,
		})
	}
	return summary, positions, nil
}

type hlAssetCtx struct {
	Funding      string `json:"funding"`
	OpenInterest string `json:"openInterest"`
	MarkPx       string `json:"markPx"`
	MidPx        string `json:"midPx"`
	DayNtlVlm    string `json:"dayNtlVlm"`
}

func (a *hyperliquidAdapter) CoinContext(ctx context.Context, coin string) (CoinContext, error) {
	var out []json.RawMessage
	if err := a.post(ctx, map[string]string{"type": "metaAndAssetCtxs"}, &out); err != nil {
		return CoinContext{}, fmt.Errorf("hyperliquid coin context: %w", err)
	}
	if len(out) < 2 {
		return CoinContext{}, fmt.Errorf("hyperliquid coin context: unexpected response shape")
	}
	var ctxs []hlAssetCtx
	if err := json.Unmarshal(out[1], &ctxs); err != nil {
		return CoinContext{}, fmt.Errorf("hyperliquid coin context: decode ctxs: %w", err)
	}
	var meta struct {
		Universe []struct {
			Name string `json:"name"`
		} `json:"universe"`
	}
	if err := json.Unmarshal(out[0], &meta); err != nil {
		return CoinContext{}, fmt.Errorf("hyperliquid coin context: decode meta: %w", err)
	}
	for i, u := range meta.Universe {
		if u.Name == coin && i < len(ctxs) {
			c := ctxs[i]
			return CoinContext{
				Coin: coin, Mark: c.MarkPx, OI: c.OpenInterest, Funding: c.Funding,
				Premium: c.MidPx, DayVolume: c.DayNtlVlm,
			}, nil
		}
	}
	return CoinContext{}, fmt.Errorf("hyperliquid coin context: coin %s not found", coin)
}

type hlL2Book struct {
	Levels [2][]struct {
		Px string `json:"px"`
		Sz string `json:"sz"`
	} `json:"levels"`
}

func (a *hyperliquidAdapter) OrderbookL2(ctx context.Context, coin string) (OrderbookSnapshot, error) {
	var out hlL2Book
	if err := a.post(ctx, map[string]string{"type": "l2Book", "coin": coin}, &out); err != nil {
		return OrderbookSnapshot{}, fmt.Errorf("hyperliquid orderbook: %w", err)
	}
	var bidTotal, askTotal, bestBid, bestAsk float64
	for i, lvl := range out.Levels[0] {
		v := parseFloatSafe(lvl.Sz)
		bidTotal += v
		if i == 0 {
			bestBid = parseFloatSafe(lvl.Px)
		}
	}
	for i, lvl := range out.Levels[1] {
		v := parseFloatSafe(lvl.Sz)
		askTotal += v
		if i == 0 {
			bestAsk = parseFloatSafe(lvl.Px)
		}
	}
	return OrderbookSnapshot{TotalBidSize: bidTotal, TotalAskSize: askTotal, Mid: (bestBid + bestAsk) / 2, Spread: bestAsk - bestBid}, nil
}

func (a *hyperliquidAdapter) RecentTrades(ctx context.Context, coin string, since int64) ([]Trade, error) {
	// Hyperliquid's public info endpoint does not expose a recent-trades
	// query; trade flow is only available over the websocket feed, which
	// is transport detail out of this package's scope (§1). No trade
	// stream for this venue is wired anywhere in this repository.
	return nil, fmt.Errorf("hyperliquid: recent trades require the websocket feed, not exposed by this adapter")
}

func (a *hyperliquidAdapter) SubscribeUserEvents(ctx context.Context, wallet string) (<-chan UserEvent, error) {
	ch := make(chan UserEvent)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

// SubscribeTrades has no REST fallback either: trade flow is only available
// over Hyperliquid's websocket feed, not wired by this adapter (see
// RecentTrades).
func (a *hyperliquidAdapter) SubscribeTrades(ctx context.Context, coin string) (<-chan Trade, error) {
	return nil, fmt.Errorf("hyperliquid: trade stream requires the websocket feed, not exposed by this adapter")
}

// SubscribeOrderbook degrades to polling OrderbookL2 (see pollOrderbook).
func (a *hyperliquidAdapter) SubscribeOrderbook(ctx context.Context, coin string) (<-chan OrderbookSnapshot, error) {
	return pollOrderbook(ctx, func(ctx context.Context) (OrderbookSnapshot, error) {
		return a.OrderbookL2(ctx, coin)
	}), nil
}

func parseFloatSafe(s string) float64 {
	var v float64
	_, _ = fmt.Sscanf(s, "%g", &v)
	return v
}
