package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// lighterAdapter speaks Lighter's public REST API directly. Like the
// hyperliquid adapter, it is intentionally thin: normalization only, no
// order placement, no signing.
type lighterAdapter struct {
	http *http.Client
	base string
}

func newLighterAdapter(creds Credentials) (Adapter, error) {
	return &lighterAdapter{http: httpClient(30 * time.Second), base: "https://mainnet.zklighter.elliot.ai/api/v1"}, nil
}

func (a *lighterAdapter) Name() string { return string(KindLighter) }

func (a *lighterAdapter) get(ctx context.Context, path string, q url.Values, out interface{}) error {
	u := a.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("lighter GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("lighter GET %s: %w", path, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("lighter GET %s: decode: %w", path, err)
	}
	return nil
}

type lighterOrderBookDetail struct {
	MarkPrice    string `json:"mark_price"`
	OpenInterest string `json:"open_interest"`
	FundingRate  string `json:"funding_rate"`
	DailyVolume  string `json:"daily_base_token_volume"`
}

func (a *lighterAdapter) CoinContext(ctx context.Context, coin string) (CoinContext, error) {
	var out lighterOrderBookDetail
	if err := a.get(ctx, "/orderBookDetails", url.Values{"symbol": {coin}}, &out); err != nil {
		return CoinContext{}, fmt.Errorf("lighter coin context: %w", err)
	}
	return CoinContext{
		Coin: coin, Mark: out.MarkPrice, OI: out.OpenInterest, Funding: out.FundingRate,
		Premium: out.MarkPrice, DayVolume: out.DailyVolume,
	}, nil
}

type lighterOrderBook struct {
	Bids []struct {
		Price string `json:"price"`
		Size  string `json:"size"`
	} `json:"bids"`
	Asks []struct {
		Price string `json:"price"`
		Size  string `json:"size"`
	} `json:"asks"`
}

func (a *lighterAdapter) OrderbookL2(ctx context.Context, coin string) (OrderbookSnapshot, error) {
	var out lighterOrderBook
	if err := a.get(ctx, "/orderBookOrders", url.Values{"symbol": {coin}}, &out); err != nil {
		return OrderbookSnapshot{}, fmt.Errorf("lighter orderbook: %w", err)
	}
	var bidTotal, askTotal, bestBid, bestAsk float64
	for i, b := range out.Bids {
		bidTotal += parseFloatSafe(b.Size)
		if i == 0 {
			bestBid = parseFloatSafe(b.Price)
		}
	}
	for i, ofr := range out.Asks {
		askTotal += parseFloatSafe(ofr.Size)
		if i == 0 {
			bestAsk = parseFloatSafe(ofr.Price)
		}
	}
	return OrderbookSnapshot{TotalBidSize: bidTotal, TotalAskSize: askTotal, Mid: (bestBid + bestAsk) / 2, Spread: bestAsk - bestBid}, nil
}

func (a *lighterAdapter) RecentTrades(ctx context.Context, coin string, since int64) ([]Trade, error) {
	var out []struct {
		Timestamp int64  `json:"timestamp"`
		Price     string `json:"price"`
		Size      string `json:"size"`
		IsSell    bool   `json:"is_maker_ask"`
	}
	if err := a.get(ctx, "/trades", url.Values{"symbol": {coin}}, &out); err != nil {
		return nil, fmt.Errorf("lighter recent trades: %w", err)
	}
	trades := make([]Trade, 0, len(out))
	for _, t := range out {
		if t.Timestamp < since {
			continue
		}
		trades = append(trades, Trade{
			Timestamp: t.Timestamp, Price: parseFloatSafe(t.Price), Volume: parseFloatSafe(t.Size), IsSell: t.IsSell,
		})
	}
	return trades, nil
}

func (a *lighterAdapter) ClearinghouseState(ctx context.Context, wallet string) (AccountSummary, []Position, error) {
	var out struct {
		Collateral string `json:"collateral"`
		MarginUsed string `json:"margin_used"`
		Available  string `json:"available_balance"`
		Positions  []struct {
			Symbol        string `json:"symbol"`
			Size          string `json:"position_size"`
			EntryPrice    string `json:"avg_entry_price"`
			LiquidationPx string `json:"liquidation_price"`
			Leverage      string `json:"leverage"`
			MarginUsed    string `json:"margin_used"`
			PositionValue string `json:"position_value"`
			UnrealizedPnl string `json:"unrealized_pnl"`
		} `json:"positions"`
	}
	if err := a.get(ctx, "/account", url.Values{"address": {wallet}}, &out); err != nil {
		return AccountSummary{}, nil, fmt.Errorf("lighter clearinghouse state: %w", err)
	}
	summary := AccountSummary{Wallet: wallet, AccountValue: out.Collateral, TotalMarginUsed: out.MarginUsed, Withdrawable: out.Available}
	positions := make([]Position, 0, len(out.Positions))
	for _, p := range out.Positions {
		positions = append(positions, Position{
			Coin: p.Symbol, Size: p.Size, EntryPrice: p.EntryPrice, LiquidationPrice: p.LiquidationPx,
			LeverageKind: "cross", LeverageValue: p.Leverage, MarginUsed: p.MarginUsed,
			PositionValue: p.PositionValue, UnrealizedPnL: p.UnrealizedPnl,
		})
	}
	return summary, positions, nil
}

func (a *lighterAdapter) SubscribeUserEvents(ctx context.Context, wallet string) (<-chan UserEvent, error) {
	ch := make(chan UserEvent)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

// SubscribeTrades has no public push-stream counterpart wired in this
// package; it degrades to polling RecentTrades (see pollTrades).
func (a *lighterAdapter) SubscribeTrades(ctx context.Context, coin string) (<-chan Trade, error) {
	return pollTrades(ctx, time.Now().UnixMilli(), func(ctx context.Context, since int64) ([]Trade, error) {
		return a.RecentTrades(ctx, coin, since)
	}), nil
}

// SubscribeOrderbook degrades to polling OrderbookL2 (see pollOrderbook).
func (a *lighterAdapter) SubscribeOrderbook(ctx context.Context, coin string) (<-chan OrderbookSnapshot, error) {
	return pollOrderbook(ctx, func(ctx context.Context) (OrderbookSnapshot, error) {
		return a.OrderbookL2(ctx, coin)
	}), nil
}
