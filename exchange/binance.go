package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/gorilla/websocket"
)

type binanceAdapter struct {
	client *futures.Client
}

func resolveCreds(creds Credentials) (key, secret string) {
	key, secret = creds.APIKey, creds.APISecret
	if key == "" && creds.EnvPrefix != "" {
		key = os.Getenv(creds.EnvPrefix + "_API_KEY")
	}
	if secret == "" && creds.EnvPrefix != "" {
		secret = os.Getenv(creds.EnvPrefix + "_API_SECRET")
	}
	return key, secret
}

func newBinanceAdapter(creds Credentials) (Adapter, error) {
	key, secret := resolveCreds(creds)
	// Public endpoints (coin context, orderbook, trades) do not require
	// credentials; wallet-level queries do, per §6.
	client := futures.NewClient(key, secret)
	return &binanceAdapter{client: client}, nil
}

func (a *binanceAdapter) Name() string { return string(KindBinance) }

func (a *binanceAdapter) ClearinghouseState(ctx context.Context, wallet string) (AccountSummary, []Position, error) {
	account, err := a.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return AccountSummary{}, nil, fmt.Errorf("binance clearinghouse state: %w", err)
	}
	summary := AccountSummary{
		Wallet:          wallet,
		AccountValue:    account.TotalWalletBalance,
		TotalMarginUsed: account.TotalPositionInitialMargin,
		Withdrawable:    account.AvailableBalance,
	}
	positions := make([]Position, 0, len(account.Positions))
	for _, p := range account.Positions {
		if p.PositionAmt == "0" || p.PositionAmt == "" {
			continue
		}
		positions = append(positions, Position{
			Coin:             p.Symbol,
			Size:             p.PositionAmt,
			EntryPrice:       p.EntryPrice,
			LiquidationPrice: "", // not carried on this endpoint; left empty in the stored snapshot
			LeverageKind:     p.PositionSide,
			LeverageValue:    p.Leverage,
			MarginUsed:       p.InitialMargin,
			PositionValue:    p.PositionInitialMargin,
			UnrealizedPnL:    p.UnrealizedProfit,
		})
	}
	return summary, positions, nil
}

func (a *binanceAdapter) CoinContext(ctx context.Context, coin string) (CoinContext, error) {
	premium, err := a.client.NewPremiumIndexService().Symbol(coin).Do(ctx)
	if err != nil {
		return CoinContext{}, fmt.Errorf("binance coin context: %w", err)
	}
	if len(premium) == 0 {
		return CoinContext{}, fmt.Errorf("binance coin context: no data for %s", coin)
	}
	p := premium[0]
	oi, err := a.client.NewOpenInterestService().Symbol(coin).Do(ctx)
	oiValue := ""
	if err == nil && oi != nil {
		oiValue = oi.OpenInterest
	}
	return CoinContext{
		Coin:      coin,
		Mark:      p.MarkPrice,
		OI:        oiValue,
		Funding:   p.LastFundingRate,
		Premium:   p.MarkPrice,
		DayVolume: "",
	}, nil
}

func (a *binanceAdapter) OrderbookL2(ctx context.Context, coin string) (OrderbookSnapshot, error) {
	depth, err := a.client.NewDepthService().Symbol(coin).Limit(100).Do(ctx)
	if err != nil {
		return OrderbookSnapshot{}, fmt.Errorf("binance orderbook: %w", err)
	}
	var bidTotal, askTotal float64
	for _, b := range depth.Bids {
		if v, err := strconv.ParseFloat(b.Quantity, 64); err == nil {
			bidTotal += v
		}
	}
	for _, ofr := range depth.Asks {
		if v, err := strconv.ParseFloat(ofr.Quantity, 64); err == nil {
			askTotal += v
		}
	}
	var bestBid, bestAsk float64
	if len(depth.Bids) > 0 {
		bestBid, _ = strconv.ParseFloat(depth.Bids[0].Price, 64)
	}
	if len(depth.Asks) > 0 {
		bestAsk, _ = strconv.ParseFloat(depth.Asks[0].Price, 64)
	}
	return OrderbookSnapshot{
		TotalBidSize: bidTotal,
		TotalAskSize: askTotal,
		Mid:          (bestBid + bestAsk) / 2,
		Spread:       bestAsk - bestBid,
	}, nil
}

func (a *binanceAdapter) RecentTrades(ctx context.Context, coin string, since int64) ([]Trade, error) {
	trades, err := a.client.NewAggTradesService().Symbol(coin).StartTime(since).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance recent trades: %w", err)
	}
	out := make([]Trade, 0, len(trades))
	for _, t := range trades {
		price, _ := strconv.ParseFloat(t.Price, 64)
		qty, _ := strconv.ParseFloat(t.Quantity, 64)
		out = append(out, Trade{
			Timestamp: t.Timestamp,
			Price:     price,
			Volume:    qty,
			IsSell:    t.IsBuyerMaker,
		})
	}
	return out, nil
}

// binanceUserEvent is the subset of the user-data-stream wire payload this
// adapter cares about: ORDER_TRADE_UPDATE events with execution type
// TRADE (fills). Other event types are skipped.
type binanceUserEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Order     struct {
		Symbol      string `json:"s"`
		Side        string `json:"S"`
		ExecType    string `json:"x"`
		OrderStatus string `json:"X"`
	} `json:"o"`
}

// SubscribeUserEvents opens the listen-key user-data websocket stream and
// translates fills into UserEvent. The listen key itself is transport
// detail the core never sees per §1; only the normalized events cross the
// Adapter boundary.
func (a *binanceAdapter) SubscribeUserEvents(ctx context.Context, wallet string) (<-chan UserEvent, error) {
	listenKey, err := a.client.NewStartUserStreamService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance subscribe user events: %w", err)
	}

	url := fmt.Sprintf("wss://fstream.binance.com/ws/%s", listenKey)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("binance subscribe user events: dial: %w", err)
	}

	ch := make(chan UserEvent)
	go func() {
		defer close(ch)
		defer conn.Close()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var evt binanceUserEvent
			if err := json.Unmarshal(raw, &evt); err != nil {
				continue
			}
			if evt.EventType != "ORDER_TRADE_UPDATE" || evt.Order.ExecType != "TRADE" {
				continue
			}
			select {
			case ch <- UserEvent{
				Kind: UserEventFill, Wallet: wallet, Coin: evt.Order.Symbol, Timestamp: evt.EventTime,
				Raw: map[string]string{"side": evt.Order.Side, "status": evt.Order.OrderStatus},
			}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// binanceAggTradeEvent is the wire shape of the public aggTrade stream.
type binanceAggTradeEvent struct {
	EventType  string `json:"e"`
	EventTime  int64  `json:"E"`
	Price      string `json:"p"`
	Quantity   string `json:"q"`
	BuyerMaker bool   `json:"m"`
}

// SubscribeTrades opens the public aggTrade stream, requiring no
// credentials (§6: public market data is unauthenticated).
func (a *binanceAdapter) SubscribeTrades(ctx context.Context, coin string) (<-chan Trade, error) {
	url := fmt.Sprintf("wss://fstream.binance.com/ws/%s@aggTrade", strings.ToLower(coin))
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("binance subscribe trades: dial: %w", err)
	}

	ch := make(chan Trade)
	go func() {
		defer close(ch)
		defer conn.Close()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var evt binanceAggTradeEvent
			if err := json.Unmarshal(raw, &evt); err != nil {
				continue
			}
			price, _ := strconv.ParseFloat(evt.Price, 64)
			qty, _ := strconv.ParseFloat(evt.Quantity, 64)
			select {
			case ch <- Trade{Timestamp: evt.EventTime, Price: price, Volume: qty, IsSell: evt.BuyerMaker}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// binancePartialDepth is the wire shape of the public partial-book-depth
// stream (<symbol>@depth20@500ms): a full top-N snapshot on every tick,
// unlike the diff-depth stream, so no local book needs to be maintained.
type binancePartialDepth struct {
	Bids [][2]string `json:"bids"`
	Asks [][2]string `json:"asks"`
}

// SubscribeOrderbook opens the public partial-book-depth stream.
func (a *binanceAdapter) SubscribeOrderbook(ctx context.Context, coin string) (<-chan OrderbookSnapshot, error) {
	url := fmt.Sprintf("wss://fstream.binance.com/ws/%s@depth20@500ms", strings.ToLower(coin))
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("binance subscribe orderbook: dial: %w", err)
	}

	ch := make(chan OrderbookSnapshot)
	go func() {
		defer close(ch)
		defer conn.Close()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var snap binancePartialDepth
			if err := json.Unmarshal(raw, &snap); err != nil {
				continue
			}
			var bidTotal, askTotal, bestBid, bestAsk float64
			for i, b := range snap.Bids {
				if v, err := strconv.ParseFloat(b[1], 64); err == nil {
					bidTotal += v
				}
				if i == 0 {
					bestBid, _ = strconv.ParseFloat(b[0], 64)
				}
			}
			for i, ofr := range snap.Asks {
				if v, err := strconv.ParseFloat(ofr[1], 64); err == nil {
					askTotal += v
				}
				if i == 0 {
					bestAsk, _ = strconv.ParseFloat(ofr[0], 64)
				}
			}
			select {
			case ch <- OrderbookSnapshot{
				Timestamp: time.Now().UnixNano(), TotalBidSize: bidTotal, TotalAskSize: askTotal,
				Mid: (bestBid + bestAsk) / 2, Spread: bestAsk - bestBid,
			}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
