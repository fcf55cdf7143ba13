package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// bybitAdapter talks to Bybit's v5 REST API directly, in the manual
// JSON-unmarshal style of market/api_client.go, signing private requests
// with the standard v5 HMAC scheme (timestamp + key + recvWindow + query).
type bybitAdapter struct {
	http         *http.Client
	base         string
	apiKey       string
	apiSecret    string
	recvWindowMS string
}

func newBybitAdapter(creds Credentials) (Adapter, error) {
	key, secret := resolveCreds(creds)
	return &bybitAdapter{
		http: httpClient(30 * time.Second), base: "https://api.bybit.com",
		apiKey: key, apiSecret: secret, recvWindowMS: "5000",
	}, nil
}

func (a *bybitAdapter) Name() string { return string(KindBybit) }

func (a *bybitAdapter) signedGet(ctx context.Context, path string, q url.Values, out interface{}) error {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	query := q.Encode()
	signPayload := ts + a.apiKey + a.recvWindowMS + query
	mac := hmac.New(sha256.New, []byte(a.apiSecret))
	mac.Write([]byte(signPayload))
	sig := hex.EncodeToString(mac.Sum(nil))

	u := a.base + path
	if query != "" {
		u += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-BAPI-API-KEY", a.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", ts)
	req.Header.Set("X-BAPI-RECV-WINDOW", a.recvWindowMS)
	req.Header.Set("X-BAPI-SIGN", sig)
	return a.do(req, out)
}

func (a *bybitAdapter) get(ctx context.Context, path string, q url.Values, out interface{}) error {
	u := a.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return a.do(req, out)
}

func (a *bybitAdapter) do(req *http.Request, out interface{}) error {
	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("bybit %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("bybit %s: %w", req.URL.Path, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("bybit %s: decode: %w", req.URL.Path, err)
	}
	return nil
}

type bybitTickerResult struct {
	Result struct {
		List []struct {
			Symbol       string `json:"symbol"`
			MarkPrice    string `json:"markPrice"`
			OpenInterest string `json:"openInterest"`
			FundingRate  string `json:"fundingRate"`
			Volume24h    string `json:"volume24h"`
		} `json:"list"`
	} `json:"result"`
}

func (a *bybitAdapter) CoinContext(ctx context.Context, coin string) (CoinContext, error) {
	var out bybitTickerResult
	q := url.Values{"category": {"linear"}, "symbol": {coin}}
	if err := a.get(ctx, "/v5/market/tickers", q, &out); err != nil {
		return CoinContext{}, err
	}
	if len(out.Result.List) == 0 {
		return CoinContext{}, fmt.Errorf("bybit coin context: no data for %s", coin)
	}
	t := out.Result.List[0]
	return CoinContext{
		Coin: coin, Mark: t.MarkPrice, OI: t.OpenInterest, Funding: t.FundingRate,
		Premium: t.MarkPrice, DayVolume: t.Volume24h,
	}, nil
}

type bybitOrderbookResult struct {
	Result struct {
		Bids [][2]string `json:"b"`
		Asks [][2]string `json:"a"`
	} `json:"result"`
}

func (a *bybitAdapter) OrderbookL2(ctx context.Context, coin string) (OrderbookSnapshot, error) {
	var out bybitOrderbookResult
	q := url.Values{"category": {"linear"}, "symbol": {coin}, "limit": {"50"}}
	if err := a.get(ctx, "/v5/market/orderbook", q, &out); err != nil {
		return OrderbookSnapshot{}, err
	}
	var bidTotal, askTotal, bestBid, bestAsk float64
	for i, b := range out.Result.Bids {
		v, _ := strconv.ParseFloat(b[1], 64)
		bidTotal += v
		if i == 0 {
			bestBid, _ = strconv.ParseFloat(b[0], 64)
		}
	}
	for i, ofr := range out.Result.Asks {
		v, _ := strconv.ParseFloat(ofr[1], 64)
		askTotal += v
		if i == 0 {
			bestAsk, _ = strconv.ParseFloat(ofr[0], 64)
		}
	}
	return OrderbookSnapshot{TotalBidSize: bidTotal, TotalAskSize: askTotal, Mid: (bestBid + bestAsk) / 2, Spread: bestAsk - bestBid}, nil
}

type bybitTradesResult struct {
	Result struct {
		List []struct {
			Time  string `json:"time"`
			Price string `json:"price"`
			Size  string `json:"size"`
			Side  string `json:"side"`
		} `json:"list"`
	} `json:"result"`
}

func (a *bybitAdapter) RecentTrades(ctx context.Context, coin string, since int64) ([]Trade, error) {
	var out bybitTradesResult
	q := url.Values{"category": {"linear"}, "symbol": {coin}, "limit": {"100"}}
	if err := a.get(ctx, "/v5/market/recent-trade", q, &out); err != nil {
		return nil, err
	}
	trades := make([]Trade, 0, len(out.Result.List))
	for _, t := range out.Result.List {
		ts, _ := strconv.ParseInt(t.Time, 10, 64)
		if ts < since {
			continue
		}
		price, _ := strconv.ParseFloat(t.Price, 64)
		size, _ := strconv.ParseFloat(t.Size, 64)
		trades = append(trades, Trade{Timestamp: ts, Price: price, Volume: size, IsSell: t.Side == "Sell"})
	}
	return trades, nil
}

type bybitWalletResult struct {
	Result struct {
		List []struct {
			TotalEquity            string `json:"totalEquity"`
			TotalInitialMargin     string `json:"totalInitialMargin"`
			TotalAvailableBalance  string `json:"totalAvailableBalance"`
		} `json:"list"`
	} `json:"result"`
}

func (a *bybitAdapter) ClearinghouseState(ctx context.Context, wallet string) (AccountSummary, []Position, error) {
	var out bybitWalletResult
	q := url.Values{"accountType": {"UNIFIED"}}
	if err := a.signedGet(ctx, "/v5/account/wallet-balance", q, &out); err != nil {
		return AccountSummary{}, nil, fmt.Errorf("bybit clearinghouse state: %w", err)
	}
	summary := AccountSummary{Wallet: wallet}
	if len(out.Result.List) > 0 {
		w := out.Result.List[0]
		summary.AccountValue = w.TotalEquity
		summary.TotalMarginUsed = w.TotalInitialMargin
		summary.Withdrawable = w.TotalAvailableBalance
	}
	// Only the account summary is fetched: /v5/position/list is not
	// queried, so this adapter returns no positions.
	return summary, nil, nil
}

func (a *bybitAdapter) SubscribeUserEvents(ctx context.Context, wallet string) (<-chan UserEvent, error) {
	ch := make(chan UserEvent)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

// SubscribeTrades has no public push-stream counterpart wired in this
// package; it degrades to polling RecentTrades (see pollTrades).
func (a *bybitAdapter) SubscribeTrades(ctx context.Context, coin string) (<-chan Trade, error) {
	return pollTrades(ctx, time.Now().UnixMilli(), func(ctx context.Context, since int64) ([]Trade, error) {
		return a.RecentTrades(ctx, coin, since)
	}), nil
}

// SubscribeOrderbook degrades to polling OrderbookL2 (see pollOrderbook).
func (a *bybitAdapter) SubscribeOrderbook(ctx context.Context, coin string) (<-chan OrderbookSnapshot, error) {
	return pollOrderbook(ctx, func(ctx context.Context) (OrderbookSnapshot, error) {
		return a.OrderbookL2(ctx, coin)
	}), nil
}
