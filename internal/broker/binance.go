package broker

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
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	apperrors "quantum-trader/internal/errors"
	"quantum-trader/internal/logging"
	"quantum-trader/internal/models"
)

const (
	binanceBaseURL    = "https://api.binance.com"
	binanceTestnetURL = "https://testnet.binance.vision"
	binanceRecvWindow = 5000
)

// BinanceConfig holds configuration for the Binance venue.
type BinanceConfig struct {
	Key        APIKey
	SymbolKeys map[string]APIKey
	Testnet    bool
	// BaseURL overrides the endpoint chosen by Testnet.
	BaseURL           string
	RequestsPerSecond int
	Timeout           time.Duration
	// MaxElapsedTime bounds retries of idempotent requests.
	MaxElapsedTime time.Duration
	Logger         zerolog.Logger
}

// BinanceVenue talks to the Binance spot REST API. Signed requests use
// HMAC-SHA256 over the query string.
type BinanceVenue struct {
	key        APIKey
	symbolKeys map[string]APIKey
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxElapsed time.Duration
	logger     zerolog.Logger
	now        func() time.Time
}

// NewBinanceVenue creates a Binance venue.
func NewBinanceVenue(cfg BinanceConfig) *BinanceVenue {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = binanceBaseURL
		if cfg.Testnet {
			baseURL = binanceTestnetURL
		}
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxElapsed := cfg.MaxElapsedTime
	if maxElapsed <= 0 {
		maxElapsed = 30 * time.Second
	}
	return &BinanceVenue{
		key:        cfg.Key,
		symbolKeys: cfg.SymbolKeys,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), rps),
		maxElapsed: maxElapsed,
		logger:     logging.WithComponent(cfg.Logger, "binance"),
		now:        time.Now,
	}
}

// Name returns "binance".
func (b *BinanceVenue) Name() string { return "binance" }

// binanceSymbol maps "BTC/EUR" to "BTCEUR".
func binanceSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}

func (b *BinanceVenue) keyFor(symbol string) APIKey {
	if k, ok := b.symbolKeys[symbol]; ok && k.Key != "" {
		return k
	}
	return b.key
}

func (b *BinanceVenue) sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// apiError is the Binance error body.
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// do sends a request. Signed requests get timestamp, recvWindow and signature.
// GETs are retried with exponential backoff; orders are sent once.
func (b *BinanceVenue) do(ctx context.Context, method, path, symbol string, params url.Values, signed bool, out interface{}) error {
	if params == nil {
		params = url.Values{}
	}
	key := b.keyFor(symbol)

	operation := func() error {
		if err := b.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("%w: %v", apperrors.ErrRateLimited, err))
		}

		query := params
		if signed {
			query = url.Values{}
			for k, v := range params {
				query[k] = v
			}
			query.Set("timestamp", strconv.FormatInt(b.now().UnixMilli(), 10))
			query.Set("recvWindow", strconv.Itoa(binanceRecvWindow))
			encoded := query.Encode()
			query.Set("signature", b.sign(key.Secret, encoded))
		}

		reqURL := b.baseURL + path
		if len(query) > 0 {
			reqURL += "?" + query.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("creating request: %w", err))
		}
		if signed || key.Key != "" {
			req.Header.Set("X-MBX-APIKEY", key.Key)
		}

		start := time.Now()
		resp, err := b.httpClient.Do(req)
		logging.LogAPICall(b.logger, method, path, time.Since(start), err)
		if err != nil {
			return fmt.Errorf("%w: %v", apperrors.ErrConnectionFailed, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading response body: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			var apiErr apiError
			_ = json.Unmarshal(body, &apiErr)
			err := fmt.Errorf("status %d: code %d: %s", resp.StatusCode, apiErr.Code, apiErr.Msg)
			switch {
			case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 418:
				return fmt.Errorf("%w: %v", apperrors.ErrRateLimited, err)
			case resp.StatusCode >= 500:
				return err
			default:
				return backoff.Permanent(err)
			}
		}

		if err := json.Unmarshal(body, out); err != nil {
			return backoff.Permanent(fmt.Errorf("parsing JSON: %w", err))
		}
		return nil
	}

	var policy backoff.BackOff
	if method == http.MethodGet {
		exp := backoff.NewExponentialBackOff()
		exp.MaxElapsedTime = b.maxElapsed
		policy = exp
	} else {
		policy = &backoff.StopBackOff{}
	}

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return apperrors.NewVenueError(b.Name(), strings.TrimPrefix(path, "/api/v3/"), symbol, err)
	}
	return nil
}

// GetTicker returns the last price.
func (b *BinanceVenue) GetTicker(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", binanceSymbol(symbol))

	var resp struct {
		Symbol string          `json:"symbol"`
		Price  decimal.Decimal `json:"price"`
	}
	if err := b.do(ctx, http.MethodGet, "/api/v3/ticker/price", symbol, params, false, &resp); err != nil {
		return 0, err
	}
	price := resp.Price.InexactFloat64()
	if price <= 0 {
		return 0, apperrors.NewVenueError(b.Name(), "ticker/price", symbol, apperrors.ErrInvalidPrice)
	}
	return price, nil
}

// GetBalance returns the free balance of the quote currency.
func (b *BinanceVenue) GetBalance(ctx context.Context, symbol string) (float64, error) {
	quote := models.QuoteCurrency(symbol)
	if quote == "" {
		return 0, apperrors.NewVenueError(b.Name(), "account", symbol, apperrors.ErrSymbolNotFound)
	}

	var account struct {
		Balances []struct {
			Asset  string          `json:"asset"`
			Free   decimal.Decimal `json:"free"`
			Locked decimal.Decimal `json:"locked"`
		} `json:"balances"`
	}
	if err := b.do(ctx, http.MethodGet, "/api/v3/account", symbol, nil, true, &account); err != nil {
		return 0, err
	}
	for _, bal := range account.Balances {
		if strings.EqualFold(bal.Asset, quote) {
			return bal.Free.InexactFloat64(), nil
		}
	}
	return 0, nil
}

// PlaceMarketOrder sends a MARKET order. The quantity is sent as a decimal
// string truncated to 8 places.
func (b *BinanceVenue) PlaceMarketOrder(ctx context.Context, symbol string, side models.OrderSide, qty float64) (*models.OrderAck, error) {
	quantity := decimal.NewFromFloat(qty).Truncate(8)
	if !quantity.IsPositive() {
		return nil, apperrors.NewVenueError(b.Name(), "order", symbol, fmt.Errorf("quantity must be positive, got %v", qty))
	}

	params := url.Values{}
	params.Set("symbol", binanceSymbol(symbol))
	params.Set("side", string(side))
	params.Set("type", "MARKET")
	params.Set("quantity", quantity.String())
	params.Set("newOrderRespType", "RESULT")

	var resp struct {
		OrderID             int64           `json:"orderId"`
		Status              string          `json:"status"`
		ExecutedQty         decimal.Decimal `json:"executedQty"`
		CummulativeQuoteQty decimal.Decimal `json:"cummulativeQuoteQty"`
		TransactTime        int64           `json:"transactTime"`
	}
	if err := b.do(ctx, http.MethodPost, "/api/v3/order", symbol, params, true, &resp); err != nil {
		return nil, err
	}

	ack := &models.OrderAck{
		OrderID:  strconv.FormatInt(resp.OrderID, 10),
		Symbol:   symbol,
		Side:     side,
		Quantity: resp.ExecutedQty.InexactFloat64(),
		Status:   resp.Status,
		PlacedAt: time.UnixMilli(resp.TransactTime),
	}
	if resp.ExecutedQty.IsPositive() {
		ack.FilledPrice = resp.CummulativeQuoteQty.Div(resp.ExecutedQty).InexactFloat64()
	}
	return ack, nil
}

// GetCandles returns up to limit klines, oldest first.
func (b *BinanceVenue) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	if _, err := intervalDuration(timeframe); err != nil {
		return nil, apperrors.NewDataError("candles", symbol, err.Error(), nil)
	}
	if limit <= 0 || limit > 1000 {
		limit = 500
	}
	params := url.Values{}
	params.Set("symbol", binanceSymbol(symbol))
	params.Set("interval", timeframe)
	params.Set("limit", strconv.Itoa(limit))

	var raw [][]json.RawMessage
	if err := b.do(ctx, http.MethodGet, "/api/v3/klines", symbol, params, false, &raw); err != nil {
		return nil, err
	}

	candles := make([]models.Candle, 0, len(raw))
	for _, k := range raw {
		c, err := parseKline(k)
		if err != nil {
			return nil, apperrors.NewDataError("candles", symbol, "malformed kline", err)
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func parseKline(k []json.RawMessage) (models.Candle, error) {
	if len(k) < 6 {
		return models.Candle{}, fmt.Errorf("kline has %d fields", len(k))
	}
	var openTime int64
	if err := json.Unmarshal(k[0], &openTime); err != nil {
		return models.Candle{}, err
	}
	values := make([]float64, 5)
	for i := range values {
		var d decimal.Decimal
		if err := json.Unmarshal(k[i+1], &d); err != nil {
			return models.Candle{}, err
		}
		values[i] = d.InexactFloat64()
	}
	return models.Candle{
		Timestamp: time.UnixMilli(openTime).UTC(),
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
	}, nil
}

// Ping calls the connectivity endpoint.
func (b *BinanceVenue) Ping(ctx context.Context) error {
	var out struct{}
	return b.do(ctx, http.MethodGet, "/api/v3/ping", "", nil, false, &out)
}
