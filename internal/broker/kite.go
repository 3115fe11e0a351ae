package broker

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	apperrors "quantum-trader/internal/errors"
	"quantum-trader/internal/models"
)

// kiteClient is the subset of the Kite Connect client the venue uses.
type kiteClient interface {
	GetQuote(instruments ...string) (kiteconnect.Quote, error)
	GetUserMargins() (kiteconnect.AllMargins, error)
	PlaceOrder(variety string, orderParams kiteconnect.OrderParams) (kiteconnect.OrderResponse, error)
	GetOrderHistory(orderID string) ([]kiteconnect.Order, error)
	GetHistoricalData(instrumentToken int, interval string, fromDate time.Time, toDate time.Time, continuous bool, oi bool) ([]kiteconnect.HistoricalData, error)
	GetInstruments() (kiteconnect.Instruments, error)
}

// KiteConfig holds configuration for the Kite venue.
type KiteConfig struct {
	APIKey      string
	AccessToken string
	Exchange    string
}

// KiteVenue trades equities through Zerodha Kite Connect. Symbols are
// "TRADINGSYMBOL/INR"; the quote part only selects the balance. Quantities
// are whole shares.
type KiteVenue struct {
	client   kiteClient
	exchange string
	now      func() time.Time

	mu     sync.RWMutex
	tokens map[string]int
}

// NewKiteVenue creates a Kite venue with an existing access token.
func NewKiteVenue(cfg KiteConfig) *KiteVenue {
	client := kiteconnect.New(cfg.APIKey)
	client.SetAccessToken(cfg.AccessToken)
	return newKiteVenue(client, cfg.Exchange)
}

func newKiteVenue(client kiteClient, exchange string) *KiteVenue {
	if exchange == "" {
		exchange = "NSE"
	}
	return &KiteVenue{
		client:   client,
		exchange: exchange,
		now:      time.Now,
		tokens:   make(map[string]int),
	}
}

// Name returns "kite".
func (k *KiteVenue) Name() string { return "kite" }

func (k *KiteVenue) tradingSymbol(symbol string) string {
	base, _ := models.SplitSymbol(symbol)
	return strings.ToUpper(base)
}

func (k *KiteVenue) instrument(symbol string) string {
	return k.exchange + ":" + k.tradingSymbol(symbol)
}

// GetTicker returns the last traded price.
func (k *KiteVenue) GetTicker(ctx context.Context, symbol string) (float64, error) {
	key := k.instrument(symbol)
	quotes, err := k.client.GetQuote(key)
	if err != nil {
		return 0, apperrors.NewVenueError(k.Name(), "get_quote", symbol, err)
	}
	q, ok := quotes[key]
	if !ok {
		return 0, apperrors.NewVenueError(k.Name(), "get_quote", symbol, apperrors.ErrSymbolNotFound)
	}
	if q.LastPrice <= 0 {
		return 0, apperrors.NewVenueError(k.Name(), "get_quote", symbol, apperrors.ErrInvalidPrice)
	}
	return q.LastPrice, nil
}

// GetBalance returns available equity cash.
func (k *KiteVenue) GetBalance(ctx context.Context, symbol string) (float64, error) {
	margins, err := k.client.GetUserMargins()
	if err != nil {
		return 0, apperrors.NewVenueError(k.Name(), "get_margins", symbol, err)
	}
	return margins.Equity.Available.Cash, nil
}

// PlaceMarketOrder places an intraday market order and reads back the average
// fill price.
func (k *KiteVenue) PlaceMarketOrder(ctx context.Context, symbol string, side models.OrderSide, qty float64) (*models.OrderAck, error) {
	shares := int(math.Floor(qty))
	if shares <= 0 {
		return nil, apperrors.NewVenueError(k.Name(), "place_order", symbol, fmt.Errorf("quantity %v is less than one share", qty))
	}

	params := kiteconnect.OrderParams{
		Exchange:        k.exchange,
		Tradingsymbol:   k.tradingSymbol(symbol),
		TransactionType: string(side),
		OrderType:       kiteconnect.OrderTypeMarket,
		Product:         kiteconnect.ProductMIS,
		Quantity:        shares,
		Validity:        kiteconnect.ValidityDay,
		Tag:             "quantum-trader",
	}

	resp, err := k.client.PlaceOrder(kiteconnect.VarietyRegular, params)
	if err != nil {
		return nil, apperrors.NewVenueError(k.Name(), "place_order", symbol, err)
	}

	ack := &models.OrderAck{
		OrderID:  resp.OrderID,
		Symbol:   symbol,
		Side:     side,
		Quantity: float64(shares),
		Status:   "PLACED",
		PlacedAt: k.now(),
	}
	if history, err := k.client.GetOrderHistory(resp.OrderID); err == nil && len(history) > 0 {
		last := history[len(history)-1]
		ack.Status = last.Status
		ack.FilledPrice = last.AveragePrice
		if last.FilledQuantity > 0 {
			ack.Quantity = last.FilledQuantity
		}
	}
	return ack, nil
}

// GetCandles returns the most recent limit candles.
func (k *KiteVenue) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	step, err := intervalDuration(timeframe)
	if err != nil {
		return nil, apperrors.NewDataError("candles", symbol, err.Error(), nil)
	}
	interval, ok := kiteInterval(timeframe)
	if !ok {
		return nil, apperrors.NewDataError("candles", symbol, "timeframe not offered by kite: "+timeframe, nil)
	}
	token, err := k.instrumentToken(symbol)
	if err != nil {
		return nil, err
	}

	to := k.now()
	from := to.Add(-time.Duration(limit) * step)
	data, err := k.client.GetHistoricalData(token, interval, from, to, false, false)
	if err != nil {
		return nil, apperrors.NewVenueError(k.Name(), "get_historical", symbol, err)
	}

	if len(data) > limit {
		data = data[len(data)-limit:]
	}
	candles := make([]models.Candle, len(data))
	for i, d := range data {
		candles[i] = models.Candle{
			Timestamp: d.Date.Time,
			Open:      d.Open,
			High:      d.High,
			Low:       d.Low,
			Close:     d.Close,
			Volume:    float64(d.Volume),
		}
	}
	return candles, nil
}

func (k *KiteVenue) instrumentToken(symbol string) (int, error) {
	tradingSymbol := k.tradingSymbol(symbol)

	k.mu.RLock()
	token, ok := k.tokens[tradingSymbol]
	k.mu.RUnlock()
	if ok {
		return token, nil
	}

	instruments, err := k.client.GetInstruments()
	if err != nil {
		return 0, apperrors.NewVenueError(k.Name(), "get_instruments", symbol, err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	for _, inst := range instruments {
		if inst.Exchange == k.exchange {
			k.tokens[inst.Tradingsymbol] = inst.InstrumentToken
		}
	}
	token, ok = k.tokens[tradingSymbol]
	if !ok {
		return 0, apperrors.NewVenueError(k.Name(), "get_instruments", symbol, apperrors.ErrSymbolNotFound)
	}
	return token, nil
}

func kiteInterval(tf string) (string, bool) {
	switch tf {
	case "1m":
		return "minute", true
	case "3m":
		return "3minute", true
	case "5m":
		return "5minute", true
	case "15m":
		return "15minute", true
	case "30m":
		return "30minute", true
	case "1h":
		return "60minute", true
	case "1d":
		return "day", true
	}
	return "", false
}
