package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"quantum-trader/internal/logging"
)

// PriceStreamConfig holds configuration for the price stream.
type PriceStreamConfig struct {
	URL     string
	Symbols []string
	// MaxAge is how long a streamed price stays usable.
	MaxAge time.Duration
	Logger zerolog.Logger
}

// PriceStream keeps the latest price per symbol from the Binance
// miniTicker websocket and reconnects with exponential backoff.
type PriceStream struct {
	url     string
	streams map[string]string // "btceur" -> "BTC/EUR"
	maxAge  time.Duration
	logger  zerolog.Logger
	now     func() time.Time

	mu        sync.RWMutex
	prices    map[string]streamPrice
	connected bool
	onTick    func(symbol string, price float64)

	writeMu sync.Mutex
	conn    *websocket.Conn

	cancel context.CancelFunc
	done   chan struct{}
}

type streamPrice struct {
	price float64
	at    time.Time
}

type miniTicker struct {
	Event  string          `json:"e"`
	Symbol string          `json:"s"`
	Close  decimal.Decimal `json:"c"`
}

// NewPriceStream creates a price stream. Connect starts it.
func NewPriceStream(cfg PriceStreamConfig) *PriceStream {
	url := cfg.URL
	if url == "" {
		url = "wss://stream.binance.com:9443/ws"
	}
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = time.Minute
	}
	streams := make(map[string]string, len(cfg.Symbols))
	for _, symbol := range cfg.Symbols {
		streams[strings.ToLower(binanceSymbol(symbol))] = symbol
	}
	return &PriceStream{
		url:     url,
		streams: streams,
		maxAge:  maxAge,
		logger:  logging.WithComponent(cfg.Logger, "price_stream"),
		now:     time.Now,
		prices:  make(map[string]streamPrice),
	}
}

// OnTick registers a handler called for every price update.
func (s *PriceStream) OnTick(handler func(symbol string, price float64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTick = handler
}

// Connect dials and subscribes, then serves in the background until ctx is
// cancelled or Close is called. Only the first dial error is returned.
func (s *PriceStream) Connect(ctx context.Context) error {
	if err := s.dial(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.serve(runCtx)
	return nil
}

func (s *PriceStream) dial(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("price stream connect: %w", err)
	}

	params := make([]string, 0, len(s.streams))
	for stream := range s.streams {
		params = append(params, stream+"@miniTicker")
	}
	sub := map[string]interface{}{"method": "SUBSCRIBE", "params": params, "id": 1}

	s.writeMu.Lock()
	err = conn.WriteJSON(sub)
	s.writeMu.Unlock()
	if err != nil {
		conn.Close()
		return fmt.Errorf("price stream subscribe: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()
	s.logger.Info().Int("streams", len(params)).Msg("Price stream connected")
	return nil
}

func (s *PriceStream) serve(ctx context.Context) {
	defer close(s.done)

	for {
		err := s.readLoop(ctx)
		s.mu.Lock()
		s.connected = false
		s.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn().Err(err).Msg("Price stream disconnected, reconnecting")

		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = time.Second
		policy.MaxInterval = 30 * time.Second
		policy.MaxElapsedTime = 0
		if err := backoff.Retry(func() error { return s.dial(ctx) }, backoff.WithContext(policy, ctx)); err != nil {
			return
		}
	}
}

func (s *PriceStream) readLoop(ctx context.Context) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	defer conn.Close()

	// Unblock ReadMessage on cancellation.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.handleMessage(msg)
	}
}

// handleMessage accepts raw and combined-stream miniTicker frames and ignores
// anything else.
func (s *PriceStream) handleMessage(msg []byte) {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(msg, &envelope); err == nil && len(envelope.Data) > 0 {
		msg = envelope.Data
	}

	var tick miniTicker
	if err := json.Unmarshal(msg, &tick); err != nil || tick.Event != "24hrMiniTicker" {
		return
	}
	symbol, ok := s.streams[strings.ToLower(tick.Symbol)]
	if !ok {
		return
	}
	price := tick.Close.InexactFloat64()
	if price <= 0 {
		return
	}

	s.mu.Lock()
	s.prices[symbol] = streamPrice{price: price, at: s.now()}
	handler := s.onTick
	s.mu.Unlock()

	if handler != nil {
		handler(symbol, price)
	}
}

// Price returns the latest streamed price if it is younger than MaxAge.
func (s *PriceStream) Price(symbol string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[symbol]
	if !ok || s.now().Sub(p.at) > s.maxAge {
		return 0, false
	}
	return p.price, true
}

// IsConnected reports whether the websocket is up.
func (s *PriceStream) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Close stops the stream and waits for the serve loop to exit.
func (s *PriceStream) Close() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.done
	return nil
}
