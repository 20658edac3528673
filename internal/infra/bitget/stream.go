package bitget

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"volume_miner/internal/domain"
	"volume_miner/internal/infra"
)

type cachedPrice struct {
	price decimal.Decimal
	at    time.Time
}

// StreamSource keeps the last ticker price of each subscribed symbol from the
// public websocket and serves FetchLastPrice from that cache.
type StreamSource struct {
	url        string
	symbols    []string
	staleAfter time.Duration
	fallback   domain.PriceSource
	metrics    *infra.Metrics
	logger     *slog.Logger
	now        func() time.Time

	conn      *websocket.Conn
	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	pricesMu sync.RWMutex
	prices   map[string]cachedPrice
}

// StreamOption configures a StreamSource.
type StreamOption func(*StreamSource)

// WithFallback queries src when the cache has no fresh price.
func WithFallback(src domain.PriceSource) StreamOption {
	return func(s *StreamSource) { s.fallback = src }
}

// WithStreamMetrics tracks the connection gauge in m.
func WithStreamMetrics(m *infra.Metrics) StreamOption {
	return func(s *StreamSource) { s.metrics = m }
}

// NewStreamSource creates a stream price source for symbols.
func NewStreamSource(wsURL string, symbols []string, staleAfter time.Duration, opts ...StreamOption) *StreamSource {
	if wsURL == "" {
		wsURL = DefaultWSURL
	}
	seen := make(map[string]bool, len(symbols))
	syms := make([]string, 0, len(symbols))
	for _, s := range symbols {
		n := NormalizeSymbol(s)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		syms = append(syms, n)
	}

	s := &StreamSource{
		url:        wsURL,
		symbols:    syms,
		staleAfter: staleAfter,
		metrics:    infra.GlobalMetrics,
		logger:     slog.Default().With("module", "bitget_stream"),
		now:        time.Now,
		prices:     make(map[string]cachedPrice, len(syms)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect starts the background connection loop and returns immediately.
func (s *StreamSource) Connect(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.connectionLoop(ctx)
	return nil
}

// FetchLastPrice serves the cached price, or the fallback when it is missing
// or older than the staleness window.
func (s *StreamSource) FetchLastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	sym := NormalizeSymbol(symbol)

	s.pricesMu.RLock()
	cp, ok := s.prices[sym]
	s.pricesMu.RUnlock()

	if ok && (s.staleAfter <= 0 || s.now().Sub(cp.at) <= s.staleAfter) {
		return cp.price, nil
	}
	if s.fallback != nil {
		return s.fallback.FetchLastPrice(ctx, sym)
	}
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s: no streamed price yet", domain.ErrPriceUnavailable, sym)
	}
	return decimal.Zero, fmt.Errorf("%w: %s: streamed price is %s old", domain.ErrPriceUnavailable, sym, s.now().Sub(cp.at).Round(time.Second))
}

// Connected reports whether the websocket is currently up.
func (s *StreamSource) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *StreamSource) connectionLoop(ctx context.Context) {
	defer s.wg.Done()
	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.connect(ctx); err != nil {
			delay := infra.DefaultBackoff.Delay(retryCount)
			s.logger.Warn("Bitget stream connection failed", slog.Any("error", err), slog.Int("retry", retryCount), slog.Duration("delay", delay))
			retryCount++
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		retryCount = 0
		s.readLoop(ctx)
	}
}

func (s *StreamSource) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()
	s.metrics.IncrementConnections()

	if err := s.subscribe(); err != nil {
		s.closeConnection()
		return err
	}

	s.wg.Add(1)
	go s.pingLoop(ctx, conn)
	s.logger.Info("Bitget stream connected", slog.Int("symbols", len(s.symbols)))
	return nil
}

func (s *StreamSource) subscribe() error {
	args := make([]subscribeArg, 0, len(s.symbols))
	for _, id := range s.symbols {
		args = append(args, subscribeArg{InstType: "SPOT", Channel: "ticker", InstId: id})
	}
	b, err := json.Marshal(subscribeRequest{Op: "subscribe", Args: args})
	if err != nil {
		return err
	}
	return s.threadSafeWrite(websocket.TextMessage, b)
}

// pingLoop exits when ctx ends or when conn is no longer the live connection.
func (s *StreamSource) pingLoop(ctx context.Context, conn *websocket.Conn) {
	defer s.wg.Done()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.RLock()
			live := s.conn == conn
			s.mu.RUnlock()
			if !live {
				return
			}
			if err := s.threadSafeWrite(websocket.TextMessage, []byte("ping")); err != nil {
				s.logger.Warn("Bitget stream ping failed", slog.Any("error", err))
			}
		}
	}
}

func (s *StreamSource) threadSafeWrite(msgType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn == nil {
		return fmt.Errorf("no conn")
	}
	return s.conn.WriteMessage(msgType, data)
}

func (s *StreamSource) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("Bitget stream read failed", slog.Any("error", err))
			}
			s.closeConnection()
			return
		}
		if string(msg) == "pong" {
			continue
		}
		s.handleMessage(msg)
	}
}

func (s *StreamSource) handleMessage(msg []byte) {
	var resp tickerResponse
	if err := json.Unmarshal(msg, &resp); err != nil {
		s.logger.Debug("Bitget stream: unparsable message", slog.Any("error", err))
		return
	}
	if resp.Event == "error" {
		s.logger.Error("Bitget stream subscription error", slog.String("code", string(resp.Code)), slog.String("msg", resp.Msg))
		return
	}
	if resp.Arg.Channel != "ticker" || len(resp.Data) == 0 {
		return
	}

	at := s.now()
	for _, data := range resp.Data {
		price, err := decimal.NewFromString(data.LastPr)
		if err != nil || !price.IsPositive() {
			continue
		}
		s.pricesMu.Lock()
		s.prices[NormalizeSymbol(data.InstId)] = cachedPrice{price: price, at: at}
		s.pricesMu.Unlock()
	}
}

func (s *StreamSource) closeConnection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
		s.metrics.DecrementConnections()
	}
	s.connected = false
}

// Disconnect stops the connection loop and waits for it to exit.
func (s *StreamSource) Disconnect() {
	if s.cancel != nil {
		s.cancel()
	}
	s.closeConnection()
	s.wg.Wait()
}
