package exchange

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"okx-trader/internal/errors"
	"okx-trader/internal/models"
)

const defaultWSURL = "wss://ws.okx.com:8443/ws/v5/public"

// OKXTicker implements Ticker over the OKX public websocket. It reconnects
// with exponential backoff and resubscribes to everything it was watching.
type OKXTicker struct {
	wsURL string

	onTick  func(models.Tick)
	onError func(error)

	conn       *websocket.Conn
	connected  bool
	subscribed map[string]struct{}
	cancel     context.CancelFunc

	maxRetries int
	baseDelay  time.Duration

	mu      sync.RWMutex
	writeMu sync.Mutex // serializes websocket writes
}

// OKXTickerConfig holds ticker configuration.
type OKXTickerConfig struct {
	WSURL      string
	MaxRetries int
	BaseDelay  time.Duration
}

// NewOKXTicker creates a ticker for the OKX public stream.
func NewOKXTicker(cfg OKXTickerConfig) *OKXTicker {
	wsURL := cfg.WSURL
	if wsURL == "" {
		wsURL = defaultWSURL
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 5
	}
	baseDelay := cfg.BaseDelay
	if baseDelay == 0 {
		baseDelay = time.Second
	}
	return &OKXTicker{
		wsURL:      wsURL,
		subscribed: make(map[string]struct{}),
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
	}
}

// OnTick registers the tick handler. Must be called before Connect.
func (t *OKXTicker) OnTick(handler func(models.Tick)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTick = handler
}

// OnError registers the error handler.
func (t *OKXTicker) OnError(handler func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onError = handler
}

// Connect dials the websocket and starts the read loop.
func (t *OKXTicker) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	conn, err := t.dial(ctx)
	if err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)

	t.mu.Lock()
	t.conn = conn
	t.connected = true
	t.cancel = cancel
	t.mu.Unlock()

	go t.readLoop(loopCtx)
	go t.pingLoop(loopCtx)
	return nil
}

func (t *OKXTicker) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, t.wsURL, nil)
	if err != nil {
		return nil, errors.NewExchangeError(errors.ClassNetwork, "", "websocket dial failed", err)
	}
	return conn, nil
}

// Disconnect closes the connection and stops the loops.
func (t *OKXTicker) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		return nil
	}
	t.connected = false
	if t.cancel != nil {
		t.cancel()
	}
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}

type wsRequest struct {
	Op   string  `json:"op"`
	Args []wsArg `json:"args"`
}

type wsArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

// Subscribe subscribes to ticker updates for the given instruments.
func (t *OKXTicker) Subscribe(symbols []string) error {
	t.mu.Lock()
	for _, s := range symbols {
		t.subscribed[s] = struct{}{}
	}
	conn := t.conn
	connected := t.connected
	t.mu.Unlock()

	if !connected {
		return errors.ErrConnectionFailed
	}
	return t.writeRequest(conn, "subscribe", symbols)
}

// Unsubscribe stops ticker updates for the given instruments.
func (t *OKXTicker) Unsubscribe(symbols []string) error {
	t.mu.Lock()
	for _, s := range symbols {
		delete(t.subscribed, s)
	}
	conn := t.conn
	connected := t.connected
	t.mu.Unlock()

	if !connected {
		return errors.ErrConnectionFailed
	}
	return t.writeRequest(conn, "unsubscribe", symbols)
}

func (t *OKXTicker) writeRequest(conn *websocket.Conn, op string, symbols []string) error {
	args := make([]wsArg, 0, len(symbols))
	for _, s := range symbols {
		args = append(args, wsArg{Channel: "tickers", InstID: s})
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return conn.WriteJSON(wsRequest{Op: op, Args: args})
}

// tickerMessage is the OKX tickers channel payload.
type tickerMessage struct {
	Arg  wsArg `json:"arg"`
	Data []struct {
		InstID string `json:"instId"`
		Last   string `json:"last"`
		TS     string `json:"ts"`
	} `json:"data"`
}

func (t *OKXTicker) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		t.mu.RLock()
		conn := t.conn
		t.mu.RUnlock()
		if conn == nil {
			return
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.emitError(errors.NewExchangeError(errors.ClassNetwork, "", "websocket read failed", err))
			if !t.reconnect(ctx) {
				return
			}
			continue
		}

		var msg tickerMessage
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Arg.Channel != "tickers" {
			continue
		}

		t.mu.RLock()
		handler := t.onTick
		t.mu.RUnlock()
		if handler == nil {
			continue
		}

		for _, d := range msg.Data {
			price, err := strconv.ParseFloat(d.Last, 64)
			if err != nil {
				continue
			}
			ms, _ := strconv.ParseInt(d.TS, 10, 64)
			handler(models.Tick{
				Symbol:    d.InstID,
				Price:     price,
				Timestamp: time.UnixMilli(ms),
			})
		}
	}
}

// pingLoop keeps the connection alive; OKX drops idle sockets after 30s.
func (t *OKXTicker) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mu.RLock()
			conn := t.conn
			t.mu.RUnlock()
			if conn == nil {
				return
			}

			t.writeMu.Lock()
			err := conn.WriteMessage(websocket.TextMessage, []byte("ping"))
			t.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// reconnect redials with exponential backoff and resubscribes. Returns
// false when retries are exhausted or the context is done.
func (t *OKXTicker) reconnect(ctx context.Context) bool {
	for attempt := 0; attempt < t.maxRetries; attempt++ {
		delay := t.baseDelay << uint(attempt)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}

		conn, err := t.dial(ctx)
		if err != nil {
			t.emitError(err)
			continue
		}

		t.mu.Lock()
		t.conn = conn
		symbols := make([]string, 0, len(t.subscribed))
		for s := range t.subscribed {
			symbols = append(symbols, s)
		}
		t.mu.Unlock()

		if len(symbols) > 0 {
			if err := t.writeRequest(conn, "subscribe", symbols); err != nil {
				t.emitError(err)
				continue
			}
		}
		return true
	}

	t.emitError(errors.Wrap(errors.ErrConnectionFailed, "websocket reconnect exhausted"))
	return false
}

func (t *OKXTicker) emitError(err error) {
	t.mu.RLock()
	handler := t.onError
	t.mu.RUnlock()
	if handler != nil {
		handler(err)
	}
}
