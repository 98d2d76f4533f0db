package clob

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/updownlabs/sidepricer/internal/domain"
)

const (
	// writeWait bounds every write to the peer.
	writeWait = 10 * time.Second

	// pongWait is how long a silent connection is considered alive.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Reconnect backoff bounds.
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// BookHandler receives full orderbook snapshots from the "book" channel.
type BookHandler func(BookMessage)

// PriceChangeHandler receives incremental level updates from the
// "price_change" channel.
type PriceChangeHandler func(PriceChangeMessage)

// WSClient consumes the CLOB real-time market data feed. Once connected it
// owns the connection: a dropped feed is redialed with exponential backoff
// and the tracked subscriptions are replayed, so callers never need their
// own reconnect loop.
//
// Handlers must be registered before Connect.
type WSClient struct {
	wsURL string
	conn  *websocket.Conn

	mu     sync.Mutex
	closed bool

	// subscriptions are replayed after every reconnect.
	subscriptions []WSCommand

	onBook        BookHandler
	onPriceChange PriceChangeHandler

	done chan struct{}
}

// NewWSClient creates a client for the given WebSocket URL, e.g.
// "wss://ws-subscriptions-clob.polymarket.com/ws/market".
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{
		wsURL: wsURL,
		done:  make(chan struct{}),
	}
}

// OnBook registers the handler for orderbook snapshots.
func (w *WSClient) OnBook(handler BookHandler) {
	w.onBook = handler
}

// OnPriceChange registers the handler for incremental level updates.
func (w *WSClient) OnPriceChange(handler PriceChangeHandler) {
	w.onPriceChange = handler
}

// Connect dials the feed and starts the read and ping loops. Tracked
// subscriptions are replayed, which makes Connect double as the reconnect
// path.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("clob/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("clob/ws: connect: %w", err)
	}

	w.conn = conn
	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go w.readLoop()
	go w.pingLoop()

	for _, cmd := range w.subscriptions {
		if err := w.sendCommand(cmd); err != nil {
			return fmt.Errorf("clob/ws: restore subscription: %w", err)
		}
	}

	return nil
}

// Subscribe subscribes to the given channels ("book", "price_change") for
// the specified asset IDs and tracks the commands for reconnect replay.
func (w *WSClient) Subscribe(ctx context.Context, channels []string, assetIDs []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("clob/ws: not connected")
	}

	for _, ch := range channels {
		cmd := WSCommand{
			Type:    "subscribe",
			Channel: ch,
			Assets:  assetIDs,
		}
		if err := w.sendCommand(cmd); err != nil {
			return fmt.Errorf("clob/ws: subscribe to %s: %w", ch, err)
		}
		w.subscriptions = append(w.subscriptions, cmd)
	}

	return nil
}

// Close shuts the connection down and stops the reconnect behaviour.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}
	return nil
}

// sendCommand writes a JSON command to the peer. Caller must hold w.mu.
func (w *WSClient) sendCommand(cmd WSCommand) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads and dispatches messages until the connection drops, then
// hands off to reconnect unless the client is closed.
func (w *WSClient) readLoop() {
	for {
		select {
		case <-w.done:
			return
		default:
		}

		w.mu.Lock()
		conn := w.conn
		w.mu.Unlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			select {
			case <-w.done:
				return
			default:
			}
			w.reconnect()
			return // the new connection runs its own readLoop
		}

		w.handleMessage(message)
	}
}

// pingLoop keeps the connection alive until it drops or the client closes.
func (w *WSClient) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.Lock()
			conn := w.conn
			w.mu.Unlock()
			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage routes a raw frame to the matching handler. Frames that do
// not parse or carry an unknown type are dropped.
func (w *WSClient) handleMessage(raw []byte) {
	var envelope struct {
		MsgType string `json:"msg_type"`
		Event   string `json:"event_type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}

	msgType := envelope.MsgType
	if msgType == "" {
		msgType = envelope.Event
	}

	switch msgType {
	case "book":
		var book BookMessage
		if err := json.Unmarshal(raw, &book); err != nil {
			return
		}
		if w.onBook != nil {
			w.onBook(book)
		}

	case "price_change":
		var pc PriceChangeMessage
		if err := json.Unmarshal(raw, &pc); err != nil {
			return
		}
		if w.onPriceChange != nil {
			w.onPriceChange(pc)
		}
	}
}

// reconnect redials with exponential backoff until Connect succeeds or the
// client is closed.
func (w *WSClient) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-w.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()
		if err == nil {
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
