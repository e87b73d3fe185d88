// Package blockwatch streams new block heads from an Ethereum node's
// WebSocket endpoint. Heads are delivered as refresh triggers: a
// consumer that falls behind loses old heads rather than stalling the
// read loop.
package blockwatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"gauge-staking-view/internal/logger"
)

// Config configures watcher behavior.
type Config struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultConfig returns default watcher configuration.
func DefaultConfig() Config {
	return Config{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// Head is one new-block notification.
type Head struct {
	Number     uint64
	Hash       string
	ParentHash string
	Timestamp  uint64
}

// Watcher maintains a newHeads subscription over a WebSocket
// connection, reconnecting and resubscribing when the connection
// drops.
type Watcher struct {
	endpoint string
	config   Config
	log      zerolog.Logger

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	// subID identifies the live subscription; notifications for stale
	// subscriptions from before a reconnect are ignored.
	subID string
	subMu sync.Mutex

	heads chan Head

	// done signals shutdown
	done chan struct{}
	wg   sync.WaitGroup

	// reconnecting indicates reconnection in progress
	reconnecting atomic.Bool
}

// NewWatcher connects to the endpoint, subscribes to newHeads, and
// starts the read and ping loops.
func NewWatcher(ctx context.Context, endpoint string, config *Config) (*Watcher, error) {
	cfg := DefaultConfig()
	if config != nil {
		cfg = *config
	}

	w := &Watcher{
		endpoint: endpoint,
		config:   cfg,
		log:      logger.GetForComponent("blockwatch"),
		heads:    make(chan Head, 64),
		done:     make(chan struct{}),
	}

	conn, err := w.dial(ctx)
	if err != nil {
		return nil, err
	}
	if err := w.subscribe(conn); err != nil {
		conn.Close()
		return nil, err
	}
	w.install(conn)

	w.wg.Add(1)
	go w.readLoop()

	w.wg.Add(1)
	go w.pingLoop()

	return w, nil
}

// Heads returns the channel new block heads are delivered on. The
// channel is closed by Close.
func (w *Watcher) Heads() <-chan Head {
	return w.heads
}

// Close terminates the subscription and waits for the loops to stop.
func (w *Watcher) Close() error {
	if w.closed.Swap(true) {
		return nil // Already closed
	}

	close(w.done)

	w.connMu.Lock()
	if w.conn != nil {
		w.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		w.conn.Close()
	}
	w.connMu.Unlock()

	w.wg.Wait()
	close(w.heads)
	return nil
}

// dial establishes a WebSocket connection.
func (w *Watcher) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return conn, nil
}

// install publishes the connection to the read and ping loops.
func (w *Watcher) install(conn *websocket.Conn) {
	w.connMu.Lock()
	w.conn = conn
	w.connMu.Unlock()
}

// subscribe sends eth_subscribe over conn and waits for the matching
// confirmation. The caller must own all reads on conn while subscribe
// runs, so it is called only before the connection is installed.
func (w *Watcher) subscribe(conn *websocket.Conn) error {
	reqID := w.requestID.Add(1)
	req := wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "eth_subscribe",
		Params:  []interface{}{"newHeads"},
	}

	conn.SetWriteDeadline(time.Now().Add(w.config.WriteTimeout))
	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}

	// Notifications for a subscription from before a reconnect may
	// still be queued ahead of the confirmation; skip anything that
	// does not answer this request.
	conn.SetReadDeadline(time.Now().Add(w.config.ReadTimeout))
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read subscribe response: %w", err)
		}

		var resp wsSubscribeResponse
		if err := json.Unmarshal(message, &resp); err != nil || resp.ID != reqID {
			continue
		}
		if resp.Error != nil {
			return fmt.Errorf("subscribe rejected: %s (code %d)", resp.Error.Message, resp.Error.Code)
		}
		if resp.Result == "" {
			return fmt.Errorf("subscribe returned empty subscription id")
		}

		w.subMu.Lock()
		w.subID = resp.Result
		w.subMu.Unlock()
		return nil
	}
}

// readLoop reads messages and dispatches head notifications.
func (w *Watcher) readLoop() {
	defer w.wg.Done()

	for !w.closed.Load() {
		w.connMu.Lock()
		conn := w.conn
		w.connMu.Unlock()

		if conn == nil {
			select {
			case <-w.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(w.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if w.closed.Load() {
				return
			}

			if !w.reconnecting.Swap(true) {
				w.wg.Add(1)
				go w.reconnect()
			}

			select {
			case <-w.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		w.handleMessage(message)
	}
}

// reconnect re-dials and resubscribes with exponential backoff until
// it succeeds or the watcher closes.
func (w *Watcher) reconnect() {
	defer w.wg.Done()
	defer w.reconnecting.Store(false)

	// Drop the dead connection so the read loop parks while we work.
	w.connMu.Lock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.connMu.Unlock()

	delay := w.config.ReconnectDelay
	for !w.closed.Load() {
		select {
		case <-w.done:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		conn, err := w.dial(ctx)
		cancel()
		if err == nil {
			if err = w.subscribe(conn); err != nil {
				conn.Close()
			}
		}
		if err != nil {
			w.log.Warn().Err(err).Dur("retry_in", delay).Msg("reconnect failed")
			delay *= 2
			if delay > w.config.MaxReconnectDelay {
				delay = w.config.MaxReconnectDelay
			}
			continue
		}

		// Close may have raced the dial; a connection installed now
		// would never be read or closed again.
		w.connMu.Lock()
		if w.closed.Load() {
			w.connMu.Unlock()
			conn.Close()
			return
		}
		w.conn = conn
		w.connMu.Unlock()

		w.log.Info().Msg("reconnected and resubscribed")
		return
	}
}

// handleMessage parses one message and forwards live head
// notifications.
func (w *Watcher) handleMessage(message []byte) {
	var notif wsNotification
	if err := json.Unmarshal(message, &notif); err != nil || notif.Method != "eth_subscription" || notif.Params == nil {
		return
	}

	w.subMu.Lock()
	current := w.subID
	w.subMu.Unlock()
	if notif.Params.Subscription != current {
		return
	}

	var head wsHead
	if err := json.Unmarshal(notif.Params.Result, &head); err != nil {
		w.log.Debug().Err(err).Msg("malformed head notification")
		return
	}

	h := Head{
		Number:     uint64(head.Number),
		Hash:       head.Hash.Hex(),
		ParentHash: head.ParentHash.Hex(),
		Timestamp:  uint64(head.Timestamp),
	}

	select {
	case w.heads <- h:
	default:
		w.log.Debug().Uint64("number", h.Number).Msg("head dropped, consumer behind")
	}
}

// pingLoop sends periodic ping frames to keep the connection alive.
func (w *Watcher) pingLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.connMu.Lock()
			if w.conn != nil {
				w.conn.SetWriteDeadline(time.Now().Add(w.config.WriteTimeout))
				if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					// Connection might be dead, reader will handle reconnect
				}
			}
			w.connMu.Unlock()
		}
	}
}

// WebSocket message types

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type wsSubscribeResponse struct {
	JSONRPC string   `json:"jsonrpc"`
	ID      uint64   `json:"id"`
	Result  string   `json:"result"` // subscription ID
	Error   *wsError `json:"error,omitempty"`
}

type wsError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type wsNotification struct {
	JSONRPC string                `json:"jsonrpc"`
	Method  string                `json:"method"`
	Params  *wsNotificationParams `json:"params"`
}

type wsNotificationParams struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

type wsHead struct {
	Number     hexutil.Uint64 `json:"number"`
	Hash       common.Hash    `json:"hash"`
	ParentHash common.Hash    `json:"parentHash"`
	Timestamp  hexutil.Uint64 `json:"timestamp"`
}
