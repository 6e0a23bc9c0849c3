package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ErrWSClosed is returned after Close or when the connection dropped.
var ErrWSClosed = errors.New("websocket client closed")

// WSClientConfig configures WebSocket client behavior.
type WSClientConfig struct {
	// Commitment is the level at which signature notifications fire.
	Commitment string
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// SubscribeTimeout bounds the wait for a subscription id.
	SubscribeTimeout time.Duration
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		Commitment:       CommitmentConfirmed,
		PingInterval:     30 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		SubscribeTimeout: 10 * time.Second,
	}
}

// WSClientImpl implements WSClient using gorilla/websocket.
// A dropped connection is not redialed; pending subscriptions are closed and
// callers fall back to polling.
type WSClientImpl struct {
	config WSClientConfig
	log    *slog.Logger

	conn      *websocket.Conn
	writeMu   sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	// subs maps subscription id to its notification channel.
	subs   map[int64]chan SignatureNotification
	subsMu sync.Mutex

	// pendingSubs maps request id to the channel waiting for a subscription id.
	pendingSubs   map[uint64]chan int64
	pendingSubsMu sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup
}

var _ WSClient = (*WSClientImpl)(nil)

// NewWSClient dials endpoint and starts the reader and ping loops.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig, log *slog.Logger) (*WSClientImpl, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	if log == nil {
		log = slog.Default()
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	c := &WSClientImpl{
		config:      cfg,
		log:         log.With("component", "ws"),
		conn:        conn,
		subs:        make(map[int64]chan SignatureNotification),
		pendingSubs: make(map[uint64]chan int64),
		done:        make(chan struct{}),
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

// SubscribeSignature subscribes to a single signature.
func (c *WSClientImpl) SubscribeSignature(ctx context.Context, signature string) (<-chan SignatureNotification, func(), error) {
	if c.closed.Load() {
		return nil, nil, ErrWSClosed
	}

	reqID := c.requestID.Add(1)
	req := wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "signatureSubscribe",
		Params: []interface{}{
			signature,
			map[string]string{"commitment": c.config.Commitment},
		},
	}

	confirmCh := make(chan int64, 1)
	c.pendingSubsMu.Lock()
	c.pendingSubs[reqID] = confirmCh
	c.pendingSubsMu.Unlock()

	dropPending := func() {
		c.pendingSubsMu.Lock()
		delete(c.pendingSubs, reqID)
		c.pendingSubsMu.Unlock()
	}

	if c.closed.Load() {
		dropPending()
		return nil, nil, ErrWSClosed
	}

	if err := c.write(req); err != nil {
		dropPending()
		return nil, nil, fmt.Errorf("write subscribe: %w", err)
	}

	timer := time.NewTimer(c.config.SubscribeTimeout)
	defer timer.Stop()

	var subID int64
	select {
	case id, ok := <-confirmCh:
		if !ok {
			return nil, nil, ErrWSClosed
		}
		subID = id
	case <-timer.C:
		dropPending()
		return nil, nil, fmt.Errorf("subscription timeout after %s", c.config.SubscribeTimeout)
	case <-ctx.Done():
		dropPending()
		return nil, nil, ctx.Err()
	}

	ch := make(chan SignatureNotification, 1)
	c.subsMu.Lock()
	if c.closed.Load() {
		// closeAll already ran or will not see this channel
		c.subsMu.Unlock()
		close(ch)
		return ch, func() {}, nil
	}
	c.subs[subID] = ch
	c.subsMu.Unlock()

	return ch, func() { c.unsubscribe(subID) }, nil
}

// unsubscribe drops a subscription that has not fired and asks the node to
// forget it. A notified or closed subscription is already gone.
func (c *WSClientImpl) unsubscribe(subID int64) {
	c.subsMu.Lock()
	ch, ok := c.subs[subID]
	if ok {
		delete(c.subs, subID)
	}
	c.subsMu.Unlock()
	if !ok {
		return
	}
	close(ch)

	if c.closed.Load() {
		return
	}
	req := wsRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  "signatureUnsubscribe",
		Params:  []interface{}{subID},
	}
	if err := c.write(req); err != nil {
		c.log.Debug("signature unsubscribe failed", "subscription", subID, "error", err)
	}
}

// Close closes the WebSocket connection and all subscription channels.
func (c *WSClientImpl) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	close(c.done)

	c.writeMu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	err := c.conn.Close()
	c.writeMu.Unlock()

	c.wg.Wait()
	c.closeAll()
	return err
}

func (c *WSClientImpl) write(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

// closeAll closes every subscription and pending channel.
func (c *WSClientImpl) closeAll() {
	c.subsMu.Lock()
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	c.subsMu.Unlock()

	c.pendingSubsMu.Lock()
	for id, ch := range c.pendingSubs {
		close(ch)
		delete(c.pendingSubs, id)
	}
	c.pendingSubsMu.Unlock()
}

// readLoop reads messages until the connection fails or the client closes.
func (c *WSClientImpl) readLoop() {
	defer c.wg.Done()

	for !c.closed.Load() {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !c.closed.Swap(true) {
				c.log.Warn("websocket read failed, closing subscriptions", "error", err)
				close(c.done)
				c.writeMu.Lock()
				_ = c.conn.Close()
				c.writeMu.Unlock()
				c.closeAll()
			}
			return
		}
		c.handleMessage(message)
	}
}

// handleMessage dispatches a subscription confirmation or a notification.
func (c *WSClientImpl) handleMessage(message []byte) {
	var resp wsSubscribeResponse
	if err := json.Unmarshal(message, &resp); err == nil && resp.ID != 0 && resp.Result > 0 {
		c.pendingSubsMu.Lock()
		ch, ok := c.pendingSubs[resp.ID]
		if ok {
			delete(c.pendingSubs, resp.ID)
		}
		c.pendingSubsMu.Unlock()
		if ok {
			ch <- resp.Result
		}
		return
	}

	var notif wsNotification
	if err := json.Unmarshal(message, &notif); err == nil && notif.Method == "signatureNotification" && notif.Params != nil {
		c.subsMu.Lock()
		ch, ok := c.subs[notif.Params.Subscription]
		if ok {
			delete(c.subs, notif.Params.Subscription)
		}
		c.subsMu.Unlock()
		if !ok {
			return
		}
		n := SignatureNotification{Err: notif.Params.Result.Value.Err}
		if notif.Params.Result.Context != nil {
			n.Slot = notif.Params.Result.Context.Slot
		}
		// Signature subscriptions are one-shot on the node side.
		ch <- n
		close(ch)
		return
	}

	var errResp struct {
		ID    uint64    `json:"id"`
		Error *RPCError `json:"error"`
	}
	if err := json.Unmarshal(message, &errResp); err == nil && errResp.Error != nil {
		c.log.Warn("websocket error response", "id", errResp.ID, "error", errResp.Error)
	}
}

// pingLoop sends periodic ping frames to keep connection alive.
func (c *WSClientImpl) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Debug("websocket ping failed", "error", err)
			}
			c.writeMu.Unlock()
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
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Result  int64  `json:"result"` // subscription ID
}

type wsNotification struct {
	JSONRPC string                `json:"jsonrpc"`
	Method  string                `json:"method"`
	Params  *wsNotificationParams `json:"params"`
}

type wsNotificationParams struct {
	Subscription int64                `json:"subscription"`
	Result       wsNotificationResult `json:"result"`
}

type wsNotificationResult struct {
	Context *wsContext       `json:"context"`
	Value   wsSignatureValue `json:"value"`
}

type wsContext struct {
	Slot uint64 `json:"slot"`
}

type wsSignatureValue struct {
	Err interface{} `json:"err"`
}
