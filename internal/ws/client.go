package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/storage"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16384
	defaultSendBuf = 256
)

// bufPool pools bytes.Buffer for JSON encoding in the hot-path (writePump).
var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Client represents a single WebSocket connection and its live subscriptions.
// Lifecycle: NewClient -> Start(ctx, cancel) -> [ReadPump, WritePump] -> Close -> Wait.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan OutgoingMessage
	userID string

	// done is used as a non-blocking guard in sendToClient.
	done chan struct{}
	// cancel cancels the context passed to Start, triggering pump shutdown.
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup

	subMu       sync.Mutex
	activeTeam  string
	teamUnsub   storage.Unsubscribe
	unreadUnsub storage.Unsubscribe
	notifUnsub  storage.Unsubscribe
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	size := hub.sendBufSize
	if size <= 0 {
		size = defaultSendBuf
	}
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan OutgoingMessage, size),
		userID: userID,
		done:   make(chan struct{}),
	}
}

func (c *Client) UserID() string { return c.userID }

// Start launches ReadPump and WritePump goroutines with controlled lifecycle.
func (c *Client) Start(ctx context.Context, cancel context.CancelFunc) {
	c.cancel = cancel
	c.wg.Add(2)
	go c.writePump(ctx)
	go c.readPump(ctx)
}

// Wait blocks until both pump goroutines have exited.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Close stops the pumps and every live subscription. Safe to call multiple times from any goroutine.
func (c *Client) Close() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
		c.conn.Close()
		c.dropSubscriptions()
	})
}

// switchTeam делает teamID активной командой. Старая подписка снимается сразу после установки новой.
func (c *Client) switchTeam(teamID string, unsub storage.Unsubscribe) {
	c.subMu.Lock()
	prev := c.teamUnsub
	c.activeTeam = teamID
	c.teamUnsub = unsub
	c.subMu.Unlock()
	if prev != nil {
		prev()
	}
	if c.closed() {
		c.dropSubscriptions()
	}
}

// markActiveTeam переключает фильтр снапшотов до того, как подписка на teamID
// отдаст первый набор. Прежняя подписка остаётся до switchTeam.
func (c *Client) markActiveTeam(teamID string) {
	c.subMu.Lock()
	c.activeTeam = teamID
	c.subMu.Unlock()
}

func (c *Client) clearTeam() {
	c.switchTeam("", nil)
}

func (c *Client) isActiveTeam(teamID string) bool {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return c.activeTeam == teamID
}

func (c *Client) setUnread(unsub storage.Unsubscribe) {
	c.subMu.Lock()
	prev := c.unreadUnsub
	c.unreadUnsub = unsub
	c.subMu.Unlock()
	if prev != nil {
		prev()
	}
	if c.closed() {
		c.dropSubscriptions()
	}
}

func (c *Client) setNotifications(unsub storage.Unsubscribe) {
	c.subMu.Lock()
	prev := c.notifUnsub
	c.notifUnsub = unsub
	c.subMu.Unlock()
	if prev != nil {
		prev()
	}
	if c.closed() {
		c.dropSubscriptions()
	}
}

func (c *Client) dropSubscriptions() {
	c.subMu.Lock()
	unsubs := []storage.Unsubscribe{c.teamUnsub, c.unreadUnsub, c.notifUnsub}
	c.activeTeam = ""
	c.teamUnsub, c.unreadUnsub, c.notifUnsub = nil, nil, nil
	c.subMu.Unlock()
	for _, u := range unsubs {
		if u != nil {
			u()
		}
	}
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// readPump reads messages from the WebSocket connection.
// Exits on read error (triggered by conn.Close from Close() or WritePump exit).
func (c *Client) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Errorf("ws set read deadline user=%s: %v", c.userID, err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("ws read error user=%s: %v", c.userID, err)
			}
			return
		}

		var msg IncomingMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Errorf("ws unmarshal error user=%s: %v", c.userID, err)
			c.hub.sendToClient(c, OutgoingMessage{Type: EventError, Payload: ErrorPayload{Error: "invalid json"}})
			continue
		}

		c.hub.HandleMessage(ctx, c, msg)
	}
}

// writePump writes messages to the WebSocket connection.
// Exits on ctx cancellation, write error, or connection close.
func (c *Client) writePump(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			if err := c.conn.WriteMessage(websocket.CloseMessage, nil); err != nil {
				logger.Debugf("ws close message user=%s: %v", c.userID, err)
			}
			return
		case msg := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Errorf("ws set write deadline user=%s: %v", c.userID, err)
				return
			}
			buf := bufPool.Get().(*bytes.Buffer)
			buf.Reset()
			enc := json.NewEncoder(buf)
			if err := enc.Encode(msg); err != nil {
				bufPool.Put(buf)
				logger.Errorf("ws marshal error user=%s: %v", c.userID, err)
				continue
			}
			data := buf.Bytes()
			// json.Encoder appends '\n'; trim it for WebSocket text messages.
			if len(data) > 0 && data[len(data)-1] == '\n' {
				data = data[:len(data)-1]
			}
			writeErr := c.conn.WriteMessage(websocket.TextMessage, data)
			bufPool.Put(buf)
			if writeErr != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Errorf("ws set write deadline user=%s: %v", c.userID, err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
