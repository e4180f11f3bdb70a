package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/teamchat/internal/chat"
	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/messagelog"
	"github.com/teamchat/internal/metrics"
	"github.com/teamchat/internal/model"
	"github.com/teamchat/internal/notification"
	"github.com/teamchat/internal/readstate"
	"github.com/teamchat/internal/storage"
)

const handleTimeout = 5 * time.Second

// Deps: сервисы, которые хаб выставляет клиентам.
type Deps struct {
	Chat    *chat.Service
	Log     *messagelog.Client
	Tracker *readstate.Tracker
	Feed    *notification.Feed
}

// Hub держит подключения и раздаёт им живые снапшоты: журнал активной команды,
// карту непрочитанного и ленту уведомлений.
type Hub struct {
	mu          sync.RWMutex
	clients     map[string]map[*Client]struct{}
	total       int
	maxConns    int
	sendBufSize int
	deps        Deps
	register    chan *Client
	unregister  chan *Client
	done        chan struct{}
}

func NewHub(deps Deps, maxConns, sendBufSize int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:     make(map[string]map[*Client]struct{}),
		maxConns:    maxConns,
		sendBufSize: sendBufSize,
		deps:        deps,
		register:    make(chan *Client, 64),
		unregister:  make(chan *Client, 64),
		done:        make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	metrics.WSActiveConnections.Sub(float64(h.total))
	h.total = 0
	h.mu.Unlock()

	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.total >= h.maxConns {
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.total++
	metrics.WSActiveConnections.Inc()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	metrics.WSActiveConnections.Dec()
	if len(clients) == 0 {
		delete(h.clients, c.userID)
	}
	h.mu.Unlock()

	// Network I/O and unsubscribe outside the lock.
	c.Close()
}

// Connections: число активных подключений.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.total
}

// HandleMessage dispatches incoming WebSocket messages.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	metrics.WSEvents.WithLabelValues(string(msg.Type)).Inc()
	switch msg.Type {
	case EventSubscribeTeam:
		h.handleSubscribeTeam(ctx, c, msg)
	case EventUnsubscribeTeam:
		c.clearTeam()
	case EventSubscribeUnread:
		h.handleSubscribeUnread(ctx, c, msg)
	case EventSubscribeNotifications:
		h.handleSubscribeNotifications(ctx, c, msg)
	case EventMarkRead:
		h.handleMarkRead(ctx, c, msg)
	case EventSendMessage:
		h.handleSendMessage(ctx, c, msg)
	default:
		h.sendError(c, msg.RequestID, "unknown event type")
	}
}

func (h *Hub) handleSubscribeTeam(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleSubscribeTeam", time.Now())()
	if msg.TeamID == "" {
		h.sendError(c, msg.RequestID, "team_id required")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()
	if err := h.deps.Chat.Authorize(ctx, msg.TeamID, c.userID); err != nil {
		h.sendError(c, msg.RequestID, errorText(err))
		return
	}

	teamID := msg.TeamID
	c.markActiveTeam(teamID)
	unsub, err := h.deps.Log.Subscribe(context.Background(), teamID, func(ms []model.Message) {
		// запоздавший снапшот прежней команды клиенту уже не нужен
		if !c.isActiveTeam(teamID) {
			return
		}
		h.sendToClient(c, OutgoingMessage{Type: EventTeamSnapshot, Payload: TeamSnapshotPayload{TeamID: teamID, Messages: ms}})
	})
	if err != nil {
		logger.Errorf("ws subscribe team=%s user=%s: %v", teamID, c.userID, err)
		c.clearTeam()
		h.sendError(c, msg.RequestID, errorText(err))
		return
	}
	c.switchTeam(teamID, unsub)
}

func (h *Hub) handleSubscribeUnread(ctx context.Context, c *Client, msg IncomingMessage) {
	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()
	teams := make([]string, 0, len(msg.TeamIDs))
	for _, id := range msg.TeamIDs {
		if err := h.deps.Chat.Authorize(ctx, id, c.userID); err != nil {
			h.sendError(c, msg.RequestID, errorText(err))
			continue
		}
		teams = append(teams, id)
	}
	unsub, err := h.deps.Tracker.SubscribeUnread(context.Background(), c.userID, teams, func(counts map[string]int) {
		h.sendToClient(c, OutgoingMessage{Type: EventUnread, Payload: UnreadPayload{Counts: counts}})
	})
	if err != nil {
		logger.Errorf("ws subscribe unread user=%s: %v", c.userID, err)
		h.sendError(c, msg.RequestID, errorText(err))
		return
	}
	c.setUnread(unsub)
}

func (h *Hub) handleSubscribeNotifications(ctx context.Context, c *Client, msg IncomingMessage) {
	unsub, err := h.deps.Feed.Subscribe(context.Background(), c.userID, func(up notification.Update) {
		ids := make([]string, 0, len(up.NewMentions))
		for _, n := range up.NewMentions {
			ids = append(ids, n.ID)
		}
		h.sendToClient(c, OutgoingMessage{Type: EventNotifications, Payload: NotificationsPayload{
			Notifications: up.Notifications,
			NewMentions:   ids,
			Unread:        up.Unread(),
			Initial:       up.Initial,
		}})
	})
	if err != nil {
		logger.Errorf("ws subscribe notifications user=%s: %v", c.userID, err)
		h.sendError(c, msg.RequestID, errorText(err))
		return
	}
	c.setNotifications(unsub)
}

func (h *Hub) handleMarkRead(ctx context.Context, c *Client, msg IncomingMessage) {
	if msg.TeamID == "" {
		h.sendError(c, msg.RequestID, "team_id required")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()
	if _, err := h.deps.Tracker.MarkRead(ctx, c.userID, msg.TeamID); err != nil {
		logger.Errorf("ws mark read team=%s user=%s: %v", msg.TeamID, c.userID, err)
		h.sendError(c, msg.RequestID, errorText(err))
	}
}

func (h *Hub) handleSendMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleSendMessage", time.Now())()
	if msg.TeamID == "" {
		h.sendError(c, msg.RequestID, "team_id required")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()
	m, err := h.deps.Chat.Send(ctx, msg.TeamID, c.userID, msg.Content, msg.ReplyTo)
	if err != nil {
		if !errors.Is(err, messagelog.ErrNotAMember) && !errors.Is(err, messagelog.ErrEmptyContent) {
			logger.Errorf("ws send team=%s user=%s: %v", msg.TeamID, c.userID, err)
		}
		h.sendError(c, msg.RequestID, errorText(err))
		return
	}
	h.sendToClient(c, OutgoingMessage{Type: EventMessageSent, Payload: MessageSentPayload{RequestID: msg.RequestID, Message: m}})
}

// errorText возвращает текст для клиента. Пользователю показывается только отказ в членстве.
func errorText(err error) string {
	switch {
	case errors.Is(err, messagelog.ErrNotAMember):
		return "you are not a member of this team"
	case errors.Is(err, messagelog.ErrEmptyContent):
		return "content required"
	case errors.Is(err, storage.ErrUnavailable):
		return "temporarily unavailable"
	default:
		return "internal error"
	}
}

func (h *Hub) sendError(c *Client, requestID, text string) {
	h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: ErrorPayload{RequestID: requestID, Error: text}})
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
