package ws

import (
	"github.com/teamchat/internal/model"
)

type EventType string

const (
	// client → server
	EventSubscribeTeam          EventType = "subscribe_team"
	EventUnsubscribeTeam        EventType = "unsubscribe_team"
	EventSubscribeUnread        EventType = "subscribe_unread"
	EventSubscribeNotifications EventType = "subscribe_notifications"
	EventMarkRead               EventType = "mark_read"
	EventSendMessage            EventType = "send_message"

	// server → client
	EventTeamSnapshot  EventType = "team_snapshot"
	EventUnread        EventType = "unread"
	EventNotifications EventType = "notifications"
	EventMessageSent   EventType = "message_sent"
	EventError         EventType = "error"
)

// IncomingMessage is what the client sends to the server.
type IncomingMessage struct {
	Type      EventType `json:"type"`
	RequestID string    `json:"request_id,omitempty"`
	TeamID    string    `json:"team_id,omitempty"`
	TeamIDs   []string  `json:"team_ids,omitempty"`

	// For send_message
	Content string `json:"content,omitempty"`
	ReplyTo string `json:"reply_to,omitempty"`
}

// OutgoingMessage is what the server sends to the client.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// TeamSnapshotPayload: полный журнал команды по возрастанию времени.
type TeamSnapshotPayload struct {
	TeamID   string          `json:"team_id"`
	Messages []model.Message `json:"messages"`
}

// UnreadPayload: карта team → непрочитанные.
type UnreadPayload struct {
	Counts map[string]int `json:"counts"`
}

// NotificationsPayload: лента уведомлений (новые первыми). NewMentions: id упоминаний,
// появившихся с прошлого снапшота; по ним браузер играет сигнал упоминания.
type NotificationsPayload struct {
	Notifications []model.Notification `json:"notifications"`
	NewMentions   []string             `json:"new_mentions"`
	Unread        int                  `json:"unread"`
	Initial       bool                 `json:"initial"`
}

// MessageSentPayload подтверждает send_message.
type MessageSentPayload struct {
	RequestID string        `json:"request_id,omitempty"`
	Message   model.Message `json:"message"`
}

// ErrorPayload: ошибка обработки входящего сообщения.
type ErrorPayload struct {
	RequestID string `json:"request_id,omitempty"`
	Error     string `json:"error"`
}
