package model

import "time"

type NotificationType string

const (
	NotificationInfo    NotificationType = "info"
	NotificationSuccess NotificationType = "success"
	NotificationWarning NotificationType = "warning"
	NotificationError   NotificationType = "error"
	NotificationMention NotificationType = "mention"
)

// Valid reports whether t is one of the known notification types.
func (t NotificationType) Valid() bool {
	switch t {
	case NotificationInfo, NotificationSuccess, NotificationWarning, NotificationError, NotificationMention:
		return true
	}
	return false
}

// Notification is owned by its recipient; only IsRead ever changes after creation.
type Notification struct {
	ID           string           `json:"id"`
	RecipientID  string           `json:"recipientId"`
	Title        string           `json:"title"`
	Message      string           `json:"message"`
	Type         NotificationType `json:"type"`
	CreatedAt    time.Time        `json:"createdAt"`
	IsRead       bool             `json:"isRead"`
	ActionURL    string           `json:"actionUrl,omitempty"`
	ContextTitle string           `json:"contextTitle,omitempty"`
}
