package model

import "time"

// Message is one entry of a team log. Timestamp is assigned once on append and never changes;
// only Content/IsEdited (edit) and Reactions (append-only) mutate afterwards.
type Message struct {
	ID          string     `json:"id"`
	TeamID      string     `json:"teamId"`
	SenderID    string     `json:"senderId"`
	SenderName  string     `json:"senderName"`
	SenderEmail string     `json:"senderEmail"`
	Content     string     `json:"content"`
	Timestamp   time.Time  `json:"timestamp"`
	IsEdited    bool       `json:"isEdited"`
	ReplyTo     *string    `json:"replyTo,omitempty"`
	Reactions   []Reaction `json:"reactions,omitempty"`
}

type Reaction struct {
	UserID    string    `json:"userId"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"createdAt"`
}

// HasReaction reports whether userID already reacted with emoji.
func (m *Message) HasReaction(userID, emoji string) bool {
	for _, r := range m.Reactions {
		if r.UserID == userID && r.Emoji == emoji {
			return true
		}
	}
	return false
}

// Before orders messages ascending by timestamp; ids break ties.
func (m *Message) Before(o *Message) bool {
	if m.Timestamp.Equal(o.Timestamp) {
		return m.ID < o.ID
	}
	return m.Timestamp.Before(o.Timestamp)
}
