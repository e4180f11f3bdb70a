package readstate

import "github.com/teamchat/internal/model"

// CountUnread is a pure projection: сообщения не от userID и новее позиции чтения.
// Без позиции (nil) команда считается непрочитанной целиком.
func CountUnread(userID string, pos *model.ReadPosition, messages []model.Message) int {
	n := 0
	for i := range messages {
		m := &messages[i]
		if m.SenderID == userID {
			continue
		}
		if pos != nil && !m.Timestamp.After(pos.Timestamp) {
			continue
		}
		n++
	}
	return n
}
