package model

import "time"

// ReadPosition is the last-seen watermark of a user in a team.
// Concurrent writers (two tabs) resolve last-write-wins by write order.
type ReadPosition struct {
	UserID    string    `json:"userId"`
	TeamID    string    `json:"teamId"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadPositionID is the document key of a (user, team) read position.
func ReadPositionID(userID, teamID string) string {
	return userID + ":" + teamID
}
