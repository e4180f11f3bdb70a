package messagelog

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAMember — автор не является активным участником команды.
	ErrNotAMember      = errors.New("not a member of this team")
	ErrEmptyContent    = errors.New("message content is empty")
	ErrMessageNotFound = errors.New("message not found")
)

// AuthorizationError отклоняет Append. Отличается от транспортных ошибок (storage.ErrUnavailable):
// errors.Is(err, ErrNotAMember) == true.
type AuthorizationError struct {
	TeamID string
	UserID string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("user %s is not an active member of team %s", e.UserID, e.TeamID)
}

func (e *AuthorizationError) Is(target error) bool { return target == ErrNotAMember }
