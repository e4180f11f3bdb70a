package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/teamchat/internal/chat"
	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/messagelog"
	"github.com/teamchat/internal/notification"
	"github.com/teamchat/internal/push"
	"github.com/teamchat/internal/storage"
)

const maxBodyBytes = 64 << 10

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// decodeJSON читает тело запроса (не больше maxBodyBytes) в v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// writeServiceError переводит доменные ошибки в HTTP-статусы.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, messagelog.ErrNotAMember):
		writeError(w, http.StatusForbidden, "you are not a member of this team")
	case errors.Is(err, chat.ErrForbidden), errors.Is(err, notification.ErrNotRecipient):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, messagelog.ErrMessageNotFound), errors.Is(err, notification.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, messagelog.ErrEmptyContent), errors.Is(err, push.ErrInvalidSubscription):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrUnavailable):
		logger.Errorf("%s: %v", op, err)
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
	default:
		logger.Errorf("%s: %v", op, err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// splitList разбирает "a,b, c" в непустые элементы без повторов.
func splitList(raw string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, ok := seen[part]; ok {
			continue
		}
		seen[part] = struct{}{}
		out = append(out, part)
	}
	return out
}
