package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/teamchat/internal/chat"
	"github.com/teamchat/internal/middleware"
)

type MessageHandler struct {
	chat *chat.Service
}

func NewMessageHandler(chatSvc *chat.Service) *MessageHandler {
	return &MessageHandler{chat: chatSvc}
}

type sendMessageRequest struct {
	Content string `json:"content"`
	ReplyTo string `json:"reply_to"`
}

type editMessageRequest struct {
	Content string `json:"content"`
}

type reactionRequest struct {
	Emoji string `json:"emoji"`
}

// GetMessages: журнал команды по возрастанию времени.
func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	teamID := chi.URLParam(r, "teamId")
	userID := middleware.GetUserID(r.Context())

	messages, err := h.chat.History(r.Context(), teamID, userID)
	if err != nil {
		writeServiceError(w, "GetMessages", err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	teamID := chi.URLParam(r, "teamId")
	userID := middleware.GetUserID(r.Context())

	var req sendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	msg, err := h.chat.Send(r.Context(), teamID, userID, req.Content, strings.TrimSpace(req.ReplyTo))
	if err != nil {
		writeServiceError(w, "SendMessage", err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *MessageHandler) EditMessage(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageId")
	userID := middleware.GetUserID(r.Context())

	var req editMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	msg, err := h.chat.Edit(r.Context(), messageID, userID, req.Content)
	if err != nil {
		writeServiceError(w, "EditMessage", err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *MessageHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageId")
	userID := middleware.GetUserID(r.Context())

	if err := h.chat.Delete(r.Context(), messageID, userID); err != nil {
		writeServiceError(w, "DeleteMessage", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MessageHandler) AddReaction(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageId")
	userID := middleware.GetUserID(r.Context())

	var req reactionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Emoji = strings.TrimSpace(req.Emoji)
	if req.Emoji == "" {
		writeError(w, http.StatusBadRequest, "emoji required")
		return
	}
	msg, err := h.chat.React(r.Context(), messageID, userID, req.Emoji)
	if err != nil {
		writeServiceError(w, "AddReaction", err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}
