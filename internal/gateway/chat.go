package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/basket/taskchat/internal/chat"
	"github.com/basket/taskchat/internal/store"
)

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID int64  `json:"conversation_id,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, owner string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusUnprocessableEntity, "message is required")
		return
	}

	result, err := s.cfg.Chat.Turn(r.Context(), chat.TurnRequest{
		OwnerID:        owner,
		CallerID:       owner,
		ConversationID: req.ConversationID,
		Message:        req.Message,
	})
	switch {
	case errors.Is(err, chat.ErrConversationNotFound):
		writeError(w, http.StatusNotFound, "Conversation not found")
		return
	case errors.Is(err, chat.ErrOwnerMismatch):
		writeError(w, http.StatusForbidden, "User ID mismatch")
		return
	case err != nil:
		s.logger.Error("chat turn failed", "user_id", owner, "error", err)
		writeError(w, http.StatusInternalServerError, "Chat processing failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleConversations serves GET /api/{user}/conversations and
// GET /api/{user}/conversations/{id}/messages.
func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request, owner, rest string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if rest == "" {
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		convs, err := s.cfg.Store.ListConversations(r.Context(), owner, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "could not list conversations")
			return
		}
		if convs == nil {
			convs = []store.Conversation{}
		}
		writeJSON(w, http.StatusOK, convs)
		return
	}

	parts := strings.SplitN(strings.TrimSuffix(rest, "/"), "/", 2)
	if len(parts) != 2 || parts[1] != "messages" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "conversation id must be an integer")
		return
	}

	conv, err := s.cfg.Store.GetConversation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && conv.UserID != owner) {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load conversation")
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	msgs, err := s.cfg.Store.RecentMessages(r.Context(), id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load messages")
		return
	}
	// RecentMessages is newest-first; the API serves chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}
