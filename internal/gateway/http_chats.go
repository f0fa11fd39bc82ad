package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/haasonsaas/parley/internal/realtime"
	"github.com/haasonsaas/parley/pkg/models"
)

type response struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Contact *models.Contact `json:"contact,omitempty"`
}

type chatsResponse struct {
	Success bool             `json:"success"`
	Chats   []models.Contact `json:"chats"`
}

type createChatRequest struct {
	ContactID string `json:"contactId"`
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	userID, ok := actingUser(w, r)
	if !ok {
		return
	}
	rows, err := s.service.ChatList(r.Context(), userID, true)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if rows == nil {
		rows = []models.Contact{}
	}
	writeJSON(w, http.StatusOK, chatsResponse{Success: true, Chats: rows})
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := actingUser(w, r)
	if !ok {
		return
	}
	var req createChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, response{Message: "invalid request body"})
		return
	}
	row, err := s.service.AddContact(r.Context(), userID, req.ContactID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, response{Success: true, Message: "chat created", Contact: &row})
}

func (s *Server) handleBlockChat(w http.ResponseWriter, r *http.Request) {
	s.chatAction(w, r, s.service.BlockChat, "chat blocked")
}

func (s *Server) handleUnblockChat(w http.ResponseWriter, r *http.Request) {
	s.chatAction(w, r, s.service.UnblockChat, "chat unblocked")
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	s.chatAction(w, r, s.service.DeleteChat, "chat deleted")
}

type chatActionFunc func(ctx context.Context, userID, chatID string) (models.Contact, error)

func (s *Server) chatAction(w http.ResponseWriter, r *http.Request, action chatActionFunc, done string) {
	userID, ok := actingUser(w, r)
	if !ok {
		return
	}
	row, err := action(r.Context(), userID, r.PathValue("chatID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Message: done, Contact: &row})
}

func actingUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := requestUser(r)
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, response{Message: "user id is required"})
		return "", false
	}
	return userID, true
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var rerr *realtime.Error
	if !errors.As(err, &rerr) {
		s.logger.ErrorContext(r.Context(), "chat request failed", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, response{Message: "internal error"})
		return
	}

	status := http.StatusInternalServerError
	switch rerr.Kind {
	case realtime.KindValidation:
		status = http.StatusBadRequest
	case realtime.KindForbidden:
		status = http.StatusForbidden
	case realtime.KindNotFound:
		status = http.StatusNotFound
	case realtime.KindConflict:
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "chat request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, response{Message: rerr.Message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body) //nolint:errcheck
}
