package service

import (
	"net/http"
	"strings"

	"github.com/collabmate/collabmate/db/models"
	"github.com/collabmate/collabmate/internal/auth"
)

type messageRequest struct {
	Content string `json:"content"`
}

func (s *Service) createMessageHandler(w http.ResponseWriter, r *http.Request, caller auth.Identity) {
	var req messageRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var v validation
	if strings.TrimSpace(req.Content) == "" {
		v.add("content", "Invalid value")
	}
	if v.failed(w) {
		return
	}

	projectID := r.PathValue("projectId")
	if _, err := s.guard.AuthorizeProjectAccess(r.Context(), projectID, caller.ID); err != nil {
		s.fail(w, r, err)
		return
	}

	message, err := s.repo.CreateMessage(r.Context(), projectID, caller.ID, req.Content)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.publish(projectID, models.EventNewMessage, models.MessagePayload{
		ID:        message.ID,
		Project:   projectID,
		Sender:    caller.ID,
		Content:   message.Content,
		CreatedAt: message.CreatedAt,
	})
	writeJSON(w, http.StatusCreated, message)
}

func (s *Service) listMessagesHandler(w http.ResponseWriter, r *http.Request, caller auth.Identity) {
	projectID := r.PathValue("projectId")
	if _, err := s.guard.AuthorizeProjectAccess(r.Context(), projectID, caller.ID); err != nil {
		s.fail(w, r, err)
		return
	}
	messages, err := s.repo.ListMessages(r.Context(), projectID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}
