package service

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"

	"github.com/collabmate/collabmate/db/models"
	"github.com/collabmate/collabmate/internal/auth"
	"github.com/collabmate/collabmate/internal/repo"
)

const minPasswordLength = 6

type credentialsRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionUser struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

type sessionResponse struct {
	Token string      `json:"token"`
	User  sessionUser `json:"user"`
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email && strings.Contains(email, ".")
}

func (s *Service) issueSession(w http.ResponseWriter, status int, user *models.User) {
	token, err := s.tokens.Issue(auth.Identity{ID: user.ID, Email: user.Email})
	if err != nil {
		s.logger.Error("Could not issue token", "user", user.ID, "error", err)
		writeMessage(w, http.StatusInternalServerError, "Server error")
		return
	}
	writeJSON(w, status, sessionResponse{
		Token: token,
		User: sessionUser{
			ID:        user.ID,
			Name:      user.Name,
			Email:     user.Email,
			AvatarURL: user.AvatarURL,
		},
	})
}

func (s *Service) registerHandler(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var v validation
	if strings.TrimSpace(req.Name) == "" {
		v.add("name", "Name is required")
	}
	if !validEmail(strings.TrimSpace(req.Email)) {
		v.add("email", "Valid email is required")
	}
	if len(req.Password) < minPasswordLength {
		v.add("password", "Password must be at least 6 characters")
	}
	if v.failed(w) {
		return
	}

	user, err := s.repo.CreateUser(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, repo.ErrEmailTaken) {
			writeMessage(w, http.StatusBadRequest, "Email already registered")
			return
		}
		s.fail(w, r, err)
		return
	}

	s.logger.Info("User registered", "user", user.ID)
	s.issueSession(w, http.StatusCreated, user)
}

func (s *Service) loginHandler(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var v validation
	if !validEmail(strings.TrimSpace(req.Email)) {
		v.add("email", "Valid email is required")
	}
	if req.Password == "" {
		v.add("password", "Password is required")
	}
	if v.failed(w) {
		return
	}

	user, err := s.repo.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, repo.ErrInvalidCredentials) {
			writeMessage(w, http.StatusBadRequest, "Invalid credentials")
			return
		}
		s.fail(w, r, err)
		return
	}
	s.issueSession(w, http.StatusOK, user)
}

func (s *Service) meHandler(w http.ResponseWriter, r *http.Request, caller auth.Identity) {
	user, err := s.repo.GetUser(r.Context(), caller.ID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			writeMessage(w, http.StatusNotFound, "User not found")
			return
		}
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user.Public())
}
