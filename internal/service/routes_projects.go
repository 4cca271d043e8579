package service

import (
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/collabmate/collabmate/db/models"
	"github.com/collabmate/collabmate/internal/auth"
	"github.com/collabmate/collabmate/internal/repo"
)

type projectRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

type memberRequest struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

func (s *Service) createProjectHandler(w http.ResponseWriter, r *http.Request, caller auth.Identity) {
	var req projectRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var v validation
	if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
		v.add("name", "Project name is required")
	}
	if v.failed(w) {
		return
	}

	var description string
	if req.Description != nil {
		description = *req.Description
	}
	project, err := s.repo.CreateProject(r.Context(), caller.ID, *req.Name, description)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

func (s *Service) listProjectsHandler(w http.ResponseWriter, r *http.Request, caller auth.Identity) {
	projects, err := s.repo.ListProjects(r.Context(), caller.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

// ownedProject loads a project the caller must own. It writes the response
// and returns nil when the caller may not proceed.
func (s *Service) ownedProject(w http.ResponseWriter, r *http.Request, caller auth.Identity, action string) *models.Project {
	project, err := s.repo.GetProject(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			writeMessage(w, http.StatusNotFound, "Project not found")
			return nil
		}
		s.fail(w, r, err)
		return nil
	}
	if project.Owner != caller.ID {
		writeMessage(w, http.StatusForbidden, "Only owner can "+action+" project")
		return nil
	}
	return project
}

func cloneProject(p *models.Project) *models.Project {
	c := *p
	c.Members = slices.Clone(p.Members)
	return &c
}

func (s *Service) updateProjectHandler(w http.ResponseWriter, r *http.Request, caller auth.Identity) {
	var req projectRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var v validation
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		v.add("name", "Invalid value")
	}
	if v.failed(w) {
		return
	}

	project := s.ownedProject(w, r, caller, "update")
	if project == nil {
		return
	}

	updated := cloneProject(project)
	if req.Name != nil {
		updated.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		updated.Description = *req.Description
	}
	if err := s.repo.SaveProject(r.Context(), project, updated); err != nil {
		s.fail(w, r, err)
		return
	}

	s.publish(updated.ID, models.EventProjectUpdated, updated)
	writeJSON(w, http.StatusOK, updated)
}

func (s *Service) deleteProjectHandler(w http.ResponseWriter, r *http.Request, caller auth.Identity) {
	project := s.ownedProject(w, r, caller, "delete")
	if project == nil {
		return
	}
	if err := s.repo.DeleteProject(r.Context(), project); err != nil {
		s.fail(w, r, err)
		return
	}

	// Subscribers stay in the room until they leave; this tells them to.
	s.publish(project.ID, models.EventProjectDeleted, models.DeletedPayload{ID: project.ID, Project: project.ID})
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Service) addMemberHandler(w http.ResponseWriter, r *http.Request, caller auth.Identity) {
	var req memberRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var v validation
	if req.UserID == "" && req.Email == "" {
		v.add("userId", "userId or email is required")
	}
	if v.failed(w) {
		return
	}

	project := s.ownedProject(w, r, caller, "update")
	if project == nil {
		return
	}

	var (
		user *models.User
		err  error
	)
	if req.UserID != "" {
		user, err = s.repo.GetUser(r.Context(), req.UserID)
	} else {
		user, err = s.repo.GetUserByEmail(r.Context(), req.Email)
	}
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			writeMessage(w, http.StatusNotFound, "User not found")
			return
		}
		s.fail(w, r, err)
		return
	}

	updated := cloneProject(project)
	if updated.AddMember(user.ID) {
		if err := s.repo.SaveProject(r.Context(), project, updated); err != nil {
			s.fail(w, r, err)
			return
		}
		s.publish(updated.ID, models.EventProjectUpdated, updated)
	}
	writeJSON(w, http.StatusOK, updated)
}

// removeMemberHandler drops a member from the project. Realtime
// subscriptions the member already holds stay until they leave or
// disconnect; membership is only checked when subscribing.
func (s *Service) removeMemberHandler(w http.ResponseWriter, r *http.Request, caller auth.Identity) {
	project := s.ownedProject(w, r, caller, "update")
	if project == nil {
		return
	}

	userID := r.PathValue("userId")
	if userID == project.Owner {
		var v validation
		v.add("userId", "Owner cannot be removed")
		v.failed(w)
		return
	}

	updated := cloneProject(project)
	if updated.RemoveMember(userID) {
		if err := s.repo.SaveProject(r.Context(), project, updated); err != nil {
			s.fail(w, r, err)
			return
		}
		s.publish(updated.ID, models.EventProjectUpdated, updated)
	}
	writeJSON(w, http.StatusOK, updated)
}

// publish hands a committed change to the realtime layer. Failures stay on
// this side of the write.
func (s *Service) publish(projectID, eventType string, payload any) {
	if _, err := s.publisher.Publish(projectID, eventType, payload); err != nil {
		s.logger.Warn("Event not published", "project", projectID, "type", eventType, "error", err)
	}
}
