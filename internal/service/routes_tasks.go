package service

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/collabmate/collabmate/db/models"
	"github.com/collabmate/collabmate/internal/auth"
	"github.com/collabmate/collabmate/internal/repo"
)

type taskRequest struct {
	Title       *string            `json:"title"`
	Description *string            `json:"description"`
	Status      *models.TaskStatus `json:"status"`
	DueDate     *time.Time         `json:"dueDate"`
	Assignee    *string            `json:"assignee"`
}

func (req *taskRequest) validate(creating bool) validation {
	var v validation
	if creating && (req.Title == nil || strings.TrimSpace(*req.Title) == "") {
		v.add("title", "Task title is required")
	}
	if req.Status != nil && !req.Status.Valid() {
		v.add("status", "Invalid value")
	}
	return v
}

func (req *taskRequest) apply(task *models.Task) {
	if req.Title != nil {
		task.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		task.Description = *req.Description
	}
	if req.Status != nil {
		task.Status = *req.Status
	}
	if req.DueDate != nil {
		task.DueDate = req.DueDate
	}
	if req.Assignee != nil {
		task.Assignee = *req.Assignee
	}
}

func (s *Service) createTaskHandler(w http.ResponseWriter, r *http.Request, caller auth.Identity) {
	var req taskRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.validate(true).failed(w) {
		return
	}

	projectID := r.PathValue("projectId")
	if _, err := s.guard.AuthorizeProjectAccess(r.Context(), projectID, caller.ID); err != nil {
		s.fail(w, r, err)
		return
	}

	task := &models.Task{Project: projectID}
	req.apply(task)
	if err := s.repo.CreateTask(r.Context(), task); err != nil {
		s.fail(w, r, err)
		return
	}

	s.publish(projectID, models.EventTaskCreated, task)
	writeJSON(w, http.StatusCreated, task)
}

func (s *Service) listTasksHandler(w http.ResponseWriter, r *http.Request, caller auth.Identity) {
	projectID := r.PathValue("projectId")
	if _, err := s.guard.AuthorizeProjectAccess(r.Context(), projectID, caller.ID); err != nil {
		s.fail(w, r, err)
		return
	}
	tasks, err := s.repo.ListTasks(r.Context(), projectID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// memberTask loads a task and checks the caller belongs to its project.
func (s *Service) memberTask(w http.ResponseWriter, r *http.Request, caller auth.Identity) *models.Task {
	task, err := s.repo.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			writeMessage(w, http.StatusNotFound, "Task not found")
			return nil
		}
		s.fail(w, r, err)
		return nil
	}
	if _, err := s.guard.AuthorizeProjectAccess(r.Context(), task.Project, caller.ID); err != nil {
		s.fail(w, r, err)
		return nil
	}
	return task
}

func (s *Service) updateTaskHandler(w http.ResponseWriter, r *http.Request, caller auth.Identity) {
	var req taskRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.validate(false).failed(w) {
		return
	}

	task := s.memberTask(w, r, caller)
	if task == nil {
		return
	}
	req.apply(task)
	if err := s.repo.SaveTask(r.Context(), task); err != nil {
		s.fail(w, r, err)
		return
	}

	s.publish(task.Project, models.EventTaskUpdated, task)
	writeJSON(w, http.StatusOK, task)
}

func (s *Service) deleteTaskHandler(w http.ResponseWriter, r *http.Request, caller auth.Identity) {
	task := s.memberTask(w, r, caller)
	if task == nil {
		return
	}
	if err := s.repo.DeleteTask(r.Context(), task); err != nil {
		s.fail(w, r, err)
		return
	}

	s.publish(task.Project, models.EventTaskDeleted, models.DeletedPayload{ID: task.ID, Project: task.Project})
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
