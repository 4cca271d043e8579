package service

import (
	"errors"
	"net/http"
	"strings"

	"github.com/collabmate/collabmate/db/models"
	"github.com/collabmate/collabmate/internal/auth"
	"github.com/collabmate/collabmate/internal/repo"
)

type expenseRequest struct {
	Title  *string  `json:"title"`
	Amount *float64 `json:"amount"`
	Notes  *string  `json:"notes"`
}

func (req *expenseRequest) validate(creating bool) validation {
	var v validation
	if creating && (req.Title == nil || strings.TrimSpace(*req.Title) == "") {
		v.add("title", "Invalid value")
	}
	if (creating && req.Amount == nil) || (req.Amount != nil && *req.Amount <= 0) {
		v.add("amount", "Invalid value")
	}
	return v
}

func (req *expenseRequest) apply(expense *models.Expense) {
	if req.Title != nil {
		expense.Title = strings.TrimSpace(*req.Title)
	}
	if req.Amount != nil {
		expense.Amount = *req.Amount
	}
	if req.Notes != nil {
		expense.Notes = *req.Notes
	}
}

func (s *Service) createExpenseHandler(w http.ResponseWriter, r *http.Request, caller auth.Identity) {
	var req expenseRequest
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

	expense := &models.Expense{Project: projectID, PaidBy: caller.ID}
	req.apply(expense)
	if err := s.repo.CreateExpense(r.Context(), expense); err != nil {
		s.fail(w, r, err)
		return
	}

	s.publish(projectID, models.EventExpenseCreated, expense)
	writeJSON(w, http.StatusCreated, expense)
}

func (s *Service) listExpensesHandler(w http.ResponseWriter, r *http.Request, caller auth.Identity) {
	projectID := r.PathValue("projectId")
	if _, err := s.guard.AuthorizeProjectAccess(r.Context(), projectID, caller.ID); err != nil {
		s.fail(w, r, err)
		return
	}
	expenses, err := s.repo.ListExpenses(r.Context(), projectID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, expenses)
}

func (s *Service) memberExpense(w http.ResponseWriter, r *http.Request, caller auth.Identity) *models.Expense {
	expense, err := s.repo.GetExpense(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			writeMessage(w, http.StatusNotFound, "Expense not found")
			return nil
		}
		s.fail(w, r, err)
		return nil
	}
	if _, err := s.guard.AuthorizeProjectAccess(r.Context(), expense.Project, caller.ID); err != nil {
		s.fail(w, r, err)
		return nil
	}
	return expense
}

func (s *Service) updateExpenseHandler(w http.ResponseWriter, r *http.Request, caller auth.Identity) {
	var req expenseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.validate(false).failed(w) {
		return
	}

	expense := s.memberExpense(w, r, caller)
	if expense == nil {
		return
	}
	req.apply(expense)
	if err := s.repo.SaveExpense(r.Context(), expense); err != nil {
		s.fail(w, r, err)
		return
	}

	s.publish(expense.Project, models.EventExpenseUpdated, expense)
	writeJSON(w, http.StatusOK, expense)
}

func (s *Service) deleteExpenseHandler(w http.ResponseWriter, r *http.Request, caller auth.Identity) {
	expense := s.memberExpense(w, r, caller)
	if expense == nil {
		return
	}
	if err := s.repo.DeleteExpense(r.Context(), expense); err != nil {
		s.fail(w, r, err)
		return
	}

	s.publish(expense.Project, models.EventExpenseDeleted, models.DeletedPayload{ID: expense.ID, Project: expense.Project})
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
