package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/collabmate/collabmate/db/models"
)

// User is the public view returned by register and login.
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

type Session struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// ProjectUpdate, TaskUpdate and ExpenseUpdate send only the non-nil fields.
type ProjectUpdate struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

type TaskUpdate struct {
	Title       *string            `json:"title,omitempty"`
	Description *string            `json:"description,omitempty"`
	Status      *models.TaskStatus `json:"status,omitempty"`
	DueDate     *time.Time         `json:"dueDate,omitempty"`
	Assignee    *string            `json:"assignee,omitempty"`
}

type ExpenseUpdate struct {
	Title  *string  `json:"title,omitempty"`
	Amount *float64 `json:"amount,omitempty"`
	Notes  *string  `json:"notes,omitempty"`
}

type ReadyStatus struct {
	Store string `json:"store"`
}

type successResponse struct {
	Success bool `json:"success"`
}

// --- Auth ---

// Register creates an account and switches the client to its token.
func (c *Client) Register(ctx context.Context, name, email, password string) (*Session, error) {
	return c.session(ctx, "/api/auth/register", map[string]string{"name": name, "email": email, "password": password})
}

// Login switches the client to a fresh token for an existing account.
func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	return c.session(ctx, "/api/auth/login", map[string]string{"email": email, "password": password})
}

func (c *Client) session(ctx context.Context, path string, body any) (*Session, error) {
	var s Session
	if err := c.do(ctx, http.MethodPost, path, body, &s); err != nil {
		return nil, err
	}
	c.token = s.Token
	return &s, nil
}

func (c *Client) Me(ctx context.Context) (*models.User, error) {
	var u models.User
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// --- Projects ---

func (c *Client) CreateProject(ctx context.Context, name, description string) (*models.Project, error) {
	var p models.Project
	body := map[string]string{"name": name, "description": description}
	if err := c.do(ctx, http.MethodPost, "/api/projects", body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) ListProjects(ctx context.Context) ([]models.Project, error) {
	var projects []models.Project
	if err := c.do(ctx, http.MethodGet, "/api/projects", nil, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

func (c *Client) UpdateProject(ctx context.Context, projectID string, update ProjectUpdate) (*models.Project, error) {
	var p models.Project
	if err := c.do(ctx, http.MethodPut, "/api/projects/"+projectID, update, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) DeleteProject(ctx context.Context, projectID string) error {
	return c.deleteDocument(ctx, "/api/projects/"+projectID)
}

// AddMember adds a user by id, or by email when userID is empty.
func (c *Client) AddMember(ctx context.Context, projectID, userID, email string) (*models.Project, error) {
	if userID == "" && email == "" {
		return nil, fmt.Errorf("userID or email is required")
	}
	var p models.Project
	body := map[string]string{}
	if userID != "" {
		body["userId"] = userID
	} else {
		body["email"] = email
	}
	if err := c.do(ctx, http.MethodPost, "/api/projects/"+projectID+"/members", body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) RemoveMember(ctx context.Context, projectID, userID string) (*models.Project, error) {
	var p models.Project
	path := "/api/projects/" + projectID + "/members/" + userID
	if err := c.do(ctx, http.MethodDelete, path, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// --- Tasks ---

func (c *Client) CreateTask(ctx context.Context, projectID string, task TaskUpdate) (*models.Task, error) {
	var t models.Task
	if err := c.do(ctx, http.MethodPost, "/api/tasks/project/"+projectID, task, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) ListTasks(ctx context.Context, projectID string) ([]models.Task, error) {
	var tasks []models.Task
	if err := c.do(ctx, http.MethodGet, "/api/tasks/project/"+projectID, nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (c *Client) UpdateTask(ctx context.Context, taskID string, update TaskUpdate) (*models.Task, error) {
	var t models.Task
	if err := c.do(ctx, http.MethodPut, "/api/tasks/"+taskID, update, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) DeleteTask(ctx context.Context, taskID string) error {
	return c.deleteDocument(ctx, "/api/tasks/"+taskID)
}

// --- Expenses ---

func (c *Client) CreateExpense(ctx context.Context, projectID string, expense ExpenseUpdate) (*models.Expense, error) {
	var e models.Expense
	if err := c.do(ctx, http.MethodPost, "/api/expenses/project/"+projectID, expense, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (c *Client) ListExpenses(ctx context.Context, projectID string) ([]models.Expense, error) {
	var expenses []models.Expense
	if err := c.do(ctx, http.MethodGet, "/api/expenses/project/"+projectID, nil, &expenses); err != nil {
		return nil, err
	}
	return expenses, nil
}

func (c *Client) UpdateExpense(ctx context.Context, expenseID string, update ExpenseUpdate) (*models.Expense, error) {
	var e models.Expense
	if err := c.do(ctx, http.MethodPut, "/api/expenses/"+expenseID, update, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (c *Client) DeleteExpense(ctx context.Context, expenseID string) error {
	return c.deleteDocument(ctx, "/api/expenses/"+expenseID)
}

// --- Messages ---

func (c *Client) SendMessage(ctx context.Context, projectID, content string) (*models.Message, error) {
	var m models.Message
	body := map[string]string{"content": content}
	if err := c.do(ctx, http.MethodPost, "/api/messages/project/"+projectID, body, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessages returns the project's messages oldest first.
func (c *Client) ListMessages(ctx context.Context, projectID string) ([]models.Message, error) {
	var messages []models.Message
	if err := c.do(ctx, http.MethodGet, "/api/messages/project/"+projectID, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// --- Health ---

// Ready reports the store state. While the store is not connected the
// error wraps ErrUnavailable.
func (c *Client) Ready(ctx context.Context) (*ReadyStatus, error) {
	var s ReadyStatus
	err := c.doRequest(ctx, http.MethodGet, "/readyz", nil, &s)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// WaitReady polls /readyz until the store is connected or ctx ends.
func (c *Client) WaitReady(ctx context.Context, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		if _, err := c.Ready(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) deleteDocument(ctx context.Context, path string) error {
	var res successResponse
	if err := c.do(ctx, http.MethodDelete, path, nil, &res); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("delete %s was not acknowledged", path)
	}
	return nil
}
