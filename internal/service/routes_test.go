package service

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabmate/collabmate/db/models"
)

func TestAuthRoutes(t *testing.T) {
	env := newTestEnv(t)

	ada := env.register("Ada")
	assert.NotEmpty(t, ada.token)

	resp := env.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "Ada again", "email": "ada@example.com", "password": "secret1",
	})
	assert.Equal(t, http.StatusBadRequest, resp.status)
	assert.Equal(t, "Email already registered", resp.message(t))

	resp = env.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "not-an-email", "password": "123",
	})
	require.Equal(t, http.StatusBadRequest, resp.status)
	var invalid struct {
		Errors []fieldError `json:"errors"`
	}
	resp.decode(t, &invalid)
	var paths []string
	for _, e := range invalid.Errors {
		paths = append(paths, e.Path)
	}
	assert.ElementsMatch(t, []string{"name", "email", "password"}, paths)

	resp = env.do(http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "ada@example.com", "password": "secret1",
	})
	require.Equal(t, http.StatusOK, resp.status)
	var session sessionResponse
	resp.decode(t, &session)
	assert.Equal(t, ada.id, session.User.ID)

	resp = env.do(http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "ada@example.com", "password": "wrong-password",
	})
	assert.Equal(t, http.StatusBadRequest, resp.status)
	assert.Equal(t, "Invalid credentials", resp.message(t))

	resp = env.do(http.MethodGet, "/api/auth/me", session.Token, nil)
	require.Equal(t, http.StatusOK, resp.status)
	var me models.User
	resp.decode(t, &me)
	assert.Equal(t, "ada@example.com", me.Email)
	assert.Empty(t, me.PasswordHash)
	assert.NotContains(t, string(resp.body), "passwordHash")
}

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodGet, "/api/projects", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.status)
	assert.Equal(t, "No token provided", resp.message(t))

	resp = env.do(http.MethodGet, "/api/projects", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.status)
	assert.Equal(t, "Invalid token", resp.message(t))
}

func TestProjectRoutes(t *testing.T) {
	env := newTestEnv(t)
	ada := env.register("Ada")
	bob := env.register("Bob")

	resp := env.do(http.MethodPost, "/api/projects", ada.token, map[string]string{"name": ""})
	assert.Equal(t, http.StatusBadRequest, resp.status)

	project := env.createProject(ada, "Trip")
	assert.Equal(t, ada.id, project.Owner)
	assert.Equal(t, []string{ada.id}, project.Members)

	resp = env.do(http.MethodGet, "/api/projects", bob.token, nil)
	require.Equal(t, http.StatusOK, resp.status)
	assert.JSONEq(t, `[]`, string(resp.body))

	resp = env.do(http.MethodPut, "/api/projects/"+project.ID, bob.token, map[string]string{"name": "Mine"})
	assert.Equal(t, http.StatusForbidden, resp.status)
	assert.Equal(t, "Only owner can update project", resp.message(t))

	resp = env.do(http.MethodPut, "/api/projects/missing", ada.token, map[string]string{"name": "x"})
	assert.Equal(t, http.StatusNotFound, resp.status)
	assert.Equal(t, "Project not found", resp.message(t))

	resp = env.do(http.MethodPut, "/api/projects/"+project.ID, ada.token, map[string]string{"description": "Summer"})
	require.Equal(t, http.StatusOK, resp.status)
	var updated models.Project
	resp.decode(t, &updated)
	assert.Equal(t, "Trip", updated.Name)
	assert.Equal(t, "Summer", updated.Description)

	resp = env.do(http.MethodPost, "/api/projects/"+project.ID+"/members", ada.token, map[string]string{"email": "bob@example.com"})
	require.Equal(t, http.StatusOK, resp.status)
	resp.decode(t, &updated)
	assert.ElementsMatch(t, []string{ada.id, bob.id}, updated.Members)

	resp = env.do(http.MethodGet, "/api/projects", bob.token, nil)
	require.Equal(t, http.StatusOK, resp.status)
	var listed []models.Project
	resp.decode(t, &listed)
	require.Len(t, listed, 1)
	assert.Equal(t, project.ID, listed[0].ID)

	resp = env.do(http.MethodDelete, "/api/projects/"+project.ID+"/members/"+ada.id, ada.token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.status)

	resp = env.do(http.MethodDelete, "/api/projects/"+project.ID+"/members/"+bob.id, ada.token, nil)
	require.Equal(t, http.StatusOK, resp.status)
	resp.decode(t, &updated)
	assert.Equal(t, []string{ada.id}, updated.Members)

	resp = env.do(http.MethodDelete, "/api/projects/"+project.ID, bob.token, nil)
	assert.Equal(t, http.StatusForbidden, resp.status)
	assert.Equal(t, "Only owner can delete project", resp.message(t))

	resp = env.do(http.MethodDelete, "/api/projects/"+project.ID, ada.token, nil)
	require.Equal(t, http.StatusOK, resp.status)
	assert.JSONEq(t, `{"success":true}`, string(resp.body))

	resp = env.do(http.MethodGet, "/api/tasks/project/"+project.ID, ada.token, nil)
	assert.Equal(t, http.StatusForbidden, resp.status)
}

func TestTaskRoutes(t *testing.T) {
	env := newTestEnv(t)
	ada := env.register("Ada")
	eve := env.register("Eve")
	project := env.createProject(ada, "Trip")
	base := "/api/tasks/project/" + project.ID

	resp := env.do(http.MethodPost, base, ada.token, map[string]string{"description": "no title"})
	assert.Equal(t, http.StatusBadRequest, resp.status)

	resp = env.do(http.MethodPost, base, eve.token, map[string]string{"title": "Book"})
	assert.Equal(t, http.StatusForbidden, resp.status)
	assert.Equal(t, "Not authorized", resp.message(t))

	resp = env.do(http.MethodPost, base, ada.token, map[string]string{"title": "Book flights"})
	require.Equal(t, http.StatusCreated, resp.status)
	var task models.Task
	resp.decode(t, &task)
	assert.Equal(t, models.TaskTodo, task.Status)
	assert.Equal(t, project.ID, task.Project)

	resp = env.do(http.MethodPut, "/api/tasks/"+task.ID, ada.token, map[string]string{"status": "blocked"})
	assert.Equal(t, http.StatusBadRequest, resp.status)

	resp = env.do(http.MethodPut, "/api/tasks/"+task.ID, eve.token, map[string]string{"status": "done"})
	assert.Equal(t, http.StatusForbidden, resp.status)

	resp = env.do(http.MethodPut, "/api/tasks/"+task.ID, ada.token, map[string]string{"status": "in_progress"})
	require.Equal(t, http.StatusOK, resp.status)
	resp.decode(t, &task)
	assert.Equal(t, models.TaskInProgress, task.Status)
	assert.Equal(t, "Book flights", task.Title)

	resp = env.do(http.MethodGet, base, ada.token, nil)
	require.Equal(t, http.StatusOK, resp.status)
	var tasks []models.Task
	resp.decode(t, &tasks)
	require.Len(t, tasks, 1)

	resp = env.do(http.MethodDelete, "/api/tasks/missing", ada.token, nil)
	assert.Equal(t, http.StatusNotFound, resp.status)
	assert.Equal(t, "Task not found", resp.message(t))

	resp = env.do(http.MethodDelete, "/api/tasks/"+task.ID, ada.token, nil)
	assert.Equal(t, http.StatusOK, resp.status)
}

func TestExpenseRoutes(t *testing.T) {
	env := newTestEnv(t)
	ada := env.register("Ada")
	project := env.createProject(ada, "Trip")
	base := "/api/expenses/project/" + project.ID

	resp := env.do(http.MethodPost, base, ada.token, map[string]any{"title": "Fuel", "amount": 0})
	assert.Equal(t, http.StatusBadRequest, resp.status)

	resp = env.do(http.MethodPost, base, ada.token, map[string]any{"title": "Fuel", "amount": 42.5})
	require.Equal(t, http.StatusCreated, resp.status)
	var expense models.Expense
	resp.decode(t, &expense)
	assert.Equal(t, ada.id, expense.PaidBy)
	assert.Equal(t, 42.5, expense.Amount)

	resp = env.do(http.MethodPut, "/api/expenses/"+expense.ID, ada.token, map[string]any{"amount": -1})
	assert.Equal(t, http.StatusBadRequest, resp.status)

	resp = env.do(http.MethodPut, "/api/expenses/"+expense.ID, ada.token, map[string]any{"notes": "split"})
	require.Equal(t, http.StatusOK, resp.status)
	resp.decode(t, &expense)
	assert.Equal(t, "split", expense.Notes)

	resp = env.do(http.MethodGet, base, ada.token, nil)
	require.Equal(t, http.StatusOK, resp.status)
	var expenses []models.Expense
	resp.decode(t, &expenses)
	assert.Len(t, expenses, 1)

	resp = env.do(http.MethodDelete, "/api/expenses/"+expense.ID, ada.token, nil)
	assert.Equal(t, http.StatusOK, resp.status)

	resp = env.do(http.MethodDelete, "/api/expenses/"+expense.ID, ada.token, nil)
	assert.Equal(t, http.StatusNotFound, resp.status)
	assert.Equal(t, "Expense not found", resp.message(t))
}

func TestMessageRoutes(t *testing.T) {
	env := newTestEnv(t)
	ada := env.register("Ada")
	eve := env.register("Eve")
	project := env.createProject(ada, "Trip")
	base := "/api/messages/project/" + project.ID

	resp := env.do(http.MethodPost, base, ada.token, map[string]string{"content": "  "})
	assert.Equal(t, http.StatusBadRequest, resp.status)

	for _, content := range []string{"first", "second"} {
		resp = env.do(http.MethodPost, base, ada.token, map[string]string{"content": content})
		require.Equal(t, http.StatusCreated, resp.status)
	}

	resp = env.do(http.MethodGet, base, ada.token, nil)
	require.Equal(t, http.StatusOK, resp.status)
	var messages []models.Message
	resp.decode(t, &messages)
	require.Len(t, messages, 2)
	assert.Equal(t, "first", messages[0].Content)
	assert.Equal(t, ada.id, messages[0].Sender)

	resp = env.do(http.MethodGet, base, eve.token, nil)
	assert.Equal(t, http.StatusForbidden, resp.status)
}
