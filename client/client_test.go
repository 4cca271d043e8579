package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/collabmate/collabmate/config"
	"github.com/collabmate/collabmate/db/models"
	"github.com/collabmate/collabmate/runtime"
)

type ClientTestSuite struct {
	suite.Suite
	rt      *runtime.Runtime
	done    chan error
	baseURL string
}

func (s *ClientTestSuite) SetupSuite() {
	cfg := config.GenerateConfig()
	cfg.Server.Bind = "127.0.0.1:0"
	cfg.Server.ShutdownGrace = 2 * time.Second
	cfg.Store.Dir = s.T().TempDir()
	cfg.Store.RetryInterval = 10 * time.Millisecond
	cfg.RateLimiters = config.RateLimiters{}
	cfg.Logging.Level = "error"

	s.rt = runtime.New(cfg, runtime.Options{LogOutput: io.Discard})
	s.done = make(chan error, 1)
	go func() { s.done <- s.rt.Run() }()

	addr := s.rt.Addr()
	s.Require().NotNil(addr, "runtime stopped before binding")
	s.baseURL = "http://" + addr.String()

	c := s.newClient()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.Require().NoError(c.WaitReady(ctx, 10*time.Millisecond))
}

func (s *ClientTestSuite) TearDownSuite() {
	s.rt.Stop()
	select {
	case err := <-s.done:
		s.NoError(err)
	case <-time.After(10 * time.Second):
		s.Fail("runtime did not stop")
	}
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientTestSuite))
}

func (s *ClientTestSuite) newClient() *Client {
	c, err := NewClient(&Config{BaseURL: s.baseURL, Timeout: 5 * time.Second})
	s.Require().NoError(err)
	return c
}

func (s *ClientTestSuite) registered(name, email string) *Client {
	c := s.newClient()
	_, err := c.Register(context.Background(), name, email, "secret123")
	s.Require().NoError(err)
	return c
}

func ptr[T any](v T) *T { return &v }

func (s *ClientTestSuite) TestAuth() {
	ctx := context.Background()
	c := s.newClient()

	session, err := c.Register(ctx, "Ada", "ada@client.test", "secret123")
	s.Require().NoError(err)
	s.NotEmpty(session.Token)
	s.Equal(session.Token, c.Token())
	s.Equal("ada@client.test", session.User.Email)

	me, err := c.Me(ctx)
	s.Require().NoError(err)
	s.Equal(session.User.ID, me.ID)
	s.Empty(me.PasswordHash)

	_, err = s.newClient().Register(ctx, "Ada", "ada@client.test", "secret123")
	var apiErr *APIError
	s.Require().True(errors.As(err, &apiErr))
	s.Equal(http.StatusBadRequest, apiErr.StatusCode)
	s.Equal("Email already registered", apiErr.Message)

	_, err = s.newClient().Register(ctx, "", "not-an-email", "x")
	s.Require().True(errors.As(err, &apiErr))
	s.NotEmpty(apiErr.Fields)

	other := s.newClient()
	_, err = other.Login(ctx, "ada@client.test", "wrong")
	s.Error(err)
	_, err = other.Login(ctx, "ada@client.test", "secret123")
	s.Require().NoError(err)

	_, err = s.newClient().Me(ctx)
	s.ErrorIs(err, ErrUnauthorized)
}

func (s *ClientTestSuite) TestProjectLifecycle() {
	ctx := context.Background()
	owner := s.registered("Owner", "owner@client.test")
	member := s.registered("Member", "member@client.test")

	project, err := owner.CreateProject(ctx, "Trip", "Summer trip")
	s.Require().NoError(err)

	_, err = member.ListTasks(ctx, project.ID)
	s.ErrorIs(err, ErrForbidden)

	project, err = owner.AddMember(ctx, project.ID, "", "member@client.test")
	s.Require().NoError(err)
	s.Len(project.Members, 2)

	task, err := member.CreateTask(ctx, project.ID, TaskUpdate{Title: ptr("Book flights")})
	s.Require().NoError(err)
	s.Equal(models.TaskTodo, task.Status)

	task, err = owner.UpdateTask(ctx, task.ID, TaskUpdate{Status: ptr(models.TaskDone)})
	s.Require().NoError(err)
	s.Equal(models.TaskDone, task.Status)

	expense, err := member.CreateExpense(ctx, project.ID, ExpenseUpdate{Title: ptr("Hotel"), Amount: ptr(320.5)})
	s.Require().NoError(err)
	s.Equal(320.5, expense.Amount)

	_, err = owner.SendMessage(ctx, project.ID, "first")
	s.Require().NoError(err)
	_, err = member.SendMessage(ctx, project.ID, "second")
	s.Require().NoError(err)
	messages, err := owner.ListMessages(ctx, project.ID)
	s.Require().NoError(err)
	s.Require().Len(messages, 2)
	s.Equal("first", messages[0].Content)

	_, err = member.UpdateProject(ctx, project.ID, ProjectUpdate{Name: ptr("Hijacked")})
	s.ErrorIs(err, ErrForbidden)

	s.Require().NoError(owner.DeleteTask(ctx, task.ID))
	s.Require().NoError(owner.DeleteExpense(ctx, expense.ID))
	s.Require().NoError(owner.DeleteProject(ctx, project.ID))

	projects, err := member.ListProjects(ctx)
	s.Require().NoError(err)
	s.Empty(projects)

	_, err = owner.UpdateProject(ctx, project.ID, ProjectUpdate{Name: ptr("Gone")})
	s.ErrorIs(err, ErrNotFound)
}

func (s *ClientTestSuite) TestRealtime() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	owner := s.registered("RT Owner", "rt-owner@client.test")
	outsider := s.registered("RT Outsider", "rt-outsider@client.test")

	project, err := owner.CreateProject(ctx, "Realtime", "")
	s.Require().NoError(err)

	ownerRT, err := owner.Realtime(ctx)
	s.Require().NoError(err)
	defer ownerRT.Close()
	s.Require().NoError(ownerRT.Join(ctx, project.ID))
	s.Require().NoError(ownerRT.Join(ctx, project.ID), "join is idempotent")

	outsiderRT, err := outsider.Realtime(ctx)
	s.Require().NoError(err)
	defer outsiderRT.Close()
	err = outsiderRT.Join(ctx, project.ID)
	s.ErrorIs(err, ErrJoinDenied)

	_, err = owner.SendMessage(ctx, project.ID, "hello room")
	s.Require().NoError(err)

	select {
	case event := <-ownerRT.Events():
		s.Equal(models.EventNewMessage, event.Type)
		s.Equal(project.ID, event.Room)
		var payload models.MessagePayload
		s.Require().NoError(json.Unmarshal(event.Payload, &payload))
		s.Equal("hello room", payload.Content)
	case <-ctx.Done():
		s.Fail("no event delivered")
	}

	s.Require().NoError(ownerRT.Leave(ctx, project.ID))
	s.Require().NoError(ownerRT.Close())
	s.ErrorIs(ownerRT.Join(ctx, project.ID), ErrRealtimeClosed)
	_, open := <-ownerRT.Events()
	s.False(open)
}

func TestRealtime_RequiresToken(t *testing.T) {
	c, err := NewClient(&Config{BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err)
	_, err = c.Realtime(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(&Config{})
	assert.Error(t, err)
	_, err = NewClient(&Config{BaseURL: "ftp://example.com"})
	assert.Error(t, err)
}

func TestRateLimitRetries(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	c, err := NewClient(&Config{BaseURL: server.URL, Token: "t"})
	require.NoError(t, err)

	start := time.Now()
	projects, err := c.ListProjects(context.Background())
	require.NoError(t, err)
	assert.Empty(t, projects)
	assert.Equal(t, 3, calls)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRateLimitGivesUp(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c, err := NewClient(&Config{BaseURL: server.URL, Token: "t"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.ListProjects(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
