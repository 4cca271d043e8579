package service

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/collabmate/collabmate/config"
	"github.com/collabmate/collabmate/db/models"
	"github.com/collabmate/collabmate/internal/auth"
	"github.com/collabmate/collabmate/internal/events"
	"github.com/collabmate/collabmate/internal/guard"
	"github.com/collabmate/collabmate/internal/lifecycle"
	"github.com/collabmate/collabmate/internal/repo"
	"github.com/collabmate/collabmate/internal/rooms"
	"github.com/gorilla/websocket"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"
)

const (
	rlCategoryAPI      = "api"
	rlCategoryAuth     = "auth"
	rlCategoryRealtime = "realtime"
)

// TokenService issues and verifies caller tokens.
type TokenService interface {
	auth.Verifier
	Issue(id auth.Identity) (string, error)
}

// StoreStatus is the read side of the store lifecycle.
type StoreStatus interface {
	Status() lifecycle.Status
}

// Hub is the room registry as seen by the transport and status endpoint.
type Hub interface {
	rooms.Registry
	RoomCount() int
}

type Settings struct {
	Ctx       context.Context
	Logger    *slog.Logger
	Config    *config.Config
	Tokens    TokenService
	Store     StoreStatus
	Repo      *repo.Repo
	Guard     guard.Guard
	Hub       Hub
	Publisher events.Publisher
}

type Service struct {
	appCtx    context.Context
	cfg       *config.Config
	logger    *slog.Logger
	tokens    TokenService
	store     StoreStatus
	repo      *repo.Repo
	guard     guard.Guard
	hub       Hub
	publisher events.Publisher
	mux       *http.ServeMux

	startedAt time.Time

	rateLimiters map[string]*ttlcache.Cache[string, *rate.Limiter]

	wsUpgrader          websocket.Upgrader
	sessionsLock        sync.Mutex
	sessions            map[*session]struct{}
	activeWsConnections int
	sessionsClosed      bool

	closeOnce sync.Once
}

func New(settings Settings) *Service {
	logger := settings.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx := settings.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	publisher := settings.Publisher
	if publisher == nil {
		publisher = events.Discard{}
	}
	cfg := settings.Config

	s := &Service{
		appCtx:       ctx,
		cfg:          cfg,
		logger:       logger,
		tokens:       settings.Tokens,
		store:        settings.Store,
		repo:         settings.Repo,
		guard:        settings.Guard,
		hub:          settings.Hub,
		publisher:    publisher,
		mux:          http.NewServeMux(),
		startedAt:    time.Now(),
		rateLimiters: make(map[string]*ttlcache.Cache[string, *rate.Limiter]),
		sessions:     make(map[*session]struct{}),
		wsUpgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.Sessions.WebSocketReadBufferSize,
			WriteBufferSize: cfg.Sessions.WebSocketWriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				logger.Debug("WebSocket CheckOrigin called", "origin", r.Header.Get("Origin"), "host", r.Host)
				return true
			},
		},
	}

	rlLogger := logger.With("component", "rate-limiter")
	for category, rl := range map[string]config.RateLimiterConfig{
		rlCategoryAPI:      cfg.RateLimiters.API,
		rlCategoryAuth:     cfg.RateLimiters.Auth,
		rlCategoryRealtime: cfg.RateLimiters.Realtime,
	} {
		if rl.Limit <= 0 {
			continue
		}
		cache := ttlcache.New[string, *rate.Limiter](
			ttlcache.WithTTL[string, *rate.Limiter](time.Minute),
			ttlcache.WithDisableTouchOnHit[string, *rate.Limiter](),
		)
		lifecycle.Go(rlLogger, "rate-limiter-"+category, cache.Start)
		s.rateLimiters[category] = cache
		rlLogger.Info("Initialized rate limiter", "category", category, "limit", rl.Limit, "burst", rl.Burst)
	}

	s.routes()
	return s
}

func (s *Service) routes() {
	s.mux.HandleFunc("GET /{$}", s.rootHandler)
	s.mux.HandleFunc("GET /healthz", s.healthzHandler)
	s.mux.HandleFunc("GET /readyz", s.readyzHandler)
	s.mux.HandleFunc("GET /status", s.statusHandler)

	s.mux.Handle("GET /ws", s.rateLimit(http.HandlerFunc(s.wsHandler), rlCategoryRealtime))

	s.mux.Handle("POST /api/auth/register", s.rateLimit(http.HandlerFunc(s.registerHandler), rlCategoryAuth))
	s.mux.Handle("POST /api/auth/login", s.rateLimit(http.HandlerFunc(s.loginHandler), rlCategoryAuth))
	s.handleAPI("GET /api/auth/me", s.meHandler)

	s.handleAPI("POST /api/projects", s.createProjectHandler)
	s.handleAPI("GET /api/projects", s.listProjectsHandler)
	s.handleAPI("PUT /api/projects/{id}", s.updateProjectHandler)
	s.handleAPI("DELETE /api/projects/{id}", s.deleteProjectHandler)
	s.handleAPI("POST /api/projects/{id}/members", s.addMemberHandler)
	s.handleAPI("DELETE /api/projects/{id}/members/{userId}", s.removeMemberHandler)

	s.handleAPI("POST /api/tasks/project/{projectId}", s.createTaskHandler)
	s.handleAPI("GET /api/tasks/project/{projectId}", s.listTasksHandler)
	s.handleAPI("PUT /api/tasks/{id}", s.updateTaskHandler)
	s.handleAPI("DELETE /api/tasks/{id}", s.deleteTaskHandler)

	s.handleAPI("POST /api/expenses/project/{projectId}", s.createExpenseHandler)
	s.handleAPI("GET /api/expenses/project/{projectId}", s.listExpensesHandler)
	s.handleAPI("PUT /api/expenses/{id}", s.updateExpenseHandler)
	s.handleAPI("DELETE /api/expenses/{id}", s.deleteExpenseHandler)

	s.handleAPI("POST /api/messages/project/{projectId}", s.createMessageHandler)
	s.handleAPI("GET /api/messages/project/{projectId}", s.listMessagesHandler)

	s.mux.HandleFunc("/", s.notFoundHandler)
}

// handleAPI mounts an authenticated, rate limited route.
func (s *Service) handleAPI(pattern string, handler func(http.ResponseWriter, *http.Request, auth.Identity)) {
	s.mux.Handle(pattern, s.rateLimit(s.authenticate(handler), rlCategoryAPI))
}

// Handler is the root handler for the HTTP server.
func (s *Service) Handler() http.Handler {
	return s.recoverMiddleware(s.corsMiddleware(s.mux))
}

// Close stops background caches and closes every realtime session. HTTP
// requests are drained by the server that owns the listener.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		for _, limiter := range s.rateLimiters {
			limiter.Stop()
		}

		s.sessionsLock.Lock()
		s.sessionsClosed = true
		open := make([]*session, 0, len(s.sessions))
		for sess := range s.sessions {
			open = append(open, sess)
		}
		s.sessionsLock.Unlock()

		for _, sess := range open {
			sess.close()
		}
		s.logger.Info("Service closed", "sessions_closed", len(open))
	})
}

func (s *Service) storeState() models.StoreState {
	if s.store == nil {
		return models.StoreDisconnected
	}
	return s.store.Status().State
}
