package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/collabmate/collabmate/config"
	"github.com/collabmate/collabmate/db/tkv"
	"github.com/collabmate/collabmate/internal/auth"
	"github.com/collabmate/collabmate/internal/events"
	"github.com/collabmate/collabmate/internal/guard"
	"github.com/collabmate/collabmate/internal/lifecycle"
	"github.com/collabmate/collabmate/internal/repo"
	"github.com/collabmate/collabmate/internal/rooms"
	"github.com/collabmate/collabmate/internal/service"
	"github.com/fatih/color"
)

// Runtime manages the execution of collabd, handling configuration,
// signal processing, and the lifecycle of the server and store.
type Runtime struct {
	appCtx    context.Context
	appCancel context.CancelFunc
	logger    *slog.Logger
	cfg       *config.Config

	currentLogLevel slog.Level

	addrOnce sync.Once
	addr     net.Addr
	bound    chan struct{}
}

type Options struct {
	// LogOutput receives the JSON log stream. Defaults to os.Stderr.
	LogOutput io.Writer
	// HandleSignals stops the runtime on SIGINT and SIGTERM.
	HandleSignals bool
}

// New creates a new Runtime for cfg.
func New(cfg *config.Config, opts Options) *Runtime {
	r := &Runtime{
		cfg:   cfg,
		bound: make(chan struct{}),
	}
	r.appCtx, r.appCancel = context.WithCancel(context.Background())

	switch cfg.Logging.Level {
	case "debug":
		r.currentLogLevel = slog.LevelDebug
	case "info", "":
		r.currentLogLevel = slog.LevelInfo
	case "warn":
		r.currentLogLevel = slog.LevelWarn
	case "error":
		r.currentLogLevel = slog.LevelError
	default:
		color.HiYellow("Unknown logging level: %s, defaulting to info", cfg.Logging.Level)
		r.currentLogLevel = slog.LevelInfo
	}

	out := opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	r.logger = slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: r.currentLogLevel,
	})).With("service", "collabd")

	if opts.HandleSignals {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		lifecycle.Go(r.logger, "signals", func() {
			defer signal.Stop(sigChan)
			select {
			case sig := <-sigChan:
				r.logger.Info("Received signal, initiating shutdown...", "signal", sig)
				r.appCancel()
			case <-r.appCtx.Done():
			}
		})
	}
	return r
}

// Run binds the listener, starts serving, and only then begins dialing the
// store, so health checks answer while the store is still unreachable. It
// returns after Stop or a signal, once shutdown completes. A bind failure
// is returned immediately.
func (r *Runtime) Run() error {
	defer r.appCancel()

	listener, err := net.Listen("tcp", r.cfg.Server.Bind)
	if err != nil {
		return fmt.Errorf("bind %s: %w", r.cfg.Server.Bind, err)
	}
	r.addrOnce.Do(func() {
		r.addr = listener.Addr()
		close(r.bound)
	})

	store := lifecycle.New[tkv.TKV](lifecycle.Config{
		Logger:           r.logger.With("component", "store-lifecycle"),
		MaxAttempts:      r.cfg.Store.MaxAttempts,
		RetryInterval:    r.cfg.Store.RetryInterval,
		AttemptTimeout:   r.cfg.Store.AttemptTimeout,
		RecoveryInterval: r.cfg.Store.RecoveryInterval,
	}, func(ctx context.Context) (tkv.TKV, error) {
		return tkv.Dial(ctx, tkv.Config{
			Logger:         r.logger.With("component", "store"),
			BadgerLogLevel: r.currentLogLevel,
			Directory:      r.cfg.Store.Dir,
			PingInterval:   r.cfg.Store.PingInterval,
		})
	})

	tokens, err := auth.New(auth.Config{
		Secret:   []byte(r.cfg.Auth.JWTSecret),
		TokenTTL: r.cfg.Auth.TokenTTL,
	})
	if err != nil {
		listener.Close()
		return err
	}

	documents := repo.New(repo.Config{
		Logger: r.logger.With("component", "repo"),
		Source: store,
	})
	membership := guard.New(documents)
	hub := rooms.New(r.logger.With("component", "rooms"), membership)

	svc := service.New(service.Settings{
		Ctx:    r.appCtx,
		Logger: r.logger.With("component", "service"),
		Config: r.cfg,
		Tokens: tokens,
		Store:  store,
		Repo:   documents,
		Guard:  membership,
		Hub:    hub,
		Publisher: events.NewPublisher(events.Config{
			Logger: r.logger.With("component", "events"),
			Router: hub,
		}),
	})

	// Request contexts outlive appCtx so Shutdown can drain them; whatever
	// is still running when the grace period ends is cancelled.
	requestCtx, cancelRequests := context.WithCancel(context.Background())
	defer cancelRequests()

	srv := &http.Server{
		Handler:           svc.Handler(),
		ReadHeaderTimeout: r.cfg.Server.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return requestCtx },
	}

	serveErr := make(chan error, 1)
	lifecycle.Go(r.logger, "http-server", func() {
		serveErr <- srv.Serve(listener)
	})
	r.logger.Info("Server listening", "addr", listener.Addr().String())
	color.HiGreen("CollabMate backend running on %s", listener.Addr().String())

	store.Start(r.appCtx)

	var runErr error
	select {
	case <-r.appCtx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("HTTP server error", "error", err)
			runErr = err
		}
	}

	r.logger.Info("Shutting down", "grace", r.cfg.Server.ShutdownGrace)
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), r.cfg.Server.ShutdownGrace)
	defer cancelShutdown()

	stopWg := sync.WaitGroup{}

	stopWg.Add(1)
	lifecycle.Go(r.logger, "http-shutdown", func() {
		defer stopWg.Done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("Server shutdown error", "error", err)
		}
	})

	stopWg.Add(1)
	lifecycle.Go(r.logger, "service-close", func() {
		defer stopWg.Done()
		svc.Close()
	})

	stopWg.Wait()
	cancelRequests()

	// The store goes last so in-flight requests can finish their writes.
	if err := store.Close(); err != nil {
		r.logger.Error("Store close error", "error", err)
	}

	r.logger.Info("Runtime has been shut down.")
	return runErr
}

// Addr blocks until the listener is bound or the runtime stops. It returns
// nil if the runtime stopped first.
func (r *Runtime) Addr() net.Addr {
	select {
	case <-r.bound:
		return r.addr
	case <-r.appCtx.Done():
		select {
		case <-r.bound:
			return r.addr
		default:
			return nil
		}
	}
}

// Stop gracefully shuts down the runtime by canceling its context.
func (r *Runtime) Stop() {
	r.logger.Info("Runtime stop requested.")
	r.appCancel()
}
