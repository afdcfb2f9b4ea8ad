// Command server runs the newsletter API together with the delivery worker
// and the idempotency purger until SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/go-newsletter-backend/internal/auth"
	"github.com/tbourn/go-newsletter-backend/internal/config"
	"github.com/tbourn/go-newsletter-backend/internal/delivery"
	"github.com/tbourn/go-newsletter-backend/internal/email"
	httpapi "github.com/tbourn/go-newsletter-backend/internal/http"
	"github.com/tbourn/go-newsletter-backend/internal/idempotency"
	"github.com/tbourn/go-newsletter-backend/internal/observability"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
	"github.com/tbourn/go-newsletter-backend/internal/services"
	"github.com/tbourn/go-newsletter-backend/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	sysutil.SetupLogger(os.Stderr, cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("server exited")
	}
	log.Info().Msg("bye")
}

func run(ctx context.Context, cfg config.Config) error {
	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTEL, version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn().Err(err).Msg("tracer shutdown")
		}
	}()

	db, err := repo.Open(cfg.Database)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}

	accounts := services.NewAccountService(db)
	if _, err := accounts.SeedAdmin(ctx, cfg.Admin.Username, cfg.Admin.Password); err != nil {
		return err
	}

	mailer, err := email.NewClient(cfg.Email)
	if err != nil {
		return err
	}
	store := idempotency.NewStore(db)

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.App{
		Newsletters:   services.NewNewsletterService(db, store),
		Subscriptions: services.NewSubscriptionService(db, mailer, cfg.BaseURL),
		Accounts:      accounts,
		Sessions:      auth.NewSessions(cfg.Session.Secret, cfg.Session.TTL),
		Saved:         store,
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	g, gctx := errgroup.WithContext(ctx)
	sup := &supervisor{}

	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("http server listening")
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		return sup.exited("http server", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info().Msg("shutting down http server")
		return srv.Shutdown(sctx)
	})

	if cfg.Worker.Enabled {
		w := delivery.NewWorker(delivery.NewQueue(db), mailer)
		if cfg.Worker.IdleInterval > 0 {
			w.IdleInterval = cfg.Worker.IdleInterval
		}
		if cfg.Worker.ErrorBackoff > 0 {
			w.ErrorBackoff = cfg.Worker.ErrorBackoff
		}
		g.Go(func() error { return sup.exited("delivery worker", w.Run(gctx)) })
	} else {
		log.Warn().Msg("delivery worker disabled")
	}

	g.Go(func() error {
		return sup.exited("idempotency purger", store.RunPurger(gctx, cfg.IdempotencyTTL, idempotency.DefaultPurgeInterval))
	})

	return g.Wait()
}

// supervisor reports which long-running task ended first.
type supervisor struct{ first sync.Once }

// exited logs why a task returned. Cancellation is the normal way out and
// is reported as nil.
func (s *supervisor) exited(task string, err error) error {
	s.first.Do(func() {
		log.Warn().Err(err).Str("task", task).Msg("first task to terminate")
	})
	if err == nil || errors.Is(err, context.Canceled) {
		log.Info().Str("task", task).Msg("task stopped")
		return nil
	}
	log.Error().Err(err).Str("task", task).Msg("task failed")
	return err
}
