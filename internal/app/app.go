// Package app assembles the server: database, Redis queue, pipeline worker,
// scheduler and the HTTP API, with a graceful shutdown path.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/smswire/concierge/internal/billing"
	"github.com/smswire/concierge/internal/config"
	"github.com/smswire/concierge/internal/db"
	"github.com/smswire/concierge/internal/http/api"
	"github.com/smswire/concierge/internal/llm"
	"github.com/smswire/concierge/internal/moderation"
	"github.com/smswire/concierge/internal/pipeline"
	"github.com/smswire/concierge/internal/queue"
	"github.com/smswire/concierge/internal/ratelimit"
	"github.com/smswire/concierge/internal/realtime"
	"github.com/smswire/concierge/internal/scheduler"
	"github.com/smswire/concierge/internal/security"
	"github.com/smswire/concierge/internal/sms"
	"github.com/smswire/concierge/internal/usage"
)

const shutdownTimeout = 15 * time.Second

// Migrate opens the database and applies the schema.
func Migrate(cfg config.Config) error {
	conn, err := db.Open(cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	return db.Migrate(conn)
}

// RunServer boots every component and serves until the context is canceled.
func RunServer(ctx context.Context, cfg config.Config) error {
	conn, err := db.Open(cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	var box *security.SecretBox
	if strings.TrimSpace(cfg.EncryptionKey) != "" {
		box, err = security.NewSecretBox(cfg.EncryptionKey)
		if err != nil {
			return err
		}
	} else {
		log.Warn("app: no encryption key configured, stored telephony secrets unavailable")
	}

	if strings.TrimSpace(cfg.Redis.Addr) == "" {
		return fmt.Errorf("app: redis address required for the inbound queue")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if errPing := rdb.Ping(ctx).Err(); errPing != nil {
		return fmt.Errorf("app: redis ping: %w", errPing)
	}

	var generator llm.Generator
	if strings.TrimSpace(cfg.LLM.BaseURL) != "" {
		generator = llm.NewClient(cfg.LLM)
	} else {
		log.Warn("app: no llm base url configured, generated replies disabled")
	}

	hub := realtime.NewHub()
	recorder := usage.NewRecorder(conn)
	sender := sms.NewTwilioSender(cfg.Twilio, box)
	inbound := queue.New(rdb, cfg.Redis.Queue)
	proc := pipeline.New(conn, moderation.NewScanner(conn), generator, sender, hub, recorder)
	worker := queue.NewWorker(inbound, proc.Process)

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		worker.Run(workerCtx)
	}()

	sched := scheduler.New(conn, recorder, cfg.Rates)
	if errStart := sched.Start(); errStart != nil {
		return errStart
	}
	defer sched.Stop()

	limiter := ratelimit.NewManager(ratelimit.SettingsFromConfig(cfg), nil, nil)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	api.RegisterRoutes(engine, api.Deps{
		DB:        conn,
		Cfg:       cfg,
		Validator: sms.NewValidator(cfg.Twilio, box),
		Queue:     inbound,
		Billing:   billing.NewService(conn, cfg.Stripe),
		Hub:       hub,
		Recorder:  recorder,
		Limiter:   limiter,
		Sender:    sender,
		Box:       box,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.Port).Info("server listening")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		stopWorker()
		<-workerDone
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	errShutdown := server.Shutdown(shutdownCtx)

	stopWorker()
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		log.Warn("worker did not stop before the shutdown deadline")
	}

	if errShutdown != nil && !errors.Is(errShutdown, http.ErrServerClosed) {
		return errShutdown
	}
	return nil
}
