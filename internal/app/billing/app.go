package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/employer-billing/internal/cache"
	"github.com/magabrotheeeer/employer-billing/internal/config"
	checkouthandler "github.com/magabrotheeeer/employer-billing/internal/http/handlers/checkout"
	"github.com/magabrotheeeer/employer-billing/internal/http/handlers/health"
	"github.com/magabrotheeeer/employer-billing/internal/http/handlers/payment/paymentlist"
	"github.com/magabrotheeeer/employer-billing/internal/http/handlers/payment/webhook"
	"github.com/magabrotheeeer/employer-billing/internal/http/handlers/subscription/cancel"
	"github.com/magabrotheeeer/employer-billing/internal/http/handlers/subscription/current"
	"github.com/magabrotheeeer/employer-billing/internal/http/handlers/subscription/read"
	"github.com/magabrotheeeer/employer-billing/internal/lib/goroutine"
	"github.com/magabrotheeeer/employer-billing/internal/lib/jwt"
	"github.com/magabrotheeeer/employer-billing/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/employer-billing/internal/lib/sl"
	"github.com/magabrotheeeer/employer-billing/internal/metrics"
	"github.com/magabrotheeeer/employer-billing/internal/migrations"
	"github.com/magabrotheeeer/employer-billing/internal/paymentprovider"
	"github.com/magabrotheeeer/employer-billing/internal/services/cancellation"
	"github.com/magabrotheeeer/employer-billing/internal/services/checkout"
	"github.com/magabrotheeeer/employer-billing/internal/services/notifier"
	"github.com/magabrotheeeer/employer-billing/internal/services/reconcile"
	subservice "github.com/magabrotheeeer/employer-billing/internal/services/subscription"
	"github.com/magabrotheeeer/employer-billing/internal/storage/repository"
)

const shutdownTimeout = 15 * time.Second

// App HTTP-сервис биллинга.
type App struct {
	server   *http.Server
	logger   *slog.Logger
	db       *repository.Storage
	cache    *cache.Cache
	conn     *amqp.Connection
	ch       *amqp.Channel
	tasks    *goroutine.Group
	notifier *notifier.Notifier
}

// New подключает хранилище, кеш и брокер, собирает сервисы и маршруты.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "billing.New"

	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		_ = cacheRedis.Close()
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.BillingQueues())
	if err != nil {
		_ = conn.Close()
		_ = cacheRedis.Close()
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	m := metrics.New()
	tasks := goroutine.NewGroup(logger)
	notify := notifier.New(logger, rabbitmq.NewPublisher(ch))
	provider := paymentprovider.New(cfg.Stripe)

	engine := reconcile.New(logger, db, provider, notify, cacheRedis, cfg.GraceWindow)
	checkoutService := checkout.New(logger, db, provider)
	cancellationService := cancellation.New(logger, db, provider, notify, cacheRedis)
	subscriptionService := subservice.NewSubscriptionService(db, cacheRedis, cfg.CacheTTL, logger)
	tokens := jwt.NewJWTMaker(cfg.JWTSecretKey, 0)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, Routes{
		Webhook: webhook.New(logger, provider, engine, cacheRedis, notify, tasks, m, webhook.Options{
			ProcessingTimeout: cfg.ProcessingTimeout,
			DedupTTL:          cfg.DedupTTL,
		}),
		Checkout: checkouthandler.New(logger, checkoutService, m),
		Payments: paymentlist.New(logger, subscriptionService),
		Current:  current.New(logger, subscriptionService),
		Read:     read.New(logger, subscriptionService),
		Cancel:   cancel.NewCancel(logger, cancellationService, m),
		Resume:   cancel.NewResume(logger, cancellationService, m),
		Health: health.New(logger, map[string]health.Checker{
			"postgres": func(ctx context.Context) error {
				return repository.CheckDatabaseReady(ctx, db)
			},
			"redis": func(ctx context.Context) error {
				return cacheRedis.Db.Ping(ctx).Err()
			},
		}),
		Metrics:   m.Handler(),
		Tokens:    tokens,
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
	})

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server:   srv,
		logger:   logger,
		db:       db,
		cache:    cacheRedis,
		conn:     conn,
		ch:       ch,
		tasks:    tasks,
		notifier: notify,
	}, nil
}

// Run запускает HTTP-сервер и останавливает его при отмене ctx.
// Перед закрытием соединений дожидается фоновой сверки и публикаций.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		a.logger.Info("shutting down HTTP server gracefully")
		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err = a.server.Shutdown(timeoutCtx)

		if waitErr := a.tasks.Wait(timeoutCtx); waitErr != nil {
			a.logger.Error("webhook processing did not finish", sl.Err(waitErr))
		}
		if waitErr := a.notifier.Wait(timeoutCtx); waitErr != nil {
			a.logger.Error("notifications were not published", sl.Err(waitErr))
		}
	}

	a.close()
	return err
}

func (a *App) close() {
	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", sl.Err(err))
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", sl.Err(err))
	}
	if err := a.cache.Close(); err != nil {
		a.logger.Error("failed to close redis", sl.Err(err))
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close database", sl.Err(err))
	}
}
