// Package reconcileworker повторно сверяет события, сверка которых
// не удалась при приёме вебхука.
package reconcileworker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/employer-billing/internal/cache"
	"github.com/magabrotheeeer/employer-billing/internal/config"
	"github.com/magabrotheeeer/employer-billing/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/employer-billing/internal/lib/sl"
	"github.com/magabrotheeeer/employer-billing/internal/metrics"
	"github.com/magabrotheeeer/employer-billing/internal/paymentprovider"
	"github.com/magabrotheeeer/employer-billing/internal/services/notifier"
	"github.com/magabrotheeeer/employer-billing/internal/services/reconcile"
	"github.com/magabrotheeeer/employer-billing/internal/storage/repository"
)

// App воркер очереди неудачных сверок.
type App struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	db       *repository.Storage
	cache    *cache.Cache
	notifier *notifier.Notifier
	replayer *Replayer
	logger   *slog.Logger
}

// New подключает хранилище, кеш и брокер и собирает движок сверки.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "reconcileworker.New"

	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = repository.CheckDatabaseReady(ctx, db); err != nil {
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

	notify := notifier.New(logger, rabbitmq.NewPublisher(ch))
	engine := reconcile.New(logger, db, paymentprovider.New(cfg.Stripe), notify, cacheRedis, cfg.GraceWindow)

	return &App{
		conn:     conn,
		ch:       ch,
		db:       db,
		cache:    cacheRedis,
		notifier: notify,
		replayer: NewReplayer(logger, engine, metrics.New(), cfg.ProcessingTimeout),
		logger:   logger,
	}, nil
}

// Run потребляет очередь до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	wait, err := rabbitmq.ConsumerMessage(ctx, a.logger, a.ch, rabbitmq.QueueReconcileFailed, a.replayer.Handle)
	if err != nil {
		a.logger.Error("failed to start reconcile consumer", sl.Err(err))
		a.close()
		return err
	}
	a.logger.Info("reconcile worker started", slog.String("queue", rabbitmq.QueueReconcileFailed))

	<-ctx.Done()
	a.logger.Info("reconcile worker shutting down gracefully")

	wait()
	if err := a.notifier.Wait(context.Background()); err != nil {
		a.logger.Error("notifications were not published", sl.Err(err))
	}
	a.close()
	return nil
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
