// Package notifier публикует уведомления о жизненном цикле подписки и
// сообщения о неудачной сверке. Публикация идёт в фоне после фиксации
// транзакции и никогда не влияет на результат изменения.
package notifier

import (
	"context"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/employer-billing/internal/lib/goroutine"
	"github.com/magabrotheeeer/employer-billing/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/employer-billing/internal/lib/sl"
	"github.com/magabrotheeeer/employer-billing/internal/models"
)

const publishTimeout = 5 * time.Second

// Publisher отправляет сообщение в брокер.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, message any) error
}

// Notifier фоновый издатель уведомлений.
type Notifier struct {
	log   *slog.Logger
	pub   Publisher
	tasks *goroutine.Group
	now   func() time.Time
}

// New создаёт Notifier.
func New(log *slog.Logger, pub Publisher) *Notifier {
	return &Notifier{
		log:   log,
		pub:   pub,
		tasks: goroutine.NewGroup(log),
		now:   time.Now,
	}
}

// Lifecycle публикует уведомление о переходе подписки.
func (n *Notifier) Lifecycle(kind string, sub *models.Subscription) {
	msg := models.LifecycleNotification{
		Kind:           kind,
		EmployerID:     sub.EmployerID,
		SubscriptionID: sub.ID,
		PlanTier:       sub.PlanTier,
		Status:         string(sub.Status),
		OccurredAt:     n.now().Unix(),
	}
	n.publish("notifier.Lifecycle", rabbitmq.RoutingKeyLifecycle, msg,
		slog.String("kind", kind), slog.String("subscription_id", sub.ID))
}

// ReconcileFailed публикует событие, сверка которого не удалась, в очередь разбора.
func (n *Notifier) ReconcileFailed(event models.ProviderEvent, cause error) {
	msg := models.FailedEvent{
		Event:    event,
		Error:    cause.Error(),
		FailedAt: n.now().Unix(),
	}
	n.publish("notifier.ReconcileFailed", rabbitmq.RoutingKeyReconcileFailed, msg,
		slog.String("event_id", event.ID), slog.String("event_type", event.Type))
}

func (n *Notifier) publish(op, routingKey string, msg any, attrs ...any) {
	log := n.log.With(sl.Op(op)).With(attrs...)
	n.tasks.Go(op, func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		if err := n.pub.Publish(ctx, routingKey, msg); err != nil {
			log.Error("failed to publish notification", sl.Err(err))
			return
		}
		log.Debug("notification published")
	})
}

// Wait ждёт завершения фоновых публикаций.
func (n *Notifier) Wait(ctx context.Context) error {
	return n.tasks.Wait(ctx)
}
