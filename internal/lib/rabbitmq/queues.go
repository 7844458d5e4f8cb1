package rabbitmq

// Exchange обменник, через который биллинг публикует сообщения.
const Exchange = "billing"

const prefetch = 10

// Ключи маршрутизации и очереди биллинга.
const (
	RoutingKeyLifecycle       = "subscription.lifecycle"
	RoutingKeyReconcileFailed = "reconcile.failed"

	QueueNotifications   = "billing.notifications"
	QueueReconcileFailed = "billing.reconcile.failed"
)

// QueueConfig очередь и ключ, по которому она привязана к обменнику.
type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// BillingQueues очереди, которые объявляет сервис биллинга.
func BillingQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: QueueNotifications, RoutingKey: RoutingKeyLifecycle},
		{QueueName: QueueReconcileFailed, RoutingKey: RoutingKeyReconcileFailed},
	}
}
