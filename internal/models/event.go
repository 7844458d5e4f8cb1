package models

import "encoding/json"

// Виды событий провайдера, которые обрабатывает биллинг.
// Активация и продление определяются только по invoice.payment_succeeded.
const (
	EventChargeSucceeded     = "invoice.payment_succeeded"
	EventChargeFailed        = "invoice.payment_failed"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// ProviderEvent событие провайдера после проверки подписи.
type ProviderEvent struct {
	ID     string          `json:"id"`
	Type   string          `json:"type"`
	Object json.RawMessage `json:"object"`
}

// FailedEvent сообщение об ошибке сверки, публикуемое в очередь
// для повторной обработки оператором или воркером.
type FailedEvent struct {
	Event    ProviderEvent `json:"event"`
	Error    string        `json:"error"`
	FailedAt int64         `json:"failed_at"`
}

// LifecycleNotification уведомление о переходе подписки,
// публикуемое после фиксации транзакции.
type LifecycleNotification struct {
	Kind           string   `json:"kind"`
	EmployerID     string   `json:"employer_id"`
	SubscriptionID string   `json:"subscription_id"`
	PlanTier       PlanTier `json:"plan_tier,omitempty"`
	Status         string   `json:"status"`
	OccurredAt     int64    `json:"occurred_at"`
}

// Виды уведомлений о жизненном цикле подписки.
const (
	NotifyActivated     = "subscription.activated"
	NotifyRenewed       = "subscription.renewed"
	NotifyPaymentFailed = "subscription.payment_failed"
	NotifyCancelled     = "subscription.cancelled"
	NotifyCancelPlanned = "subscription.cancel_scheduled"
	NotifyResumed       = "subscription.resumed"
)
