package models

// Employer проекция учётной записи работодателя. Запись принадлежит
// сервису пользователей, биллинг читает и пишет только два поля:
// ProviderCustomerRef и CurrentSubscriptionID.
type Employer struct {
	ID                    string  `json:"id"`
	Email                 string  `json:"email"`
	ProviderCustomerRef   *string `json:"provider_customer_ref,omitempty"`
	CurrentSubscriptionID *string `json:"current_subscription_id,omitempty"`
}
