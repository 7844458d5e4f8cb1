package repository

import (
	"context"
	"database/sql"

	"github.com/magabrotheeeer/employer-billing/internal/models"
)

const subscriptionColumns = `id, employer_id, plan_tier, status, auto_renewal, provider_subscription_ref,
	current_period_start, current_period_end, year_anchor_date, cancel_grace_deadline,
	renewal_count, last_payment_amount, last_payment_ref, last_payment_attempt_failed,
	applied_promotion_code, created_at, updated_at`

func scanSubscription(row interface{ Scan(...any) error }) (*models.Subscription, error) {
	var (
		s          models.Subscription
		lastRef    sql.NullString
		promoCode  sql.NullString
		planTier   string
		statusText string
	)
	err := row.Scan(&s.ID, &s.EmployerID, &planTier, &statusText, &s.AutoRenewal, &s.ProviderSubscriptionRef,
		&s.CurrentPeriodStart, &s.CurrentPeriodEnd, &s.YearAnchorDate, &s.CancelGraceDeadline,
		&s.RenewalCount, &s.LastPaymentAmount, &lastRef, &s.LastPaymentAttemptFailed,
		&promoCode, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.PlanTier = models.PlanTier(planTier)
	s.Status = models.SubscriptionStatus(statusText)
	s.LastPaymentRef = stringPtr(lastRef)
	s.AppliedPromotionCode = stringPtr(promoCode)
	return &s, nil
}

func (r *queries) getSubscriptionWhere(ctx context.Context, op, where string, arg any) (*models.Subscription, error) {
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	row := r.q.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE `+where, arg)
	s, err := scanSubscription(row)
	if err != nil {
		return nil, mapError(op, err)
	}
	return s, nil
}

// GetSubscription возвращает подписку по ID.
func (r *queries) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	return r.getSubscriptionWhere(ctx, "storage.GetSubscription", `id = $1`, id)
}

// GetSubscriptionByProviderRef возвращает подписку по ссылке провайдера.
func (r *queries) GetSubscriptionByProviderRef(ctx context.Context, ref string) (*models.Subscription, error) {
	return r.getSubscriptionWhere(ctx, "storage.GetSubscriptionByProviderRef", `provider_subscription_ref = $1`, ref)
}

// GetActiveSubscriptionByEmployer возвращает активную подписку работодателя.
func (r *queries) GetActiveSubscriptionByEmployer(ctx context.Context, employerID string) (*models.Subscription, error) {
	return r.getSubscriptionWhere(ctx, "storage.GetActiveSubscriptionByEmployer",
		`employer_id = $1 AND status = 'active'`, employerID)
}

// GetLatestSubscriptionByEmployer возвращает последнюю созданную подписку работодателя.
func (r *queries) GetLatestSubscriptionByEmployer(ctx context.Context, employerID string) (*models.Subscription, error) {
	return r.getSubscriptionWhere(ctx, "storage.GetLatestSubscriptionByEmployer",
		`employer_id = $1 ORDER BY (status = 'active') DESC, created_at DESC LIMIT 1`, employerID)
}

// CreateSubscription вставляет новую подписку. Вторая активная подписка
// работодателя отклоняется частичным уникальным индексом.
func (r *queries) CreateSubscription(ctx context.Context, s *models.Subscription) error {
	const op = "storage.CreateSubscription"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}

	query := `INSERT INTO subscriptions (id, employer_id, plan_tier, status, auto_renewal,
				provider_subscription_ref, current_period_start, current_period_end, year_anchor_date,
				cancel_grace_deadline, renewal_count, last_payment_amount, last_payment_ref,
				last_payment_attempt_failed, applied_promotion_code)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			  RETURNING created_at, updated_at`
	err := r.q.QueryRowContext(ctx, query,
		s.ID, s.EmployerID, string(s.PlanTier), string(s.Status), s.AutoRenewal,
		s.ProviderSubscriptionRef, s.CurrentPeriodStart, s.CurrentPeriodEnd, s.YearAnchorDate,
		s.CancelGraceDeadline, s.RenewalCount, s.LastPaymentAmount, nullString(s.LastPaymentRef),
		s.LastPaymentAttemptFailed, nullString(s.AppliedPromotionCode),
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return mapError(op, err)
	}
	return nil
}

// UpdateSubscription сохраняет изменяемые поля подписки.
func (r *queries) UpdateSubscription(ctx context.Context, s *models.Subscription) error {
	const op = "storage.UpdateSubscription"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}

	query := `UPDATE subscriptions SET
				plan_tier = $2, status = $3, auto_renewal = $4,
				current_period_start = $5, current_period_end = $6,
				renewal_count = $7, last_payment_amount = $8, last_payment_ref = $9,
				last_payment_attempt_failed = $10, applied_promotion_code = $11,
				updated_at = NOW()
			  WHERE id = $1
			  RETURNING updated_at`
	err := r.q.QueryRowContext(ctx, query,
		s.ID, string(s.PlanTier), string(s.Status), s.AutoRenewal,
		s.CurrentPeriodStart, s.CurrentPeriodEnd,
		s.RenewalCount, s.LastPaymentAmount, nullString(s.LastPaymentRef),
		s.LastPaymentAttemptFailed, nullString(s.AppliedPromotionCode),
	).Scan(&s.UpdatedAt)
	if err != nil {
		return mapError(op, err)
	}
	return nil
}
