package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/magabrotheeeer/employer-billing/internal/models"
)

// InsertPayment записывает платёж. Повторная запись с тем же
// provider_charge_ref ничего не меняет, тогда возвращается false.
func (r *queries) InsertPayment(ctx context.Context, p *models.Payment) (bool, error) {
	const op = "storage.InsertPayment"
	if err := checkCtx(ctx, op); err != nil {
		return false, err
	}

	query := `INSERT INTO payments (id, employer_id, subscription_id, provider_charge_ref,
				gross_amount, discount_amount, net_amount, period_start, period_end,
				status, is_renewal, promotion_code, provider_receipt_url)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			  ON CONFLICT (provider_charge_ref) DO NOTHING
			  RETURNING created_at`
	err := r.q.QueryRowContext(ctx, query,
		p.ID, p.EmployerID, nullString(p.SubscriptionID), p.ProviderChargeRef,
		p.GrossAmount, p.DiscountAmount, p.NetAmount, p.PeriodStart, p.PeriodEnd,
		string(p.Status), p.IsRenewal, nullString(p.PromotionCode), p.ProviderReceiptURL,
	).Scan(&p.CreatedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, mapError(op, err)
	}
	return true, nil
}

// AttachPayment связывает платёж с подпиской.
func (r *queries) AttachPayment(ctx context.Context, paymentID, subscriptionID string) error {
	const op = "storage.AttachPayment"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}

	if _, err := r.q.ExecContext(ctx,
		`UPDATE payments SET subscription_id = $2 WHERE id = $1`, paymentID, subscriptionID); err != nil {
		return mapError(op, err)
	}
	return nil
}

// ListPayments возвращает платежи работодателя, новые первыми.
func (r *queries) ListPayments(ctx context.Context, employerID string, limit, offset int) ([]*models.Payment, error) {
	const op = "storage.ListPayments"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	query := `SELECT id, employer_id, subscription_id, provider_charge_ref, gross_amount,
				discount_amount, net_amount, period_start, period_end, status, is_renewal,
				promotion_code, COALESCE(provider_receipt_url, ''), created_at
			  FROM payments
			  WHERE employer_id = $1
			  ORDER BY created_at DESC
			  LIMIT $2 OFFSET $3`
	rows, err := r.q.QueryContext(ctx, query, employerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var result []*models.Payment
	for rows.Next() {
		var (
			p         models.Payment
			subID     sql.NullString
			promoCode sql.NullString
			status    string
		)
		if err := rows.Scan(&p.ID, &p.EmployerID, &subID, &p.ProviderChargeRef, &p.GrossAmount,
			&p.DiscountAmount, &p.NetAmount, &p.PeriodStart, &p.PeriodEnd, &status, &p.IsRenewal,
			&promoCode, &p.ProviderReceiptURL, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		p.SubscriptionID = stringPtr(subID)
		p.PromotionCode = stringPtr(promoCode)
		p.Status = models.PaymentStatus(status)
		result = append(result, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
