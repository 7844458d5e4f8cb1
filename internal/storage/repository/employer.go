package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/magabrotheeeer/employer-billing/internal/lib/apperr"
	"github.com/magabrotheeeer/employer-billing/internal/models"
)

const employerColumns = `id, email, provider_customer_ref, current_subscription_id`

func scanEmployer(row interface{ Scan(...any) error }) (*models.Employer, error) {
	var (
		e           models.Employer
		customerRef sql.NullString
		currentSub  sql.NullString
	)
	if err := row.Scan(&e.ID, &e.Email, &customerRef, &currentSub); err != nil {
		return nil, err
	}
	e.ProviderCustomerRef = stringPtr(customerRef)
	e.CurrentSubscriptionID = stringPtr(currentSub)
	return &e, nil
}

// GetEmployer возвращает работодателя по ID.
func (r *queries) GetEmployer(ctx context.Context, id string) (*models.Employer, error) {
	const op = "storage.GetEmployer"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	row := r.q.QueryRowContext(ctx, `SELECT `+employerColumns+` FROM employers WHERE id = $1`, id)
	e, err := scanEmployer(row)
	if err != nil {
		return nil, mapError(op, err)
	}
	return e, nil
}

// GetEmployerByCustomerRef возвращает работодателя по ссылке на покупателя у провайдера.
func (r *queries) GetEmployerByCustomerRef(ctx context.Context, customerRef string) (*models.Employer, error) {
	const op = "storage.GetEmployerByCustomerRef"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	row := r.q.QueryRowContext(ctx,
		`SELECT `+employerColumns+` FROM employers WHERE provider_customer_ref = $1`, customerRef)
	e, err := scanEmployer(row)
	if err != nil {
		return nil, mapError(op, err)
	}
	return e, nil
}

// SetProviderCustomerRef сохраняет ссылку на покупателя, только если она ещё не задана.
// Возвращает ссылку, которая в итоге хранится у работодателя: при гонке это
// ссылка, записанная первым запросом.
func (r *queries) SetProviderCustomerRef(ctx context.Context, employerID, customerRef string) (string, error) {
	const op = "storage.SetProviderCustomerRef"
	if err := checkCtx(ctx, op); err != nil {
		return "", err
	}

	res, err := r.q.ExecContext(ctx,
		`UPDATE employers SET provider_customer_ref = $2
		 WHERE id = $1 AND provider_customer_ref IS NULL`, employerID, customerRef)
	if err != nil {
		return "", mapError(op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if affected == 1 {
		return customerRef, nil
	}

	var stored sql.NullString
	err = r.q.QueryRowContext(ctx,
		`SELECT provider_customer_ref FROM employers WHERE id = $1`, employerID).Scan(&stored)
	if err != nil {
		return "", mapError(op, err)
	}
	if !stored.Valid {
		return "", fmt.Errorf("%s: %w: customer ref was not stored", op, apperr.ErrConflict)
	}
	return stored.String, nil
}

// SetCurrentSubscription записывает обратную ссылку работодателя на подписку.
func (r *queries) SetCurrentSubscription(ctx context.Context, employerID, subscriptionID string) error {
	const op = "storage.SetCurrentSubscription"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}

	res, err := r.q.ExecContext(ctx,
		`UPDATE employers SET current_subscription_id = $2 WHERE id = $1`, employerID, subscriptionID)
	if err != nil {
		return mapError(op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", op, apperr.ErrNotFound)
	}
	return nil
}
