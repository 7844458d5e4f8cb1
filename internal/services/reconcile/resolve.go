package reconcile

import (
	"context"

	"github.com/magabrotheeeer/employer-billing/internal/models"
	"github.com/magabrotheeeer/employer-billing/internal/paymentprovider"
)

// tierSource данные, по которым определяется тариф новой подписки.
// Подписка провайдера запрашивается лениво, только если метаданных счёта не хватило.
type tierSource struct {
	invoice  *paymentprovider.Invoice
	provider Provider
	ref      string

	info    *paymentprovider.SubscriptionInfo
	infoErr error
	fetched bool
}

func (s *tierSource) subscription(ctx context.Context) (*paymentprovider.SubscriptionInfo, error) {
	if !s.fetched {
		s.info, s.infoErr = s.provider.GetSubscription(ctx, s.ref)
		s.fetched = true
	}
	return s.info, s.infoErr
}

type tierStrategy func(ctx context.Context, s *tierSource) (models.PlanTier, error)

// tierStrategies порядок: метаданные счёта, метаданные подписки,
// псевдоним цены, идентификатор цены из настроек.
var tierStrategies = []tierStrategy{
	func(_ context.Context, s *tierSource) (models.PlanTier, error) {
		tier, _ := models.ParsePlanTier(s.invoice.Metadata[paymentprovider.MetaPlanTier])
		return tier, nil
	},
	func(ctx context.Context, s *tierSource) (models.PlanTier, error) {
		info, err := s.subscription(ctx)
		if err != nil {
			return "", err
		}
		tier, _ := models.ParsePlanTier(info.Metadata[paymentprovider.MetaPlanTier])
		return tier, nil
	},
	func(ctx context.Context, s *tierSource) (models.PlanTier, error) {
		info, err := s.subscription(ctx)
		if err != nil {
			return "", err
		}
		tier, _ := models.ParsePlanTier(info.PriceNickname)
		return tier, nil
	},
	func(ctx context.Context, s *tierSource) (models.PlanTier, error) {
		info, err := s.subscription(ctx)
		if err != nil {
			return "", err
		}
		tier, _ := s.provider.PlanTierForPrice(info.PriceID)
		return tier, nil
	},
}

func resolvePlanTier(ctx context.Context, src *tierSource) (models.PlanTier, error) {
	for _, strategy := range tierStrategies {
		tier, err := strategy(ctx, src)
		if err != nil {
			return "", err
		}
		if tier != "" {
			return tier, nil
		}
	}
	return "", nil
}
