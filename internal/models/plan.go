package models

// PlanTier тариф подписки.
type PlanTier string

const (
	Tier1 PlanTier = "Tier1"
	Tier2 PlanTier = "Tier2"
	Tier3 PlanTier = "Tier3"
)

// ParsePlanTier проверяет, что строка является известным тарифом.
func ParsePlanTier(s string) (PlanTier, bool) {
	switch PlanTier(s) {
	case Tier1, Tier2, Tier3:
		return PlanTier(s), true
	default:
		return "", false
	}
}
