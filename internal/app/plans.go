package app

import (
	"fmt"
	"strings"

	"github.com/ZrianRashid/ai-ugc-generator/internal/domain"
)

// PriceTable holds the configured Stripe price ids per paid plan.
type PriceTable struct {
	Pro       string
	Unlimited string
	PAYG      string
}

// PlanResolver maps provider price references onto local plans.
type PlanResolver struct {
	prices        PriceTable
	byPrice       map[string]domain.Plan
	rejectUnknown bool
}

// NewPlanResolver builds the fixed price-to-plan table. With rejectUnknown
// false an unrecognised subscription price resolves to pro.
func NewPlanResolver(prices PriceTable, rejectUnknown bool) *PlanResolver {
	byPrice := make(map[string]domain.Plan)
	for price, plan := range map[string]domain.Plan{
		prices.Pro:       domain.PlanPro,
		prices.Unlimited: domain.PlanUnlimited,
		prices.PAYG:      domain.PlanPAYG,
	} {
		if price = strings.TrimSpace(price); price != "" {
			byPrice[price] = plan
		}
	}
	return &PlanResolver{prices: prices, byPrice: byPrice, rejectUnknown: rejectUnknown}
}

// ResolvePlan returns the plan a subscription price grants.
func (r *PlanResolver) ResolvePlan(priceRef string) (domain.Plan, error) {
	if plan, ok := r.byPrice[strings.TrimSpace(priceRef)]; ok {
		return plan, nil
	}
	if r.rejectUnknown {
		return "", fmt.Errorf("%w: unknown price reference %q", domain.ErrValidation, priceRef)
	}
	return domain.PlanPro, nil
}

// IsPAYG reports whether priceRef is the configured pay-as-you-go price.
func (r *PlanResolver) IsPAYG(priceRef string) bool {
	return r.prices.PAYG != "" && strings.TrimSpace(priceRef) == r.prices.PAYG
}

// PriceFor returns the configured price id for a purchasable plan.
func (r *PlanResolver) PriceFor(plan domain.Plan) (string, bool) {
	var price string
	switch plan {
	case domain.PlanPro:
		price = r.prices.Pro
	case domain.PlanUnlimited:
		price = r.prices.Unlimited
	case domain.PlanPAYG:
		price = r.prices.PAYG
	}
	return price, price != ""
}

// Known reports whether priceRef is any configured price.
func (r *PlanResolver) Known(priceRef string) bool {
	_, ok := r.byPrice[strings.TrimSpace(priceRef)]
	return ok
}
