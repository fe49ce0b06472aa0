/**
 * @description
 * This file defines the subscription models mirrored from the billing provider,
 * together with the plan catalog shown on the pricing page.
 */
package domain

import "time"

// Plan is the local entitlement tier.
type Plan string

const (
	PlanStarter   Plan = "starter"
	PlanPro       Plan = "pro"
	PlanUnlimited Plan = "unlimited"
	PlanPAYG      Plan = "payg"
)

// Valid reports whether p is a known plan.
func (p Plan) Valid() bool {
	switch p {
	case PlanStarter, PlanPro, PlanUnlimited, PlanPAYG:
		return true
	}
	return false
}

// SubscriptionStatus mirrors the provider's subscription status.
type SubscriptionStatus string

const (
	StatusActive     SubscriptionStatus = "active"
	StatusCanceled   SubscriptionStatus = "canceled"
	StatusIncomplete SubscriptionStatus = "incomplete"
	StatusPastDue    SubscriptionStatus = "past_due"
	StatusUnpaid     SubscriptionStatus = "unpaid"
)

// NormalizeSubscriptionStatus maps provider statuses onto the local set.
// Statuses the local schema does not track collapse onto their nearest
// equivalent.
func NormalizeSubscriptionStatus(raw string) SubscriptionStatus {
	switch raw {
	case "active", "trialing":
		return StatusActive
	case "canceled", "incomplete_expired":
		return StatusCanceled
	case "past_due":
		return StatusPastDue
	case "unpaid", "paused":
		return StatusUnpaid
	default:
		return StatusIncomplete
	}
}

// Subscription is the account's current plan and billing-cycle state.
type Subscription struct {
	ID                      string             `json:"id"`
	AccountID               string             `json:"user_id"`
	Plan                    Plan               `json:"plan_type"`
	ExternalCustomerRef     string             `json:"stripe_customer_id"`
	ExternalSubscriptionRef *string            `json:"stripe_subscription_id,omitempty"`
	ExternalPriceRef        *string            `json:"stripe_price_id,omitempty"`
	Status                  SubscriptionStatus `json:"status"`
	PeriodStart             *time.Time         `json:"current_period_start,omitempty"`
	PeriodEnd               *time.Time         `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd       bool               `json:"cancel_at_period_end"`
	CreatedAt               time.Time          `json:"created_at"`
	UpdatedAt               time.Time          `json:"updated_at"`
}

// PlanLimits describes what a plan entitles the account to.
type PlanLimits struct {
	VideosPerMonth int    `json:"videos_per_month"` // -1 means unlimited
	Quality        string `json:"quality"`
	Watermark      bool   `json:"watermark"`
}

// PlanInfo is a pricing-page entry.
type PlanInfo struct {
	ID          Plan       `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	PriceUSD    int        `json:"price"`
	Features    []string   `json:"features"`
	Limits      PlanLimits `json:"limits"`
}

// Catalog is the static plan catalog.
var Catalog = []PlanInfo{
	{
		ID:          PlanStarter,
		Name:        "Starter",
		Description: "Perfect for trying out AI video generation",
		PriceUSD:    0,
		Features:    []string{"1 free video (watermarked)", "Basic video quality", "Standard rendering", "Community support"},
		Limits:      PlanLimits{VideosPerMonth: 1, Quality: "720p", Watermark: true},
	},
	{
		ID:          PlanPro,
		Name:        "Pro",
		Description: "For creators who need regular video content",
		PriceUSD:    49,
		Features:    []string{"20 videos per month", "1080p HD quality", "No watermark", "Priority rendering", "Email support", "Video history"},
		Limits:      PlanLimits{VideosPerMonth: 20, Quality: "1080p", Watermark: false},
	},
	{
		ID:          PlanUnlimited,
		Name:        "Unlimited",
		Description: "For agencies and power users",
		PriceUSD:    149,
		Features:    []string{"Unlimited videos", "4K Ultra HD quality", "No watermark", "Fastest rendering", "Priority support", "API access", "Custom branding"},
		Limits:      PlanLimits{VideosPerMonth: -1, Quality: "4K", Watermark: false},
	},
	{
		ID:          PlanPAYG,
		Name:        "Pay As You Go",
		Description: "Buy credits as needed",
		PriceUSD:    5,
		Features:    []string{"$5 per video credit", "1080p HD quality", "No watermark", "Credits never expire", "Email support"},
		Limits:      PlanLimits{VideosPerMonth: -1, Quality: "1080p", Watermark: false},
	},
}
