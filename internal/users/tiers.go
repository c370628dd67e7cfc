package users

// Tier names a subscription plan.
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// Unlimited marks a numeric limit with no cap.
const Unlimited = -1

// TierLimits enumerates what a plan entitles an account to. Numeric
// fields use Unlimited for uncapped plans.
type TierLimits struct {
	MaxPortfolios      int  `json:"max_portfolios"`
	MaxAssetsPerFolio  int  `json:"max_assets_per_portfolio"`
	CloudStorage       bool `json:"cloud_storage"`
	PriceAlerts        int  `json:"price_alerts"`
	HistoryRetentionD  int  `json:"history_retention_days"`
	APIRequestsPerHour int  `json:"api_requests_per_hour"`
}

var tierLimits = map[Tier]TierLimits{
	TierFree: {
		MaxPortfolios:      1,
		MaxAssetsPerFolio:  20,
		CloudStorage:       false,
		PriceAlerts:        3,
		HistoryRetentionD:  30,
		APIRequestsPerHour: 100,
	},
	TierPremium: {
		MaxPortfolios:      Unlimited,
		MaxAssetsPerFolio:  Unlimited,
		CloudStorage:       true,
		PriceAlerts:        Unlimited,
		HistoryRetentionD:  Unlimited,
		APIRequestsPerHour: 1000,
	},
}

// LimitsFor reports the entitlements of a tier. Unknown tiers fall back
// to the free plan so a bad row never grants premium access.
func LimitsFor(tier Tier) TierLimits {
	limits, known := tierLimits[tier]
	if !known {
		return tierLimits[TierFree]
	}
	return limits
}

// KnownTier reports whether the tier names a real plan.
func KnownTier(tier Tier) bool {
	_, known := tierLimits[tier]
	return known
}

// AllTiers lists the plans in ascending order of entitlement.
func AllTiers() []Tier {
	return []Tier{TierFree, TierPremium}
}
