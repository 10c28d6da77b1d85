package types //nolint:revive // package name is intentional

// Tier identifies the subscription tier of a principal.
// Rate-limit ceilings and default quotas are keyed by tier.
type Tier string

// Subscription tiers recognized by the gateway.
const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
	TierAPIKey     Tier = "api_key"
)

// Valid reports whether the tier is one of the known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierPro, TierEnterprise, TierAPIKey:
		return true
	}
	return false
}

// Principal is the authenticated caller context supplied by the outer auth
// layer on every call. The gateway never creates principals; it only reads
// the identity/tier and moves the token balance through the quota ledger.
type Principal struct {
	ID              string `json:"id"`
	Tier            Tier   `json:"subscription_tier"`
	TokensRemaining int64  `json:"tokens_remaining"`
	TokensUsed      int64  `json:"tokens_used"`
	MonthlyLimit    int64  `json:"monthly_limit"`
}
