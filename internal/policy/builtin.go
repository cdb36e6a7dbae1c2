package policy

import "github.com/opensource-finance/kestrel/internal/domain"

// BuiltinRules returns the default advisory policies loaded when a
// tenant has none configured in the database.
func BuiltinRules() []*domain.PolicyRule {
	return []*domain.PolicyRule{
		{
			ID:          "builtin-high-volatility",
			Name:        "high-spend-volatility",
			Description: "Spending pattern is highly irregular",
			Version:     "1.0",
			Expression:  "approved && spend_volatility > 0.8",
			Severity:    domain.SeverityReview,
			Enabled:     true,
		},
		{
			ID:          "builtin-large-single-purchase",
			Name:        "large-single-purchase",
			Description: "A single purchase dwarfs the monthly average",
			Version:     "1.0",
			Expression:  "avg_monthly_spend > 0.0 && max_single_purchase > avg_monthly_spend * 5.0",
			Severity:    domain.SeverityInfo,
			Enabled:     true,
		},
		{
			ID:          "builtin-debt-heavy-approval",
			Name:        "debt-heavy-approval",
			Description: "Approved despite substantial overdue debt",
			Version:     "1.0",
			Expression:  "approved && overdue_debt > 5000.0",
			Severity:    domain.SeverityReview,
			Enabled:     true,
		},
	}
}
