package domain

// PolicyRule is an operator-defined CEL expression evaluated over the
// metrics trace of every decision. Rules are advisory: a triggered rule
// attaches a flag to the decision, it never changes the offer itself.
type PolicyRule struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression over metric variables; must return bool.
	Expression string `json:"expression"`

	// Severity of the flag raised when the expression is true.
	Severity string `json:"severity"`

	Enabled bool `json:"enabled"`
}

// Policy flag severities.
const (
	SeverityInfo   = "info"
	SeverityReview = "review"
	SeverityBlock  = "block"
)

// PolicyFlag is the result of a triggered policy rule.
type PolicyFlag struct {
	RuleID    string `json:"ruleId"`
	Name      string `json:"name"`
	Severity  string `json:"severity"`
	Reason    string `json:"reason"`
	ProcessMs int64  `json:"processMs"`
}
