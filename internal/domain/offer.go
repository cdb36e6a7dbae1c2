package domain

import (
	"time"
)

// Offer status constants. An offer is computed fresh per request and
// never transitions after construction.
const (
	OfferApproved = "Approved"
	OfferDeclined = "Declined"
)

// Decline messages, split by cause so callers can tell a score floor
// rejection apart from a debt-driven amount rejection.
const (
	MsgDeclinedScore  = "Credit score is below the minimum required for a lending offer."
	MsgDeclinedAmount = "We are unable to approve a lending offer at this time due to outstanding debt."
)

// LendingOffer is the BNPL offer derived from a credit score.
// MaxAmount is always a multiple of 100. TermMonths is 0 exactly when
// the offer is declined; approved terms start from the score tiers
// {4,6,7,9,10,12} and highly volatile spenders lose two months
// (never below 4), so 5 and 8 are also reachable.
type LendingOffer struct {
	Status                    string       `json:"status"`
	MaxAmount                 int          `json:"maxAmount"`
	InterestRate              string       `json:"interestRate"`
	TermMonths                int          `json:"termMonths"`
	RecommendedMonthlyPayment float64      `json:"recommendedMonthlyPayment"`
	Message                   string       `json:"message"`
	Metrics                   MetricsTrace `json:"metrics"`
}

// Analysis summarizes the inputs behind an offer for the caller.
type Analysis struct {
	AccountBalance            float64      `json:"accountBalance"`
	TotalTransactionsAnalyzed int          `json:"totalTransactionsAnalyzed"`
	TotalBillsOwed            float64      `json:"totalBillsOwed"`
	TotalLoansOwed            float64      `json:"totalLoansOwed"`
	TotalOverdueDebt          float64      `json:"totalOverdueDebt"`
	MonthlyDeposits           int          `json:"monthlyDeposits"`
	TotalDepositAmount        float64      `json:"totalDepositAmount"`
	Source                    string       `json:"source"`
	Metrics                   MetricsTrace `json:"metrics"`
}

// Decision is the complete, persisted outcome of one offer evaluation.
type Decision struct {
	ID          string       `json:"id"`
	TenantID    string       `json:"tenantId"`
	UserID      string       `json:"userId"`
	CreditScore int          `json:"creditScore"`
	Offer       LendingOffer `json:"lendingOffer"`
	Analysis    Analysis     `json:"analysis"`
	Flags       []PolicyFlag `json:"flags,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`

	Metadata DecisionMetadata `json:"metadata"`
}

// DecisionMetadata carries processing information for a decision.
type DecisionMetadata struct {
	TraceID       string `json:"traceId"`
	ProcessMs     int64  `json:"processMs"`
	FlagsChecked  int    `json:"flagsChecked"`
	EngineVersion string `json:"engineVersion"`
}

// OfferResponse is the API response for an offer evaluation.
type OfferResponse struct {
	DecisionID   string       `json:"decisionId"`
	CreditScore  int          `json:"creditScore"`
	LendingOffer LendingOffer `json:"lendingOffer"`
	Analysis     Analysis     `json:"analysis"`
	Flags        []PolicyFlag `json:"flags,omitempty"`

	Metadata DecisionMetadata `json:"metadata"`
}

// ToResponse converts a Decision to its API response shape.
func (d *Decision) ToResponse() *OfferResponse {
	return &OfferResponse{
		DecisionID:   d.ID,
		CreditScore:  d.CreditScore,
		LendingOffer: d.Offer,
		Analysis:     d.Analysis,
		Flags:        d.Flags,
		Metadata:     d.Metadata,
	}
}
