// Package offer implements the BNPL lending-offer decision engine.
// It re-derives the credit score, sizes a loan ceiling through
// multiplicative adjustments, and renders an Approved/Declined decision
// with a full metrics trace.
package offer

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// Params holds every tunable constant of the offer model.
type Params struct {
	// Loan ceiling: BaseLoanFloor + normalized score x BaseLoanSpan,
	// scaled by the two multipliers below.
	BaseLoanFloor float64
	BaseLoanSpan  float64

	// Spending multiplier: avg monthly spend / SpendTarget, clamped.
	SpendTarget  float64
	SpendMultMin float64
	SpendMultMax float64

	// Balance multiplier tiers.
	BalanceTierHigh       float64
	BalanceTierHighFactor float64
	BalanceTierMid        float64
	BalanceTierMidFactor  float64
	BalanceTierLow        float64
	BalanceTierLowFactor  float64

	// Fraction of overdue debt subtracted from the ceiling.
	OverdueDebtFactor float64

	// Repayment term tiers, highest score threshold first.
	TermTiers []TermTier
	// Terms shrink by TermVolatilityCut when volatility exceeds
	// TermVolatilityMax, never below TermFloor.
	TermVolatilityMax float64
	TermVolatilityCut int
	TermFloor         int

	// Interest rate: RateMax - normalized score x RateSlope (percent).
	RateMax   float64
	RateSlope float64

	// Approval gate. MinScore doubles as the normalization floor:
	// norm = (score - MinScore) / ScoreSpan, clamped to [0, 1].
	MinScore  int
	ScoreSpan float64
	MinAmount float64
}

// TermTier maps a minimum credit score to a repayment term.
type TermTier struct {
	MinScore   int
	TermMonths int
}

// DefaultParams returns the canonical offer model constants.
func DefaultParams() Params {
	return Params{
		BaseLoanFloor: 2000,
		BaseLoanSpan:  6000,

		SpendTarget:  1200,
		SpendMultMin: 0.9,
		SpendMultMax: 1.2,

		BalanceTierHigh:       1000,
		BalanceTierHighFactor: 1.15,
		BalanceTierMid:        500,
		BalanceTierMidFactor:  1.08,
		BalanceTierLow:        300,
		BalanceTierLowFactor:  1.02,

		OverdueDebtFactor: 0.4,

		TermTiers: []TermTier{
			{MinScore: 750, TermMonths: 12},
			{MinScore: 700, TermMonths: 10},
			{MinScore: 650, TermMonths: 9},
			{MinScore: 600, TermMonths: 7},
			{MinScore: 550, TermMonths: 6},
		},
		TermVolatilityMax: 0.8,
		TermVolatilityCut: 2,
		TermFloor:         4,

		RateMax:   18,
		RateSlope: 13,

		MinScore:  500,
		ScoreSpan: 300,
		MinAmount: 1500,
	}
}

// EngineVersion identifies the decision model in persisted metadata.
const EngineVersion = "kestrel-1.0"

// Engine turns a portfolio into a lending decision. It holds only
// immutable configuration, so one Engine serves concurrent requests.
type Engine struct {
	calc   *scoring.Calculator
	params Params
}

// NewEngine creates a decision engine over the given score calculator.
func NewEngine(calc *scoring.Calculator, params Params) *Engine {
	return &Engine{calc: calc, params: params}
}

// Input contains everything needed for one decision.
type Input struct {
	TenantID  string
	UserID    string
	TraceID   string
	Portfolio *domain.Portfolio

	// Source records where the portfolio came from ("request" or
	// "database") for the analysis block.
	Source string

	StartTime time.Time
}

// Decide evaluates a portfolio and produces a complete decision.
// The computation is synchronous and stateless: identical portfolios
// always produce identical decisions (timestamps and ids aside).
func (e *Engine) Decide(ctx context.Context, input *Input) *domain.Decision {
	start := time.Now()
	p := e.params

	portfolio := input.Portfolio
	if portfolio == nil {
		portfolio = &domain.Portfolio{}
	}

	summary := scoring.Summarize(portfolio, e.calc.Params())

	// The scorer deliberately gets no loans here: loan payments reach
	// the decision through the overdue-debt subtraction below, not
	// through the score's debt-burden term.
	score := e.calc.Score(portfolio.Transactions, summary.CurrentBalance, portfolio.Bills, portfolio.Deposits, nil)

	norm := clamp(float64(score-p.MinScore)/p.ScoreSpan, 0, 1)

	baseLoan := p.BaseLoanFloor + norm*p.BaseLoanSpan
	spendMult := clamp(summary.AvgMonthlySpend/p.SpendTarget, p.SpendMultMin, p.SpendMultMax)
	balanceMult := e.balanceMultiplier(summary.CurrentBalance)

	maxAmount := baseLoan*spendMult*balanceMult - summary.OverdueDebt*p.OverdueDebtFactor
	if maxAmount < 0 {
		maxAmount = 0
	}
	amount := int(math.Round(maxAmount/100)) * 100

	term := e.termMonths(score, summary.SpendVolatility)
	rate := scoring.Round1(p.RateMax - norm*p.RateSlope)

	metrics := domain.MetricsTrace{
		CreditScore:        score,
		ScoreNormalized:    scoring.Round3(norm),
		BaseLoanAmount:     scoring.Round2(baseLoan),
		SpendingMultiplier: scoring.Round3(spendMult),
		BalanceMultiplier:  scoring.Round3(balanceMult),
		AvgMonthlySpend:    scoring.Round2(summary.AvgMonthlySpend),
		SpendVolatility:    scoring.Round3(summary.SpendVolatility),
		PurchaseFrequency:  scoring.Round3(summary.AvgPurchaseFreq),
		MaxSinglePurchase:  scoring.Round2(summary.MaxSinglePurchase),
		OverdueDebt:        scoring.Round2(summary.OverdueDebt),
		AccountBalance:     scoring.Round2(summary.CurrentBalance),
		DepositCount:       summary.DepositCount,
		BillCount:          summary.BillCount,
		PendingBillCount:   summary.PendingBillCount,
	}

	lendingOffer := domain.LendingOffer{Metrics: metrics}

	switch {
	case score < p.MinScore:
		lendingOffer.Status = domain.OfferDeclined
		lendingOffer.InterestRate = "N/A"
		lendingOffer.Message = domain.MsgDeclinedScore

	case float64(amount) < p.MinAmount:
		lendingOffer.Status = domain.OfferDeclined
		lendingOffer.InterestRate = "N/A"
		lendingOffer.Message = domain.MsgDeclinedAmount

	default:
		lendingOffer.Status = domain.OfferApproved
		lendingOffer.MaxAmount = amount
		lendingOffer.TermMonths = term
		lendingOffer.RecommendedMonthlyPayment = scoring.Round2(float64(amount) / float64(term))
		lendingOffer.InterestRate = fmt.Sprintf("%.1f%%", rate)
		lendingOffer.Message = fmt.Sprintf("Approved for up to $%d over %d months.", amount, term)
	}

	analysis := domain.Analysis{
		AccountBalance:            scoring.Round2(summary.CurrentBalance),
		TotalTransactionsAnalyzed: len(portfolio.Transactions),
		TotalBillsOwed:            scoring.Round2(summary.PendingBillPayments),
		TotalLoansOwed:            scoring.Round2(summary.TotalLoanPayments),
		TotalOverdueDebt:          scoring.Round2(summary.OverdueDebt),
		MonthlyDeposits:           summary.DepositCount,
		TotalDepositAmount:        scoring.Round2(summary.TotalDepositAmount),
		Source:                    input.Source,
		Metrics:                   metrics,
	}

	return &domain.Decision{
		ID:          uuid.New().String(),
		TenantID:    input.TenantID,
		UserID:      input.UserID,
		CreditScore: score,
		Offer:       lendingOffer,
		Analysis:    analysis,
		Timestamp:   time.Now().UTC(),
		Metadata: domain.DecisionMetadata{
			TraceID:       input.TraceID,
			ProcessMs:     time.Since(start).Milliseconds(),
			EngineVersion: EngineVersion,
		},
	}
}

// balanceMultiplier maps balance into its offer multiplier tier.
func (e *Engine) balanceMultiplier(balance float64) float64 {
	p := e.params
	switch {
	case balance > p.BalanceTierHigh:
		return p.BalanceTierHighFactor
	case balance > p.BalanceTierMid:
		return p.BalanceTierMidFactor
	case balance > p.BalanceTierLow:
		return p.BalanceTierLowFactor
	default:
		return 1.0
	}
}

// termMonths assigns the repayment term tier for a score, shortened
// for highly volatile spenders.
func (e *Engine) termMonths(score int, volatility float64) int {
	p := e.params

	term := p.TermFloor
	for _, tier := range p.TermTiers {
		if score >= tier.MinScore {
			term = tier.TermMonths
			break
		}
	}

	if volatility > p.TermVolatilityMax {
		term -= p.TermVolatilityCut
		if term < p.TermFloor {
			term = p.TermFloor
		}
	}

	return term
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
