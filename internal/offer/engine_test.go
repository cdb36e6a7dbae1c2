package offer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

func newTestEngine() *Engine {
	return NewEngine(scoring.NewCalculator(scoring.DefaultParams()), DefaultParams())
}

// steadyPortfolio is a three-month, $1000/month spender with $2400 of
// income across three deposits. It scores 769 with the default model.
func steadyPortfolio() *domain.Portfolio {
	var txns []domain.Transaction
	for _, month := range []string{"2024-01", "2024-02", "2024-03"} {
		for day := 1; day <= 10; day++ {
			ts, _ := time.Parse(time.RFC3339, fmt.Sprintf("%s-%02dT10:00:00Z", month, day))
			txns = append(txns, domain.Transaction{Amount: 100, Datetime: ts})
		}
	}
	return &domain.Portfolio{
		Transactions: txns,
		Deposits:     []domain.Deposit{{Amount: 800}, {Amount: 800}, {Amount: 800}},
	}
}

func decide(t *testing.T, e *Engine, p *domain.Portfolio) *domain.Decision {
	t.Helper()
	d := e.Decide(context.Background(), &Input{
		TenantID:  "tenant-1",
		UserID:    "user-1",
		TraceID:   "trace-1",
		Portfolio: p,
		Source:    "request",
	})
	if d == nil {
		t.Fatal("nil decision")
	}
	return d
}

func TestDecideApproved(t *testing.T) {
	d := decide(t, newTestEngine(), steadyPortfolio())

	if d.CreditScore != 769 {
		t.Fatalf("credit score = %d, want 769", d.CreditScore)
	}
	o := d.Offer
	if o.Status != domain.OfferApproved {
		t.Fatalf("status = %q, want approved", o.Status)
	}
	if o.MaxAmount != 7600 {
		t.Errorf("max amount = %d, want 7600", o.MaxAmount)
	}
	if o.TermMonths != 12 {
		t.Errorf("term = %d, want 12", o.TermMonths)
	}
	if o.InterestRate != "6.3%" {
		t.Errorf("rate = %q, want 6.3%%", o.InterestRate)
	}
	if o.RecommendedMonthlyPayment != 633.33 {
		t.Errorf("monthly payment = %f, want 633.33", o.RecommendedMonthlyPayment)
	}
	if o.MaxAmount%100 != 0 {
		t.Errorf("max amount %d not a multiple of 100", o.MaxAmount)
	}
}

func TestDecideMetricsTrace(t *testing.T) {
	d := decide(t, newTestEngine(), steadyPortfolio())

	m := d.Offer.Metrics
	if m.CreditScore != 769 {
		t.Errorf("metrics score = %d, want 769", m.CreditScore)
	}
	if m.ScoreNormalized != 0.897 {
		t.Errorf("normalized = %f, want 0.897", m.ScoreNormalized)
	}
	if m.BaseLoanAmount != 7380 {
		t.Errorf("base loan = %f, want 7380", m.BaseLoanAmount)
	}
	if m.SpendingMultiplier != 0.9 {
		t.Errorf("spending multiplier = %f, want 0.9 (clamped floor)", m.SpendingMultiplier)
	}
	if m.BalanceMultiplier != 1.15 {
		t.Errorf("balance multiplier = %f, want 1.15", m.BalanceMultiplier)
	}
	if m.AccountBalance != 6000 {
		t.Errorf("account balance = %f, want 6000", m.AccountBalance)
	}
	if m.AvgMonthlySpend != 1000 {
		t.Errorf("avg spend = %f, want 1000", m.AvgMonthlySpend)
	}
	if m.DepositCount != 3 {
		t.Errorf("deposit count = %d, want 3", m.DepositCount)
	}
	// The analysis block carries the same trace.
	if d.Analysis.Metrics != m {
		t.Error("analysis metrics differ from offer metrics")
	}
}

func TestDecideDeclinedLowScore(t *testing.T) {
	d := decide(t, newTestEngine(), &domain.Portfolio{})

	if d.CreditScore != 300 {
		t.Fatalf("credit score = %d, want 300", d.CreditScore)
	}
	o := d.Offer
	if o.Status != domain.OfferDeclined {
		t.Fatalf("status = %q, want declined", o.Status)
	}
	if o.MaxAmount != 0 || o.TermMonths != 0 || o.RecommendedMonthlyPayment != 0 {
		t.Errorf("declined offer carries amounts: %+v", o)
	}
	if o.InterestRate != "N/A" {
		t.Errorf("rate = %q, want N/A", o.InterestRate)
	}
	if o.Message != domain.MsgDeclinedScore {
		t.Errorf("message = %q, want score decline message", o.Message)
	}
	// A declined offer still explains itself.
	if o.Metrics.CreditScore != 300 {
		t.Errorf("metrics score = %d, want 300", o.Metrics.CreditScore)
	}
}

func TestDecideDeclinedByDebt(t *testing.T) {
	p := steadyPortfolio()
	p.Loans = []domain.Loan{{PaymentAmount: 10000}, {PaymentAmount: 10000}}

	d := decide(t, newTestEngine(), p)

	// The loans never reach the scorer, so the score holds steady; only
	// the overdue-debt subtraction feels them.
	if d.CreditScore != 769 {
		t.Fatalf("credit score = %d, want 769 regardless of loans", d.CreditScore)
	}
	o := d.Offer
	if o.Status != domain.OfferDeclined {
		t.Fatalf("status = %q, want declined", o.Status)
	}
	if o.Message != domain.MsgDeclinedAmount {
		t.Errorf("message = %q, want debt decline message", o.Message)
	}
	if o.InterestRate != "N/A" {
		t.Errorf("rate = %q, want N/A", o.InterestRate)
	}
	if o.MaxAmount != 0 {
		t.Errorf("max amount = %d, want 0", o.MaxAmount)
	}
}

func TestDecideOverdueDebtSubtraction(t *testing.T) {
	p := steadyPortfolio()
	p.Loans = []domain.Loan{{PaymentAmount: 10000}}

	d := decide(t, newTestEngine(), p)

	// $10000 of loans shaves 40% off the undebted $7638.30 ceiling:
	// 3638.30, rounded to the nearest hundred.
	if d.Offer.Status != domain.OfferApproved {
		t.Fatalf("status = %q, want approved", d.Offer.Status)
	}
	if d.Offer.MaxAmount != 3600 {
		t.Errorf("max amount = %d, want 3600", d.Offer.MaxAmount)
	}
	if d.Offer.Metrics.OverdueDebt != 10000 {
		t.Errorf("overdue debt = %f, want 10000", d.Offer.Metrics.OverdueDebt)
	}
}

func TestDecideVolatileSpenderShortenedTerm(t *testing.T) {
	// Months of $100 and $1900: volatility 0.9, above the 0.8 cut line.
	t1, _ := time.Parse(time.RFC3339, "2024-01-05T10:00:00Z")
	t2, _ := time.Parse(time.RFC3339, "2024-02-05T10:00:00Z")
	p := &domain.Portfolio{
		Transactions: []domain.Transaction{
			{Amount: 100, Datetime: t1},
			{Amount: 1900, Datetime: t2},
		},
		Deposits: []domain.Deposit{{Amount: 1000}, {Amount: 1000}, {Amount: 1000}},
	}

	d := decide(t, newTestEngine(), p)

	if d.CreditScore != 728 {
		t.Fatalf("credit score = %d, want 728", d.CreditScore)
	}
	// Tier says 10 months; the volatility cut brings it to 8.
	if d.Offer.TermMonths != 8 {
		t.Errorf("term = %d, want 8", d.Offer.TermMonths)
	}
	if d.Offer.Metrics.SpendVolatility != 0.9 {
		t.Errorf("volatility = %f, want 0.9", d.Offer.Metrics.SpendVolatility)
	}
}

func TestDecideAnalysis(t *testing.T) {
	p := steadyPortfolio()
	p.Bills = []domain.Bill{
		{PaymentAmount: 120, Status: domain.BillStatusPending},
		{PaymentAmount: 80, Status: domain.BillStatusPaid},
	}

	d := decide(t, newTestEngine(), p)

	a := d.Analysis
	if a.TotalTransactionsAnalyzed != 30 {
		t.Errorf("transactions analyzed = %d, want 30", a.TotalTransactionsAnalyzed)
	}
	if a.TotalBillsOwed != 120 {
		t.Errorf("bills owed = %f, want 120 (pending only)", a.TotalBillsOwed)
	}
	if a.TotalDepositAmount != 2400 {
		t.Errorf("deposit amount = %f, want 2400", a.TotalDepositAmount)
	}
	if a.MonthlyDeposits != 3 {
		t.Errorf("monthly deposits = %d, want 3", a.MonthlyDeposits)
	}
	if a.Source != "request" {
		t.Errorf("source = %q, want request", a.Source)
	}
}

func TestDecideNilPortfolio(t *testing.T) {
	d := newTestEngine().Decide(context.Background(), &Input{
		TenantID: "tenant-1",
		UserID:   "user-1",
	})
	if d.CreditScore != 300 {
		t.Errorf("credit score = %d, want 300 for nil portfolio", d.CreditScore)
	}
	if d.Offer.Status != domain.OfferDeclined {
		t.Errorf("status = %q, want declined", d.Offer.Status)
	}
}

func TestDecideMetadata(t *testing.T) {
	d := decide(t, newTestEngine(), steadyPortfolio())

	if d.ID == "" {
		t.Error("decision id not set")
	}
	if d.TenantID != "tenant-1" || d.UserID != "user-1" {
		t.Errorf("identity fields wrong: %q/%q", d.TenantID, d.UserID)
	}
	if d.Metadata.TraceID != "trace-1" {
		t.Errorf("trace id = %q, want trace-1", d.Metadata.TraceID)
	}
	if d.Metadata.EngineVersion != EngineVersion {
		t.Errorf("engine version = %q, want %q", d.Metadata.EngineVersion, EngineVersion)
	}
	if d.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}

// Approved terms start from the score tiers {4,6,7,9,10,12}; the
// volatility haircut subtracts two months with a floor of four, so 5
// and 8 are reachable as well.
func TestTermMonthsReachableValues(t *testing.T) {
	e := newTestEngine()

	cases := []struct {
		name       string
		score      int
		volatility float64
		want       int
	}{
		{"top tier", 769, 0.2, 12},
		{"top tier volatile", 769, 0.9, 10},
		{"tier 700", 728, 0.2, 10},
		{"tier 700 volatile", 728, 0.9, 8},
		{"tier 650", 660, 0.2, 9},
		{"tier 650 volatile", 660, 0.9, 7},
		{"tier 600", 620, 0.2, 7},
		{"tier 600 volatile", 620, 0.9, 5},
		{"tier 550", 560, 0.2, 6},
		{"tier 550 volatile floors", 560, 0.9, 4},
		{"floor tier", 510, 0.2, 4},
		{"floor tier volatile", 510, 0.9, 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := e.termMonths(tc.score, tc.volatility); got != tc.want {
				t.Errorf("termMonths(%d, %.1f) = %d, want %d",
					tc.score, tc.volatility, got, tc.want)
			}
		})
	}
}

func TestDecideScoreSpanParam(t *testing.T) {
	params := DefaultParams()
	params.ScoreSpan = 150
	e := NewEngine(scoring.NewCalculator(scoring.DefaultParams()), params)

	// Score 769 sits past the shortened span, so norm clamps to 1:
	// base 8000, x0.9 spend, x1.15 balance = 8280, rounds to 8300.
	d := decide(t, e, steadyPortfolio())

	if d.Offer.Metrics.ScoreNormalized != 1.0 {
		t.Errorf("norm = %v, want 1.0", d.Offer.Metrics.ScoreNormalized)
	}
	if d.Offer.InterestRate != "5.0%" {
		t.Errorf("rate = %s, want 5.0%%", d.Offer.InterestRate)
	}
	if d.Offer.MaxAmount != 8300 {
		t.Errorf("max amount = %d, want 8300", d.Offer.MaxAmount)
	}
}
