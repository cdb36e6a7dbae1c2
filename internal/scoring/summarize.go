package scoring

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Summarize reduces a portfolio into the combined financial summary the
// score calculator and offer engine work from.
//
// Two bill sums are computed and must not be conflated: pending-only
// payments feed the offer's overdue-debt subtraction ("owed right
// now"), while the all-statuses total feeds the score's debt-burden
// term ("monthly obligation").
func Summarize(p *domain.Portfolio, params Params) domain.FinancialSummary {
	stats := AggregateMonthly(p.Transactions)

	totalDeposits := 0.0
	for _, d := range p.Deposits {
		totalDeposits += float64(d.Amount)
	}
	avgIncome := 0.0
	if len(p.Deposits) > 0 {
		avgIncome = totalDeposits / float64(len(p.Deposits))
	}

	pendingPayments := 0.0
	totalBillPayments := 0.0
	pendingCount := 0
	for _, b := range p.Bills {
		amount := float64(b.PaymentAmount)
		totalBillPayments += amount
		if b.Status == domain.BillStatusPending {
			pendingPayments += amount
			pendingCount++
		}
	}

	totalLoanPayments := 0.0
	for _, l := range p.Loans {
		totalLoanPayments += float64(l.PaymentAmount)
	}

	// Fixed income-to-balance proxy; an explicit modeling choice, not
	// an inference from the records.
	balance := totalDeposits * params.BalanceProxyMultiplier

	return domain.FinancialSummary{
		AvgMonthlySpend:     stats.AvgMonthlySpend,
		SpendVolatility:     stats.Volatility,
		AvgPurchaseFreq:     stats.AvgMonthlyCount,
		MaxSinglePurchase:   stats.MaxSinglePurchase,
		AvgMonthlyIncome:    avgIncome,
		TotalDepositAmount:  totalDeposits,
		DepositCount:        len(p.Deposits),
		BillCount:           len(p.Bills),
		PendingBillCount:    pendingCount,
		PendingBillPayments: pendingPayments,
		TotalBillPayments:   totalBillPayments,
		TotalLoanPayments:   totalLoanPayments,
		CurrentBalance:      balance,
		OverdueDebt:         pendingPayments + totalLoanPayments,
	}
}
