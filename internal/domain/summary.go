package domain

// SpendingStats holds the monthly aggregation of a transaction history.
type SpendingStats struct {
	// AvgMonthlySpend is total spend divided by distinct months observed.
	AvgMonthlySpend float64 `json:"avgMonthlySpend"`

	// StdDev is the population standard deviation of monthly spend.
	StdDev float64 `json:"stdDev"`

	// Volatility is StdDev/AvgMonthlySpend, or 1 when there is no spend.
	Volatility float64 `json:"volatility"`

	// AvgMonthlyCount is transactions per distinct month.
	AvgMonthlyCount float64 `json:"avgMonthlyCount"`

	// MaxSinglePurchase is the largest raw transaction amount seen.
	MaxSinglePurchase float64 `json:"maxSinglePurchase"`
}

// FinancialSummary is the combined numeric summary of one portfolio.
// Purely a computation result; it has no lifecycle beyond one request.
type FinancialSummary struct {
	AvgMonthlySpend     float64 `json:"avgMonthlySpend"`
	SpendVolatility     float64 `json:"spendVolatility"`
	AvgPurchaseFreq     float64 `json:"avgPurchaseFrequency"`
	MaxSinglePurchase   float64 `json:"maxSinglePurchase"`
	AvgMonthlyIncome    float64 `json:"avgMonthlyIncome"`
	TotalDepositAmount  float64 `json:"totalDepositAmount"`
	DepositCount        int     `json:"depositCount"`
	BillCount           int     `json:"billCount"`
	PendingBillCount    int     `json:"pendingBillCount"`
	PendingBillPayments float64 `json:"pendingBillPayments"`
	TotalBillPayments   float64 `json:"totalBillPayments"`
	TotalLoanPayments   float64 `json:"totalLoanPayments"`
	CurrentBalance      float64 `json:"currentBalance"`
	OverdueDebt         float64 `json:"overdueDebt"`
}

// MetricsTrace records every intermediate figure used to reach an
// offer, so a decision can be explained and replayed in tests.
type MetricsTrace struct {
	CreditScore        int     `json:"creditScore"`
	ScoreNormalized    float64 `json:"scoreNormalized"`
	BaseLoanAmount     float64 `json:"baseLoanAmount"`
	SpendingMultiplier float64 `json:"spendingMultiplier"`
	BalanceMultiplier  float64 `json:"balanceMultiplier"`
	AvgMonthlySpend    float64 `json:"avgMonthlySpend"`
	SpendVolatility    float64 `json:"spendVolatility"`
	PurchaseFrequency  float64 `json:"purchaseFrequency"`
	MaxSinglePurchase  float64 `json:"maxSinglePurchase"`
	OverdueDebt        float64 `json:"overdueDebt"`
	AccountBalance     float64 `json:"accountBalance"`
	DepositCount       int     `json:"depositCount"`
	BillCount          int     `json:"billCount"`
	PendingBillCount   int     `json:"pendingBillCount"`
}
