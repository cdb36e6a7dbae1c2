package scoring

import (
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Calculator computes credit scores from raw records. It holds only
// immutable parameters, so one Calculator is safe for concurrent use.
type Calculator struct {
	params Params
}

// NewCalculator creates a score calculator with the given parameters.
func NewCalculator(params Params) *Calculator {
	return &Calculator{params: params}
}

// Params returns the calculator's parameters.
func (c *Calculator) Params() Params {
	return c.params
}

// Score computes the creditworthiness score for the supplied records.
//
// The canonical offer flow passes nil loans here: loan payments reach
// the offer through its overdue-debt subtraction instead of the
// debt-burden term. Callers that do supply loans get them added to the
// monthly obligation.
//
// Returns EmptyHistoryScore (300) when there are no transactions,
// otherwise an integer clamped to [ScoreFloor, ScoreCeiling]. The 300
// floor is reachable only through the empty-history path.
func (c *Calculator) Score(txns []domain.Transaction, balance float64, bills []domain.Bill, deposits []domain.Deposit, loans []domain.Loan) int {
	p := c.params

	if len(txns) == 0 {
		return p.EmptyHistoryScore
	}

	stats := AggregateMonthly(txns)

	totalDeposits := 0.0
	for _, d := range deposits {
		totalDeposits += float64(d.Amount)
	}
	avgIncome := 0.0
	if len(deposits) > 0 {
		avgIncome = totalDeposits / float64(len(deposits))
	}

	paidBills := 0
	pendingBills := 0
	billPayments := 0.0
	for _, b := range bills {
		billPayments += float64(b.PaymentAmount)
		if b.Status.Paid() {
			paidBills++
		}
		if b.Status == domain.BillStatusPending {
			pendingBills++
		}
	}

	loanPayments := 0.0
	for _, l := range loans {
		loanPayments += float64(l.PaymentAmount)
	}
	monthlyObligation := loanPayments + billPayments

	composite := p.SpendWeight*c.spendScore(stats) +
		p.IncomeWeight*c.incomeScore(avgIncome, len(deposits)) +
		p.BillWeight*c.billScore(paidBills, len(bills), pendingBills) +
		p.DebtWeight*c.debtScore(monthlyObligation) +
		p.BalanceWeight*c.balanceScore(balance)

	base := float64(p.ScoreFloor) + composite*p.ScoreSpan

	bonuses := 0
	if len(txns) >= p.ActivityBonusAt {
		bonuses += p.ActivityBonus
	}
	if balance > p.BalanceBonusAt {
		bonuses += p.BalanceBonus
	}
	if len(deposits) >= p.ConsistencyHighAt {
		bonuses += p.DepositBonus
	}
	if stats.AvgMonthlySpend > p.StableSpendAt && stats.Volatility < p.StableSpendMaxVol {
		bonuses += p.StableSpendBonus
	}

	penalties := 0
	if pendingBills > p.PendingBillsPenaltyAt {
		penalties += p.PendingBillsPenalty
	}
	if monthlyObligation > p.DebtLoadPenaltyAt {
		penalties += p.DebtLoadPenalty
	}
	if avgIncome > 0 && monthlyObligation > p.DebtToIncomeRatio*avgIncome {
		penalties += p.DebtToIncomePenalty
	}

	score := int(math.Round(base + float64(bonuses) - float64(penalties)))

	if score < p.ScoreFloor {
		score = p.ScoreFloor
	}
	if score > p.ScoreCeiling {
		score = p.ScoreCeiling
	}
	return score
}

// spendScore rewards spend volume, discounted by volatility.
func (c *Calculator) spendScore(stats domain.SpendingStats) float64 {
	p := c.params

	activity := clamp(stats.AvgMonthlySpend/p.SpendTarget, 0, 1)

	penalty := 1.0
	switch {
	case stats.Volatility > p.VolatilityHigh:
		penalty = p.VolatilityHighFactor
	case stats.Volatility > p.VolatilityMid:
		penalty = p.VolatilityMidFactor
	}

	return activity * penalty
}

// incomeScore blends income level with deposit regularity.
func (c *Calculator) incomeScore(avgIncome float64, depositCount int) float64 {
	p := c.params

	// No income is not scored as zero: some income signal may simply
	// be invisible to us, so a fixed residual boost applies.
	boost := p.NoIncomeBoost
	if avgIncome > 0 {
		boost = clamp(avgIncome/p.IncomeTarget, 0, p.IncomeBoostCap)
	}

	consistency := p.ConsistencyLow
	switch {
	case depositCount >= p.ConsistencyHighAt:
		consistency = p.ConsistencyHigh
	case depositCount >= p.ConsistencyMidAt:
		consistency = p.ConsistencyMid
	}

	return 0.5*boost + 0.5*consistency
}

// billScore measures payment reliability, discounted by pending backlog.
func (c *Calculator) billScore(paid, total, pending int) float64 {
	p := c.params

	ratio := p.DefaultBillRatio
	if total > 0 {
		ratio = float64(paid) / float64(total)
	}

	penalty := 1.0
	switch {
	case pending > p.PendingHigh:
		penalty = p.PendingHighFactor
	case pending > p.PendingMid:
		penalty = p.PendingMidFactor
	}

	return ratio * penalty
}

// debtScore is a step function of the total monthly obligation.
func (c *Calculator) debtScore(obligation float64) float64 {
	p := c.params
	switch {
	case obligation < p.DebtStepLow:
		return p.DebtScoreLow
	case obligation < p.DebtStepMid:
		return p.DebtScoreMid
	case obligation < p.DebtStepHigh:
		return p.DebtScoreHigh
	default:
		return p.DebtScoreWorst
	}
}

// balanceScore rewards liquid balance with diminishing returns.
func (c *Calculator) balanceScore(balance float64) float64 {
	p := c.params
	switch {
	case balance > p.BalanceHigh:
		return clamp(balance/p.BalanceTarget, 0, p.BalanceScoreCap)
	case balance > p.BalanceMid:
		return p.BalanceMidScore
	default:
		return p.BalanceLowScore
	}
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

// Round2 rounds to 2 decimal places (money convention).
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Round3 rounds to 3 decimal places (ratio convention).
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// Round1 rounds to 1 decimal place (rate convention).
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}
