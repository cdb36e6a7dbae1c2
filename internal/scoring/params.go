// Package scoring computes a deterministic creditworthiness score from
// observed financial activity: purchase history, bills, income deposits
// and loan installments. Everything here is a pure function of its
// inputs; there is no I/O and no shared state.
package scoring

// Params holds every tunable constant of the scoring model. Keeping
// them named (instead of inline literals) lets tests pin individual
// rules and lets operators tune thresholds without touching control
// flow.
type Params struct {
	// Empty-history behavior: a user with zero transactions gets this
	// score directly; the weighted model is never consulted.
	EmptyHistoryScore int

	// Score band for the weighted model.
	ScoreFloor   int
	ScoreCeiling int
	ScoreSpan    float64

	// Composite weights; must sum to 1.0.
	SpendWeight   float64
	IncomeWeight  float64
	BillWeight    float64
	DebtWeight    float64
	BalanceWeight float64

	// Spend activity sub-score.
	SpendTarget          float64 // monthly spend that earns a full activity score
	VolatilityHigh       float64
	VolatilityHighFactor float64
	VolatilityMid        float64
	VolatilityMidFactor  float64

	// Income sub-score.
	IncomeTarget      float64 // avg income that saturates the boost term
	IncomeBoostCap    float64
	NoIncomeBoost     float64 // boost used when there is no income at all
	ConsistencyHigh   float64 // >=3 deposits
	ConsistencyMid    float64 // >=2 deposits
	ConsistencyLow    float64
	ConsistencyHighAt int
	ConsistencyMidAt  int

	// Bill reliability sub-score.
	DefaultBillRatio     float64 // assumed paid ratio when there are no bills
	PendingHigh          int
	PendingHighFactor    float64
	PendingMid           int
	PendingMidFactor     float64

	// Debt burden step function over monthly obligation (all bills + loans).
	DebtStepLow    float64
	DebtStepMid    float64
	DebtStepHigh   float64
	DebtScoreLow   float64
	DebtScoreMid   float64
	DebtScoreHigh  float64
	DebtScoreWorst float64

	// Balance sub-score.
	BalanceTarget   float64
	BalanceScoreCap float64
	BalanceHigh     float64
	BalanceMid      float64
	BalanceMidScore float64
	BalanceLowScore float64

	// Additive bonuses.
	ActivityBonus      int // >= ActivityBonusAt transactions
	ActivityBonusAt    int
	BalanceBonus       int // balance above BalanceBonusAt
	BalanceBonusAt     float64
	DepositBonus       int // >= ConsistencyHighAt deposits
	StableSpendBonus   int // spend above StableSpendAt with low volatility
	StableSpendAt      float64
	StableSpendMaxVol  float64

	// Additive penalties.
	PendingBillsPenalty   int // more than PendingBillsPenaltyAt pending bills
	PendingBillsPenaltyAt int
	DebtLoadPenalty       int // monthly obligation above DebtLoadPenaltyAt
	DebtLoadPenaltyAt     float64
	DebtToIncomePenalty   int // obligation above DebtToIncomeRatio x income
	DebtToIncomeRatio     float64

	// Income-to-balance proxy: estimated balance = total deposits x this.
	BalanceProxyMultiplier float64
}

// DefaultParams returns the canonical scoring model constants.
func DefaultParams() Params {
	return Params{
		EmptyHistoryScore: 300,

		ScoreFloor:   500,
		ScoreCeiling: 800,
		ScoreSpan:    300,

		SpendWeight:   0.30,
		IncomeWeight:  0.25,
		BillWeight:    0.20,
		DebtWeight:    0.15,
		BalanceWeight: 0.10,

		SpendTarget:          1500,
		VolatilityHigh:       0.5,
		VolatilityHighFactor: 0.7,
		VolatilityMid:        0.3,
		VolatilityMidFactor:  0.85,

		IncomeTarget:      800,
		IncomeBoostCap:    0.8,
		NoIncomeBoost:     0.2,
		ConsistencyHigh:   0.9,
		ConsistencyMid:    0.7,
		ConsistencyLow:    0.5,
		ConsistencyHighAt: 3,
		ConsistencyMidAt:  2,

		DefaultBillRatio:  0.6,
		PendingHigh:       4,
		PendingHighFactor: 0.7,
		PendingMid:        2,
		PendingMidFactor:  0.85,

		DebtStepLow:    1000,
		DebtStepMid:    2000,
		DebtStepHigh:   3500,
		DebtScoreLow:   0.9,
		DebtScoreMid:   0.7,
		DebtScoreHigh:  0.5,
		DebtScoreWorst: 0.3,

		BalanceTarget:   1500,
		BalanceScoreCap: 0.8,
		BalanceHigh:     500,
		BalanceMid:      200,
		BalanceMidScore: 0.5,
		BalanceLowScore: 0.3,

		ActivityBonus:     15,
		ActivityBonusAt:   5,
		BalanceBonus:      12,
		BalanceBonusAt:    800,
		DepositBonus:      10,
		StableSpendBonus:  8,
		StableSpendAt:     800,
		StableSpendMaxVol: 0.4,

		PendingBillsPenalty:   20,
		PendingBillsPenaltyAt: 5,
		DebtLoadPenalty:       15,
		DebtLoadPenaltyAt:     3000,
		DebtToIncomePenalty:   25,
		DebtToIncomeRatio:     2,

		BalanceProxyMultiplier: 2.5,
	}
}
