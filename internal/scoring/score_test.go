package scoring

import (
	"fmt"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// steadyHistory builds n transactions per month of equal size across
// the given months, giving zero volatility.
func steadyHistory(perMonth int, amount float64, months ...string) []domain.Transaction {
	var txns []domain.Transaction
	for _, m := range months {
		for i := 0; i < perMonth; i++ {
			day := i + 1
			txns = append(txns, tx(amount, fmt.Sprintf("%s-%02dT10:00:00Z", m, day)))
		}
	}
	return txns
}

func TestScoreEmptyHistory(t *testing.T) {
	calc := NewCalculator(DefaultParams())

	got := calc.Score(nil, 9999, []domain.Bill{{PaymentAmount: 100, Status: domain.BillStatusPaid}}, []domain.Deposit{{Amount: 5000}}, nil)
	if got != 300 {
		t.Errorf("score = %d, want 300 for empty transaction history", got)
	}
}

func TestScoreSteadyEarner(t *testing.T) {
	calc := NewCalculator(DefaultParams())

	// Ten $100 purchases a month for three months, three $800 deposits,
	// balance proxied at $6000.
	txns := steadyHistory(10, 100, "2024-01", "2024-02", "2024-03")
	deposits := []domain.Deposit{{Amount: 800}, {Amount: 800}, {Amount: 800}}

	got := calc.Score(txns, 6000, nil, deposits, nil)
	if got != 769 {
		t.Errorf("score = %d, want 769", got)
	}
}

func TestScoreBounds(t *testing.T) {
	calc := NewCalculator(DefaultParams())

	t.Run("floor", func(t *testing.T) {
		// Worst plausible profile: one tiny purchase, a deep pending
		// backlog and a crushing obligation.
		txns := []domain.Transaction{tx(1, "2024-01-05T10:00:00Z")}
		var bills []domain.Bill
		for i := 0; i < 8; i++ {
			bills = append(bills, domain.Bill{PaymentAmount: 600, Status: domain.BillStatusPending})
		}
		got := calc.Score(txns, 0, bills, []domain.Deposit{{Amount: 100}}, nil)
		if got != 500 {
			t.Errorf("score = %d, want clamped floor 500", got)
		}
	})

	t.Run("ceiling", func(t *testing.T) {
		// Best plausible profile must never exceed 800.
		txns := steadyHistory(20, 200, "2024-01", "2024-02", "2024-03", "2024-04")
		var bills []domain.Bill
		for i := 0; i < 10; i++ {
			bills = append(bills, domain.Bill{PaymentAmount: 20, Status: domain.BillStatusPaid})
		}
		deposits := []domain.Deposit{{Amount: 2000}, {Amount: 2000}, {Amount: 2000}, {Amount: 2000}}
		got := calc.Score(txns, 100000, bills, deposits, nil)
		if got > 800 {
			t.Errorf("score = %d, exceeds ceiling 800", got)
		}
		if got < 750 {
			t.Errorf("score = %d, unexpectedly low for a strong profile", got)
		}
	})
}

func TestScorePendingBacklogPenalty(t *testing.T) {
	calc := NewCalculator(DefaultParams())
	txns := steadyHistory(5, 100, "2024-01", "2024-02")
	deposits := []domain.Deposit{{Amount: 800}, {Amount: 800}, {Amount: 800}}

	clean := calc.Score(txns, 3000, nil, deposits, nil)

	var bills []domain.Bill
	for i := 0; i < 6; i++ {
		bills = append(bills, domain.Bill{PaymentAmount: 50, Status: domain.BillStatusPending})
	}
	backlog := calc.Score(txns, 3000, bills, deposits, nil)

	if backlog >= clean {
		t.Errorf("pending backlog score %d not below clean score %d", backlog, clean)
	}
}

func TestScoreDebtToIncomePenalty(t *testing.T) {
	calc := NewCalculator(DefaultParams())
	txns := steadyHistory(5, 100, "2024-01", "2024-02")
	deposits := []domain.Deposit{{Amount: 500}}

	// Obligation is more than twice the average income.
	loans := []domain.Loan{{PaymentAmount: 1200}}
	light := calc.Score(txns, 3000, nil, deposits, nil)
	heavy := calc.Score(txns, 3000, nil, deposits, loans)

	if heavy >= light {
		t.Errorf("leveraged score %d not below unleveraged score %d", heavy, light)
	}
}

func TestScoreDeterministic(t *testing.T) {
	calc := NewCalculator(DefaultParams())
	txns := steadyHistory(7, 140, "2024-01", "2024-02", "2024-03")
	bills := []domain.Bill{
		{PaymentAmount: 90, Status: domain.BillStatusPending},
		{PaymentAmount: 120, Status: domain.BillStatusPaid},
	}
	deposits := []domain.Deposit{{Amount: 1500}, {Amount: 1500}}

	first := calc.Score(txns, 4200, bills, deposits, nil)
	for i := 0; i < 10; i++ {
		if got := calc.Score(txns, 4200, bills, deposits, nil); got != first {
			t.Fatalf("run %d: score = %d, want %d", i, got, first)
		}
	}
}

func TestRoundHelpers(t *testing.T) {
	if got := Round2(633.33333); got != 633.33 {
		t.Errorf("Round2 = %f, want 633.33", got)
	}
	if got := Round3(0.8966666); got != 0.897 {
		t.Errorf("Round3 = %f, want 0.897", got)
	}
	if got := Round1(6.3433); got != 6.3 {
		t.Errorf("Round1 = %f, want 6.3", got)
	}
}
