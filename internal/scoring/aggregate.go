package scoring

import (
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// monthlyBucket accumulates spend per calendar month.
type monthlyBucket struct {
	sum   float64
	count int
}

// AggregateMonthly reduces a transaction history into monthly spending
// statistics. Months are keyed YYYY-MM in UTC. Negative amounts
// (refunds) are floored to zero before accumulation, but the raw amount
// still competes for MaxSinglePurchase.
//
// An empty history is valid and yields zero spend with full volatility.
func AggregateMonthly(txns []domain.Transaction) domain.SpendingStats {
	buckets := make(map[string]*monthlyBucket)
	maxSingle := 0.0

	for _, tx := range txns {
		amount := float64(tx.Amount)
		key := tx.Datetime.UTC().Format("2006-01")

		b, ok := buckets[key]
		if !ok {
			b = &monthlyBucket{}
			buckets[key] = b
		}
		b.sum += math.Max(0, amount)
		b.count++

		if amount > maxSingle {
			maxSingle = amount
		}
	}

	// Guard every division below; an empty history degrades to zeros
	// rather than NaN.
	months := len(buckets)
	if months < 1 {
		months = 1
	}

	total := 0.0
	for _, b := range buckets {
		total += b.sum
	}
	avg := total / float64(months)

	variance := 0.0
	for _, b := range buckets {
		d := b.sum - avg
		variance += d * d
	}
	variance /= float64(months)
	sd := math.Sqrt(variance)

	// No spend means nothing to be stable about: fully volatile by
	// convention.
	volatility := 1.0
	if avg > 0 {
		volatility = sd / avg
	}

	return domain.SpendingStats{
		AvgMonthlySpend:   avg,
		StdDev:            sd,
		Volatility:        volatility,
		AvgMonthlyCount:   float64(len(txns)) / float64(months),
		MaxSinglePurchase: maxSingle,
	}
}
