// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"bytes"
	"strconv"
	"time"
)

// Money is a monetary amount in the caller's currency unit.
// It unmarshals leniently: numbers and numeric strings are accepted,
// anything else coerces to 0 so one bad record cannot sink a whole
// scoring request.
type Money float64

// UnmarshalJSON implements lenient numeric parsing for Money.
func (m *Money) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*m = 0
		return nil
	}

	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*m = 0
		return nil
	}
	*m = Money(v)
	return nil
}

// Transaction represents one completed merchant purchase.
type Transaction struct {
	Amount      Money     `json:"amount"`
	Datetime    time.Time `json:"datetime"`
	Description string    `json:"description,omitempty"`
}

// BillStatus is the lifecycle status of a bill obligation.
type BillStatus string

const (
	BillStatusPending   BillStatus = "pending"
	BillStatusCompleted BillStatus = "completed"
	BillStatusPaid      BillStatus = "paid"
)

// Paid reports whether the bill counts as settled for reliability scoring.
func (s BillStatus) Paid() bool {
	return s == BillStatusCompleted || s == BillStatusPaid
}

// Bill represents a recurring obligation (utility, credit line, etc.).
type Bill struct {
	PaymentAmount Money      `json:"payment_amount"`
	Status        BillStatus `json:"status"`
	Name          string     `json:"name,omitempty"`
}

// Deposit represents one income event, such as a paycheck.
type Deposit struct {
	Amount Money  `json:"amount"`
	Source string `json:"source,omitempty"`
}

// Loan represents a recurring debt installment.
type Loan struct {
	PaymentAmount Money  `json:"payment_amount"`
	Lender        string `json:"lender,omitempty"`
}

// Portfolio bundles the four record collections supplied for one
// scoring request. Collections may be empty; nil slices are valid and
// equivalent to empty ones.
type Portfolio struct {
	Transactions []Transaction `json:"transactions"`
	Bills        []Bill        `json:"bills"`
	Deposits     []Deposit     `json:"deposits"`
	Loans        []Loan        `json:"loans"`
}
