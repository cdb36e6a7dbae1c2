package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"
	userID := "user-001"

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndLoadPortfolio", func(t *testing.T) {
		txns := []domain.Transaction{
			{Amount: 49.99, Datetime: time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC), Description: "groceries"},
			{Amount: 120.00, Datetime: time.Date(2024, 2, 5, 10, 0, 0, 0, time.UTC), Description: "utilities"},
		}
		if err := repo.SaveTransactions(ctx, tenantID, userID, txns); err != nil {
			t.Fatalf("SaveTransactions failed: %v", err)
		}
		if err := repo.SaveBills(ctx, tenantID, userID, []domain.Bill{
			{PaymentAmount: 80, Status: domain.BillStatusPending, Name: "internet"},
			{PaymentAmount: 60, Status: domain.BillStatusPaid, Name: "phone"},
		}); err != nil {
			t.Fatalf("SaveBills failed: %v", err)
		}
		if err := repo.SaveDeposits(ctx, tenantID, userID, []domain.Deposit{
			{Amount: 800, Source: "payroll"},
		}); err != nil {
			t.Fatalf("SaveDeposits failed: %v", err)
		}
		if err := repo.SaveLoans(ctx, tenantID, userID, []domain.Loan{
			{PaymentAmount: 250, Lender: "auto-finance"},
		}); err != nil {
			t.Fatalf("SaveLoans failed: %v", err)
		}

		p, err := repo.LoadPortfolio(ctx, tenantID, userID)
		if err != nil {
			t.Fatalf("LoadPortfolio failed: %v", err)
		}
		if len(p.Transactions) != 2 {
			t.Errorf("got %d transactions, want 2", len(p.Transactions))
		}
		if p.Transactions[0].Amount != 49.99 {
			t.Errorf("transaction amount = %v, want 49.99", p.Transactions[0].Amount)
		}
		if len(p.Bills) != 2 || p.Bills[0].Status != domain.BillStatusPending {
			t.Errorf("bills not preserved: %+v", p.Bills)
		}
		if len(p.Deposits) != 1 || p.Deposits[0].Source != "payroll" {
			t.Errorf("deposits not preserved: %+v", p.Deposits)
		}
		if len(p.Loans) != 1 || p.Loans[0].Lender != "auto-finance" {
			t.Errorf("loans not preserved: %+v", p.Loans)
		}
	})

	t.Run("LoadPortfolioUnknownUser", func(t *testing.T) {
		p, err := repo.LoadPortfolio(ctx, tenantID, "nobody")
		if err != nil {
			t.Fatalf("LoadPortfolio failed: %v", err)
		}
		// Unknown user is a valid empty portfolio, not an error.
		if len(p.Transactions)+len(p.Bills)+len(p.Deposits)+len(p.Loans) != 0 {
			t.Errorf("expected empty portfolio, got %+v", p)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		p, err := repo.LoadPortfolio(ctx, "tenant-002", userID)
		if err != nil {
			t.Fatalf("LoadPortfolio failed: %v", err)
		}
		if len(p.Transactions) != 0 {
			t.Errorf("tenant-002 sees tenant-001 records: %+v", p.Transactions)
		}
	})

	t.Run("RequiresIdentity", func(t *testing.T) {
		if err := repo.SaveTransactions(ctx, "", userID, nil); err == nil {
			t.Error("expected error for empty tenantID")
		}
		if _, err := repo.LoadPortfolio(ctx, tenantID, ""); err == nil {
			t.Error("expected error for empty userID")
		}
	})
}

func TestDecisionPersistence(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	decision := &domain.Decision{
		ID:          "dec-001",
		TenantID:    tenantID,
		UserID:      "user-001",
		CreditScore: 742,
		Offer: domain.LendingOffer{
			Status:                    domain.OfferApproved,
			MaxAmount:                 6400,
			InterestRate:              "7.5%",
			TermMonths:                10,
			RecommendedMonthlyPayment: 640,
			Message:                   "Approved for up to $6400 over 10 months.",
			Metrics:                   domain.MetricsTrace{CreditScore: 742, AccountBalance: 5000},
		},
		Analysis: domain.Analysis{
			AccountBalance:            5000,
			TotalTransactionsAnalyzed: 42,
			Source:                    "database",
		},
		Flags: []domain.PolicyFlag{
			{RuleID: "r-1", Name: "volatile", Severity: domain.SeverityReview, Reason: "test"},
		},
		Timestamp: time.Now().UTC(),
		Metadata: domain.DecisionMetadata{
			TraceID:       "trace-001",
			EngineVersion: "kestrel-1.0",
		},
	}

	if err := repo.SaveDecision(ctx, tenantID, decision); err != nil {
		t.Fatalf("SaveDecision failed: %v", err)
	}

	t.Run("GetDecision", func(t *testing.T) {
		got, err := repo.GetDecision(ctx, tenantID, decision.ID)
		if err != nil {
			t.Fatalf("GetDecision failed: %v", err)
		}
		if got.CreditScore != 742 {
			t.Errorf("credit score = %d, want 742", got.CreditScore)
		}
		if got.Offer.MaxAmount != 6400 {
			t.Errorf("max amount = %d, want 6400", got.Offer.MaxAmount)
		}
		if got.Offer.Status != domain.OfferApproved {
			t.Errorf("status = %q, want approved", got.Offer.Status)
		}
		if len(got.Flags) != 1 || got.Flags[0].RuleID != "r-1" {
			t.Errorf("flags not preserved: %+v", got.Flags)
		}
		if got.Metadata.TraceID != "trace-001" {
			t.Errorf("metadata trace = %q, want trace-001", got.Metadata.TraceID)
		}
	})

	t.Run("GetDecisionNotFound", func(t *testing.T) {
		if _, err := repo.GetDecision(ctx, tenantID, "missing"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("GetDecisionTenantIsolation", func(t *testing.T) {
		if _, err := repo.GetDecision(ctx, "tenant-002", decision.ID); err != ErrNotFound {
			t.Errorf("expected ErrNotFound for other tenant, got: %v", err)
		}
	})

	t.Run("ListDecisionsByUser", func(t *testing.T) {
		second := *decision
		second.ID = "dec-002"
		second.Timestamp = decision.Timestamp.Add(time.Minute)
		if err := repo.SaveDecision(ctx, tenantID, &second); err != nil {
			t.Fatalf("SaveDecision failed: %v", err)
		}

		list, err := repo.ListDecisionsByUser(ctx, tenantID, "user-001", 10)
		if err != nil {
			t.Fatalf("ListDecisionsByUser failed: %v", err)
		}
		if len(list) != 2 {
			t.Fatalf("got %d decisions, want 2", len(list))
		}
		// Newest first.
		if list[0].ID != "dec-002" {
			t.Errorf("first decision = %s, want dec-002", list[0].ID)
		}
	})
}

func TestPolicyRulePersistence(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	rule := &domain.PolicyRule{
		ID:          "r-volatility",
		Name:        "high-volatility",
		Description: "spending too irregular",
		Version:     "1.0",
		Expression:  "spend_volatility > 0.8",
		Severity:    domain.SeverityReview,
		Enabled:     true,
	}

	if err := repo.SavePolicyRule(ctx, tenantID, rule); err != nil {
		t.Fatalf("SavePolicyRule failed: %v", err)
	}

	t.Run("GetPolicyRule", func(t *testing.T) {
		got, err := repo.GetPolicyRule(ctx, tenantID, rule.ID)
		if err != nil {
			t.Fatalf("GetPolicyRule failed: %v", err)
		}
		if got.Expression != rule.Expression {
			t.Errorf("expression = %q, want %q", got.Expression, rule.Expression)
		}
		if !got.Enabled {
			t.Error("rule not enabled")
		}
	})

	t.Run("UpsertSameVersion", func(t *testing.T) {
		updated := *rule
		updated.Expression = "spend_volatility > 0.9"
		if err := repo.SavePolicyRule(ctx, tenantID, &updated); err != nil {
			t.Fatalf("SavePolicyRule (update) failed: %v", err)
		}

		got, err := repo.GetPolicyRule(ctx, tenantID, rule.ID)
		if err != nil {
			t.Fatalf("GetPolicyRule failed: %v", err)
		}
		if got.Expression != "spend_volatility > 0.9" {
			t.Errorf("expression = %q after upsert", got.Expression)
		}
	})

	t.Run("ListSkipsDisabled", func(t *testing.T) {
		disabled := &domain.PolicyRule{
			ID: "r-off", Name: "off", Version: "1.0",
			Expression: "true", Severity: domain.SeverityInfo, Enabled: false,
		}
		if err := repo.SavePolicyRule(ctx, tenantID, disabled); err != nil {
			t.Fatalf("SavePolicyRule failed: %v", err)
		}

		rules, err := repo.ListPolicyRules(ctx, tenantID)
		if err != nil {
			t.Fatalf("ListPolicyRules failed: %v", err)
		}
		if len(rules) != 1 {
			t.Fatalf("got %d rules, want 1 (disabled excluded)", len(rules))
		}
		if rules[0].ID != "r-volatility" {
			t.Errorf("rule = %s, want r-volatility", rules[0].ID)
		}
	})
}
