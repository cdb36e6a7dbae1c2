package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Record ingestion (batch appends per user)
	SaveTransactions(ctx context.Context, tenantID, userID string, records []Transaction) error
	SaveBills(ctx context.Context, tenantID, userID string, records []Bill) error
	SaveDeposits(ctx context.Context, tenantID, userID string, records []Deposit) error
	SaveLoans(ctx context.Context, tenantID, userID string, records []Loan) error

	// LoadPortfolio returns all four collections for a user. A user
	// with no rows yields empty collections, not an error; only a
	// storage failure is an error.
	LoadPortfolio(ctx context.Context, tenantID, userID string) (*Portfolio, error)

	// Decision results
	SaveDecision(ctx context.Context, tenantID string, decision *Decision) error
	GetDecision(ctx context.Context, tenantID string, decisionID string) (*Decision, error)
	ListDecisionsByUser(ctx context.Context, tenantID, userID string, limit int) ([]*Decision, error)

	// Policy rule operations
	SavePolicyRule(ctx context.Context, tenantID string, rule *PolicyRule) error
	GetPolicyRule(ctx context.Context, tenantID string, ruleID string) (*PolicyRule, error)
	ListPolicyRules(ctx context.Context, tenantID string) ([]*PolicyRule, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
