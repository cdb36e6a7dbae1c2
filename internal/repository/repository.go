// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransactions appends purchase records for a user with tenant isolation.
func (r *SQLRepository) SaveTransactions(ctx context.Context, tenantID, userID string, records []domain.Transaction) error {
	if err := requireIdentity(tenantID, userID); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	query := r.rebind(`
		INSERT INTO transactions (id, tenant_id, user_id, amount, datetime, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)

	return r.batch(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()

		now := time.Now().UTC()
		for _, rec := range records {
			if _, err := stmt.ExecContext(ctx,
				uuid.New().String(), tenantID, userID,
				float64(rec.Amount), rec.Datetime.UTC(), rec.Description, now,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveBills appends bill records for a user with tenant isolation.
func (r *SQLRepository) SaveBills(ctx context.Context, tenantID, userID string, records []domain.Bill) error {
	if err := requireIdentity(tenantID, userID); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	query := r.rebind(`
		INSERT INTO bills (id, tenant_id, user_id, payment_amount, status, name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)

	return r.batch(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()

		now := time.Now().UTC()
		for _, rec := range records {
			if _, err := stmt.ExecContext(ctx,
				uuid.New().String(), tenantID, userID,
				float64(rec.PaymentAmount), string(rec.Status), rec.Name, now,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveDeposits appends income deposit records for a user with tenant isolation.
func (r *SQLRepository) SaveDeposits(ctx context.Context, tenantID, userID string, records []domain.Deposit) error {
	if err := requireIdentity(tenantID, userID); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	query := r.rebind(`
		INSERT INTO deposits (id, tenant_id, user_id, amount, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)

	return r.batch(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()

		now := time.Now().UTC()
		for _, rec := range records {
			if _, err := stmt.ExecContext(ctx,
				uuid.New().String(), tenantID, userID,
				float64(rec.Amount), rec.Source, now,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveLoans appends loan installment records for a user with tenant isolation.
func (r *SQLRepository) SaveLoans(ctx context.Context, tenantID, userID string, records []domain.Loan) error {
	if err := requireIdentity(tenantID, userID); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	query := r.rebind(`
		INSERT INTO loans (id, tenant_id, user_id, payment_amount, lender, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)

	return r.batch(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()

		now := time.Now().UTC()
		for _, rec := range records {
			if _, err := stmt.ExecContext(ctx,
				uuid.New().String(), tenantID, userID,
				float64(rec.PaymentAmount), rec.Lender, now,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadPortfolio loads every record collection for a user. A user with
// no rows yields empty collections, not ErrNotFound.
func (r *SQLRepository) LoadPortfolio(ctx context.Context, tenantID, userID string) (*domain.Portfolio, error) {
	if err := requireIdentity(tenantID, userID); err != nil {
		return nil, err
	}

	p := &domain.Portfolio{}

	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT amount, datetime, description FROM transactions
		WHERE tenant_id = ? AND user_id = ?
		ORDER BY datetime
	`), tenantID, userID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var t domain.Transaction
		var amount float64
		var description sql.NullString
		if err := rows.Scan(&amount, &t.Datetime, &description); err != nil {
			rows.Close()
			return nil, err
		}
		t.Amount = domain.Money(amount)
		t.Description = description.String
		p.Transactions = append(p.Transactions, t)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = r.db.QueryContext(ctx, r.rebind(`
		SELECT payment_amount, status, name FROM bills
		WHERE tenant_id = ? AND user_id = ?
		ORDER BY created_at
	`), tenantID, userID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var b domain.Bill
		var amount float64
		var status string
		var name sql.NullString
		if err := rows.Scan(&amount, &status, &name); err != nil {
			rows.Close()
			return nil, err
		}
		b.PaymentAmount = domain.Money(amount)
		b.Status = domain.BillStatus(status)
		b.Name = name.String
		p.Bills = append(p.Bills, b)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = r.db.QueryContext(ctx, r.rebind(`
		SELECT amount, source FROM deposits
		WHERE tenant_id = ? AND user_id = ?
		ORDER BY created_at
	`), tenantID, userID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var d domain.Deposit
		var amount float64
		var source sql.NullString
		if err := rows.Scan(&amount, &source); err != nil {
			rows.Close()
			return nil, err
		}
		d.Amount = domain.Money(amount)
		d.Source = source.String
		p.Deposits = append(p.Deposits, d)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = r.db.QueryContext(ctx, r.rebind(`
		SELECT payment_amount, lender FROM loans
		WHERE tenant_id = ? AND user_id = ?
		ORDER BY created_at
	`), tenantID, userID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var l domain.Loan
		var amount float64
		var lender sql.NullString
		if err := rows.Scan(&amount, &lender); err != nil {
			rows.Close()
			return nil, err
		}
		l.PaymentAmount = domain.Money(amount)
		l.Lender = lender.String
		p.Loans = append(p.Loans, l)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	return p, nil
}

// SaveDecision stores a completed decision with tenant isolation.
func (r *SQLRepository) SaveDecision(ctx context.Context, tenantID string, decision *domain.Decision) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	offer, _ := json.Marshal(decision.Offer)
	analysis, _ := json.Marshal(decision.Analysis)
	flags, _ := json.Marshal(decision.Flags)
	metadata, _ := json.Marshal(decision.Metadata)

	query := `
		INSERT INTO decisions (
			id, tenant_id, user_id, credit_score, status,
			offer, analysis, flags, metadata, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		decision.ID, tenantID, decision.UserID,
		decision.CreditScore, decision.Offer.Status,
		string(offer), string(analysis), string(flags), string(metadata),
		decision.Timestamp,
	)
	return err
}

// GetDecision retrieves a decision by ID with tenant isolation.
func (r *SQLRepository) GetDecision(ctx context.Context, tenantID string, decisionID string) (*domain.Decision, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, user_id, credit_score, offer, analysis, flags, metadata, timestamp
		FROM decisions
		WHERE tenant_id = ? AND id = ?
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, decisionID)
	decision, err := scanDecision(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return decision, err
}

// ListDecisionsByUser retrieves the most recent decisions for a user.
func (r *SQLRepository) ListDecisionsByUser(ctx context.Context, tenantID, userID string, limit int) ([]*domain.Decision, error) {
	if err := requireIdentity(tenantID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, tenant_id, user_id, credit_score, offer, analysis, flags, metadata, timestamp
		FROM decisions
		WHERE tenant_id = ? AND user_id = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var decisions []*domain.Decision
	for rows.Next() {
		decision, err := scanDecision(rows.Scan)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, decision)
	}

	return decisions, rows.Err()
}

// SavePolicyRule stores a policy rule with tenant isolation.
func (r *SQLRepository) SavePolicyRule(ctx context.Context, tenantID string, rule *domain.PolicyRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO policy_rules (
			id, tenant_id, name, description, version, expression, severity, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			severity = excluded.severity,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.Version, rule.Expression, rule.Severity, enabled,
		now, now,
	)
	return err
}

// GetPolicyRule retrieves an enabled policy rule with tenant isolation.
func (r *SQLRepository) GetPolicyRule(ctx context.Context, tenantID string, ruleID string) (*domain.PolicyRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, severity, enabled
		FROM policy_rules
		WHERE tenant_id = ? AND id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	var rule domain.PolicyRule
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID).Scan(
		&rule.ID, &rule.TenantID, &rule.Name, &rule.Description,
		&rule.Version, &rule.Expression, &rule.Severity, &enabled,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rule.Enabled = enabled == 1

	return &rule, nil
}

// ListPolicyRules retrieves all enabled policy rules for a tenant.
func (r *SQLRepository) ListPolicyRules(ctx context.Context, tenantID string) ([]*domain.PolicyRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, severity, enabled
		FROM policy_rules
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.PolicyRule
	for rows.Next() {
		var rule domain.PolicyRule
		var enabled int

		if err := rows.Scan(
			&rule.ID, &rule.TenantID, &rule.Name, &rule.Description,
			&rule.Version, &rule.Expression, &rule.Severity, &enabled,
		); err != nil {
			return nil, err
		}

		rule.Enabled = enabled == 1
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// batch runs fn inside one transaction so a partial ingest never lands.
func (r *SQLRepository) batch(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

func scanDecision(scan func(dest ...any) error) (*domain.Decision, error) {
	var d domain.Decision
	var offer, analysis, metadata string
	var flags sql.NullString

	err := scan(
		&d.ID, &d.TenantID, &d.UserID, &d.CreditScore,
		&offer, &analysis, &flags, &metadata, &d.Timestamp,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(offer), &d.Offer); err != nil {
		return nil, fmt.Errorf("failed to parse stored offer: %w", err)
	}
	if err := json.Unmarshal([]byte(analysis), &d.Analysis); err != nil {
		return nil, fmt.Errorf("failed to parse stored analysis: %w", err)
	}
	if flags.Valid && flags.String != "" {
		json.Unmarshal([]byte(flags.String), &d.Flags)
	}
	json.Unmarshal([]byte(metadata), &d.Metadata)

	return &d, nil
}

func requireIdentity(tenantID, userID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if userID == "" {
		return fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}
	return nil
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	return rows.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
