// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("record already exists")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
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
	if cfg.MaxOpenConns > 0 && cfg.SQLitePath != ":memory:" {
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

// SaveUser inserts or replaces a user.
func (r *SQLRepository) SaveUser(ctx context.Context, user *domain.User) error {
	if user.ID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO users (id, email, full_name, region, age, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			full_name = excluded.full_name,
			region = excluded.region,
			age = excluded.age,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		user.ID, user.Email, user.FullName,
		nullString(user.Region), nullInt(user.Age), user.IsActive,
		user.CreatedAt, user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: email %s", ErrConflict, user.Email)
	}
	return err
}

// GetUser retrieves a user by ID.
func (r *SQLRepository) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT id, email, full_name, region, age, is_active, created_at, updated_at
		FROM users
		WHERE id = ?
	`

	var user domain.User
	var region sql.NullString
	var age sql.NullInt64

	err := r.db.QueryRowContext(ctx, r.rebind(query), userID).Scan(
		&user.ID, &user.Email, &user.FullName,
		&region, &age, &user.IsActive,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	user.Region = stringPtr(region)
	if age.Valid {
		v := int(age.Int64)
		user.Age = &v
	}
	return &user, nil
}

// CreateRule stores a new rule. Duplicate names return ErrConflict.
func (r *SQLRepository) CreateRule(ctx context.Context, rule *domain.FraudRule) error {
	if rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}
	if err := r.checkRuleName(ctx, rule.Name, rule.ID); err != nil {
		return err
	}

	query := `
		INSERT INTO fraud_rules (
			id, name, description, dsl_expression, dsl_expression_json,
			priority, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, nullString(rule.Description),
		rule.DSLExpression, nullJSON(rule.DSLExpressionJSON),
		rule.Priority, rule.Enabled,
		rule.CreatedAt, rule.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: rule name %q", ErrConflict, rule.Name)
	}
	return err
}

// UpdateRule replaces the mutable fields of an existing rule.
func (r *SQLRepository) UpdateRule(ctx context.Context, rule *domain.FraudRule) error {
	if err := r.checkRuleName(ctx, rule.Name, rule.ID); err != nil {
		return err
	}

	query := `
		UPDATE fraud_rules SET
			name = ?, description = ?, dsl_expression = ?, dsl_expression_json = ?,
			priority = ?, enabled = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.Name, nullString(rule.Description),
		rule.DSLExpression, nullJSON(rule.DSLExpressionJSON),
		rule.Priority, rule.Enabled, rule.UpdatedAt,
		rule.ID,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: rule name %q", ErrConflict, rule.Name)
	}
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// GetRule retrieves a rule by ID, enabled or not.
func (r *SQLRepository) GetRule(ctx context.Context, ruleID string) (*domain.FraudRule, error) {
	query := `
		SELECT id, name, description, dsl_expression, dsl_expression_json,
			   priority, enabled, created_at, updated_at
		FROM fraud_rules
		WHERE id = ?
	`

	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rule, err
}

// ListRules returns rules ordered by priority, then name.
func (r *SQLRepository) ListRules(ctx context.Context, includeDisabled bool) ([]*domain.FraudRule, error) {
	query := `
		SELECT id, name, description, dsl_expression, dsl_expression_json,
			   priority, enabled, created_at, updated_at
		FROM fraud_rules
	`
	var args []any
	if !includeDisabled {
		query += " WHERE enabled = ?"
		args = append(args, true)
	}
	query += " ORDER BY priority ASC, name ASC"

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.FraudRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

// DisableRule soft-deletes a rule by clearing its enabled flag.
func (r *SQLRepository) DisableRule(ctx context.Context, ruleID string) error {
	query := `UPDATE fraud_rules SET enabled = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), false, time.Now().UTC(), ruleID)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// SaveTransaction stores a transaction together with its rule results.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx.ID == "" {
		return fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}

	results := tx.RuleResults
	if results == nil {
		results = []domain.RuleResult{}
	}
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to encode rule results: %w", err)
	}

	var location, metadata any
	if tx.Location != nil {
		b, _ := json.Marshal(tx.Location)
		location = string(b)
	}
	if tx.Metadata != nil {
		b, _ := json.Marshal(tx.Metadata)
		metadata = string(b)
	}
	var channel any
	if tx.Channel != nil {
		channel = string(*tx.Channel)
	}

	query := `
		INSERT INTO transactions (
			id, user_id, amount, currency, timestamp, created_at,
			merchant_id, merchant_category_code, ip_address, device_id,
			channel, location, metadata, is_fraud, status, rule_results
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.UserID, tx.Amount, tx.Currency, tx.Timestamp, tx.CreatedAt,
		nullString(tx.MerchantID), nullString(tx.MerchantCategoryCode),
		nullString(tx.IPAddress), nullString(tx.DeviceID),
		channel, location, metadata,
		tx.IsFraud, string(tx.Status), string(resultsJSON),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: transaction %s", ErrConflict, tx.ID)
	}
	return err
}

const transactionColumns = `
	id, user_id, amount, currency, timestamp, created_at,
	merchant_id, merchant_category_code, ip_address, device_id,
	channel, location, metadata, is_fraud, status, rule_results
`

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = ?`

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, r.rebind(query), txID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return tx, err
}

// ListTransactions returns transactions newest first.
func (r *SQLRepository) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions`

	var conds []string
	var args []any
	if filter.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Channel != "" {
		conds = append(conds, "channel = ?")
		args = append(args, string(filter.Channel))
	}
	if !filter.From.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, filter.From.UTC())
	}
	if !filter.To.IsZero() {
		conds = append(conds, "timestamp < ?")
		args = append(args, filter.To.UTC())
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + strconv.Itoa(filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}

	return txs, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func (r *SQLRepository) checkRuleName(ctx context.Context, name, ruleID string) error {
	query := `SELECT id FROM fraud_rules WHERE name = ? AND id <> ?`

	var existing string
	err := r.db.QueryRowContext(ctx, r.rebind(query), name, ruleID).Scan(&existing)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: rule name %q", ErrConflict, name)
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*domain.FraudRule, error) {
	var rule domain.FraudRule
	var description, exprJSON sql.NullString

	err := row.Scan(
		&rule.ID, &rule.Name, &description,
		&rule.DSLExpression, &exprJSON,
		&rule.Priority, &rule.Enabled,
		&rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.Description = stringPtr(description)
	if exprJSON.Valid && exprJSON.String != "" {
		rule.DSLExpressionJSON = json.RawMessage(exprJSON.String)
	}
	return &rule, nil
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var merchantID, mcc, ip, device, channel, location, metadata sql.NullString
	var status, results string

	err := row.Scan(
		&tx.ID, &tx.UserID, &tx.Amount, &tx.Currency, &tx.Timestamp, &tx.CreatedAt,
		&merchantID, &mcc, &ip, &device,
		&channel, &location, &metadata,
		&tx.IsFraud, &status, &results,
	)
	if err != nil {
		return nil, err
	}

	tx.MerchantID = stringPtr(merchantID)
	tx.MerchantCategoryCode = stringPtr(mcc)
	tx.IPAddress = stringPtr(ip)
	tx.DeviceID = stringPtr(device)
	if channel.Valid {
		c := domain.Channel(channel.String)
		tx.Channel = &c
	}
	if location.Valid && location.String != "" {
		tx.Location = &domain.Location{}
		if err := json.Unmarshal([]byte(location.String), tx.Location); err != nil {
			return nil, fmt.Errorf("failed to decode location: %w", err)
		}
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &tx.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	tx.Status = domain.TransactionStatus(status)
	if err := json.Unmarshal([]byte(results), &tx.RuleResults); err != nil {
		return nil, fmt.Errorf("failed to decode rule results: %w", err)
	}
	return &tx, nil
}

func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	// sqlite: "UNIQUE constraint failed", postgres: "duplicate key value"
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key value")
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullInt(i *int) any {
	if i == nil {
		return nil
	}
	return int64(*i)
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
