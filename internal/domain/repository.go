// Package domain defines the core interfaces and types for fraudguard.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// User operations
	SaveUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, userID string) (*User, error)

	// Fraud rule operations. Names are unique across all rules.
	CreateRule(ctx context.Context, rule *FraudRule) error
	UpdateRule(ctx context.Context, rule *FraudRule) error
	GetRule(ctx context.Context, ruleID string) (*FraudRule, error)
	// ListRules returns rules ordered by priority, then name.
	ListRules(ctx context.Context, includeDisabled bool) ([]*FraudRule, error)
	// DisableRule is a soft delete.
	DisableRule(ctx context.Context, ruleID string) error

	// Transaction operations
	SaveTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]*Transaction, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// TransactionFilter narrows ListTransactions. Zero values do not filter.
type TransactionFilter struct {
	UserID  string
	Channel Channel
	From    time.Time
	To      time.Time
	Limit   int
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost"`
	PostgresPort     int    `json:"postgresPort"`
	PostgresUser     string `json:"postgresUser"`
	PostgresPassword string `json:"-"`
	PostgresDB       string `json:"postgresDb"`
	PostgresSSLMode  string `json:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns"`
	MaxIdleConns    int           `json:"maxIdleConns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime"`
}
