package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
// The core never learns which backing store is active.
type Repository interface {
	// Threat operations
	SaveThreat(ctx context.Context, tenantID string, t *Threat) error
	GetThreat(ctx context.Context, tenantID string, threatID string) (*Threat, error)
	ListThreats(ctx context.Context, tenantID string, status ThreatStatus, limit int) ([]*Threat, error)

	// UpdateThreatStatus transitions a threat from one status to another.
	// Returns ErrConflict if the threat is not currently in the `from`
	// status, so callers can enforce the state machine without a read.
	UpdateThreatStatus(ctx context.Context, tenantID string, threatID string, from, to ThreatStatus) error

	// BlockThreat records an automated action and moves the threat from
	// analyzing to blocked in a single transaction. If the threat is no
	// longer analyzing, nothing is written and ErrConflict is returned.
	BlockThreat(ctx context.Context, tenantID string, threatID string, action *Action) error

	// Action operations
	SaveAction(ctx context.Context, tenantID string, a *Action) error
	ListActionsByThreat(ctx context.Context, tenantID string, threatID string) ([]*Action, error)

	// Activity store (read path for the outlier detector and behavior
	// context; write path for ingestion)
	SaveActivity(ctx context.Context, tenantID string, records []*ActivityRecord) error
	ListActivity(ctx context.Context, tenantID string, subjectID string, since time.Time) ([]*ActivityRecord, error)
	CountActivity(ctx context.Context, tenantID string, subjectID string, since time.Time) (int64, error)

	// System configuration
	GetSystemConfig(ctx context.Context, tenantID string) (*SystemConfig, error)
	SaveSystemConfig(ctx context.Context, tenantID string, cfg *SystemConfig) error

	// Custom policy rules
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
