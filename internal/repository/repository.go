// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/telco-sentinel/harrier/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict is returned when a guarded status transition finds the
	// threat in a different state than expected.
	ErrConflict = errors.New("status conflict")
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

// SaveThreat stores a threat with tenant isolation.
func (r *SQLRepository) SaveThreat(ctx context.Context, tenantID string, t *domain.Threat) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	var detail []byte
	if t.ScoringDetail != nil {
		detail, _ = json.Marshal(t.ScoringDetail)
	}

	query := `
		INSERT INTO threats (
			id, tenant_id, threat_type, source, severity, score,
			status, description, raw_event, scoring_detail,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		t.ID, tenantID, t.Type, t.Source, t.Severity, t.Score,
		t.Status, t.Description, string(t.RawEvent), string(detail),
		t.CreatedAt, t.UpdatedAt,
	)
	return err
}

// GetThreat retrieves a threat by ID with tenant isolation.
func (r *SQLRepository) GetThreat(ctx context.Context, tenantID string, threatID string) (*domain.Threat, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, threat_type, source, severity, score,
			   status, description, raw_event, scoring_detail,
			   created_at, updated_at
		FROM threats
		WHERE tenant_id = ? AND id = ?
	`

	t, err := scanThreat(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, threatID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// ListThreats retrieves threats for a tenant, optionally filtered by status,
// newest first.
func (r *SQLRepository) ListThreats(ctx context.Context, tenantID string, status domain.ThreatStatus, limit int) ([]*domain.Threat, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, tenant_id, threat_type, source, severity, score,
			   status, description, raw_event, scoring_detail,
			   created_at, updated_at
		FROM threats
		WHERE tenant_id = ?
	`
	args := []any{tenantID}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var threats []*domain.Threat
	for rows.Next() {
		t, err := scanThreat(rows)
		if err != nil {
			return nil, err
		}
		threats = append(threats, t)
	}
	return threats, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThreat(row rowScanner) (*domain.Threat, error) {
	var t domain.Threat
	var rawEvent, detail string

	err := row.Scan(
		&t.ID, &t.TenantID, &t.Type, &t.Source, &t.Severity, &t.Score,
		&t.Status, &t.Description, &rawEvent, &detail,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if rawEvent != "" {
		t.RawEvent = json.RawMessage(rawEvent)
	}
	if detail != "" {
		var sr domain.ScoreResult
		if err := json.Unmarshal([]byte(detail), &sr); err != nil {
			return nil, fmt.Errorf("failed to parse scoring detail for %s: %w", t.ID, err)
		}
		t.ScoringDetail = &sr
	}

	return &t, nil
}

// UpdateThreatStatus transitions a threat's status, guarded by the expected
// current status. Returns ErrConflict when the guard fails and ErrNotFound
// when the threat does not exist.
func (r *SQLRepository) UpdateThreatStatus(ctx context.Context, tenantID string, threatID string, from, to domain.ThreatStatus) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE threats
		SET status = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ? AND status = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), to, time.Now().UTC(), tenantID, threatID, from)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := r.GetThreat(ctx, tenantID, threatID); err != nil {
			return err
		}
		return ErrConflict
	}

	return nil
}

// BlockThreat records an automated action and moves the threat from
// analyzing to blocked in one transaction. If the guard fails nothing is
// written and ErrConflict is returned, so the threat never ends up blocked
// without its action or vice versa.
func (r *SQLRepository) BlockThreat(ctx context.Context, tenantID string, threatID string, action *domain.Action) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if action == nil {
		return fmt.Errorf("%w: action is required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	updateQuery := `
		UPDATE threats
		SET status = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ? AND status = ?
	`
	result, err := tx.ExecContext(ctx, r.rebind(updateQuery),
		domain.StatusBlocked, time.Now().UTC(), tenantID, threatID, domain.StatusAnalyzing,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrConflict
	}

	insertQuery := `
		INSERT INTO actions (id, tenant_id, threat_id, action_type, automated, analyst, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, r.rebind(insertQuery),
		action.ID, tenantID, action.ThreatID, action.Type,
		boolToInt(action.Automated), action.Analyst, action.Details, action.CreatedAt,
	); err != nil {
		return err
	}

	return tx.Commit()
}

// SaveAction stores an action with tenant isolation.
func (r *SQLRepository) SaveAction(ctx context.Context, tenantID string, a *domain.Action) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO actions (id, tenant_id, threat_id, action_type, automated, analyst, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		a.ID, tenantID, a.ThreatID, a.Type,
		boolToInt(a.Automated), a.Analyst, a.Details, a.CreatedAt,
	)
	return err
}

// ListActionsByThreat retrieves all actions recorded for a threat, oldest first.
func (r *SQLRepository) ListActionsByThreat(ctx context.Context, tenantID string, threatID string) ([]*domain.Action, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, threat_id, action_type, automated, analyst, details, created_at
		FROM actions
		WHERE tenant_id = ? AND threat_id = ?
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, threatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []*domain.Action
	for rows.Next() {
		var a domain.Action
		var automated int
		if err := rows.Scan(
			&a.ID, &a.TenantID, &a.ThreatID, &a.Type,
			&automated, &a.Analyst, &a.Details, &a.CreatedAt,
		); err != nil {
			return nil, err
		}
		a.Automated = automated == 1
		actions = append(actions, &a)
	}
	return actions, rows.Err()
}

// SaveActivity stores a batch of activity records.
func (r *SQLRepository) SaveActivity(ctx context.Context, tenantID string, records []*domain.ActivityRecord) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := r.rebind(`
		INSERT INTO activity_records (
			id, tenant_id, subject_id, timestamp, activity_type, direction,
			peer_address, duration_seconds, location, network_type,
			is_roaming, is_fraud_flagged
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	for _, rec := range records {
		if _, err := tx.ExecContext(ctx, query,
			rec.ID, tenantID, rec.SubjectID, rec.Timestamp, rec.ActivityType, rec.Direction,
			rec.PeerAddress, rec.DurationSeconds, rec.Location, rec.NetworkType,
			boolToInt(rec.IsRoaming), boolToInt(rec.IsFraudFlagged),
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListActivity retrieves activity records, optionally filtered by subject,
// newest first.
func (r *SQLRepository) ListActivity(ctx context.Context, tenantID string, subjectID string, since time.Time) ([]*domain.ActivityRecord, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, subject_id, timestamp, activity_type, direction,
			   peer_address, duration_seconds, location, network_type,
			   is_roaming, is_fraud_flagged
		FROM activity_records
		WHERE tenant_id = ? AND timestamp >= ?
	`
	args := []any{tenantID, since}
	if subjectID != "" {
		query += " AND subject_id = ?"
		args = append(args, subjectID)
	}
	query += " ORDER BY timestamp DESC"

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.ActivityRecord
	for rows.Next() {
		var rec domain.ActivityRecord
		var tenant string
		var roaming, fraud int
		if err := rows.Scan(
			&rec.ID, &tenant, &rec.SubjectID, &rec.Timestamp, &rec.ActivityType, &rec.Direction,
			&rec.PeerAddress, &rec.DurationSeconds, &rec.Location, &rec.NetworkType,
			&roaming, &fraud,
		); err != nil {
			return nil, err
		}
		rec.IsRoaming = roaming == 1
		rec.IsFraudFlagged = fraud == 1
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// CountActivity counts a subject's activity records since a point in time.
func (r *SQLRepository) CountActivity(ctx context.Context, tenantID string, subjectID string, since time.Time) (int64, error) {
	if tenantID == "" || subjectID == "" {
		return 0, fmt.Errorf("%w: tenantID and subjectID are required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*) FROM activity_records
		WHERE tenant_id = ? AND subject_id = ? AND timestamp >= ?
	`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, subjectID, since).Scan(&count)
	return count, err
}

// GetSystemConfig assembles the current configuration snapshot from stored
// key/value rows, falling back to defaults for missing keys. A query error
// is surfaced so the policy engine can fail safe.
func (r *SQLRepository) GetSystemConfig(ctx context.Context, tenantID string) (*domain.SystemConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT key, value FROM system_config WHERE tenant_id = ?`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cfg := domain.DefaultSystemConfig()
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		applyConfigKey(cfg, key, value)
	}
	return cfg, rows.Err()
}

func applyConfigKey(cfg *domain.SystemConfig, key, value string) {
	switch key {
	case domain.ConfigKeyAutoBlockCritical:
		cfg.AutoBlockCritical = value == "true"
	case domain.ConfigKeyAutoBlockFraud:
		cfg.AutoBlockFraud = value == "true"
	case domain.ConfigKeySIMSwapManual:
		cfg.SIMSwapManual = value == "true"
	case domain.ConfigKeySMSSensitivity:
		if n, err := strconv.Atoi(value); err == nil {
			cfg.SMSSensitivity = n
		}
	case domain.ConfigKeyCallSensitivity:
		if n, err := strconv.Atoi(value); err == nil {
			cfg.CallSensitivity = n
		}
	case domain.ConfigKeyFraudSensitivity:
		if n, err := strconv.Atoi(value); err == nil {
			cfg.FraudSensitivity = n
		}
	}
}

// SaveSystemConfig upserts the full configuration snapshot as key/value rows.
func (r *SQLRepository) SaveSystemConfig(ctx context.Context, tenantID string, cfg *domain.SystemConfig) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if cfg == nil {
		return fmt.Errorf("%w: config is required", ErrInvalidInput)
	}

	values := map[string]string{
		domain.ConfigKeyAutoBlockCritical: strconv.FormatBool(cfg.AutoBlockCritical),
		domain.ConfigKeyAutoBlockFraud:    strconv.FormatBool(cfg.AutoBlockFraud),
		domain.ConfigKeySIMSwapManual:     strconv.FormatBool(cfg.SIMSwapManual),
		domain.ConfigKeySMSSensitivity:    strconv.Itoa(cfg.SMSSensitivity),
		domain.ConfigKeyCallSensitivity:   strconv.Itoa(cfg.CallSensitivity),
		domain.ConfigKeyFraudSensitivity:  strconv.Itoa(cfg.FraudSensitivity),
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var query string
	if r.driver == "postgres" {
		query = r.rebind(`
			INSERT INTO system_config (tenant_id, key, value, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (tenant_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
		`)
	} else {
		query = `
			INSERT INTO system_config (tenant_id, key, value, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (tenant_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		`
	}

	now := time.Now().UTC()
	for key, value := range values {
		if _, err := tx.ExecContext(ctx, query, tenantID, key, value, now); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// SavePolicyRule upserts a custom policy rule.
func (r *SQLRepository) SavePolicyRule(ctx context.Context, tenantID string, rule *domain.PolicyRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if rule.ID == "" || rule.Expression == "" {
		return fmt.Errorf("%w: rule id and expression are required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	var query string
	if r.driver == "postgres" {
		query = r.rebind(`
			INSERT INTO policy_rules (id, tenant_id, name, description, expression, action_type, enabled, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id, tenant_id) DO UPDATE SET
				name = EXCLUDED.name, description = EXCLUDED.description,
				expression = EXCLUDED.expression, action_type = EXCLUDED.action_type,
				enabled = EXCLUDED.enabled, updated_at = EXCLUDED.updated_at
		`)
	} else {
		query = `
			INSERT INTO policy_rules (id, tenant_id, name, description, expression, action_type, enabled, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id, tenant_id) DO UPDATE SET
				name = excluded.name, description = excluded.description,
				expression = excluded.expression, action_type = excluded.action_type,
				enabled = excluded.enabled, updated_at = excluded.updated_at
		`
	}

	_, err := r.db.ExecContext(ctx, query,
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.Expression, rule.Action, boolToInt(rule.Enabled),
		rule.CreatedAt, rule.UpdatedAt,
	)
	return err
}

// GetPolicyRule retrieves a custom policy rule by ID.
func (r *SQLRepository) GetPolicyRule(ctx context.Context, tenantID string, ruleID string) (*domain.PolicyRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, expression, action_type, enabled, created_at, updated_at
		FROM policy_rules
		WHERE tenant_id = ? AND id = ?
	`

	var rule domain.PolicyRule
	var enabled int
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID).Scan(
		&rule.ID, &rule.TenantID, &rule.Name, &rule.Description,
		&rule.Expression, &rule.Action, &enabled,
		&rule.CreatedAt, &rule.UpdatedAt,
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

// ListPolicyRules retrieves all enabled custom policy rules for a tenant in
// name order, which is also their evaluation order.
func (r *SQLRepository) ListPolicyRules(ctx context.Context, tenantID string) ([]*domain.PolicyRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, expression, action_type, enabled, created_at, updated_at
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
			&rule.Expression, &rule.Action, &enabled,
			&rule.CreatedAt, &rule.UpdatedAt,
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

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
