package repository

// Schema definitions for the Harrier database.
// Compatible with both SQLite and PostgreSQL.

const schemaThreats = `
CREATE TABLE IF NOT EXISTS threats (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    threat_type TEXT NOT NULL,
    source TEXT NOT NULL,
    severity TEXT NOT NULL,
    score REAL NOT NULL,
    status TEXT NOT NULL,
    description TEXT,
    raw_event TEXT,
    scoring_detail TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_threats_tenant ON threats(tenant_id);
CREATE INDEX IF NOT EXISTS idx_threats_status ON threats(tenant_id, status);
CREATE INDEX IF NOT EXISTS idx_threats_source ON threats(tenant_id, source);
CREATE INDEX IF NOT EXISTS idx_threats_created ON threats(tenant_id, created_at);
`

const schemaActions = `
CREATE TABLE IF NOT EXISTS actions (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    threat_id TEXT,
    action_type TEXT NOT NULL,
    automated INTEGER NOT NULL DEFAULT 0,
    analyst TEXT,
    details TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_actions_tenant ON actions(tenant_id);
CREATE INDEX IF NOT EXISTS idx_actions_threat ON actions(tenant_id, threat_id);
CREATE INDEX IF NOT EXISTS idx_actions_created ON actions(tenant_id, created_at);
`

const schemaActivity = `
CREATE TABLE IF NOT EXISTS activity_records (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    subject_id TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    activity_type TEXT NOT NULL,
    direction TEXT NOT NULL,
    peer_address TEXT NOT NULL,
    duration_seconds INTEGER NOT NULL DEFAULT 0,
    location TEXT,
    network_type TEXT,
    is_roaming INTEGER NOT NULL DEFAULT 0,
    is_fraud_flagged INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_activity_tenant ON activity_records(tenant_id);
CREATE INDEX IF NOT EXISTS idx_activity_subject ON activity_records(tenant_id, subject_id, timestamp);
`

const schemaSystemConfig = `
CREATE TABLE IF NOT EXISTS system_config (
    tenant_id TEXT NOT NULL,
    key TEXT NOT NULL,
    value TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, key)
);
`

const schemaPolicyRules = `
CREATE TABLE IF NOT EXISTS policy_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    expression TEXT NOT NULL,
    action_type TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_policy_rules_tenant ON policy_rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_policy_rules_enabled ON policy_rules(tenant_id, enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaThreats,
		schemaActions,
		schemaActivity,
		schemaSystemConfig,
		schemaPolicyRules,
	}
}
