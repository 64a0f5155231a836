package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaIdentities = `
CREATE TABLE IF NOT EXISTS identities (
    id TEXT PRIMARY KEY,
    username TEXT NOT NULL,
    role TEXT NOT NULL,
    active INTEGER NOT NULL DEFAULT 1,
    mfa_verified INTEGER NOT NULL DEFAULT 0,
    biometric_verified INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_identities_username ON identities(username);
`

const schemaProfiles = `
CREATE TABLE IF NOT EXISTS profiles (
    identity_id TEXT PRIMARY KEY,
    overall_risk REAL NOT NULL,
    document TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_profiles_risk ON profiles(overall_risk);
`

const schemaTrustedDevices = `
CREATE TABLE IF NOT EXISTS trusted_devices (
    id TEXT PRIMARY KEY,
    identity_id TEXT NOT NULL,
    fingerprint TEXT NOT NULL,
    name TEXT NOT NULL,
    trust_score REAL NOT NULL,
    active INTEGER NOT NULL DEFAULT 1,
    registered_at TIMESTAMP NOT NULL,
    last_used_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_devices_identity ON trusted_devices(identity_id);
CREATE INDEX IF NOT EXISTS idx_devices_fingerprint ON trusted_devices(identity_id, fingerprint);
`

const schemaVerdicts = `
CREATE TABLE IF NOT EXISTS verdicts (
    id TEXT PRIMARY KEY,
    event_id TEXT NOT NULL,
    source_ip TEXT NOT NULL,
    risk_score REAL NOT NULL,
    severity TEXT NOT NULL,
    confidence REAL NOT NULL,
    threat_type TEXT NOT NULL,
    time_to_impact INTEGER NOT NULL,
    degraded INTEGER NOT NULL DEFAULT 0,
    timestamp TIMESTAMP NOT NULL,
    document TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_verdicts_timestamp ON verdicts(timestamp);
CREATE INDEX IF NOT EXISTS idx_verdicts_source ON verdicts(source_ip);
CREATE INDEX IF NOT EXISTS idx_verdicts_severity ON verdicts(severity);
`

const schemaAnomalyAlerts = `
CREATE TABLE IF NOT EXISTS anomaly_alerts (
    id TEXT PRIMARY KEY,
    identity_id TEXT NOT NULL,
    type TEXT NOT NULL,
    severity TEXT NOT NULL,
    confidence REAL NOT NULL,
    risk_delta REAL NOT NULL,
    description TEXT NOT NULL,
    resolved INTEGER NOT NULL DEFAULT 0,
    timestamp TIMESTAMP NOT NULL,
    metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_alerts_identity ON anomaly_alerts(identity_id);
CREATE INDEX IF NOT EXISTS idx_alerts_timestamp ON anomaly_alerts(timestamp);
CREATE INDEX IF NOT EXISTS idx_alerts_resolved ON anomaly_alerts(resolved);
`

const schemaPatternRules = `
CREATE TABLE IF NOT EXISTS pattern_rules (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    threat_type TEXT NOT NULL,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    risk_score REAL NOT NULL,
    confidence REAL NOT NULL,
    severity TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pattern_rules_enabled ON pattern_rules(enabled);
`

const schemaGeoRecords = `
CREATE TABLE IF NOT EXISTS geo_records (
    identity_id TEXT NOT NULL,
    country TEXT NOT NULL,
    source_ip TEXT NOT NULL,
    seen_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_geo_identity ON geo_records(identity_id, seen_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaIdentities,
		schemaProfiles,
		schemaTrustedDevices,
		schemaVerdicts,
		schemaAnomalyAlerts,
		schemaPatternRules,
		schemaGeoRecords,
	}
}
