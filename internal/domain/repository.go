// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Store defines the interface for data persistence.
type Store interface {
	// Identity operations
	SaveIdentity(ctx context.Context, identity *Identity) error
	GetIdentity(ctx context.Context, identityID string) (*Identity, error)

	// Risk profile operations
	SaveProfile(ctx context.Context, profile *UserRiskProfile) error
	GetProfile(ctx context.Context, identityID string) (*UserRiskProfile, error)
	ListProfiles(ctx context.Context) ([]*UserRiskProfile, error)

	// Trusted device operations
	SaveDevice(ctx context.Context, device *TrustedDevice) error
	GetDevice(ctx context.Context, deviceID string) (*TrustedDevice, error)
	GetDeviceByFingerprint(ctx context.Context, identityID, fingerprint string) (*TrustedDevice, error)
	ListDevices(ctx context.Context, identityID string) ([]*TrustedDevice, error)
	RevokeDevice(ctx context.Context, deviceID string) error

	// Verdict history. ListVerdicts returns newest first.
	SaveVerdict(ctx context.Context, verdict *Verdict) error
	GetVerdict(ctx context.Context, verdictID string) (*Verdict, error)
	ListVerdicts(ctx context.Context, since time.Time, limit int) ([]*Verdict, error)

	// Anomaly alerts
	SaveAlert(ctx context.Context, alert *AnomalyAlert) error
	GetAlert(ctx context.Context, alertID string) (*AnomalyAlert, error)
	ListAlerts(ctx context.Context, identityID string, limit int) ([]*AnomalyAlert, error)
	ResolveAlert(ctx context.Context, alertID string) error

	// Custom pattern rules
	SavePatternRule(ctx context.Context, rule *PatternRule) error
	GetPatternRule(ctx context.Context, ruleID string) (*PatternRule, error)
	ListPatternRules(ctx context.Context) ([]*PatternRule, error)

	// Geo history for impossible-travel checks
	SaveGeoRecord(ctx context.Context, rec *GeoRecord) error
	ListGeoRecords(ctx context.Context, identityID string, since time.Time) ([]*GeoRecord, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for store initialization.
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
