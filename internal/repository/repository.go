// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/perimetra/kestrel/internal/domain"
)

// geoHistoryLimit caps the number of geo records retained per identity.
const geoHistoryLimit = 50

// SQLRepository implements domain.Store using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new store based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Store, error) {
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

// SaveIdentity inserts or updates an identity.
func (r *SQLRepository) SaveIdentity(ctx context.Context, identity *domain.Identity) error {
	if identity.ID == "" {
		return fmt.Errorf("%w: identity ID is required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO identities (
			id, username, role, active, mfa_verified, biometric_verified, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			role = excluded.role,
			active = excluded.active,
			mfa_verified = excluded.mfa_verified,
			biometric_verified = excluded.biometric_verified
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		identity.ID, identity.Username, identity.Role,
		boolToInt(identity.Active), boolToInt(identity.MFAVerified),
		boolToInt(identity.BiometricVerified), identity.CreatedAt,
	)
	return err
}

// GetIdentity retrieves an identity by ID.
func (r *SQLRepository) GetIdentity(ctx context.Context, identityID string) (*domain.Identity, error) {
	query := `
		SELECT id, username, role, active, mfa_verified, biometric_verified, created_at
		FROM identities
		WHERE id = ?
	`

	var ident domain.Identity
	var active, mfa, biometric int

	err := r.db.QueryRowContext(ctx, r.rebind(query), identityID).Scan(
		&ident.ID, &ident.Username, &ident.Role,
		&active, &mfa, &biometric, &ident.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	ident.Active = active == 1
	ident.MFAVerified = mfa == 1
	ident.BiometricVerified = biometric == 1

	return &ident, nil
}

// SaveProfile inserts or updates a risk profile. The full profile is stored
// as a JSON document; overall_risk is duplicated into a column for queries.
func (r *SQLRepository) SaveProfile(ctx context.Context, profile *domain.UserRiskProfile) error {
	if profile.IdentityID == "" {
		return fmt.Errorf("%w: identity ID is required", domain.ErrInvalidInput)
	}

	document, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}

	query := `
		INSERT INTO profiles (identity_id, overall_risk, document, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(identity_id) DO UPDATE SET
			overall_risk = excluded.overall_risk,
			document = excluded.document,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		profile.IdentityID, profile.OverallRisk, string(document), profile.UpdatedAt,
	)
	return err
}

// GetProfile retrieves a risk profile by identity ID.
func (r *SQLRepository) GetProfile(ctx context.Context, identityID string) (*domain.UserRiskProfile, error) {
	query := `SELECT document FROM profiles WHERE identity_id = ?`

	var document string
	err := r.db.QueryRowContext(ctx, r.rebind(query), identityID).Scan(&document)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var profile domain.UserRiskProfile
	if err := json.Unmarshal([]byte(document), &profile); err != nil {
		return nil, fmt.Errorf("failed to parse profile %s: %w", identityID, err)
	}

	return &profile, nil
}

// ListProfiles retrieves all risk profiles, highest risk first.
func (r *SQLRepository) ListProfiles(ctx context.Context) ([]*domain.UserRiskProfile, error) {
	query := `SELECT document FROM profiles ORDER BY overall_risk DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []*domain.UserRiskProfile
	for rows.Next() {
		var document string
		if err := rows.Scan(&document); err != nil {
			return nil, err
		}

		var profile domain.UserRiskProfile
		if err := json.Unmarshal([]byte(document), &profile); err != nil {
			return nil, fmt.Errorf("failed to parse profile: %w", err)
		}
		profiles = append(profiles, &profile)
	}

	return profiles, rows.Err()
}

// SaveDevice inserts or updates a trusted device.
func (r *SQLRepository) SaveDevice(ctx context.Context, device *domain.TrustedDevice) error {
	if device.ID == "" || device.IdentityID == "" {
		return fmt.Errorf("%w: device ID and identity ID are required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO trusted_devices (
			id, identity_id, fingerprint, name, trust_score, active, registered_at, last_used_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			name = excluded.name,
			trust_score = excluded.trust_score,
			active = excluded.active,
			last_used_at = excluded.last_used_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		device.ID, device.IdentityID, device.Fingerprint, device.Name,
		device.TrustScore, boolToInt(device.Active),
		device.RegisteredAt, device.LastUsedAt,
	)
	return err
}

// GetDevice retrieves a trusted device by ID.
func (r *SQLRepository) GetDevice(ctx context.Context, deviceID string) (*domain.TrustedDevice, error) {
	query := `
		SELECT id, identity_id, fingerprint, name, trust_score, active, registered_at, last_used_at
		FROM trusted_devices
		WHERE id = ?
	`
	return r.scanDevice(r.db.QueryRowContext(ctx, r.rebind(query), deviceID))
}

// GetDeviceByFingerprint retrieves the most recently registered device
// matching a fingerprint for an identity.
func (r *SQLRepository) GetDeviceByFingerprint(ctx context.Context, identityID, fingerprint string) (*domain.TrustedDevice, error) {
	query := `
		SELECT id, identity_id, fingerprint, name, trust_score, active, registered_at, last_used_at
		FROM trusted_devices
		WHERE identity_id = ? AND fingerprint = ?
		ORDER BY registered_at DESC
		LIMIT 1
	`
	return r.scanDevice(r.db.QueryRowContext(ctx, r.rebind(query), identityID, fingerprint))
}

func (r *SQLRepository) scanDevice(row *sql.Row) (*domain.TrustedDevice, error) {
	var d domain.TrustedDevice
	var active int

	err := row.Scan(
		&d.ID, &d.IdentityID, &d.Fingerprint, &d.Name,
		&d.TrustScore, &active, &d.RegisteredAt, &d.LastUsedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	d.Active = active == 1
	return &d, nil
}

// ListDevices retrieves all devices registered to an identity.
func (r *SQLRepository) ListDevices(ctx context.Context, identityID string) ([]*domain.TrustedDevice, error) {
	query := `
		SELECT id, identity_id, fingerprint, name, trust_score, active, registered_at, last_used_at
		FROM trusted_devices
		WHERE identity_id = ?
		ORDER BY registered_at
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), identityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []*domain.TrustedDevice
	for rows.Next() {
		var d domain.TrustedDevice
		var active int

		if err := rows.Scan(
			&d.ID, &d.IdentityID, &d.Fingerprint, &d.Name,
			&d.TrustScore, &active, &d.RegisteredAt, &d.LastUsedAt,
		); err != nil {
			return nil, err
		}

		d.Active = active == 1
		devices = append(devices, &d)
	}

	return devices, rows.Err()
}

// RevokeDevice soft-deletes a device by setting active = 0.
func (r *SQLRepository) RevokeDevice(ctx context.Context, deviceID string) error {
	query := `UPDATE trusted_devices SET active = 0, last_used_at = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), deviceID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}

	return nil
}

// SaveVerdict stores a verdict. Scalar columns are indexed for queries;
// the full verdict is kept as a JSON document.
func (r *SQLRepository) SaveVerdict(ctx context.Context, verdict *domain.Verdict) error {
	if verdict.ID == "" {
		return fmt.Errorf("%w: verdict ID is required", domain.ErrInvalidInput)
	}

	document, err := json.Marshal(verdict)
	if err != nil {
		return fmt.Errorf("failed to encode verdict: %w", err)
	}

	query := `
		INSERT INTO verdicts (
			id, event_id, source_ip, risk_score, severity, confidence,
			threat_type, time_to_impact, degraded, timestamp, document
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		verdict.ID, verdict.EventID, verdict.SourceIP,
		verdict.RiskScore, string(verdict.Severity), verdict.Confidence,
		verdict.ThreatType, verdict.TimeToImpact, boolToInt(verdict.Degraded),
		verdict.Timestamp, string(document),
	)
	return err
}

// GetVerdict retrieves a verdict by ID.
func (r *SQLRepository) GetVerdict(ctx context.Context, verdictID string) (*domain.Verdict, error) {
	query := `SELECT document FROM verdicts WHERE id = ?`

	var document string
	err := r.db.QueryRowContext(ctx, r.rebind(query), verdictID).Scan(&document)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var verdict domain.Verdict
	if err := json.Unmarshal([]byte(document), &verdict); err != nil {
		return nil, fmt.Errorf("failed to parse verdict %s: %w", verdictID, err)
	}

	return &verdict, nil
}

// ListVerdicts retrieves verdicts since a point in time, newest first.
func (r *SQLRepository) ListVerdicts(ctx context.Context, since time.Time, limit int) ([]*domain.Verdict, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT document
		FROM verdicts
		WHERE timestamp >= ?
		ORDER BY timestamp DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var verdicts []*domain.Verdict
	for rows.Next() {
		var document string
		if err := rows.Scan(&document); err != nil {
			return nil, err
		}

		var verdict domain.Verdict
		if err := json.Unmarshal([]byte(document), &verdict); err != nil {
			return nil, fmt.Errorf("failed to parse verdict: %w", err)
		}
		verdicts = append(verdicts, &verdict)
	}

	return verdicts, rows.Err()
}

// SaveAlert stores an anomaly alert.
func (r *SQLRepository) SaveAlert(ctx context.Context, alert *domain.AnomalyAlert) error {
	if alert.ID == "" {
		return fmt.Errorf("%w: alert ID is required", domain.ErrInvalidInput)
	}

	metadata, _ := json.Marshal(alert.Metadata)

	query := `
		INSERT INTO anomaly_alerts (
			id, identity_id, type, severity, confidence, risk_delta,
			description, resolved, timestamp, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		alert.ID, alert.IdentityID, alert.Type, string(alert.Severity),
		alert.Confidence, alert.RiskDelta, alert.Description,
		boolToInt(alert.Resolved), alert.Timestamp, string(metadata),
	)
	return err
}

// GetAlert retrieves an anomaly alert by ID.
func (r *SQLRepository) GetAlert(ctx context.Context, alertID string) (*domain.AnomalyAlert, error) {
	query := `
		SELECT id, identity_id, type, severity, confidence, risk_delta,
			   description, resolved, timestamp, metadata
		FROM anomaly_alerts
		WHERE id = ?
	`

	var a domain.AnomalyAlert
	var resolved int
	var metadata sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), alertID).Scan(
		&a.ID, &a.IdentityID, &a.Type, &a.Severity,
		&a.Confidence, &a.RiskDelta, &a.Description,
		&resolved, &a.Timestamp, &metadata,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	a.Resolved = resolved == 1
	if metadata.Valid && metadata.String != "" {
		json.Unmarshal([]byte(metadata.String), &a.Metadata)
	}

	return &a, nil
}

// ListAlerts retrieves alerts, newest first. An empty identityID returns
// alerts for all identities.
func (r *SQLRepository) ListAlerts(ctx context.Context, identityID string, limit int) ([]*domain.AnomalyAlert, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, identity_id, type, severity, confidence, risk_delta,
			   description, resolved, timestamp, metadata
		FROM anomaly_alerts
	`
	args := []interface{}{}
	if identityID != "" {
		query += ` WHERE identity_id = ?`
		args = append(args, identityID)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.AnomalyAlert
	for rows.Next() {
		var a domain.AnomalyAlert
		var resolved int
		var metadata sql.NullString

		if err := rows.Scan(
			&a.ID, &a.IdentityID, &a.Type, &a.Severity,
			&a.Confidence, &a.RiskDelta, &a.Description,
			&resolved, &a.Timestamp, &metadata,
		); err != nil {
			return nil, err
		}

		a.Resolved = resolved == 1
		if metadata.Valid && metadata.String != "" {
			json.Unmarshal([]byte(metadata.String), &a.Metadata)
		}
		alerts = append(alerts, &a)
	}

	return alerts, rows.Err()
}

// ResolveAlert marks an alert as resolved.
func (r *SQLRepository) ResolveAlert(ctx context.Context, alertID string) error {
	query := `UPDATE anomaly_alerts SET resolved = 1 WHERE id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), alertID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}

	return nil
}

// SavePatternRule inserts or updates a pattern rule.
func (r *SQLRepository) SavePatternRule(ctx context.Context, rule *domain.PatternRule) error {
	if rule.ID == "" {
		return fmt.Errorf("%w: rule ID is required", domain.ErrInvalidInput)
	}

	now := time.Now().UTC()
	createdAt := rule.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	query := `
		INSERT INTO pattern_rules (
			id, name, description, threat_type, version, expression,
			risk_score, confidence, severity, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			threat_type = excluded.threat_type,
			version = excluded.version,
			expression = excluded.expression,
			risk_score = excluded.risk_score,
			confidence = excluded.confidence,
			severity = excluded.severity,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, rule.ThreatType,
		rule.Version, rule.Expression, rule.RiskScore, rule.Confidence,
		string(rule.Severity), boolToInt(rule.Enabled), createdAt, now,
	)
	return err
}

// GetPatternRule retrieves a pattern rule by ID.
func (r *SQLRepository) GetPatternRule(ctx context.Context, ruleID string) (*domain.PatternRule, error) {
	query := `
		SELECT id, name, description, threat_type, version, expression,
			   risk_score, confidence, severity, enabled, created_at, updated_at
		FROM pattern_rules
		WHERE id = ?
	`

	var rule domain.PatternRule
	var enabled int
	var description sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), ruleID).Scan(
		&rule.ID, &rule.Name, &description, &rule.ThreatType,
		&rule.Version, &rule.Expression, &rule.RiskScore, &rule.Confidence,
		&rule.Severity, &enabled, &rule.CreatedAt, &rule.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rule.Description = description.String
	rule.Enabled = enabled == 1

	return &rule, nil
}

// ListPatternRules retrieves all enabled pattern rules.
func (r *SQLRepository) ListPatternRules(ctx context.Context) ([]*domain.PatternRule, error) {
	query := `
		SELECT id, name, description, threat_type, version, expression,
			   risk_score, confidence, severity, enabled, created_at, updated_at
		FROM pattern_rules
		WHERE enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.PatternRule
	for rows.Next() {
		var rule domain.PatternRule
		var enabled int
		var description sql.NullString

		if err := rows.Scan(
			&rule.ID, &rule.Name, &description, &rule.ThreatType,
			&rule.Version, &rule.Expression, &rule.RiskScore, &rule.Confidence,
			&rule.Severity, &enabled, &rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, err
		}

		rule.Description = description.String
		rule.Enabled = enabled == 1
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// SaveGeoRecord appends a geo record and prunes the identity's history to
// the newest geoHistoryLimit entries.
func (r *SQLRepository) SaveGeoRecord(ctx context.Context, rec *domain.GeoRecord) error {
	if rec.IdentityID == "" {
		return fmt.Errorf("%w: identity ID is required", domain.ErrInvalidInput)
	}

	insert := `
		INSERT INTO geo_records (identity_id, country, source_ip, seen_at)
		VALUES (?, ?, ?, ?)
	`

	if _, err := r.db.ExecContext(ctx, r.rebind(insert),
		rec.IdentityID, rec.Country, rec.SourceIP, rec.SeenAt,
	); err != nil {
		return err
	}

	// Keep only the newest entries. The subquery yields no row when the
	// history is still under the limit, so nothing is deleted.
	prune := `
		DELETE FROM geo_records
		WHERE identity_id = ?
		  AND seen_at < (
			SELECT seen_at FROM geo_records
			WHERE identity_id = ?
			ORDER BY seen_at DESC
			LIMIT 1 OFFSET ?
		  )
	`

	_, err := r.db.ExecContext(ctx, r.rebind(prune),
		rec.IdentityID, rec.IdentityID, geoHistoryLimit-1,
	)
	return err
}

// ListGeoRecords retrieves an identity's geo history since a point in time,
// oldest first.
func (r *SQLRepository) ListGeoRecords(ctx context.Context, identityID string, since time.Time) ([]*domain.GeoRecord, error) {
	query := `
		SELECT identity_id, country, source_ip, seen_at
		FROM geo_records
		WHERE identity_id = ? AND seen_at >= ?
		ORDER BY seen_at
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), identityID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.GeoRecord
	for rows.Next() {
		var rec domain.GeoRecord
		if err := rows.Scan(&rec.IdentityID, &rec.Country, &rec.SourceIP, &rec.SeenAt); err != nil {
			return nil, err
		}
		records = append(records, &rec)
	}

	return records, rows.Err()
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

	// Convert ? to $1, $2, etc.
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
