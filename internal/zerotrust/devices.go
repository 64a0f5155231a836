package zerotrust

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/perimetra/kestrel/internal/domain"
)

// Newly registered devices start at medium trust.
const initialTrustScore = 50.0

// Fingerprint derives a stable device fingerprint from raw device
// material (user agent plus any additional descriptors).
func Fingerprint(material string) string {
	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])[:16]
}

// RegisterDevice adds a device to the trust registry for an identity.
// A missing fingerprint is derived from the device name.
func (v *Verifier) RegisterDevice(ctx context.Context, identityID, fingerprint, name string) (*domain.TrustedDevice, error) {
	if identityID == "" {
		return nil, domain.ErrInvalidInput
	}
	if name == "" {
		name = "unknown device"
	}
	if fingerprint == "" {
		fingerprint = Fingerprint(name)
	}

	device := &domain.TrustedDevice{
		ID:           uuid.NewString(),
		IdentityID:   identityID,
		Fingerprint:  fingerprint,
		Name:         name,
		TrustScore:   initialTrustScore,
		Active:       true,
		RegisteredAt: v.now(),
		LastUsedAt:   v.now(),
	}
	if err := v.store.SaveDevice(ctx, device); err != nil {
		return nil, err
	}
	v.logger.Info("device registered", "identity", identityID, "device", device.ID)
	return device, nil
}

// ListDevices returns the active trusted devices for an identity.
func (v *Verifier) ListDevices(ctx context.Context, identityID string) ([]*domain.TrustedDevice, error) {
	devices, err := v.store.ListDevices(ctx, identityID)
	if err != nil {
		return nil, err
	}
	active := devices[:0]
	for _, d := range devices {
		if d.Active {
			active = append(active, d)
		}
	}
	return active, nil
}

// RevokeDevice deactivates a device. Revoked devices no longer lower
// verification risk.
func (v *Verifier) RevokeDevice(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return domain.ErrInvalidInput
	}
	return v.store.RevokeDevice(ctx, deviceID)
}

// issueSession stores a session in the cache with a TTL chosen by band:
// 8h for low risk, 2h for anything elevated. The session is returned
// even when persistence fails so a cache outage cannot block a grant.
func (v *Verifier) issueSession(ctx context.Context, identityID string, risk float64, band domain.Severity) (*domain.Session, error) {
	ttl := elevatedRiskSessionTTL
	if band == domain.SeverityLow {
		ttl = lowRiskSessionTTL
	}

	now := v.now()
	session := &domain.Session{
		ID:         uuid.NewString(),
		IdentityID: identityID,
		RiskScore:  risk,
		IssuedAt:   now,
		ExpiresAt:  now.Add(ttl),
	}

	if v.cache == nil {
		return session, nil
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return session, err
	}
	if err := v.cache.Set(ctx, sessionKey(session.ID), payload, ttl); err != nil {
		return session, err
	}
	return session, nil
}

// GetSession looks up an active session by ID. Expired or unknown
// sessions return ErrNotFound.
func (v *Verifier) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	if sessionID == "" {
		return nil, domain.ErrInvalidInput
	}
	if v.cache == nil {
		return nil, domain.ErrNotFound
	}
	payload, err := v.cache.Get(ctx, sessionKey(sessionID))
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, domain.ErrNotFound
	}
	var session domain.Session
	if err := json.Unmarshal(payload, &session); err != nil {
		return nil, err
	}
	if !session.ExpiresAt.After(v.now()) {
		return nil, domain.ErrNotFound
	}
	return &session, nil
}

// RevokeSession drops a session before its natural expiry.
func (v *Verifier) RevokeSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return domain.ErrInvalidInput
	}
	if v.cache == nil {
		return nil
	}
	return v.cache.Delete(ctx, sessionKey(sessionID))
}

func sessionKey(id string) string {
	return "session:" + id
}
