// Package zerotrust makes grant/deny decisions for individual access
// requests by accumulating risk points from independent checks: device
// trust, geographic movement, address reputation, behavioral context,
// and resource sensitivity.
package zerotrust

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/perimetra/kestrel/internal/domain"
	"github.com/perimetra/kestrel/internal/scoring"
)

// Risk points contributed by each check.
const (
	pointsUnknownDevice       = 25.0
	pointsUnknownLocation     = 10.0
	pointsImpossibleTravel    = 40.0
	pointsUnusualCountry      = 20.0
	pointsFlaggedAddress      = 50.0
	pointsExternalToInternal  = 15.0
	pointsOffHoursSensitive   = 15.0
	pointsPrivilegeEscalation = 30.0
	pointsPerSensitiveKeyword = 10.0
	pointsWriteSensitive      = 15.0
	trustedDeviceBaselineRisk = 20.0
)

// Session TTLs by risk band.
const (
	lowRiskSessionTTL      = 8 * time.Hour
	elevatedRiskSessionTTL = 2 * time.Hour
)

// Window for impossible-travel and country-frequency checks.
const (
	impossibleTravelWindow = 2 * time.Hour
	countryHistoryWindow   = 30 * 24 * time.Hour
)

var sensitiveKeywords = []string{
	"admin", "database", "config", "api-key", "password", "backup", "audit",
}

// defaultSuspiciousAddrs are addresses flagged regardless of cached
// reputation data.
var defaultSuspiciousAddrs = map[string]struct{}{
	"203.0.113.100": {},
	"198.51.100.50": {},
	"192.0.2.200":   {},
}

// Verifier evaluates access requests against identity, device, and
// location state held in the store and cache.
type Verifier struct {
	store      domain.Store
	cache      domain.Cache
	logger     *slog.Logger
	now        func() time.Time
	suspicious map[string]struct{}
}

// New creates a Verifier backed by the given store and cache.
func New(store domain.Store, cache domain.Cache, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		store:      store,
		cache:      cache,
		logger:     logger.With("component", "zerotrust"),
		now:        time.Now,
		suspicious: defaultSuspiciousAddrs,
	}
}

// SetClock overrides the time source. Intended for tests.
func (v *Verifier) SetClock(now func() time.Time) {
	v.now = now
}

// checkResult is the contribution of one verification check.
type checkResult struct {
	points  float64
	factors []string
	trusted bool
}

// Verify evaluates one access request and returns a decision. Auxiliary
// lookups that fail degrade to neutral contributions; the only errors
// returned are invalid input and store failures on the identity lookup
// itself. An unknown identity produces a denial, not an error. If the
// caller's deadline expires mid-evaluation, the verdict accumulated so
// far is returned marked Degraded.
func (v *Verifier) Verify(ctx context.Context, req *domain.AccessRequest) (*domain.VerificationResult, error) {
	if req == nil || req.IdentityID == "" || req.SourceIP == "" {
		return nil, domain.ErrInvalidInput
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = v.now()
	}

	identity, err := v.store.GetIdentity(ctx, req.IdentityID)
	if err != nil {
		if err == domain.ErrNotFound {
			return &domain.VerificationResult{
				IdentityID:   req.IdentityID,
				Granted:      false,
				RiskScore:    100,
				RiskBand:     domain.SeverityCritical,
				Method:       domain.MethodToken,
				DenialReason: "unknown identity",
			}, nil
		}
		return nil, err
	}

	var (
		risk     float64
		factors  []string
		trusted  bool
		degraded bool
	)

	checks := []func(context.Context, *domain.AccessRequest, *domain.Identity) checkResult{
		v.checkDeviceTrust,
		v.checkGeography,
		v.checkAddressReputation,
		v.checkBehavior,
		v.checkResourceSensitivity,
	}
	for _, check := range checks {
		if ctx.Err() != nil {
			degraded = true
			break
		}
		res := check(ctx, req, identity)
		risk += res.points
		factors = append(factors, res.factors...)
		trusted = trusted || res.trusted
	}

	risk = scoring.Clamp(risk, 0, 100)
	band := domain.SeverityForRisk(risk)

	result := &domain.VerificationResult{
		IdentityID:             req.IdentityID,
		RiskScore:              risk,
		RiskBand:               band,
		Method:                 selectMethod(band, identity, trusted),
		RiskFactors:            factors,
		RequiresAdditionalAuth: band == domain.SeverityHigh || band == domain.SeverityCritical,
		Degraded:               degraded,
	}

	result.Granted = decide(band, identity)
	if !result.Granted {
		result.DenialReason = denialReason(band, identity, factors)
		v.logger.Info("access denied",
			"identity", req.IdentityID,
			"risk", risk,
			"band", band,
			"reason", result.DenialReason)
		return result, nil
	}

	session, err := v.issueSession(ctx, req.IdentityID, risk, band)
	if err != nil {
		// A cache outage must not block the grant path.
		v.logger.Warn("session persistence failed", "identity", req.IdentityID, "error", err)
	}
	result.SessionID = session.ID
	result.ExpiresAt = session.ExpiresAt

	v.logger.Debug("access granted",
		"identity", req.IdentityID,
		"risk", risk,
		"band", band,
		"method", result.Method,
		"degraded", degraded)
	return result, nil
}

func (v *Verifier) checkDeviceTrust(ctx context.Context, req *domain.AccessRequest, _ *domain.Identity) checkResult {
	if req.DeviceFingerprint == "" {
		return checkResult{points: pointsUnknownDevice, factors: []string{"unknown device"}}
	}

	device, err := v.store.GetDeviceByFingerprint(ctx, req.IdentityID, req.DeviceFingerprint)
	if err != nil || device == nil || !device.Active {
		if err != nil && err != domain.ErrNotFound {
			v.logger.Warn("device lookup failed", "identity", req.IdentityID, "error", err)
		}
		return checkResult{points: pointsUnknownDevice, factors: []string{"unknown device"}}
	}

	device.LastUsedAt = req.Timestamp
	if err := v.store.SaveDevice(ctx, device); err != nil {
		v.logger.Warn("device last-used update failed", "device", device.ID, "error", err)
	}

	points := trustedDeviceBaselineRisk - device.TrustScore/5
	if points < 0 {
		points = 0
	}
	return checkResult{points: points, trusted: true}
}

func (v *Verifier) checkGeography(ctx context.Context, req *domain.AccessRequest, _ *domain.Identity) checkResult {
	var res checkResult
	if req.Location == "" {
		res.points += pointsUnknownLocation
		res.factors = append(res.factors, "unknown location")
		return res
	}

	since := req.Timestamp.Add(-countryHistoryWindow)
	history, err := v.store.ListGeoRecords(ctx, req.IdentityID, since)
	if err != nil {
		v.logger.Warn("geo history lookup failed", "identity", req.IdentityID, "error", err)
		history = nil
	}

	if len(history) > 0 {
		last := history[len(history)-1]
		if last.Country != req.Location && req.Timestamp.Sub(last.SeenAt) < impossibleTravelWindow {
			res.points += pointsImpossibleTravel
			res.factors = append(res.factors, "impossible travel detected")
		}

		seen := false
		for _, rec := range history {
			if rec.Country == req.Location {
				seen = true
				break
			}
		}
		if !seen {
			res.points += pointsUnusualCountry
			res.factors = append(res.factors, "unusual geographic access")
		}
	}

	rec := &domain.GeoRecord{
		IdentityID: req.IdentityID,
		Country:    req.Location,
		SourceIP:   req.SourceIP,
		SeenAt:     req.Timestamp,
	}
	if err := v.store.SaveGeoRecord(ctx, rec); err != nil {
		v.logger.Warn("geo record persistence failed", "identity", req.IdentityID, "error", err)
	}
	return res
}

func (v *Verifier) checkAddressReputation(ctx context.Context, req *domain.AccessRequest, _ *domain.Identity) checkResult {
	var res checkResult

	flagged := false
	if _, ok := v.suspicious[req.SourceIP]; ok {
		flagged = true
	} else if v.cache != nil {
		entry, err := v.cache.GetReputation(ctx, req.SourceIP)
		if err != nil {
			v.logger.Warn("reputation lookup failed", "addr", req.SourceIP, "error", err)
		} else if entry != nil && entry.Flagged {
			flagged = true
		}
	}
	if flagged {
		res.points += pointsFlaggedAddress
		res.factors = append(res.factors, "suspicious source address")
	}

	internal := req.RequestType == "admin" ||
		strings.Contains(req.Resource, "admin") ||
		strings.Contains(req.Resource, "system")
	if !isPrivateIP(req.SourceIP) && internal {
		res.points += pointsExternalToInternal
		res.factors = append(res.factors, "external access to internal resource")
	}
	return res
}

func (v *Verifier) checkBehavior(_ context.Context, req *domain.AccessRequest, identity *domain.Identity) checkResult {
	var res checkResult

	hour := req.Timestamp.Hour()
	if (hour < 6 || hour > 22) && req.RequestType == "sensitive" {
		res.points += pointsOffHoursSensitive
		res.factors = append(res.factors, "unusual access hours")
	}

	if identity.Role == "user" &&
		(req.RequestType == "admin" || strings.Contains(req.Resource, "admin")) {
		res.points += pointsPrivilegeEscalation
		res.factors = append(res.factors, "privilege escalation attempt")
	}
	return res
}

func (v *Verifier) checkResourceSensitivity(_ context.Context, req *domain.AccessRequest, _ *domain.Identity) checkResult {
	var res checkResult

	resource := strings.ToLower(req.Resource)
	var matched []string
	for _, kw := range sensitiveKeywords {
		if strings.Contains(resource, kw) {
			matched = append(matched, kw)
		}
	}
	if len(matched) > 0 {
		res.points += float64(len(matched)) * pointsPerSensitiveKeyword
		res.factors = append(res.factors, "sensitive resource access: "+strings.Join(matched, ", "))
		if req.RequestType == "write" {
			res.points += pointsWriteSensitive
			res.factors = append(res.factors, "write access to sensitive resource")
		}
	}
	return res
}

func selectMethod(band domain.Severity, identity *domain.Identity, trustedDevice bool) string {
	switch band {
	case domain.SeverityCritical:
		if identity.BiometricVerified {
			return domain.MethodBiometric
		}
		return domain.MethodMFA
	case domain.SeverityHigh:
		if identity.MFAVerified {
			return domain.MethodMFA
		}
		return domain.MethodToken
	default:
		if trustedDevice {
			return domain.MethodDevice
		}
		return domain.MethodToken
	}
}

func decide(band domain.Severity, identity *domain.Identity) bool {
	if identity.Role == "admin" && band != domain.SeverityCritical {
		return true
	}
	if band == domain.SeverityCritical && !identity.BiometricVerified && !identity.MFAVerified {
		return false
	}
	if band == domain.SeverityHigh && !identity.MFAVerified && !identity.BiometricVerified {
		return false
	}
	return identity.Active
}

func denialReason(band domain.Severity, identity *domain.Identity, factors []string) string {
	if !identity.Active {
		return "account inactive"
	}
	switch band {
	case domain.SeverityCritical:
		if len(factors) > 0 {
			return "critical risk: " + strings.Join(factors, ", ")
		}
		return "critical risk without strong authentication"
	case domain.SeverityHigh:
		if len(factors) > 0 {
			return "elevated risk: " + strings.Join(factors, ", ")
		}
		return "elevated risk without multi-factor authentication"
	default:
		return strings.Join(factors, ", ")
	}
}

func isPrivateIP(ip string) bool {
	return strings.HasPrefix(ip, "192.168.") ||
		strings.HasPrefix(ip, "10.") ||
		strings.HasPrefix(ip, "172.") ||
		ip == "127.0.0.1" ||
		ip == "localhost"
}
