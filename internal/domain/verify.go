package domain

import "time"

// Identity is the account record consulted during verification.
type Identity struct {
	ID                string    `json:"id"`
	Username          string    `json:"username"`
	Role              string    `json:"role"` // "user", "analyst", "admin"
	Active            bool      `json:"active"`
	MFAVerified       bool      `json:"mfaVerified"`
	BiometricVerified bool      `json:"biometricVerified"`
	CreatedAt         time.Time `json:"createdAt"`
}

// AccessRequest is the context of a single access attempt to verify.
type AccessRequest struct {
	IdentityID        string    `json:"identityId"`
	DeviceFingerprint string    `json:"deviceFingerprint"`
	SourceIP          string    `json:"sourceIp"`
	Location          string    `json:"location,omitempty"` // country code
	Resource          string    `json:"resource"`
	RequestType       string    `json:"requestType"` // "read", "write", "admin", "sensitive"
	Timestamp         time.Time `json:"timestamp"`
}

// Verification methods, ordered weakest to strongest.
const (
	MethodDevice    = "device"
	MethodToken     = "token"
	MethodMFA       = "mfa"
	MethodBiometric = "biometric"
)

// VerificationResult is the outcome of a zero-trust access evaluation.
type VerificationResult struct {
	IdentityID   string   `json:"identityId"`
	Granted      bool     `json:"granted"`
	RiskScore    float64  `json:"riskScore"` // 0-100
	RiskBand     Severity `json:"riskBand"`
	Method       string   `json:"method"` // "device", "token", "mfa", "biometric"
	RiskFactors  []string `json:"riskFactors,omitempty"`
	DenialReason string   `json:"denialReason,omitempty"`

	// RequiresAdditionalAuth is set for high and critical bands.
	RequiresAdditionalAuth bool `json:"requiresAdditionalAuth"`

	// Session issued on grant.
	SessionID string    `json:"sessionId,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`

	// Degraded marks a partial verdict produced after the caller's
	// deadline expired before all checks ran.
	Degraded bool `json:"degraded,omitempty"`
}

// TrustedDevice is a registered device in the trust registry.
type TrustedDevice struct {
	ID           string    `json:"id"`
	IdentityID   string    `json:"identityId"`
	Fingerprint  string    `json:"fingerprint"`
	Name         string    `json:"name"`
	TrustScore   float64   `json:"trustScore"` // 0-100
	Active       bool      `json:"active"`
	RegisteredAt time.Time `json:"registeredAt"`
	LastUsedAt   time.Time `json:"lastUsedAt"`
}

// Session is an issued access session with a risk-dependent TTL.
type Session struct {
	ID         string    `json:"id"`
	IdentityID string    `json:"identityId"`
	RiskScore  float64   `json:"riskScore"`
	IssuedAt   time.Time `json:"issuedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// GeoRecord is one entry in an identity's location history.
type GeoRecord struct {
	IdentityID string    `json:"identityId"`
	Country    string    `json:"country"`
	SourceIP   string    `json:"sourceIp"`
	SeenAt     time.Time `json:"seenAt"`
}
