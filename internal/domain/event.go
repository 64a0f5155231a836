package domain

import (
	"time"
)

// NetworkEvent represents a single observed network event to be scored.
type NetworkEvent struct {
	// Core identifiers
	ID       string `json:"id"`
	SourceIP string `json:"sourceIp"`
	DestIP   string `json:"destIp"`
	UserID   string `json:"userId,omitempty"`

	// Connection details
	Protocol string `json:"protocol"`
	Port     int    `json:"port"`

	// Payload characteristics
	PayloadSize int    `json:"payloadSize"`
	Payload     string `json:"payload,omitempty"`
	UserAgent   string `json:"userAgent,omitempty"`

	// Session context
	SessionDuration  float64 `json:"sessionDuration"`  // seconds
	RequestFrequency float64 `json:"requestFrequency"` // requests per minute
	FailedAttempts   int     `json:"failedAttempts"`

	// Origin
	Country string `json:"country,omitempty"`

	// Temporal
	Timestamp time.Time `json:"timestamp"`

	// Optional metadata
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// EventBatchRequest is the API request payload for event analysis.
type EventBatchRequest struct {
	Events []NetworkEvent `json:"events"`
}

// UserActivity represents one observed action by an identity.
type UserActivity struct {
	ID         string    `json:"id"`
	IdentityID string    `json:"identityId"`
	Action     string    `json:"action"` // "login", "read", "write", "download", "admin"
	Resource   string    `json:"resource,omitempty"`
	FileType   string    `json:"fileType,omitempty"`
	SourceIP   string    `json:"sourceIp,omitempty"`
	Location   string    `json:"location,omitempty"` // country code
	Success    bool      `json:"success"`
	Timestamp  time.Time `json:"timestamp"`

	// Volume and interaction measurements
	DataVolume      int64   `json:"dataVolume"`      // bytes
	SessionDuration float64 `json:"sessionDuration"` // seconds
	ClickRate       float64 `json:"clickRate"`       // interactions per minute
	KeystrokeRate   float64 `json:"keystrokeRate"`   // keystrokes per minute
	AppCount        int     `json:"appCount"`        // distinct applications touched
}

// BehaviorVector is the 6-dimensional normalized representation of an
// activity used for baselining and clustering.
type BehaviorVector [6]float64

// Vector normalizes the activity into a BehaviorVector. Dimensions:
// hour-of-day, data volume, session length, click rate, keystroke rate,
// application breadth.
func (a *UserActivity) Vector() BehaviorVector {
	return BehaviorVector{
		float64(a.Timestamp.Hour()) / 24.0,
		float64(a.DataVolume) / (1000.0 * 1024 * 1024),
		(a.SessionDuration / 60.0) / 480.0,
		a.ClickRate / 100.0,
		a.KeystrokeRate / 100.0,
		float64(a.AppCount) / 10.0,
	}
}
