package domain

// ThreatFeatures is the normalized feature vector extracted from a
// NetworkEvent. All fields are in [0, 1].
type ThreatFeatures struct {
	IPReputation        float64 `json:"ipReputation"`
	RequestFrequency    float64 `json:"requestFrequency"`
	PayloadSize         float64 `json:"payloadSize"`
	SessionDuration     float64 `json:"sessionDuration"`
	FailedAttempts      float64 `json:"failedAttempts"`
	TimeOfDay           float64 `json:"timeOfDay"`
	GeographicRisk      float64 `json:"geographicRisk"`
	ProtocolAnomaly     float64 `json:"protocolAnomaly"`
	UserAgentEntropy    float64 `json:"userAgentEntropy"`
	NetworkPatternScore float64 `json:"networkPatternScore"`

	// Degraded is set when a lookup (e.g. reputation) failed and a
	// neutral default was substituted.
	Degraded bool `json:"degraded,omitempty"`
}

// Slice returns the features as an ordered vector for model input.
func (f *ThreatFeatures) Slice() []float64 {
	return []float64{
		f.IPReputation,
		f.RequestFrequency,
		f.PayloadSize,
		f.SessionDuration,
		f.FailedAttempts,
		f.TimeOfDay,
		f.GeographicRisk,
		f.ProtocolAnomaly,
		f.UserAgentEntropy,
		f.NetworkPatternScore,
	}
}
