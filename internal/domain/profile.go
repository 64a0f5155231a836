package domain

import "time"

// BehaviorBaseline is the exponentially weighted moving average of an
// identity's activity vectors, plus the recent locations seen.
type BehaviorBaseline struct {
	Vector          BehaviorVector `json:"vector"`
	SampleCount     int            `json:"sampleCount"`
	RecentLocations []string       `json:"recentLocations"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// RiskCategories holds the per-category risk scores of an identity.
// Each category is 0-100 and starts at the neutral midpoint 50.
type RiskCategories struct {
	TimeBased   float64 `json:"timeBased"`
	Location    float64 `json:"location"`
	DataAccess  float64 `json:"dataAccess"`
	Session     float64 `json:"session"`
	DeviceUsage float64 `json:"deviceUsage"`
}

// NeutralRiskCategories returns categories at the neutral starting point.
func NeutralRiskCategories() RiskCategories {
	return RiskCategories{
		TimeBased:   50,
		Location:    50,
		DataAccess:  50,
		Session:     50,
		DeviceUsage: 50,
	}
}

// Overall combines the categories into a single 0-100 risk score.
func (c RiskCategories) Overall() float64 {
	return c.TimeBased*0.20 + c.Location*0.25 + c.DataAccess*0.30 +
		c.Session*0.15 + c.DeviceUsage*0.10
}

// UserRiskProfile is the persistent behavioral risk state of an identity.
type UserRiskProfile struct {
	IdentityID  string           `json:"identityId"`
	OverallRisk float64          `json:"overallRisk"` // 0-100
	Categories  RiskCategories   `json:"categories"`
	Baseline    BehaviorBaseline `json:"baseline"`
	UpdatedAt   time.Time        `json:"updatedAt"`

	// Recent anomalies, newest last. Bounded.
	AnomalyHistory []AnomalyRecord `json:"anomalyHistory,omitempty"`
}

// AnomalyRecord is a compact entry in a profile's anomaly history.
type AnomalyRecord struct {
	Type      string    `json:"type"`
	Severity  Severity  `json:"severity"`
	Score     float64   `json:"score"`
	Timestamp time.Time `json:"timestamp"`
}

// AnomalyAlert is a full alert raised against an identity's activity.
type AnomalyAlert struct {
	ID          string    `json:"id"`
	IdentityID  string    `json:"identityId"`
	Type        string    `json:"type"`
	Severity    Severity  `json:"severity"`
	Confidence  float64   `json:"confidence"` // 0-100
	RiskDelta   float64   `json:"riskDelta"`
	Description string    `json:"description"`
	Resolved    bool      `json:"resolved"`
	Timestamp   time.Time `json:"timestamp"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// AnomalyScore is the per-dimension breakdown of a behavioral anomaly.
type AnomalyScore struct {
	Overall     float64 `json:"overall"` // 0-1
	Confidence  float64 `json:"confidence"`
	IsAnomaly   bool    `json:"isAnomaly"`
	AnomalyType string  `json:"anomalyType"`

	Time        float64 `json:"time"`
	Location    float64 `json:"location"`
	Volume      float64 `json:"volume"`
	Pattern     float64 `json:"pattern"`
	Application float64 `json:"application"`
}

// BehavioralCluster is one k-means cluster over identity behavior vectors.
type BehavioralCluster struct {
	ID        int            `json:"id"`
	Centroid  BehaviorVector `json:"centroid"`
	Members   []string       `json:"members"` // identity IDs
	Cohesion  float64        `json:"cohesion"`
	RiskLevel Severity       `json:"riskLevel"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// RiskForecast predicts an identity's risk trajectory.
type RiskForecast struct {
	IdentityID  string    `json:"identityId"`
	Trend       string    `json:"trend"` // "increasing", "decreasing", "stable"
	Confidence  float64   `json:"confidence"`
	SevenDay    float64   `json:"sevenDay"`  // 0-1
	ThirtyDay   float64   `json:"thirtyDay"` // 0-1
	GeneratedAt time.Time `json:"generatedAt"`
}

// BehaviorAnalytics is a rollup over all tracked identities.
type BehaviorAnalytics struct {
	TotalIdentities  int            `json:"totalIdentities"`
	HighRiskCount    int            `json:"highRiskCount"`
	AverageRisk      float64        `json:"averageRisk"`
	AnomalyTrends    []AnomalyTrend `json:"anomalyTrends"`
	TopRisky         []RiskySummary `json:"topRisky"`
	RiskDistribution map[string]int `json:"riskDistribution"`
	GeneratedAt      time.Time      `json:"generatedAt"`
}

// AnomalyTrend aggregates anomalies of one type.
type AnomalyTrend struct {
	Type        string  `json:"type"`
	Count       int     `json:"count"`
	AvgSeverity float64 `json:"avgSeverity"`
}

// RiskySummary is one entry in the top-risk identity list.
type RiskySummary struct {
	IdentityID    string   `json:"identityId"`
	OverallRisk   float64  `json:"overallRisk"`
	TopCategories []string `json:"topCategories"`
}
