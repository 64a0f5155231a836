package behavior

import (
	"math/rand"
	"sort"
	"time"

	"github.com/perimetra/kestrel/internal/domain"
	"github.com/perimetra/kestrel/internal/scoring"
)

const (
	// DefaultClusterCount is the k in k-means.
	DefaultClusterCount = 5

	// minActivitiesForClustering excludes identities with thin history.
	minActivitiesForClustering = 10

	kmeansMaxIterations = 100
	kmeansConvergence   = 0.01
)

// Snapshot returns each clusterable identity's average behavior vector.
// The copy is immutable; clustering runs against it without holding any
// profiler locks.
func (p *Profiler) Snapshot() map[string]domain.BehaviorVector {
	out := map[string]domain.BehaviorVector{}
	for _, s := range p.shards {
		s.mu.Lock()
		for id, state := range s.identities {
			if len(state.history) <= minActivitiesForClustering {
				continue
			}
			out[id] = averageVector(state.history)
		}
		s.mu.Unlock()
	}
	return out
}

func averageVector(history []domain.UserActivity) domain.BehaviorVector {
	var avg domain.BehaviorVector
	n := float64(len(history))
	for i := range history {
		vec := history[i].Vector()
		for d := range avg {
			avg[d] += vec[d] / n
		}
	}
	return avg
}

// Cluster groups the snapshot's identities with k-means. The rng makes
// centroid initialization reproducible under a fixed seed. Returns nil
// when fewer identities than k are clusterable.
func Cluster(snapshot map[string]domain.BehaviorVector, k int, rng *rand.Rand, now time.Time) []domain.BehavioralCluster {
	if k <= 0 {
		k = DefaultClusterCount
	}
	if len(snapshot) < k {
		return nil
	}

	// Deterministic iteration order so a seeded rng reproduces runs.
	ids := make([]string, 0, len(snapshot))
	for id := range snapshot {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	vectors := make([]domain.BehaviorVector, len(ids))
	for i, id := range ids {
		vectors[i] = snapshot[id]
	}

	centroids := make([]domain.BehaviorVector, k)
	for i := range centroids {
		centroids[i] = vectors[rng.Intn(len(vectors))]
	}

	assignments := make([]int, len(vectors))
	for iter := 0; iter < kmeansMaxIterations; iter++ {
		for i, vec := range vectors {
			assignments[i] = nearestCentroid(vec, centroids)
		}

		converged := true
		for c := range centroids {
			var sum domain.BehaviorVector
			count := 0
			for i, a := range assignments {
				if a != c {
					continue
				}
				for d := range sum {
					sum[d] += vectors[i][d]
				}
				count++
			}
			if count == 0 {
				continue
			}
			for d := range sum {
				sum[d] /= float64(count)
			}
			if scoring.Euclidean(sum[:], centroids[c][:]) > kmeansConvergence {
				converged = false
			}
			centroids[c] = sum
		}
		if converged {
			break
		}
	}

	clusters := make([]domain.BehavioralCluster, k)
	for c := range clusters {
		var members []string
		var memberVectors []domain.BehaviorVector
		for i, a := range assignments {
			if a == c {
				members = append(members, ids[i])
				memberVectors = append(memberVectors, vectors[i])
			}
		}
		clusters[c] = domain.BehavioralCluster{
			ID:        c,
			Centroid:  centroids[c],
			Members:   members,
			Cohesion:  cohesion(centroids[c], memberVectors),
			RiskLevel: centroidRisk(centroids[c]),
			UpdatedAt: now,
		}
	}
	return clusters
}

func nearestCentroid(vec domain.BehaviorVector, centroids []domain.BehaviorVector) int {
	best, bestDist := 0, scoring.Euclidean(vec[:], centroids[0][:])
	for c := 1; c < len(centroids); c++ {
		if d := scoring.Euclidean(vec[:], centroids[c][:]); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// cohesion is the inverse of the average member distance to the centroid.
func cohesion(centroid domain.BehaviorVector, members []domain.BehaviorVector) float64 {
	if len(members) == 0 {
		return 0
	}
	var sum float64
	for _, m := range members {
		sum += scoring.Euclidean(m[:], centroid[:])
	}
	return 1 / (1 + sum/float64(len(members)))
}

// centroidRisk grades a cluster by its centroid: off-hours activity,
// heavy volume and long sessions raise it.
func centroidRisk(c domain.BehaviorVector) domain.Severity {
	timeRisk := 0.3
	if c[0] < 0.2 || c[0] > 0.9 {
		timeRisk = 0.7
	}
	volumeRisk := 0.2
	if c[1] > 0.8 {
		volumeRisk = 0.8
	}
	sessionRisk := 0.2
	if c[2] > 0.8 {
		sessionRisk = 0.6
	}

	overall := (timeRisk + volumeRisk + sessionRisk) / 3
	switch {
	case overall > 0.7:
		return domain.SeverityCritical
	case overall > 0.5:
		return domain.SeverityHigh
	case overall > 0.3:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}
