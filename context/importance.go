package context

import (
	"math"
	"time"
)

// typeMultiplier implements the type_mul table (spec §4.10).
func typeMultiplier(t MemoryType) float64 {
	switch t {
	case MemoryWorking:
		return 1.3
	case MemoryProcedural:
		return 1.2
	case MemorySemantic:
		return 1.1
	case MemoryFactual:
		return 1.0
	case MemoryEpisodic:
		return 0.9
	default:
		return 1.0
	}
}

// decayRate implements the age_decay rate table (spec §4.10).
func decayRate(t MemoryType) float64 {
	switch t {
	case MemoryWorking:
		return 0.10
	case MemoryEpisodic:
		return 0.02
	case MemoryFactual:
		return 0.01
	case MemorySemantic:
		return 0.008
	case MemoryProcedural:
		return 0.005
	default:
		return 0.01
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func feedbackScore(metadata map[string]interface{}) float64 {
	if v, ok := metadata["user_rating"]; ok {
		if f, ok := toFloat(v); ok {
			return clamp01(f / 5)
		}
	}
	if v, ok := metadata["helpful"]; ok {
		if b, ok := v.(bool); ok {
			if b {
				return 0.9
			}
			return 0.2
		}
	}
	if v, ok := metadata["corrected"]; ok {
		if b, ok := v.(bool); ok && b {
			return 0.1
		}
	}
	if v, ok := metadata["incorrect"]; ok {
		if b, ok := v.(bool); ok && b {
			return 0.1
		}
	}
	if v, ok := metadata["bookmarked"]; ok {
		if b, ok := v.(bool); ok && b {
			return 0.95
		}
	}
	if v, ok := metadata["favorite"]; ok {
		if b, ok := v.(bool); ok && b {
			return 0.95
		}
	}
	if v, ok := metadata["usage_context"]; ok {
		if s, ok := v.(string); ok {
			switch s {
			case "critical":
				return 1.0
			case "important":
				return 0.8
			case "routine":
				return 0.4
			case "experimental":
				return 0.2
			}
		}
	}
	return 0.5
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// ImportanceScore computes the spec §4.10 importance formula:
//
//	score = (0.3*base + 0.25*access + 0.30*recency + 0.15*feedback) * type_mul * age_decay
//
// clamped to [0,1].
func ImportanceScore(m MemoryItem, now time.Time) float64 {
	base := clamp01(m.Importance)

	access := math.Log(float64(m.AccessCount)+1) / 10
	if m.AccessCount == 0 {
		access = 0.1
	}

	lastRef := m.LastAccessed
	if m.CreatedAt.After(lastRef) {
		lastRef = m.CreatedAt
	}
	hoursSince := now.Sub(lastRef).Hours()
	recency := math.Pow(2, -hoursSince/24)
	if recency < 0.01 {
		recency = 0.01
	}

	feedback := feedbackScore(m.Metadata)

	raw := 0.3*base + 0.25*access + 0.30*recency + 0.15*feedback
	ageDays := now.Sub(m.CreatedAt).Hours() / 24
	decay := math.Exp(-decayRate(m.Type) * ageDays)
	if decay < 0.05 {
		decay = 0.05
	}

	return clamp01(raw * typeMultiplier(m.Type) * decay)
}
