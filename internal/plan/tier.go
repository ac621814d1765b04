package plan

import (
	"fmt"
	"strings"
)

// Tier is a topic's priority. Lower rank is more urgent.
type Tier string

const (
	TierCritical Tier = "critical"
	TierHigh     Tier = "high"
	TierMedium   Tier = "medium"
	TierLow      Tier = "low"
	TierOptional Tier = "optional"
)

// Tiers lists every tier from most to least urgent.
var Tiers = []Tier{TierCritical, TierHigh, TierMedium, TierLow, TierOptional}

// Rank returns 0 for critical through 4 for optional, and len(Tiers) for an
// unknown tier so it sorts last.
func (t Tier) Rank() int {
	for i, known := range Tiers {
		if t == known {
			return i
		}
	}
	return len(Tiers)
}

func (t Tier) Valid() bool { return t.Rank() < len(Tiers) }

// Label is the human-readable priority tag attached to exported and
// unplaced topics.
func (t Tier) Label() string {
	switch t {
	case TierCritical:
		return "CRITICAL - Must Study"
	case TierHigh:
		return "HIGH PRIORITY"
	case TierMedium:
		return "MEDIUM PRIORITY"
	case TierLow:
		return "LOW PRIORITY - Optional"
	case TierOptional:
		return "OPTIONAL - If Time Permits"
	default:
		return strings.ToUpper(string(t))
	}
}

// ParseTier accepts a tier name case-insensitively. Empty means medium.
func ParseTier(s string) (Tier, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return TierMedium, nil
	}
	t := Tier(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown priority tier %q", s)
	}
	return t, nil
}
