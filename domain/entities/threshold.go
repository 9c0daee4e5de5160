package entities

import (
	"fmt"
	"strings"
)

// ApprovalThreshold decides which risk levels need a human decision.
// Below the threshold a manifest is approved by the host itself.
type ApprovalThreshold string

const (
	// ThresholdNone approves everything automatically. Testing only.
	ThresholdNone ApprovalThreshold = "none"
	// ThresholdAll sends every manifest to a human.
	ThresholdAll      ApprovalThreshold = "all"
	ThresholdLow      ApprovalThreshold = "low"
	ThresholdMedium   ApprovalThreshold = "medium"
	ThresholdHigh     ApprovalThreshold = "high"
	ThresholdCritical ApprovalThreshold = "critical"
)

// ParseApprovalThreshold parses a threshold name.
func ParseApprovalThreshold(s string) (ApprovalThreshold, error) {
	t := ApprovalThreshold(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case ThresholdNone, ThresholdAll, ThresholdLow, ThresholdMedium, ThresholdHigh, ThresholdCritical:
		return t, nil
	}
	return "", fmt.Errorf("unknown approval threshold %q", s)
}

// RequiresHuman reports whether a manifest at level needs a human decision.
// An unrecognized threshold requires a human for everything.
func (t ApprovalThreshold) RequiresHuman(level RiskLevel) bool {
	switch t {
	case ThresholdNone:
		return false
	case ThresholdAll, ThresholdLow:
		return true
	case ThresholdMedium:
		return level >= RiskLevelMedium
	case ThresholdHigh:
		return level >= RiskLevelHigh
	case ThresholdCritical:
		return level >= RiskLevelCritical
	default:
		return true
	}
}
