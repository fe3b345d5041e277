package skeleton

import (
	"fmt"
	"math"
)

// ConfidenceLevel is the tracker's ordinal confidence in a joint pose.
type ConfidenceLevel int

const (
	ConfidenceNone   ConfidenceLevel = iota // Joint out of range
	ConfidenceLow                           // Occluded, predicted pose
	ConfidenceMedium                        // Observed; highest level current SDKs report
	ConfidenceHigh                          // Reserved by the SDK
)

func (c ConfidenceLevel) String() string {
	switch c {
	case ConfidenceNone:
		return "none"
	case ConfidenceLow:
		return "low"
	case ConfidenceMedium:
		return "medium"
	case ConfidenceHigh:
		return "high"
	default:
		return fmt.Sprintf("confidence(%d)", int(c))
	}
}

// Weight maps the level to its fusion weight, normalised so that Medium
// weighs 1: None 0, Low 0.5, Medium 1, High 1.5.
func (c ConfidenceLevel) Weight() float64 {
	if c < ConfidenceNone {
		return 0
	}
	if c > ConfidenceHigh {
		c = ConfidenceHigh
	}
	return float64(c) / float64(ConfidenceMedium)
}

// ConfidenceFromWeight returns the level whose weight is nearest to w.
// Halfway values round up.
func ConfidenceFromWeight(w float64) ConfidenceLevel {
	if math.IsNaN(w) || w <= 0 {
		return ConfidenceNone
	}
	level := int(math.Floor(w*float64(ConfidenceMedium) + 0.5))
	if level > int(ConfidenceHigh) {
		return ConfidenceHigh
	}
	return ConfidenceLevel(level)
}
