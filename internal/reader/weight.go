package reader

import (
	"fmt"
	"math"
	"strconv"
)

// WeightClass is the display class of an aggregate vote weight.
type WeightClass string

const (
	WeightPositive WeightClass = "positive"
	WeightNegative WeightClass = "negative"
	WeightNeutral  WeightClass = "neutral"
)

// Weight is an aggregate vote total and its derived display class.
type Weight struct {
	Total int         `json:"total"`
	Class WeightClass `json:"class"`
}

// NewWeight derives the class of total.
func NewWeight(total int) Weight {
	switch {
	case total > 0:
		return Weight{Total: total, Class: WeightPositive}
	case total < 0:
		return Weight{Total: total, Class: WeightNegative}
	default:
		return Weight{Total: total, Class: WeightNeutral}
	}
}

// ModWeight applies change to total. The class depends only on the new total.
func ModWeight(total, change int) Weight {
	return NewWeight(total + change)
}

// Markers returns the style markers carried by the weight: exactly one of
// "up", "down" or "nil".
func (w Weight) Markers() []string {
	switch w.Class {
	case WeightPositive:
		return []string{"up"}
	case WeightNegative:
		return []string{"down"}
	default:
		return []string{"nil"}
	}
}

// HasMarker reports whether marker is currently carried.
func (w Weight) HasMarker(marker string) bool {
	for _, m := range w.Markers() {
		if m == marker {
			return true
		}
	}
	return false
}

// ReadableWeight shortens large totals: 1500 -> "1.5k", -2300000 -> "-2.3m".
func ReadableWeight(total int) string {
	abs := math.Abs(float64(total))
	switch {
	case abs >= 1_000_000:
		return shorten(float64(total)/1_000_000) + "m"
	case abs >= 1_000:
		return shorten(float64(total)/1_000) + "k"
	default:
		return strconv.Itoa(total)
	}
}

func shorten(v float64) string {
	rounded := math.Round(v*10) / 10
	return fmt.Sprintf("%.1f", rounded)
}
