package discovery

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

const (
	DefaultLookbackDays = 7
	DefaultMaxItems     = 25
)

// Window bounds what a single discovery pass keeps for a source.
type Window struct {
	Since    time.Time
	MaxItems int
}

// WindowFor reads lookback_days and max_items from source metadata.
func WindowFor(metadata map[string]any, now time.Time) Window {
	days := intValue(metadata["lookback_days"], DefaultLookbackDays)
	maxItems := intValue(metadata["max_items"], DefaultMaxItems)
	return Window{
		Since:    now.UTC().AddDate(0, 0, -days),
		MaxItems: maxItems,
	}
}

// Filter drops candidates published before Since and caps the list at MaxItems.
// Candidates without a publish time are kept.
func (w Window) Filter(candidates []Candidate) []Candidate {
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.PublishedAt != nil && !w.Since.IsZero() && c.PublishedAt.Before(w.Since) {
			continue
		}
		out = append(out, c)
		if w.MaxItems > 0 && len(out) == w.MaxItems {
			break
		}
	}
	return out
}

func intValue(raw any, fallback int) int {
	var value float64
	switch v := raw.(type) {
	case int:
		value = float64(v)
	case int64:
		value = float64(v)
	case float64:
		value = v
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return fallback
		}
		value = f
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fallback
		}
		value = f
	default:
		return fallback
	}
	if value < 1 || math.IsNaN(value) || math.IsInf(value, 0) {
		return fallback
	}
	return int(value)
}
