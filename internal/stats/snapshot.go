package stats

import "strings"

// Raw is one statistics record as returned by the platform for a
// (creative, window) pair. Cost fields may be zero when the platform omits them.
type Raw struct {
	Spent  float64
	Clicks float64
	Goals  float64
	CPC    float64
	CPA    float64
}

// Snapshot is the normalized metric set. All values are non-negative.
type Snapshot struct {
	Spend          float64 `json:"spend"`
	Clicks         float64 `json:"clicks"`
	Conversions    float64 `json:"conversions"`
	ClickCost      float64 `json:"click_cost"`
	ConversionCost float64 `json:"conversion_cost"`
}

// Normalize fills missing cost metrics from spend/volume ratios.
func Normalize(r Raw) Snapshot {
	s := Snapshot{
		Spend:       nonNegative(r.Spent),
		Clicks:      nonNegative(r.Clicks),
		Conversions: nonNegative(r.Goals),
	}
	s.ClickCost = costOr(nonNegative(r.CPC), s.Spend, s.Clicks)
	s.ConversionCost = costOr(nonNegative(r.CPA), s.Spend, s.Conversions)
	return s
}

func costOr(reported, spend, volume float64) float64 {
	if reported > 0 {
		return reported
	}
	if volume > 0 {
		return spend / volume
	}
	return 0
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

type Metric string

const (
	Spend          Metric = "SPEND"
	Clicks         Metric = "CLICKS"
	Conversions    Metric = "CONVERSIONS"
	ClickCost      Metric = "CLICK_COST"
	ConversionCost Metric = "CONVERSION_COST"
)

// aliases used by policy documents produced by the settings UI
var metricAliases = map[string]Metric{
	"SPEND":           Spend,
	"SPENT":           Spend,
	"CLICKS":          Clicks,
	"CONVERSIONS":     Conversions,
	"RESULTS":         Conversions,
	"GOALS":           Conversions,
	"CLICK_COST":      ClickCost,
	"CPC":             ClickCost,
	"CONVERSION_COST": ConversionCost,
	"RESULT_COST":     ConversionCost,
	"CPA":             ConversionCost,
}

// ParseMetric resolves a metric name or one of its aliases.
func ParseMetric(name string) (Metric, bool) {
	m, ok := metricAliases[strings.ToUpper(strings.TrimSpace(name))]
	return m, ok
}

// Value returns the named metric; ok is false for unknown metrics.
func (s Snapshot) Value(m Metric) (float64, bool) {
	switch m {
	case Spend:
		return s.Spend, true
	case Clicks:
		return s.Clicks, true
	case Conversions:
		return s.Conversions, true
	case ClickCost:
		return s.ClickCost, true
	case ConversionCost:
		return s.ConversionCost, true
	}
	return 0, false
}
