package progress

import (
	"encoding/json"
	"math"
	"strconv"
)

// Percent is a 0–100 value that may be "not applicable" (zero denominator,
// no data). The zero value is not applicable.
type Percent struct {
	Value float64
	Valid bool
}

// NotApplicable is the sentinel for undefined ratios.
var NotApplicable = Percent{}

func Of(v float64) Percent {
	return Percent{Value: v, Valid: true}
}

// Ratio returns round-half-up(100*num/den) clamped to [0, 100], or NotApplicable
// when den is zero.
func Ratio(num, den int) Percent {
	if den <= 0 {
		return NotApplicable
	}
	return Of(RoundHalfUp(Clamp(100 * float64(num) / float64(den))))
}

func (p Percent) String() string {
	if !p.Valid {
		return "N/A"
	}
	return strconv.FormatFloat(p.Value, 'f', -1, 64) + "%"
}

func (p Percent) MarshalJSON() ([]byte, error) {
	if !p.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(p.Value)
}

func (p *Percent) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*p = NotApplicable
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = Of(v)
	return nil
}

// Clamp bounds v to [0, 100]. NaN becomes 0.
func Clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

// RoundHalfUp rounds .5 towards +Inf.
func RoundHalfUp(v float64) float64 {
	return math.Floor(v + 0.5)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
