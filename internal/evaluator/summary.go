package evaluator

import "smartbuilding/internal/telemetry"

// Summary aggregates the matched events of a firing.
type Summary struct {
	AvgValue float64
	Zones    []string
}

// Summarize averages the numeric value fields (0 when none) and collects the
// distinct zones in first-seen order.
func Summarize(matched []telemetry.Event) Summary {
	var (
		sum   float64
		n     int
		zones []string
		seen  = make(map[string]struct{})
	)
	for _, e := range matched {
		if v, ok := e.Number(telemetry.KeyValue); ok {
			sum += v
			n++
		}
		z := e.Zone()
		if _, ok := seen[z]; !ok {
			seen[z] = struct{}{}
			zones = append(zones, z)
		}
	}
	s := Summary{Zones: zones}
	if s.Zones == nil {
		s.Zones = []string{}
	}
	if n > 0 {
		s.AvgValue = sum / float64(n)
	}
	return s
}
