package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// CounterValue reads the current value of a CounterVec for the given label set.
// Labels not named in want are ignored; a series that has never been observed reads as 0.
func CounterValue(cv *prometheus.CounterVec, want prometheus.Labels) float64 {
	ch := make(chan prometheus.Metric, 64)
	go func() {
		cv.Collect(ch)
		close(ch)
	}()
	var total float64
	var found bool
	for m := range ch {
		var dm dto.Metric
		if err := m.Write(&dm); err != nil {
			continue
		}
		if !found && labelsMatch(dm.GetLabel(), want) {
			total = dm.GetCounter().GetValue()
			found = true
		}
	}
	return total
}

// PlainCounterValue reads the value of a plain (non-vec) Counter.
func PlainCounterValue(c prometheus.Counter) float64 {
	var dm dto.Metric
	if err := c.Write(&dm); err != nil {
		return 0
	}
	return dm.GetCounter().GetValue()
}

// labelsMatch returns true when all entries in want appear in got with the same value.
func labelsMatch(got []*dto.LabelPair, want prometheus.Labels) bool {
	for k, v := range want {
		found := false
		for _, lp := range got {
			if lp.GetName() == k && lp.GetValue() == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
