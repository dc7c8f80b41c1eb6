package health

import (
	"net/http"
	"sort"
	"time"
)

// unhealthyFirst puts failing entries at the top of rendered reports so they
// are visible without scrolling. Within each group entries sort by key.
const unhealthyFirst = true

// Report is the aggregated result of one run.
type Report struct {
	Status        Status
	Entries       map[string]Outcome
	TotalDuration time.Duration
}

// Entry is a keyed outcome, as returned by Sorted.
type Entry struct {
	Key string
	Outcome
}

func (r Report) Healthy() bool { return r.Status == StatusHealthy }

// HTTPStatus maps the report to 200 or 503.
func (r Report) HTTPStatus() int {
	if r.Healthy() {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}

// Sorted returns entries in render order.
func (r Report) Sorted() []Entry {
	out := make([]Entry, 0, len(r.Entries))
	for k, v := range r.Entries {
		out = append(out, Entry{Key: k, Outcome: v})
	}
	sort.Slice(out, func(i, j int) bool {
		hi, hj := out[i].Healthy(), out[j].Healthy()
		if hi != hj {
			if unhealthyFirst {
				return hj
			}
			return hi
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Unhealthy returns the keys of failing entries in render order.
func (r Report) Unhealthy() []string {
	var keys []string
	for _, e := range r.Sorted() {
		if !e.Healthy() {
			keys = append(keys, e.Key)
		}
	}
	return keys
}
