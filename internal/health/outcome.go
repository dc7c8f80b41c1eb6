package health

import (
	"fmt"
	"strconv"
	"time"
)

// Status is the binary result of a probe or of a whole run.
// The zero value is Unhealthy so a forgotten assignment never reads as success.
type Status int

const (
	StatusUnhealthy Status = iota
	StatusHealthy
)

func (s Status) String() string {
	if s == StatusHealthy {
		return "Healthy"
	}
	return "Unhealthy"
}

// Field is one diagnostic key/value attached to an outcome.
type Field struct {
	Key   string
	Value any
}

// KV builds a Field.
func KV(key string, value any) Field { return Field{Key: key, Value: value} }

// Data keeps fields in insertion order.
type Data []Field

// Get returns the first value stored under key.
func (d Data) Get(key string) (any, bool) {
	for _, f := range d {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Outcome is what one probe reports about one dependency.
// Treat it as a value: the With* methods return modified copies.
type Outcome struct {
	Status      Status
	Description string
	Elapsed     time.Duration
	Data        Data
	Err         error
}

// Healthy builds a healthy outcome timed from start.
func Healthy(start time.Time, description string, data ...Field) Outcome {
	return Outcome{
		Status:      StatusHealthy,
		Description: description,
		Elapsed:     time.Since(start),
		Data:        append(Data(nil), data...),
	}
}

// Unhealthy builds an unhealthy outcome timed from start.
// An empty description falls back to the error message.
func Unhealthy(start time.Time, description string, err error, data ...Field) Outcome {
	if description == "" && err != nil {
		description = err.Error()
	}
	return Outcome{
		Status:      StatusUnhealthy,
		Description: description,
		Elapsed:     time.Since(start),
		Data:        append(Data(nil), data...),
		Err:         err,
	}
}

func (o Outcome) Healthy() bool { return o.Status == StatusHealthy }

// WithData returns a copy of o with the field appended.
func (o Outcome) WithData(key string, value any) Outcome {
	d := make(Data, 0, len(o.Data)+1)
	d = append(d, o.Data...)
	o.Data = append(d, Field{Key: key, Value: value})
	return o
}

// WithElapsed returns a copy of o with Elapsed replaced.
func (o Outcome) WithElapsed(d time.Duration) Outcome {
	o.Elapsed = d
	return o
}

// TimeoutError reports that Op was abandoned after Timeout.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	op := e.Op
	if op == "" {
		op = "Probe"
	}
	return fmt.Sprintf("%s was cancelled after timeout of %s seconds.", op, seconds(e.Timeout))
}

func (e *TimeoutError) Unwrap() error { return e.Err }

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
