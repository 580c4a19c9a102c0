// Package sources implements the upstream marketplace adapters. Every adapter
// returns an Outcome: either a normalized field mapping or a structured
// upstream error. Adapters never raise upstream failures as Go errors across
// the core boundary; transport and business failures alike become
// UpstreamError values so they can be cached and rendered inline.
package sources

import (
	"fmt"
	"time"

	"brickradar/internal/pkg/metrics"
)

// Fields is a normalized upstream result: named fields whose presence depends
// on the source. Values may be nil when the upstream omitted them.
type Fields map[string]any

// UpstreamError is a machine-readable upstream failure.
type UpstreamError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface for logging convenience.
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Outcome is the cacheable fetch result: exactly one of Fields or Err is set.
type Outcome struct {
	Fields Fields         `json:"fields,omitempty"`
	Err    *UpstreamError `json:"error,omitempty"`
}

// OK wraps a successful normalized result.
func OK(f Fields) Outcome {
	return Outcome{Fields: f}
}

// Fail wraps a structured upstream failure.
func Fail(code, message string) Outcome {
	return Outcome{Err: &UpstreamError{Code: code, Message: message}}
}

// Failf wraps a structured upstream failure with a formatted message.
func Failf(code, format string, args ...any) Outcome {
	return Fail(code, fmt.Sprintf(format, args...))
}

// Ok reports whether the outcome carries a normalized result.
func (o Outcome) Ok() bool {
	return o.Err == nil
}

// Get returns the named field or nil when absent or when the outcome is an
// error.
func (o Outcome) Get(key string) any {
	if o.Fields == nil {
		return nil
	}
	return o.Fields[key]
}

// observe times a live upstream call and records its outcome.
func observe(source string, fn func() Outcome) Outcome {
	start := time.Now()
	out := fn()
	metrics.UpstreamFetchDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())

	status := "ok"
	if !out.Ok() {
		status = "upstream_error"
		if out.Err.Code == "transport" {
			status = "transport_error"
		}
	}
	metrics.UpstreamFetchesTotal.WithLabelValues(source, status).Inc()
	return out
}
