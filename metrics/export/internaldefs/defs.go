package internaldefs

import (
	goSession "github.com/MrEthical07/goSession"
)

// CounterDef names one exported counter.
type CounterDef struct {
	ID   goSession.MetricID
	Name string
	Help string
}

// HistogramDef names one exported histogram.
type HistogramDef struct {
	ID   goSession.MetricID
	Name string
	Help string
}

// CounterDefs lists every counter in export order.
var CounterDefs = []CounterDef{
	{ID: goSession.MetricLoginSuccess, Name: "gosession_login_success_total", Help: "Successful logins."},
	{ID: goSession.MetricLoginFailure, Name: "gosession_login_failure_total", Help: "Failed logins."},
	{ID: goSession.MetricRegisterSuccess, Name: "gosession_register_success_total", Help: "Successful registrations."},
	{ID: goSession.MetricRegisterFailure, Name: "gosession_register_failure_total", Help: "Failed registrations."},
	{ID: goSession.MetricLogout, Name: "gosession_logout_total", Help: "Logout calls."},
	{ID: goSession.MetricForcedLogout, Name: "gosession_forced_logout_total", Help: "Sessions ended by a refresh or current-user failure."},
	{ID: goSession.MetricUnauthorizedResponse, Name: "gosession_unauthorized_response_total", Help: "HTTP 401 responses seen by the client."},
	{ID: goSession.MetricRefreshSuccess, Name: "gosession_refresh_success_total", Help: "Successful token refreshes."},
	{ID: goSession.MetricRefreshFailure, Name: "gosession_refresh_failure_total", Help: "Failed token refreshes."},
	{ID: goSession.MetricRefreshTokenMissing, Name: "gosession_refresh_token_missing_total", Help: "401 responses with no stored refresh token."},
	{ID: goSession.MetricRefreshRotated, Name: "gosession_refresh_rotated_total", Help: "Refreshes that persisted a rotated refresh token."},
	{ID: goSession.MetricRefreshDeduplicated, Name: "gosession_refresh_deduplicated_total", Help: "Callers that joined an in-flight refresh."},
	{ID: goSession.MetricRequestRetried, Name: "gosession_request_retried_total", Help: "Requests resubmitted after a refresh."},
	{ID: goSession.MetricCurrentUserSuccess, Name: "gosession_current_user_success_total", Help: "Successful current-user fetches."},
	{ID: goSession.MetricCurrentUserFailure, Name: "gosession_current_user_failure_total", Help: "Failed current-user fetches."},
	{ID: goSession.MetricSessionRestored, Name: "gosession_session_restored_total", Help: "Sessions restored from the credential store."},
	{ID: goSession.MetricStoreFailure, Name: "gosession_store_failure_total", Help: "Credential store errors."},
}

// HistogramDefs lists every histogram in export order.
var HistogramDefs = []HistogramDef{
	{ID: goSession.MetricRequestLatency, Name: "gosession_request_latency_seconds", Help: "API request latency."},
}

// EventsDroppedName is the counter of events dropped by dispatcher backpressure.
const (
	EventsDroppedName = "gosession_events_dropped_total"
	EventsDroppedHelp = "Dropped session events due to dispatcher backpressure."
)

// HistogramBounds are goSession.HistogramBucketBounds in seconds; the last
// bucket is +Inf.
var HistogramBounds = []string{
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"+Inf",
}

// HistogramUpperBounds are the finite bounds of HistogramBounds as float64.
var HistogramUpperBounds = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

// NormalizeBuckets copies raw into a fixed-size array, padding with zeros.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
