package metrics

import "strconv"

// Scan pipeline metric names
const (
	GovernorDecisionsTotal = "governor_decisions_total"
	UpstreamRequestsTotal  = "upstream_requests_total"
	ScansTotal             = "scans_total"
)

// RecordGovernorDecision records one admission decision of the rate governor.
func RecordGovernorDecision(allowed bool, reason string) {
	decision := "allowed"
	if !allowed {
		decision = "denied"
	}
	if reason == "" {
		reason = "none"
	}

	increment(GovernorDecisionsTotal, map[string]string{
		"decision": decision,
		"reason":   reason,
	})
}

// RecordUpstreamRequest records one upstream API call. status is the HTTP
// status code, or 0 when the call failed before a response arrived.
func RecordUpstreamRequest(operation string, status int) {
	label := "transport_error"
	if status > 0 {
		label = strconv.Itoa(status)
	}

	increment(UpstreamRequestsTotal, map[string]string{
		"operation": operation,
		"status":    label,
	})
}

// RecordScan records a finished scan by mode and outcome.
func RecordScan(mode string, outcome string) {
	increment(ScansTotal, map[string]string{
		"mode":    mode,
		"outcome": outcome,
	})
}
