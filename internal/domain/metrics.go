package domain

import "time"

// CallStatus labels the outcome of a remote operation.
type CallStatus string

const (
	// CallStatusSuccess indicates the operation completed.
	CallStatusSuccess CallStatus = "success"
	// CallStatusError indicates the operation failed.
	CallStatusError CallStatus = "error"
	// CallStatusTimeout indicates the operation hit its deadline.
	CallStatusTimeout CallStatus = "timeout"
	// CallStatusRejected indicates local validation rejected the call.
	CallStatusRejected CallStatus = "rejected"
)

// StatusFromError maps an error to a call status.
func StatusFromError(err error) CallStatus {
	if err == nil {
		return CallStatusSuccess
	}
	code, _ := CodeFrom(err)
	switch code {
	case CodeDeadlineExceeded:
		return CallStatusTimeout
	case CodeInvalidArgument:
		return CallStatusRejected
	default:
		return CallStatusError
	}
}

// Metrics records observability signals for the tool layer.
type Metrics interface {
	ObserveDiscovery(endpoint string, operations int, duration time.Duration, err error)
	ObserveInvocation(endpoint, operation string, duration time.Duration, err error)
	ObserveProbe(endpoint string, reachable bool, duration time.Duration)
	ObserveArtifact(kind ArtifactKind, op string, err error)
	ObserveStorageInconsistency(kind ArtifactKind)
}

// NoopMetrics discards all observations.
type NoopMetrics struct{}

func (NoopMetrics) ObserveDiscovery(string, int, time.Duration, error) {}
func (NoopMetrics) ObserveInvocation(string, string, time.Duration, error) {}
func (NoopMetrics) ObserveProbe(string, bool, time.Duration) {}
func (NoopMetrics) ObserveArtifact(ArtifactKind, string, error) {}
func (NoopMetrics) ObserveStorageInconsistency(ArtifactKind) {}

var _ Metrics = NoopMetrics{}
