package models

import "time"

// Status classifies the outcome of one delivery attempt.
type Status string

const (
	StatusOK             Status = "ok"
	StatusPartial        Status = "partial"
	StatusFailed         Status = "failed"
	StatusTransportError Status = "transport-error"
)

// SampleFailure describes why one sample of a batch was not accepted.
// Retryable failures are requeued; the rest are dropped.
type SampleFailure struct {
	Index     int
	Reason    string
	Retryable bool
}

// DeliveryResult is the outcome of delivering one batch.
//
// Succeeded and Failed hold sample indices when the backend attributes its
// answer to individual samples. Backends that only report counts leave both
// empty on rejection and set Rejected instead.
type DeliveryResult struct {
	Status    Status
	Succeeded []int
	Failed    []SampleFailure
	Rejected  int
	Processed int
	Total     int
	Info      string
	Err       error
	Latency   time.Duration
}

// OK builds a result in which every sample of an n-sized batch succeeded.
func OK(n int, info string) DeliveryResult {
	r := DeliveryResult{Status: StatusOK, Processed: n, Total: n, Info: info}
	r.Succeeded = make([]int, n)
	for i := range r.Succeeded {
		r.Succeeded[i] = i
	}
	return r
}

// AllFailed builds a result marking every sample of an n-sized batch as a
// retryable failure.
func AllFailed(status Status, n int, err error) DeliveryResult {
	r := DeliveryResult{Status: status, Total: n, Err: err}
	reason := string(status)
	if err != nil {
		reason = err.Error()
	}
	r.Failed = make([]SampleFailure, n)
	for i := range r.Failed {
		r.Failed[i] = SampleFailure{Index: i, Reason: reason, Retryable: true}
	}
	return r
}
