package domain

// Outcome is a state of the per-batch submission state machine.
type Outcome string

// Submission outcomes.
const (
	OutcomePending     Outcome = "PENDING"
	OutcomeSending     Outcome = "SENDING"
	OutcomeConfirmed   Outcome = "CONFIRMED"
	OutcomeRateLimited Outcome = "RATE_LIMITED"
	OutcomeExpired     Outcome = "EXPIRED"
	OutcomeTransient   Outcome = "TRANSIENT"
	OutcomeFailed      Outcome = "FAILED"
	// OutcomeNotAttempted marks batches skipped after cancellation.
	OutcomeNotAttempted Outcome = "NOT_ATTEMPTED"
)

// IsTerminal reports whether no further attempts follow this outcome.
func (o Outcome) IsTerminal() bool {
	return o == OutcomeConfirmed || o == OutcomeFailed || o == OutcomeNotAttempted
}

// SubmissionAttempt records one send of a batch.
type SubmissionAttempt struct {
	BatchID       string
	BatchIndex    int
	AttemptNumber int // 1-based
	BackoffMs     int64
	Outcome       Outcome
	Signature     string
	Err           error
	At            int64 // Unix ms
}

// BatchResult is the terminal state of one batch.
type BatchResult struct {
	BatchID   string
	Index     int
	State     Outcome
	Signature string
	Attempts  int
	LastErr   error
}
