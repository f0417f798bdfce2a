package domain

// CommitCandidate is the input to an atomic commit attempt
type CommitCandidate struct {
	FacilityID         string
	Date               string
	Slots              []TimeRange
	Amount             float64
	Customer           Customer
	ExternalPaymentRef string

	// PendingReservationID, when set, promotes an initiated pending
	// reservation instead of inserting a new confirmed row
	PendingReservationID string
}

// CommitOutcome classifies the result of a commit attempt
type CommitOutcome string

const (
	CommitOutcomeCommitted        CommitOutcome = "committed"
	CommitOutcomeAlreadyCommitted CommitOutcome = "already_committed"
	CommitOutcomeConflict         CommitOutcome = "conflict"
)

// ConflictReason explains why a commit was rejected
type ConflictReason string

const (
	ConflictSlotAlreadyBooked ConflictReason = "SlotAlreadyBooked"
	ConflictSlotBlocked       ConflictReason = "SlotBlocked"
	ConflictDateBlocked       ConflictReason = "DateBlocked"
)

// CommitResult is the typed outcome of TryCommit. Conflicts are results,
// not errors, so callers can branch on reason.
type CommitResult struct {
	Outcome     CommitOutcome
	Reason      ConflictReason // set only when Outcome is conflict
	Reservation *Reservation   // set on committed / already committed
}

// Committed returns true when the commit wrote a confirmed reservation
func (r *CommitResult) Committed() bool {
	return r.Outcome == CommitOutcomeCommitted
}

// Conflicted returns true when the commit was rejected
func (r *CommitResult) Conflicted() bool {
	return r.Outcome == CommitOutcomeConflict
}
