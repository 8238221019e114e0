package orders

import "github.com/ariefcatur/go-menu-orders/internal/apperr"

type Status string

const (
	StatusDraft          Status = "Draft"
	StatusSubmitted      Status = "Submitted"
	StatusAccepted       Status = "Accepted"
	StatusInPrep         Status = "In-Prep"
	StatusReady          Status = "Ready"
	StatusOutForDelivery Status = "Out-for-Delivery"
	StatusCompleted      Status = "Completed"
	StatusCanceled       Status = "Canceled"
	StatusRefunded       Status = "Refunded"
)

// Draft is reserved for saved carts; orders are created in Submitted.
var validNext = map[Status]map[Status]bool{
	StatusDraft:          {StatusSubmitted: true, StatusCanceled: true},
	StatusSubmitted:      {StatusAccepted: true, StatusCanceled: true, StatusRefunded: true},
	StatusAccepted:       {StatusInPrep: true, StatusCanceled: true, StatusRefunded: true},
	StatusInPrep:         {StatusReady: true, StatusCanceled: true, StatusRefunded: true},
	StatusReady:          {StatusCompleted: true, StatusOutForDelivery: true, StatusCanceled: true, StatusRefunded: true},
	StatusOutForDelivery: {StatusCompleted: true, StatusCanceled: true, StatusRefunded: true},
	StatusCompleted:      {},
	StatusCanceled:       {},
	StatusRefunded:       {},
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := validNext[st]; !ok {
		return "", apperr.Validation(apperr.CodeUnknownStatus, "unknown status %q", s)
	}
	return st, nil
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled || s == StatusRefunded
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// CheckTransition explains why from -> to is refused. Repeating a
// non-terminal status is allowed so callers can refresh the ETA.
func CheckTransition(from, to Status) error {
	if from.Terminal() {
		return apperr.Conflict(apperr.CodeTerminalState, "order is already %s", from)
	}
	if from == to || CanTransition(from, to) {
		return nil
	}
	return apperr.Conflict(apperr.CodeInvalidTransition, "cannot move order from %s to %s", from, to)
}
