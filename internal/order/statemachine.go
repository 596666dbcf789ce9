package order

import (
	"errors"
	"fmt"
)

var ErrInvalidTransition = errors.New("invalid order status transition")

var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusPaid:      true,
		StatusCancelled: true,
	},
	StatusPaid: {
		StatusProcessing: true,
		StatusCancelled:  true,
	},
	StatusProcessing: {
		StatusShipped:   true,
		StatusCancelled: true,
	},
	StatusShipped: {
		StatusDelivered: true,
		StatusReturned:  true,
	},
	StatusDelivered: {
		StatusReturned: true,
	},
	StatusReturned: {
		StatusRefunded: true,
	},
	StatusCancelled: {},
	StatusRefunded:  {},
}

// InvalidTransitionError names both ends of a rejected transition.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid order status transition from %s to %s", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// CanTransition is total: unknown statuses on either side yield false.
func CanTransition(from, to Status) bool {
	return allowedTransitions[from][to]
}

func CheckTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}

// IsTerminal reports whether no transition leaves s.
func IsTerminal(s Status) bool {
	next, ok := allowedTransitions[s]
	return ok && len(next) == 0
}

// Statuses returns every known status.
func Statuses() []Status {
	return []Status{
		StatusPending, StatusPaid, StatusProcessing, StatusShipped,
		StatusDelivered, StatusCancelled, StatusReturned, StatusRefunded,
	}
}
