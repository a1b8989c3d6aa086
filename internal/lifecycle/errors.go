package lifecycle

import (
	"errors"
	"fmt"
)

// ErrTooSoon signals that a Sleep call arrived before the service's
// minSleepSec quiet period elapsed. The call is a no-op and the service
// stays running.
var ErrTooSoon = errors.New("sleep requested too soon, service stays running")

// ErrUnknownService is returned for names absent from the service table.
var ErrUnknownService = errors.New("unknown service")

// IllegalTransitionError is returned when an operation is not legal from the
// service's current state. The state is left unchanged.
type IllegalTransitionError struct {
	Service string
	From    Status
	Op      string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition: cannot %s service %q from state %s", e.Op, e.Service, e.From)
}

// IsIllegalTransition reports whether err is an IllegalTransitionError.
func IsIllegalTransition(err error) bool {
	var ite *IllegalTransitionError
	return errors.As(err, &ite)
}
