package lifecycle

import (
	"errors"
	"fmt"
)

var (
	// ErrResourceNotFound is returned by Stop when there is nothing to stop.
	// It is a usage error and should not be retried.
	ErrResourceNotFound = errors.New("no provider resource found for instance")

	// ErrProvider wraps every failure returned by the compute or object
	// storage provider.
	ErrProvider = errors.New("provider request failed")

	// ErrGuestReadinessTimeout is returned when the guest did not write its
	// readiness marker within the configured readiness timeout.
	ErrGuestReadinessTimeout = errors.New("timed out waiting for guest readiness")

	// ErrNoImage is returned when the provider offers no image for the
	// instance's operating system.
	ErrNoImage = errors.New("no machine image available")
)

// InstanceError attributes a lifecycle failure to an instance and the step
// that failed.
type InstanceError struct {
	Identity Identity
	Step     string
	Err      error
}

func (e *InstanceError) Error() string {
	return fmt.Sprintf("instance %s: %s: %v", e.Identity, e.Step, e.Err)
}

func (e *InstanceError) Unwrap() error {
	return e.Err
}

func providerErr(err error) error {
	return fmt.Errorf("%w: %w", ErrProvider, err)
}
