package token

import (
	"errors"
	"fmt"
)

var (
	// ErrCredentialAcquisition matches every failure to obtain a credential from
	// the issuance endpoint.
	ErrCredentialAcquisition = errors.New("credential acquisition failed")

	ErrNoAuthorizationKey = errors.New("authorization key is not configured")
)

// AcquisitionError describes a failed exchange with the issuance endpoint.
// StatusCode is zero when no HTTP response was received.
type AcquisitionError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *AcquisitionError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("%s: status %d: %v", ErrCredentialAcquisition, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d: %s", ErrCredentialAcquisition, e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("%s: %v", ErrCredentialAcquisition, e.Err)
	}
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

func (e *AcquisitionError) Is(target error) bool {
	return target == ErrCredentialAcquisition
}
