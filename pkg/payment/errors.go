package payment

import (
	"errors"
	"fmt"
)

// stillProcessingCode is returned by the STK query endpoint while the payer has
// not yet answered the prompt.
const stillProcessingCode = "500.001.1001"

// ValidationError rejects a request before any network call is made.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ProviderUnavailableError covers transport failures, timeouts and non-2xx
// responses that carry no provider error body.
type ProviderUnavailableError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *ProviderUnavailableError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("daraja %s: unavailable (http %d)", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("daraja %s: unavailable: %v", e.Op, e.Err)
}

func (e *ProviderUnavailableError) Unwrap() error { return e.Err }

// ProviderRejectedError is a well-formed refusal from the provider.
type ProviderRejectedError struct {
	Op      string
	Code    string
	Message string
}

func (e *ProviderRejectedError) Error() string {
	return fmt.Sprintf("daraja %s: rejected (%s): %s", e.Op, e.Code, e.Message)
}

// IsStillProcessing reports whether the provider refused a status query only
// because the transaction has not finished yet.
func (e *ProviderRejectedError) IsStillProcessing() bool {
	return e.Code == stillProcessingCode
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsUnavailable(err error) bool {
	var u *ProviderUnavailableError
	return errors.As(err, &u)
}

func IsRejected(err error) bool {
	var r *ProviderRejectedError
	return errors.As(err, &r)
}

// IsStillProcessing unwraps err looking for a still-processing refusal.
func IsStillProcessing(err error) bool {
	var r *ProviderRejectedError
	return errors.As(err, &r) && r.IsStillProcessing()
}
