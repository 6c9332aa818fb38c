// Package businessflow contains the core business logic and use cases of the reporting pipeline
package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Validation errors
	ErrInvalidMonth        = errors.New("invalid month, expected YYYY-MM")
	ErrInvalidDate         = errors.New("invalid date, expected YYYY-MM-DD")
	ErrInvalidExportFormat = errors.New("invalid export format")
	ErrInvalidDateRange    = errors.New("from date must be before or equal to to date")
	ErrDateRangeTooLong    = errors.New("date range exceeds the configured maximum")
	ErrInvalidEventType    = errors.New("invalid event type")
	ErrInvalidScope        = errors.New("invalid report scope")
	ErrInvalidTimezone     = errors.New("invalid timezone")
	ErrPartnerIDRequired   = errors.New("partnerId required for partner scope")

	// Lookup errors
	ErrPartnerNotFound     = errors.New("partner not found")
	ErrVenueNotFound       = errors.New("venue not found")
	ErrExportJobNotFound   = errors.New("export job not found")
	ErrSnapshotNotFound    = errors.New("snapshot not found")
	ErrMetricsNotComputed  = errors.New("no metrics found after recompute")
	ErrAdminNotFound       = errors.New("admin not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrAccountInactive     = errors.New("account is inactive")
	ErrInvalidReportToken  = errors.New("invalid report token")
	ErrReportTokenMismatch = errors.New("report token does not match request")

	// Authorization errors
	ErrAdminScopeForbidden = errors.New("only admins can create admin snapshots")
	ErrTierRequired        = errors.New("subscription tier does not include this feature")
	ErrAccessDenied        = errors.New("access denied")

	// Job pipeline errors
	ErrQueueFull        = errors.New("job queue is full")
	ErrXLSXRowLimit     = errors.New("xlsx row limit exceeded")
	ErrRendererNotReady = errors.New("report renderer is not configured")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

// AsBusinessError extracts the outermost BusinessError from err
func AsBusinessError(err error) (*BusinessError, bool) {
	var be *BusinessError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

func IsValidationError(err error) bool {
	be, ok := AsBusinessError(err)
	return ok && be.Code == "VALIDATION_ERROR"
}

func IsInvalidMonth(err error) bool {
	return errors.Is(err, ErrInvalidMonth)
}

func IsPartnerIDRequired(err error) bool {
	return errors.Is(err, ErrPartnerIDRequired)
}

func IsPartnerNotFound(err error) bool {
	return errors.Is(err, ErrPartnerNotFound)
}

func IsVenueNotFound(err error) bool {
	return errors.Is(err, ErrVenueNotFound)
}

func IsExportJobNotFound(err error) bool {
	return errors.Is(err, ErrExportJobNotFound)
}

func IsSnapshotNotFound(err error) bool {
	return errors.Is(err, ErrSnapshotNotFound)
}

func IsMetricsNotComputed(err error) bool {
	return errors.Is(err, ErrMetricsNotComputed)
}

func IsInvalidCredentials(err error) bool {
	return errors.Is(err, ErrInvalidCredentials)
}

func IsAccountInactive(err error) bool {
	return errors.Is(err, ErrAccountInactive)
}

func IsAdminNotFound(err error) bool {
	return errors.Is(err, ErrAdminNotFound)
}

func IsInvalidReportToken(err error) bool {
	return errors.Is(err, ErrInvalidReportToken) || errors.Is(err, ErrReportTokenMismatch)
}

func IsAdminScopeForbidden(err error) bool {
	return errors.Is(err, ErrAdminScopeForbidden)
}

func IsTierRequired(err error) bool {
	return errors.Is(err, ErrTierRequired)
}

func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

func IsQueueFull(err error) bool {
	return errors.Is(err, ErrQueueFull)
}

func IsXLSXRowLimit(err error) bool {
	return errors.Is(err, ErrXLSXRowLimit)
}
