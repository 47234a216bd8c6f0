package xerrors

import "errors"

// Common reusable application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict: resource already exists")
)

// Delivery engine errors.
//
// ErrNoPushToken and ErrQuotaExceeded are skips: no notification record is
// created. ErrPayloadEncoding and ErrGateway end in a FAILED record.
// ErrUnknownPlatform is a configuration error and aborts a whole batch.
var (
	ErrNoPushToken          = errors.New("terminal has no push token")
	ErrQuotaExceeded        = errors.New("sending quota exceeded")
	ErrPayloadEncoding      = errors.New("payload encoding failed")
	ErrGateway              = errors.New("push gateway error")
	ErrUnknownPlatform      = errors.New("no gateway configured for platform")
	ErrSchedulerLookupMiss  = errors.New("no campaign matches dissemination id")
	ErrInvalidCallbackState = errors.New("state not accepted from client callback")
)

// Is allows checking whether an error is a specific sentinel error.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// IsFatal reports whether err must abort a dispatch batch instead of being
// counted against a single terminal.
func IsFatal(err error) bool {
	return errors.Is(err, ErrUnknownPlatform)
}
