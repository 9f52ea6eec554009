package battmeas

import "errors"

var (
	// ErrInvalidParam is returned for bad configuration or arguments. It is
	// always detected synchronously and never retried.
	ErrInvalidParam = errors.New("invalid parameter")

	// ErrTimeout is returned when the converter's offset calibration does not
	// complete in time.
	ErrTimeout = errors.New("timed out")

	// ErrConverterBusy is returned by Converter.Init while a conversion is
	// still in flight. The sampling loop treats it as "skip this tick".
	ErrConverterBusy = errors.New("converter busy")

	// ErrNotifierUnavailable marks the benign notification failures (nobody
	// listening yet, channel not fully established). The reading is simply
	// not published; the next cycle tries again.
	ErrNotifierUnavailable = errors.New("notification channel unavailable")
)
