package manager

import "github.com/carton-run/carton/internal/cartonerr"

// ErrTooBusy builds the error beginGeneration returns when a handle's queue
// is full or the wait for a slot timed out (maps to HTTP 429).
func ErrTooBusy(loadID string) error {
	return cartonerr.New(cartonerr.KindManagerTooBusy, "queue full or wait timed out").WithModel(loadID)
}

// IsTooBusy reports whether err indicates backpressure.
func IsTooBusy(err error) bool { return cartonerr.Is(err, cartonerr.KindManagerTooBusy) }

// ErrHandleNotFound builds the error returned when loadID names no loaded
// instance (maps to HTTP 404).
func ErrHandleNotFound(loadID string) error {
	return cartonerr.New(cartonerr.KindManagerHandleNotFound, "no loaded instance with this id").WithModel(loadID)
}

// IsHandleNotFound reports whether err indicates a missing load id.
func IsHandleNotFound(err error) bool { return cartonerr.Is(err, cartonerr.KindManagerHandleNotFound) }
