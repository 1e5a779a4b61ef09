package notify

import "errors"

var (
	ErrQueueFull        = errors.New("notification queue full")
	ErrDispatcherClosed = errors.New("notification dispatcher closed")
	ErrNotifierPanic    = errors.New("notifier panicked")
	ErrCircuitOpen      = errors.New("notification circuit open")
)
