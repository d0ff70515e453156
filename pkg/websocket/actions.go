package websocket

// Client requests.
const (
	ActionHealthCheck       = "health.check"
	ActionRunStart          = "run.start"
	ActionRunInterrupt      = "run.interrupt"
	ActionThreadSubscribe   = "thread.subscribe"
	ActionThreadUnsubscribe = "thread.unsubscribe"
)

// Server notifications.
const (
	// ActionRunEvent carries one AG-UI wire event as its payload.
	ActionRunEvent = "run.event"
)

// Error codes
const (
	ErrorCodeBadRequest    = "BAD_REQUEST"
	ErrorCodeNotFound      = "NOT_FOUND"
	ErrorCodeInternalError = "INTERNAL_ERROR"
	ErrorCodeUnauthorized  = "UNAUTHORIZED"
	ErrorCodeValidation    = "VALIDATION_ERROR"
	ErrorCodeUnknownAction = "UNKNOWN_ACTION"
	ErrorCodeConflict      = "CONFLICT"
	ErrorCodeUnavailable   = "UNAVAILABLE"
)
