package logging

const (
	// FieldComponent identifies the subsystem emitting a line.
	FieldComponent = "component"
	// FieldSessionID identifies one supervisor session (one Start call).
	FieldSessionID = "session_id"
	// FieldCorrelationID carries the caller's opaque plan identifier.
	FieldCorrelationID = "correlation_id"
	FieldEventType     = "event_type"
	FieldErrorHint     = "error_hint"
	FieldImpact        = "impact"
	FieldAlert         = "alert"
	FieldAttempt       = "attempt"
	FieldPID           = "pid"
	FieldState         = "state"
)
