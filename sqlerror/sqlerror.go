// Package sqlerror defines the failure kinds the gateway recognizes when it
// normalizes an error for the wire.
//
// A RuntimeError carries the full protocol context (code, SQLSTATE, severity)
// and survives normalization losslessly. A NoSuchConnectionError marks a call
// against a session the server does not know, and maps to a fixed error code.
// Anything else is treated as opaque and summarized from its unwrap chain.
package sqlerror

import (
	"fmt"

	"sqlgate/message"
)

// RuntimeError is a failure raised with explicit protocol context. Service
// implementations return it when they can say precisely what went wrong.
type RuntimeError struct {
	ErrorCode int
	SQLState  string
	Severity  message.Severity
	Message   string
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s %d (SQLSTATE %s): %s", e.Severity, e.ErrorCode, e.SQLState, e.Message)
}

// NoSuchConnectionError reports a call against a connection id the server
// has no session for — either never opened or already closed.
type NoSuchConnectionError struct {
	ConnectionID string
}

func (e *NoSuchConnectionError) Error() string {
	return fmt.Sprintf("no connection found with id %q", e.ConnectionID)
}
