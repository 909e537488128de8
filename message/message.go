// Package message defines the structured types exchanged between the gateway
// transport, the handler core, and the bound service.
//
// A Call is the decoded form of one inbound request. The service turns it
// into a Result, or fails; failures are reduced to an ErrorResponse before
// they reach the wire. Response is the envelope the codec serializes: exactly
// one of Result or Error is set, never both, never neither.
package message

// Error codes carried by ErrorResponse. UnknownErrorCode and UnknownSQLState
// are the defaults when a failure carries no richer context; they are real
// values on the wire, not absent fields.
const (
	UnknownErrorCode             = -1
	MissingConnectionErrorCode   = 1
	DuplicateConnectionErrorCode = 2
	UnknownMethodErrorCode       = 3

	UnknownSQLState = "00000"
)

// Severity classifies the impact of a failure.
type Severity uint8

const (
	SeverityUnknown Severity = iota
	SeverityFatal
	SeverityError
	SeverityWarning
)

func (s Severity) String() string {
	switch s {
	case SeverityFatal:
		return "FATAL"
	case SeverityError:
		return "ERROR"
	case SeverityWarning:
		return "WARNING"
	default:
		return "UNKNOWN"
	}
}

// Call is a decoded request, ready for dispatch. It is produced by the codec
// and not mutated afterwards.
type Call struct {
	Method       string `json:"method"`                 // Operation name, e.g. "execute"
	ConnectionID string `json:"connectionId,omitempty"` // Session the call runs against; empty for session-less operations
	Payload      []byte `json:"payload,omitempty"`      // JSON-serialized operation arguments
}

// Result is the success payload produced by the service for one Call.
type Result struct {
	Method  string `json:"method"`
	Payload []byte `json:"payload,omitempty"` // JSON-serialized reply
}

// RPCMetadata is the process-wide attachment stamped onto every
// ErrorResponse: it tells the client which server produced the failure.
// Configured once at startup, shared by reference afterwards.
type RPCMetadata struct {
	ServerAddress string `json:"serverAddress"`
}

// ErrorResponse is the normalized failure record. ErrorCode and SQLState are
// never left zero-valued by the normalizer: when nothing better is known they
// hold UnknownErrorCode / UnknownSQLState.
type ErrorResponse struct {
	ErrorCode int          `json:"errorCode"`
	SQLState  string       `json:"sqlState"`
	Severity  Severity     `json:"severity"`
	Message   string       `json:"message"`
	Metadata  *RPCMetadata `json:"metadata,omitempty"`
}

// Response is the wire envelope for one served call: a Result on success, an
// ErrorResponse on failure.
type Response struct {
	Result *Result        `json:"result,omitempty"`
	Error  *ErrorResponse `json:"error,omitempty"`
}

// HandlerResponse is what the handler hands back to the transport: the
// serialized Response body plus an HTTP-style status code (200 for success,
// 500 for any normalized failure).
type HandlerResponse struct {
	Body   []byte
	Status int
}
