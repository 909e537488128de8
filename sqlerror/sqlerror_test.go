package sqlerror

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"sqlgate/message"
)

func TestRuntimeErrorMessage(t *testing.T) {
	err := &RuntimeError{
		ErrorCode: 42,
		SQLState:  "42000",
		Severity:  message.SeverityError,
		Message:   "syntax error",
	}

	s := err.Error()
	for _, part := range []string{"ERROR", "42", "42000", "syntax error"} {
		if !strings.Contains(s, part) {
			t.Errorf("Error() missing %q: %s", part, s)
		}
	}
}

func TestErrorsAsThroughWrapping(t *testing.T) {
	inner := &NoSuchConnectionError{ConnectionID: "c7"}
	wrapped := fmt.Errorf("dispatch: %w", inner)

	var missing *NoSuchConnectionError
	if !errors.As(wrapped, &missing) {
		t.Fatal("NoSuchConnectionError not found through wrap")
	}
	if missing.ConnectionID != "c7" {
		t.Errorf("ConnectionID: got %s", missing.ConnectionID)
	}
}
