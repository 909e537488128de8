// Package handler implements the request-dispatch core of the gateway.
//
// One Handler ties a wire codec to the bound service. For each inbound
// request it runs decode → dispatch → encode, and reduces any failure raised
// along the way to a single structured ErrorResponse carrying an error code,
// a SQLSTATE, a severity, and a causal summary. A failure while serializing
// the error itself never masks the failure that caused it.
//
// Pipeline:
//
//	serialized request
//	  → Codec.Decode → message.Call
//	  → Service.Apply → message.Result | error
//	  → unwrapError (on failure)
//	  → Codec.Encode → HandlerResponse{body, 200|500}
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync/atomic"

	"sqlgate/codec"
	"sqlgate/message"
	"sqlgate/sqlerror"
)

const (
	nullErrorMessage    = "(null exception message)"
	unknownErrorMessage = "Unknown error message"
)

// Service is the dispatch target: it consumes one decoded Call and produces
// a Result or fails. Implementations may return *sqlerror.RuntimeError,
// *sqlerror.NoSuchConnectionError, or any other error.
type Service interface {
	Apply(ctx context.Context, call *message.Call) (*message.Result, error)
}

// ServiceFunc adapts a plain function to the Service interface, so a
// middleware-wrapped dispatch function can be bound to a Handler.
type ServiceFunc func(ctx context.Context, call *message.Call) (*message.Result, error)

func (f ServiceFunc) Apply(ctx context.Context, call *message.Call) (*message.Result, error) {
	return f(ctx, call)
}

// Handler serves decoded requests for one wire format. Safe for concurrent
// use: the only mutable state is the metadata slot, which is swapped
// atomically.
type Handler struct {
	service  Service
	codec    codec.Codec
	metadata atomic.Pointer[message.RPCMetadata]
}

func New(svc Service, c codec.Codec) *Handler {
	return &Handler{service: svc, codec: c}
}

// SetRPCMetadata installs the shared attachment stamped onto every
// ErrorResponse produced from now on. Normalizations already in flight keep
// whatever value they loaded.
func (h *Handler) SetRPCMetadata(md *message.RPCMetadata) {
	h.metadata.Store(md)
}

// Apply serves one serialized request and returns the serialized verdict.
//
// A decode failure is fatal to the call: there is no structured body to
// answer with when the request itself could not be understood, so the error
// is returned to the transport layer unserved. Every failure after a
// successful decode — dispatch errors and success-path encode errors alike —
// is normalized and served as a status-500 body. If encoding the normalized
// error also fails, the original failure is returned, not the encode failure.
func (h *Handler) Apply(ctx context.Context, serialized []byte) (message.HandlerResponse, error) {
	call := new(message.Call)
	if err := h.codec.Decode(serialized, call); err != nil {
		return message.HandlerResponse{}, fmt.Errorf("decode request: %w", err)
	}

	result, err := h.service.Apply(ctx, call)
	if err == nil {
		var body []byte
		body, err = h.codec.Encode(&message.Response{Result: result})
		if err == nil {
			return message.HandlerResponse{Body: body, Status: http.StatusOK}, nil
		}
		// A success we cannot serialize is served as a failure.
	}

	errResp := h.unwrapError(err)
	body, encErr := h.codec.Encode(&message.Response{Error: &errResp})
	if encErr != nil {
		// The caller gets the failure that broke the call, not the one that
		// broke its serialization.
		var re *sqlerror.RuntimeError
		if errors.As(err, &re) {
			return message.HandlerResponse{}, err
		}
		return message.HandlerResponse{}, fmt.Errorf("serving %q: %w", call.Method, err)
	}
	return message.HandlerResponse{Body: body, Status: http.StatusInternalServerError}, nil
}

// unwrapError reduces any dispatch failure to a wire-safe ErrorResponse.
// Priority: RuntimeError context is copied losslessly; a missing connection
// maps to its fixed error code; everything else gets a causal-chain summary
// and the unknown sentinels. Every branch yields a valid value — this
// function has no failure path of its own.
func (h *Handler) unwrapError(err error) message.ErrorResponse {
	resp := message.ErrorResponse{
		ErrorCode: message.UnknownErrorCode,
		SQLState:  message.UnknownSQLState,
		Severity:  message.SeverityUnknown,
		Metadata:  h.metadata.Load(),
	}

	var rte *sqlerror.RuntimeError
	var missing *sqlerror.NoSuchConnectionError
	switch {
	case errors.As(err, &rte):
		resp.ErrorCode = rte.ErrorCode
		resp.SQLState = rte.SQLState
		resp.Severity = rte.Severity
		resp.Message = rte.Message
	case errors.As(err, &missing):
		resp.ErrorCode = message.MissingConnectionErrorCode
		resp.Severity = message.SeverityError
		resp.Message = missing.Error()
	default:
		resp.Message = causalChain(err)
	}
	return resp
}

// causalChain synthesizes a message for a failure with no structured
// context: each level of the unwrap chain contributes its type and message,
// joined outermost to innermost.
func causalChain(err error) string {
	var sb strings.Builder
	for curr := err; curr != nil; curr = errors.Unwrap(curr) {
		if sb.Len() > 0 {
			sb.WriteString(" -> ")
		}
		sb.WriteString(shortTypeName(curr))
		sb.WriteString(": ")
		if msg := curr.Error(); msg != "" {
			sb.WriteString(msg)
		} else {
			sb.WriteString(nullErrorMessage)
		}
	}
	if sb.Len() == 0 {
		return unknownErrorMessage
	}
	return sb.String()
}

// shortTypeName reports an error value's type without pointer marker or
// package path, e.g. *fmt.wrapError → "wrapError".
func shortTypeName(err error) string {
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if name := t.Name(); name != "" {
		return name
	}
	return t.String()
}
