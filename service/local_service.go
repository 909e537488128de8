// Package service provides the dispatch target behind the gateway handler:
// a reflection-backed method dispatcher plus the connection table behind the
// openConnection/closeConnection operations.
//
// A receiver is registered once; its exported methods with the signature
//
//	func (r *Recv) Method(args *Args, reply *Reply) error
//
// become callable operations. Method errors flow back to the handler as-is,
// so a *sqlerror.RuntimeError raised inside a method keeps its code, state
// and severity all the way to the client.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"sqlgate/message"
	"sqlgate/sqlerror"
)

// Built-in connection lifecycle operations. They are handled by the
// connection table, not by receiver methods.
const (
	MethodOpenConnection  = "openConnection"
	MethodCloseConnection = "closeConnection"
)

type methodType struct {
	method    reflect.Method
	ArgType   reflect.Type
	ReplyType reflect.Type
}

// LocalService routes decoded calls to the registered receiver and tracks
// open connections. Safe for concurrent use.
type LocalService struct {
	name   string
	rcvr   reflect.Value
	typ    reflect.Type
	method map[string]*methodType

	mu    sync.RWMutex
	conns map[string]struct{}
}

// NewLocalService wraps a receiver and scans its methods.
func NewLocalService(rcvr any) (*LocalService, error) {
	typ := reflect.TypeOf(rcvr)
	if typ.Kind() != reflect.Pointer {
		return nil, fmt.Errorf("service: receiver must be a pointer, got %s", typ.Kind())
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("service: receiver must point to a struct, got %s", typ.Elem().Kind())
	}

	s := &LocalService{
		name:   typ.Elem().Name(),
		rcvr:   reflect.ValueOf(rcvr),
		typ:    typ,
		method: make(map[string]*methodType),
		conns:  make(map[string]struct{}),
	}
	s.registerMethods()
	return s, nil
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// registerMethods keeps the exported methods matching the dispatch
// signature: 3 inputs (receiver, *Args, *Reply), a single error output.
func (s *LocalService) registerMethods() {
	for i := 0; i < s.typ.NumMethod(); i++ {
		method := s.typ.Method(i)
		if method.Type.NumIn() != 3 || method.Type.NumOut() != 1 || method.Type.Out(0) != errorType ||
			method.Type.In(1).Kind() != reflect.Pointer || method.Type.In(2).Kind() != reflect.Pointer {
			continue
		}

		s.method[method.Name] = &methodType{
			method:    method,
			ArgType:   method.Type.In(1).Elem(),
			ReplyType: method.Type.In(2).Elem(),
		}
	}
}

// Name returns the receiver's type name; the server registers under it.
func (s *LocalService) Name() string {
	return s.name
}

// Apply routes one decoded call. Connection lifecycle operations go through
// the connection table; everything else is dispatched by reflection after
// the call's connection id (if any) is validated.
func (s *LocalService) Apply(ctx context.Context, call *message.Call) (*message.Result, error) {
	switch call.Method {
	case MethodOpenConnection:
		return s.openConnection(call)
	case MethodCloseConnection:
		return s.closeConnection(call)
	}

	if call.ConnectionID != "" && !s.hasConnection(call.ConnectionID) {
		return nil, &sqlerror.NoSuchConnectionError{ConnectionID: call.ConnectionID}
	}

	mtype, ok := s.method[call.Method]
	if !ok {
		return nil, &sqlerror.RuntimeError{
			ErrorCode: message.UnknownMethodErrorCode,
			SQLState:  "42000",
			Severity:  message.SeverityError,
			Message:   fmt.Sprintf("service %s has no method %q", s.name, call.Method),
		}
	}

	argv := reflect.New(mtype.ArgType)
	replyv := reflect.New(mtype.ReplyType)

	if len(call.Payload) > 0 {
		if err := json.Unmarshal(call.Payload, argv.Interface()); err != nil {
			return nil, fmt.Errorf("decode arguments for %q: %w", call.Method, err)
		}
	}

	if err := s.call(mtype, argv, replyv); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(replyv.Interface())
	if err != nil {
		return nil, fmt.Errorf("encode reply for %q: %w", call.Method, err)
	}

	return &message.Result{Method: call.Method, Payload: payload}, nil
}

func (s *LocalService) call(mtype *methodType, argv, replyv reflect.Value) error {
	args := [3]reflect.Value{s.rcvr, argv, replyv}
	results := mtype.method.Func.Call(args[:])
	if !results[0].IsNil() {
		return results[0].Interface().(error)
	}
	return nil
}

func (s *LocalService) openConnection(call *message.Call) (*message.Result, error) {
	if call.ConnectionID == "" {
		return nil, &sqlerror.RuntimeError{
			ErrorCode: message.UnknownErrorCode,
			SQLState:  "08001",
			Severity:  message.SeverityError,
			Message:   "openConnection requires a connection id",
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[call.ConnectionID]; ok {
		return nil, &sqlerror.RuntimeError{
			ErrorCode: message.DuplicateConnectionErrorCode,
			SQLState:  "08002",
			Severity:  message.SeverityError,
			Message:   fmt.Sprintf("connection %q is already open", call.ConnectionID),
		}
	}
	s.conns[call.ConnectionID] = struct{}{}

	return &message.Result{Method: call.Method}, nil
}

func (s *LocalService) closeConnection(call *message.Call) (*message.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[call.ConnectionID]; !ok {
		return nil, &sqlerror.NoSuchConnectionError{ConnectionID: call.ConnectionID}
	}
	delete(s.conns, call.ConnectionID)

	return &message.Result{Method: call.Method}, nil
}

func (s *LocalService) hasConnection(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.conns[id]
	return ok
}
