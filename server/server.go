// Package server implements the gateway's TCP front end: it registers a
// dispatch receiver, accepts connections, and hands each request frame to
// the handler for the frame's wire format.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (single goroutine reads frames)
//	  → for each request: go handleRequest (parallel processing)
//	    → Handler.Apply (decode → middleware chain → dispatch → encode) → write response frame
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"sqlgate/codec"
	"sqlgate/handler"
	"sqlgate/message"
	"sqlgate/middleware"
	"sqlgate/protocol"
	"sqlgate/registry"
	"sqlgate/service"
)

// Server owns the listener, the registered service, and one handler per
// supported wire format.
type Server struct {
	base          *service.LocalService               // Registered dispatch target
	handlers      map[codec.CodecType]*handler.Handler // One handler per wire format, built at Serve time
	listener      net.Listener
	wg            sync.WaitGroup          // Tracks in-flight requests for graceful shutdown
	shutdown      atomic.Bool             // Set during shutdown to suppress Accept errors
	middlewares   []middleware.Middleware // Applied in registration order around dispatch
	registry      registry.Registry       // Service registry (etcd), nil if not using discovery
	advertiseAddr string                  // Address registered in etcd (e.g., "127.0.0.1:7800")
	logger        *zap.Logger
}

// NewServer creates a server with no registered service yet. A nil logger
// disables logging.
func NewServer(logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{logger: logger}
}

// Register installs the dispatch receiver. Its exported methods matching the
// dispatch signature become callable operations.
func (svr *Server) Register(rcvr any) error {
	svc, err := service.NewLocalService(rcvr)
	if err != nil {
		return err
	}
	svr.base = svc
	return nil
}

// Use registers a middleware. Middlewares are applied in the order they are
// added.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// Serve starts the server: listens on the given address, builds the
// per-format handlers, optionally registers with etcd, and enters the
// Accept loop.
//
// advertiseAddr is the routable address published in etcd and stamped into
// error-response metadata; it differs from the listen address because
// ":7800" resolves to "[::]:7800" locally. When empty, the listener's own
// address is used for metadata.
func (svr *Server) Serve(network, address, advertiseAddr string, reg registry.Registry) error {
	if svr.base == nil {
		return fmt.Errorf("server: no service registered")
	}

	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	svr.listener = listener

	// Build the middleware chain once at startup (not per-request), then
	// bind one handler per wire format to the chained dispatch.
	dispatch := middleware.Chain(svr.middlewares...)(svr.base.Apply)
	svc := handler.ServiceFunc(dispatch)

	mdAddr := advertiseAddr
	if mdAddr == "" {
		mdAddr = listener.Addr().String()
	}
	md := &message.RPCMetadata{ServerAddress: mdAddr}

	svr.handlers = make(map[codec.CodecType]*handler.Handler)
	for _, ct := range []codec.CodecType{codec.CodecTypeJSON, codec.CodecTypeGob} {
		h := handler.New(svc, codec.GetCodec(ct))
		h.SetRPCMetadata(md)
		svr.handlers[ct] = h
	}

	svr.advertiseAddr = advertiseAddr
	if reg != nil {
		svr.registry = reg
		if err := reg.Register(svr.base.Name(), registry.ServiceInstance{
			Addr: advertiseAddr,
		}, 10); err != nil { // TTL = 10 seconds, KeepAlive renews automatically
			return err
		}
	}

	svr.logger.Info("gateway serving",
		zap.String("addr", listener.Addr().String()),
		zap.String("service", svr.base.Name()))

	// Accept loop: one goroutine per connection.
	for {
		conn, err := listener.Accept()
		if err != nil {
			// During shutdown, listener.Close() makes Accept fail; the flag
			// distinguishes intentional close from real errors.
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		go svr.handleConn(conn)
	}
}

// handleConn processes a single TCP connection. Reads are sequential in one
// goroutine (frame boundaries require it), but each request is dispatched to
// its own goroutine. The per-connection write mutex keeps concurrently
// written response frames from interleaving.
func (svr *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	writeMu := &sync.Mutex{}
	for {
		header, body, err := protocol.Decode(conn)
		if err != nil {
			return // Connection closed or protocol error
		}

		// Heartbeats exist only to keep the connection alive.
		if header.MsgType == protocol.MsgTypeHeartbeat {
			continue
		}

		go svr.handleRequest(header, body, conn, writeMu)
	}
}

// handleRequest serves one request frame. The handler owns decode, dispatch,
// normalization, and encode; this layer only moves frames. A request the
// handler could not serve at all (undecodable input, or an error body that
// would not serialize) is answered with a bare status-500 frame so the
// client is not left waiting on the sequence number.
func (svr *Server) handleRequest(header *protocol.Header, body []byte, conn net.Conn, writeMu *sync.Mutex) {
	svr.wg.Add(1)
	defer svr.wg.Done()

	h, ok := svr.handlers[codec.CodecType(header.CodecType)]
	if !ok {
		// protocol.Decode validates the codec type, so this is unreachable
		// unless the two packages drift apart.
		svr.logger.Error("no handler for codec", zap.Uint8("codecType", header.CodecType))
		return
	}

	resp, err := h.Apply(context.Background(), body)

	writeMu.Lock()
	defer writeMu.Unlock()

	if err != nil {
		svr.logger.Error("request failed before a structured response could be built",
			zap.Uint32("seq", header.Seq),
			zap.Error(err))
		reply := protocol.Header{
			CodecType: header.CodecType,
			MsgType:   protocol.MsgTypeResponse,
			Status:    uint16(http.StatusInternalServerError),
			Seq:       header.Seq,
		}
		if werr := protocol.Encode(conn, &reply, nil); werr != nil {
			svr.logger.Error("write error frame", zap.Error(werr))
		}
		return
	}

	reply := protocol.Header{
		CodecType: header.CodecType,
		MsgType:   protocol.MsgTypeResponse,
		Status:    uint16(resp.Status),
		Seq:       header.Seq, // Same seq as the request — this is how multiplexing works
		BodyLen:   uint32(len(resp.Body)),
	}
	if err := protocol.Encode(conn, &reply, resp.Body); err != nil {
		svr.logger.Error("write response frame", zap.Error(err))
	}
}

// Shutdown performs graceful shutdown:
//  1. Deregister from etcd (clients stop routing here)
//  2. Set the shutdown flag, then close the listener
//  3. Wait for in-flight requests to finish, bounded by timeout
func (svr *Server) Shutdown(timeout time.Duration) error {
	if svr.registry != nil && svr.base != nil {
		if err := svr.registry.Deregister(svr.base.Name(), svr.advertiseAddr); err != nil {
			svr.logger.Warn("deregister failed", zap.Error(err))
		}
	}

	// Flag before close: otherwise the Accept error fires first and Serve
	// returns a real error instead of nil.
	svr.shutdown.Store(true)
	if svr.listener != nil {
		svr.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for ongoing requests to finish")
	}
}
