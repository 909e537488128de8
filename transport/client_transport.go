// Package transport implements the client-side transport layer with
// multiplexing and heartbeat.
//
// ClientTransport enables multiple concurrent calls over a single TCP
// connection. Each request gets a unique sequence ID, and a background
// goroutine (recvLoop) continuously reads response frames and routes them to
// the correct caller via pending channels.
//
//	goroutine-1 ──Send(seq=1)──┐
//	goroutine-2 ──Send(seq=2)──┼──→ single TCP conn ──→ Gateway
//	goroutine-3 ──Send(seq=3)──┘
//
//	recvLoop:  ←── response(seq=2) → pending[2] chan ← response → goroutine-2 wakes up
package transport

import (
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"sqlgate/codec"
	"sqlgate/message"
	"sqlgate/protocol"
)

// Reply is what a caller receives for one sent call: the transport status
// from the frame header and the decoded envelope. Response is nil when the
// server answered with a bodiless error frame.
type Reply struct {
	Status   int
	Response *message.Response
}

// ClientTransport manages a single multiplexed TCP connection.
type ClientTransport struct {
	conn    net.Conn
	codec   codec.CodecType
	seq     uint32      // Monotonically increasing sequence number (protected by sending mutex)
	pending sync.Map    // map[uint32]chan *Reply — each request waits on its own channel
	sending sync.Mutex  // Writes must be serialized: interleaved frames corrupt the stream
	broken  atomic.Bool // Set when the connection fails; the pool discards broken transports
}

// NewClientTransport creates a transport for the given connection and starts
// two background goroutines: recvLoop (routes responses to pending callers)
// and heartbeatLoop (keeps the connection alive).
func NewClientTransport(conn net.Conn, codecType codec.CodecType) *ClientTransport {
	t := &ClientTransport{
		conn:  conn,
		codec: codecType,
	}
	go t.recvLoop()
	go t.heartbeatLoop(30 * time.Second)
	return t
}

// Send serializes one call and writes it as a request frame. Returns the
// sequence number and a channel that will receive the reply.
func (t *ClientTransport) Send(call *message.Call) (uint32, <-chan *Reply, error) {
	t.sending.Lock()
	defer t.sending.Unlock()

	t.seq++
	seq := t.seq

	cdc := codec.GetCodec(t.codec)
	body, err := cdc.Encode(call)
	if err != nil {
		return 0, nil, err
	}

	header := protocol.Header{
		CodecType: byte(t.codec),
		MsgType:   protocol.MsgTypeRequest,
		Seq:       seq,
		BodyLen:   uint32(len(body)),
	}

	// Register the reply channel BEFORE writing, so recvLoop cannot race a
	// fast response past us. Buffered so recvLoop never blocks on delivery.
	replyChan := make(chan *Reply, 1)
	t.pending.Store(seq, replyChan)

	if err := protocol.Encode(t.conn, &header, body); err != nil {
		t.pending.Delete(seq)
		t.broken.Store(true)
		return 0, nil, err
	}

	return seq, replyChan, nil
}

// recvLoop runs in a dedicated goroutine, reading response frames and
// routing each to the caller waiting on its sequence number. A single reader
// is required: TCP is a byte stream and frame boundaries only parse
// sequentially.
func (t *ClientTransport) recvLoop() {
	for {
		header, body, err := protocol.Decode(t.conn)
		if err != nil {
			t.broken.Store(true)
			t.failAllPending(err)
			return
		}

		reply := &Reply{Status: int(header.Status)}
		if len(body) > 0 {
			envelope := new(message.Response)
			cdc := codec.GetCodec(codec.CodecType(header.CodecType))
			if err := cdc.Decode(body, envelope); err == nil {
				reply.Response = envelope
			}
		}

		if ch, ok := t.pending.LoadAndDelete(header.Seq); ok {
			ch.(chan *Reply) <- reply
		}
	}
}

// failAllPending runs when the connection breaks: every waiting caller gets
// a synthesized fatal ErrorResponse instead of blocking forever.
func (t *ClientTransport) failAllPending(err error) {
	t.pending.Range(func(key, value any) bool {
		ch := value.(chan *Reply)
		ch <- &Reply{
			Status: http.StatusInternalServerError,
			Response: &message.Response{
				Error: &message.ErrorResponse{
					ErrorCode: message.UnknownErrorCode,
					SQLState:  message.UnknownSQLState,
					Severity:  message.SeverityFatal,
					Message:   err.Error(),
				},
			},
		}
		return true
	})
	t.pending.Range(func(key, value any) bool {
		t.pending.Delete(key)
		return true
	})
}

// Broken reports whether the connection has failed. Broken transports are
// closed and replaced instead of being returned to the pool.
func (t *ClientTransport) Broken() bool {
	return t.broken.Load()
}

func (t *ClientTransport) Close() error {
	return t.conn.Close()
}

// heartbeatLoop sends periodic bodiless frames so idle connections are not
// closed by the server side. Heartbeat writes take the sending lock too:
// frame interleaving does not care who is writing.
func (t *ClientTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		header := &protocol.Header{
			CodecType: byte(t.codec),
			MsgType:   protocol.MsgTypeHeartbeat,
		}
		t.sending.Lock()
		err := protocol.Encode(t.conn, header, nil)
		t.sending.Unlock()
		if err != nil {
			t.broken.Store(true)
			return
		}
	}
}
