package server

import (
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"sqlgate/codec"
	"sqlgate/message"
	"sqlgate/protocol"
)

type QueryArgs struct {
	SQL string `json:"sql"`
}

type QueryReply struct {
	Rows int `json:"rows"`
}

type Store struct{}

func (s *Store) Execute(args *QueryArgs, reply *QueryReply) error {
	reply.Rows = len(args.SQL)
	return nil
}

func startServer(t *testing.T, addr string) *Server {
	t.Helper()
	svr := NewServer(nil)
	if err := svr.Register(&Store{}); err != nil {
		t.Fatal(err)
	}
	go svr.Serve("tcp", addr, "", nil)
	time.Sleep(100 * time.Millisecond)
	return svr
}

func sendFrame(t *testing.T, conn net.Conn, seq uint32, call *message.Call) {
	t.Helper()
	cdc := codec.GetCodec(codec.CodecTypeJSON)
	body, err := cdc.Encode(call)
	if err != nil {
		t.Fatal(err)
	}
	header := protocol.Header{
		CodecType: protocol.CodecTypeJSON,
		MsgType:   protocol.MsgTypeRequest,
		Seq:       seq,
		BodyLen:   uint32(len(body)),
	}
	if err := protocol.Encode(conn, &header, body); err != nil {
		t.Fatal(err)
	}
}

func readResponse(t *testing.T, conn net.Conn) (*protocol.Header, *message.Response) {
	t.Helper()
	header, body, err := protocol.Decode(conn)
	if err != nil {
		t.Fatal(err)
	}
	if len(body) == 0 {
		return header, nil
	}
	var envelope message.Response
	if err := codec.GetCodec(codec.CodecTypeJSON).Decode(body, &envelope); err != nil {
		t.Fatal(err)
	}
	return header, &envelope
}

func TestServeSuccess(t *testing.T) {
	startServer(t, ":7841")

	conn, err := net.Dial("tcp", ":7841")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	payload, _ := json.Marshal(&QueryArgs{SQL: "SELECT 1"})
	sendFrame(t, conn, 11, &message.Call{Method: "Execute", Payload: payload})

	header, envelope := readResponse(t, conn)
	if header.Seq != 11 {
		t.Fatalf("Seq: got %d, want 11", header.Seq)
	}
	if header.MsgType != protocol.MsgTypeResponse {
		t.Fatalf("MsgType: got %d", header.MsgType)
	}
	if header.Status != http.StatusOK {
		t.Fatalf("Status: got %d, want 200", header.Status)
	}
	if envelope == nil || envelope.Result == nil {
		t.Fatal("expect a result envelope")
	}

	var reply QueryReply
	if err := json.Unmarshal(envelope.Result.Payload, &reply); err != nil {
		t.Fatal(err)
	}
	if reply.Rows != len("SELECT 1") {
		t.Fatalf("Rows: got %d", reply.Rows)
	}
}

func TestServeNormalizedFailure(t *testing.T) {
	startServer(t, ":7842")

	conn, err := net.Dial("tcp", ":7842")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	sendFrame(t, conn, 12, &message.Call{Method: "NoSuchMethod"})

	header, envelope := readResponse(t, conn)
	if header.Status != http.StatusInternalServerError {
		t.Fatalf("Status: got %d, want 500", header.Status)
	}
	if envelope == nil || envelope.Error == nil {
		t.Fatal("expect an error envelope")
	}
	if envelope.Error.ErrorCode != message.UnknownMethodErrorCode {
		t.Errorf("ErrorCode: got %d, want %d", envelope.Error.ErrorCode, message.UnknownMethodErrorCode)
	}
	if envelope.Error.Metadata == nil || envelope.Error.Metadata.ServerAddress == "" {
		t.Error("error responses must carry the server's metadata")
	}
}

func TestServeUndecodableRequest(t *testing.T) {
	startServer(t, ":7843")

	conn, err := net.Dial("tcp", ":7843")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	body := []byte("this is not json")
	header := protocol.Header{
		CodecType: protocol.CodecTypeJSON,
		MsgType:   protocol.MsgTypeRequest,
		Seq:       13,
		BodyLen:   uint32(len(body)),
	}
	if err := protocol.Encode(conn, &header, body); err != nil {
		t.Fatal(err)
	}

	reply, envelope := readResponse(t, conn)
	if reply.Seq != 13 {
		t.Fatalf("Seq: got %d, want 13", reply.Seq)
	}
	if reply.Status != http.StatusInternalServerError {
		t.Fatalf("Status: got %d, want 500", reply.Status)
	}
	if envelope != nil {
		t.Fatalf("undecodable requests have no body contract, got %+v", envelope)
	}
}

func TestGracefulShutdown(t *testing.T) {
	svr := startServer(t, ":7844")

	if err := svr.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	if _, err := net.Dial("tcp", ":7844"); err == nil {
		t.Fatal("listener should be closed after shutdown")
	}
}
