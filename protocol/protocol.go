// Package protocol implements the binary frame protocol the gateway speaks
// over TCP.
//
// It solves TCP's sticky packet problem with a fixed-size 16-byte header
// followed by a variable-length body. The receiver reads the header first to
// learn the body length, then reads exactly that many bytes.
//
// Frame format:
//
//	0      3  4  5  6     8         12        16
//	┌──────┬──┬──┬──┬─────┬─────────┬─────────┬───────────────┐
//	│magic │v │ct│mt│stat │   seq   │ bodyLen │    body ...    │
//	│ sgw  │01│  │  │ u16 │ uint32  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────┴─────────┴─────────┴───────────────┘
//
// stat carries the handler's HTTP-style status on response frames (200 for a
// served call, 500 for a normalized failure or a request the server could
// not decode); it is zero on requests and heartbeats.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Magic number bytes: "sgw" (sql gateway). Used to quickly reject data that
// is not a gateway frame, e.g. an HTTP client hitting the wrong port.
const (
	MagicNumber byte = 0x73 // 's'
	MagicByte2  byte = 0x67 // 'g'
	MagicByte3  byte = 0x77 // 'w'
	Version     byte = 0x01
	HeaderSize  int  = 16 // 3 (magic) + 1 (version) + 1 (codec) + 1 (msgType) + 2 (status) + 4 (seq) + 4 (bodyLen)
)

// MsgType distinguishes request, response, and heartbeat frames.
type MsgType byte

const (
	MsgTypeRequest   MsgType = 0 // Client → Server call
	MsgTypeResponse  MsgType = 1 // Server → Client verdict
	MsgTypeHeartbeat MsgType = 2 // KeepAlive probe (no body)
)

// Codec type constants, mirrored from the codec package to avoid a circular
// import.
const (
	CodecTypeJSON byte = 0
	CodecTypeGob  byte = 1
)

// Header is the fixed 16-byte frame header.
type Header struct {
	CodecType byte    // Serialization format: 0=JSON, 1=Gob
	MsgType   MsgType // Request, Response, or Heartbeat
	Status    uint16  // HTTP-style status on responses; 0 otherwise
	Seq       uint32  // Sequence ID — matches request ↔ response for multiplexing
	BodyLen   uint32  // Body length in bytes
}

// Encode writes a complete frame (header + body) to w.
// The caller must hold a write lock if multiple goroutines share the same
// writer, otherwise frames from different requests will interleave and
// corrupt the stream.
func Encode(w io.Writer, h *Header, body []byte) error {
	buf := make([]byte, HeaderSize)

	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.MsgType)
	binary.BigEndian.PutUint16(buf[6:8], h.Status)
	binary.BigEndian.PutUint32(buf[8:12], h.Seq)
	binary.BigEndian.PutUint32(buf[12:16], h.BodyLen)

	if _, err := w.Write(buf); err != nil {
		return err
	}
	// Body may be nil for heartbeats and bodiless error frames.
	if _, err := w.Write(body); err != nil {
		return err
	}
	return nil
}

// Decode reads a complete frame (header + body) from r. It validates the
// magic number, version, codec type, and message type, and uses io.ReadFull
// so partial reads never hand back a truncated frame.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:3])
	}

	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", headerBuf[3])
	}

	if headerBuf[4] != CodecTypeJSON && headerBuf[4] != CodecTypeGob {
		return nil, nil, fmt.Errorf("unsupported codec type: %d", headerBuf[4])
	}

	msgType := headerBuf[5]
	if msgType != byte(MsgTypeRequest) && msgType != byte(MsgTypeResponse) && msgType != byte(MsgTypeHeartbeat) {
		return nil, nil, fmt.Errorf("unsupported message type: %d", msgType)
	}

	status := binary.BigEndian.Uint16(headerBuf[6:8])
	seq := binary.BigEndian.Uint32(headerBuf[8:12])
	bodyLen := binary.BigEndian.Uint32(headerBuf[12:16])

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	return &Header{
		CodecType: headerBuf[4],
		MsgType:   MsgType(msgType),
		Status:    status,
		Seq:       seq,
		BodyLen:   bodyLen,
	}, body, nil
}
