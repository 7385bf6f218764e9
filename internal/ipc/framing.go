package ipc

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/carton-run/carton/internal/cartonerr"
)

// maxFrameLength guards against a corrupt or malicious length prefix
// causing an unbounded allocation.
const maxFrameLength = 256 << 20 // 256 MiB

var encMode = mustEncMode()

func mustEncMode() cbor.EncMode {
	// Canonical/deterministic encoding gives the "bincode-style
	// deterministic serialization" property spec.md §4.7 asks for,
	// without hand-rolling a wire format.
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return mode
}

// Envelope is the framed unit written to and read from the connection:
// one message on one logical channel, tagged with a correlation id for
// RPC dispatch (spec.md §4.7 Framing/Multiplexing).
type Envelope struct {
	Channel       ChannelID `cbor:"1,keyasint"`
	CorrelationID uint64    `cbor:"2,keyasint"`
	Kind          Kind      `cbor:"3,keyasint"`
	Payload       []byte    `cbor:"4,keyasint"`
}

// EncodePayload CBOR-encodes v in canonical form for embedding in an
// Envelope's Payload field.
func EncodePayload(v any) ([]byte, error) {
	b, err := encMode.Marshal(v)
	if err != nil {
		return nil, cartonerr.Wrap(cartonerr.KindIpcProtocolError, "encoding ipc payload", err)
	}
	return b, nil
}

// DecodePayload decodes an Envelope's Payload into v.
func DecodePayload(payload []byte, v any) error {
	if err := cbor.Unmarshal(payload, v); err != nil {
		return cartonerr.Wrap(cartonerr.KindIpcProtocolError, "decoding ipc payload", err)
	}
	return nil
}

// WriteFrame encodes env as a length-prefixed CBOR frame: a
// little-endian uint32 byte length, followed by the canonical CBOR
// encoding of env itself.
func WriteFrame(w io.Writer, env Envelope) error {
	body, err := encMode.Marshal(env)
	if err != nil {
		return cartonerr.Wrap(cartonerr.KindIpcProtocolError, "encoding ipc frame", err)
	}
	if len(body) > maxFrameLength {
		return cartonerr.New(cartonerr.KindIpcProtocolError, fmt.Sprintf("frame too large: %d bytes", len(body)))
	}
	var lenPrefix [4]byte
	binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(body)))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return cartonerr.Wrap(cartonerr.KindIpcProtocolError, "writing frame length prefix", err)
	}
	if _, err := w.Write(body); err != nil {
		return cartonerr.Wrap(cartonerr.KindIpcProtocolError, "writing frame body", err)
	}
	return nil
}

// ReadFrame reads and decodes the next length-prefixed frame from r.
// Any read/decode error is fatal to the session per spec.md §4.7
// ("truncated frame, or deserialization failure terminates the session").
func ReadFrame(r io.Reader) (Envelope, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		if err == io.EOF {
			return Envelope{}, io.EOF
		}
		return Envelope{}, cartonerr.Wrap(cartonerr.KindIpcProtocolError, "reading frame length prefix", err)
	}
	n := binary.LittleEndian.Uint32(lenPrefix[:])
	if n > maxFrameLength {
		return Envelope{}, cartonerr.New(cartonerr.KindIpcProtocolError, fmt.Sprintf("frame length %d exceeds maximum", n))
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Envelope{}, cartonerr.Wrap(cartonerr.KindIpcProtocolError, "reading frame body", err)
	}
	var env Envelope
	if err := cbor.Unmarshal(body, &env); err != nil {
		return Envelope{}, cartonerr.Wrap(cartonerr.KindIpcProtocolError, "decoding ipc frame", err)
	}
	return env, nil
}
