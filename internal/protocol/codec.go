package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrFraming matches every *FramingError via errors.Is.
var ErrFraming = errors.New("framing error")

// Reasons carried by FramingError.
var (
	ErrShortHeader   = errors.New("incomplete header")
	ErrShortPayload  = errors.New("incomplete payload")
	ErrUnknownKind   = errors.New("unknown packet kind")
	ErrPayloadLength = errors.New("unexpected payload length")
)

// FramingError reports a header or payload that cannot be aligned on the
// stream. Once it happens the session has to be dropped.
type FramingError struct {
	Reason error
	Have   int // bytes available
	Want   int // bytes required
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("framing error: %v (have %d bytes, need %d)", e.Reason, e.Have, e.Want)
}

func (e *FramingError) Unwrap() []error { return []error{ErrFraming, e.Reason} }

// Encode serializes a Packet into a byte slice for transmission. The
// payload must not exceed MaxPayloadSize (transport.Sender checks this);
// Encode panics rather than emit a header with a truncated length.
func Encode(pkt *Packet) []byte {
	if len(pkt.Payload) > MaxPayloadSize {
		panic(fmt.Sprintf("protocol: %s payload of %d bytes exceeds %d", pkt.Kind, len(pkt.Payload), MaxPayloadSize))
	}
	buf := make([]byte, HeaderSize+len(pkt.Payload))
	putHeader(buf, pkt.Kind, pkt.SeqNum, len(pkt.Payload))
	copy(buf[HeaderSize:], pkt.Payload)
	return buf
}

// Wrap builds the wire bytes of an audio packet.
func Wrap(seq uint32, frame []byte) []byte {
	return Encode(&Packet{Kind: KindAudio, SeqNum: seq, Payload: frame})
}

// Unwrap decodes the first packet in buf and returns the bytes that follow it.
// It fails with a *FramingError when the header or the declared payload is not
// fully present; the caller keeps buffering in that case. The returned payload
// aliases buf.
func Unwrap(buf []byte) (Packet, []byte, error) {
	if len(buf) < HeaderSize {
		return Packet{}, buf, &FramingError{Reason: ErrShortHeader, Have: len(buf), Want: HeaderSize}
	}
	kind, seq, n := parseHeader(buf)
	if !kind.valid() {
		return Packet{}, buf, &FramingError{Reason: ErrUnknownKind, Have: len(buf), Want: HeaderSize}
	}
	if len(buf)-HeaderSize < n {
		return Packet{}, buf, &FramingError{Reason: ErrShortPayload, Have: len(buf) - HeaderSize, Want: n}
	}
	pkt := Packet{Kind: kind, SeqNum: seq, Payload: buf[HeaderSize : HeaderSize+n]}
	return pkt, buf[HeaderSize+n:], nil
}

func putHeader(buf []byte, kind Kind, seq uint32, n int) {
	binary.BigEndian.PutUint32(buf[0:4], seq)
	binary.BigEndian.PutUint32(buf[4:8], uint32(kind)<<24|uint32(n)&lengthMask)
}

func parseHeader(buf []byte) (Kind, uint32, int) {
	seq := binary.BigEndian.Uint32(buf[0:4])
	word := binary.BigEndian.Uint32(buf[4:8])
	return Kind(word >> 24), seq, int(word & lengthMask)
}
