package protocol

import (
	"bufio"
	"errors"
	"io"
)

const readBufferSize = 64 * 1024

// Reader pulls whole packets off a byte stream. Partial reads are normal on a
// stream socket; Reader keeps reading until the header and then the declared
// payload are complete.
//
// A Reader is not safe for concurrent use.
type Reader struct {
	br         *bufio.Reader
	maxPayload int
	header     [HeaderSize]byte
}

// NewReader returns a Reader that rejects payloads larger than maxPayload.
// A maxPayload of zero means MaxPayloadSize.
func NewReader(r io.Reader, maxPayload int) *Reader {
	if maxPayload <= 0 || maxPayload > MaxPayloadSize {
		maxPayload = MaxPayloadSize
	}
	return &Reader{br: bufio.NewReaderSize(r, readBufferSize), maxPayload: maxPayload}
}

// ReadPacket blocks until a full packet is available.
//
// It returns io.EOF when the stream ends cleanly on a packet boundary (the
// peer closed its write side). A stream that ends inside a header or payload,
// an unknown kind and an oversized payload all yield a *FramingError. Other
// read errors are returned as they are.
func (r *Reader) ReadPacket() (*Packet, error) {
	if n, err := io.ReadFull(r.br, r.header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &FramingError{Reason: ErrShortHeader, Have: n, Want: HeaderSize}
		}
		return nil, err
	}

	kind, seq, size := parseHeader(r.header[:])
	if !kind.valid() {
		return nil, &FramingError{Reason: ErrUnknownKind, Have: HeaderSize, Want: HeaderSize}
	}
	if size > r.maxPayload {
		return nil, &FramingError{Reason: ErrPayloadLength, Have: size, Want: r.maxPayload}
	}

	pkt := &Packet{Kind: kind, SeqNum: seq}
	if size == 0 {
		return pkt, nil
	}

	pkt.Payload = make([]byte, size)
	if n, err := io.ReadFull(r.br, pkt.Payload); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, &FramingError{Reason: ErrShortPayload, Have: n, Want: size}
		}
		return nil, err
	}
	return pkt, nil
}
