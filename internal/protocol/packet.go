// Package protocol defines the packet format and framing of the audio stream.
package protocol

import "fmt"

// Kind identifies what a packet carries. It occupies the top byte of the
// second header word, so an audio packet (kind 0) is exactly
// (sequenceNumber uint32, payloadLength uint32).
type Kind uint8

// Packet kind constants.
const (
	KindAudio     Kind = 0x00 // Raw PCM frame
	KindHeartbeat Kind = 0x01 // Liveness signal, msgpack body
	KindHello     Kind = 0x02 // Session parameters, sent first by the producer
	KindClose     Kind = 0x03 // Graceful close notification
)

// HeaderSize is the fixed header size: SeqNum(4) + Kind(1) + Length(3).
const HeaderSize = 8

// MaxPayloadSize is the largest payload the 24-bit length field can describe.
const MaxPayloadSize = 1<<24 - 1

const lengthMask = MaxPayloadSize

// Packet represents one unit on the wire.
type Packet struct {
	Kind    Kind
	SeqNum  uint32 // audio sequence number, or a per-kind counter for control packets
	Payload []byte
}

func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindHeartbeat:
		return "heartbeat"
	case KindHello:
		return "hello"
	case KindClose:
		return "close"
	}
	return fmt.Sprintf("kind(0x%02x)", uint8(k))
}

func (k Kind) valid() bool {
	return k <= KindClose
}
