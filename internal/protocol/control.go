package protocol

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Version is the protocol revision announced in Hello.
const Version = 1

// Hello opens every session. It fixes the frame size for the session and the
// first audio sequence number the producer will use.
type Hello struct {
	Version    int    `msgpack:"v"`
	Session    string `msgpack:"sid"`
	SampleRate int    `msgpack:"rate"`
	Channels   int    `msgpack:"ch"`
	BitDepth   int    `msgpack:"bits"`
	FrameBytes int    `msgpack:"frame"`
	FirstSeq   uint32 `msgpack:"first"`
}

// Heartbeat is the body of a KindHeartbeat packet.
type Heartbeat struct {
	SentAt int64 `msgpack:"t"` // unix nanoseconds
}

// NewHelloPacket encodes h into a KindHello packet.
func NewHelloPacket(h Hello) (*Packet, error) {
	body, err := msgpack.Marshal(&h)
	if err != nil {
		return nil, fmt.Errorf("encode hello: %w", err)
	}
	return &Packet{Kind: KindHello, Payload: body}, nil
}

// ParseHello decodes and sanity-checks a KindHello packet.
func ParseHello(pkt *Packet) (Hello, error) {
	var h Hello
	if pkt.Kind != KindHello {
		return h, fmt.Errorf("expected hello, got %s", pkt.Kind)
	}
	if err := msgpack.Unmarshal(pkt.Payload, &h); err != nil {
		return h, fmt.Errorf("decode hello: %w", err)
	}
	if h.Version != Version {
		return h, fmt.Errorf("unsupported protocol version %d", h.Version)
	}
	if h.FrameBytes <= 0 || h.FrameBytes > MaxPayloadSize {
		return h, fmt.Errorf("invalid frame size %d", h.FrameBytes)
	}
	if h.SampleRate <= 0 || h.Channels <= 0 || h.BitDepth <= 0 {
		return h, fmt.Errorf("invalid format %d Hz / %d ch / %d bit", h.SampleRate, h.Channels, h.BitDepth)
	}
	return h, nil
}

// NewHeartbeatPacket stamps a heartbeat with counter seq and the send time.
func NewHeartbeatPacket(seq uint32, now time.Time) *Packet {
	body, _ := msgpack.Marshal(&Heartbeat{SentAt: now.UnixNano()})
	return &Packet{Kind: KindHeartbeat, SeqNum: seq, Payload: body}
}

// ParseHeartbeat decodes a KindHeartbeat body.
func ParseHeartbeat(pkt *Packet) (Heartbeat, error) {
	var hb Heartbeat
	if err := msgpack.Unmarshal(pkt.Payload, &hb); err != nil {
		return hb, fmt.Errorf("decode heartbeat: %w", err)
	}
	return hb, nil
}
