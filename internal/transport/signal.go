package transport

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/audiolink/internal/util"
)

type messageType string

const (
	msgTypeOffer     messageType = "offer"
	msgTypeAnswer    messageType = "answer"
	msgTypeCandidate messageType = "candidate"
)

// message is the JSON structure exchanged over the WebSocket during signaling.
type message struct {
	Type      messageType `json:"type"`
	SDP       string      `json:"sdp,omitempty"`
	Candidate string      `json:"candidate,omitempty"` // JSON-encoded ICECandidateInit
}

// wsMessenger is the part of *websocket.Conn signaling needs.
type wsMessenger interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	RemoteAddr() net.Addr
	Close() error
}

// signaler runs one SDP/ICE exchange. Writes to the WebSocket are serialized;
// watch is the only reader.
type signaler struct {
	pc *webrtc.PeerConnection
	ws wsMessenger
	mu sync.Mutex

	// Candidates that arrive before the remote description are held back.
	pending   []webrtc.ICECandidateInit
	remoteSet bool
}

// send writes a signaling message to the WebSocket, guarded by a mutex.
func (s *signaler) send(msg message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ws.WriteJSON(msg)
}

// sendOffer creates an SDP offer, sets it as local description, and sends it.
func (s *signaler) sendOffer() error {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return err
	}
	return s.send(message{Type: msgTypeOffer, SDP: offer.SDP})
}

// sendAnswer creates an SDP answer, sets it as local description, and sends it.
func (s *signaler) sendAnswer() error {
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return err
	}
	return s.send(message{Type: msgTypeAnswer, SDP: answer.SDP})
}

// onCandidate trickles local ICE candidates to the peer. Best-effort: once
// the channel is open the WebSocket is gone and late candidates don't matter.
func (s *signaler) onCandidate(c *webrtc.ICECandidate) {
	if c == nil {
		return
	}
	data, err := json.Marshal(c.ToJSON())
	if err != nil {
		return
	}
	if err := s.send(message{Type: msgTypeCandidate, Candidate: string(data)}); err != nil {
		util.LogDebug("Dropping ICE candidate: %v", err)
	}
}

// complete reports whether both descriptions have been applied.
func (s *signaler) complete() bool {
	return s.pc.LocalDescription() != nil && s.pc.RemoteDescription() != nil
}

// watch reads signaling messages until the WebSocket fails or closes.
func (s *signaler) watch() error {
	for {
		var msg message
		if err := s.ws.ReadJSON(&msg); err != nil {
			return fmt.Errorf("failed to read WS message: %w", err)
		}

		switch msg.Type {
		case msgTypeOffer:
			if err := s.setRemote(webrtc.SDPTypeOffer, msg.SDP); err != nil {
				return err
			}
			if err := s.sendAnswer(); err != nil {
				return err
			}

		case msgTypeAnswer:
			if err := s.setRemote(webrtc.SDPTypeAnswer, msg.SDP); err != nil {
				return err
			}

		case msgTypeCandidate:
			var init webrtc.ICECandidateInit
			if err := json.Unmarshal([]byte(msg.Candidate), &init); err != nil {
				return fmt.Errorf("failed to parse ICE candidate: %w", err)
			}
			if !s.remoteSet {
				s.pending = append(s.pending, init)
				continue
			}
			if err := s.pc.AddICECandidate(init); err != nil {
				return err
			}
		}
	}
}

func (s *signaler) setRemote(typ webrtc.SDPType, sdp string) error {
	if err := s.pc.SetRemoteDescription(webrtc.SessionDescription{Type: typ, SDP: sdp}); err != nil {
		return err
	}
	s.remoteSet = true
	for _, init := range s.pending {
		if err := s.pc.AddICECandidate(init); err != nil {
			return err
		}
	}
	s.pending = nil
	return nil
}
