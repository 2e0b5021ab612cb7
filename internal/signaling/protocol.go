// Package signaling routes WebRTC signaling between peers collaborating on
// the same document. It keeps the peer session table and the document rooms,
// relays offers, answers and ICE candidates, and evicts silent peers.
package signaling

import (
	"bytes"
	"encoding/json"
	"strings"
)

// MessageType is the wire discriminator of a signaling message.
type MessageType string

// Client-originated message types.
const (
	TypeJoinDocument         MessageType = "join_document"
	TypeWebRTCOffer          MessageType = "webrtc_offer"
	TypeWebRTCAnswer         MessageType = "webrtc_answer"
	TypeWebRTCICECandidate   MessageType = "webrtc_ice_candidate"
	TypeRequestDocumentState MessageType = "request_document_state"
	TypePeerHeartbeat        MessageType = "peer_heartbeat"
)

// Server-emitted message types.
const (
	TypeExistingPeers        MessageType = "existing_peers"
	TypePeerJoined           MessageType = "peer_joined"
	TypePeerLeft             MessageType = "peer_left"
	TypeDocumentStateRequest MessageType = "document_state_request"
	TypeJoinRejected         MessageType = "join_rejected"
)

// Message is a decoded inbound message. The concrete type identifies the variant.
type Message interface {
	Type() MessageType
}

// JoinDocument asks to join a document room.
type JoinDocument struct {
	DocumentID string          `json:"documentId"`
	PeerID     string          `json:"peerId,omitempty"`
	PeerInfo   json.RawMessage `json:"peerInfo,omitempty"`
	Token      string          `json:"token,omitempty"`
}

// Type implements Message.
func (*JoinDocument) Type() MessageType { return TypeJoinDocument }

// RelayMessage is a WebRTC offer, answer or ICE candidate addressed to one
// peer. Raw holds the original bytes, forwarded without modification.
type RelayMessage struct {
	Kind         MessageType
	TargetPeerID string
	Raw          []byte
}

// Type implements Message.
func (m *RelayMessage) Type() MessageType { return m.Kind }

// RequestDocumentState asks room members to share the current document state.
type RequestDocumentState struct{}

// Type implements Message.
func (*RequestDocumentState) Type() MessageType { return TypeRequestDocumentState }

// PeerHeartbeat refreshes the sender's liveness.
type PeerHeartbeat struct {
	PeerID string `json:"peerId,omitempty"`
}

// Type implements Message.
func (*PeerHeartbeat) Type() MessageType { return TypePeerHeartbeat }

// UnknownMessage carries a type this server does not understand. It is ignored.
type UnknownMessage struct {
	Name MessageType
}

// Type implements Message.
func (m *UnknownMessage) Type() MessageType { return m.Name }

type envelope struct {
	Type         *string `json:"type"`
	TargetPeerID string  `json:"targetPeerId"`
}

// Decode parses one inbound frame. Failures are returned as *ProtocolError.
func Decode(data []byte) (Message, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, protocolErrorf(nil, "message must be a json object")
	}
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, protocolErrorf(err, "invalid json")
	}
	if env.Type == nil || *env.Type == "" {
		return nil, protocolErrorf(nil, "message type is required")
	}

	kind := MessageType(*env.Type)
	switch kind {
	case TypeJoinDocument:
		var msg JoinDocument
		if err := json.Unmarshal(trimmed, &msg); err != nil {
			return nil, protocolErrorf(err, "invalid join_document")
		}
		msg.DocumentID = strings.TrimSpace(msg.DocumentID)
		msg.PeerID = strings.TrimSpace(msg.PeerID)
		msg.Token = strings.TrimSpace(msg.Token)
		if msg.DocumentID == "" {
			return nil, protocolErrorf(nil, "join_document requires documentId")
		}
		if len(msg.PeerInfo) == 0 || bytes.Equal(msg.PeerInfo, []byte("null")) {
			msg.PeerInfo = json.RawMessage(`{}`)
		}
		return &msg, nil
	case TypeWebRTCOffer, TypeWebRTCAnswer, TypeWebRTCICECandidate:
		if env.TargetPeerID == "" {
			return nil, protocolErrorf(nil, string(kind)+" requires targetPeerId")
		}
		raw := make([]byte, len(data))
		copy(raw, data)
		return &RelayMessage{Kind: kind, TargetPeerID: env.TargetPeerID, Raw: raw}, nil
	case TypeRequestDocumentState:
		return &RequestDocumentState{}, nil
	case TypePeerHeartbeat:
		var msg PeerHeartbeat
		if err := json.Unmarshal(trimmed, &msg); err != nil {
			return nil, protocolErrorf(err, "invalid peer_heartbeat")
		}
		return &msg, nil
	default:
		return &UnknownMessage{Name: kind}, nil
	}
}

// PeerSummary describes a room member to other members.
type PeerSummary struct {
	PeerID   string          `json:"peerId"`
	PeerInfo json.RawMessage `json:"peerInfo"`
}

type existingPeersMessage struct {
	Type        MessageType   `json:"type"`
	DocumentID  string        `json:"documentId"`
	PeerID      string        `json:"peerId"`
	Permissions []string      `json:"permissions,omitempty"`
	Peers       []PeerSummary `json:"peers"`
}

type peerJoinedMessage struct {
	Type       MessageType     `json:"type"`
	DocumentID string          `json:"documentId"`
	PeerID     string          `json:"peerId"`
	PeerInfo   json.RawMessage `json:"peerInfo"`
}

type peerLeftMessage struct {
	Type       MessageType `json:"type"`
	DocumentID string      `json:"documentId"`
	PeerID     string      `json:"peerId"`
}

type documentStateRequestMessage struct {
	Type             MessageType `json:"type"`
	DocumentID       string      `json:"documentId"`
	RequestingPeerID string      `json:"requestingPeerId"`
}

type joinRejectedMessage struct {
	Type       MessageType `json:"type"`
	DocumentID string      `json:"documentId"`
	Reason     string      `json:"reason"`
}

func encodeExistingPeers(documentID, peerID string, permissions []string, peers []PeerSummary) []byte {
	if peers == nil {
		peers = []PeerSummary{}
	}
	return mustEncode(existingPeersMessage{
		Type:        TypeExistingPeers,
		DocumentID:  documentID,
		PeerID:      peerID,
		Permissions: permissions,
		Peers:       peers,
	})
}

func encodePeerJoined(documentID, peerID string, info json.RawMessage) []byte {
	return mustEncode(peerJoinedMessage{Type: TypePeerJoined, DocumentID: documentID, PeerID: peerID, PeerInfo: info})
}

func encodePeerLeft(documentID, peerID string) []byte {
	return mustEncode(peerLeftMessage{Type: TypePeerLeft, DocumentID: documentID, PeerID: peerID})
}

func encodeDocumentStateRequest(documentID, requestingPeerID string) []byte {
	return mustEncode(documentStateRequestMessage{
		Type:             TypeDocumentStateRequest,
		DocumentID:       documentID,
		RequestingPeerID: requestingPeerID,
	})
}

func encodeJoinRejected(documentID, reason string) []byte {
	return mustEncode(joinRejectedMessage{Type: TypeJoinRejected, DocumentID: documentID, Reason: reason})
}

// mustEncode marshals server-built messages whose field types cannot fail to
// encode. peerInfo is validated as JSON at decode time.
func mustEncode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic("signaling: encode server message: " + err.Error())
	}
	return data
}
