package signaling

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestDecodeJoinDocument(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"join_document","documentId":" doc1 ","peerId":"p1","peerInfo":{"name":"ada"},"token":"abc"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	join, ok := msg.(*JoinDocument)
	if !ok {
		t.Fatalf("message = %T, want *JoinDocument", msg)
	}
	if join.DocumentID != "doc1" || join.PeerID != "p1" || join.Token != "abc" {
		t.Fatalf("join = %+v", join)
	}
	if string(join.PeerInfo) != `{"name":"ada"}` {
		t.Fatalf("peerInfo = %s", join.PeerInfo)
	}
}

func TestDecodeJoinDefaultsPeerInfo(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"join_document","documentId":"doc1"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got := string(msg.(*JoinDocument).PeerInfo); got != "{}" {
		t.Fatalf("peerInfo = %q, want {}", got)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"empty":            ``,
		"not json":         `hello`,
		"array":            `[1,2]`,
		"truncated":        `{"type":"join_document"`,
		"missing type":     `{"documentId":"doc1"}`,
		"empty type":       `{"type":""}`,
		"non-string type":  `{"type":7}`,
		"join without doc": `{"type":"join_document","peerId":"p1"}`,
		"offer no target":  `{"type":"webrtc_offer","sdp":"v=0"}`,
		"ice no target":    `{"type":"webrtc_ice_candidate","candidate":{}}`,
		"bad peer id type": `{"type":"join_document","documentId":"d","peerId":5}`,
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(input))
			var perr *ProtocolError
			if !errors.As(err, &perr) {
				t.Fatalf("err = %v, want *ProtocolError", err)
			}
		})
	}
}

func TestDecodeRelayKeepsRawBytes(t *testing.T) {
	input := []byte(`{"type":"webrtc_answer", "targetPeerId":"p2","sdp":"v=0\r\n","extra":[1,2,3]}`)
	msg, err := Decode(input)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	relay, ok := msg.(*RelayMessage)
	if !ok {
		t.Fatalf("message = %T, want *RelayMessage", msg)
	}
	if relay.Type() != TypeWebRTCAnswer || relay.TargetPeerID != "p2" {
		t.Fatalf("relay = %+v", relay)
	}
	if !bytes.Equal(relay.Raw, input) {
		t.Fatalf("raw = %q, want %q", relay.Raw, input)
	}
	input[0] = 'X'
	if relay.Raw[0] != '{' {
		t.Fatalf("raw aliases the input buffer")
	}
}

func TestDecodeUnknownTypeIsIgnorable(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"cursor_moved","x":1}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, ok := msg.(*UnknownMessage); !ok || msg.Type() != "cursor_moved" {
		t.Fatalf("message = %#v", msg)
	}
}

func TestDecodeSimpleVariants(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"request_document_state"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, ok := msg.(*RequestDocumentState); !ok {
		t.Fatalf("message = %T", msg)
	}
	msg, err = Decode([]byte(`{"type":"peer_heartbeat","peerId":"p1"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if hb, ok := msg.(*PeerHeartbeat); !ok || hb.PeerID != "p1" {
		t.Fatalf("message = %#v", msg)
	}
}

func TestEncodeExistingPeersNeverNull(t *testing.T) {
	data := encodeExistingPeers("doc1", "p1", nil, nil)
	if !strings.Contains(string(data), `"peers":[]`) {
		t.Fatalf("existing_peers = %s", data)
	}
	if strings.Contains(string(data), "permissions") {
		t.Fatalf("permissions should be omitted: %s", data)
	}
}
