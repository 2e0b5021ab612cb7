package signaling

import (
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"pkt.systems/pslog"
)

type fakeConn struct {
	id string

	mu      sync.Mutex
	sent    [][]byte
	closed  bool
	reason  string
	sendErr error
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	if f.closed {
		return ErrConnClosed
	}
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) Close(reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		f.reason = reason
	}
	return nil
}

func (f *fakeConn) isClosed() (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed, f.reason
}

func (f *fakeConn) raw() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

func (f *fakeConn) reset() {
	f.mu.Lock()
	f.sent = nil
	f.mu.Unlock()
}

type wireMessage struct {
	Type             string          `json:"type"`
	DocumentID       string          `json:"documentId"`
	PeerID           string          `json:"peerId"`
	PeerInfo         json.RawMessage `json:"peerInfo"`
	Peers            []PeerSummary   `json:"peers"`
	Permissions      []string        `json:"permissions"`
	RequestingPeerID string          `json:"requestingPeerId"`
	Reason           string          `json:"reason"`
}

func (f *fakeConn) messages(t *testing.T) []wireMessage {
	t.Helper()
	var out []wireMessage
	for _, data := range f.raw() {
		var msg wireMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal sent message %q: %v", data, err)
		}
		out = append(out, msg)
	}
	return out
}

func (f *fakeConn) ofType(t *testing.T, typ MessageType) []wireMessage {
	t.Helper()
	var out []wireMessage
	for _, msg := range f.messages(t) {
		if msg.Type == string(typ) {
			out = append(out, msg)
		}
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type observed struct {
	kind       string
	documentID string
	peerID     string
	cause      LeaveCause
}

type recordingObserver struct {
	mu     sync.Mutex
	events []observed
}

func (o *recordingObserver) PeerJoined(documentID, peerID string) {
	o.mu.Lock()
	o.events = append(o.events, observed{kind: "joined", documentID: documentID, peerID: peerID})
	o.mu.Unlock()
}

func (o *recordingObserver) PeerLeft(documentID, peerID string, cause LeaveCause) {
	o.mu.Lock()
	o.events = append(o.events, observed{kind: "left", documentID: documentID, peerID: peerID, cause: cause})
	o.mu.Unlock()
}

func (o *recordingObserver) snapshot() []observed {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]observed(nil), o.events...)
}

func testLogger() pslog.Logger {
	return pslog.NewWithOptions(io.Discard, pslog.Options{
		Mode:             pslog.ModeStructured,
		DisableTimestamp: true,
		NoColor:          true,
	})
}
