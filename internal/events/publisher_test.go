package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"pkt.systems/pslog"

	"pkt.systems/peerdoc/internal/collabstore"
	"pkt.systems/peerdoc/internal/signaling"
	"pkt.systems/peerdoc/internal/token"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return nil
}

func quietLogger() pslog.Logger {
	return pslog.NewWithOptions(io.Discard, pslog.Options{Mode: pslog.ModeStructured, NoColor: true})
}

func decode(t *testing.T, msg kafka.Message) Event {
	t.Helper()
	var ev Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	return ev
}

func TestPublisherObservesMembership(t *testing.T) {
	w := &fakeWriter{}
	at := time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)
	p := NewPublisherWithWriter(w, Options{Logger: quietLogger(), Now: func() time.Time { return at }})

	var obs signaling.Observer = p
	obs.PeerJoined("doc1", "p1")
	obs.PeerLeft("doc1", "p1", signaling.CauseEvicted)

	if len(w.msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "doc1" {
		t.Fatalf("key = %q, want doc1", w.msgs[0].Key)
	}
	joined := decode(t, w.msgs[0])
	if joined.Type != TypePeerJoined || joined.PeerID != "p1" || !joined.At.Equal(at) {
		t.Fatalf("joined = %+v", joined)
	}
	left := decode(t, w.msgs[1])
	if left.Type != TypePeerLeft || left.Cause != string(signaling.CauseEvicted) {
		t.Fatalf("left = %+v", left)
	}
}

func TestPublisherLinkEvents(t *testing.T) {
	w := &fakeWriter{}
	p := NewPublisherWithWriter(w, Options{Logger: quietLogger()})
	ctx := context.Background()
	if err := p.LinkIssued(ctx, collabstore.Link{LinkID: "l1", DocumentID: "doc1", Kind: token.KindOneTime}); err != nil {
		t.Fatalf("LinkIssued: %v", err)
	}
	if err := p.LinkRevoked(ctx, "doc1", "l1"); err != nil {
		t.Fatalf("LinkRevoked: %v", err)
	}
	issued := decode(t, w.msgs[0])
	if issued.Type != TypeLinkIssued || issued.Kind != "one-time" || issued.LinkID != "l1" {
		t.Fatalf("issued = %+v", issued)
	}
	if revoked := decode(t, w.msgs[1]); revoked.Type != TypeLinkRevoked {
		t.Fatalf("revoked = %+v", revoked)
	}
	if err := p.Close(); err != nil || !w.closed {
		t.Fatalf("Close err=%v closed=%v", err, w.closed)
	}
}

func TestPublisherWriteError(t *testing.T) {
	boom := errors.New("broker down")
	p := NewPublisherWithWriter(&fakeWriter{err: boom}, Options{Logger: quietLogger()})
	if err := p.Publish(context.Background(), Event{Type: TypePeerJoined, DocumentID: "d"}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestNilPublisherDiscards(t *testing.T) {
	var p *Publisher
	p.PeerJoined("doc1", "p1")
	if err := p.Publish(context.Background(), Event{}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if NewKafkaPublisher([]string{" ", ""}, "", Options{}) != nil {
		t.Fatalf("expected nil publisher without brokers")
	}
}
