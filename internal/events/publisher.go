// Package events publishes session lifecycle events to Kafka so other
// services can follow who is collaborating on which document.
package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"pkt.systems/pslog"

	"pkt.systems/peerdoc/internal/collabstore"
	"pkt.systems/peerdoc/internal/metrics"
	"pkt.systems/peerdoc/internal/signaling"
)

// DefaultTopic is used when no topic is configured.
const DefaultTopic = "peerdoc.sessions"

// Event types.
const (
	TypePeerJoined  = "peer_joined"
	TypePeerLeft    = "peer_left"
	TypeLinkIssued  = "link_issued"
	TypeLinkRevoked = "link_revoked"
)

// Event is one published record. Messages are keyed by document id.
type Event struct {
	Type       string    `json:"type"`
	DocumentID string    `json:"documentId"`
	PeerID     string    `json:"peerId,omitempty"`
	LinkID     string    `json:"linkId,omitempty"`
	Kind       string    `json:"kind,omitempty"`
	Cause      string    `json:"cause,omitempty"`
	At         time.Time `json:"at"`
}

// Writer is the subset of kafka.Writer the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Options configures a Publisher.
type Options struct {
	Logger  pslog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Publisher writes events to Kafka. A nil *Publisher discards everything.
type Publisher struct {
	writer  Writer
	logger  pslog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewKafkaPublisher returns an asynchronous publisher for topic on brokers.
// It returns nil when no broker is configured.
func NewKafkaPublisher(brokers []string, topic string, opts Options) *Publisher {
	var addrs []string
	for _, b := range brokers {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	if len(addrs) == 0 {
		return nil
	}
	if topic == "" {
		topic = DefaultTopic
	}
	p := newPublisher(nil, opts)
	p.writer = &kafka.Writer{
		Addr:                   kafka.TCP(addrs...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		Async:                  true,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
		Completion:             p.completion,
	}
	p.logger.Info("kafka events enabled", "brokers", strings.Join(addrs, ","), "topic", topic)
	return p
}

// NewPublisherWithWriter wraps an existing writer.
func NewPublisherWithWriter(w Writer, opts Options) *Publisher {
	return newPublisher(w, opts)
}

func newPublisher(w Writer, opts Options) *Publisher {
	if opts.Logger == nil {
		opts.Logger = pslog.LoggerFromEnv()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Publisher{writer: w, logger: opts.Logger, metrics: opts.Metrics, now: opts.Now}
}

func (p *Publisher) completion(msgs []kafka.Message, err error) {
	if err == nil {
		return
	}
	for range msgs {
		p.metrics.EventDropped()
	}
	p.logger.Warn("kafka publish failed", "messages", len(msgs), "err", err)
}

// Publish writes ev. With an async writer the call returns before delivery.
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	if p == nil || p.writer == nil {
		return nil
	}
	if ev.At.IsZero() {
		ev.At = p.now().UTC()
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := kafka.Message{Key: []byte(ev.DocumentID), Value: value, Time: ev.At}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.metrics.EventDropped()
		p.logger.Warn("kafka write error", "type", ev.Type, "err", err)
		return err
	}
	return nil
}

// PeerJoined implements signaling.Observer.
func (p *Publisher) PeerJoined(documentID, peerID string) {
	_ = p.Publish(context.Background(), Event{Type: TypePeerJoined, DocumentID: documentID, PeerID: peerID})
}

// PeerLeft implements signaling.Observer.
func (p *Publisher) PeerLeft(documentID, peerID string, cause signaling.LeaveCause) {
	_ = p.Publish(context.Background(), Event{Type: TypePeerLeft, DocumentID: documentID, PeerID: peerID, Cause: string(cause)})
}

// LinkIssued records a newly issued capability link.
func (p *Publisher) LinkIssued(ctx context.Context, link collabstore.Link) error {
	return p.Publish(ctx, Event{Type: TypeLinkIssued, DocumentID: link.DocumentID, LinkID: link.LinkID, Kind: string(link.Kind)})
}

// LinkRevoked records a revocation.
func (p *Publisher) LinkRevoked(ctx context.Context, documentID, linkID string) error {
	return p.Publish(ctx, Event{Type: TypeLinkRevoked, DocumentID: documentID, LinkID: linkID})
}

// Close flushes pending messages.
func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
