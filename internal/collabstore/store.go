// Package collabstore holds the collaboration metadata the signaling service
// consults when authorizing joins: issued links, revocations and one-time
// link usage. Document content is never stored here.
package collabstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pkt.systems/peerdoc/internal/token"
)

var (
	// ErrLinkAlreadyUsed is returned by MarkUsed when the link was consumed before.
	ErrLinkAlreadyUsed = errors.New("link already used")
	// ErrLinkNotFound is returned by RevokeLink for a link that was never registered.
	ErrLinkNotFound = errors.New("link not found")
	// ErrDocumentMismatch is returned by RevokeLink when the link was issued
	// for a different document.
	ErrDocumentMismatch = errors.New("link belongs to another document")
)

// Driver names accepted by Open.
const (
	DriverFile     = "file"
	DriverPostgres = "postgres"
)

// Link describes an issued capability link and its current status.
type Link struct {
	LinkID      string             `json:"link_id"`
	DocumentID  string             `json:"document_id"`
	Kind        token.Kind         `json:"kind"`
	Permissions []token.Permission `json:"permissions"`
	Recipient   string             `json:"recipient,omitempty"`
	IssuedAt    time.Time          `json:"issued_at"`
	ExpiresAt   time.Time          `json:"expires_at"`
	RevokedAt   *time.Time         `json:"revoked_at,omitempty"`
	UsedAt      *time.Time         `json:"used_at,omitempty"`
	UsedBy      string             `json:"used_by,omitempty"`
}

// LinkFromIssued converts a freshly issued token into a Link record.
func LinkFromIssued(issued token.Issued) Link {
	return Link{
		LinkID:      issued.LinkID,
		DocumentID:  issued.DocumentID,
		Kind:        issued.Kind,
		Permissions: issued.Permissions,
		Recipient:   issued.Recipient,
		IssuedAt:    issued.IssuedAt,
		ExpiresAt:   issued.ExpiresAt,
	}
}

// Record is the revocation and usage state of one document's links.
type Record struct {
	Revoked token.LinkSet
	Used    token.LinkSet
}

// Store is the collaboration metadata system of record.
type Store interface {
	// Record returns the revoked and used link ids for a document.
	Record(ctx context.Context, documentID string) (Record, error)
	// RegisterLink records an issued link.
	RegisterLink(ctx context.Context, link Link) error
	// RevokeLink marks a registered link revoked. Revoking twice is not an
	// error. The document id must match the one the link was issued for.
	RevokeLink(ctx context.Context, documentID, linkID string, now time.Time) error
	// MarkUsed consumes a one-time link exactly once; later calls return
	// ErrLinkAlreadyUsed. A failed write leaves the link unused.
	MarkUsed(ctx context.Context, documentID, linkID, peerID string, now time.Time) error
	// Links lists issued links for a document, oldest first.
	Links(ctx context.Context, documentID string) ([]Link, error)
	Close() error
}

// Config selects and configures a Store.
type Config struct {
	Driver  string
	DSN     string
	DataDir string
}

// Open constructs the configured Store.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverFile:
		return LoadMemoryStore(cfg.DataDir)
	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres store requires a dsn")
		}
		return NewPostgresStore(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}
}
