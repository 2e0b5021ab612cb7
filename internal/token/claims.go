package token

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Kind identifies how a capability token may be used.
type Kind string

// Token kinds.
const (
	KindPermanent Kind = "permanent"
	KindOneTime   Kind = "one-time"
)

// Permission is a capability granted by a token.
type Permission string

// Permissions understood by the signaling service.
const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
)

// Token lifetime policy.
const (
	DefaultPermanentTTL = 7 * 24 * time.Hour
	DefaultOneTimeTTL   = 24 * time.Hour
	MaxPermanentTTL     = 30 * 24 * time.Hour
	MaxOneTimeTTL       = 7 * 24 * time.Hour
)

const roomPrefix = "collab-"

var (
	// ErrInvalidPermissions is returned when permissions are empty or unknown.
	ErrInvalidPermissions = errors.New("permissions must be a non-empty subset of read, write")
	// ErrInvalidKind is returned for an unknown token kind.
	ErrInvalidKind = errors.New("token kind must be permanent or one-time")
	// ErrExpiryOutOfRange is returned when the requested lifetime exceeds policy.
	ErrExpiryOutOfRange = errors.New("token expiry out of range")
	// ErrDocumentRequired is returned when no document id is supplied.
	ErrDocumentRequired = errors.New("document id is required")
	// ErrSecretRequired is returned when the service has no signing secret.
	ErrSecretRequired = errors.New("token secret is required")
)

// ParseKind maps user input to a Kind. "invitation" is accepted as an alias
// for one-time tokens.
func ParseKind(value string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(KindPermanent):
		return KindPermanent, nil
	case string(KindOneTime), "onetime", "one_time", "invitation":
		return KindOneTime, nil
	default:
		return "", ErrInvalidKind
	}
}

// MaxTTL returns the longest lifetime allowed for the kind.
func (k Kind) MaxTTL() time.Duration {
	if k == KindOneTime {
		return MaxOneTimeTTL
	}
	return MaxPermanentTTL
}

func (k Kind) valid() bool {
	return k == KindPermanent || k == KindOneTime
}

// NormalizePermissions validates, lowercases, dedupes and sorts permissions.
func NormalizePermissions(values []string) ([]Permission, error) {
	seen := make(map[Permission]struct{}, len(values))
	out := make([]Permission, 0, len(values))
	for _, value := range values {
		p := Permission(strings.ToLower(strings.TrimSpace(value)))
		if p != PermissionRead && p != PermissionWrite {
			return nil, ErrInvalidPermissions
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, ErrInvalidPermissions
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// RoomID derives the collaboration room identifier for a document.
func RoomID(documentID string) string {
	return roomPrefix + documentID
}

// Claims is the signed payload of a capability token.
type Claims struct {
	DocumentID  string       `json:"documentId"`
	RoomID      string       `json:"roomId"`
	Permissions []Permission `json:"permissions"`
	PeerID      string       `json:"peerId"`
	LinkID      string       `json:"linkId"`
	Type        Kind         `json:"type"`
	Recipient   string       `json:"recipient,omitempty"`
	jwt.RegisteredClaims
}

// Allows reports whether the claims grant the permission.
func (c Claims) Allows(p Permission) bool {
	for _, have := range c.Permissions {
		if have == p {
			return true
		}
	}
	return false
}

// complete reports whether every required claim is present and well-formed.
func (c Claims) complete() bool {
	if c.DocumentID == "" || c.LinkID == "" || c.PeerID == "" {
		return false
	}
	if c.RoomID != RoomID(c.DocumentID) {
		return false
	}
	if !c.Type.valid() {
		return false
	}
	if c.ExpiresAt == nil || c.IssuedAt == nil {
		return false
	}
	if len(c.Permissions) == 0 {
		return false
	}
	for _, p := range c.Permissions {
		if p != PermissionRead && p != PermissionWrite {
			return false
		}
	}
	return true
}

// LinkSet is a set of link identifiers, used for revocation and usage records.
type LinkSet map[string]struct{}

// NewLinkSet builds a LinkSet from ids.
func NewLinkSet(ids ...string) LinkSet {
	set := make(LinkSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// Has reports membership. A nil set contains nothing.
func (s LinkSet) Has(id string) bool {
	if s == nil {
		return false
	}
	_, ok := s[id]
	return ok
}
