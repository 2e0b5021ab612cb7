// Package token issues and validates signed, time-limited capability tokens
// that grant access to a collaboration room.
//
// Tokens are HS256 JWTs: three base64url segments signed with a secret shared
// between the issuer and the signaling service. Validation is a pure function
// of the token, the current time and the externally supplied revocation and
// usage records.
package token

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Reason describes why validation failed.
type Reason string

// Validation failure reasons.
const (
	ReasonInvalidToken Reason = "invalid-token"
	ReasonExpired      Reason = "expired"
	ReasonRevoked      Reason = "revoked"
	ReasonAlreadyUsed  Reason = "already-used"
)

var errMalformed = errors.New("malformed token")

// Options configures a Service.
type Options struct {
	Secret       []byte
	Issuer       string
	LinkBaseURL  string
	PermanentTTL time.Duration
	OneTimeTTL   time.Duration
	Now          func() time.Time
}

// Service issues and validates capability tokens.
type Service struct {
	secret       []byte
	issuer       string
	linkBaseURL  string
	permanentTTL time.Duration
	oneTimeTTL   time.Duration
	now          func() time.Time
}

// NewService constructs a Service.
func NewService(opts Options) (*Service, error) {
	if len(opts.Secret) == 0 {
		return nil, ErrSecretRequired
	}
	s := &Service{
		secret:       append([]byte(nil), opts.Secret...),
		issuer:       opts.Issuer,
		linkBaseURL:  strings.TrimSpace(opts.LinkBaseURL),
		permanentTTL: opts.PermanentTTL,
		oneTimeTTL:   opts.OneTimeTTL,
		now:          opts.Now,
	}
	if s.permanentTTL <= 0 {
		s.permanentTTL = DefaultPermanentTTL
	}
	if s.oneTimeTTL <= 0 {
		s.oneTimeTTL = DefaultOneTimeTTL
	}
	if s.permanentTTL > MaxPermanentTTL || s.oneTimeTTL > MaxOneTimeTTL {
		return nil, ErrExpiryOutOfRange
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// IssueRequest describes a token to mint.
type IssueRequest struct {
	DocumentID  string
	Permissions []string
	Kind        Kind
	Expiry      time.Duration
	Recipient   string
}

// Issued is a freshly minted token and its link metadata.
type Issued struct {
	Token       string       `json:"token"`
	LinkID      string       `json:"linkId"`
	PeerID      string       `json:"peerId"`
	DocumentID  string       `json:"documentId"`
	RoomID      string       `json:"roomId"`
	Kind        Kind         `json:"type"`
	Permissions []Permission `json:"permissions"`
	Recipient   string       `json:"recipient,omitempty"`
	URL         string       `json:"url,omitempty"`
	IssuedAt    time.Time    `json:"issuedAt"`
	ExpiresAt   time.Time    `json:"expiresAt"`
}

// Issue mints a new token. It performs no I/O.
func (s *Service) Issue(req IssueRequest) (Issued, error) {
	documentID := strings.TrimSpace(req.DocumentID)
	if documentID == "" {
		return Issued{}, ErrDocumentRequired
	}
	perms, err := NormalizePermissions(req.Permissions)
	if err != nil {
		return Issued{}, err
	}
	kind := req.Kind
	if kind == "" {
		kind = KindPermanent
	}
	if !kind.valid() {
		return Issued{}, ErrInvalidKind
	}
	ttl := req.Expiry
	if ttl <= 0 {
		ttl = s.defaultTTL(kind)
	}
	if ttl > kind.MaxTTL() {
		return Issued{}, ErrExpiryOutOfRange
	}

	now := s.now().UTC().Truncate(time.Second)
	expires := now.Add(ttl)
	linkID := uuid.NewString()
	peerID := "peer-" + uuid.NewString()

	claims := Claims{
		DocumentID:  documentID,
		RoomID:      RoomID(documentID),
		Permissions: perms,
		PeerID:      peerID,
		LinkID:      linkID,
		Type:        kind,
		Recipient:   strings.TrimSpace(req.Recipient),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Issued{}, err
	}
	return Issued{
		Token:       signed,
		LinkID:      linkID,
		PeerID:      peerID,
		DocumentID:  documentID,
		RoomID:      claims.RoomID,
		Kind:        kind,
		Permissions: perms,
		Recipient:   claims.Recipient,
		URL:         s.linkURL(documentID, signed),
		IssuedAt:    now,
		ExpiresAt:   expires,
	}, nil
}

// Result is the outcome of Validate. Exactly one Reason is set when Valid is false.
type Result struct {
	Valid  bool    `json:"valid"`
	Reason Reason  `json:"reason,omitempty"`
	Claims *Claims `json:"payload,omitempty"`
}

// Validate checks a token against the current time and the supplied
// revocation and one-time usage records. It never mutates state.
//
// Checks run in order: structure and required claims, expiry, signature,
// revocation, one-time usage.
func (s *Service) Validate(raw string, now time.Time, revoked, used LinkSet) Result {
	claims, err := parseUnverified(raw)
	if err != nil {
		return Result{Reason: ReasonInvalidToken}
	}
	if !claims.ExpiresAt.After(now) {
		return Result{Reason: ReasonExpired}
	}
	if err := s.verify(raw); err != nil {
		return Result{Reason: ReasonInvalidToken}
	}
	if revoked.Has(claims.LinkID) {
		return Result{Reason: ReasonRevoked}
	}
	if claims.Type == KindOneTime && used.Has(claims.LinkID) {
		return Result{Reason: ReasonAlreadyUsed}
	}
	return Result{Valid: true, Claims: claims}
}

// Peek returns the unverified claims of a well-formed token. Callers must not
// trust the result for authorization; it exists to route lookups.
func Peek(raw string) (*Claims, error) {
	return parseUnverified(raw)
}

func parseUnverified(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if strings.Count(raw, ".") != 2 {
		return nil, errMalformed
	}
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return nil, err
	}
	if !claims.complete() {
		return nil, errMalformed
	}
	return &claims, nil
}

func (s *Service) verify(raw string) error {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	_, err := parser.ParseWithClaims(strings.TrimSpace(raw), &Claims{}, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	return err
}

func (s *Service) defaultTTL(kind Kind) time.Duration {
	if kind == KindOneTime {
		return s.oneTimeTTL
	}
	return s.permanentTTL
}

func (s *Service) linkURL(documentID, signed string) string {
	if s.linkBaseURL == "" {
		return ""
	}
	q := url.Values{}
	q.Set("doc", documentID)
	q.Set("token", signed)
	sep := "?"
	if strings.Contains(s.linkBaseURL, "?") {
		sep = "&"
	}
	return s.linkBaseURL + sep + q.Encode()
}
