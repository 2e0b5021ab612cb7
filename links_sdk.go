package peerdoc

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pkt.systems/peerdoc/internal/collabstore"
	"pkt.systems/peerdoc/internal/gateway"
	"pkt.systems/peerdoc/internal/token"
)

// IssuedLink is a freshly minted capability token and its join link.
type IssuedLink = token.Issued

// Link is an issued link as recorded by the metadata store.
type Link = collabstore.Link

// LinkInspection is the validation result for a token.
type LinkInspection = gateway.LinkInspection

// LinkKind selects a permanent or one-time (invitation) link.
type LinkKind = token.Kind

// Link kinds.
const (
	LinkPermanent = token.KindPermanent
	LinkOneTime   = token.KindOneTime
)

// LinkCreateOptions contains inputs for issuing a link.
type LinkCreateOptions struct {
	DocumentID  string
	Permissions []string
	Kind        LinkKind
	TTL         time.Duration
	Recipient   string
}

// LinkCreate issues a new share link for a document.
func LinkCreate(ctx context.Context, client ClientOptions, opts LinkCreateOptions) (IssuedLink, error) {
	if strings.TrimSpace(opts.DocumentID) == "" {
		return IssuedLink{}, fmt.Errorf("document id is required")
	}
	if client.AdminKey == "" {
		return IssuedLink{}, fmt.Errorf("admin key is required")
	}
	req := gateway.LinkCreateRequest{
		DocumentID:  opts.DocumentID,
		Permissions: opts.Permissions,
		Kind:        string(opts.Kind),
		Recipient:   opts.Recipient,
	}
	if opts.TTL > 0 {
		req.TTL = opts.TTL.String()
	}
	var out IssuedLink
	if err := doJSON(ctx, client, http.MethodPost, "/links", req, &out); err != nil {
		return IssuedLink{}, err
	}
	if out.Token == "" {
		return IssuedLink{}, fmt.Errorf("token missing from response")
	}
	return out, nil
}

// LinkRevokeOptions identifies the link to revoke, either by token or by
// document and link id.
type LinkRevokeOptions struct {
	DocumentID string
	LinkID     string
	Token      string
}

// LinkRevoke revokes a link. Revoking an already revoked link succeeds.
func LinkRevoke(ctx context.Context, client ClientOptions, opts LinkRevokeOptions) error {
	if opts.Token == "" && (opts.DocumentID == "" || opts.LinkID == "") {
		return fmt.Errorf("token or document id and link id are required")
	}
	if client.AdminKey == "" {
		return fmt.Errorf("admin key is required")
	}
	return doJSON(ctx, client, http.MethodPost, "/links/revoke", gateway.LinkRevokeRequest{
		DocumentID: opts.DocumentID,
		LinkID:     opts.LinkID,
		Token:      opts.Token,
	}, nil)
}

// LinkList lists the links issued for a document, oldest first.
func LinkList(ctx context.Context, client ClientOptions, documentID string) ([]Link, error) {
	if strings.TrimSpace(documentID) == "" {
		return nil, fmt.Errorf("document id is required")
	}
	if client.AdminKey == "" {
		return nil, fmt.Errorf("admin key is required")
	}
	var out []Link
	if err := doJSON(ctx, client, http.MethodGet, "/links?documentId="+url.QueryEscape(documentID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// LinkInspect validates a token against the server's current metadata
// without consuming it.
func LinkInspect(ctx context.Context, client ClientOptions, rawToken string) (LinkInspection, error) {
	if strings.TrimSpace(rawToken) == "" {
		return LinkInspection{}, fmt.Errorf("token is required")
	}
	if client.AdminKey == "" {
		return LinkInspection{}, fmt.Errorf("admin key is required")
	}
	var out LinkInspection
	if err := doJSON(ctx, client, http.MethodPost, "/links/inspect", gateway.LinkInspectRequest{Token: rawToken}, &out); err != nil {
		return LinkInspection{}, err
	}
	return out, nil
}

// TokenFromLink extracts the token from a join link, or returns value
// unchanged when it is not a link.
func TokenFromLink(value string) string {
	value = strings.TrimSpace(value)
	if !strings.Contains(value, "://") {
		return value
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return value
	}
	if tok := parsed.Query().Get("token"); tok != "" {
		return tok
	}
	return value
}
