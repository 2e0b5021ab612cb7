package signaling

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"pkt.systems/pslog"

	"pkt.systems/peerdoc/internal/collabstore"
	"pkt.systems/peerdoc/internal/metrics"
	"pkt.systems/peerdoc/internal/token"
)

// State is the lifecycle state of a client connection.
type State int

const (
	StateConnected State = iota
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// RouterOptions configures a Router.
type RouterOptions struct {
	Registry *Registry
	// Tokens validates join tokens. Joins carrying a token are rejected
	// when it is nil.
	Tokens *token.Service
	// Store supplies revocation and usage state. A nil store means no link
	// has been revoked or used.
	Store collabstore.Store
	// RequireToken rejects joins that carry no token.
	RequireToken bool
	// RateLimit is the sustained inbound messages per second per
	// connection. Zero disables limiting.
	RateLimit float64
	RateBurst int
	Logger    pslog.Logger
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

// Router dispatches inbound messages from client connections.
type Router struct {
	registry     *Registry
	tokens       *token.Service
	store        collabstore.Store
	requireToken bool
	rateLimit    rate.Limit
	rateBurst    int
	logger       pslog.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
}

// NewRouter constructs a Router.
func NewRouter(opts RouterOptions) *Router {
	if opts.Logger == nil {
		opts.Logger = pslog.LoggerFromEnv()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Registry == nil {
		opts.Registry = NewRegistry(RegistryOptions{Logger: opts.Logger, Metrics: opts.Metrics, Now: opts.Now})
	}
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.RateBurst
	if burst <= 0 {
		burst = 1
	}
	return &Router{
		registry:     opts.Registry,
		tokens:       opts.Tokens,
		store:        opts.Store,
		requireToken: opts.RequireToken,
		rateLimit:    limit,
		rateBurst:    burst,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		now:          opts.Now,
	}
}

// Registry returns the registry the router writes to.
func (r *Router) Registry() *Registry { return r.registry }

// Client is the per-connection protocol state.
type Client struct {
	conn    Conn
	logger  pslog.Logger
	limiter *rate.Limiter

	mu          sync.Mutex
	state       State
	peerID      string
	documentID  string
	permissions []token.Permission
}

// State returns the connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PeerID returns the peer id assigned at join, if any.
func (c *Client) PeerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerID
}

// DocumentID returns the joined document, if any.
func (c *Client) DocumentID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.documentID
}

// Permissions returns the permissions granted by the join token.
func (c *Client) Permissions() []token.Permission {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]token.Permission(nil), c.permissions...)
}

// Conn returns the underlying connection.
func (c *Client) Conn() Conn { return c.conn }

func (c *Client) joined() (peerID, documentID string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerID, c.documentID, c.state == StateJoined
}

// Attach starts tracking a newly accepted connection.
func (r *Router) Attach(conn Conn) *Client {
	r.metrics.ConnOpened()
	return &Client{
		conn:    conn,
		logger:  r.logger.With("conn", conn.ID()),
		limiter: rate.NewLimiter(r.rateLimit, r.rateBurst),
		state:   StateConnected,
	}
}

// Detach removes the client's session, if any, and marks it closed. It is
// safe to call more than once.
func (r *Router) Detach(c *Client) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	c.mu.Unlock()

	r.metrics.ConnClosed()
	r.registry.Leave(c.conn)
}

// Handle processes one inbound frame. The returned error describes a
// dropped message (*ProtocolError) or a rejected join (*AuthError); the
// connection stays usable either way.
func (r *Router) Handle(ctx context.Context, c *Client, data []byte) error {
	if c.State() == StateClosed {
		return nil
	}
	if !c.limiter.Allow() {
		r.metrics.Dropped(metrics.DropRateLimited)
		return r.protocolError(c, protocolErrorf(nil, "rate limit exceeded"))
	}
	msg, err := Decode(data)
	if err != nil {
		var perr *ProtocolError
		if errors.As(err, &perr) {
			return r.protocolError(c, perr)
		}
		return err
	}
	r.metrics.Message(messageLabel(msg))

	switch m := msg.(type) {
	case *JoinDocument:
		return r.handleJoin(ctx, c, m)
	case *RelayMessage:
		return r.handleRelay(c, m)
	case *RequestDocumentState:
		return r.handleStateRequest(c)
	case *PeerHeartbeat:
		// Liveness follows the connection; the claimed peerId is ignored.
		r.registry.Heartbeat(c.conn)
		return nil
	default:
		c.logger.Debug("ignoring unknown message", "type", string(msg.Type()))
		return nil
	}
}

// messageLabel bounds the metric label set to the known message types.
func messageLabel(msg Message) string {
	if _, ok := msg.(*UnknownMessage); ok {
		return metrics.MessageUnknown
	}
	return string(msg.Type())
}

func (r *Router) protocolError(c *Client, err *ProtocolError) error {
	r.metrics.ProtocolError()
	c.logger.Debug("dropping message", "err", err)
	return err
}

func (r *Router) handleJoin(ctx context.Context, c *Client, m *JoinDocument) error {
	peerID := m.PeerID
	var perms []token.Permission
	if m.Token != "" || r.requireToken {
		claims, err := r.authorize(ctx, m, peerID)
		if err != nil {
			var aerr *AuthError
			if errors.As(err, &aerr) {
				r.metrics.JoinRejected(string(aerr.Reason))
				c.logger.Info("join rejected", "document_id", m.DocumentID, "reason", string(aerr.Reason))
				if sendErr := c.conn.Send(encodeJoinRejected(m.DocumentID, string(aerr.Reason))); sendErr != nil {
					c.logger.Debug("failed to send join rejection", "err", sendErr)
				}
			}
			return err
		}
		perms = claims.Permissions
		if peerID == "" {
			peerID = claims.PeerID
		}
	}
	if peerID == "" {
		peerID = "peer-" + uuid.NewString()
	}

	res := r.registry.Join(m.DocumentID, peerID, m.PeerInfo, c.conn)

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		r.registry.Leave(c.conn)
		return nil
	}
	c.state = StateJoined
	c.peerID = peerID
	c.documentID = m.DocumentID
	c.permissions = perms
	c.logger = r.logger.With("conn", c.conn.ID(), "peer_id", peerID, "document_id", m.DocumentID)
	c.mu.Unlock()

	var permNames []string
	for _, p := range perms {
		permNames = append(permNames, string(p))
	}
	if err := c.conn.Send(encodeExistingPeers(m.DocumentID, peerID, permNames, res.Existing)); err != nil {
		c.logger.Debug("failed to send existing peers", "err", err)
		r.metrics.Dropped(dropReason(err))
	}
	return nil
}

// authorize validates the join token against the document's revocation and
// usage record and consumes one-time links.
func (r *Router) authorize(ctx context.Context, m *JoinDocument, peerID string) (*token.Claims, error) {
	reject := func(reason token.Reason, err error) error {
		return &AuthError{DocumentID: m.DocumentID, Reason: reason, Err: err}
	}
	if m.Token == "" {
		return nil, reject(token.ReasonInvalidToken, errors.New("token required"))
	}
	if r.tokens == nil {
		return nil, reject(token.ReasonInvalidToken, errors.New("token validation not configured"))
	}

	rec := collabstore.Record{}
	if r.store != nil {
		var err error
		rec, err = r.store.Record(ctx, m.DocumentID)
		if err != nil {
			return nil, reject(ReasonUnavailable, err)
		}
	}
	now := r.now()
	res := r.tokens.Validate(m.Token, now, rec.Revoked, rec.Used)
	if !res.Valid {
		return nil, reject(res.Reason, nil)
	}
	claims := res.Claims
	if claims.DocumentID != m.DocumentID {
		return nil, reject(token.ReasonInvalidToken, errors.New("token issued for another document"))
	}
	if claims.Type == token.KindOneTime && r.store != nil {
		if peerID == "" {
			peerID = claims.PeerID
		}
		if err := r.store.MarkUsed(ctx, m.DocumentID, claims.LinkID, peerID, now); err != nil {
			if errors.Is(err, collabstore.ErrLinkAlreadyUsed) {
				return nil, reject(token.ReasonAlreadyUsed, nil)
			}
			return nil, reject(ReasonUnavailable, err)
		}
	}
	return claims, nil
}

func (r *Router) handleRelay(c *Client, m *RelayMessage) error {
	if _, _, ok := c.joined(); !ok {
		return r.protocolError(c, protocolErrorf(ErrNotJoined, "%s before join", m.Kind))
	}
	if err := r.registry.Relay(m.TargetPeerID, m.Raw); err != nil {
		r.metrics.Dropped(dropReason(err))
		c.logger.Debug("relay dropped", "type", string(m.Kind), "target", m.TargetPeerID, "err", err)
	}
	return nil
}

func (r *Router) handleStateRequest(c *Client) error {
	peerID, documentID, ok := c.joined()
	if !ok {
		return r.protocolError(c, protocolErrorf(ErrNotJoined, "request_document_state before join"))
	}
	r.registry.Broadcast(documentID, encodeDocumentStateRequest(documentID, peerID), c.conn)
	return nil
}
