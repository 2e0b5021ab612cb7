package signaling

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/peerdoc/internal/metrics"
	"pkt.systems/peerdoc/internal/token"
)

// Conn is one client transport connection.
type Conn interface {
	ID() string
	// Send enqueues data for delivery and never blocks.
	Send(data []byte) error
	Close(reason string) error
}

// LeaveCause says why a peer left a room.
type LeaveCause string

const (
	CauseDisconnect LeaveCause = "disconnect"
	CauseEvicted    LeaveCause = "evicted"
	CauseSwitched   LeaveCause = "switched"
	CauseReplaced   LeaveCause = "replaced"
)

const replacedReason = "replaced by new connection"

// Membership policies for the cases the protocol leaves open.
const (
	// JoinLeavesPreviousRoom makes a join on a connection that already holds
	// a session leave that session's room first (cause "switched"). When
	// false the earlier session lingers until the sweeper evicts it.
	JoinLeavesPreviousRoom = true
	// CloseReplacedConnection closes the connection that held a peer id
	// when the peer joins again from a new connection (cause "replaced").
	CloseReplacedConnection = true
)

// Observer is told about membership changes after they are applied. It is
// called outside the registry lock and must not block.
type Observer interface {
	PeerJoined(documentID, peerID string)
	PeerLeft(documentID, peerID string, cause LeaveCause)
}

// Session is a peer's registration in one document room.
type Session struct {
	PeerID        string          `json:"peerId"`
	DocumentID    string          `json:"documentId"`
	PeerInfo      json.RawMessage `json:"peerInfo"`
	JoinedAt      time.Time       `json:"joinedAt"`
	LastHeartbeat time.Time       `json:"lastHeartbeat"`

	conn Conn
}

// Conn returns the connection the session is bound to.
func (s Session) Conn() Conn { return s.conn }

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	Logger   pslog.Logger
	Metrics  *metrics.Metrics
	Observer Observer
	Now      func() time.Time
}

// Registry owns the peer session table and the document rooms. One mutex
// guards both so they never disagree; sends happen after it is released.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session            // by peer id
	rooms    map[string]map[string]*Session // document id -> peer id
	byConn   map[string]*Session            // by connection id

	logger   pslog.Logger
	metrics  *metrics.Metrics
	observer Observer
	now      func() time.Time
}

// NewRegistry constructs an empty Registry.
func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Logger == nil {
		opts.Logger = pslog.LoggerFromEnv()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		sessions: make(map[string]*Session),
		rooms:    make(map[string]map[string]*Session),
		byConn:   make(map[string]*Session),
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		observer: opts.Observer,
		now:      opts.Now,
	}
}

// departure is a peer_left notification computed under the lock.
type departure struct {
	documentID string
	peerID     string
	cause      LeaveCause
	recipients []Conn
}

// JoinResult describes an applied join.
type JoinResult struct {
	// Existing lists the other room members at join time.
	Existing []PeerSummary
	// Replaced is true when the peer id was bound to another connection.
	Replaced bool
	// Deliveries are the peer_joined fan-out outcomes.
	Deliveries []Delivery
}

// Join registers peerID on conn in documentID's room and announces it to
// the other members. A connection holds at most one session, so any
// session conn held under another identity or room is left first. A
// peer id already bound to another connection is taken over and the old
// connection closed.
func (r *Registry) Join(documentID, peerID string, info json.RawMessage, conn Conn) JoinResult {
	now := r.now()
	var (
		left     []departure
		replaced Conn
	)

	r.mu.Lock()
	if cur := r.byConn[conn.ID()]; JoinLeavesPreviousRoom && cur != nil && (cur.PeerID != peerID || cur.DocumentID != documentID) {
		left = append(left, departure{
			documentID: cur.DocumentID,
			peerID:     cur.PeerID,
			cause:      CauseSwitched,
			recipients: r.removeLocked(cur),
		})
	}
	if prior := r.sessions[peerID]; prior != nil && prior.conn.ID() != conn.ID() {
		recipients := r.removeLocked(prior)
		replaced = prior.conn
		if prior.DocumentID != documentID {
			left = append(left, departure{
				documentID: prior.DocumentID,
				peerID:     prior.PeerID,
				cause:      CauseReplaced,
				recipients: recipients,
			})
		}
	}

	sess := r.sessions[peerID]
	if sess == nil {
		sess = &Session{PeerID: peerID, DocumentID: documentID, JoinedAt: now, conn: conn}
	}
	sess.PeerInfo = info
	sess.LastHeartbeat = now
	r.sessions[peerID] = sess
	r.byConn[conn.ID()] = sess
	members := r.rooms[documentID]
	if members == nil {
		members = make(map[string]*Session)
		r.rooms[documentID] = members
	}
	members[peerID] = sess

	existing := make([]PeerSummary, 0, len(members)-1)
	recipients := make([]Conn, 0, len(members)-1)
	for id, m := range members {
		if id == peerID {
			continue
		}
		existing = append(existing, PeerSummary{PeerID: m.PeerID, PeerInfo: m.PeerInfo})
		recipients = append(recipients, m.conn)
	}
	rooms, peers := len(r.rooms), len(r.sessions)
	r.mu.Unlock()

	sort.Slice(existing, func(i, j int) bool { return existing[i].PeerID < existing[j].PeerID })

	if replaced != nil {
		r.logger.Info("peer connection replaced", "peer_id", peerID, "document_id", documentID, "old_conn", replaced.ID())
		if CloseReplacedConnection {
			_ = replaced.Close(replacedReason)
		}
	}
	for _, d := range left {
		r.announceLeft(d)
	}
	deliveries := r.send(recipients, encodePeerJoined(documentID, peerID, info))

	r.metrics.SetOccupancy(rooms, peers)
	r.metrics.Joined()
	if r.observer != nil {
		r.observer.PeerJoined(documentID, peerID)
	}
	r.logger.Info("peer joined", "peer_id", peerID, "document_id", documentID, "room", token.RoomID(documentID), "peers", len(existing)+1)
	return JoinResult{Existing: existing, Replaced: replaced != nil, Deliveries: deliveries}
}

// Leave removes the session bound to conn and notifies the remaining room
// members. It is a no-op when conn holds no session, so concurrent cleanup
// paths announce a departure at most once.
func (r *Registry) Leave(conn Conn) (Session, bool) {
	r.mu.Lock()
	sess := r.byConn[conn.ID()]
	if sess == nil {
		r.mu.Unlock()
		return Session{}, false
	}
	d := departure{
		documentID: sess.DocumentID,
		peerID:     sess.PeerID,
		cause:      CauseDisconnect,
		recipients: r.removeLocked(sess),
	}
	out := *sess
	rooms, peers := len(r.rooms), len(r.sessions)
	r.mu.Unlock()

	r.metrics.SetOccupancy(rooms, peers)
	r.announceLeft(d)
	return out, true
}

// Heartbeat refreshes the liveness of the session bound to conn.
func (r *Registry) Heartbeat(conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess := r.byConn[conn.ID()]
	if sess == nil {
		return false
	}
	sess.LastHeartbeat = r.now()
	return true
}

// Relay sends data unmodified to the connection registered for targetPeerID.
func (r *Registry) Relay(targetPeerID string, data []byte) error {
	r.mu.Lock()
	sess := r.sessions[targetPeerID]
	var conn Conn
	if sess != nil {
		conn = sess.conn
	}
	r.mu.Unlock()

	if conn == nil {
		return ErrPeerNotFound
	}
	return conn.Send(data)
}

// Broadcast sends data to every member of documentID's room except exclude.
func (r *Registry) Broadcast(documentID string, data []byte, exclude Conn) []Delivery {
	r.mu.Lock()
	members := r.rooms[documentID]
	recipients := make([]Conn, 0, len(members))
	for _, m := range members {
		if exclude != nil && m.conn.ID() == exclude.ID() {
			continue
		}
		recipients = append(recipients, m.conn)
	}
	r.mu.Unlock()
	return r.send(recipients, data)
}

// Evict removes every session whose last heartbeat is older than timeout,
// notifies their rooms and closes their connections.
func (r *Registry) Evict(timeout time.Duration) []Session {
	now := r.now()
	var (
		evicted []Session
		left    []departure
	)

	r.mu.Lock()
	for _, sess := range r.sessions {
		if now.Sub(sess.LastHeartbeat) <= timeout {
			continue
		}
		evicted = append(evicted, *sess)
	}
	for i := range evicted {
		sess := r.sessions[evicted[i].PeerID]
		left = append(left, departure{
			documentID: sess.DocumentID,
			peerID:     sess.PeerID,
			cause:      CauseEvicted,
			recipients: r.removeLocked(sess),
		})
	}
	rooms, peers := len(r.rooms), len(r.sessions)
	r.mu.Unlock()

	if len(evicted) == 0 {
		return nil
	}
	r.metrics.SetOccupancy(rooms, peers)
	r.metrics.Evicted(len(evicted))
	for i, d := range left {
		r.logger.Info("peer evicted", "peer_id", d.peerID, "document_id", d.documentID,
			"idle", now.Sub(evicted[i].LastHeartbeat).String())
		r.announceLeft(d)
		_ = evicted[i].conn.Close("heartbeat timeout")
	}
	return evicted
}

// removeLocked drops sess from every table and returns the connections of
// the members that remain in its room. r.mu must be held.
func (r *Registry) removeLocked(sess *Session) []Conn {
	if r.sessions[sess.PeerID] == sess {
		delete(r.sessions, sess.PeerID)
	}
	if r.byConn[sess.conn.ID()] == sess {
		delete(r.byConn, sess.conn.ID())
	}
	members := r.rooms[sess.DocumentID]
	if members[sess.PeerID] == sess {
		delete(members, sess.PeerID)
	}
	if len(members) == 0 {
		delete(r.rooms, sess.DocumentID)
		return nil
	}
	out := make([]Conn, 0, len(members))
	for _, m := range members {
		out = append(out, m.conn)
	}
	return out
}

func (r *Registry) announceLeft(d departure) {
	r.send(d.recipients, encodePeerLeft(d.documentID, d.peerID))
	if r.observer != nil {
		r.observer.PeerLeft(d.documentID, d.peerID, d.cause)
	}
	r.logger.Info("peer left", "peer_id", d.peerID, "document_id", d.documentID, "cause", string(d.cause))
}

func (r *Registry) send(recipients []Conn, data []byte) []Delivery {
	if len(recipients) == 0 {
		return nil
	}
	sort.Slice(recipients, func(i, j int) bool { return recipients[i].ID() < recipients[j].ID() })
	out := make([]Delivery, 0, len(recipients))
	for _, conn := range recipients {
		err := conn.Send(data)
		if err != nil {
			r.logger.Debug("failed to send to peer", "conn", conn.ID(), "err", err)
			r.metrics.Dropped(dropReason(err))
		}
		out = append(out, Delivery{ConnID: conn.ID(), Err: err})
	}
	return out
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, ErrQueueFull):
		return metrics.DropQueueFull
	case errors.Is(err, ErrPeerNotFound):
		return metrics.DropPeerNotFound
	default:
		return metrics.DropClosed
	}
}

// PeerStatus is a room member as reported by status queries.
type PeerStatus struct {
	PeerID        string          `json:"peerId"`
	PeerInfo      json.RawMessage `json:"peerInfo"`
	JoinedAt      time.Time       `json:"joinedAt"`
	LastHeartbeat time.Time       `json:"lastHeartbeat"`
}

// RoomInfo describes one document room.
type RoomInfo struct {
	DocumentID string       `json:"documentId"`
	RoomID     string       `json:"roomId"`
	PeerCount  int          `json:"peerCount"`
	Peers      []PeerStatus `json:"peers,omitempty"`
}

// Stats is a point-in-time summary of the registry.
type Stats struct {
	Rooms int `json:"rooms"`
	Peers int `json:"peers"`
}

// Stats returns the current room and peer counts.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{Rooms: len(r.rooms), Peers: len(r.sessions)}
}

// Rooms lists every non-empty room with its peer count.
func (r *Registry) Rooms() []RoomInfo {
	r.mu.Lock()
	out := make([]RoomInfo, 0, len(r.rooms))
	for doc, members := range r.rooms {
		out = append(out, RoomInfo{DocumentID: doc, RoomID: token.RoomID(doc), PeerCount: len(members)})
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentID < out[j].DocumentID })
	return out
}

// Room returns the members of documentID's room.
func (r *Registry) Room(documentID string) (RoomInfo, bool) {
	r.mu.Lock()
	members, ok := r.rooms[documentID]
	if !ok {
		r.mu.Unlock()
		return RoomInfo{}, false
	}
	info := RoomInfo{DocumentID: documentID, RoomID: token.RoomID(documentID), PeerCount: len(members)}
	for _, m := range members {
		info.Peers = append(info.Peers, PeerStatus{
			PeerID:        m.PeerID,
			PeerInfo:      m.PeerInfo,
			JoinedAt:      m.JoinedAt,
			LastHeartbeat: m.LastHeartbeat,
		})
	}
	r.mu.Unlock()
	sort.Slice(info.Peers, func(i, j int) bool { return info.Peers[i].PeerID < info.Peers[j].PeerID })
	return info, true
}

// Session returns the session registered for peerID.
func (r *Registry) Session(peerID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess := r.sessions[peerID]
	if sess == nil {
		return Session{}, false
	}
	return *sess, true
}
