// Package gateway exposes the signaling service over HTTP: the WebSocket
// transport, health and status queries, link management and metrics.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"pkt.systems/pslog"

	"pkt.systems/peerdoc/internal/collabstore"
	"pkt.systems/peerdoc/internal/events"
	"pkt.systems/peerdoc/internal/metrics"
	"pkt.systems/peerdoc/internal/signaling"
	"pkt.systems/peerdoc/internal/token"
)

const (
	defaultReadLimit    = 1 << 20
	defaultPingInterval = 30 * time.Second
	wsPongTimeout       = 60 * time.Second
)

// Options configures a Server.
type Options struct {
	Router  *signaling.Router
	Tokens  *token.Service
	Store   collabstore.Store
	Events  *events.Publisher
	Metrics *metrics.Metrics
	Logger  pslog.Logger
	// AdminKeyHash is the bcrypt hash of the admin bearer key. Link
	// management is disabled when empty.
	AdminKeyHash string
	// AllowedOrigins are host patterns accepted for cross-origin
	// WebSocket upgrades.
	AllowedOrigins  []string
	MaxMessageBytes int64
	SendQueue       int
	PingInterval    time.Duration
	Now             func() time.Time
}

// Server serves the signaling endpoints.
type Server struct {
	router       *signaling.Router
	registry     *signaling.Registry
	tokens       *token.Service
	store        collabstore.Store
	events       *events.Publisher
	metrics      *metrics.Metrics
	logger       pslog.Logger
	adminKeyHash string
	origins      []string
	readLimit    int64
	sendQueue    int
	pingInterval time.Duration
	now          func() time.Time
	startedAt    time.Time
}

// NewServer constructs a Server.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = pslog.LoggerFromEnv()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Router == nil {
		opts.Router = signaling.NewRouter(signaling.RouterOptions{
			Tokens:  opts.Tokens,
			Store:   opts.Store,
			Logger:  opts.Logger,
			Metrics: opts.Metrics,
		})
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = defaultReadLimit
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	return &Server{
		router:       opts.Router,
		registry:     opts.Router.Registry(),
		tokens:       opts.Tokens,
		store:        opts.Store,
		events:       opts.Events,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		adminKeyHash: opts.AdminKeyHash,
		origins:      opts.AllowedOrigins,
		readLimit:    opts.MaxMessageBytes,
		sendQueue:    opts.SendQueue,
		pingInterval: opts.PingInterval,
		now:          opts.Now,
		startedAt:    opts.Now().UTC(),
	}
}

// Handler returns the HTTP handler for all endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/status/rooms/{documentId}", s.handleRoomStatus)
	mux.HandleFunc("/links", s.handleLinks)
	mux.HandleFunc("/links/revoke", s.handleLinkRevoke)
	mux.HandleFunc("/links/inspect", s.handleLinkInspect)
	mux.Handle("/metrics", s.metrics.Handler())
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Status is the response of GET /status.
type Status struct {
	Status    string               `json:"status"`
	StartedAt time.Time            `json:"startedAt"`
	Uptime    string               `json:"uptime"`
	Rooms     int                  `json:"rooms"`
	Peers     int                  `json:"peers"`
	RoomPeers []signaling.RoomInfo `json:"roomPeers"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	stats := s.registry.Stats()
	writeJSON(w, http.StatusOK, Status{
		Status:    "ok",
		StartedAt: s.startedAt,
		Uptime:    s.now().UTC().Sub(s.startedAt).Truncate(time.Second).String(),
		Rooms:     stats.Rooms,
		Peers:     stats.Peers,
		RoomPeers: s.registry.Rooms(),
	})
}

func (s *Server) handleRoomStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := s.requireAdmin(r); err != nil {
		writeAuthError(w, err)
		return
	}
	room, ok := s.registry.Room(r.PathValue("documentId"))
	if !ok {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	connID := "conn-" + uuid.NewString()
	logger := s.logger.With("conn", connID)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		logger.Debug("websocket accept failed", "err", err)
		return
	}
	conn.SetReadLimit(s.readLimit)

	ws := newWSConn(connID, conn, logger, s.sendQueue)
	go ws.writeLoop(ctx)
	client := s.router.Attach(ws)
	defer func() {
		s.router.Detach(client)
		_ = ws.Close("closing")
	}()
	logger.Debug("connection opened", "remote", r.RemoteAddr)

	s.serveWSLoop(ctx, ws, client)
}

func (s *Server) serveWSLoop(ctx context.Context, ws *wsConn, client *signaling.Client) {
	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.pingLoop(pingCtx, ws)

	for {
		data, err := readMessage(ctx, ws.conn)
		if err != nil {
			if !isNormalClose(err) {
				ws.logger.Debug("websocket read ended", "err", err)
			}
			return
		}
		if err := s.router.Handle(ctx, client, data); err != nil {
			ws.logger.Debug("message not handled", "err", err)
		}
	}
}

func (s *Server) pingLoop(ctx context.Context, conn *wsConn) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.done:
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, wsPongTimeout)
			if err := conn.Ping(pingCtx); err != nil {
				conn.logger.Debug("websocket ping failed", "err", err)
			}
			cancel()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
