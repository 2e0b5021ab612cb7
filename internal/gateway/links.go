package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"pkt.systems/peerdoc/internal/collabstore"
	"pkt.systems/peerdoc/internal/token"
)

var (
	errAdminDisabled = errors.New("link management disabled")
	errMissingAuth   = errors.New("missing authorization")
	errInvalidAuth   = errors.New("invalid authorization")
)

func (s *Server) requireAdmin(r *http.Request) error {
	if s.adminKeyHash == "" {
		return errAdminDisabled
	}
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return errMissingAuth
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return errInvalidAuth
	}
	key := strings.TrimSpace(parts[1])
	if err := bcrypt.CompareHashAndPassword([]byte(s.adminKeyHash), []byte(key)); err != nil {
		return errInvalidAuth
	}
	return nil
}

func writeAuthError(w http.ResponseWriter, err error) {
	if errors.Is(err, errAdminDisabled) {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	writeError(w, http.StatusUnauthorized, err.Error())
}

// LinkCreateRequest is the body of POST /links.
type LinkCreateRequest struct {
	DocumentID  string   `json:"documentId"`
	Permissions []string `json:"permissions"`
	Kind        string   `json:"kind,omitempty"`
	TTL         string   `json:"ttl,omitempty"`
	Recipient   string   `json:"recipient,omitempty"`
}

// LinkRevokeRequest is the body of POST /links/revoke. Either Token or
// both DocumentID and LinkID identify the link.
type LinkRevokeRequest struct {
	DocumentID string `json:"documentId,omitempty"`
	LinkID     string `json:"linkId,omitempty"`
	Token      string `json:"token,omitempty"`
}

// LinkInspectRequest is the body of POST /links/inspect.
type LinkInspectRequest struct {
	Token string `json:"token"`
}

// LinkInspection is the response of POST /links/inspect.
type LinkInspection struct {
	token.Result
	Unverified *token.Claims `json:"unverified,omitempty"`
}

func (s *Server) handleLinks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleLinkCreate(w, r)
	case http.MethodGet:
		s.handleLinkList(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleLinkCreate(w http.ResponseWriter, r *http.Request) {
	if err := s.requireAdmin(r); err != nil {
		writeAuthError(w, err)
		return
	}
	var req LinkCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if s.tokens == nil || s.store == nil {
		writeError(w, http.StatusInternalServerError, "link issuing unavailable")
		return
	}
	kind, err := token.ParseKind(req.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var ttl time.Duration
	if req.TTL != "" {
		parsed, err := time.ParseDuration(req.TTL)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid ttl")
			return
		}
		ttl = parsed
	}
	issued, err := s.tokens.Issue(token.IssueRequest{
		DocumentID:  req.DocumentID,
		Permissions: req.Permissions,
		Kind:        kind,
		Expiry:      ttl,
		Recipient:   req.Recipient,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	link := collabstore.LinkFromIssued(issued)
	if err := s.store.RegisterLink(r.Context(), link); err != nil {
		s.logger.Error("failed to register link", "document_id", issued.DocumentID, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to persist link")
		return
	}
	s.metrics.LinkIssued(string(issued.Kind))
	_ = s.events.LinkIssued(r.Context(), link)
	s.logger.Info("link issued", "document_id", issued.DocumentID, "link_id", issued.LinkID, "kind", string(issued.Kind))
	writeJSON(w, http.StatusOK, issued)
}

func (s *Server) handleLinkList(w http.ResponseWriter, r *http.Request) {
	if err := s.requireAdmin(r); err != nil {
		writeAuthError(w, err)
		return
	}
	documentID := strings.TrimSpace(r.URL.Query().Get("documentId"))
	if documentID == "" {
		writeError(w, http.StatusBadRequest, "documentId is required")
		return
	}
	if s.store == nil {
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	links, err := s.store.Links(r.Context(), documentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if links == nil {
		links = []collabstore.Link{}
	}
	writeJSON(w, http.StatusOK, links)
}

func (s *Server) handleLinkRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := s.requireAdmin(r); err != nil {
		writeAuthError(w, err)
		return
	}
	var req LinkRevokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Token != "" {
		claims, err := token.Peek(req.Token)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid token")
			return
		}
		req.DocumentID, req.LinkID = claims.DocumentID, claims.LinkID
	}
	if req.DocumentID == "" || req.LinkID == "" {
		writeError(w, http.StatusBadRequest, "documentId and linkId are required")
		return
	}
	if s.store == nil {
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	if err := s.store.RevokeLink(r.Context(), req.DocumentID, req.LinkID, s.now().UTC()); err != nil {
		switch {
		case errors.Is(err, collabstore.ErrLinkNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, collabstore.ErrDocumentMismatch):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	s.metrics.LinkRevoked()
	_ = s.events.LinkRevoked(r.Context(), req.DocumentID, req.LinkID)
	s.logger.Info("link revoked", "document_id", req.DocumentID, "link_id", req.LinkID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked", "documentId": req.DocumentID, "linkId": req.LinkID})
}

func (s *Server) handleLinkInspect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := s.requireAdmin(r); err != nil {
		writeAuthError(w, err)
		return
	}
	var req LinkInspectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if s.tokens == nil {
		writeError(w, http.StatusInternalServerError, "token validation unavailable")
		return
	}
	claims, err := token.Peek(req.Token)
	if err != nil {
		writeJSON(w, http.StatusOK, LinkInspection{Result: token.Result{Reason: token.ReasonInvalidToken}})
		return
	}
	rec := collabstore.Record{}
	if s.store != nil {
		rec, err = s.store.Record(r.Context(), claims.DocumentID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	res := s.tokens.Validate(req.Token, s.now(), rec.Revoked, rec.Used)
	out := LinkInspection{Result: res}
	if !res.Valid {
		out.Unverified = claims
	}
	writeJSON(w, http.StatusOK, out)
}
