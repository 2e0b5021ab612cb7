package collabstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pkt.systems/peerdoc/internal/token"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS collab_links (
	link_id     TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	kind        TEXT NOT NULL,
	permissions TEXT[] NOT NULL,
	recipient   TEXT NOT NULL DEFAULT '',
	issued_at   TIMESTAMPTZ NOT NULL,
	expires_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS collab_links_document_idx ON collab_links (document_id);

CREATE TABLE IF NOT EXISTS collab_link_revocations (
	link_id     TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	revoked_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS collab_link_revocations_document_idx ON collab_link_revocations (document_id);

CREATE TABLE IF NOT EXISTS collab_link_usage (
	link_id     TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	peer_id     TEXT NOT NULL,
	used_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS collab_link_usage_document_idx ON collab_link_usage (document_id);
`

// PostgresStore is a Store backed by PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// Record implements Store.
func (s *PostgresStore) Record(ctx context.Context, documentID string) (Record, error) {
	rec := Record{Revoked: token.NewLinkSet(), Used: token.NewLinkSet()}
	if err := s.collectIDs(ctx, `SELECT link_id FROM collab_link_revocations WHERE document_id = $1`, documentID, rec.Revoked); err != nil {
		return Record{}, err
	}
	if err := s.collectIDs(ctx, `SELECT link_id FROM collab_link_usage WHERE document_id = $1`, documentID, rec.Used); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *PostgresStore) collectIDs(ctx context.Context, query, documentID string, into token.LinkSet) error {
	rows, err := s.pool.Query(ctx, query, documentID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		into[id] = struct{}{}
	}
	return rows.Err()
}

// RegisterLink implements Store.
func (s *PostgresStore) RegisterLink(ctx context.Context, link Link) error {
	perms := make([]string, 0, len(link.Permissions))
	for _, p := range link.Permissions {
		perms = append(perms, string(p))
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO collab_links (link_id, document_id, kind, permissions, recipient, issued_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (link_id) DO NOTHING`,
		link.LinkID, link.DocumentID, string(link.Kind), perms, link.Recipient, link.IssuedAt, link.ExpiresAt)
	return err
}

// RevokeLink implements Store.
func (s *PostgresStore) RevokeLink(ctx context.Context, documentID, linkID string, now time.Time) error {
	var issuedFor string
	err := s.pool.QueryRow(ctx, `SELECT document_id FROM collab_links WHERE link_id = $1`, linkID).Scan(&issuedFor)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrLinkNotFound
	}
	if err != nil {
		return err
	}
	if issuedFor != documentID {
		return ErrDocumentMismatch
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO collab_link_revocations (link_id, document_id, revoked_at)
VALUES ($1, $2, $3)
ON CONFLICT (link_id) DO UPDATE SET document_id = EXCLUDED.document_id, revoked_at = EXCLUDED.revoked_at
WHERE collab_link_revocations.document_id <> EXCLUDED.document_id`, linkID, issuedFor, now)
	return err
}

// MarkUsed implements Store. The primary key on link_id makes the insert the
// compare-and-set.
func (s *PostgresStore) MarkUsed(ctx context.Context, documentID, linkID, peerID string, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
INSERT INTO collab_link_usage (link_id, document_id, peer_id, used_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (link_id) DO NOTHING`, linkID, documentID, peerID, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLinkAlreadyUsed
	}
	return nil
}

// Links implements Store.
func (s *PostgresStore) Links(ctx context.Context, documentID string) ([]Link, error) {
	rows, err := s.pool.Query(ctx, `
SELECT l.link_id, l.document_id, l.kind, l.permissions, l.recipient, l.issued_at, l.expires_at,
       r.revoked_at, u.used_at, COALESCE(u.peer_id, '')
FROM collab_links l
LEFT JOIN collab_link_revocations r ON r.link_id = l.link_id
LEFT JOIN collab_link_usage u ON u.link_id = l.link_id
WHERE l.document_id = $1
ORDER BY l.issued_at, l.link_id`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []Link
	for rows.Next() {
		var (
			link  Link
			kind  string
			perms []string
		)
		if err := rows.Scan(&link.LinkID, &link.DocumentID, &kind, &perms, &link.Recipient,
			&link.IssuedAt, &link.ExpiresAt, &link.RevokedAt, &link.UsedAt, &link.UsedBy); err != nil {
			return nil, err
		}
		link.Kind = token.Kind(kind)
		for _, p := range perms {
			link.Permissions = append(link.Permissions, token.Permission(p))
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	return links, nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
