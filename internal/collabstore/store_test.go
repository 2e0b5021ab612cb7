package collabstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"pkt.systems/peerdoc/internal/token"
)

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	doc := "doc-" + uuid.NewString()

	oneTime := Link{
		LinkID:      uuid.NewString(),
		DocumentID:  doc,
		Kind:        token.KindOneTime,
		Permissions: []token.Permission{token.PermissionRead, token.PermissionWrite},
		IssuedAt:    now,
		ExpiresAt:   now.Add(time.Hour),
	}
	permanent := Link{
		LinkID:      uuid.NewString(),
		DocumentID:  doc,
		Kind:        token.KindPermanent,
		Permissions: []token.Permission{token.PermissionRead},
		IssuedAt:    now.Add(time.Second),
		ExpiresAt:   now.Add(24 * time.Hour),
	}
	if err := store.RegisterLink(ctx, oneTime); err != nil {
		t.Fatalf("RegisterLink: %v", err)
	}
	if err := store.RegisterLink(ctx, permanent); err != nil {
		t.Fatalf("RegisterLink: %v", err)
	}

	rec, err := store.Record(ctx, doc)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(rec.Revoked) != 0 || len(rec.Used) != 0 {
		t.Fatalf("fresh record = %+v, want empty", rec)
	}

	if err := store.MarkUsed(ctx, doc, oneTime.LinkID, "peer-1", now); err != nil {
		t.Fatalf("MarkUsed: %v", err)
	}
	if err := store.MarkUsed(ctx, doc, oneTime.LinkID, "peer-2", now); !errors.Is(err, ErrLinkAlreadyUsed) {
		t.Fatalf("second MarkUsed err = %v, want ErrLinkAlreadyUsed", err)
	}
	if err := store.RevokeLink(ctx, "typo-"+doc, permanent.LinkID, now); !errors.Is(err, ErrDocumentMismatch) {
		t.Fatalf("RevokeLink wrong document err = %v, want ErrDocumentMismatch", err)
	}
	if err := store.RevokeLink(ctx, doc, uuid.NewString(), now); !errors.Is(err, ErrLinkNotFound) {
		t.Fatalf("RevokeLink unknown link err = %v, want ErrLinkNotFound", err)
	}
	if err := store.RevokeLink(ctx, doc, permanent.LinkID, now); err != nil {
		t.Fatalf("RevokeLink: %v", err)
	}
	if err := store.RevokeLink(ctx, doc, permanent.LinkID, now.Add(time.Minute)); err != nil {
		t.Fatalf("second RevokeLink: %v", err)
	}

	rec, err = store.Record(ctx, doc)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !rec.Used.Has(oneTime.LinkID) || rec.Used.Has(permanent.LinkID) {
		t.Fatalf("Used = %v", rec.Used)
	}
	if !rec.Revoked.Has(permanent.LinkID) || rec.Revoked.Has(oneTime.LinkID) {
		t.Fatalf("Revoked = %v", rec.Revoked)
	}

	other, err := store.Record(ctx, "other-"+doc)
	if err != nil {
		t.Fatalf("Record other: %v", err)
	}
	if len(other.Revoked) != 0 || len(other.Used) != 0 {
		t.Fatalf("other document record leaked: %+v", other)
	}

	links, err := store.Links(ctx, doc)
	if err != nil {
		t.Fatalf("Links: %v", err)
	}
	if len(links) != 2 {
		t.Fatalf("len(links) = %d, want 2", len(links))
	}
	if links[0].LinkID != oneTime.LinkID {
		t.Fatalf("links not ordered by issue time")
	}
	if links[0].UsedAt == nil || links[0].UsedBy != "peer-1" {
		t.Fatalf("one-time link usage = %v/%q", links[0].UsedAt, links[0].UsedBy)
	}
	if links[1].RevokedAt == nil || !links[1].RevokedAt.Equal(now) {
		t.Fatalf("permanent link revocation = %v", links[1].RevokedAt)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStorePersists(t *testing.T) {
	dir := t.TempDir()
	store, err := LoadMemoryStore(dir)
	if err != nil {
		t.Fatalf("LoadMemoryStore: %v", err)
	}
	ctx := context.Background()
	now := time.Now().UTC()
	if err := store.RegisterLink(ctx, Link{LinkID: "link-a", DocumentID: "doc1", Kind: token.KindPermanent, IssuedAt: now}); err != nil {
		t.Fatalf("RegisterLink: %v", err)
	}
	if err := store.RevokeLink(ctx, "doc1", "link-a", now); err != nil {
		t.Fatalf("RevokeLink: %v", err)
	}
	if err := store.MarkUsed(ctx, "doc1", "link-b", "peer", now); err != nil {
		t.Fatalf("MarkUsed: %v", err)
	}

	reloaded, err := LoadMemoryStore(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	rec, err := reloaded.Record(ctx, "doc1")
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !rec.Revoked.Has("link-a") || !rec.Used.Has("link-b") {
		t.Fatalf("reloaded record = %+v", rec)
	}
}

func TestMemoryStoreRevokeAfterWrongDocument(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()
	if err := store.RegisterLink(ctx, Link{LinkID: "L1", DocumentID: "doc1", Kind: token.KindPermanent, IssuedAt: now}); err != nil {
		t.Fatalf("RegisterLink: %v", err)
	}
	if err := store.RevokeLink(ctx, "typo-doc", "L1", now); !errors.Is(err, ErrDocumentMismatch) {
		t.Fatalf("err = %v, want ErrDocumentMismatch", err)
	}
	if err := store.RevokeLink(ctx, "doc1", "L1", now); err != nil {
		t.Fatalf("RevokeLink: %v", err)
	}
	rec, err := store.Record(ctx, "doc1")
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !rec.Revoked.Has("L1") {
		t.Fatalf("Revoked = %v, want L1", rec.Revoked)
	}
	if typo, _ := store.Record(ctx, "typo-doc"); len(typo.Revoked) != 0 {
		t.Fatalf("typo document record = %+v", typo)
	}
}

func TestMemoryStoreMarkUsedRollsBackOnSaveFailure(t *testing.T) {
	dir := t.TempDir()
	store, err := LoadMemoryStore(dir)
	if err != nil {
		t.Fatalf("LoadMemoryStore: %v", err)
	}
	// A directory in place of the temp file makes every save fail.
	blocker := filepath.Join(dir, storeFilename+".tmp")
	if err := os.Mkdir(blocker, 0o700); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	ctx := context.Background()
	if err := store.MarkUsed(ctx, "doc1", "link", "peer-1", time.Now()); err == nil {
		t.Fatalf("MarkUsed succeeded with an unwritable store")
	}
	rec, err := store.Record(ctx, "doc1")
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if rec.Used.Has("link") {
		t.Fatalf("link consumed by a failed save")
	}

	if err := os.Remove(blocker); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := store.MarkUsed(ctx, "doc1", "link", "peer-1", time.Now()); err != nil {
		t.Fatalf("MarkUsed retry: %v", err)
	}
	if err := store.MarkUsed(ctx, "doc1", "link", "peer-2", time.Now()); !errors.Is(err, ErrLinkAlreadyUsed) {
		t.Fatalf("second MarkUsed err = %v, want ErrLinkAlreadyUsed", err)
	}
}

func TestMemoryStoreMarkUsedOnce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.MarkUsed(ctx, "doc1", "link", "peer", time.Now()); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("wins = %d, want 1", wins)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), Config{Driver: "redis"}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
	if _, err := Open(context.Background(), Config{Driver: DriverPostgres}); err == nil {
		t.Fatalf("expected error for postgres without dsn")
	}
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("PEERDOC_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PEERDOC_TEST_POSTGRES_DSN not set")
	}
	store, err := NewPostgresStore(context.Background(), dsn)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	exerciseStore(t, store)
}
