package collabstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"pkt.systems/peerdoc/internal/token"
)

const storeFilename = "links.json"

// Revocation records when a link was revoked.
type Revocation struct {
	DocumentID string    `json:"document_id"`
	RevokedAt  time.Time `json:"revoked_at"`
}

// Usage records the consumption of a one-time link.
type Usage struct {
	DocumentID string    `json:"document_id"`
	PeerID     string    `json:"peer_id"`
	UsedAt     time.Time `json:"used_at"`
}

// MemoryStore keeps metadata in memory and, when a directory is set,
// persists it to a JSON file after every mutation.
type MemoryStore struct {
	mu     sync.RWMutex
	saveMu sync.Mutex
	markMu sync.Mutex
	dir    string

	Issued      map[string]Link       `json:"links"`
	Revocations map[string]Revocation `json:"revocations"`
	Usages      map[string]Usage      `json:"usage"`
}

// NewMemoryStore returns an empty, non-persistent store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Issued:      make(map[string]Link),
		Revocations: make(map[string]Revocation),
		Usages:      make(map[string]Usage),
	}
}

// LoadMemoryStore reads persisted state from dir if present. An empty dir
// yields a non-persistent store.
func LoadMemoryStore(dir string) (*MemoryStore, error) {
	if dir == "" {
		return NewMemoryStore(), nil
	}
	data, err := os.ReadFile(filepath.Join(dir, storeFilename))
	if err != nil {
		if os.IsNotExist(err) {
			s := NewMemoryStore()
			s.dir = dir
			return s, nil
		}
		return nil, err
	}
	s, err := LoadMemoryStoreFromBytes(data)
	if err != nil {
		return nil, err
	}
	s.dir = dir
	return s, nil
}

// LoadMemoryStoreFromBytes unmarshals store data and ensures maps are initialized.
func LoadMemoryStoreFromBytes(data []byte) (*MemoryStore, error) {
	var s MemoryStore
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if s.Issued == nil {
		s.Issued = make(map[string]Link)
	}
	if s.Revocations == nil {
		s.Revocations = make(map[string]Revocation)
	}
	if s.Usages == nil {
		s.Usages = make(map[string]Usage)
	}
	return &s, nil
}

// Record implements Store.
func (s *MemoryStore) Record(_ context.Context, documentID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec := Record{Revoked: token.NewLinkSet(), Used: token.NewLinkSet()}
	for id, r := range s.Revocations {
		if r.DocumentID == documentID {
			rec.Revoked[id] = struct{}{}
		}
	}
	for id, u := range s.Usages {
		if u.DocumentID == documentID {
			rec.Used[id] = struct{}{}
		}
	}
	return rec, nil
}

// RegisterLink implements Store.
func (s *MemoryStore) RegisterLink(_ context.Context, link Link) error {
	s.mu.Lock()
	link.RevokedAt = nil
	link.UsedAt = nil
	link.UsedBy = ""
	s.Issued[link.LinkID] = link
	s.mu.Unlock()
	return s.persist()
}

// RevokeLink implements Store.
func (s *MemoryStore) RevokeLink(_ context.Context, documentID, linkID string, now time.Time) error {
	s.mu.Lock()
	link, ok := s.Issued[linkID]
	if !ok {
		s.mu.Unlock()
		return ErrLinkNotFound
	}
	if link.DocumentID != documentID {
		s.mu.Unlock()
		return ErrDocumentMismatch
	}
	if r, ok := s.Revocations[linkID]; ok && r.DocumentID == link.DocumentID {
		s.mu.Unlock()
		return nil
	}
	s.Revocations[linkID] = Revocation{DocumentID: link.DocumentID, RevokedAt: now}
	s.mu.Unlock()
	return s.persist()
}

// MarkUsed implements Store.
func (s *MemoryStore) MarkUsed(_ context.Context, documentID, linkID, peerID string, now time.Time) error {
	// Held across persist so a concurrent caller never sees a usage that is
	// about to be rolled back.
	s.markMu.Lock()
	defer s.markMu.Unlock()
	s.mu.Lock()
	if _, ok := s.Usages[linkID]; ok {
		s.mu.Unlock()
		return ErrLinkAlreadyUsed
	}
	s.Usages[linkID] = Usage{DocumentID: documentID, PeerID: peerID, UsedAt: now}
	s.mu.Unlock()
	if err := s.persist(); err != nil {
		s.mu.Lock()
		delete(s.Usages, linkID)
		s.mu.Unlock()
		return err
	}
	return nil
}

// Links implements Store.
func (s *MemoryStore) Links(_ context.Context, documentID string) ([]Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var links []Link
	for id, link := range s.Issued {
		if link.DocumentID != documentID {
			continue
		}
		if r, ok := s.Revocations[id]; ok {
			at := r.RevokedAt
			link.RevokedAt = &at
		}
		if u, ok := s.Usages[id]; ok {
			at := u.UsedAt
			link.UsedAt = &at
			link.UsedBy = u.PeerID
		}
		links = append(links, link)
	}
	sort.Slice(links, func(i, j int) bool {
		if links[i].IssuedAt.Equal(links[j].IssuedAt) {
			return links[i].LinkID < links[j].LinkID
		}
		return links[i].IssuedAt.Before(links[j].IssuedAt)
	})
	return links, nil
}

// Save writes the store to dir.
func (s *MemoryStore) Save(dir string) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	s.mu.RLock()
	data, err := json.MarshalIndent(s, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	tmp := filepath.Join(dir, storeFilename+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, storeFilename))
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return s.persist()
}

func (s *MemoryStore) persist() error {
	if s.dir == "" {
		return nil
	}
	return s.Save(s.dir)
}
