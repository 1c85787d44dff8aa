// Package keystore is the concurrency-safe key table shared by the backend
// implementations: handle metadata, optional key material, and usage
// accounting live here so every backend enforces the same bookkeeping.
package keystore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pqkms/internal/hsm"
	"pqkms/internal/secmem"
)

// Entry is one stored key. Handle metadata is immutable after creation;
// usage accounting mutates under the store lock.
type Entry struct {
	Handle hsm.KeyHandle

	// Private holds the secret key material for software-held keys; nil for
	// keys whose material never leaves the hardware.
	Private *secmem.Secret
	// Public holds the raw public key bytes when the backend exposes them.
	Public []byte

	UsageCount uint64
	LastUsed   time.Time
}

// Store maps key IDs to entries.
type Store struct {
	mu   sync.RWMutex
	keys map[string]*Entry
}

// New creates an empty store.
func New() *Store {
	return &Store{keys: make(map[string]*Entry)}
}

// Put stores a new entry. Re-creating an existing key ID is an error:
// handles are immutable, so a second generation under the same ID would
// silently orphan the first.
func (s *Store) Put(e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.keys[e.Handle.KeyID]; exists {
		return fmt.Errorf("key %q already exists", e.Handle.KeyID)
	}
	s.keys[e.Handle.KeyID] = e
	return nil
}

// Handle returns the key's handle, or ErrKeyNotFound.
func (s *Store) Handle(keyID string) (hsm.KeyHandle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.keys[keyID]
	if !ok {
		return hsm.KeyHandle{}, fmt.Errorf("key %q: %w", keyID, hsm.ErrKeyNotFound)
	}
	return e.Handle, nil
}

// Use checks the key's policy against the operation and caller, enforces the
// usage quota, bumps the usage counter, and returns the entry. The quota
// check and the bump are a single critical section so concurrent callers
// cannot overshoot MaxUses.
func (s *Store) Use(keyID string, kind hsm.OperationKind, opCtx hsm.OperationContext) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("key %q: %w", keyID, hsm.ErrKeyNotFound)
	}
	policy := e.Handle.UsagePolicy
	if !policy.Permits(kind) {
		return nil, fmt.Errorf("operation %s not permitted: %w", kind, hsm.ErrPolicyViolation)
	}
	if !policy.AllowsCaller(opCtx.UserID, opCtx.ApplicationID) {
		return nil, fmt.Errorf("caller not on allow-list: %w", hsm.ErrPolicyViolation)
	}
	if policy.MaxUses > 0 && e.UsageCount >= policy.MaxUses {
		return nil, fmt.Errorf("usage quota of %d spent: %w", policy.MaxUses, hsm.ErrPolicyViolation)
	}

	e.UsageCount++
	e.LastUsed = time.Now()
	return e, nil
}

// Delete removes the key and wipes any held material.
func (s *Store) Delete(keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.keys[keyID]
	if !ok {
		return fmt.Errorf("key %q: %w", keyID, hsm.ErrKeyNotFound)
	}
	if e.Private != nil {
		_ = e.Private.Close()
	}
	delete(s.keys, keyID)
	return nil
}

// List enumerates all keys as listing views.
func (s *Store) List(_ context.Context) []hsm.KeyInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]hsm.KeyInfo, 0, len(s.keys))
	now := time.Now()
	for _, e := range s.keys {
		status := hsm.KeyStatusActive
		if e.Handle.ExpiresAt != nil && e.Handle.ExpiresAt.Before(now) {
			status = hsm.KeyStatusExpired
		}
		info := hsm.KeyInfo{
			KeyID:      e.Handle.KeyID,
			Algorithm:  e.Handle.Algorithm,
			CreatedAt:  e.Handle.CreatedAt,
			UsageCount: e.UsageCount,
			SizeBits:   e.Handle.KeySizeBits,
			Status:     status,
		}
		if !e.LastUsed.IsZero() {
			lastUsed := e.LastUsed
			info.LastUsed = &lastUsed
		}
		out = append(out, info)
	}
	return out
}

// Len reports how many keys the store holds.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}
