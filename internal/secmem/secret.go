// Package secmem holds sensitive byte material and guarantees it is zeroed
// when released. Callers wrap key material in a Secret and defer Close so the
// wipe runs on every return path, including errors.
package secmem

import (
	"crypto/subtle"
	"sync"
)

// Secret owns a private copy of sensitive bytes.
type Secret struct {
	mu    sync.Mutex
	data  []byte
	wiped bool
}

// FromBytes copies b into protected storage. The caller keeps ownership of b
// and should wipe it separately if it is sensitive.
func FromBytes(b []byte) *Secret {
	data := make([]byte, len(b))
	copy(data, b)
	return &Secret{data: data}
}

// Bytes returns a private copy of the secret, taken under the secret's lock
// so a concurrent Close never wipes it mid-read. Nil once wiped. The caller
// owns the copy and should Wipe it when done.
func (s *Secret) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wiped {
		return nil
	}
	out := make([]byte, len(s.data))
	copy(out, s.data)
	return out
}

// Expose returns the underlying bytes. The slice aliases the secret's
// storage: do not retain it past the secret's lifetime, and use Bytes
// instead when the secret may be closed concurrently.
func (s *Secret) Expose() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wiped {
		return nil
	}
	return s.data
}

// Equal compares two secrets in constant time.
func (s *Secret) Equal(other *Secret) bool {
	if s == nil || other == nil {
		return false
	}
	s.mu.Lock()
	a := s.data
	wipedA := s.wiped
	s.mu.Unlock()

	other.mu.Lock()
	b := other.data
	wipedB := other.wiped
	other.mu.Unlock()

	if wipedA || wipedB || len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Len reports the secret's length in bytes; zero once wiped.
func (s *Secret) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wiped {
		return 0
	}
	return len(s.data)
}

// Close zeroes the storage. Safe to call more than once.
func (s *Secret) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.wiped {
		Wipe(s.data)
		s.data = nil
		s.wiped = true
	}
	return nil
}

// String redacts the contents so secrets never leak through logging.
func (s *Secret) String() string {
	return "secmem.Secret(redacted)"
}

// Wipe zeroes b in place.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
