package cache

import (
	"container/list"
	"sync"
	"time"
)

// SignatureSet remembers recently settled transaction signatures so a
// re-scan can skip the RPC fetch for work this process already finished.
// It is an optimisation only; the ledger's unique index stays authoritative.
type SignatureSet struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*list.Element
	order    *list.List // front = most recently added
	nowFn    func() time.Time

	hits   int64
	misses int64
}

type settledEntry struct {
	signature string
	expiresAt time.Time
}

// NewSignatureSet returns nil when capacity is not positive; a nil set
// reports every signature as unseen.
func NewSignatureSet(capacity int, ttl time.Duration) *SignatureSet {
	if capacity <= 0 {
		return nil
	}
	return &SignatureSet{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*list.Element, capacity),
		order:    list.New(),
		nowFn:    time.Now,
	}
}

// Contains reports whether signature was added and has not expired.
func (s *SignatureSet) Contains(signature string) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.items[signature]
	if !ok {
		s.misses++
		return false
	}
	e := elem.Value.(*settledEntry)
	if s.ttl > 0 && s.nowFn().After(e.expiresAt) {
		s.remove(elem)
		s.misses++
		return false
	}
	s.hits++
	return true
}

// Add marks signature as settled, evicting the oldest entry when full.
func (s *SignatureSet) Add(signature string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	expires := s.nowFn().Add(s.ttl)
	if elem, ok := s.items[signature]; ok {
		elem.Value.(*settledEntry).expiresAt = expires
		s.order.MoveToFront(elem)
		return
	}

	if s.order.Len() >= s.capacity {
		if oldest := s.order.Back(); oldest != nil {
			s.remove(oldest)
		}
	}
	s.items[signature] = s.order.PushFront(&settledEntry{signature: signature, expiresAt: expires})
}

// Len returns the number of entries, including expired ones not yet evicted.
func (s *SignatureSet) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// Stats returns lookup hit and miss counts.
func (s *SignatureSet) Stats() (hits, misses int64) {
	if s == nil {
		return 0, 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits, s.misses
}

func (s *SignatureSet) remove(elem *list.Element) {
	s.order.Remove(elem)
	delete(s.items, elem.Value.(*settledEntry).signature)
}
