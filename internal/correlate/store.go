// Package correlate tracks outstanding AuthnRequest identifiers awaiting a
// Response, enforcing at-most-once consumption
// (SAML 2.0 Profiles Section 4.1.4.3).
package correlate

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

var (
	// ErrReplayDetected reports a second consumption attempt against an
	// identifier that was already consumed.
	ErrReplayDetected = errors.New("correlate: request identifier already consumed")

	// ErrUnsolicitedResponse reports an identifier that was never issued or
	// whose entry has expired.
	ErrUnsolicitedResponse = errors.New("correlate: no outstanding request for identifier")
)

// Entry records one outstanding request.
type Entry struct {
	RequestID   string
	IdPEntityID string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Store is the correlation table. A single mutex guards both the pending
// and consumed maps so that Consume is a linearizable check-and-delete: of
// two responses racing on the same identifier, exactly one wins.
//
// Expiry is lazy: entries past their deadline are swept opportunistically
// on access rather than by a background timer.
type Store struct {
	mu       sync.Mutex
	pending  map[string]Entry
	consumed map[string]time.Time

	lifetime  time.Duration
	tombstone time.Duration
	clock     clockwork.Clock
	lastSweep time.Time
}

// sweepInterval gates how often the lazy expiry sweep runs, to keep full
// map scans off the per-request path.
const sweepInterval = 30 * time.Second

// NewStore creates a correlation store. lifetime is the maximum round-trip
// allowed between issuing a request and consuming its response. Consumed
// identifiers are remembered for twice the lifetime so replays remain
// distinguishable from unsolicited responses.
func NewStore(lifetime time.Duration, clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		pending:   make(map[string]Entry),
		consumed:  make(map[string]time.Time),
		lifetime:  lifetime,
		tombstone: 2 * lifetime,
		clock:     clock,
	}
}

// Issue records a freshly generated request identifier bound to the IdP it
// was sent to.
func (s *Store) Issue(requestID, idpEntityID string) Entry {
	now := s.clock.Now()
	entry := Entry{
		RequestID:   requestID,
		IdPEntityID: idpEntityID,
		IssuedAt:    now,
		ExpiresAt:   now.Add(s.lifetime),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(now)
	s.pending[requestID] = entry
	return entry
}

// Consume atomically removes and returns the entry for requestID. The first
// caller wins; later callers get ErrReplayDetected. Identifiers that were
// never issued, or whose entries expired, yield ErrUnsolicitedResponse.
func (s *Store) Consume(requestID string) (Entry, error) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(now)

	if entry, ok := s.pending[requestID]; ok {
		if now.After(entry.ExpiresAt) {
			delete(s.pending, requestID)
			return Entry{}, ErrUnsolicitedResponse
		}
		delete(s.pending, requestID)
		s.consumed[requestID] = now
		return entry, nil
	}

	if _, ok := s.consumed[requestID]; ok {
		return Entry{}, ErrReplayDetected
	}
	return Entry{}, ErrUnsolicitedResponse
}

// Outstanding reports whether an identifier is currently issued and
// unconsumed.
func (s *Store) Outstanding(requestID string) bool {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.pending[requestID]
	return ok && !now.After(entry.ExpiresAt)
}

// Len returns the number of outstanding entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// sweepLocked drops expired pending entries and aged-out tombstones.
// Callers hold s.mu.
func (s *Store) sweepLocked(now time.Time) {
	if now.Sub(s.lastSweep) < sweepInterval && !s.lastSweep.IsZero() {
		return
	}
	s.lastSweep = now

	for id, entry := range s.pending {
		if now.After(entry.ExpiresAt) {
			delete(s.pending, id)
		}
	}
	for id, consumedAt := range s.consumed {
		if now.Sub(consumedAt) > s.tombstone {
			delete(s.consumed, id)
		}
	}
}
