package credential

import (
	"log/slog"
	"sync"

	"consolegate/internal/domain"
)

// Store persists the two-part credential in a size-constrained Slot.
//
// Reads go straight to the slot, which holds one atomically replaceable value.
// Writes are serialized so Set can merge a missing refresh token with the
// stored one.
type Store struct {
	slot   Slot
	budget int
	logger *slog.Logger

	mu sync.Mutex
}

// NewStore creates a Store over slot. A budget <= 0 selects DefaultBudget.
// The logger is optional; nil uses slog.Default().
func NewStore(slot Slot, budget int, logger *slog.Logger) *Store {
	if budget <= 0 {
		budget = DefaultBudget
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{slot: slot, budget: budget, logger: logger}
}

// Get returns the stored credential, or false if no access token is held.
func (s *Store) Get() (domain.Credential, bool) {
	cred, ok := s.slot.Load()
	if !ok || cred.AccessToken == "" {
		return domain.Credential{}, false
	}
	return cred, true
}

// RefreshToken returns the stored refresh token. It is readable even when
// the access token is missing.
func (s *Store) RefreshToken() (string, bool) {
	cred, ok := s.slot.Load()
	if !ok || cred.RefreshToken == "" {
		return "", false
	}
	return cred.RefreshToken, true
}

// Set compacts accessToken to the slot budget and stores it, reporting the
// compaction strategy used. An empty refreshToken keeps the one already
// stored. Set never fails: malformed input degrades to truncation rather than
// being dropped.
func (s *Store) Set(accessToken, refreshToken string) Strategy {
	access, strategy := Compact(accessToken, s.budget)
	switch strategy {
	case StrategyNone:
	case StrategyTruncated:
		s.logger.Warn("access token truncated to fit credential slot",
			"original_len", len(accessToken), "budget", s.budget)
	default:
		s.logger.Debug("access token compacted",
			"strategy", string(strategy), "original_len", len(accessToken), "stored_len", len(access))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if refreshToken == "" {
		if current, ok := s.slot.Load(); ok {
			refreshToken = current.RefreshToken
		}
	}
	s.slot.Save(domain.Credential{AccessToken: access, RefreshToken: refreshToken})
	return strategy
}

// Clear removes both tokens.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slot.Clear()
}

// Budget returns the slot's size budget in characters.
func (s *Store) Budget() int { return s.budget }
