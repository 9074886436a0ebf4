package redis

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"quiz-match-service/internal/app"
)

// MatchStore is a Redis-aware implementation of app.MatchStore.
// Notes:
//   - Match state and timers stay in a local map; only this instance drives them.
//   - Redis holds a lease per code (SET NX with TTL) so instances sharing a
//     Redis never hand out the same code twice.
//   - KeepLeases renews the leases of live matches; without it a match that
//     outlives the TTL loses its reservation.
type MatchStore struct {
	client  *redis.Client
	ttl     time.Duration
	timeout time.Duration

	mu      sync.RWMutex
	matches map[string]*app.Match
}

func NewMatchStore(client *redis.Client, ttl time.Duration) *MatchStore {
	return &MatchStore{
		client:  client,
		ttl:     ttl,
		timeout: 2 * time.Second,
		matches: make(map[string]*app.Match),
	}
}

// Insert reserves the code locally and in Redis. A code leased by another
// instance counts as taken; an unreachable Redis degrades to local-only.
func (s *MatchStore) Insert(code string, match *app.Match) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.matches[code]; ok {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	acquired, err := s.client.SetNX(ctx, s.key(code), leaseValue(match), s.ttl).Result()
	if err == nil && !acquired {
		return false
	}

	s.matches[code] = match
	return true
}

func (s *MatchStore) Get(code string) (*app.Match, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	match, ok := s.matches[code]
	return match, ok
}

func (s *MatchStore) Delete(code string) (*app.Match, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	match, ok := s.matches[code]
	if !ok {
		return nil, false
	}
	delete(s.matches, code)

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	// best-effort; the lease expires on its own
	_ = s.client.Del(ctx, s.key(code)).Err()
	return match, true
}

// Refresh extends the lease of every local match to a full TTL.
func (s *MatchStore) Refresh(ctx context.Context) error {
	s.mu.RLock()
	codes := make([]string, 0, len(s.matches))
	for code := range s.matches {
		codes = append(codes, code)
	}
	s.mu.RUnlock()
	if len(codes) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, code := range codes {
			pipe.Expire(ctx, s.key(code), s.ttl)
		}
		return nil
	})
	return err
}

// KeepLeases calls Refresh every interval until ctx is done.
func (s *MatchStore) KeepLeases(ctx context.Context, every time.Duration, logger *slog.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				logger.Warn("match lease refresh failed", "error", err)
			}
		}
	}
}

func (s *MatchStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.matches)
}

func (s *MatchStore) key(code string) string {
	return "match:" + code
}

func leaseValue(match *app.Match) string {
	if match == nil {
		return "1"
	}
	return match.QuizID().String()
}
