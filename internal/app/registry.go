package app

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
)

// CodeAlphabet avoids characters that are easy to misread (0/O, 1/I).
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const maxCodeAttempts = 64

// ErrCodeSpaceExhausted is returned when no free match code was found.
var ErrCodeSpaceExhausted = errors.New("could not allocate a free match code")

// DefaultCodeLength is the length of generated match codes.
const DefaultCodeLength = 6

// CodeGenerator produces candidate match codes.
type CodeGenerator func() (string, error)

// RandomCodes returns a crypto-random generator of codes with the given length.
func RandomCodes(length int) CodeGenerator {
	return func() (string, error) {
		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		out := make([]byte, length)
		for i := range out {
			out[i] = CodeAlphabet[int(buf[i])%len(CodeAlphabet)]
		}
		return string(out), nil
	}
}

// Registry maps match codes to live matches. Codes are unique among active
// matches only; a code frees up once its match is destroyed.
type Registry struct {
	store  MatchStore
	codes  CodeGenerator
	logger *slog.Logger
}

func NewRegistry(store MatchStore, codes CodeGenerator, logger *slog.Logger) *Registry {
	return &Registry{store: store, codes: codes, logger: logger}
}

// Create reserves a fresh code and installs the match built for it. The store's
// insert-if-absent makes generation plus insertion atomic; collisions regenerate.
func (r *Registry) Create(build func(code string) *Match) (*Match, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := r.codes()
		if err != nil {
			return nil, err
		}
		if _, taken := r.store.Get(code); taken {
			continue
		}
		match := build(code)
		if r.store.Insert(code, match) {
			return match, nil
		}
		r.logger.Debug("match code collision", "code", code, "attempt", attempt)
	}
	return nil, ErrCodeSpaceExhausted
}

// Find looks up a live match; it never creates one.
func (r *Registry) Find(code string) (*Match, bool) {
	return r.store.Get(code)
}

// Destroy removes the match and cancels its timers. Safe to call for unknown codes.
func (r *Registry) Destroy(code string) {
	if match, ok := r.store.Delete(code); ok {
		match.shutdown()
		r.logger.Info("match disposed", "match", code)
	}
}

// Len returns the number of live matches.
func (r *Registry) Len() int {
	return r.store.Len()
}
