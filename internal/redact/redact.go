package redact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
)

// Service tokenizes sensitive values. It is the trust boundary of the agent:
// everything downstream of the ingestion pipeline only ever sees tokens.
// The token -> original mapping lives in process memory only and is never
// persisted or transmitted.
type Service struct {
	mu     sync.Mutex
	tokens map[string]string
}

// NewService creates an empty redaction service
func NewService() *Service {
	return &Service{
		tokens: make(map[string]string),
	}
}

// Redact replaces a sensitive value with a deterministic token of the form
// [REDACTED_<TYPE>_<hash16>]. The same (value, piiType) pair always yields
// the same token, so re-processing a record cannot leak a second variant.
func (s *Service) Redact(value, piiType string) string {
	sum := sha256.Sum256([]byte(piiType + ":" + value))
	token := fmt.Sprintf("[REDACTED_%s_%s]",
		strings.ToUpper(piiType),
		hex.EncodeToString(sum[:])[:16])

	s.mu.Lock()
	s.tokens[token] = value
	s.mu.Unlock()

	return token
}

// Restore returns the original value for a token issued by this process,
// if it is still held
func (s *Service) Restore(token string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.tokens[token]
	return value, ok
}

// Clear wipes the in-memory token map. When to call it (shutdown, between
// jobs) is the caller's policy.
func (s *Service) Clear() {
	s.mu.Lock()
	s.tokens = make(map[string]string)
	s.mu.Unlock()
}

// Len reports how many tokens are currently held
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}
