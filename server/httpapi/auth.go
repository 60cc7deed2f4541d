package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
)

// ErrInvalidToken is returned by verifiers for unknown or malformed tokens.
var ErrInvalidToken = errors.New("httpapi: invalid token")

// TokenVerifier resolves a bearer token to a caller user id. Token issuance
// is the external auth collaborator; the presence API only consumes tokens.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (userID string, err error)
}

// StaticTokens is a fixed token -> userID verifier for tests and demos.
type StaticTokens struct {
	mu     sync.RWMutex
	tokens map[string]string
}

// NewStaticTokens creates a verifier from a token -> userID map.
func NewStaticTokens(tokens map[string]string) *StaticTokens {
	m := make(map[string]string, len(tokens))
	for k, v := range tokens {
		m[k] = v
	}
	return &StaticTokens{tokens: m}
}

// Add registers a token for a user.
func (s *StaticTokens) Add(token, userID string) {
	s.mu.Lock()
	s.tokens[token] = userID
	s.mu.Unlock()
}

// Verify implements TokenVerifier.
func (s *StaticTokens) Verify(ctx context.Context, token string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	userID, ok := s.tokens[token]
	if !ok {
		return "", ErrInvalidToken
	}
	return userID, nil
}

const callerKey = "callerUserID"

// requireBearer authenticates the request and stores the caller user id in
// the gin context. Authentication failure is rejected before any presence
// logic runs.
func requireBearer(verify TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		userID, err := verify.Verify(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid bearer token"})
			return
		}

		c.Set(callerKey, userID)
		c.Next()
	}
}

// caller returns the authenticated user id set by requireBearer.
func caller(c *gin.Context) string {
	return c.GetString(callerKey)
}
