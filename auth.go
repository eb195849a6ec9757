package server

import (
	"math/rand"
	"net/http"
	"strings"
	"sync"
)

const tokenLength = 32

var tokenAlphabet = []byte("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")

// AuthState is the in-process bearer-token table. Tokens are opaque
// 32-character alphanumeric strings and live for the process lifetime.
type AuthState struct {
	mu         sync.Mutex
	tokenToUID map[string]int
	rng        *rand.Rand
}

// NewAuthState seeds its own token PRNG; the simulation RNG is never shared
// with token issuance.
func NewAuthState() *AuthState {
	return &AuthState{
		tokenToUID: make(map[string]int),
		rng:        rand.New(rand.NewSource(entropySeed())),
	}
}

// IssueToken mints and registers a fresh token for userID.
func (a *AuthState) IssueToken(userID int) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	buf := make([]byte, tokenLength)
	for i := range buf {
		buf[i] = tokenAlphabet[a.rng.Intn(len(tokenAlphabet))]
	}
	token := string(buf)
	a.tokenToUID[token] = userID
	return token
}

// UserForToken resolves a token to its user id.
func (a *AuthState) UserForToken(token string) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	uid, ok := a.tokenToUID[token]
	return uid, ok
}

// RequireAuthUser extracts and resolves the Bearer token on a request.
func (a *AuthState) RequireAuthUser(r *http.Request) (int, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return 0, false
	}
	return a.UserForToken(header[len(prefix):])
}
