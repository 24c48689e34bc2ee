// Package credentials provides token sources for relay registration.
package credentials

import (
	"os"
	"sync"

	"github.com/dkeye/Dial/internal/core"
)

// Static holds a token in memory until Clear is called on logout.
type Static struct {
	mu    sync.RWMutex
	token string
}

func NewStatic(token string) *Static {
	return &Static{token: token}
}

func (s *Static) AccessToken() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}

func (s *Static) Set(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

func (s *Static) Clear() {
	s.Set("")
}

// Env reads the token from an environment variable on every call.
type Env struct {
	Var string
}

func (e Env) AccessToken() (string, bool) {
	v := os.Getenv(e.Var)
	return v, v != ""
}

// Chain returns the first token any of its stores has.
type Chain []core.CredentialStore

func (c Chain) AccessToken() (string, bool) {
	for _, s := range c {
		if t, ok := s.AccessToken(); ok {
			return t, true
		}
	}
	return "", false
}
