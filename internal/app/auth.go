package app

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/dkeye/Dial/internal/domain"
)

// Authenticator decides whether token proves the caller owns uid.
type Authenticator interface {
	Verify(uid domain.UserID, token string) bool
}

// HMACAuth tokens are hex(HMAC-SHA256(secret, userId)). With an empty
// secret any non-empty token is accepted.
type HMACAuth struct {
	secret []byte
}

func NewHMACAuth(secret string) *HMACAuth {
	return &HMACAuth{secret: []byte(secret)}
}

func (a *HMACAuth) Issue(uid domain.UserID) string {
	m := hmac.New(sha256.New, a.secret)
	m.Write([]byte(uid))
	return hex.EncodeToString(m.Sum(nil))
}

func (a *HMACAuth) Verify(uid domain.UserID, token string) bool {
	if token == "" {
		return false
	}
	if len(a.secret) == 0 {
		return true
	}
	want := a.Issue(uid)
	return hmac.Equal([]byte(want), []byte(token))
}
