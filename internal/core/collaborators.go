package core

import "github.com/dkeye/Dial/internal/domain"

// Registration is sent once per relay connection.
type Registration struct {
	UserID    domain.UserID
	AuthToken string
}

// CredentialStore hands out the token used for register. The core never
// writes to it.
type CredentialStore interface {
	AccessToken() (string, bool)
}

// Presenter receives call events on the dispatcher goroutine; it must not block.
type Presenter interface {
	OnCallEvent(domain.CallEvent)
}

type UserDecision struct {
	CallID   domain.CallID
	Accepted bool
}
