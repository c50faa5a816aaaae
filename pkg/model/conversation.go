package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

type SessionID string

// NewSessionID generates a new unique SessionID
func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Validate checks if the role is known
func (r Role) Validate() error {
	switch r {
	case RoleUser, RoleAssistant:
		return nil
	default:
		return goerr.New("invalid role", goerr.V("role", r))
	}
}

// Turn is one side of a Socratic exchange. Seq is assigned by the conversation
// memory and is strictly increasing within a session.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Seq       int64     `json:"seq"`
	Tokens    int       `json:"tokens"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionContext is the ordered, bounded turn log of one dialogue.
type SessionContext struct {
	ID        SessionID `json:"id"`
	Turns     []Turn    `json:"turns"`
	Tokens    int       `json:"tokens"`
	NextSeq   int64     `json:"next_seq"`
	UpdatedAt time.Time `json:"updated_at"`
}
