package model

import (
	"fmt"
	"strings"
	"time"
)

// DefaultLanguage is the language tag of a freshly created session.
const DefaultLanguage = "plaintext"

// MaxIDLength bounds session and user identifiers.
const MaxIDLength = 256

// Session is a point-in-time copy of an editing session.
type Session struct {
	ID           string    `json:"id"`
	Content      string    `json:"content"`
	Language     string    `json:"language"`
	Participants []string  `json:"connectedUsers"`
	LastModified time.Time `json:"lastModified"`
	CreatedAt    time.Time `json:"createdAt"`
}

// HasParticipant reports whether userID is connected to the session.
func (s *Session) HasParticipant(userID string) bool {
	for _, p := range s.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// ValidateID checks that id can be used as a session or user identifier.
func ValidateID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: empty", ErrInvalidID)
	case len(id) > MaxIDLength:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidID, MaxIDLength)
	case strings.ContainsRune(id, '/'):
		return fmt.Errorf("%w: contains '/'", ErrInvalidID)
	}
	return nil
}

// CreateSessionRequest represents a request to create a new session.
type CreateSessionRequest struct {
	ID string `json:"id"`
}

// Validate validates the create session request. An empty ID asks for a generated one.
func (r *CreateSessionRequest) Validate() error {
	if r.ID == "" {
		return nil
	}
	return ValidateID(r.ID)
}
