package model

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"simple", "s1", false},
		{"uuid", "4f0c7d3e-6a43-4b7e-9a55-3c8e1f0f2d11", false},
		{"unicode", "équipe", false},
		{"empty", "", true},
		{"slash", "a/b", true},
		{"too long", strings.Repeat("x", MaxIDLength+1), true},
		{"max length", strings.Repeat("x", MaxIDLength), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateID(tt.id)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidID) {
					t.Errorf("expected ErrInvalidID, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestCreateSessionRequest_Validate(t *testing.T) {
	req := &CreateSessionRequest{}
	if err := req.Validate(); err != nil {
		t.Errorf("empty ID should be accepted, got %v", err)
	}

	req.ID = "bad/id"
	if err := req.Validate(); !errors.Is(err, ErrInvalidID) {
		t.Errorf("expected ErrInvalidID, got %v", err)
	}
}

func TestSession_HasParticipant(t *testing.T) {
	s := Session{Participants: []string{"alice", "bob"}}
	if !s.HasParticipant("bob") {
		t.Error("bob should be a participant")
	}
	if s.HasParticipant("carol") {
		t.Error("carol should not be a participant")
	}
}
