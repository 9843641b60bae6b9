package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/sync-editor/backend/internal/model"
)

// envelope is the decoded form of any inbound frame. encoding/json matches
// field names case-insensitively, so "Content" and "content" both land here.
type envelope struct {
	Type           Kind     `json:"type"`
	Content        *string  `json:"content"`
	Language       *string  `json:"language"`
	ConnectedUsers []string `json:"connectedUsers"`
}

type contentFrame struct {
	Type     Kind   `json:"type"`
	Content  string `json:"content"`
	Language string `json:"language,omitempty"`
}

type languageFrame struct {
	Type     Kind   `json:"type"`
	Language string `json:"language"`
}

type usersFrame struct {
	Type           Kind     `json:"type"`
	ConnectedUsers []string `json:"connectedUsers"`
}

// Decode parses a wire envelope. Every failure wraps model.ErrDecode.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrDecode, err)
	}

	switch env.Type {
	case KindContentUpdate:
		return ContentUpdate{Content: deref(env.Content), Language: deref(env.Language)}, nil
	case KindLanguageUpdate:
		return LanguageUpdate{Language: deref(env.Language)}, nil
	case KindUsersUpdate:
		return UsersUpdate{ConnectedUsers: env.ConnectedUsers}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", model.ErrDecode)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", model.ErrDecode, env.Type)
	}
}

// Encode renders msg as a wire envelope, omitting fields unrelated to its kind.
func Encode(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case ContentUpdate:
		return json.Marshal(contentFrame{Type: KindContentUpdate, Content: m.Content, Language: m.Language})
	case LanguageUpdate:
		return json.Marshal(languageFrame{Type: KindLanguageUpdate, Language: m.Language})
	case UsersUpdate:
		users := m.ConnectedUsers
		if users == nil {
			users = []string{}
		}
		return json.Marshal(usersFrame{Type: KindUsersUpdate, ConnectedUsers: users})
	default:
		return nil, fmt.Errorf("protocol: cannot encode %T", msg)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
