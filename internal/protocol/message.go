// Package protocol defines the messages exchanged with editor clients and
// their JSON wire envelope.
package protocol

// Kind is the wire discriminator of a message.
type Kind string

const (
	KindContentUpdate  Kind = "contentUpdate"
	KindLanguageUpdate Kind = "languageUpdate"
	KindUsersUpdate    Kind = "usersUpdate"
)

// Message is one of ContentUpdate, LanguageUpdate or UsersUpdate.
type Message interface {
	Kind() Kind
	isMessage()
}

// ContentUpdate carries the full document text. Language is only set on the
// snapshot a client receives when it joins.
type ContentUpdate struct {
	Content  string
	Language string
}

// LanguageUpdate carries the session's language tag.
type LanguageUpdate struct {
	Language string
}

// UsersUpdate carries the full set of connected user IDs.
type UsersUpdate struct {
	ConnectedUsers []string
}

func (ContentUpdate) Kind() Kind  { return KindContentUpdate }
func (LanguageUpdate) Kind() Kind { return KindLanguageUpdate }
func (UsersUpdate) Kind() Kind    { return KindUsersUpdate }

func (ContentUpdate) isMessage()  {}
func (LanguageUpdate) isMessage() {}
func (UsersUpdate) isMessage()    {}
