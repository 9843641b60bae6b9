package model

import "time"

// ArchivedSession is the final state of a session recorded when it was evicted.
type ArchivedSession struct {
	ID           int64     `json:"id"`
	SessionID    string    `json:"sessionId"`
	Content      string    `json:"content"`
	Language     string    `json:"language"`
	LastModified time.Time `json:"lastModified"`
	EndedAt      time.Time `json:"endedAt"`
}
