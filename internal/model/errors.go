package model

import "errors"

var (
	// ErrSessionNotFound is returned when a session is not found.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExists is returned when an explicit create reuses an existing session ID.
	ErrSessionExists = errors.New("session already exists")

	// ErrInvalidID is returned when a session or user identifier cannot be used as a path segment.
	ErrInvalidID = errors.New("invalid identifier")

	// ErrDecode is returned when an inbound envelope cannot be decoded.
	ErrDecode = errors.New("malformed message")

	// ErrTransport is returned when a frame cannot be delivered to a connection.
	ErrTransport = errors.New("transport failure")
)
