// Package ws carries editor sessions over WebSocket.
//
// The package implements:
//   - Client: one user's connection with a bounded outbound queue
//   - Registry: the live connections of every session, one per user
//   - Hub: joins connections to the session store and fans out changes
//   - Handler: upgrades HTTP requests and hands them to the Hub
//
// Key features:
//   - Snapshot on connect: a joining client first receives the full content
//     and language, then everyone receives the new participant list
//   - Ordered fan-out: broadcasts are queued while the session is locked, so
//     every peer sees changes in the order they were committed
//   - Reconnect replacement: a second connection for the same user closes the
//     first without the user ever leaving the session
//   - Slow peers are dropped instead of blocking the session
package ws
