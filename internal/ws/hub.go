package ws

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sync-editor/backend/internal/events"
	"github.com/sync-editor/backend/internal/metrics"
	"github.com/sync-editor/backend/internal/model"
	"github.com/sync-editor/backend/internal/protocol"
	"github.com/sync-editor/backend/internal/session"
)

const (
	// Time allowed to write a message to the peer.
	defaultWriteWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	defaultPongWait = 60 * time.Second

	// Maximum message size allowed from peer.
	defaultMaxMessageSize = 8 << 20

	// Upper bound for archive and publish calls made on eviction or presence changes.
	sideEffectTimeout = 5 * time.Second
)

// Drop reasons reported to metrics.
const (
	dropBinary      = "binary"
	dropDecode      = "decode"
	dropEmpty       = "empty"
	dropUsersUpdate = "users_update"
)

// Archiver persists the final state of evicted sessions.
type Archiver interface {
	Save(ctx context.Context, sess model.Session, endedAt time.Time) error
}

// EventPublisher announces presence changes and session ends.
type EventPublisher interface {
	PublishPresence(ctx context.Context, event events.PresenceEvent) error
	PublishSessionEnded(ctx context.Context, event events.SessionEndedEvent) error
}

// Recorder keeps a per-session history of committed changes.
type Recorder interface {
	Record(sessionID string, msg protocol.Message) error
	Close(sessionID string) error
}

// Options configures a Hub. Zero values fall back to defaults; Archiver and
// Recorder are optional.
type Options struct {
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	Publisher EventPublisher
	Archiver  Archiver
	Recorder  Recorder

	SendBufferSize int
	WriteWait      time.Duration
	PongWait       time.Duration
	// PingPeriod must be less than PongWait.
	PingPeriod     time.Duration
	MaxMessageSize int64
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Publisher == nil {
		o.Publisher = events.NopPublisher{}
	}
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = DefaultSendBufferSize
	}
	if o.WriteWait <= 0 {
		o.WriteWait = defaultWriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = defaultPongWait
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = (o.PongWait * 9) / 10
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = defaultMaxMessageSize
	}
	return o
}

// Hub ties WebSocket connections to the session store. Every store commit
// enqueues its broadcast while the session lock is held, so all connections
// of a session observe changes in commit order.
type Hub struct {
	store    *session.Store
	registry *Registry
	opts     Options
	logger   *zap.Logger
}

// NewHub creates a Hub and registers it as the store's eviction listener.
func NewHub(store *session.Store, registry *Registry, opts Options) *Hub {
	opts = opts.withDefaults()
	h := &Hub{
		store:    store,
		registry: registry,
		opts:     opts,
		logger:   opts.Logger.Named("hub"),
	}
	store.SetOnEvict(h.handleEvict)
	return h
}

// Registry returns the hub's connection registry.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Serve runs one upgraded connection until it ends. It attaches the
// connection, joins the user to the session (creating it if needed), sends the
// snapshot, relays edits and finally removes the user again.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, sessionID, userID string) error {
	if err := model.ValidateID(sessionID); err != nil {
		conn.Close()
		return err
	}
	if err := model.ValidateID(userID); err != nil {
		conn.Close()
		return err
	}

	log := h.logger.With(zap.String("session_id", sessionID), zap.String("user_id", userID))
	client := NewClient(conn, sessionID, userID, h.opts.SendBufferSize)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(client)
	}()

	if prev := h.registry.Attach(sessionID, userID, client); prev != nil {
		log.Info("replaced previous connection")
	}
	h.opts.Metrics.ConnectionOpened()
	defer h.opts.Metrics.ConnectionClosed()

	snap, err := h.store.AddParticipant(sessionID, userID, func(s model.Session) {
		h.join(client, s)
	})
	if err != nil {
		h.registry.Detach(sessionID, userID, client)
		client.Close()
		<-done
		client.setState(StateClosed)
		return fmt.Errorf("join session: %w", err)
	}
	log.Info("client connected", zap.Int("participants", len(snap.Participants)))
	h.publishPresence(snap, userID, events.ActionJoined)

	stop := context.AfterFunc(ctx, client.Close)
	defer stop()

	h.readLoop(client, log)

	client.setState(StateClosing)
	h.leave(client, log)
	client.Close()
	<-done
	client.setState(StateClosed)
	log.Info("client disconnected")
	return nil
}

// join runs under the session lock: the snapshot reaches the new client before
// any later broadcast, then everyone learns the new participant list.
func (h *Hub) join(client *Client, s model.Session) {
	snapshot := protocol.ContentUpdate{Content: s.Content, Language: s.Language}
	if err := client.SendMessage(snapshot); err != nil {
		h.logger.Warn("failed to send snapshot",
			zap.String("session_id", s.ID), zap.String("user_id", client.UserID()), zap.Error(err))
	}
	client.setState(StateOpen)
	h.broadcast(s.ID, "", protocol.UsersUpdate{ConnectedUsers: s.Participants})
}

// leave removes the user from the session unless a newer connection for the
// same user has replaced this one.
func (h *Hub) leave(client *Client, log *zap.Logger) {
	sessionID, userID := client.SessionID(), client.UserID()
	if !h.registry.Detach(sessionID, userID, client) {
		log.Debug("connection was replaced, keeping participant")
		return
	}

	snap, err := h.store.RemoveParticipant(sessionID, userID, func(s model.Session) {
		if len(s.Participants) > 0 {
			h.broadcast(s.ID, "", protocol.UsersUpdate{ConnectedUsers: s.Participants})
		}
	})
	if err != nil {
		log.Warn("failed to remove participant", zap.Error(err))
		return
	}
	if snap.ID != "" {
		h.publishPresence(snap, userID, events.ActionLeft)
	}
}

func (h *Hub) readLoop(client *Client, log *zap.Logger) {
	conn := client.Conn()
	conn.SetReadLimit(h.opts.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			h.opts.Metrics.MessageDropped(dropBinary)
			continue
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			h.opts.Metrics.MessageDropped(dropDecode)
			log.Debug("dropping undecodable frame", zap.Error(err))
			continue
		}
		h.opts.Metrics.MessageReceived(string(msg.Kind()))

		if err := h.dispatch(client, msg); err != nil {
			if errors.Is(err, model.ErrSessionNotFound) {
				log.Warn("session vanished under connection", zap.Error(err))
				return
			}
			log.Warn("failed to apply message", zap.Error(err))
		}
	}
}

func (h *Hub) dispatch(client *Client, msg protocol.Message) error {
	sessionID, userID := client.SessionID(), client.UserID()

	switch m := msg.(type) {
	case protocol.ContentUpdate:
		if m.Content == "" {
			h.opts.Metrics.MessageDropped(dropEmpty)
			return nil
		}
		_, err := h.store.SetContent(sessionID, m.Content, func(s model.Session) {
			h.broadcast(s.ID, userID, protocol.ContentUpdate{Content: s.Content})
		})
		return err
	case protocol.LanguageUpdate:
		if m.Language == "" {
			h.opts.Metrics.MessageDropped(dropEmpty)
			return nil
		}
		_, err := h.store.SetLanguage(sessionID, m.Language, func(s model.Session) {
			h.broadcast(s.ID, "", protocol.LanguageUpdate{Language: s.Language})
		})
		return err
	case protocol.UsersUpdate:
		// The participant list is owned by the server.
		h.opts.Metrics.MessageDropped(dropUsersUpdate)
		return nil
	default:
		return fmt.Errorf("unhandled message type %T", msg)
	}
}

// ReplaceContent sets a session's content from outside any connection and
// sends it to every participant.
func (h *Hub) ReplaceContent(sessionID, content string) (model.Session, error) {
	return h.store.SetContent(sessionID, content, func(s model.Session) {
		h.broadcast(s.ID, "", protocol.ContentUpdate{Content: s.Content})
	})
}

// broadcast encodes msg once and queues it for every open connection of the
// session except excludeUserID. Connections still waiting for their snapshot
// are skipped. Peer failures are logged and never abort the fan-out.
func (h *Hub) broadcast(sessionID, excludeUserID string, msg protocol.Message) {
	h.record(sessionID, msg)

	data, err := protocol.Encode(msg)
	if err != nil {
		h.logger.Error("failed to encode broadcast", zap.String("session_id", sessionID), zap.Error(err))
		return
	}

	err = h.registry.ForEachExcept(sessionID, excludeUserID, func(c *Client) error {
		if c.State() == StateConnecting {
			return nil
		}
		return c.Send(data)
	})

	var fanout *FanoutError
	if errors.As(err, &fanout) {
		h.opts.Metrics.BroadcastFailed(len(fanout.Failed))
		h.logger.Warn("broadcast incomplete",
			zap.String("session_id", sessionID),
			zap.String("type", string(msg.Kind())),
			zap.Error(err))
	}
}

func (h *Hub) record(sessionID string, msg protocol.Message) {
	if h.opts.Recorder == nil {
		return
	}
	if err := h.opts.Recorder.Record(sessionID, msg); err != nil {
		h.logger.Debug("failed to record change", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (h *Hub) publishPresence(s model.Session, userID, action string) {
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()

	err := h.opts.Publisher.PublishPresence(ctx, events.PresenceEvent{
		SessionID:      s.ID,
		UserID:         userID,
		Action:         action,
		ConnectedUsers: s.Participants,
	})
	if err != nil {
		h.logger.Warn("failed to publish presence",
			zap.String("session_id", s.ID), zap.String("action", action), zap.Error(err))
	}
}

// handleEvict receives the final state of every session the store drops.
func (h *Hub) handleEvict(s model.Session) {
	h.opts.Metrics.SessionEvicted()
	endedAt := time.Now()
	log := h.logger.With(zap.String("session_id", s.ID))
	log.Info("session evicted", zap.Int("content_bytes", len(s.Content)))

	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()

	if h.opts.Archiver != nil {
		if err := h.opts.Archiver.Save(ctx, s, endedAt); err != nil {
			log.Error("failed to archive session", zap.Error(err))
		}
	}

	err := h.opts.Publisher.PublishSessionEnded(ctx, events.SessionEndedEvent{
		SessionID:    s.ID,
		Language:     s.Language,
		FinalContent: s.Content,
		LastModified: s.LastModified,
		EndedAt:      endedAt,
	})
	if err != nil {
		log.Warn("failed to publish session end", zap.Error(err))
	}

	if h.opts.Recorder != nil {
		if err := h.opts.Recorder.Close(s.ID); err != nil {
			log.Warn("failed to close recording", zap.Error(err))
		}
	}
}

// Close closes every connection. Each connection's Serve call then performs
// its normal teardown.
func (h *Hub) Close() {
	h.registry.CloseAll()
}

// writePump pumps queued frames to the WebSocket connection and keeps it
// alive with pings. It owns all writes to the connection.
func (h *Hub) writePump(client *Client) {
	conn := client.Conn()
	ticker := time.NewTicker(h.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		client.Close()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.SendChan():
			conn.SetWriteDeadline(time.Now().Add(h.opts.WriteWait))
			if !ok {
				// The client was closed.
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			// One frame per message so each frame is a complete JSON document.
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			n := len(client.SendChan())
			for i := 0; i < n; i++ {
				queued, ok := <-client.SendChan()
				if !ok {
					conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
				conn.SetWriteDeadline(time.Now().Add(h.opts.WriteWait))
				if err := conn.WriteMessage(websocket.TextMessage, queued); err != nil {
					return
				}
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(h.opts.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
