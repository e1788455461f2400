// Package router manages the WebSocket connections of all online identities
// and routes chat messages and typing notices between them, queueing chat
// messages for identities that are offline.
package router

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parley-im/parley/internal/metrics"
	"github.com/parley-im/parley/internal/session"
	"github.com/parley-im/parley/pkg/protocol"
)

// makeUpgrader creates a WebSocket upgrader with origin checking.
func makeUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser clients
			}
			return originSet[origin]
		},
	}
}

// Router owns the presence registry and the offline queue and implements the
// per-connection lifecycle: authenticate, bind presence, drain the backlog,
// then pump inbound frames until disconnect.
type Router struct {
	sessions *session.Store
	logger   *slog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	maxMessageSize int64
	pingInterval   time.Duration
	pongWait       time.Duration

	// routeMu serializes every compound operation over presence and queue:
	// check-presence-then-deliver-or-enqueue, bind-then-drain, and rename.
	// Holding one coarse lock across the presence check and the fallback
	// enqueue is what keeps a vanishing connection from losing messages.
	routeMu  sync.Mutex
	presence *Registry
	queue    *OfflineQueue
}

// Options configures the Router.
type Options struct {
	AllowedOrigins  []string // for WebSocket origin check
	MaxMessageBytes int64    // max WebSocket message size from clients (default 64KB)
	PingInterval    time.Duration
	PongWait        time.Duration
}

// New creates a new Router.
func New(sessions *session.Store, logger *slog.Logger, m *metrics.Metrics, opts Options) *Router {
	msgLimit := opts.MaxMessageBytes
	if msgLimit == 0 {
		msgLimit = 64 * 1024 // 64KB default
	}
	pingInterval := opts.PingInterval
	if pingInterval == 0 {
		pingInterval = 30 * time.Second
	}
	pongWait := opts.PongWait
	if pongWait == 0 {
		pongWait = 60 * time.Second
	}

	return &Router{
		sessions:       sessions,
		logger:         logger.With("component", "router"),
		metrics:        m,
		upgrader:       makeUpgrader(opts.AllowedOrigins),
		maxMessageSize: msgLimit,
		pingInterval:   pingInterval,
		pongWait:       pongWait,
		presence:       NewRegistry(),
		queue:          NewOfflineQueue(),
	}
}

// RegisterIdentity creates an empty offline queue for a newly registered
// identity. Must be called before any message may target it.
func (r *Router) RegisterIdentity(identity string) {
	r.routeMu.Lock()
	r.queue.Register(identity)
	r.routeMu.Unlock()
}

// Rename atomically moves the offline queue, the presence entry and the live
// connection's bound identity from oldIdentity to newIdentity. No routing or
// presence lookup can observe a half-migrated state.
func (r *Router) Rename(oldIdentity, newIdentity string) error {
	r.routeMu.Lock()
	defer r.routeMu.Unlock()

	if err := r.queue.Rename(oldIdentity, newIdentity); err != nil {
		return err
	}
	if c := r.presence.Rename(oldIdentity, newIdentity); c != nil {
		c.setName(newIdentity)
	}
	return nil
}

// OnlineIdentities returns the set of identities with a live connection.
func (r *Router) OnlineIdentities() map[string]bool {
	r.routeMu.Lock()
	defer r.routeMu.Unlock()
	return r.presence.Online()
}

// RouteChat delivers a chat message to recipient if online, and queues it
// otherwise. A direct-delivery failure falls back to the queue and unbinds
// the stale presence entry so subsequent routing treats the identity as
// offline. Returns ErrUnknownRecipient if recipient was never registered.
func (r *Router) RouteChat(sender, recipient, text string) error {
	frame := protocol.ChatFrame(sender, recipient, text)

	r.routeMu.Lock()
	defer r.routeMu.Unlock()

	if !r.queue.Known(recipient) {
		return ErrUnknownRecipient
	}

	if c := r.presence.Lookup(recipient); c != nil {
		if err := c.Send(frame); err == nil {
			r.metrics.MessagesRouted.WithLabelValues("live").Inc()
			return nil
		}
		// The connection looked live but the write failed. Unbind it so it
		// stops shadowing the identity, and fall through to the queue.
		r.logger.Warn("live delivery failed, queueing", "recipient", recipient)
		r.presence.Unbind(recipient, c)
		r.metrics.ConnectedClients.Dec()
		_ = c.Close()
	}

	if err := r.queue.Enqueue(recipient, frame); err != nil {
		return err
	}
	r.metrics.MessagesRouted.WithLabelValues("queued").Inc()
	return nil
}

// RouteTyping delivers a typing notice to recipient if online; otherwise the
// notice is silently discarded. Best-effort only: never queued, no error.
func (r *Router) RouteTyping(sender, recipient string) {
	r.routeMu.Lock()
	defer r.routeMu.Unlock()

	c := r.presence.Lookup(recipient)
	if c == nil {
		r.metrics.TypingDropped.Inc()
		return
	}
	_ = c.Send(protocol.TypingFrame(sender))
}

// HandleWS handles a client WebSocket connection for its whole lifetime.
//
// The session token comes from the ?token= query parameter. An unknown or
// missing token fails closed before the upgrade, with no frames exchanged.
func (r *Router) HandleWS(w http.ResponseWriter, req *http.Request) {
	identity, ok := r.sessions.Resolve(req.URL.Query().Get("token"))
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(r.maxMessageSize)

	client := newClient(identity, conn)
	if !r.activate(client) {
		return
	}

	r.logger.Info("client connected", "identity", identity)

	cancelKeepalive := startWSKeepalive(conn, &client.mu, r.pingInterval, r.pongWait)

	defer func() {
		cancelKeepalive()
		r.routeMu.Lock()
		removed := r.presence.Unbind(client.Name(), client)
		r.routeMu.Unlock()
		if removed {
			r.metrics.ConnectedClients.Dec()
		}
		r.logger.Info("client disconnected", "identity", client.Name())
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			r.logger.Debug("client read error", "identity", client.Name(), "error", err)
			return
		}

		var frame protocol.Frame
		if err := json.Unmarshal(msg, &frame); err != nil {
			r.logger.Warn("invalid frame from client", "identity", client.Name(), "error", err)
			continue
		}

		r.dispatch(client, frame)
	}
}

// activate publishes the connection into the presence registry and flushes
// the identity's backlog into it, in original enqueue order, before the first
// inbound frame is read. Returns false if the connection died mid-flush; the
// undelivered remainder is put back at the front of the queue.
func (r *Router) activate(client *Client) bool {
	identity := client.Name()

	r.routeMu.Lock()
	superseded := r.presence.Bind(identity, client)
	backlog := r.queue.Drain(identity)
	for i, f := range backlog {
		if err := client.Send(f); err != nil {
			r.queue.Requeue(identity, backlog[i:])
			r.presence.Unbind(identity, client)
			r.routeMu.Unlock()
			if superseded != nil {
				_ = superseded.Close()
				r.metrics.ConnectedClients.Dec()
			}
			r.logger.Warn("backlog delivery failed", "identity", identity, "requeued", len(backlog)-i)
			return false
		}
	}
	r.routeMu.Unlock()

	if superseded != nil {
		// Last bind wins: actively close the replaced connection so its read
		// loop terminates instead of leaking.
		r.logger.Warn("superseding existing connection", "identity", identity)
		_ = superseded.Close()
	} else {
		r.metrics.ConnectedClients.Inc()
	}
	if len(backlog) > 0 {
		r.metrics.BacklogDelivered.Add(float64(len(backlog)))
		r.logger.Info("delivered backlog", "identity", identity, "count", len(backlog))
	}
	return true
}

// dispatch routes one inbound frame by its declared kind. Malformed or
// unknown frames are ignored; the connection stays open.
func (r *Router) dispatch(client *Client, frame protocol.Frame) {
	switch frame.Type {
	case protocol.TypeChat:
		if frame.To == "" {
			return
		}
		if err := r.RouteChat(client.Name(), frame.To, frame.Text); err != nil {
			// Surface the failure to the sender; their session stays open.
			_ = client.Send(protocol.UnknownRecipientFrame(frame.To))
		}
	case protocol.TypeTyping:
		if frame.To == "" {
			return
		}
		r.RouteTyping(client.Name(), frame.To)
	default:
		r.logger.Debug("ignoring unknown frame type", "type", frame.Type, "identity", client.Name())
	}
}
