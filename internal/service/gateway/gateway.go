package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"veilchat/internal/auth"
	"veilchat/internal/cryptographic/codec"
	"veilchat/internal/ledger"
	"veilchat/internal/model"
	"veilchat/internal/session"
	"veilchat/internal/transparency"
	"veilchat/internal/utils/log"
)

type (
	// EnvelopeStore is the persistent ciphertext-only message store.
	EnvelopeStore interface {
		Append(ctx context.Context, env *model.Envelope) error
		Get(ctx context.Context, msgID string) (*model.Envelope, error)
		MarkEdited(ctx context.Context, msgID string, cipher, nonce []byte) error
		MarkDeleted(ctx context.Context, msgID string) error
		MarkHidden(ctx context.Context, msgID, deviceID string) error
		SweepExpired(ctx context.Context, now time.Time) (int64, error)
	}

	// AckStore records delivery/read confirmations.
	AckStore interface {
		Record(ctx context.Context, rec *model.AckRecord) error
	}

	// DeviceDirectory resolves device identities; backed externally.
	DeviceDirectory interface {
		GetDeviceIdentity(ctx context.Context, deviceID string) (*model.DeviceIdentity, error)
	}

	// OfflineQueue buffers frames for users with no live connection.
	OfflineQueue interface {
		Push(ctx context.Context, userID string, frame *model.Frame) error
		Drain(ctx context.Context, userID string) ([]*model.Frame, error)
	}

	// Options are the protocol tunables.
	Options struct {
		EditWindow        time.Duration
		IdempotencyWindow time.Duration
		SendBuffer        int
		SweepInterval     time.Duration
	}

	// Gateway owns the connection registry, room membership sets, and the
	// message/ack/edit/delete/presence state machine.
	Gateway struct {
		opts Options

		verifier   auth.CredentialVerifier
		membership auth.Membership
		devices    DeviceDirectory
		envelopes  EnvelopeStore
		acks       AckStore
		offline    OfflineQueue
		dedupe     ledger.Ledger
		sessions   *session.Manager
		tlog       *transparency.Log
		guard      *codec.NonceGuard

		// serverPriv/serverPub is the gateway's X25519 identity; the shared
		// secret with each device derives that device's session keys.
		serverPriv [32]byte
		serverPub  [32]byte

		mu      sync.RWMutex
		clients map[string]*Client            // conn id -> client
		rooms   map[string]map[string]*Client // room id -> conn id -> client
		byUser  map[string]map[string]*Client // user id -> conn id -> client

		now func() time.Time
	}
)

func defaultOptions(o Options) Options {
	if o.EditWindow == 0 {
		o.EditWindow = 15 * time.Minute
	}
	if o.IdempotencyWindow == 0 {
		o.IdempotencyWindow = ledger.DefaultWindow
	}
	if o.SendBuffer == 0 {
		o.SendBuffer = 256
	}
	if o.SweepInterval == 0 {
		o.SweepInterval = time.Minute
	}
	return o
}

func NewGateway(
	opts Options,
	verifier auth.CredentialVerifier,
	membership auth.Membership,
	devices DeviceDirectory,
	envelopes EnvelopeStore,
	acks AckStore,
	offline OfflineQueue,
	dedupe ledger.Ledger,
	sessions *session.Manager,
	tlog *transparency.Log,
	serverPriv, serverPub [32]byte,
	now func() time.Time,
) *Gateway {
	if now == nil {
		now = time.Now
	}
	return &Gateway{
		opts:       defaultOptions(opts),
		verifier:   verifier,
		membership: membership,
		devices:    devices,
		envelopes:  envelopes,
		acks:       acks,
		offline:    offline,
		dedupe:     dedupe,
		sessions:   sessions,
		tlog:       tlog,
		guard:      codec.NewNonceGuard(),
		serverPriv: serverPriv,
		serverPub:  serverPub,
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
		byUser:     make(map[string]map[string]*Client),
		now:        now,
	}
}

// Register mounts the WS init route on the router.
func (g *Gateway) Register(r *mux.Router) {
	r.HandleFunc("/init", g.HandleInitWS()).Methods(http.MethodGet)
}

func (g *Gateway) HandleInitWS() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true // Allow all origins
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			http.Error(w, "missing bearer credential", http.StatusUnauthorized)
			return
		}

		principal, err := g.verifier.Verify(r.Context(), token)
		if err != nil {
			log.Warn("credential verification failed", zap.Error(err))
			http.Error(w, "invalid bearer credential", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, "Failed to upgrade", http.StatusInternalServerError)
			return
		}

		client := newClient(uuid.NewString(), principal.DeviceID, principal.UserID, conn, g.opts.SendBuffer)
		g.register(client)

		log.Info("connection authenticated",
			zap.String("conn_id", client.ConnID),
			zap.String("device_id", client.DeviceID),
			zap.String("user_id", client.UserID))

		go client.writePump()
		go g.readPump(client)

		g.flushOffline(client)
	}
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	// Browser WebSocket clients cannot set headers on the upgrade request.
	return r.URL.Query().Get("token")
}

func (g *Gateway) register(c *Client) {
	g.mu.Lock()
	g.clients[c.ConnID] = c
	if g.byUser[c.UserID] == nil {
		g.byUser[c.UserID] = make(map[string]*Client)
	}
	g.byUser[c.UserID][c.ConnID] = c
	g.mu.Unlock()
}

// unregister removes the connection everywhere and garbage-collects any
// room set it emptied.
func (g *Gateway) unregister(c *Client) {
	g.mu.Lock()
	delete(g.clients, c.ConnID)
	if conns, ok := g.byUser[c.UserID]; ok {
		delete(conns, c.ConnID)
		if len(conns) == 0 {
			delete(g.byUser, c.UserID)
		}
	}
	for roomID, members := range g.rooms {
		delete(members, c.ConnID)
		if len(members) == 0 {
			delete(g.rooms, roomID)
		}
	}
	g.mu.Unlock()
}

func (g *Gateway) readPump(c *Client) {
	defer func() {
		rooms := c.joinedRooms()
		g.unregister(c)
		c.shutdown()
		for _, roomID := range rooms {
			g.broadcast(roomID, &model.Frame{
				Type:     model.FramePresence,
				ConvID:   roomID,
				Presence: model.PresenceOffline,
				DeviceID: c.DeviceID,
			}, c.ConnID)
		}
		log.Info("connection closed", zap.String("conn_id", c.ConnID), zap.String("device_id", c.DeviceID))
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			log.Debug("read pump finished", zap.String("conn_id", c.ConnID), zap.Error(err))
			return
		}

		var frame model.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			g.sendError(c, model.NewError(model.KindProtocolViolation, "malformed frame"), "")
			continue
		}

		if !g.handleFrame(c, &frame) {
			return
		}
	}
}

// handleFrame dispatches one inbound frame. Returns false when the
// connection must terminate.
func (g *Gateway) handleFrame(c *Client, f *model.Frame) bool {
	ctx := context.Background()

	switch f.Type {
	case model.FrameJoin:
		return g.handleJoin(ctx, c, f)
	case model.FrameLeave:
		return g.handleLeave(c, f)
	case model.FrameMessage:
		return g.handleMessage(ctx, c, f)
	case model.FrameAck:
		return g.handleAck(ctx, c, f)
	case model.FrameEdit:
		return g.handleEdit(ctx, c, f)
	case model.FrameDelete:
		return g.handleDelete(ctx, c, f)
	default:
		g.sendError(c, model.NewError(model.KindProtocolViolation, "unknown frame type "+f.Type), f.MsgID)
		return true
	}
}

// broadcast fans a frame out to every room member except the excluded
// connection. Members that cannot drain their send buffer are dropped
// instead of blocking the room.
func (g *Gateway) broadcast(roomID string, f *model.Frame, excludeConnID string) {
	g.mu.RLock()
	members := make([]*Client, 0, len(g.rooms[roomID]))
	for connID, member := range g.rooms[roomID] {
		if connID != excludeConnID {
			members = append(members, member)
		}
	}
	g.mu.RUnlock()

	for _, member := range members {
		if !member.enqueue(f) {
			log.Warn("dropping slow connection",
				zap.String("conn_id", member.ConnID),
				zap.String("room_id", roomID))
			g.unregister(member)
			member.shutdown()
		}
	}
}

// sendToUser delivers a frame to every live connection of a user, queuing
// it offline when none exists.
func (g *Gateway) sendToUser(ctx context.Context, userID string, f *model.Frame, excludeConnID string) {
	g.mu.RLock()
	conns := make([]*Client, 0, len(g.byUser[userID]))
	for connID, cl := range g.byUser[userID] {
		if connID != excludeConnID {
			conns = append(conns, cl)
		}
	}
	g.mu.RUnlock()

	if len(conns) == 0 && g.offline != nil {
		if err := g.offline.Push(ctx, userID, f); err != nil {
			log.Error("offline queue push failed", zap.String("user_id", userID), zap.Error(err))
		}
		return
	}
	for _, cl := range conns {
		if !cl.enqueue(f) {
			g.unregister(cl)
			cl.shutdown()
		}
	}
}

func (g *Gateway) flushOffline(c *Client) {
	if g.offline == nil {
		return
	}
	frames, err := g.offline.Drain(context.Background(), c.UserID)
	if err != nil {
		log.Error("offline queue drain failed", zap.String("user_id", c.UserID), zap.Error(err))
		return
	}
	for _, f := range frames {
		if !c.enqueue(f) {
			return
		}
	}
}

// releaseDedupe drops a message id reservation after a transient failure
// left nothing stored behind it.
func (g *Gateway) releaseDedupe(ctx context.Context, msgID string) {
	if err := g.dedupe.Forget(ctx, msgID); err != nil {
		log.Error("release dedupe entry failed", zap.String("msg_id", msgID), zap.Error(err))
	}
}

func (g *Gateway) sendError(c *Client, err error, msgID string) {
	kind := model.KindOf(err)
	reason := err.Error()
	var me *model.Error
	if errors.As(err, &me) {
		reason = me.Reason
	}
	c.enqueue(&model.Frame{
		Type:   model.FrameError,
		Kind:   string(kind),
		Reason: reason,
		MsgID:  msgID,
	})
}

// RunSweeper purges TTL-expired envelopes until ctx is done.
func (g *Gateway) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(g.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := g.envelopes.SweepExpired(ctx, g.now())
			if err != nil {
				log.Error("ttl sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Info("ttl sweep purged envelopes", zap.Int64("count", n))
			}
		}
	}
}

// ConnectionCount is lock-cheap and used by the health endpoint.
func (g *Gateway) ConnectionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients)
}
