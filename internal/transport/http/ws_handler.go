package http

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"mathquest-engine/internal/app"
	"mathquest-engine/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	commandTimeout = 10 * time.Second
)

// Services are the engine use cases reachable from the gateway.
type Services struct {
	Timers      *app.TimerService
	Scheduler   *app.TimerScheduler
	Join        *app.JoinService
	Tracker     *app.DeferredTracker
	Leaderboard *app.LeaderboardService
	Practice    *app.PracticeService
}

type WSHandler struct {
	services Services
	hub      *Hub
	events   *Broadcaster
	tables   map[Role]map[string]commandFunc
	upgrader websocket.Upgrader
}

// NewWSHandler builds the gateway. An empty allowedOrigins list accepts any origin.
func NewWSHandler(services Services, hub *Hub, events *Broadcaster, allowedOrigins []string) *WSHandler {
	h := &WSHandler{
		services: services,
		hub:      hub,
		events:   events,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
	}
	h.tables = h.commandTables()
	return h
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(r *http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
	Command string `json:"command,omitempty"`
}

// connection is the per-socket state. Commands of one connection run one at a
// time on its read loop, so the fields need no locking.
type connection struct {
	role       Role
	accessCode string
	userID     string
	name       string
	client     *client

	joined   bool
	deferred bool
	attempt  int
}

func (c *connection) timerScope() domain.TimerScope {
	if c.deferred {
		return domain.TimerScope{AccessCode: c.accessCode, UserID: c.userID, AttemptCount: c.attempt}
	}
	return domain.LiveScope(c.accessCode)
}

// reply sends an event to this connection only.
func (c *connection) reply(typ string, payload any) {
	msg, err := json.Marshal(domain.Event{Type: typ, Payload: payload})
	if err != nil {
		log.Error().Err(err).Str("event", typ).Msg("encode reply failed")
		return
	}
	c.client.enqueue(msg)
}

// ServeWS upgrades HTTP requests to websockets and dispatches inbound commands by role.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	conn := &connection{
		role:       Role(q.Get("role")),
		accessCode: q.Get("accessCode"),
		userID:     q.Get("userId"),
		name:       q.Get("name"),
	}
	table, ok := h.tables[conn.role]
	if !ok {
		http.Error(w, "unknown role", http.StatusBadRequest)
		return
	}
	if conn.role != RolePractice && conn.accessCode == "" {
		http.Error(w, "missing accessCode", http.StatusBadRequest)
		return
	}
	if (conn.role == RoleStudent || conn.role == RolePractice) && conn.userID == "" {
		http.Error(w, "missing userId", http.StatusBadRequest)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer ws.Close()

	conn.client = newClient(uuid.NewString())
	writerDone := make(chan struct{})
	go h.writeLoop(ws, conn.client, writerDone)

	switch conn.role {
	case RoleTeacher:
		h.hub.join(domain.GameRoom(conn.accessCode), conn.client)
	case RoleProjector:
		h.hub.join(domain.ProjectionRoom(conn.accessCode), conn.client)
	}

	logger := log.With().Str("role", string(conn.role)).Str("access_code", conn.accessCode).Str("user_id", conn.userID).Logger()
	logger.Debug().Msg("ws connected")

	// Commands outlive a dropped socket so half-applied writes are not cancelled.
	base := context.WithoutCancel(r.Context())
	for {
		var inbound inboundMessage
		if err := ws.ReadJSON(&inbound); err != nil {
			break
		}
		cmd, ok := table[inbound.Type]
		if !ok {
			conn.reply(domain.EventError, errorPayload{Message: "unsupported message type", Command: inbound.Type})
			continue
		}
		ctx, cancel := context.WithTimeout(base, commandTimeout)
		err := cmd(ctx, conn, inbound.Payload)
		cancel()
		if err != nil {
			if !domain.IsTerminal(err) {
				logger.Error().Err(err).Str("command", inbound.Type).Msg("command failed")
			}
			conn.reply(domain.EventError, errorPayload{Message: errorMessage(err), Command: inbound.Type})
		}
	}

	rooms := h.hub.leaveAll(conn.client)
	conn.client.close()
	<-writerDone

	players := domain.PlayersRoom(conn.accessCode)
	if slices.Contains(rooms, players) {
		h.events.ConnectedCount(base, conn.accessCode, h.hub.Count(players))
	}
	logger.Debug().Msg("ws disconnected")
}

func (h *WSHandler) writeLoop(ws *websocket.Conn, c *client, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case msg := <-c.send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Warn().Err(err).Str("client", c.id).Msg("ws write error")
				c.close()
				// Unblock the read loop so the connection is torn down.
				ws.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// errorMessage keeps terminal messages and hides everything else.
func errorMessage(err error) string {
	if domain.IsTerminal(err) {
		return err.Error()
	}
	return "Internal server error"
}
