package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"messenger-service/internal/auth"
	"messenger-service/internal/models"
	"messenger-service/internal/observability"
	"messenger-service/internal/realtime"
)

// Handler owns the websocket endpoint: handshake authentication, registry
// registration, presence events and the per-connection event loop.
type Handler struct {
	registry *realtime.Registry
	rooms    *realtime.Rooms
	engine   *realtime.Engine
	receipts *realtime.Receipts
	verifier *auth.Verifier
}

// NewHandler constructs a Handler.
func NewHandler(registry *realtime.Registry, rooms *realtime.Rooms, engine *realtime.Engine, receipts *realtime.Receipts, verifier *auth.Verifier) *Handler {
	return &Handler{
		registry: registry,
		rooms:    rooms,
		engine:   engine,
		receipts: receipts,
		verifier: verifier,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates the handshake, upgrades the connection and starts the
// event loop. Identity is bound before any event is accepted.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("messenger-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := c.GetHeader("Authorization")
	if token == "" {
		token = c.Query("token")
		if token != "" {
			token = "Bearer " + token
		}
	}

	userID, err := h.validateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}

	sess := newSession(conn)
	h.registry.Register(userID, sess)

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	h.publishConnEvent(ctx, info, "ws_connect", "")

	// The snapshot includes the user themselves; that matches what the
	// client renders as "online now".
	_ = sess.Send(models.ServerEvent{Type: models.EventOnlineUsers, UserIDs: h.registry.Snapshot()})
	h.broadcastPresence(models.EventUserOnline, userID, sess)

	logrus.WithFields(logrus.Fields{
		"user_id": userID,
		"conn_id": info.ConnID,
	}).Info("user connected")

	// The request context is canceled as soon as Handle returns; the loop
	// needs a context that lives as long as the connection, still carrying
	// the handshake's trace.
	loopCtx := trace.ContextWithSpanContext(context.Background(), span.SpanContext())
	go h.readLoop(loopCtx, conn, sess, info)
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, sess *session, info ConnInfo) {
	var closeReason string
	defer func() {
		conn.Close()

		// Only tear down routing state if this connection still owns the
		// registry entry; a superseded connection must not evict its
		// replacement.
		if current, ok := h.registry.Lookup(info.UserID); ok && current == realtime.Session(sess) {
			h.registry.Unregister(info.UserID)
			h.rooms.Leave(info.UserID)
			h.broadcastPresence(models.EventUserOffline, info.UserID, nil)
		}

		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")
		h.publishConnEvent(ctx, info, "ws_disconnect", closeReason)

		logrus.WithFields(logrus.Fields{
			"user_id": info.UserID,
			"conn_id": info.ConnID,
		}).Info("user disconnected")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
			}
			return
		}

		var event models.ClientEvent
		if err := json.Unmarshal(data, &event); err != nil {
			_ = sess.Send(models.NewErrorEvent("malformed event payload"))
			continue
		}

		// Events are handled to completion one at a time per connection.
		h.dispatch(ctx, info.UserID, sess, event)
	}
}

// dispatch routes one inbound event. Failures are reported to this connection
// only and never end the loop.
func (h *Handler) dispatch(ctx context.Context, userID int, sess realtime.Session, event models.ClientEvent) {
	observability.IncWSEvent(event.Type)

	switch event.Type {
	case models.EventJoinRooms:
		if _, err := h.rooms.Admit(ctx, userID, event.ConversationIDs); err != nil {
			h.reportError(sess, userID, err)
		}
	case models.EventSendMessage:
		if _, err := h.engine.Send(ctx, userID, event.ConversationID, event.Content); err != nil {
			h.reportError(sess, userID, err)
		}
	case models.EventEditMessage:
		if _, err := h.engine.Edit(ctx, userID, event.MessageID, event.NewContent); err != nil {
			h.reportError(sess, userID, err)
		}
	case models.EventDeleteMessage:
		if _, err := h.engine.Delete(ctx, userID, event.MessageID); err != nil {
			h.reportError(sess, userID, err)
		}
	case models.EventMarkAsRead, models.EventMarkMessagesAsRead:
		if err := h.receipts.MarkRead(ctx, userID, event.ConversationID); err != nil {
			h.reportError(sess, userID, err)
		}
	case models.EventGetUnreadCount:
		count, err := h.receipts.UnreadCount(ctx, userID)
		if err != nil {
			h.reportError(sess, userID, err)
			return
		}
		_ = sess.Send(models.ServerEvent{Type: models.EventUnreadCount, Count: &count})
	default:
		_ = sess.Send(models.NewErrorEvent(fmt.Sprintf("unknown event type %q", event.Type)))
	}
}

func (h *Handler) reportError(sess realtime.Session, userID int, err error) {
	if !realtime.IsClientError(err) {
		logrus.WithField("user_id", userID).WithError(err).Error("event handling failed")
	}
	_ = sess.Send(models.NewErrorEvent(realtime.ClientMessage(err)))
}

// broadcastPresence notifies every reachable user, minus skip, of a presence
// change.
func (h *Handler) broadcastPresence(eventType string, userID int, skip realtime.Session) {
	for _, id := range h.registry.Snapshot() {
		sess, ok := h.registry.Lookup(id)
		if !ok || sess == skip {
			continue
		}
		_ = sess.Send(models.ServerEvent{Type: eventType, UserID: userID})
	}
}

func (h *Handler) publishConnEvent(ctx context.Context, info ConnInfo, name, reason string) {
	_ = observability.PublishEvent(ctx, "ws_events.messenger", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: name,
		Payload: map[string]any{
			"ws": map[string]any{
				"event":       name,
				"conn_id":     info.ConnID,
				"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
				"reason":      reason,
			},
			"identity": map[string]any{
				"user_id":   info.UserID,
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}

func (h *Handler) validateToken(header string) (int, error) {
	parts := strings.Split(header, " ")
	if len(parts) == 2 {
		return h.verifier.UserID(parts[1])
	}
	return 0, fmt.Errorf("invalid token")
}
