// Package gateway owns the realtime side of the notification core: it
// routes inbound envelopes from connections and fans payloads out to the
// rooms the directory derives from announced identities.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/o-farouk/stockwire/internal/notify"
	"github.com/o-farouk/stockwire/internal/rooms"
	"github.com/tidwall/gjson"
)

type Gateway struct {
	logger *slog.Logger
	dir    *rooms.Directory
}

func New(logger *slog.Logger, dir *rooms.Directory) *Gateway {
	return &Gateway{
		logger: logger.With(slog.String("component", "gateway")),
		dir:    dir,
	}
}

// Directory exposes the room directory for registration wiring.
func (g *Gateway) Directory() *rooms.Directory {
	return g.dir
}

// HandleMessage is the transport message callback.
func (g *Gateway) HandleMessage(ctx context.Context, connID uuid.UUID, msg []byte) {
	var env notify.Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		g.logger.Warn("Failed to unmarshal client envelope", "connID", connID, "error", err)
		return
	}

	switch env.Event {
	case notify.EventJoin:
		g.handleJoin(connID, env.Payload)
	case notify.EventBroadcast:
		g.handleBroadcast(connID, env.Payload)
	default:
		g.logger.Warn("Received unknown event", "event", env.Event, "connID", connID)
	}
}

func (g *Gateway) handleJoin(connID uuid.UUID, payload json.RawMessage) {
	var id notify.Identity
	if err := json.Unmarshal(payload, &id); err != nil {
		g.logger.Warn("Malformed join-user payload", "connID", connID, "error", err)
		return
	}
	if id.Role != "" && !notify.KnownRole(id.Role) {
		g.logger.Warn("Connection announced unknown role", "connID", connID, "role", id.Role)
	}

	userRoom, roleRoom, err := g.dir.Announce(connID, id.UserID, id.Role)
	if err != nil {
		g.logger.Warn("Announce failed", "connID", connID, "error", err)
		return
	}

	ack, err := notify.Frame(notify.EventJoinedRooms, notify.JoinedRooms{
		UserRoom: userRoom,
		RoleRoom: roleRoom,
	})
	if err != nil {
		g.logger.Error("Failed to marshal joined-rooms ack", "error", err)
		return
	}
	for _, s := range g.dir.Members(userRoom) {
		if s.ID() == connID {
			s.Send(ack)
			break
		}
	}
	g.logger.Info("Identity announced",
		slog.String("connID", connID.String()),
		slog.String("userID", id.UserID),
		slog.String("role", id.Role),
	)
}

func (g *Gateway) handleBroadcast(connID uuid.UUID, payload json.RawMessage) {
	var req notify.BroadcastRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		g.logger.Warn("Malformed broadcast-notification payload", "connID", connID, "error", err)
		return
	}
	g.Broadcast(req)
}

// Broadcast fans the notification out to every audience clause of the
// request. Clauses are evaluated independently and in order (role, users,
// global); a connection matching more than one clause receives the payload
// once per matching clause. A request with no clause set reaches no one and
// is deliberately not an error. Emission only enqueues outbound frames, so
// it is safe to call from any number of request handlers concurrently.
func (g *Gateway) Broadcast(req notify.BroadcastRequest) {
	if req.Empty() {
		g.logger.Debug("Broadcast request addresses no audience; dropping")
		return
	}

	frame, err := json.Marshal(notify.Envelope{
		Event:   notify.EventNotification,
		Payload: req.Notification,
	})
	if err != nil {
		g.logger.Error("Failed to marshal notification frame", "error", err)
		return
	}

	delivered := 0
	if req.TargetRole != "" {
		delivered += emit(g.dir.Members(rooms.RoleRoom(req.TargetRole)), frame)
	}
	if len(req.TargetUsers) > 0 {
		for _, userID := range req.TargetUsers {
			delivered += emit(g.dir.Members(rooms.UserRoom(userID)), frame)
		}
	}
	if req.Type == notify.TypeGlobal {
		delivered += emit(g.dir.All(), frame)
	}

	g.logger.Debug("Broadcast dispatched",
		slog.String("message", gjson.GetBytes(req.Notification, "message").String()),
		slog.String("targetRole", req.TargetRole),
		slog.Int("targetUsers", len(req.TargetUsers)),
		slog.Bool("global", req.Type == notify.TypeGlobal),
		slog.Int("deliveries", delivered),
	)
}

func emit(sinks []rooms.Sink, frame []byte) int {
	for _, s := range sinks {
		s.Send(frame)
	}
	return len(sinks)
}
