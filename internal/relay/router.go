package relay

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/peerline/chatrelay/internal/store"
)

// timestampLayout is the minute-resolution wall-clock stamp carried on chat
// frames. Ordering relies on store insertion order, never on this value.
const timestampLayout = "15:04"

// MessageStore is the durable log the router appends to and queries.
type MessageStore interface {
	Insert(rec store.Record) error
	QueryRecent(roomID string, limit int) ([]json.RawMessage, error)
}

// Router reads frames from a connection one at a time, classifies them and
// applies the persistence and delivery policy for each type.
//
// Store failures never terminate a connection: a failed persist is logged and
// the frame is still delivered, and a failed history query is logged and the
// reply skipped. Dropping durability beats dropping the participant.
type Router struct {
	registry     *Registry
	store        MessageStore
	log          *slog.Logger
	historyLimit int
	now          func() time.Time
}

func NewRouter(registry *Registry, messageStore MessageStore, log *slog.Logger, historyLimit int) *Router {
	return &Router{
		registry:     registry,
		store:        messageStore,
		log:          log,
		historyLimit: historyLimit,
		now:          time.Now,
	}
}

// Serve runs the connection loop for one participant until the connection
// closes or errors, then unregisters it exactly once. The caller's goroutine
// is the connection's task.
func (rt *Router) Serve(conn Conn, participantID, roomID string) {
	defer rt.registry.Release(conn, participantID, roomID)

	for {
		raw, err := conn.ReadFrame()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) && !isExpectedCloseError(err) {
				rt.log.Warn("connection read failed", "participant", participantID, "error", err)
			} else {
				rt.log.Debug("connection closed", "participant", participantID)
			}
			return
		}
		rt.HandleFrame(participantID, roomID, raw)
	}
}

// HandleFrame classifies one inbound frame and applies its policy. Unparseable
// input degrades to a legacy plain-text room message; it is never an error.
func (rt *Router) HandleFrame(participantID, roomID string, raw []byte) {
	var frame map[string]any
	if err := json.Unmarshal(raw, &frame); err != nil || frame == nil {
		rt.legacyText(participantID, roomID, raw)
		return
	}

	switch stringField(frame, "type") {
	case TypeGetHistory:
		room := stringField(frame, "room_id")
		if room == "" {
			room = roomID
		}
		rt.sendHistory(participantID, room)
	case TypePrivateChatRequest:
		rt.forwardInvitation(participantID, frame)
	case TypePrivateMessage:
		rt.privateMessage(participantID, frame)
	default:
		rt.roomChat(participantID, roomID, frame)
	}
}

// sendHistory replies with the recent messages of room, oldest first, to the
// requesting participant only.
func (rt *Router) sendHistory(participantID, room string) {
	messages, err := rt.store.QueryRecent(room, rt.historyLimit)
	if err != nil {
		rt.log.Warn("history query failed", "room", room, "error", err)
		return
	}
	payload, err := NewHistoryPayload(messages)
	if err != nil {
		rt.log.Error("marshaling history", "room", room, "error", err)
		return
	}
	rt.registry.SendTo(participantID, payload)
}

// forwardInvitation relays a private chat invitation to the stated recipient.
// Nothing is persisted.
func (rt *Router) forwardInvitation(participantID string, frame map[string]any) {
	payload, err := json.Marshal(invitationPayload{Type: TypeInvitation, FromUser: participantID})
	if err != nil {
		rt.log.Error("marshaling invitation", "error", err)
		return
	}
	rt.registry.SendTo(stringField(frame, "recipient_id"), payload)
}

// privateMessage stamps, persists and delivers a direct message to the
// recipient, with an echo back to the sender. Other room members never see it.
func (rt *Router) privateMessage(participantID string, frame map[string]any) {
	recipientID := stringField(frame, "recipient_id")
	message := privateMessagePayload{
		Type:        TypePrivateMessage,
		Text:        stringField(frame, "text"),
		UserID:      participantID,
		RecipientID: recipientID,
		Timestamp:   rt.now().Format(timestampLayout),
	}
	payload, err := json.Marshal(message)
	if err != nil {
		rt.log.Error("marshaling private message", "error", err)
		return
	}

	rt.persist(store.Record{
		ID:       uuid.New(),
		Kind:     store.KindPrivate,
		StoredAt: rt.now(),
		Payload:  payload,
	})

	rt.registry.SendTo(recipientID, payload)
	rt.registry.SendTo(participantID, payload)
}

// roomChat handles the default case: any structured frame without a recognized
// type. Sender, room and timestamp are injected, the frame is persisted when
// it names no recipient, and it is broadcast to the whole room either way.
// A frame that carries a recipient but no recognized type still goes to the
// room; private routing happens only through the private_message type.
func (rt *Router) roomChat(participantID, roomID string, frame map[string]any) {
	frame["user_id"] = participantID
	frame["room_id"] = roomID
	frame["timestamp"] = rt.now().Format(timestampLayout)

	payload, err := json.Marshal(frame)
	if err != nil {
		rt.log.Error("marshaling room chat frame", "room", roomID, "error", err)
		return
	}

	if stringField(frame, "recipient_id") == "" {
		rt.persist(store.Record{
			ID:       uuid.New(),
			Kind:     store.KindPublic,
			RoomID:   roomID,
			StoredAt: rt.now(),
			Payload:  payload,
		})
	}
	rt.registry.BroadcastToRoom(roomID, payload)
}

// legacyText wraps a non-JSON frame as a plain-text room message.
func (rt *Router) legacyText(participantID, roomID string, raw []byte) {
	rt.roomChat(participantID, roomID, map[string]any{"text": string(raw)})
}

func (rt *Router) persist(rec store.Record) {
	if err := rt.store.Insert(rec); err != nil {
		rt.log.Warn("persisting message failed, continuing without durability",
			"kind", rec.Kind, "room", rec.RoomID, "error", err)
	}
}
