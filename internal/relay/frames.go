// Package relay implements the connection/room registry and the per-connection
// message routing that make up the core of the chat relay.
package relay

import "encoding/json"

// Inbound frame types. Anything else, including unparseable input, is treated
// as room chat.
const (
	TypeGetHistory         = "get_history"
	TypePrivateChatRequest = "private_chat_request"
	TypePrivateMessage     = "private_message"
)

// Outbound frame types.
const (
	TypeUserList   = "user_list"
	TypeInvitation = "private_chat_invitation"
	TypeHistory    = "history"
)

type userListPayload struct {
	Type  string   `json:"type"`
	Users []string `json:"users"`
}

type invitationPayload struct {
	Type     string `json:"type"`
	FromUser string `json:"from_user"`
}

type privateMessagePayload struct {
	Type        string `json:"type"`
	Text        string `json:"text"`
	UserID      string `json:"user_id"`
	RecipientID string `json:"recipient_id"`
	Timestamp   string `json:"timestamp"`
}

type historyPayload struct {
	Type     string            `json:"type"`
	Messages []json.RawMessage `json:"messages"`
}

// NewHistoryPayload wraps persisted records in the history frame shape shared
// by the WebSocket reply and the REST endpoint. Messages is never null.
func NewHistoryPayload(messages []json.RawMessage) ([]byte, error) {
	if messages == nil {
		messages = []json.RawMessage{}
	}
	return json.Marshal(historyPayload{Type: TypeHistory, Messages: messages})
}

// stringField extracts a string-valued field from a decoded frame. Missing and
// non-string values both read as absent.
func stringField(frame map[string]any, key string) string {
	value, _ := frame[key].(string)
	return value
}
