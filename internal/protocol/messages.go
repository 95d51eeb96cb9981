// Package protocol defines the JSON frames exchanged with the groupware chat
// backend over the room websocket, plus the room summaries consumed by the
// unread notifier. Every frame is a single UTF-8 JSON object.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ---------------------------------------------------------------------------
// Identifiers
// ---------------------------------------------------------------------------

// ID is a room or message identifier. The backend emits identifiers either as
// JSON numbers or strings; both decode to the same ID. IDs always encode as
// JSON strings.
type ID string

// UnmarshalJSON implements the json.Unmarshaler interface.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("protocol: invalid id: %w", err)
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("protocol: invalid id %s: %w", data, err)
	}
	*id = ID(n.String())
	return nil
}

// String returns the identifier as a plain string.
func (id ID) String() string { return string(id) }

// IDFromInt converts a numeric identifier.
func IDFromInt(n int64) ID { return ID(strconv.FormatInt(n, 10)) }

// ---------------------------------------------------------------------------
// Server -> Client
// ---------------------------------------------------------------------------

// ChatMessage is one message relayed by the backend for the joined room.
// SendAt is assigned by the server and kept exactly as it was sent.
type ChatMessage struct {
	ID             ID     `json:"id,omitempty"`
	RoomID         ID     `json:"roomId,omitempty"`
	SenderName     string `json:"senderName"`
	MessageContent string `json:"messageContent"`
	SendAt         string `json:"sendAt"`
}

// ParseChatMessage decodes one inbound frame. Anything other than a single
// JSON object is rejected.
func ParseChatMessage(data []byte) (ChatMessage, error) {
	var msg ChatMessage
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return msg, fmt.Errorf("protocol: frame is not a JSON object")
	}
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return ChatMessage{}, fmt.Errorf("protocol: failed to parse chat message: %w", err)
	}
	return msg, nil
}

// ---------------------------------------------------------------------------
// Client -> Server
// ---------------------------------------------------------------------------

// OutboundMessage is the only frame the client sends.
type OutboundMessage struct {
	RoomID  ID     `json:"roomId"`
	Content string `json:"content"`
}

// NewOutboundMessage encodes a chat message for the given room.
func NewOutboundMessage(roomID ID, content string) ([]byte, error) {
	data, err := json.Marshal(OutboundMessage{RoomID: roomID, Content: content})
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal outbound message: %w", err)
	}
	return data, nil
}

// ---------------------------------------------------------------------------
// Room summaries
// ---------------------------------------------------------------------------

// RoomSummary is the unread projection of a room as listed by the backend.
type RoomSummary struct {
	RoomID                      ID     `json:"roomId"`
	RoomName                    string `json:"roomName"`
	UnreadCount                 int    `json:"unreadCount"`
	LastUnreadMessageContent    string `json:"lastUnreadMessageContent"`
	LastUnreadMessageSenderName string `json:"lastUnreadMessageSenderName"`
	LastUnreadMessageTime       string `json:"lastUnreadMessageTime"`
}

// HasUnread reports whether the room should surface a notification.
func (r RoomSummary) HasUnread() bool { return r.UnreadCount > 0 }

// ParseRoomList decodes a JSON array of room summaries. Negative unread
// counts are clamped to zero.
func ParseRoomList(data []byte) ([]RoomSummary, error) {
	var rooms []RoomSummary
	if err := json.Unmarshal(data, &rooms); err != nil {
		return nil, fmt.Errorf("protocol: failed to parse room list: %w", err)
	}
	for i := range rooms {
		if rooms[i].UnreadCount < 0 {
			rooms[i].UnreadCount = 0
		}
	}
	return rooms, nil
}
