package chat

import (
	"encoding/json"
	"time"
)

// 入站事件
const (
	EventJoinRoom         = "join_room"
	EventLeaveRoom        = "leave_room"
	EventSendMessage      = "send_message"
	EventTypingStart      = "typing_start"
	EventTypingStop       = "typing_stop"
	EventMarkRead         = "mark_read"
	EventStartPrivateChat = "start_private_chat"
	EventDisconnect       = "disconnect"
)

// 出站事件
const (
	EventUsersOnline        = "users_online"
	EventUserOffline        = "user_offline"
	EventRoomHistory        = "room_history"
	EventReceiveMessage     = "receive_message"
	EventNewNotification    = "new_notification"
	EventUserTyping         = "user_typing"
	EventUserStopTyping     = "user_stop_typing"
	EventMessageRead        = "message_read"
	EventPrivateRoomCreated = "private_room_created"
	EventError              = "error"
)

// Event is a single frame on the wire, in both directions.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

func (e Event) encode() ([]byte, error) {
	return json.Marshal(e)
}

type offlinePayload struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	LastSeen    time.Time `json:"lastSeen"`
}

type historyPayload struct {
	RoomID   string        `json:"roomId"`
	Messages []MessageView `json:"messages"`
}

type notificationPayload struct {
	Type    string `json:"type"` // "message"
	From    string `json:"from"`
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
}

type typingPayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	RoomID   string `json:"roomId"`
}

type readPayload struct {
	MessageID  string `json:"messageId"`
	ReaderID   string `json:"readerId"`
	ReaderName string `json:"readerName"`
}

type privateRoomPayload struct {
	RoomID string `json:"roomId"`
}

type errorPayload struct {
	Event   string `json:"event,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
