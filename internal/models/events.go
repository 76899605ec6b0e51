package models

import "time"

// Inbound event names accepted over the websocket.
const (
	EventJoinRooms          = "joinRooms"
	EventSendMessage        = "sendMessage"
	EventEditMessage        = "editMessage"
	EventDeleteMessage      = "deleteMessage"
	EventMarkAsRead         = "markAsRead"
	EventMarkMessagesAsRead = "markMessagesAsRead"
	EventGetUnreadCount     = "getUnreadCount"
)

// Outbound event names emitted over the websocket.
const (
	EventNewMessage     = "newMessage"
	EventMessageUpdated = "messageUpdated"
	EventMessageDeleted = "messageDeleted"
	EventMessagesRead   = "messagesRead"
	EventOnlineUsers    = "onlineUsers"
	EventUserOnline     = "userOnline"
	EventUserOffline    = "userOffline"
	EventUnreadCount    = "unreadCount"
	EventError          = "error"
)

// ClientEvent is the tagged record a connected client sends. Type selects the
// operation; the remaining fields are validated by the component handling it.
type ClientEvent struct {
	Type            string `json:"type"`
	ConversationIDs []int  `json:"conversationIds,omitempty"`
	ConversationID  int    `json:"conversationId,omitempty"`
	MessageID       int    `json:"messageId,omitempty"`
	Content         string `json:"content,omitempty"`
	NewContent      string `json:"newContent,omitempty"`
}

// ServerEvent is the tagged record broadcast to clients for state changes.
type ServerEvent struct {
	Type           string     `json:"type"`
	Message        *Message   `json:"message,omitempty"`
	ReaderID       int        `json:"readerId,omitempty"`
	ConversationID int        `json:"conversationId,omitempty"`
	ReadAt         *time.Time `json:"readAt,omitempty"`
	UserID         int        `json:"userId,omitempty"`
	UserIDs        []int      `json:"userIds,omitempty"`
	Count          *int       `json:"count,omitempty"`
}

// ErrorEvent is reported to the originating connection only, never broadcast.
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewErrorEvent wraps a client-facing failure description.
func NewErrorEvent(message string) ErrorEvent {
	return ErrorEvent{Type: EventError, Message: message}
}
