// Package shared holds the wire types of the chat WebSocket.
package shared

import "github.com/codekids/pyquest/pkg/kiderrors"

// MessageType names a chat message.
type MessageType string

// Client to server.
const (
	MessageTypeRun   MessageType = "run"   // start the program in Source
	MessageTypeInput MessageType = "input" // answer the pending input() prompt
)

// Server to client.
const (
	MessageTypeOutput MessageType = "output" // one printed line
	MessageTypePrompt MessageType = "prompt" // the program waits for an answer
	MessageTypeDone   MessageType = "done"   // the program finished
	MessageTypeError  MessageType = "error"  // the program or the request failed
)

// Message is one chat frame in either direction.
type Message struct {
	Type     MessageType `json:"type"`
	LessonID string      `json:"lessonId,omitempty"`
	Source   string      `json:"source,omitempty"`
	Text     string      `json:"text,omitempty"`

	// Line is the 1-based source line of a failure.
	Line  int                         `json:"line,omitempty"`
	Error *kiderrors.KidFriendlyError `json:"error,omitempty"`

	// Set on done.
	Passed      bool   `json:"passed,omitempty"`
	Celebration string `json:"celebration,omitempty"`
}

// IsClientType reports whether t may be sent by a client.
func IsClientType(t MessageType) bool {
	return t == MessageTypeRun || t == MessageTypeInput
}
