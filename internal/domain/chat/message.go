// Package chat provides domain entities for relayed chat exchanges.
package chat

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageRole represents the role of a message sender.
type MessageRole string

const (
	// RoleSystem represents a system message.
	RoleSystem MessageRole = "system"
	// RoleUser represents a user message.
	RoleUser MessageRole = "user"
	// RoleAssistant represents an assistant message.
	RoleAssistant MessageRole = "assistant"
)

// IsValid checks if the message role is valid.
func (r MessageRole) IsValid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// MessageStatus represents the delivery state of a message document.
type MessageStatus string

const (
	// StatusPending marks a user message not yet picked up by the relay.
	StatusPending MessageStatus = "pending"
	// StatusSent marks a user message the relay has accepted.
	StatusSent MessageStatus = "sent"
	// StatusStreaming marks an assistant message whose content is still growing.
	StatusStreaming MessageStatus = "streaming"
	// StatusDone marks a completed assistant message. Content is immutable.
	StatusDone MessageStatus = "done"
	// StatusError marks a failed assistant message. Content is immutable.
	StatusError MessageStatus = "error"
)

// IsTerminal reports whether the message content is final.
func (s MessageStatus) IsTerminal() bool {
	return s == StatusDone || s == StatusError || s == StatusSent
}

// Message represents a single chat message document.
type Message struct {
	ID        string        `json:"-"`
	Role      MessageRole   `json:"role"`
	Content   string        `json:"content"`
	Status    MessageStatus `json:"status"`
	CreatedAt string        `json:"createdAt"`
}

// NewAssistantPlaceholder returns the empty streaming assistant message that
// pairs a newly accepted user message.
func NewAssistantPlaceholder(now time.Time) *Message {
	return &Message{
		Role:      RoleAssistant,
		Content:   "",
		Status:    StatusStreaming,
		CreatedAt: now.UTC().Format(time.RFC3339Nano),
	}
}

// Fields returns the message as a store document payload.
func (m *Message) Fields() map[string]interface{} {
	return map[string]interface{}{
		"role":      string(m.Role),
		"content":   m.Content,
		"status":    string(m.Status),
		"createdAt": m.CreatedAt,
	}
}

// Validate validates the message.
func (m *Message) Validate() error {
	if !m.Role.IsValid() {
		return fmt.Errorf("invalid message role: %s", m.Role)
	}
	if m.Role == RoleUser && m.Content == "" {
		return fmt.Errorf("user message content cannot be empty")
	}
	return nil
}

// DecodeMessage builds a Message from a raw store document.
func DecodeMessage(id string, data map[string]interface{}) (*Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode message document: %w", err)
	}
	msg := &Message{ID: id}
	if err := json.Unmarshal(raw, msg); err != nil {
		return nil, fmt.Errorf("decode message document: %w", err)
	}
	return msg, nil
}

// Turn is a role/content pair submitted to the completion endpoint.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// HistoryTurns converts terminal-state messages into completion turns,
// preserving order.
func HistoryTurns(messages []*Message) []Turn {
	turns := make([]Turn, 0, len(messages))
	for _, m := range messages {
		turns = append(turns, Turn{Role: string(m.Role), Content: m.Content})
	}
	return turns
}
