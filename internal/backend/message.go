package backend

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role identifies the author of a chat message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

func (r Role) String() string {
	return string(r)
}

// UnmarshalJSON rejects roles outside the closed set
func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("role must be a string: %w", err)
	}
	role := Role(s)
	if !role.Valid() {
		return fmt.Errorf("unknown role %q", s)
	}
	*r = role
	return nil
}

// ChatMessage represents a single conversation turn
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// MessagePolicy controls construction validation of messages.
// AllowEmptySystem permits empty system messages as long as they are not the
// last message of a request.
type MessagePolicy struct {
	AllowEmptySystem bool
}

// DefaultMessagePolicy allows empty, non-terminal system messages
var DefaultMessagePolicy = MessagePolicy{AllowEmptySystem: true}

// NewMessage creates a validated message using DefaultMessagePolicy
func NewMessage(role Role, content string) (ChatMessage, error) {
	return DefaultMessagePolicy.NewMessage(role, content)
}

// NewMessage creates a validated message
func (p MessagePolicy) NewMessage(role Role, content string) (ChatMessage, error) {
	msg := ChatMessage{Role: role, Content: content}
	if err := p.Validate(msg); err != nil {
		return ChatMessage{}, err
	}
	return msg, nil
}

// Validate checks a message against the policy
func (p MessagePolicy) Validate(msg ChatMessage) error {
	if !msg.Role.Valid() {
		return &ValidationError{Field: "role", Reason: fmt.Sprintf("unknown role %q", msg.Role)}
	}
	if strings.TrimSpace(msg.Content) != "" {
		return nil
	}
	if msg.Role == RoleSystem && p.AllowEmptySystem {
		return nil
	}
	return &ValidationError{Field: "content", Reason: fmt.Sprintf("%s message content must not be empty", msg.Role)}
}

// ValidateStored checks a message that is already part of a history.
// Assistant messages come from the service and are accepted with empty
// content, which is how replies cut short by length or content filtering
// arrive. Other roles follow Validate.
func (p MessagePolicy) ValidateStored(msg ChatMessage) error {
	if msg.Role == RoleAssistant {
		return nil
	}
	return p.Validate(msg)
}

// NewUserMessage creates a user message without validation
func NewUserMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message without validation
func NewAssistantMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: content}
}

// NewSystemMessage creates a system message without validation
func NewSystemMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Content: content}
}
