// Package chat runs a line-oriented chat session against a pluggable responder.
package chat

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"
)

// Role is the author of a turn
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a conversation
type Turn struct {
	Role    Role
	Content string
}

// Responder produces the assistant turn for a user message. History is in
// chronological order and excludes the new user message.
type Responder interface {
	Respond(ctx context.Context, history []Turn, user string) (Turn, error)
}

// EchoResponder answers every message with the message itself
type EchoResponder struct{}

func (EchoResponder) Respond(_ context.Context, _ []Turn, user string) (Turn, error) {
	return Turn{Role: RoleAssistant, Content: user}, nil
}

// ClientResponder forwards the conversation to an OpenAI-compatible endpoint
type ClientResponder struct {
	Client       *Client
	Endpoint     Endpoint
	APIKey       string
	SystemPrompt string // already rendered, see RenderSystemPrompt
}

func (r *ClientResponder) Respond(ctx context.Context, history []Turn, user string) (Turn, error) {
	messages := make([]Message, 0, len(history)+2)
	if r.SystemPrompt != "" {
		messages = append(messages, Message{Role: string(RoleSystem), Content: r.SystemPrompt})
	}
	for _, t := range history {
		messages = append(messages, Message{Role: string(t.Role), Content: t.Content})
	}
	messages = append(messages, Message{Role: string(RoleUser), Content: user})

	msg, err := r.Client.Complete(ctx, r.Endpoint, r.APIKey, messages)
	if err != nil {
		return Turn{}, err
	}
	return Turn{Role: RoleAssistant, Content: msg.Content}, nil
}

// RenderSystemPrompt renders a text/template system prompt. Missing keys
// are errors and template composition directives are rejected.
func RenderSystemPrompt(tmpl string, data map[string]any) (string, error) {
	for _, directive := range []string{"{{call", "{{define", "{{template", "{{block"} {
		if strings.Contains(tmpl, directive) {
			return "", fmt.Errorf("system prompt contains forbidden directive: %s", directive)
		}
	}

	t, err := template.New("system").Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("failed to parse system prompt: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute system prompt: %w", err)
	}
	return buf.String(), nil
}
