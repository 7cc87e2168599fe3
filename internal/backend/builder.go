package backend

import (
	"fmt"
	"math"
	"strings"
)

// Temperature bounds accepted by the service
const (
	MinTemperature = 0.0
	MaxTemperature = 2.0
)

// Params holds the generation parameters for a request
type Params struct {
	Model       string
	Temperature *float64
	MaxTokens   *int
	Stream      bool
}

// Validate checks that each recognised option is in range
func (p Params) Validate() error {
	if strings.TrimSpace(p.Model) == "" {
		return &ValidationError{Field: "model", Reason: "model id must not be empty"}
	}
	if p.Temperature != nil {
		t := *p.Temperature
		if t < MinTemperature || t > MaxTemperature || math.IsNaN(t) {
			return &ValidationError{Field: "temperature", Reason: fmt.Sprintf("%v outside [%v, %v]", t, MinTemperature, MaxTemperature)}
		}
	}
	if p.MaxTokens != nil && *p.MaxTokens <= 0 {
		return &ValidationError{Field: "max_tokens", Reason: fmt.Sprintf("%d must be greater than zero", *p.MaxTokens)}
	}
	return nil
}

// WithTemperature returns a copy of p with the temperature set
func (p Params) WithTemperature(t float64) Params {
	p.Temperature = &t
	return p
}

// WithMaxTokens returns a copy of p with the output token limit set
func (p Params) WithMaxTokens(n int) Params {
	p.MaxTokens = &n
	return p
}

// Build assembles a request from a history snapshot using DefaultMessagePolicy
func Build(history []ChatMessage, params Params) (ChatRequestBody, error) {
	return DefaultMessagePolicy.Build(history, params)
}

// Build assembles a request from a history snapshot. The returned body owns
// its own copy of the messages and optional parameters. History entries are
// checked with ValidateStored, so an empty assistant reply does not block
// later turns.
func (p MessagePolicy) Build(history []ChatMessage, params Params) (ChatRequestBody, error) {
	if len(history) == 0 {
		return ChatRequestBody{}, &ValidationError{Field: "messages", Reason: "history must not be empty"}
	}
	if err := params.Validate(); err != nil {
		return ChatRequestBody{}, err
	}

	messages := make([]ChatMessage, len(history))
	for i, msg := range history {
		if err := p.ValidateStored(msg); err != nil {
			return ChatRequestBody{}, fmt.Errorf("message %d: %w", i, err)
		}
		messages[i] = msg
	}
	last := messages[len(messages)-1]
	if last.Role == RoleSystem && strings.TrimSpace(last.Content) == "" {
		return ChatRequestBody{}, &ValidationError{Field: "messages", Reason: "last message must not be an empty system message"}
	}

	body := ChatRequestBody{
		Model:    params.Model,
		Messages: messages,
		Stream:   params.Stream,
	}
	if params.Temperature != nil {
		t := *params.Temperature
		body.Temperature = &t
	}
	if params.MaxTokens != nil {
		n := *params.MaxTokens
		body.MaxTokens = &n
	}
	return body, nil
}
