package backend

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ChatRequestBody represents the request body for OpenAI-compatible chat completions
type ChatRequestBody struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

// FinishReason describes why the service stopped generating a choice
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
	FinishOther         FinishReason = "other"
)

// UnmarshalJSON folds null and unrecognised reasons into FinishOther
func (f *FinishReason) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = FinishOther
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("finish_reason must be a string: %w", err)
	}
	switch FinishReason(s) {
	case FinishStop, FinishLength, FinishContentFilter:
		*f = FinishReason(s)
	default:
		*f = FinishOther
	}
	return nil
}

// ChatChoice is one candidate completion
type ChatChoice struct {
	Index        int          `json:"index"`
	Message      ChatMessage  `json:"message"`
	FinishReason FinishReason `json:"finish_reason"`
}

// ChatUsage reports token accounting for a completion
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Valid reports whether the counters are non-negative and add up
func (u ChatUsage) Valid() bool {
	if u.PromptTokens < 0 || u.CompletionTokens < 0 || u.TotalTokens < 0 {
		return false
	}
	return u.TotalTokens == u.PromptTokens+u.CompletionTokens
}

// Add returns the element-wise sum of two usages
func (u ChatUsage) Add(o ChatUsage) ChatUsage {
	return ChatUsage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

// ChatResponseSuccess represents a successful chat completion
type ChatResponseSuccess struct {
	ID      string       `json:"id"`
	Object  string       `json:"object,omitempty"`
	Created int64        `json:"created,omitempty"`
	Model   string       `json:"model,omitempty"`
	Choices []ChatChoice `json:"choices"`
	Usage   ChatUsage    `json:"usage"`
}

// TopChoice returns the choice with the lowest index. Ties keep the first entry.
func (r ChatResponseSuccess) TopChoice() (ChatChoice, bool) {
	if len(r.Choices) == 0 {
		return ChatChoice{}, false
	}
	top := r.Choices[0]
	for _, c := range r.Choices[1:] {
		if c.Index < top.Index {
			top = c
		}
	}
	return top, true
}

// ChatError is the structured error object returned by the service
type ChatError struct {
	Message string  `json:"message"`
	Type    string  `json:"type"`
	Code    *string `json:"code,omitempty"`
}

// UnmarshalJSON accepts string, numeric or null codes
func (e *ChatError) UnmarshalJSON(data []byte) error {
	var raw struct {
		Message string          `json:"message"`
		Type    string          `json:"type"`
		Code    json.RawMessage `json:"code"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Message = raw.Message
	e.Type = raw.Type
	e.Code = nil
	if len(raw.Code) == 0 || string(raw.Code) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw.Code, &s); err == nil {
		e.Code = &s
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw.Code, &n); err != nil {
		return fmt.Errorf("error code must be a string or number: %w", err)
	}
	code := n.String()
	if i, err := strconv.ParseInt(code, 10, 64); err == nil {
		code = strconv.FormatInt(i, 10)
	}
	e.Code = &code
	return nil
}

// CodeString returns the error code or an empty string
func (e ChatError) CodeString() string {
	if e.Code == nil {
		return ""
	}
	return *e.Code
}

// ChatResponseError wraps a ChatError as sent on the wire
type ChatResponseError struct {
	Error ChatError `json:"error"`
}

// ModelList represents the response from the /models endpoint
type ModelList struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

// ModelInfo represents a single model entry
type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}
