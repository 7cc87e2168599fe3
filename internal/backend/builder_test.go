package backend

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSingleUserMessage(t *testing.T) {
	body, err := Build([]ChatMessage{NewUserMessage("hi")}, Params{Model: "gpt-4o-mini"})
	require.NoError(t, err)

	raw, err := json.Marshal(body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"model":"gpt-4o-mini","messages":[{"role":"user","content":"hi"}]}`, string(raw))
}

func TestBuildIsPure(t *testing.T) {
	history := []ChatMessage{
		NewSystemMessage("be brief"),
		NewUserMessage("hello"),
		NewAssistantMessage("hi there"),
		NewUserMessage("how are you"),
	}
	params := Params{Model: "m"}.WithTemperature(0.7).WithMaxTokens(128)

	first, err := Build(history, params)
	require.NoError(t, err)
	second, err := Build(history, params)
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestBuildSnapshotsHistory(t *testing.T) {
	history := []ChatMessage{NewUserMessage("one")}
	temp := 1.0
	params := Params{Model: "m", Temperature: &temp}

	body, err := Build(history, params)
	require.NoError(t, err)

	history[0].Content = "mutated"
	temp = 1.9
	assert.Equal(t, "one", body.Messages[0].Content)
	assert.Equal(t, 1.0, *body.Temperature)
}

func TestBuildValidation(t *testing.T) {
	user := []ChatMessage{NewUserMessage("hi")}
	tests := []struct {
		name    string
		history []ChatMessage
		params  Params
		field   string
	}{
		{"empty history", nil, Params{Model: "m"}, "messages"},
		{"missing model", user, Params{}, "model"},
		{"temperature below range", user, Params{Model: "m"}.WithTemperature(-0.1), "temperature"},
		{"temperature above range", user, Params{Model: "m"}.WithTemperature(2.01), "temperature"},
		{"temperature NaN", user, Params{Model: "m"}.WithTemperature(math.NaN()), "temperature"},
		{"zero max tokens", user, Params{Model: "m"}.WithMaxTokens(0), "max_tokens"},
		{"bad role", []ChatMessage{{Role: "tool", Content: "x"}}, Params{Model: "m"}, "role"},
		{"empty user content", []ChatMessage{NewUserMessage("  ")}, Params{Model: "m"}, "content"},
		{"terminal empty system", []ChatMessage{NewSystemMessage("")}, Params{Model: "m"}, "messages"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.history, tt.params)
			var vErr *ValidationError
			require.True(t, errors.As(err, &vErr), "expected ValidationError, got %v", err)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}

func TestBuildBoundaryParams(t *testing.T) {
	user := []ChatMessage{NewUserMessage("hi")}
	for _, temp := range []float64{0, 2} {
		_, err := Build(user, Params{Model: "m"}.WithTemperature(temp))
		assert.NoError(t, err, "temperature %v", temp)
	}
	_, err := Build(user, Params{Model: "m"}.WithMaxTokens(1))
	assert.NoError(t, err)
}

func TestBuildAllowsNonTerminalEmptySystem(t *testing.T) {
	history := []ChatMessage{NewSystemMessage(""), NewUserMessage("hi")}
	_, err := Build(history, Params{Model: "m"})
	require.NoError(t, err)

	strict := MessagePolicy{AllowEmptySystem: false}
	_, err = strict.Build(history, Params{Model: "m"})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "content", vErr.Field)
}

func TestBuildAcceptsEmptyAssistantReply(t *testing.T) {
	history := []ChatMessage{NewUserMessage("hi"), NewAssistantMessage(""), NewUserMessage("again")}
	body, err := Build(history, Params{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, history, body.Messages)

	_, err = NewMessage(RoleAssistant, "")
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "content", vErr.Field)
}

func TestBuildStreamFlag(t *testing.T) {
	body, err := Build([]ChatMessage{NewUserMessage("hi")}, Params{Model: "m", Stream: true})
	require.NoError(t, err)
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"stream":true`)
}
