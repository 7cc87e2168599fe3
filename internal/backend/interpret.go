package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
)

// MaxExcerptBytes bounds the body excerpt kept for malformed responses
const MaxExcerptBytes = 256

// Interpret classifies a raw transport outcome. err is the failure returned by
// the transport, if any; status and body are the raw HTTP status and bytes.
func Interpret(status int, body []byte, err error) Result {
	if err != nil {
		return TransportErrorResult(ClassifyTransportError(status, err))
	}
	if status == 0 && len(body) == 0 {
		return TransportErrorResult(&TransportError{Tag: TagNetwork, Cause: errors.New("empty response")})
	}

	if status == 0 || (status >= 200 && status < 300) {
		if conforms(successSchema, body) == nil {
			var resp ChatResponseSuccess
			if decodeErr := json.Unmarshal(body, &resp); decodeErr == nil {
				return checkSuccess(status, resp)
			}
		}
	}

	if conforms(errorSchema, body) == nil {
		var resp ChatResponseError
		if decodeErr := json.Unmarshal(body, &resp); decodeErr == nil {
			return ServiceErrorResult(status, resp.Error)
		}
	}

	return TransportErrorResult(&TransportError{
		Tag:     TagMalformed,
		Status:  status,
		Excerpt: Excerpt(body),
		Cause:   fmt.Errorf("body matches neither completion nor error shape"),
	})
}

func checkSuccess(status int, resp ChatResponseSuccess) Result {
	if len(resp.Choices) == 0 {
		return ServiceErrorResult(status, ChatError{
			Message: "response contained no choices",
			Type:    TypeEmptyChoices,
		})
	}
	if !resp.Usage.Valid() {
		return ServiceErrorResult(status, ChatError{
			Message: fmt.Sprintf("usage total_tokens %d != prompt_tokens %d + completion_tokens %d",
				resp.Usage.TotalTokens, resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
			Type: TypeInvalidUsage,
		})
	}
	for i := range resp.Choices {
		if resp.Choices[i].FinishReason == "" {
			resp.Choices[i].FinishReason = FinishOther
		}
	}
	return SuccessResult(resp)
}

// ClassifyTransportError tags a transport failure by its cause
func ClassifyTransportError(status int, err error) *TransportError {
	var te *TransportError
	if errors.As(err, &te) {
		return te
	}
	tag := TagNetwork
	var netErr net.Error
	switch {
	case IsConfigurationError(err):
		tag = TagConfiguration
	case errors.Is(err, context.Canceled):
		tag = TagCancelled
	case errors.Is(err, context.DeadlineExceeded):
		tag = TagTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		tag = TagTimeout
	}
	return &TransportError{Tag: tag, Status: status, Cause: err}
}

// Excerpt returns at most MaxExcerptBytes of body for diagnostics
func Excerpt(body []byte) string {
	if len(body) <= MaxExcerptBytes {
		return strings.ToValidUTF8(string(body), "")
	}
	return strings.ToValidUTF8(string(body[:MaxExcerptBytes]), "") + "..."
}
