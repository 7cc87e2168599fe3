package backend

// ResultKind names the variant held by a Result
type ResultKind int

const (
	KindSuccess ResultKind = iota + 1
	KindServiceError
	KindTransportError
)

func (k ResultKind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindServiceError:
		return "service_error"
	case KindTransportError:
		return "transport_error"
	}
	return "unknown"
}

// Result is exactly one of a successful completion, a service error or a
// transport error. The zero value holds no variant.
type Result struct {
	kind      ResultKind
	success   ChatResponseSuccess
	service   *ServiceError
	transport *TransportError
}

// SuccessResult wraps a decoded completion
func SuccessResult(resp ChatResponseSuccess) Result {
	return Result{kind: KindSuccess, success: resp}
}

// ServiceErrorResult wraps a structured service error
func ServiceErrorResult(status int, e ChatError) Result {
	return Result{kind: KindServiceError, service: &ServiceError{Err: e, Status: status}}
}

// TransportErrorResult wraps a transport failure
func TransportErrorResult(e *TransportError) Result {
	return Result{kind: KindTransportError, transport: e}
}

// Kind returns the held variant
func (r Result) Kind() ResultKind {
	return r.kind
}

// OK reports whether the result is a success
func (r Result) OK() bool {
	return r.kind == KindSuccess
}

// Success returns the completion when the result is a success
func (r Result) Success() (ChatResponseSuccess, bool) {
	if r.kind != KindSuccess {
		return ChatResponseSuccess{}, false
	}
	return r.success, true
}

// ServiceError returns the service error when present
func (r Result) ServiceError() (*ServiceError, bool) {
	if r.kind != KindServiceError {
		return nil, false
	}
	return r.service, true
}

// TransportError returns the transport error when present
func (r Result) TransportError() (*TransportError, bool) {
	if r.kind != KindTransportError {
		return nil, false
	}
	return r.transport, true
}

// Message returns the top-ranked choice message of a success
func (r Result) Message() (ChatMessage, bool) {
	if r.kind != KindSuccess {
		return ChatMessage{}, false
	}
	choice, ok := r.success.TopChoice()
	if !ok {
		return ChatMessage{}, false
	}
	return choice.Message, true
}

// Err returns the failure as an error, or nil on success
func (r Result) Err() error {
	switch r.kind {
	case KindServiceError:
		return r.service
	case KindTransportError:
		return r.transport
	case KindSuccess:
		return nil
	}
	return &TransportError{Tag: TagMalformed, Excerpt: "empty result"}
}
