package model

import (
	"strconv"
	"time"
)

// TransportKind classifies a transport-level failure (spec.md §4.7).
type TransportKind string

const (
	TransportTimeout           TransportKind = "timeout"
	TransportConnection        TransportKind = "connection"
	TransportSSL               TransportKind = "ssl"
	TransportResponseTooLarge  TransportKind = "response_too_large"
	TransportUnknown           TransportKind = "unknown"
)

// RedirectKind classifies a redirect-chain failure (spec.md §4.2).
type RedirectKind string

const (
	RedirectRecursive RedirectKind = "recursive"
	RedirectTooMany   RedirectKind = "too_many"
)

// common carries the fields shared by every ErrorValue variant
// (spec.md §3 ErrorValue).
type common struct {
	URL          string
	Method       Method
	Duration     time.Duration
	RequestID    string
	CallbackArgs map[string]any
	ClassName    string
	Message      string
	Backtrace    string
}

// TransportError is the Transport{kind} ErrorValue variant.
type TransportError struct {
	common
	Kind TransportKind
}

func (e *TransportError) Error() string { return "asynchttp: transport error (" + string(e.Kind) + "): " + e.Message }

// HTTPError is the HTTP{response} ErrorValue variant, raised only when
// raise_error_responses is set (spec.md §4.7).
type HTTPError struct {
	common
	Response *Response
}

func (e *HTTPError) Error() string {
	status := 0
	if e.Response != nil {
		status = e.Response.Status
	}
	return "asynchttp: http error response: status=" + strconv.Itoa(status)
}

// RedirectError is the Redirect{kind, visited} ErrorValue variant.
type RedirectError struct {
	common
	Kind      RedirectKind
	Redirects []string
}

func (e *RedirectError) Error() string { return "asynchttp: redirect error (" + string(e.Kind) + ")" }

// ToEnvelope renders the ErrorValue wire shape for each variant, per
// spec.md §6's three ErrorValue envelope schemas.
func (e *TransportError) ToEnvelope() map[string]any {
	return map[string]any{
		"class_name":    e.ClassName,
		"message":       e.Message,
		"backtrace":     e.Backtrace,
		"request_id":    e.RequestID,
		"error_type":    string(e.Kind),
		"duration":      e.Duration.Seconds(),
		"url":           e.URL,
		"http_method":   e.Method,
		"callback_args": e.CallbackArgs,
	}
}

func (e *HTTPError) ToEnvelope() map[string]any {
	var resp map[string]any
	if e.Response != nil {
		resp = e.Response.ToEnvelope()
	}
	return map[string]any{"response": resp}
}

func (e *RedirectError) ToEnvelope() map[string]any {
	return map[string]any{
		"redirects":     e.Redirects,
		"kind":          string(e.Kind),
		"url":           e.URL,
		"http_method":   e.Method,
		"request_id":    e.RequestID,
		"callback_args": e.CallbackArgs,
		"duration":      e.Duration.Seconds(),
	}
}

// NewTransportError builds a TransportError with the given classification.
func NewTransportError(kind TransportKind, url string, method Method, requestID string, duration time.Duration, callbackArgs map[string]any, className, message, backtrace string) *TransportError {
	return &TransportError{
		common: common{
			URL: url, Method: method, Duration: duration, RequestID: requestID,
			CallbackArgs: callbackArgs, ClassName: className, Message: message, Backtrace: backtrace,
		},
		Kind: kind,
	}
}

// NewHTTPError wraps response as an HTTP-variant ErrorValue.
func NewHTTPError(response *Response, url string, method Method, requestID string, duration time.Duration, callbackArgs map[string]any) *HTTPError {
	return &HTTPError{
		common: common{
			URL: url, Method: method, Duration: duration, RequestID: requestID,
			CallbackArgs: callbackArgs, ClassName: "HTTPError",
		},
		Response: response,
	}
}

// NewRedirectError builds a Redirect-variant ErrorValue.
func NewRedirectError(kind RedirectKind, visited []string, url string, method Method, requestID string, duration time.Duration, callbackArgs map[string]any) *RedirectError {
	return &RedirectError{
		common: common{
			URL: url, Method: method, Duration: duration, RequestID: requestID,
			CallbackArgs: callbackArgs, ClassName: "RedirectError",
		},
		Kind:      kind,
		Redirects: visited,
	}
}
