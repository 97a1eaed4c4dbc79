package model

import "time"

// Response is an immutable, JSON-serializable snapshot of a completed
// HTTP transaction (spec.md §3).
type Response struct {
	Status       int               `json:"status"`
	Headers      *Header           `json:"-"`
	Body         *Payload          `json:"body,omitempty"`
	Duration     time.Duration     `json:"-"`
	RequestID    string            `json:"request_id"`
	URL          string            `json:"url"`
	Method       Method            `json:"http_method"`
	CallbackArgs map[string]any    `json:"callback_args,omitempty"`
	Redirects    []string          `json:"redirects"`
}

// Payload is the encoded response body shape produced by the payload
// encoder (spec.md §4.5): {encoding, value, charset}, or a $ref envelope
// when externalized to a blob store.
type Payload struct {
	Encoding string `json:"encoding"`
	Value    string `json:"value,omitempty"`
	Charset  string `json:"charset,omitempty"`
	Ref      *Ref   `json:"$ref,omitempty"`
}

// Ref points at a blob externalized to a named BlobStore (spec.md §6).
type Ref struct {
	Store string `json:"store"`
	Key   string `json:"key"`
}

// IsSuccess reports 2xx.
func (r *Response) IsSuccess() bool { return r.Status >= 200 && r.Status <= 299 }

// IsRedirect reports 3xx.
func (r *Response) IsRedirect() bool { return r.Status >= 300 && r.Status <= 399 }

// IsClientError reports 4xx.
func (r *Response) IsClientError() bool { return r.Status >= 400 && r.Status <= 499 }

// IsServerError reports 5xx.
func (r *Response) IsServerError() bool { return r.Status >= 500 && r.Status <= 599 }

// responseEnvelope is the wire shape for Response, matching spec.md §6 exactly:
// {status, headers, body, duration, request_id, url, http_method,
// callback_args, redirects}.
type responseEnvelope struct {
	Status       int               `json:"status"`
	Headers      map[string]string `json:"headers"`
	Body         *Payload          `json:"body"`
	Duration     float64           `json:"duration"`
	RequestID    string            `json:"request_id"`
	URL          string            `json:"url"`
	Method       Method            `json:"http_method"`
	CallbackArgs map[string]any    `json:"callback_args,omitempty"`
	Redirects    []string          `json:"redirects"`
}

// ToEnvelope converts the Response into the JSON-ready wire shape.
func (r *Response) ToEnvelope() map[string]any {
	env := responseEnvelope{
		Status:       r.Status,
		Headers:      r.Headers.ToMap(),
		Body:         r.Body,
		Duration:     r.Duration.Seconds(),
		RequestID:    r.RequestID,
		URL:          r.URL,
		Method:       r.Method,
		CallbackArgs: r.CallbackArgs,
		Redirects:    r.Redirects,
	}
	return map[string]any{
		"status":        env.Status,
		"headers":       env.Headers,
		"body":          env.Body,
		"duration":      env.Duration,
		"request_id":    env.RequestID,
		"url":           env.URL,
		"http_method":   env.Method,
		"callback_args": env.CallbackArgs,
		"redirects":     env.Redirects,
	}
}
