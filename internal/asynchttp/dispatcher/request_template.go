package dispatcher

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/bdurand/asynchttp-dispatcher/internal/asynchttp/model"
)

// RequestTemplate is a pure construction helper (spec.md §4.10): it
// resolves a base_url once and builds Requests against it by method
// and relative (or absolute) URI, with no collaborators and no side
// effects. Grounded on model.Request's own option-function builder
// (model.RequestOption), generalized one layer up to add base_url
// resolution, query-param merging, and body/json as alternatives.
type RequestTemplate struct {
	baseURL *url.URL
}

// NewRequestTemplate parses baseURL once, failing fast on an invalid
// or relative base. An empty baseURL is valid: every Build call must
// then supply an absolute uri.
func NewRequestTemplate(baseURL string) (*RequestTemplate, error) {
	if baseURL == "" {
		return &RequestTemplate{}, nil
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("asynchttp: invalid base_url %q: %w", baseURL, err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("asynchttp: base_url %q is not absolute", baseURL)
	}
	return &RequestTemplate{baseURL: u}, nil
}

// TemplateOption configures a single Build call.
type TemplateOption func(*templateBuild)

type templateBuild struct {
	headers *model.Header
	params  url.Values
	body    []byte
	hasBody bool
	json    any
	hasJSON bool
	timeout *time.Duration
}

// WithHeader adds a header to the request under construction.
func WithHeader(key, value string) TemplateOption {
	return func(b *templateBuild) { b.headers.Add(key, value) }
}

// WithParam appends a query parameter, merged onto uri's existing
// query string rather than replacing it (spec.md §4.10).
func WithParam(key, value string) TemplateOption {
	return func(b *templateBuild) { b.params.Add(key, value) }
}

// WithBody sets a raw request body. Mutually exclusive with WithJSON.
func WithBody(body []byte) TemplateOption {
	return func(b *templateBuild) {
		b.body = body
		b.hasBody = true
	}
}

// WithJSON marshals v as the request body and defaults Content-Type to
// application/json; encoding=utf-8 unless a header already set one.
// Mutually exclusive with WithBody.
func WithJSON(v any) TemplateOption {
	return func(b *templateBuild) {
		b.json = v
		b.hasJSON = true
	}
}

// WithTimeout overrides the per-request timeout budget.
func WithTimeout(d time.Duration) TemplateOption {
	return func(b *templateBuild) { b.timeout = &d }
}

// Build resolves uri against the template's base_url when uri is
// relative, applies opts, and constructs the resulting model.Request
// (spec.md §4.10: "request(method, uri, {body, json, headers, params,
// timeout})").
func (rt *RequestTemplate) Build(method model.Method, uri string, opts ...TemplateOption) (*model.Request, error) {
	resolved, err := rt.resolve(uri)
	if err != nil {
		return nil, err
	}

	b := &templateBuild{headers: model.NewHeader(), params: url.Values{}}
	for _, opt := range opts {
		opt(b)
	}
	if b.hasBody && b.hasJSON {
		return nil, fmt.Errorf("asynchttp: body and json options are mutually exclusive")
	}

	var reqOpts []model.RequestOption
	reqOpts = append(reqOpts, model.WithHeaders(b.headers))

	switch {
	case b.hasJSON:
		data, err := json.Marshal(b.json)
		if err != nil {
			return nil, fmt.Errorf("asynchttp: marshal json body: %w", err)
		}
		if !b.headers.Has("Content-Type") {
			reqOpts = append(reqOpts, model.WithHeader("Content-Type", "application/json; encoding=utf-8"))
		}
		reqOpts = append(reqOpts, model.WithBody(data))
	case b.hasBody:
		reqOpts = append(reqOpts, model.WithBody(b.body))
	}

	if b.timeout != nil {
		reqOpts = append(reqOpts, model.WithTimeout(*b.timeout))
	}

	if len(b.params) > 0 {
		resolved, err = mergeParams(resolved, b.params)
		if err != nil {
			return nil, err
		}
	}

	return model.NewRequest(method, resolved, reqOpts...)
}

// resolve joins uri against base_url when uri is relative, mirroring
// net/url's own Reference-resolution rules rather than naive string
// concatenation.
func (rt *RequestTemplate) resolve(uri string) (string, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("asynchttp: invalid uri %q: %w", uri, err)
	}
	if parsed.IsAbs() {
		return uri, nil
	}
	if rt.baseURL == nil {
		return "", fmt.Errorf("asynchttp: uri %q is relative but no base_url is configured", uri)
	}
	return rt.baseURL.ResolveReference(parsed).String(), nil
}

// mergeParams appends params onto rawURL's existing query string,
// preserving whatever was already there.
func mergeParams(rawURL string, params url.Values) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("asynchttp: invalid url %q: %w", rawURL, err)
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
