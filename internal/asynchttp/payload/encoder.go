package payload

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/klauspost/compress/gzip"
)

// gzipThreshold is the size at or above which a text body is gzip-compressed
// if doing so actually shrinks it (spec.md §4.5: "gzip-compress if the
// result ≥ 4096 bytes and compression shrinks it").
const gzipThreshold = 4096

// Encoding values recorded alongside an encoded payload.
const (
	EncodingText     = "text"
	EncodingGzipped  = "gzipped"
	EncodingBinary   = "binary"
)

// Encoded is the wire shape of one encoded response body before any
// externalization decision is applied.
type Encoded struct {
	Encoding string `json:"encoding"`
	Value    string `json:"value"`
	Charset  string `json:"charset"`
}

// Encode implements spec.md §4.5's body encoding rule: text-like
// content types are UTF-8 validated and optionally gzip-compressed;
// everything else is base64-encoded as opaque binary.
func Encode(contentType string, charset string, body []byte) (Encoded, error) {
	if isTextLike(contentType) && utf8.Valid(body) {
		if charset == "" {
			charset = "utf-8"
		}
		if len(body) >= gzipThreshold {
			compressed, err := gzipCompress(body)
			if err == nil && len(compressed) < len(body) {
				return Encoded{
					Encoding: EncodingGzipped,
					Value:    base64.StdEncoding.EncodeToString(compressed),
					Charset:  charset,
				}, nil
			}
		}
		return Encoded{
			Encoding: EncodingText,
			Value:    string(body),
			Charset:  charset,
		}, nil
	}

	return Encoded{
		Encoding: EncodingBinary,
		Value:    base64.StdEncoding.EncodeToString(body),
		Charset:  "binary",
	}, nil
}

// Decode reverses Encode, returning the original bytes.
func Decode(e Encoded) ([]byte, error) {
	switch e.Encoding {
	case EncodingText:
		return []byte(e.Value), nil
	case EncodingGzipped:
		compressed, err := base64.StdEncoding.DecodeString(e.Value)
		if err != nil {
			return nil, err
		}
		return gzipDecompress(compressed)
	default:
		return base64.StdEncoding.DecodeString(e.Value)
	}
}

func isTextLike(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	if strings.HasPrefix(ct, "text/") {
		return true
	}
	switch ct {
	case "application/json", "application/xml", "application/javascript":
		return true
	}
	return false
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Ref is the $ref envelope shape from spec.md §4.5/§6.
type Ref struct {
	Store string `json:"store"`
	Key   string `json:"key"`
}

type refEnvelope struct {
	Ref Ref `json:"$ref"`
}

// Externalizer decides whether a JSON-serialized envelope should be
// inlined or written to the default blob store, per spec.md §4.5's
// payload_store_threshold rule.
type Externalizer struct {
	Store     BlobStore
	Threshold int64
}

// NewExternalizer returns an Externalizer backed by store, externalizing
// anything whose JSON-serialized size meets or exceeds threshold bytes.
func NewExternalizer(store BlobStore, threshold int64) *Externalizer {
	return &Externalizer{Store: store, Threshold: threshold}
}

// Externalize inspects envelope's JSON size; if it is below the
// threshold it is returned unchanged, otherwise it is written to the
// blob store and a $ref wrapper is returned in its place.
func (e *Externalizer) Externalize(ctx context.Context, envelope map[string]any) (map[string]any, error) {
	data, err := json.Marshal(envelope)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) < e.Threshold {
		return envelope, nil
	}

	key := e.Store.GenerateKey()
	if _, err := e.Store.Store(ctx, key, data); err != nil {
		return nil, err
	}

	ref := refEnvelope{Ref: Ref{Store: e.Store.Name(), Key: key}}
	b, err := json.Marshal(ref)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Resolve transparently fetches and inlines a $ref envelope; any other
// envelope is returned unchanged (spec.md §4.5: "Retrieval resolves
// references transparently").
func (e *Externalizer) Resolve(ctx context.Context, envelope map[string]any) (map[string]any, error) {
	refRaw, ok := envelope["$ref"]
	if !ok {
		return envelope, nil
	}
	refMap, ok := refRaw.(map[string]any)
	if !ok {
		return envelope, nil
	}
	key, _ := refMap["key"].(string)
	data, found, err := e.Store.Fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Delete is idempotent on non-reference envelopes (spec.md §4.5:
// "deletion is idempotent on non-references").
func (e *Externalizer) Delete(ctx context.Context, envelope map[string]any) error {
	refRaw, ok := envelope["$ref"]
	if !ok {
		return nil
	}
	refMap, ok := refRaw.(map[string]any)
	if !ok {
		return nil
	}
	key, _ := refMap["key"].(string)
	return e.Store.Delete(ctx, key)
}
