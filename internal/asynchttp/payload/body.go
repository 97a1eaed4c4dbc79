package payload

import (
	"context"

	"github.com/bdurand/asynchttp-dispatcher/internal/asynchttp/model"
)

// BuildResponseBody encodes a raw response body and applies the
// payload_store_threshold externalization rule in one step, producing
// the model.Payload shape the reactor attaches to a completed
// Response (spec.md §4.5, both the encoding rule and the
// externalization rule operating on the same body envelope).
func BuildResponseBody(ctx context.Context, ext *Externalizer, contentType, charset string, body []byte) (*model.Payload, error) {
	encoded, err := Encode(contentType, charset, body)
	if err != nil {
		return nil, err
	}

	envelope := map[string]any{
		"encoding": encoded.Encoding,
		"value":    encoded.Value,
		"charset":  encoded.Charset,
	}
	out, err := ext.Externalize(ctx, envelope)
	if err != nil {
		return nil, err
	}

	if refRaw, ok := out["$ref"]; ok {
		refMap, _ := refRaw.(map[string]any)
		return &model.Payload{
			Ref: &model.Ref{
				Store: asString(refMap["store"]),
				Key:   asString(refMap["key"]),
			},
		}, nil
	}

	return &model.Payload{
		Encoding: asString(out["encoding"]),
		Value:    asString(out["value"]),
		Charset:  asString(out["charset"]),
	}, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
