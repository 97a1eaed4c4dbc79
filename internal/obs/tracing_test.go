// Copyright 2025 James Ross
package obs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdurand/asynchttp-dispatcher/internal/config"
)

func TestMaybeInitTracing(t *testing.T) {
	tests := []struct {
		name      string
		cfg       *config.Config
		expectNil bool
	}{
		{
			name: "tracing disabled",
			cfg: &config.Config{
				Observability: config.Observability{
					Tracing: config.TracingConfig{Enabled: false},
				},
			},
			expectNil: true,
		},
		{
			name: "tracing enabled without endpoint",
			cfg: &config.Config{
				Observability: config.Observability{
					Tracing: config.TracingConfig{Enabled: true},
				},
			},
			expectNil: true,
		},
		{
			name: "tracing enabled with endpoint",
			cfg: &config.Config{
				Observability: config.Observability{
					Tracing: config.TracingConfig{
						Enabled:    true,
						Endpoint:   "http://localhost:4318/v1/traces",
						SampleRate: 1.0,
					},
				},
			},
			expectNil: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tp, err := MaybeInitTracing(tc.cfg)
			require.NoError(t, err)
			if tc.expectNil {
				assert.Nil(t, tp)
				return
			}
			require.NotNil(t, tp)
			assert.NoError(t, TracerShutdown(context.Background(), tp))
		})
	}
}

func TestTraceContextRoundTrip(t *testing.T) {
	ctx, span := ContextWithTaskSpan(context.Background(), "task-1", "GET", "http://example.test", "", "")
	defer span.End()

	carrier := InjectTraceContext(ctx)
	restored := ExtractTraceContext(context.Background(), carrier)
	assert.NotNil(t, restored)
}

func TestKeyValue(t *testing.T) {
	kv := KeyValue("n", 5)
	assert.Equal(t, "n", string(kv.Key))
}

func TestRecordErrorAndSuccessAreSafeWithoutSpan(t *testing.T) {
	ctx := context.Background()
	RecordError(ctx, nil)
	SetSpanSuccess(ctx)
	AddEvent(ctx, "noop")
}
