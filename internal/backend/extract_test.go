package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractLocation(t *testing.T) {
	tests := []struct {
		name string
		data []any
		want string
		ok   bool
	}{
		{
			name: "nested file object with name",
			data: []any{[]any{map[string]any{"name": "tmp/out.png", "is_file": true}}},
			want: "tmp/out.png",
			ok:   true,
		},
		{
			name: "nested file object with url",
			data: []any{[]any{map[string]any{"url": "https://w.example/file=a.png"}}},
			want: "https://w.example/file=a.png",
			ok:   true,
		},
		{
			name: "flat file object with url",
			data: []any{map[string]any{"url": "https://w.example/file=b.mp3"}},
			want: "https://w.example/file=b.mp3",
			ok:   true,
		},
		{
			name: "bare string in first slot",
			data: []any{"tmp/direct.png"},
			want: "tmp/direct.png",
			ok:   true,
		},
		{
			name: "string in alternate slot",
			data: []any{map[string]any{"seed": float64(7)}, "tmp/alt.wav"},
			want: "tmp/alt.wav",
			ok:   true,
		},
		{
			name: "empty data",
			data: nil,
			ok:   false,
		},
		{
			name: "object without location fields",
			data: []any{map[string]any{"seed": float64(7)}},
			ok:   false,
		},
		{
			name: "empty nested array",
			data: []any{[]any{}},
			ok:   false,
		},
		{
			name: "empty string is not a location",
			data: []any{""},
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extractLocation(tt.data)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestErrorClass(t *testing.T) {
	require.Equal(t, "transport", Class(&TransportError{Backend: "x"}))
	require.Equal(t, "protocol", Class(&ProtocolError{Backend: "x"}))
	require.Equal(t, "backend", Class(&BackendError{Backend: "x"}))
	require.Equal(t, "unknown", Class(context.Canceled))
}
