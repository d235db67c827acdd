package logger

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
)

func TestWithLogger(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx := WithLogger(context.Background(), l)
	if got := FromContext(ctx); got != l {
		t.Error("FromContext() should return the stored logger")
	}

	FromContext(ctx).Info("hello")
	if buf.Len() == 0 {
		t.Error("expected output from the stored logger")
	}
}

func TestFromContext_Default(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
	}{
		{"empty context", context.Background()},
		{"nil logger", WithLogger(context.Background(), nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FromContext(tt.ctx); got != slog.Default() {
				t.Error("FromContext() should fall back to slog.Default()")
			}
		})
	}
}
