package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"defaults", *NewDefaultConfig(), false},
		{"debug console", Config{Level: "debug", Format: "console"}, false},
		{"bad level", Config{Level: "loud", Format: "json"}, true},
		{"bad format", Config{Level: "info", Format: "xml"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(&Config{
		Level:  "debug",
		Format: "console",
		Fields: map[string]string{"service": "hitld"},
	})
	require.NoError(t, err)
	require.NotNil(t, logger)

	logger, err = NewLogger(nil)
	require.NoError(t, err)
	require.NotNil(t, logger)

	_, err = NewLogger(&Config{Level: "loud", Format: "json"})
	require.Error(t, err)
}

func TestContextFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ContextFields(ctx))

	ctx = WithSessionID(ctx, "s1")
	fields := ContextFields(ctx)
	require.Len(t, fields, 1)
	assert.Equal(t, zap.String("session_id", "s1"), fields[0])

	assert.Equal(t, "s1", SessionIDFromContext(ctx))
	assert.Empty(t, SessionIDFromContext(context.Background()))
}

func TestNewTestLogger(t *testing.T) {
	logger, observed := NewTestLogger()
	logger.Info("hello", zap.String("k", "v"))

	entries := observed.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "hello", entries[0].Message)
}
