// internal/logging/redact_test.go
package logging

import (
	"context"
	"testing"

	"github.com/stewardlabs/governd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSecretMarshaler(t *testing.T) {
	secret := config.Secret("super-secret-value")

	core, observed := observer.New(zapcore.InfoLevel)
	logger := &Logger{zap: zap.New(core), config: NewDefaultConfig()}

	logger.Info(context.Background(), "test secret",
		zap.Object("creds", &secretMarshaler{key: "password", val: secret}))

	logs := observed.All()
	require.Len(t, logs, 1)

	var found bool
	for _, field := range logs[0].Context {
		if field.Key == "creds" {
			if enc, ok := field.Interface.(zapcore.ObjectMarshaler); ok {
				enc2 := zapcore.NewMapObjectEncoder()
				err := enc.MarshalLogObject(enc2)
				require.NoError(t, err)
				assert.Equal(t, "[REDACTED:18]", enc2.Fields["password"])
				found = true
			}
		}
	}
	assert.True(t, found, "creds field not found or not redacted")
}

func TestRedactedString(t *testing.T) {
	field := RedactedString("api_key", "sk-1234567890abcdef")

	core, observed := observer.New(zapcore.InfoLevel)
	logger := &Logger{zap: zap.New(core), config: NewDefaultConfig()}

	logger.Info(context.Background(), "test", field)

	logs := observed.All()
	require.Len(t, logs, 1)

	var found bool
	for _, f := range logs[0].Context {
		if f.Key == "api_key" {
			assert.Equal(t, "[REDACTED:19]", f.String)
			found = true
		}
	}
	assert.True(t, found, "api_key field not found")
}

func TestNewRedactingEncoder(t *testing.T) {
	t.Run("compiles default config", func(t *testing.T) {
		cfg := NewDefaultConfig()
		encoder, err := NewRedactingEncoder(newEncoder("json"), cfg.Redaction)
		require.NoError(t, err)
		assert.Len(t, encoder.redactFields, len(cfg.Redaction.Fields))
		assert.Len(t, encoder.redactRegex, len(cfg.Redaction.Patterns))
	})

	t.Run("invalid pattern", func(t *testing.T) {
		encoder, err := NewRedactingEncoder(newEncoder("json"), RedactionConfig{
			Enabled:  true,
			Patterns: []string{"[invalid("},
		})
		assert.Error(t, err)
		assert.Nil(t, encoder)
		assert.Contains(t, err.Error(), "invalid redaction pattern")
	})

	t.Run("disabled skips validation", func(t *testing.T) {
		encoder, err := NewRedactingEncoder(newEncoder("json"), RedactionConfig{
			Enabled:  false,
			Patterns: []string{"[invalid("},
		})
		assert.NoError(t, err)
		assert.NotNil(t, encoder)
	})
}

func TestRedactingEncoderKeyMatching(t *testing.T) {
	encoder, err := NewRedactingEncoder(newEncoder("json"), RedactionConfig{
		Enabled: true,
		Fields:  []string{"token"},
	})
	require.NoError(t, err)

	assert.True(t, encoder.shouldRedactKey("token"))
	assert.True(t, encoder.shouldRedactKey("TOKEN"))
	assert.False(t, encoder.shouldRedactKey("topic"))
}

func TestRedactingEncoderMethods(t *testing.T) {
	encoder, err := NewRedactingEncoder(newEncoder("json"), RedactionConfig{
		Enabled: true,
		Fields:  []string{"password", "token", "credential"},
	})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		encoder.AddString("password", "secret")
		encoder.AddByteString("token", []byte("token-value"))
		encoder.AddBinary("credential", []byte{0x00})
		_ = encoder.AddReflected("safe_field", "value")
		_ = encoder.AddObject("credential", zapcore.ObjectMarshalerFunc(func(enc zapcore.ObjectEncoder) error {
			return nil
		}))
		_ = encoder.AddArray("token", zapcore.ArrayMarshalerFunc(func(enc zapcore.ArrayEncoder) error {
			return nil
		}))
		_ = encoder.Clone()
	})
}
