package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizingHandlerRedactsCredentials(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "json", slog.LevelDebug)

	logger.Info("authenticated", "jwt", "eyJhbGciOi...", "account", "GABC", "auth_token", "x")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, redactedValue, entry["jwt"])
	assert.Equal(t, redactedValue, entry["auth_token"])
	assert.Equal(t, "GABC", entry["account"])
}

func TestSanitizingHandlerFingerprintsKYCIdentifiers(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "json", slog.LevelDebug).With("receiver_id", "customer-42")

	logger.Info("submitted")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.NotContains(t, entry, "receiver_id")
	assert.Equal(t, Fingerprint("customer-42"), entry["receiver_id_fp"])
	assert.NotContains(t, buf.String(), "customer-42")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}
