package handler

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomatool/ketchup/internal/assertion"
	"github.com/tomatool/ketchup/internal/config"
	"github.com/tomatool/ketchup/internal/placeholder"
)

func TestCommonSteps_StoreAndCompare(t *testing.T) {
	s := NewScenario(config.NewProvider(map[string]string{"admin.email": "root@example.com"}))
	st := &commonSteps{s: s}

	require.NoError(t, st.store("$$admin.email$$", "email"))
	assert.NoError(t, st.storedValueEquals("email", "root@example.com"))
	assert.ErrorIs(t, st.storedValueEquals("email", "other"), assertion.ErrFailed)
	assert.Error(t, st.storedValueEquals("missing", "x"))

	require.NoError(t, st.store("{{randomnumber}}", "n"))
	assert.True(t, s.Context.Has("n"))

	assert.ErrorIs(t, st.store("$$none$$", "x"), placeholder.ErrMissingConfigKey)
}

// captureLog sends debug output of the global logger to a buffer
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	logger, level := log.Logger, zerolog.GlobalLevel()
	log.Logger = zerolog.New(&buf)
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	t.Cleanup(func() {
		log.Logger = logger
		zerolog.SetGlobalLevel(level)
	})
	return &buf
}

func TestCommonSteps_StoreDoesNotLogValue(t *testing.T) {
	buf := captureLog(t)
	st := &commonSteps{s: NewScenario(nil)}

	require.NoError(t, st.store("s3cr3t-token", "token"))
	assert.Contains(t, buf.String(), `"key":"token"`)
	assert.NotContains(t, buf.String(), "s3cr3t-token")
}

func TestCommonSteps_Wait(t *testing.T) {
	st := &commonSteps{s: NewScenario(nil)}

	start := time.Now()
	require.NoError(t, st.wait(context.Background(), "20ms"))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, st.wait(ctx, "1h"), context.Canceled)

	assert.Error(t, st.wait(context.Background(), "soon"))
}
