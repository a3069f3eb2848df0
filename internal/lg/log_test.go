package lg_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sgogulapati/gherkins/internal/lg"
)

func TestNewConsoleLogger(t *testing.T) {
	logger := lg.New(&lg.Config{ServiceName: "test", Debug: true, Format: "console"})
	assert.NotNil(t, logger)
	logger.Info("hello", lg.String("key", "value"), lg.Int("n", 1))
	logger.Debug("debug line", lg.Bool("flag", true))
}

func TestFromContextFallsBackToDiscard(t *testing.T) {
	logger := lg.FromContext(context.Background())
	assert.NotNil(t, logger)
	logger.Info("goes nowhere")
}

func TestAttachRoundTrip(t *testing.T) {
	logger := lg.New(&lg.Config{Format: "json"})
	ctx := lg.Attach(context.Background(), logger)
	assert.Equal(t, logger, lg.FromContext(ctx))
}

func TestDiscardWith(t *testing.T) {
	assert.NotNil(t, lg.Discard.With(lg.String("k", "v")))
	assert.NoError(t, lg.Discard.Sync())
}
