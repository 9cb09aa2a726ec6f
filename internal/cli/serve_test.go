package cli

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeStopsWhenContextIsDone(t *testing.T) {
	path := writeConfig(t, "name: shop\nmodels: [user]\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var logs bytes.Buffer
	err := runServe(ctx, &RootOptions{Format: "text"}, path, &logs)
	require.NoError(t, err)
	assert.Contains(t, logs.String(), "Service connected")
	assert.Contains(t, logs.String(), "Shutting down")
	assert.Contains(t, logs.String(), "Service disconnected")
}

func TestServeRejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, "models: [user, user]\n")

	err := runServe(context.Background(), &RootOptions{Format: "text"}, path, &bytes.Buffer{})
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestServeCommandViaRoot(t *testing.T) {
	path := writeConfig(t, "name: shop\nmodels: [user]\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := execute(t, ctx, "serve", "--config", path)
	assert.NoError(t, err)
}
