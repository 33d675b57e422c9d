package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFiltersBelowLevel(t *testing.T) {
	var out bytes.Buffer
	logger, err := New(&out, "warn")
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "frame", 3)

	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), "shown")
	assert.Contains(t, out.String(), "frame=3")
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(&bytes.Buffer{}, "loud")
	require.Error(t, err)
}

func TestOrNop(t *testing.T) {
	logger := OrNop(nil)
	require.NotNil(t, logger)
	logger.Error("discarded")
}
