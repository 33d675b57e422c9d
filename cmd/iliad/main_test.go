package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliadengine/iliad/internal/config"
)

func TestConfigCommandPrintsEffectiveConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iliad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[renderer]\nframes_in_flight = 3\n"), 0o644))

	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"config", "--config", path})
	require.NoError(t, root.Execute())

	cfg, err := config.Decode(&out)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Renderer.FramesInFlight)
	assert.Equal(t, config.Default().Window, cfg.Window)
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iliad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[renderer]\nframes_in_flight = 9\n"), 0o644))

	root := newRootCommand()
	root.SetArgs([]string{"run", "--config", path})
	err := root.Execute()
	require.True(t, errors.Is(err, config.ErrInvalid))
}

func TestMeshFlagIsUploadOnly(t *testing.T) {
	run := newRunCommand()
	flag := run.Flags().Lookup("mesh")
	require.NotNil(t, flag)
	assert.Contains(t, flag.Usage, "not drawn")
}
