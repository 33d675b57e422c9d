package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeOverridesDefaults(t *testing.T) {
	cfg, err := Decode(strings.NewReader(`
log_level = "debug"

[window]
width = 1280

[renderer]
frames_in_flight = 3
clear_color = [0.0, 0.0, 0.0, 1.0]
`))
	require.NoError(t, err)

	assert.Equal(t, "Iliad", cfg.Window.Title)
	assert.Equal(t, 1280, cfg.Window.Width)
	assert.Equal(t, 600, cfg.Window.Height)
	assert.Equal(t, 3, cfg.Renderer.FramesInFlight)
	assert.True(t, cfg.Renderer.PreferLowLatency)
	assert.Equal(t, [4]float32{0, 0, 0, 1}, cfg.Renderer.ClearColor)
	assert.Equal(t, 1000, cfg.Descriptors.FramePoolMaxSets)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestDecodeRejectsUnknownKeys(t *testing.T) {
	_, err := Decode(strings.NewReader("[renderer]\nframes_in_fligth = 3\n"))
	require.True(t, errors.Is(err, ErrInvalid))
	assert.Contains(t, err.Error(), "frames_in_fligth")
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name string
		edit func(*Config)
	}{
		{"zero width", func(c *Config) { c.Window.Width = 0 }},
		{"no frames in flight", func(c *Config) { c.Renderer.FramesInFlight = 0 }},
		{"too many frames in flight", func(c *Config) { c.Renderer.FramesInFlight = MaxFramesInFlight + 1 }},
		{"empty frame pool", func(c *Config) { c.Descriptors.FramePoolMaxSets = 0 }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.edit(&cfg)
			require.True(t, errors.Is(cfg.Validate(), ErrInvalid))
		})
	}

	require.NoError(t, Default().Validate())
}

func TestLoad(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	var buf bytes.Buffer
	want := Default()
	want.Window.Title = "Sponza"
	want.Validation = false
	require.NoError(t, want.Encode(&buf))

	path := filepath.Join(t.TempDir(), "iliad.toml")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, want, cfg)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
