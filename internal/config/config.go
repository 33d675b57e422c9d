// Package config loads the engine's TOML configuration file.
package config

import (
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"
)

// MaxFramesInFlight bounds how far the CPU may run ahead of the GPU.
const MaxFramesInFlight = 4

var ErrInvalid = errors.New("invalid configuration")

type Window struct {
	Title  string `toml:"title"`
	Width  int    `toml:"width"`
	Height int    `toml:"height"`
}

type Renderer struct {
	FramesInFlight   int        `toml:"frames_in_flight"`
	PreferLowLatency bool       `toml:"prefer_low_latency"`
	ClearColor       [4]float32 `toml:"clear_color"`
}

type Descriptors struct {
	// FramePoolMaxSets is how many descriptor sets draw systems may allocate
	// from a frame's transient pool each frame.
	FramePoolMaxSets int `toml:"frame_pool_max_sets"`
}

type Config struct {
	Window      Window      `toml:"window"`
	Renderer    Renderer    `toml:"renderer"`
	Descriptors Descriptors `toml:"descriptors"`
	// Validation enables the Khronos validation layer and debug messenger.
	Validation bool   `toml:"validation"`
	LogLevel   string `toml:"log_level"`
}

func Default() Config {
	return Config{
		Window: Window{
			Title:  "Iliad",
			Width:  800,
			Height: 600,
		},
		Renderer: Renderer{
			FramesInFlight:   2,
			PreferLowLatency: true,
			ClearColor:       [4]float32{0.1, 0.1, 0.1, 1},
		},
		Descriptors: Descriptors{
			FramePoolMaxSets: 1000,
		},
		Validation: true,
		LogLevel:   "info",
	}
}

// Load reads the file at path over the defaults. An empty path returns the
// defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "open config")
	}
	defer f.Close()

	cfg, err := Decode(f)
	if err != nil {
		return Config{}, errors.Wrapf(err, "load %s", path)
	}
	return cfg, nil
}

// Decode reads TOML from r over the defaults. Keys that match no field are
// rejected.
func Decode(r io.Reader) (Config, error) {
	cfg := Default()

	err := toml.NewDecoder(r).DisallowUnknownFields().Decode(&cfg)
	if err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return Config{}, errors.Mark(errors.Newf("unknown keys:\n%s", strict.String()), ErrInvalid)
		}
		return Config{}, errors.Wrap(err, "decode config")
	}

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.Window.Width <= 0 || c.Window.Height <= 0 {
		return errors.Mark(errors.Newf("window size %dx%d", c.Window.Width, c.Window.Height), ErrInvalid)
	}
	if c.Renderer.FramesInFlight < 1 || c.Renderer.FramesInFlight > MaxFramesInFlight {
		return errors.Mark(errors.Newf("frames_in_flight must be between 1 and %d, got %d",
			MaxFramesInFlight, c.Renderer.FramesInFlight), ErrInvalid)
	}
	if c.Descriptors.FramePoolMaxSets < 1 {
		return errors.Mark(errors.Newf("frame_pool_max_sets %d", c.Descriptors.FramePoolMaxSets), ErrInvalid)
	}
	return nil
}

// Encode writes c as TOML.
func (c Config) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}
