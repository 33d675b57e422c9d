package main

import (
	"log"
	"os"
	"runtime"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"

	"github.com/iliadengine/iliad/internal/assets"
	"github.com/iliadengine/iliad/internal/config"
	"github.com/iliadengine/iliad/internal/device/vulkan"
	"github.com/iliadengine/iliad/internal/engine"
	"github.com/iliadengine/iliad/internal/logging"
	"github.com/iliadengine/iliad/internal/renderer"
	"github.com/iliadengine/iliad/internal/window"
)

// SDL must be driven from the main thread.
func init() {
	runtime.LockOSThread()
}

func main() {
	err := newRootCommand().Execute()
	if err != nil {
		log.Fatalf("%+v\n", err)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "iliad",
		Short:         "Iliad renderer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCommand(), newConfigCommand())
	return root
}

func newRunCommand() *cobra.Command {
	var configPath, meshPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Open a window and render until it is closed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return run(cfg, meshPath)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a TOML configuration file")
	cmd.Flags().StringVar(&meshPath, "mesh", "", "path to an OBJ mesh to upload to the GPU as a smoke test; it is not drawn")
	return cmd
}

func newConfigCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return cfg.Encode(cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a TOML configuration file")
	return cmd
}

func run(cfg config.Config, meshPath string) error {
	logger, err := logging.New(os.Stderr, cfg.LogLevel)
	if err != nil {
		return err
	}

	win, err := window.New(window.Options{
		Title:  cfg.Window.Title,
		Width:  cfg.Window.Width,
		Height: cfg.Window.Height,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer win.Destroy()

	dev, err := vulkan.New(win.Handle(), vulkan.Options{
		ApplicationName: cfg.Window.Title,
		Validation:      cfg.Validation,
		Logger:          logger,
	})
	if err != nil {
		return errors.Wrap(err, "initialize vulkan")
	}
	defer dev.Destroy()

	e, err := engine.New(dev, win, engine.Options{
		Renderer: renderer.Options{
			FramesInFlight:   cfg.Renderer.FramesInFlight,
			PreferLowLatency: cfg.Renderer.PreferLowLatency,
			ClearColor:       cfg.Renderer.ClearColor,
			Logger:           logger,
		},
		FramePoolMaxSets: cfg.Descriptors.FramePoolMaxSets,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	var mesh *assets.Mesh
	if meshPath != "" {
		mesh, err = assets.NewLoader(dev, logger).LoadOBJFile(meshPath)
		if err != nil {
			return errors.CombineErrors(err, e.Destroy())
		}
		logger.Info("uploaded mesh", slog.String("Path", meshPath),
			slog.Int("Vertices", mesh.VertexCount()), slog.Int("Indices", mesh.IndexCount()),
			slog.Int("Stride", assets.VertexBindingDescriptions()[0].Stride),
			slog.Int("Attributes", len(assets.VertexAttributeDescriptions())))
	}

	err = e.Run()

	// Run has waited for the device, so nothing in flight references the mesh.
	if mesh != nil {
		mesh.Destroy()
	}
	return errors.CombineErrors(err, e.Destroy())
}
