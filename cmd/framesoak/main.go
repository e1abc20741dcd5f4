// Command framesoak drives a graphics device through many frames of concurrently recorded command
// contexts and reports the device statistics at the end.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

type flags struct {
	configPath string
	backend    string
	frames     int
	recorders  int
}

// effectiveConfig loads the config file and applies the flags that were set on cmd
func (f *flags) effectiveConfig(cmd *cobra.Command) (Config, error) {
	cfg, err := loadConfig(f.configPath)
	if err != nil {
		return cfg, err
	}

	if cmd.Flags().Changed("backend") {
		cfg.Backend = f.backend
	}
	if cmd.Flags().Changed("frames") {
		cfg.Frames = f.frames
	}
	if cmd.Flags().Changed("recorders") {
		cfg.Recorders = f.recorders
	}

	return cfg, cfg.validate()
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	var f flags

	root := &cobra.Command{
		Use:           "framesoak",
		Short:         "Soak a graphics device with concurrently recorded frames",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&f.configPath, "config", "", "TOML configuration file")
	root.PersistentFlags().StringVar(&f.backend, "backend", backendNoop, "driver backend: noop, vulkan, webgpu or webgpu-noop")
	root.PersistentFlags().IntVar(&f.frames, "frames", 0, "number of frames to record")
	root.PersistentFlags().IntVar(&f.recorders, "recorders", 0, "number of contexts recorded concurrently each frame")

	run := &cobra.Command{
		Use:   "run",
		Short: "Run the soak and print the device statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.effectiveConfig(cmd)
			if err != nil {
				return err
			}

			logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.logLevel()}))
			backend, err := openBackend(logger, &cfg)
			if err != nil {
				return err
			}
			defer backend.destroy()

			result, err := runSoak(cmd.Context(), logger, &cfg, backend.device, backend.swapChain)
			if err != nil {
				return err
			}
			return result.write(stdout)
		},
	}

	config := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.effectiveConfig(cmd)
			if err != nil {
				return err
			}

			data, err := cfg.marshal()
			if err != nil {
				return err
			}
			_, err = stdout.Write(data)
			return err
		},
	}

	root.AddCommand(run, config)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := newRootCommand(os.Stdout, os.Stderr).ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "framesoak: %v\n", err)
		stop()
		os.Exit(1)
	}
}
