package main

import (
	"bytes"
	"log/slog"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"
	"github.com/vkngwrapper/forge/graphics"
)

const (
	backendNoop       = "noop"
	backendVulkan     = "vulkan"
	backendWebGPU     = "webgpu"
	backendWebGPUNoop = "webgpu-noop"
)

// DeviceConfig is passed through to graphics.CreateOptions
type DeviceConfig struct {
	ShaderVisibleDescriptors uint32 `toml:"shader_visible_descriptors"`
	ShaderVisibleSamplers    uint32 `toml:"shader_visible_samplers"`
	CPUPageSize              uint64 `toml:"cpu_page_size"`
	GPUPageSize              uint64 `toml:"gpu_page_size"`
	ExternallySynchronized   bool   `toml:"externally_synchronized"`
}

// DisplayConfig presents every frame through a noop swap chain
type DisplayConfig struct {
	Enabled           bool   `toml:"enabled"`
	Width             uint32 `toml:"width"`
	Height            uint32 `toml:"height"`
	BufferCount       int    `toml:"buffer_count"`
	MaxFramesInFlight int    `toml:"max_frames_in_flight"`
}

type VulkanConfig struct {
	Debug          bool `toml:"debug"`
	PhysicalDevice int  `toml:"physical_device"`
}

// Config is the soak configuration, read from TOML and overridden by flags
type Config struct {
	Backend  string `toml:"backend"`
	LogLevel string `toml:"log_level"`

	Frames      int    `toml:"frames"`
	Recorders   int    `toml:"recorders"`
	UploadBytes uint64 `toml:"upload_bytes"`
	BufferBytes uint32 `toml:"buffer_bytes"`

	Device  DeviceConfig  `toml:"device"`
	Display DisplayConfig `toml:"display"`
	Vulkan  VulkanConfig  `toml:"vulkan"`
}

func defaultConfig() Config {
	return Config{
		Backend:     backendNoop,
		LogLevel:    "info",
		Frames:      100,
		Recorders:   4,
		UploadBytes: 1024,
		BufferBytes: 4096,
		Device: DeviceConfig{
			ShaderVisibleDescriptors: 1024,
			ShaderVisibleSamplers:    64,
		},
		Display: DisplayConfig{
			Width:             1280,
			Height:            720,
			BufferCount:       3,
			MaxFramesInFlight: 2,
		},
	}
}

// loadConfig reads path over the defaults. Unknown keys are an error.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "reading config %s", path)
	}

	decoder := toml.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	err = decoder.Decode(&cfg)
	if err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return cfg, errors.Newf("config %s has unknown keys:\n%s", path, strict.String())
		}
		return cfg, errors.Wrapf(err, "parsing config %s", path)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Backend {
	case backendNoop, backendVulkan, backendWebGPU, backendWebGPUNoop:
	default:
		return errors.Newf("unknown backend %q", c.Backend)
	}

	if c.Frames <= 0 {
		return errors.Newf("frames must be positive, not %d", c.Frames)
	}
	if c.Recorders <= 0 {
		return errors.Newf("recorders must be positive, not %d", c.Recorders)
	}
	if c.Recorders > 1 && c.Device.ExternallySynchronized {
		return errors.New("an externally synchronized device cannot be soaked by more than one recorder")
	}
	if c.BufferBytes == 0 || c.BufferBytes%4 != 0 {
		return errors.Newf("buffer_bytes must be a positive multiple of 4, not %d", c.BufferBytes)
	}
	if c.UploadBytes == 0 || c.UploadBytes > uint64(c.BufferBytes) {
		return errors.Newf("upload_bytes (%d) must be positive and fit in buffer_bytes (%d)", c.UploadBytes, c.BufferBytes)
	}

	if c.Display.Enabled {
		if c.Backend != backendNoop {
			return errors.Newf("the display soak needs a swap chain, which only the %s backend provides headless", backendNoop)
		}
		if c.Display.Width == 0 || c.Display.Height == 0 || c.Display.BufferCount < 2 {
			return errors.New("the display needs a non-empty size and at least two buffers")
		}
	}

	var level slog.Level
	return errors.Wrapf(level.UnmarshalText([]byte(c.LogLevel)), "log_level")
}

func (c *Config) logLevel() slog.Level {
	var level slog.Level
	_ = level.UnmarshalText([]byte(c.LogLevel))
	return level
}

func (c *Config) createOptions() graphics.CreateOptions {
	options := graphics.CreateOptions{
		ShaderVisibleDescriptors: c.Device.ShaderVisibleDescriptors,
		ShaderVisibleSamplers:    c.Device.ShaderVisibleSamplers,
		CPUPageSize:              c.Device.CPUPageSize,
		GPUPageSize:              c.Device.GPUPageSize,
	}
	if c.Device.ExternallySynchronized {
		options.Flags |= graphics.CreateExternallySynchronized
	}
	return options
}

func (c *Config) marshal() ([]byte, error) {
	return toml.Marshal(c)
}
