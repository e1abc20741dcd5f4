package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/forge/graphics"
)

func writeConfig(t *testing.T, contents string) string {
	path := filepath.Join(t.TempDir(), "soak.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	require.NoError(t, cfg.validate())
	require.Equal(t, backendNoop, cfg.Backend)
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
backend = "webgpu-noop"
frames = 12
log_level = "debug"

[device]
cpu_page_size = 65536
externally_synchronized = true

[display]
enabled = false
`)

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	require.Equal(t, backendWebGPUNoop, cfg.Backend)
	require.Equal(t, 12, cfg.Frames)
	// Unset keys keep their defaults
	require.Equal(t, 4, cfg.Recorders)
	require.Equal(t, uint32(720), cfg.Display.Height)

	options := cfg.createOptions()
	require.Equal(t, uint64(65536), options.CPUPageSize)
	require.Equal(t, graphics.CreateExternallySynchronized, options.Flags)

	// Four recorders cannot share an externally synchronized device
	require.Error(t, cfg.validate())
	cfg.Recorders = 1
	require.NoError(t, cfg.validate())
}

func TestLoadConfigUnknownKey(t *testing.T) {
	path := writeConfig(t, `
backend = "noop"
frame = 12
`)

	_, err := loadConfig(path)
	require.ErrorContains(t, err, "unknown keys")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		modify func(cfg *Config)
	}{
		{"unknown backend", func(cfg *Config) { cfg.Backend = "d3d12" }},
		{"no frames", func(cfg *Config) { cfg.Frames = 0 }},
		{"no recorders", func(cfg *Config) { cfg.Recorders = -1 }},
		{"unaligned buffer", func(cfg *Config) { cfg.BufferBytes = 10 }},
		{"empty upload", func(cfg *Config) { cfg.UploadBytes = 0 }},
		{"oversized upload", func(cfg *Config) { cfg.UploadBytes = uint64(cfg.BufferBytes) + 1 }},
		{"display without swap chain", func(cfg *Config) {
			cfg.Backend = backendVulkan
			cfg.Display.Enabled = true
		}},
		{"single buffered display", func(cfg *Config) {
			cfg.Display.Enabled = true
			cfg.Display.BufferCount = 1
		}},
		{"bad log level", func(cfg *Config) { cfg.LogLevel = "loud" }},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			cfg := defaultConfig()
			testCase.modify(&cfg)
			require.Error(t, cfg.validate())
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := defaultConfig()
	cfg.Display.Enabled = true
	cfg.Vulkan.PhysicalDevice = 1

	data, err := cfg.marshal()
	require.NoError(t, err)

	var decoded Config
	require.NoError(t, toml.Unmarshal(data, &decoded))
	require.Equal(t, cfg, decoded)
}
