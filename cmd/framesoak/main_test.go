package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	root := newRootCommand(&stdout, &stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), err
}

// statsDocument returns the JSON printed after the summary line
func statsDocument(t *testing.T, output string) map[string]any {
	summary, stats, found := strings.Cut(output, "\n")
	require.True(t, found)
	require.Contains(t, summary, "frames in")

	var document map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(stats)), &document))
	return document
}

func TestRunNoop(t *testing.T) {
	output, err := execute(t, "run", "--frames", "8", "--recorders", "3")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(output, "8 frames in"))

	document := statsDocument(t, output)
	require.Contains(t, document, "Queues")
	require.Contains(t, document, "LinearPages")
}

func TestRunNoopWithDisplay(t *testing.T) {
	path := writeConfig(t, `
frames = 5
recorders = 2

[display]
enabled = true
width = 64
height = 32
buffer_count = 3
`)

	output, err := execute(t, "run", "--config", path)
	require.NoError(t, err)
	statsDocument(t, output)
}

func TestRunWebGPUNoop(t *testing.T) {
	output, err := execute(t, "run", "--backend", "webgpu-noop", "--frames", "4", "--recorders", "2")
	require.NoError(t, err)
	statsDocument(t, output)
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	_, err := execute(t, "run", "--frames", "-1")
	require.Error(t, err)
}

func TestConfigCommand(t *testing.T) {
	output, err := execute(t, "config", "--backend", "webgpu", "--recorders", "7")
	require.NoError(t, err)

	var cfg Config
	require.NoError(t, toml.Unmarshal([]byte(output), &cfg))
	require.Equal(t, backendWebGPU, cfg.Backend)
	require.Equal(t, 7, cfg.Recorders)
	require.Equal(t, defaultConfig().Frames, cfg.Frames)
}
