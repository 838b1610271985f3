package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func validConfig() StreamConfig {
	return StreamConfig{
		VideoSource:     "desktop",
		Width:           1920,
		Height:          1080,
		FPS:             30,
		VideoBitrateBPS: 4_000_000,
		AudioSampleRate: 48000,
		AudioChannels:   2,
		RTSPURL:         "rtsp://localhost:8554/live",
	}
}

func Test_Validate_AcceptsCompleteConfig(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func Test_Validate_RequiresRTSPURL(t *testing.T) {
	c := validConfig()
	c.RTSPURL = ""
	require.Error(t, c.Validate())
}

func Test_Validate_RequiresPositiveDimensions(t *testing.T) {
	c := validConfig()
	c.Width = 0
	require.Error(t, c.Validate())

	c = validConfig()
	c.Height = -1
	require.Error(t, c.Validate())
}

func Test_Validate_RequiresPositiveFPS(t *testing.T) {
	c := validConfig()
	c.FPS = 0
	require.Error(t, c.Validate())
}

func Test_Validate_RequiresAudioParameters(t *testing.T) {
	c := validConfig()
	c.AudioSampleRate = 0
	require.Error(t, c.Validate())

	c = validConfig()
	c.AudioChannels = 0
	require.Error(t, c.Validate())
}

func Test_Validate_RequiresVideoSource(t *testing.T) {
	c := validConfig()
	c.VideoSource = ""
	require.Error(t, c.Validate())
}

func Test_Load_ReadsAndValidatesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stream.yaml")
	yaml := `
video_source: desktop
width: 1280
height: 720
fps: 25
video_bitrate_bps: 2000000
audio_sample_rate: 44100
audio_channels: 2
rtsp_url: rtsp://example.invalid/stream
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 1280, cfg.Width)
	require.Equal(t, "rtsp://example.invalid/stream", cfg.RTSPURL)
}

func Test_Load_RejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stream.yaml")
	require.NoError(t, os.WriteFile(path, []byte("width: 100\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func Test_DefaultPath_HonorsEnvOverride(t *testing.T) {
	t.Setenv(EnvOverride, "/tmp/custom-stream.yaml")
	p, err := DefaultPath()
	require.NoError(t, err)
	require.Equal(t, "/tmp/custom-stream.yaml", p)
}
