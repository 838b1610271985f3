/* SPDX-License-Identifier: GPL-3.0-or-later
 *
 * rtsp-pusher
 * Copyright (C) 2025 e1z0 <e1z0@icloud.com>
 *
 * This file is part of rtsp-pusher.
 *
 * rtsp-pusher is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * rtsp-pusher is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with rtsp-pusher.  If not, see <https://www.gnu.org/licenses/>.
 */

// Package config loads the pipeline's stream parameters. Parameters are
// supplied by an external collaborator (the GUI, per spec §1) that this
// module does not implement; the YAML settings file is the artifact that
// collaborator would have written, mirroring how the teacher's own
// settings file is the artifact its Qt settings dialog produces.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

// EnvOverride names the environment variable that points at a non-default
// settings file, e.g. for tests or alternate deployments.
const EnvOverride = "RTSP_PUSHER_CONFIG"

// StreamConfig is the §6 "Inputs to the core" struct.
type StreamConfig struct {
	VideoSource      string `yaml:"video_source"`       // "desktop" on windows, an X display (":0.0") elsewhere
	Width            int    `yaml:"width"`
	Height           int    `yaml:"height"`
	FPS              int    `yaml:"fps"`
	VideoBitrateBPS  int64  `yaml:"video_bitrate_bps"`
	AudioSampleRate  int    `yaml:"audio_sample_rate"`
	AudioChannels    int    `yaml:"audio_channels"`
	RTSPURL          string `yaml:"rtsp_url"`
	// AudioSource overrides automatic loopback-device discovery. On
	// windows it is normally left empty so C2 can try "Stereo Mix"/
	// "立体声混音"; when empty, those same windows device names are tried
	// on every platform. On linux it names a PulseAudio monitor source,
	// and on darwin an avfoundation audio device, directly. This is a
	// supplement beyond
	// the distilled spec.md, which only documents the windows device-name
	// match.
	AudioSource string `yaml:"audio_source,omitempty"`
}

// DefaultPath returns ~/.config/rtsp-pusher/stream.yaml, honoring
// EnvOverride when set.
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvOverride); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "rtsp-pusher", "stream.yaml"), nil
}

// Load reads and validates a StreamConfig from path.
func Load(path string) (StreamConfig, error) {
	var cfg StreamConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate enforces the Config-kind failures from spec §7 ("missing URL,
// unknown source"): refuse to start rather than fail deep inside init.
func (c StreamConfig) Validate() error {
	if c.RTSPURL == "" {
		return fmt.Errorf("config: rtsp_url is required")
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("config: width/height must be positive")
	}
	if c.FPS <= 0 {
		return fmt.Errorf("config: fps must be positive")
	}
	if c.VideoBitrateBPS <= 0 {
		return fmt.Errorf("config: video_bitrate_bps must be positive")
	}
	if c.AudioSampleRate <= 0 {
		return fmt.Errorf("config: audio_sample_rate must be positive")
	}
	if c.AudioChannels <= 0 {
		return fmt.Errorf("config: audio_channels must be positive")
	}
	if c.VideoSource == "" {
		return fmt.Errorf("config: video_source is required")
	}
	return nil
}
