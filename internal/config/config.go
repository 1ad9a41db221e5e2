// Package config loads and validates the Darpan kiosk configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// CameraConfig holds capture defaults applied to every session.
type CameraConfig struct {
	Width         int     `yaml:"width"`           // encoding surface width in pixels
	Height        int     `yaml:"height"`          // encoding surface height in pixels
	FPS           int     `yaml:"fps"`             // snapshot cadence while the scene is active
	IdleFPS       int     `yaml:"idle_fps"`        // snapshot cadence after the scene goes static
	IdleTimeoutMs int     `yaml:"idle_timeout_ms"` // static time before dropping to idle cadence
	MotionThresh  float64 `yaml:"motion_thresh"`   // percent of pixels that must change to count as motion
	MirrorPreview bool    `yaml:"mirror_preview"`  // horizontally flip the preview payload
}

// GatewayConfig describes the remote recognition service.
type GatewayConfig struct {
	BaseURL   string `yaml:"base_url"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// Config aggregates all application configuration.
type Config struct {
	ListenAddr       string        `yaml:"listen_addr"`
	DataDir          string        `yaml:"data_dir"`
	WebDir           string        `yaml:"web_dir"`
	RescanIntervalMs int           `yaml:"rescan_interval_ms"` // device hot-plug rescan interval
	Camera           CameraConfig  `yaml:"camera"`
	Gateway          GatewayConfig `yaml:"gateway"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		ListenAddr:       ":8080",
		RescanIntervalMs: 5000,
		Camera: CameraConfig{
			Width:         640,
			Height:        480,
			FPS:           15,
			IdleFPS:       5,
			IdleTimeoutMs: 2000,
			MotionThresh:  1.0,
			MirrorPreview: true,
		},
		Gateway: GatewayConfig{
			BaseURL:   "http://localhost:8000",
			TimeoutMs: 10000,
		},
	}
}

// Load reads the YAML configuration at path. A missing file is not an
// error: defaults are returned so the kiosk can run unconfigured.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.Validate()
	return cfg, nil
}

// Validate normalizes out-of-range values back to defaults rather than
// failing: a kiosk with a sloppy config file should still come up.
func (c *Config) Validate() {
	def := Default()

	if c.ListenAddr == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.RescanIntervalMs <= 0 {
		c.RescanIntervalMs = def.RescanIntervalMs
	}
	if c.Camera.Width <= 0 {
		c.Camera.Width = def.Camera.Width
	}
	if c.Camera.Height <= 0 {
		c.Camera.Height = def.Camera.Height
	}
	if c.Camera.FPS <= 0 {
		c.Camera.FPS = def.Camera.FPS
	}
	if c.Camera.IdleFPS <= 0 || c.Camera.IdleFPS > c.Camera.FPS {
		c.Camera.IdleFPS = def.Camera.IdleFPS
		if c.Camera.IdleFPS > c.Camera.FPS {
			c.Camera.IdleFPS = c.Camera.FPS
		}
	}
	if c.Camera.IdleTimeoutMs <= 0 {
		c.Camera.IdleTimeoutMs = def.Camera.IdleTimeoutMs
	}
	if c.Camera.MotionThresh <= 0 {
		c.Camera.MotionThresh = def.Camera.MotionThresh
	}
	if c.Gateway.BaseURL == "" {
		c.Gateway.BaseURL = def.Gateway.BaseURL
	}
	if c.Gateway.TimeoutMs <= 0 {
		c.Gateway.TimeoutMs = def.Gateway.TimeoutMs
	}
}

// RescanInterval returns the configured hot-plug rescan interval as a
// duration.
func (c *Config) RescanInterval() time.Duration {
	return time.Duration(c.RescanIntervalMs) * time.Millisecond
}

// GatewayTimeout returns the configured gateway timeout as a duration.
func (c *Config) GatewayTimeout() time.Duration {
	return time.Duration(c.Gateway.TimeoutMs) * time.Millisecond
}

// IdleTimeout returns the configured idle timeout as a duration.
func (c *CameraConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMs) * time.Millisecond
}
