// Package config provides TOML configuration loading for the pitch tracker.
//
// The configuration file supports the following structure:
//
//	[camera]
//	fps = 60
//	width = 1280
//	height = 720
//	pixfmt = "color-packed"
//	left_device_id = 0
//	right_device_id = 1
//
//	[detection]
//	queue_depth = 6
//	workers_per_camera = 1
//
//	[pairing]
//	window_ms = 10
//
//	[state_machine]
//	min_observations_to_confirm = 3
//	ramp_up_timeout_ms = 500
//	active_gap_ms = 300
//	post_roll_observations = 10
//
//	[recording]
//	output_dir = "./sessions"
//	pre_roll_ms = 500
//	post_roll_ms = 500
//	disk_warning_gb = 50
//	disk_elevated_gb = 20
//	disk_critical_gb = 5
//	disk_poll_seconds = 5
//
// Deployment-time values not meaningful to bake into a checked-in TOML file
// (ports, auth secrets, feature flags) are read from the environment after
// the file is loaded, the way orbo's cmd/orbo/main.go layers os.Getenv reads
// on top of its static config.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Config is the complete pitch tracker configuration.
type Config struct {
	Camera       CameraConfig       `toml:"camera"`
	Detection    DetectionConfig    `toml:"detection"`
	Pairing      PairingConfig      `toml:"pairing"`
	StateMachine StateMachineConfig `toml:"state_machine"`
	Recording    RecordingConfig    `toml:"recording"`
	API          APIConfig          `toml:"-"`
}

// CameraConfig holds dual-camera capture settings.
type CameraConfig struct {
	FPS           int    `toml:"fps"`
	Width         int    `toml:"width"`
	Height        int    `toml:"height"`
	Pixfmt        string `toml:"pixfmt"` // "grayscale" or "color-packed"
	LeftDeviceID  int    `toml:"left_device_id"`
	RightDeviceID int    `toml:"right_device_id"`
	// OpenTimeoutMs bounds how long start_capture waits for a single open
	// attempt before retrying (default 3000).
	OpenTimeoutMs int `toml:"open_timeout_ms"`
	// OpenRetries is the number of retry attempts before CameraOpenError
	// (default 3).
	OpenRetries int `toml:"open_retries"`
	// ConsecutiveFailuresBeforeReconnect is the read-failure count that
	// triggers reconnection mode (default 10).
	ConsecutiveFailuresBeforeReconnect int `toml:"consecutive_failures_before_reconnect"`
}

// DetectionConfig holds the per-camera detection queue and worker pool sizes.
type DetectionConfig struct {
	QueueDepth        int `toml:"queue_depth"`
	WorkersPerCamera  int `toml:"workers_per_camera"`
	DrainTimeoutMs    int `toml:"drain_timeout_ms"`
	FailuresToEscalate int `toml:"failures_to_escalate"`
}

// PairingConfig holds stereo pairing-window settings.
type PairingConfig struct {
	WindowMs int `toml:"window_ms"`
}

// StateMachineConfig holds the pitch state machine's tunables. The
// start-candidate predicate and gating volume are domain-tuned values the
// distilled specification leaves unspecified (see DESIGN.md's Open
// Question resolution); defaults here are a reasonable baseball-specific
// choice, not a guess at the original system's empirical constants.
type StateMachineConfig struct {
	MinObservationsToConfirm int `toml:"min_observations_to_confirm"`
	RampUpTimeoutMs          int `toml:"ramp_up_timeout_ms"`
	ActiveGapMs              int `toml:"active_gap_ms"`
	PostRollObservations     int `toml:"post_roll_observations"`
	PostRollMs               int `toml:"post_roll_ms"`
	// MinStartSpeedFtPerSec is the minimum instantaneous speed estimate
	// between two consecutive observations for the newer one to qualify
	// as a pitch start candidate (default 20 ft/s, well below a real
	// pitch's ~90-130 ft/s but high enough to reject hand/glove jitter).
	MinStartSpeedFtPerSec float64 `toml:"min_start_speed_ft_per_sec"`
	// MinActiveSpeedFtPerSec is the speed floor below which an ACTIVE
	// pitch's trajectory is considered to have collapsed (ball stopped
	// or occluded), triggering ACTIVE -> ENDING (default 5 ft/s).
	MinActiveSpeedFtPerSec float64 `toml:"min_active_speed_ft_per_sec"`
	// GateZMinFt/GateZMaxFt bound the valid depth (distance from the
	// pitching-side camera rig) for a start candidate, rejecting
	// triangulated points far outside the pitcher-to-plate distance
	// (defaults 0-65 ft).
	GateZMinFt float64 `toml:"gate_z_min_ft"`
	GateZMaxFt float64 `toml:"gate_z_max_ft"`
	// HomePlateZFt is the Z position (feet) of the home-plate plane; an
	// observation with Z at or below this value is "past the plate"
	// (default 0, i.e. the plate is the triangulation frame's origin
	// plane).
	HomePlateZFt float64 `toml:"home_plate_z_ft"`
}

// RecordingConfig holds the recording service's tunables.
type RecordingConfig struct {
	OutputDir             string   `toml:"output_dir"`
	PreRollMs             int      `toml:"pre_roll_ms"`
	PostRollMs            int      `toml:"post_roll_ms"`
	CodecPreference        []string `toml:"codec_preference"`
	DiskWarningGB         float64  `toml:"disk_warning_gb"`
	DiskElevatedGB        float64  `toml:"disk_elevated_gb"`
	DiskCriticalGB        float64  `toml:"disk_critical_gb"`
	DiskPollSeconds       int      `toml:"disk_poll_seconds"`
	ConsecutiveWriteFailuresToStop int `toml:"consecutive_write_failures_to_stop"`
}

// APIConfig holds the control-surface HTTP/WebSocket listener settings.
// These are deployment concerns, sourced from the environment rather than
// the checked-in TOML file.
type APIConfig struct {
	ListenAddr      string
	AuthEnabled     bool
	JWTSecret       string
	AuthUsername    string
	AuthPassword    string
	JWTExpiryMinutes int
}

// Default returns the default configuration, matching every default named
// in the external interfaces section of the specification.
func Default() *Config {
	return &Config{
		Camera: CameraConfig{
			FPS:                                60,
			Width:                              1280,
			Height:                             720,
			Pixfmt:                             "color-packed",
			LeftDeviceID:                       0,
			RightDeviceID:                      1,
			OpenTimeoutMs:                      3000,
			OpenRetries:                        3,
			ConsecutiveFailuresBeforeReconnect: 10,
		},
		Detection: DetectionConfig{
			QueueDepth:         6,
			WorkersPerCamera:   1,
			DrainTimeoutMs:     1000,
			FailuresToEscalate: 10,
		},
		Pairing: PairingConfig{
			WindowMs: 10,
		},
		StateMachine: StateMachineConfig{
			MinObservationsToConfirm: 3,
			RampUpTimeoutMs:          500,
			ActiveGapMs:              300,
			PostRollObservations:     10,
			PostRollMs:               500,
			MinStartSpeedFtPerSec:    20,
			MinActiveSpeedFtPerSec:   5,
			GateZMinFt:               0,
			GateZMaxFt:               65,
			HomePlateZFt:             0,
		},
		Recording: RecordingConfig{
			OutputDir:                      "./sessions",
			PreRollMs:                      500,
			PostRollMs:                     500,
			CodecPreference:                []string{"H264", "H264-alt", "MJPG"},
			DiskWarningGB:                  50,
			DiskElevatedGB:                 20,
			DiskCriticalGB:                 5,
			DiskPollSeconds:                5,
			ConsecutiveWriteFailuresToStop: 10,
		},
		API: APIConfig{
			ListenAddr:       ":8080",
			AuthEnabled:      false,
			AuthUsername:     "admin",
			JWTExpiryMinutes: 24 * 60,
		},
	}
}

// Load reads and parses a TOML configuration file, then layers environment
// overrides for deployment-time values on top. If path does not exist, the
// default configuration is returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if _, err := toml.Decode(string(data), cfg); err != nil {
				return nil, fmt.Errorf("config: parsing %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// fall through with defaults
		default:
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if dir := os.Getenv("PITCHTRACKER_OUTPUT_DIR"); dir != "" {
		cfg.Recording.OutputDir = dir
	}
	if addr := os.Getenv("PITCHTRACKER_LISTEN_ADDR"); addr != "" {
		cfg.API.ListenAddr = addr
	}
	cfg.API.AuthEnabled = os.Getenv("AUTH_ENABLED") == "true"
	cfg.API.JWTSecret = os.Getenv("JWT_SECRET")
	if u := os.Getenv("AUTH_USERNAME"); u != "" {
		cfg.API.AuthUsername = u
	}
	cfg.API.AuthPassword = os.Getenv("AUTH_PASSWORD")
	if v := os.Getenv("JWT_EXPIRY_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.API.JWTExpiryMinutes = n
		}
	}
	if v := os.Getenv("PITCHTRACKER_LEFT_DEVICE_ID"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Camera.LeftDeviceID = n
		}
	}
	if v := os.Getenv("PITCHTRACKER_RIGHT_DEVICE_ID"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Camera.RightDeviceID = n
		}
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("camera width/height must be positive, got %dx%d", c.Camera.Width, c.Camera.Height)
	}
	if c.Camera.FPS <= 0 {
		return fmt.Errorf("camera FPS must be positive, got %d", c.Camera.FPS)
	}
	if c.Camera.Pixfmt != "grayscale" && c.Camera.Pixfmt != "color-packed" {
		return fmt.Errorf("camera pixfmt must be grayscale or color-packed, got %q", c.Camera.Pixfmt)
	}
	if c.Detection.QueueDepth <= 0 {
		return fmt.Errorf("detection queue_depth must be positive, got %d", c.Detection.QueueDepth)
	}
	if c.Detection.WorkersPerCamera <= 0 {
		return fmt.Errorf("detection workers_per_camera must be positive, got %d", c.Detection.WorkersPerCamera)
	}
	if c.StateMachine.MinObservationsToConfirm <= 0 {
		return fmt.Errorf("min_observations_to_confirm must be positive, got %d", c.StateMachine.MinObservationsToConfirm)
	}
	if c.Recording.DiskCriticalGB >= c.Recording.DiskElevatedGB || c.Recording.DiskElevatedGB >= c.Recording.DiskWarningGB {
		return fmt.Errorf("disk thresholds must satisfy critical < elevated < warning, got %v < %v < %v",
			c.Recording.DiskCriticalGB, c.Recording.DiskElevatedGB, c.Recording.DiskWarningGB)
	}
	if len(c.Recording.CodecPreference) == 0 {
		return fmt.Errorf("recording codec_preference must not be empty")
	}
	return nil
}
