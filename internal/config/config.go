// Package config loads runtime settings from a YAML file, a .env file and
// MUDRA_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/handtrack"
	"github.com/ayusman/mudra/internal/landmark"
	"github.com/ayusman/mudra/internal/smoother"
	"github.com/ayusman/mudra/internal/tracker"
	"github.com/joho/godotenv"
	"gocv.io/x/gocv"
	"sigs.k8s.io/yaml"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MUDRA_"

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("config: invalid")

// Config is the complete runtime configuration.
type Config struct {
	Camera    CameraConfig    `json:"camera" yaml:"camera"`
	Models    ModelsConfig    `json:"models" yaml:"models"`
	Tracking  TrackingConfig  `json:"tracking" yaml:"tracking"`
	Smoothing smoother.Config `json:"smoothing" yaml:"smoothing"`
	Motion    MotionConfig    `json:"motion" yaml:"motion"`
	Server    ServerConfig    `json:"server" yaml:"server"`
	Store     StoreConfig     `json:"store" yaml:"store"`
}

// CameraConfig selects and sizes the capture device.
type CameraConfig struct {
	Device string `json:"device" yaml:"device"`
	Width  int    `json:"width" yaml:"width"`
	Height int    `json:"height" yaml:"height"`
	FPS    int    `json:"fps" yaml:"fps"`
}

// ModelsConfig names the network files and the DNN backend.
type ModelsConfig struct {
	Detector        string `json:"detector" yaml:"detector"`
	DetectorConfig  string `json:"detector_config" yaml:"detector_config"`
	Landmarks       string `json:"landmarks" yaml:"landmarks"`
	LandmarksConfig string `json:"landmarks_config" yaml:"landmarks_config"`

	// Backend and Target name a gocv DNN backend ("default", "opencv",
	// "cuda", ...) and target ("cpu", "fp16", "cuda", ...).
	Backend string `json:"backend" yaml:"backend"`
	Target  string `json:"target" yaml:"target"`
}

// TrackingConfig tunes the detector and landmark stages.
type TrackingConfig struct {
	InputSize     int     `json:"input_size" yaml:"input_size"`
	ConfThreshold float64 `json:"conf_threshold" yaml:"conf_threshold"`
	NMSThreshold  float64 `json:"nms_threshold" yaml:"nms_threshold"`
	MaxHands      int     `json:"max_hands" yaml:"max_hands"`
	SwapRB        bool    `json:"swap_rb" yaml:"swap_rb"`

	LandmarkSize      int     `json:"landmark_size" yaml:"landmark_size"`
	LandmarkThreshold float64 `json:"landmark_threshold" yaml:"landmark_threshold"`
	CropMargin        float64 `json:"crop_margin" yaml:"crop_margin"`

	DetectEvery int `json:"detect_every" yaml:"detect_every"`
}

// MotionConfig controls the motion gate.
type MotionConfig struct {
	Enabled       bool    `json:"enabled" yaml:"enabled"`
	Threshold     float64 `json:"threshold" yaml:"threshold"`
	IdleTimeoutMs int     `json:"idle_timeout_ms" yaml:"idle_timeout_ms"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	StaticDir string `json:"static_dir" yaml:"static_dir"`
	StreamFPS int    `json:"stream_fps" yaml:"stream_fps"`
	Overlay   bool   `json:"overlay" yaml:"overlay"`
}

// StoreConfig configures the session database.
type StoreConfig struct {
	// Path is the sqlite database. Empty uses ~/.mudra/mudra.db.
	Path   string `json:"path" yaml:"path"`
	Record bool   `json:"record" yaml:"record"`
}

// Default returns the built in configuration.
func Default() Config {
	det := detector.DefaultConfig()
	lmk := landmark.DefaultConfig()

	return Config{
		Camera: CameraConfig{
			Device: capture.DefaultDevice,
			Width:  capture.DefaultWidth,
			Height: capture.DefaultHeight,
			FPS:    capture.DefaultFPS,
		},
		Models: ModelsConfig{
			Backend: "default",
			Target:  "cpu",
		},
		Tracking: TrackingConfig{
			InputSize:         det.InputSize,
			ConfThreshold:     det.ConfThreshold,
			NMSThreshold:      det.NMSThreshold,
			MaxHands:          det.MaxHands,
			SwapRB:            det.SwapRB,
			LandmarkSize:      lmk.InputSize,
			LandmarkThreshold: lmk.Threshold,
			CropMargin:        lmk.CropMargin,
			DetectEvery:       tracker.DefaultDetectEvery,
		},
		Smoothing: smoother.DefaultConfig(),
		Motion: MotionConfig{
			Enabled:       false,
			Threshold:     capture.DefaultMotionThreshold,
			IdleTimeoutMs: int(capture.DefaultIdleTimeout / time.Millisecond),
		},
		Server: ServerConfig{
			Addr:    ":8080",
			Overlay: true,
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path (when not
// empty) and then with environment overrides. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadEnvFile loads variables from a .env file into the environment without
// replacing variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from MUDRA_* variables returned by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"DEVICE":         &c.Camera.Device,
		"DETECTOR_MODEL": &c.Models.Detector,
		"LANDMARK_MODEL": &c.Models.Landmarks,
		"BACKEND":        &c.Models.Backend,
		"TARGET":         &c.Models.Target,
		"ADDR":           &c.Server.Addr,
		"STATIC_DIR":     &c.Server.StaticDir,
		"DB":             &c.Store.Path,
	}
	for key, dst := range strs {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"WIDTH":        &c.Camera.Width,
		"HEIGHT":       &c.Camera.Height,
		"FPS":          &c.Camera.FPS,
		"DETECT_EVERY": &c.Tracking.DetectEvery,
	}
	for key, dst := range ints {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s%s=%q is not an integer", ErrInvalid, EnvPrefix, key, v)
		}
		*dst = n
	}

	bools := map[string]*bool{
		"SMOOTHING": &c.Smoothing.Enabled,
		"RECORD":    &c.Store.Record,
		"MOTION":    &c.Motion.Enabled,
	}
	for key, dst := range bools {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s%s=%q is not a boolean", ErrInvalid, EnvPrefix, key, v)
		}
		*dst = b
	}

	return nil
}

var (
	backends = map[string]bool{
		"default": true, "halide": true, "openvino": true, "opencv": true,
		"vulkan": true, "cuda": true,
	}
	targets = map[string]bool{
		"cpu": true, "fp32": true, "fp16": true, "vpu": true, "vulkan": true,
		"fpga": true, "cuda": true, "cuda_fp16": true,
	}
)

// Validate checks that all values are in range.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}

	check(c.Camera.Width > 0 && c.Camera.Height > 0, "camera size %dx%d", c.Camera.Width, c.Camera.Height)
	check(c.Camera.FPS > 0, "camera fps %d", c.Camera.FPS)
	check(c.Tracking.InputSize > 0, "input_size %d", c.Tracking.InputSize)
	check(c.Tracking.LandmarkSize > 0, "landmark_size %d", c.Tracking.LandmarkSize)
	check(c.Tracking.ConfThreshold >= 0 && c.Tracking.ConfThreshold <= 1, "conf_threshold %v", c.Tracking.ConfThreshold)
	check(c.Tracking.NMSThreshold > 0 && c.Tracking.NMSThreshold <= 1, "nms_threshold %v", c.Tracking.NMSThreshold)
	check(c.Tracking.MaxHands >= 0, "max_hands %d", c.Tracking.MaxHands)
	check(c.Tracking.DetectEvery >= 1, "detect_every %d", c.Tracking.DetectEvery)
	check(c.Tracking.CropMargin >= 0, "crop_margin %v", c.Tracking.CropMargin)
	check(backends[c.Models.Backend], "unknown backend %q", c.Models.Backend)
	check(targets[c.Models.Target], "unknown target %q", c.Models.Target)
	check(c.Server.Addr != "", "empty server addr")

	if err := c.Smoothing.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// PipelineOptions converts the configuration to pipeline options.
func (c Config) PipelineOptions() handtrack.Options {
	opts := handtrack.DefaultOptions()

	opts.DetectorModel = c.Models.Detector
	opts.DetectorConfig = c.Models.DetectorConfig
	opts.LandmarkModel = c.Models.Landmarks
	opts.LandmarkConfig = c.Models.LandmarksConfig

	opts.Detector = detector.Config{
		InputSize:     c.Tracking.InputSize,
		ConfThreshold: c.Tracking.ConfThreshold,
		NMSThreshold:  c.Tracking.NMSThreshold,
		MaxHands:      c.Tracking.MaxHands,
		SwapRB:        c.Tracking.SwapRB,
	}
	opts.Landmark = landmark.Config{
		InputSize:  c.Tracking.LandmarkSize,
		Threshold:  c.Tracking.LandmarkThreshold,
		CropMargin: c.Tracking.CropMargin,
	}
	opts.Tracker.DetectEvery = c.Tracking.DetectEvery
	opts.Smoothing = c.Smoothing

	opts.Backend = gocv.ParseNetBackend(c.Models.Backend)
	opts.Target = gocv.ParseNetTarget(c.Models.Target)
	return opts
}

// CaptureConfig converts the camera section to capture settings.
func (c Config) CaptureConfig() capture.Config {
	return capture.Config{
		Device: c.Camera.Device,
		Width:  c.Camera.Width,
		Height: c.Camera.Height,
		FPS:    c.Camera.FPS,
	}
}

// IdleTimeout returns the motion gate idle timeout.
func (c Config) IdleTimeout() time.Duration {
	return time.Duration(c.Motion.IdleTimeoutMs) * time.Millisecond
}
