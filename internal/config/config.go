// Package config owns the bridge configuration surface: hard defaults,
// optional YAML file, environment variables, and command-line flags, applied
// in that order (later sources win).
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Build metadata, injected via -ldflags at release time.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Config is the immutable bridge configuration. It is assembled once by
// Load and never mutated afterwards.
type Config struct {
	BaseURL      string `yaml:"base_url"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	CameraID     string `yaml:"camera_id"`
	Channel      string `yaml:"channel"`
	VideoCodec   string `yaml:"video_codec"`
	VideoQuality string `yaml:"video_quality"`
	RTSPURL      string `yaml:"rtsp_url"`

	PipeDir    string `yaml:"pipe_dir"`    // directory holding the per-camera FIFOs
	FFmpegPath string `yaml:"ffmpeg_path"` // remuxer binary
	RedisAddr  string `yaml:"redis_address"`
	HTTPAddr   string `yaml:"http_address"` // diagnostics API; empty disables

	// Session timing. Not part of the flag surface; override via YAML.
	ReceiveTimeout time.Duration `yaml:"receive_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
}

func defaults() Config {
	return Config{
		BaseURL:        "https://miloco:8000",
		Username:       "admin",
		Channel:        "0",
		VideoCodec:     "hevc",
		VideoQuality:   "2",
		RTSPURL:        "rtsp://0.0.0.0:8554/live",
		PipeDir:        os.TempDir(),
		FFmpegPath:     "ffmpeg",
		ReceiveTimeout: 60 * time.Second,
		WriteTimeout:   10 * time.Second,
		RetryDelay:     3 * time.Second,
	}
}

// Load builds the effective configuration from args (argv without the
// program name). Precedence: flags > environment > YAML file > defaults.
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("miloco-bridge", flag.ContinueOnError)

	version := fs.Bool("v", false, "print version and exit")
	fs.BoolVar(version, "version", false, "print version and exit")
	configPath := fs.String("config", "", "path to YAML config file (optional)")

	baseURL := fs.String("base-url", "", "base URL of the Miloco server")
	username := fs.String("username", "", "login username")
	password := fs.String("password", "", "login password (MD5)")
	cameraID := fs.String("camera-id", "", "camera ID to stream")
	channel := fs.String("channel", "", "camera channel")
	videoCodec := fs.String("video-codec", "", "input video codec (hevc or h264)")
	videoQuality := fs.String("video-quality", "", "input video quality")
	rtspURL := fs.String("rtsp-url", "", "target RTSP publish URL")
	pipeDir := fs.String("pipe-dir", "", "directory for the per-camera named pipes")
	ffmpegPath := fs.String("ffmpeg", "", "path to the ffmpeg binary")
	redisAddr := fs.String("redis-addr", "", "redis address for lease/status registry (optional)")
	httpAddr := fs.String("http-addr", "", "listen address for the diagnostics API (optional)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *version {
		fmt.Printf("miloco-bridge %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
		os.Exit(0)
	}

	cfg := defaults()

	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(&cfg.BaseURL, "MILOCO_BASE_URL")
	applyEnv(&cfg.Username, "MILOCO_USERNAME")
	applyEnv(&cfg.Password, "MILOCO_PASSWORD")
	applyEnv(&cfg.CameraID, "CAMERA_ID")
	applyEnv(&cfg.Channel, "STREAM_CHANNEL")
	applyEnv(&cfg.VideoCodec, "VIDEO_CODEC")
	applyEnv(&cfg.VideoQuality, "VIDEO_QUALITY")
	applyEnv(&cfg.RTSPURL, "RTSP_URL")
	applyEnv(&cfg.RedisAddr, "REDIS_ADDR")
	applyEnv(&cfg.HTTPAddr, "BRIDGE_HTTP_ADDR")

	applyFlag(&cfg.BaseURL, *baseURL)
	applyFlag(&cfg.Username, *username)
	applyFlag(&cfg.Password, *password)
	applyFlag(&cfg.CameraID, *cameraID)
	applyFlag(&cfg.Channel, *channel)
	applyFlag(&cfg.VideoCodec, *videoCodec)
	applyFlag(&cfg.VideoQuality, *videoQuality)
	applyFlag(&cfg.RTSPURL, *rtspURL)
	applyFlag(&cfg.PipeDir, *pipeDir)
	applyFlag(&cfg.FFmpegPath, *ffmpegPath)
	applyFlag(&cfg.RedisAddr, *redisAddr)
	applyFlag(&cfg.HTTPAddr, *httpAddr)

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Password == "" {
		return errors.New("password is required (--password or MILOCO_PASSWORD)")
	}
	if c.CameraID == "" {
		return errors.New("camera ID is required (--camera-id or CAMERA_ID)")
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("base URL must be http(s): %q", c.BaseURL)
	}
	return nil
}

// Redacted returns a copy safe for logging.
func (c *Config) Redacted() Config {
	out := *c
	if out.Password != "" {
		out.Password = "<redacted>"
	}
	return out
}

func applyEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func applyFlag(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
