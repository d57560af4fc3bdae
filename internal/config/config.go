// Package config provides configuration management for caststream using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerHost      = "0.0.0.0"
	defaultServerPort      = 0 // ephemeral
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	defaultTargetSegmentDuration = 2.0
	defaultMaxSegmentDuration    = 4.0
	defaultVideoBitrate          = "4000k"
	defaultAudioBitrate          = "192k"
	defaultYieldEveryNPackets    = 50
	defaultGOPSize               = 48
	defaultAudioSampleRate       = 48000
	defaultAudioChannels         = 2

	defaultMinBuffer     = 2 * 1024 * 1024
	defaultMaxBuffer     = 30 * 1024 * 1024
	defaultTailPrefetch  = 10 * 1024 * 1024
	defaultStartPrefetch = 8 * 1024 * 1024
	defaultPrefetchAhead = 16 * 1024 * 1024
	defaultIdleTimeout   = 60 * time.Second
	defaultHeaderTimeout = 20 * time.Second

	defaultMaxMemorySegments = 30
	defaultSegmentTTL        = 2 * time.Hour
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Source    SourceConfig    `mapstructure:"source"`
	Transcode TranscodeConfig `mapstructure:"transcode"`
	Store     StoreConfig     `mapstructure:"store"`
	FFmpeg    FFmpegConfig    `mapstructure:"ffmpeg"`
	Sessions  SessionsConfig  `mapstructure:"sessions"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// StorageConfig holds file storage configuration.
type StorageConfig struct {
	// BaseDir is where per-session temp directories are created.
	// Empty means the system temp directory.
	BaseDir string `mapstructure:"base_dir"`
}

// DatabaseConfig holds the session journal database configuration.
type DatabaseConfig struct {
	Path     string `mapstructure:"path"`
	LogLevel string `mapstructure:"log_level"` // silent, error, warn, info
}

// SourceConfig holds source reader configuration.
type SourceConfig struct {
	// MinBuffer and MaxBuffer clamp the progressive initial buffer
	// threshold, which is otherwise 2% of the total size.
	MinBuffer     ByteSize      `mapstructure:"min_buffer"`
	MaxBuffer     ByteSize      `mapstructure:"max_buffer"`
	TailPrefetch  ByteSize      `mapstructure:"tail_prefetch"`
	StartPrefetch ByteSize      `mapstructure:"start_prefetch"`
	PrefetchAhead ByteSize      `mapstructure:"prefetch_ahead"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	HeaderTimeout time.Duration `mapstructure:"header_timeout"`
}

// TranscodeConfig holds transcoder configuration.
type TranscodeConfig struct {
	TargetSegmentDuration float64 `mapstructure:"target_segment_duration"` // seconds, soft cut
	MaxSegmentDuration    float64 `mapstructure:"max_segment_duration"`    // seconds, hard cut
	VideoBitrate          string  `mapstructure:"video_bitrate"`
	AudioBitrate          string  `mapstructure:"audio_bitrate"`
	PreferSoftwareEncoder bool    `mapstructure:"prefer_software_encoder"`
	YieldEveryNPackets    int     `mapstructure:"yield_every_n_packets"`
	GOPSize               int     `mapstructure:"gop_size"`
	AudioSampleRate       int     `mapstructure:"audio_sample_rate"`
	AudioChannels         int     `mapstructure:"audio_channels"`
	// SpliceParameterSets forces splicing cached SPS/PPS into keyframe
	// payloads that lack them. Splicing is automatic for containers that
	// carry the parameter sets out-of-band.
	SpliceParameterSets bool `mapstructure:"splice_parameter_sets"`
}

// StoreConfig holds segment store configuration.
type StoreConfig struct {
	MaxMemorySegments   int           `mapstructure:"max_memory_segments"`
	MaxPlaylistSegments int           `mapstructure:"max_playlist_segments"` // 0 = unlimited
	SegmentTTL          time.Duration `mapstructure:"segment_ttl"`
}

// FFmpegConfig holds FFmpeg binary configuration.
type FFmpegConfig struct {
	BinaryPath string `mapstructure:"binary_path"` // empty = auto-detect on PATH
	ProbePath  string `mapstructure:"probe_path"`
}

// SessionsConfig holds session manager configuration.
type SessionsConfig struct {
	// SingleActive tears down sessions for other sources when a new
	// source is started.
	SingleActive bool `mapstructure:"single_active"`
}

// Load reads configuration from the given file path (optional), environment
// variables prefixed with CASTSTREAM_, and defaults.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	v.SetEnvPrefix("CASTSTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("caststream")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/caststream")
		v.AddConfigPath("/etc/caststream")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && configFile != "" {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Missing config file is fine; defaults and env apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", defaultServerHost)
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("storage.base_dir", "")

	v.SetDefault("database.path", "caststream.db")
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("source.min_buffer", int64(defaultMinBuffer))
	v.SetDefault("source.max_buffer", int64(defaultMaxBuffer))
	v.SetDefault("source.tail_prefetch", int64(defaultTailPrefetch))
	v.SetDefault("source.start_prefetch", int64(defaultStartPrefetch))
	v.SetDefault("source.prefetch_ahead", int64(defaultPrefetchAhead))
	v.SetDefault("source.idle_timeout", defaultIdleTimeout)
	v.SetDefault("source.header_timeout", defaultHeaderTimeout)

	v.SetDefault("transcode.target_segment_duration", defaultTargetSegmentDuration)
	v.SetDefault("transcode.max_segment_duration", defaultMaxSegmentDuration)
	v.SetDefault("transcode.video_bitrate", defaultVideoBitrate)
	v.SetDefault("transcode.audio_bitrate", defaultAudioBitrate)
	v.SetDefault("transcode.prefer_software_encoder", true)
	v.SetDefault("transcode.yield_every_n_packets", defaultYieldEveryNPackets)
	v.SetDefault("transcode.gop_size", defaultGOPSize)
	v.SetDefault("transcode.audio_sample_rate", defaultAudioSampleRate)
	v.SetDefault("transcode.audio_channels", defaultAudioChannels)
	v.SetDefault("transcode.splice_parameter_sets", false)

	v.SetDefault("store.max_memory_segments", defaultMaxMemorySegments)
	v.SetDefault("store.max_playlist_segments", 0)
	v.SetDefault("store.segment_ttl", defaultSegmentTTL)

	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")

	v.SetDefault("sessions.single_active", true)
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Transcode.TargetSegmentDuration <= 0 {
		return fmt.Errorf("transcode.target_segment_duration must be positive, got %v", c.Transcode.TargetSegmentDuration)
	}
	if c.Transcode.MaxSegmentDuration < c.Transcode.TargetSegmentDuration {
		return fmt.Errorf("transcode.max_segment_duration (%v) must be >= target_segment_duration (%v)",
			c.Transcode.MaxSegmentDuration, c.Transcode.TargetSegmentDuration)
	}
	if c.Source.MinBuffer <= 0 || c.Source.MaxBuffer < c.Source.MinBuffer {
		return fmt.Errorf("source.min_buffer/max_buffer invalid: min=%d max=%d",
			c.Source.MinBuffer, c.Source.MaxBuffer)
	}
	if c.Store.MaxMemorySegments <= 0 {
		return fmt.Errorf("store.max_memory_segments must be positive, got %d", c.Store.MaxMemorySegments)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug/info/warn/error, got %q", c.Logging.Level)
	}
	return nil
}
