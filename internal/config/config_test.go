package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 0, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.InDelta(t, 2.0, cfg.Transcode.TargetSegmentDuration, 0.001)
	assert.InDelta(t, 4.0, cfg.Transcode.MaxSegmentDuration, 0.001)
	assert.True(t, cfg.Transcode.PreferSoftwareEncoder)
	assert.False(t, cfg.Transcode.SpliceParameterSets)
	assert.Equal(t, 50, cfg.Transcode.YieldEveryNPackets)
	assert.Equal(t, 48000, cfg.Transcode.AudioSampleRate)
	assert.Equal(t, 2, cfg.Transcode.AudioChannels)
	assert.Equal(t, 30, cfg.Store.MaxMemorySegments)
	assert.Equal(t, 0, cfg.Store.MaxPlaylistSegments)
	assert.Equal(t, 2*time.Hour, cfg.Store.SegmentTTL)
	assert.Equal(t, ByteSize(10*1024*1024), cfg.Source.TailPrefetch)
	assert.Equal(t, 60*time.Second, cfg.Source.IdleTimeout)
	assert.True(t, cfg.Sessions.SingleActive)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "caststream.yaml")
	content := `
server:
  port: 9090
logging:
  level: debug
  format: text
transcode:
  target_segment_duration: 3.0
  max_segment_duration: 6.0
source:
  tail_prefetch: 5MB
store:
  max_memory_segments: 10
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.InDelta(t, 3.0, cfg.Transcode.TargetSegmentDuration, 0.001)
	assert.Equal(t, ByteSize(5*1024*1024), cfg.Source.TailPrefetch)
	assert.Equal(t, 10, cfg.Store.MaxMemorySegments)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		v := viper.New()
		SetDefaults(v)
		var cfg Config
		require.NoError(t, v.Unmarshal(&cfg))
		return &cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "zero target duration",
			mutate:  func(c *Config) { c.Transcode.TargetSegmentDuration = 0 },
			wantErr: "target_segment_duration",
		},
		{
			name:    "max below target",
			mutate:  func(c *Config) { c.Transcode.MaxSegmentDuration = 1.0 },
			wantErr: "max_segment_duration",
		},
		{
			name:    "max buffer below min",
			mutate:  func(c *Config) { c.Source.MaxBuffer = c.Source.MinBuffer - 1 },
			wantErr: "max_buffer",
		},
		{
			name:    "zero memory segments",
			mutate:  func(c *Config) { c.Store.MaxMemorySegments = 0 },
			wantErr: "max_memory_segments",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "server.port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
