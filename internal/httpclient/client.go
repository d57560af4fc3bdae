// Package httpclient builds the HTTP clients the source readers share.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// Config holds per-purpose client settings.
type Config struct {
	// ConnectTimeout bounds dialing and TLS setup.
	ConnectTimeout time.Duration

	// ResponseHeaderTimeout bounds the wait for response headers. The
	// body has no overall deadline; media downloads run for minutes.
	ResponseHeaderTimeout time.Duration

	// IdleConnTimeout recycles idle keep-alive connections.
	IdleConnTimeout time.Duration

	// MaxIdleConnsPerHost sizes the keep-alive pool. The range fetcher
	// issues many small requests against one host.
	MaxIdleConnsPerHost int
}

// DefaultConfig suits the progressive downloader: one long-lived request.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:        15 * time.Second,
		ResponseHeaderTimeout: 20 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConnsPerHost:   4,
	}
}

// RangeConfig suits the range fetcher: many concurrent short requests.
func RangeConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxIdleConnsPerHost = 16
	return cfg
}

// New builds an http.Client from the config.
func New(cfg Config) *http.Client {
	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	return &http.Client{
		Transport: &http.Transport{
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   cfg.ConnectTimeout,
			ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
			IdleConnTimeout:       cfg.IdleConnTimeout,
			MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
			ForceAttemptHTTP2:     true,
		},
	}
}
