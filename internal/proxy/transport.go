package proxy

import (
	"net"
	"net/http"
	"time"

	"github.com/jamesprial/storegate/config"
)

// NewTransport builds the pooled transport shared by every backend call.
// Environment proxy settings are ignored; backends are reached directly.
func NewTransport(cfg config.UpstreamConfig) *http.Transport {
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = config.DefaultDialTimeout
	}
	idlePerHost := cfg.MaxIdleConnsPerHost
	if idlePerHost <= 0 {
		idlePerHost = config.DefaultMaxIdleConnsPerHost
	}

	dialer := &net.Dialer{
		Timeout:   dialTimeout,
		KeepAlive: 30 * time.Second,
	}

	return &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          idlePerHost * 8,
		MaxIdleConnsPerHost:   idlePerHost,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
