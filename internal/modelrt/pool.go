package modelrt

import (
	"net"
	"net/http"
	"time"
)

// PoolConfig configures the shared transport to the model runtime.
// Grounded on provider.PoolConfig, trimmed to what a single-host adapter
// needs — there is no per-provider map here because this adapter only
// ever talks to one model server.
type PoolConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	DialTimeout         time.Duration
	KeepAlive           time.Duration
	Timeout             time.Duration
}

// DefaultPoolConfig mirrors provider.DefaultPoolConfig's intent, with a
// long request timeout since local vision/text models can be slow.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:        64,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
		DialTimeout:         10 * time.Second,
		KeepAlive:           30 * time.Second,
		Timeout:             300 * time.Second,
	}
}

func newHTTPClient(cfg PoolConfig) *http.Client {
	dialer := &net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: cfg.KeepAlive}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
	}
	return &http.Client{Transport: transport, Timeout: cfg.Timeout}
}
