// File: internal/network/httpclient.go
package network

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/xkilldash9x/kleinpost/api/schemas"
)

// Constants for default HTTP settings.
const (
	DefaultTLSHandshakeTimeout   = 10 * time.Second
	DefaultResponseHeaderTimeout = 15 * time.Second
	DefaultRequestTimeout        = 30 * time.Second
	DefaultIdleConnTimeout       = 30 * time.Second
	DefaultMaxIdleConns          = 20
)

// ClientConfig holds the configuration for the HTTP client and transport layers.
type ClientConfig struct {
	IgnoreTLSErrors bool

	RequestTimeout        time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration

	DialerConfig *DialerConfig

	// Proxy routes every request through the given upstream. nil dials directly.
	Proxy *schemas.ProxyDescriptor

	// Fresh disables keep-alives so every request opens its own connection.
	// Probes use it so one lookup cannot ride on another's tunnel.
	Fresh bool

	// Compression enables the br/gzip/deflate middleware.
	Compression bool

	Logger *zap.Logger
}

// NewDefaultClientConfig creates a configuration for general requests.
func NewDefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		RequestTimeout:        DefaultRequestTimeout,
		TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: DefaultResponseHeaderTimeout,
		DialerConfig:          NewDialerConfig(),
		Logger:                zap.NewNop(),
	}
}

// NewHTTPTransport creates an http.Transport for config. http and https
// proxies use the transport's native proxy support (credentials travel as
// Proxy-Authorization). SOCKS proxies replace the dialer.
func NewHTTPTransport(config *ClientConfig) (*http.Transport, error) {
	if config == nil {
		config = NewDefaultClientConfig()
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	dialerCfg := config.DialerConfig
	if dialerCfg == nil {
		dialerCfg = NewDialerConfig()
	}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return DialTCPContext(ctx, network, addr, dialerCfg)
		},
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: config.IgnoreTLSErrors,
		},
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		MaxIdleConns:          DefaultMaxIdleConns,
		DisableKeepAlives:     config.Fresh,
		// The compression middleware handles decoding when enabled.
		DisableCompression: config.Compression,
		ForceAttemptHTTP2:  config.Proxy == nil,
	}

	if p := config.Proxy; p != nil {
		if p.IsSocks() {
			upstream, err := NewUpstreamDialer(*p, dialerCfg)
			if err != nil {
				return nil, err
			}
			transport.DialContext = upstream.DialContext
		} else {
			transport.Proxy = http.ProxyURL(p.URL())
		}
	}

	if transport.ForceAttemptHTTP2 {
		if err := http2.ConfigureTransport(transport); err != nil {
			config.Logger.Warn("Failed to configure HTTP/2 transport, falling back to HTTP/1.1.", zap.Error(err))
		}
	}
	return transport, nil
}

// NewClient builds an *http.Client over NewHTTPTransport. Redirects are followed.
func NewClient(config *ClientConfig) (*http.Client, error) {
	if config == nil {
		config = NewDefaultClientConfig()
	}
	transport, err := NewHTTPTransport(config)
	if err != nil {
		return nil, err
	}

	var rt http.RoundTripper = transport
	if config.Compression {
		rt = NewCompressionMiddleware(transport)
	}
	return &http.Client{Transport: rt, Timeout: config.RequestTimeout}, nil
}
