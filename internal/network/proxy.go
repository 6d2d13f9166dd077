// internal/network/proxy.go
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/elazarl/goproxy"
	"go.uber.org/zap"

	"github.com/xkilldash9x/kleinpost/api/schemas"
)

// Forward is a local, credential-free proxy endpoint that relays every
// request to an authenticated upstream. Chrome cannot authenticate to SOCKS
// upstreams, so the browser is pointed at the forward instead.
type Forward struct {
	upstream schemas.ProxyDescriptor
	proxy    *goproxy.ProxyHttpServer
	server   *http.Server
	listener net.Listener
	logger   *zap.Logger

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// StartForward binds a forward on an ephemeral loopback port and starts
// serving. The forward shuts down when ctx is cancelled or Close is called.
func StartForward(ctx context.Context, upstream schemas.ProxyDescriptor, dialerCfg *DialerConfig, logger *zap.Logger) (*Forward, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("proxy_forward").With(zap.String("upstream", upstream.String()))

	upstreamDialer, err := NewUpstreamDialer(upstream, dialerCfg)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream proxy: %w", err)
	}

	// Plain HTTP requests ride the transport; CONNECT tunnels use the dialer.
	tr, err := NewHTTPTransport(&ClientConfig{
		Proxy:                 &upstream,
		DialerConfig:          dialerCfg,
		TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: DefaultResponseHeaderTimeout,
		Logger:                log,
	})
	if err != nil {
		return nil, err
	}

	gp := goproxy.NewProxyHttpServer()
	gp.Tr = tr
	gp.Logger = zap.NewStdLog(log)
	gp.ConnectDialWithReq = func(req *http.Request, network, addr string) (net.Conn, error) {
		return upstreamDialer.DialContext(req.Context(), network, addr)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to bind proxy forward: %w", err)
	}

	f := &Forward{
		upstream: upstream,
		proxy:    gp,
		listener: listener,
		logger:   log,
		done:     make(chan struct{}),
		server: &http.Server{
			Handler:           gp,
			ReadHeaderTimeout: 30 * time.Second,
			IdleTimeout:       120 * time.Second,
			ErrorLog:          zap.NewStdLog(log.Named("http_server")),
		},
	}

	go func() {
		defer close(f.done)
		if err := f.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Proxy forward stopped with an error.", zap.Error(err))
		}
	}()
	context.AfterFunc(ctx, func() { _ = f.Close() })

	log.Debug("Proxy forward started.", zap.String("address", f.Addr()))
	return f, nil
}

// Addr is the host:port the forward listens on.
func (f *Forward) Addr() string {
	return f.listener.Addr().String()
}

// URL is the proxy server value handed to the browser.
func (f *Forward) URL() *url.URL {
	return &url.URL{Scheme: "http", Host: f.Addr()}
}

// Close stops accepting connections and tears down open tunnels.
func (f *Forward) Close() error {
	f.closeOnce.Do(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := f.server.Shutdown(shutdownCtx); err != nil {
			// Hijacked CONNECT tunnels are not tracked by Shutdown.
			f.closeErr = f.server.Close()
		}
		<-f.done
		f.logger.Debug("Proxy forward stopped.")
	})
	return f.closeErr
}
