// internal/network/dialer.go
package network

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/net/proxy"

	"github.com/xkilldash9x/kleinpost/api/schemas"
)

// DialerConfig holds configuration for the low-level TCP dialer.
type DialerConfig struct {
	Timeout   time.Duration
	KeepAlive time.Duration
	// NoDelay controls TCP_NODELAY.
	NoDelay  bool
	Resolver *net.Resolver
}

// NewDialerConfig returns the default dialer settings.
func NewDialerConfig() *DialerConfig {
	return &DialerConfig{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
		NoDelay:   true,
		Resolver:  net.DefaultResolver,
	}
}

// ContextDialer is satisfied by every upstream dialer in this package.
type ContextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// DialTCPContext establishes a direct TCP connection. Suitable for http.Transport.DialContext.
func DialTCPContext(ctx context.Context, network, address string, config *DialerConfig) (net.Conn, error) {
	if config == nil {
		config = NewDialerConfig()
	}
	dialer := &net.Dialer{
		Timeout:       config.Timeout,
		KeepAlive:     config.KeepAlive,
		FallbackDelay: 300 * time.Millisecond,
		Resolver:      config.Resolver,
	}

	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("tcp dial failed: %w", err)
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(config.NoDelay); err != nil {
			_ = tcpConn.Close()
			return nil, fmt.Errorf("failed to set TCP_NODELAY: %w", err)
		}
	}
	return conn, nil
}

type directDialer struct{ cfg *DialerConfig }

func (d directDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return DialTCPContext(ctx, network, address, d.cfg)
}

// Dial lets directDialer act as the forward dialer of x/net/proxy.
func (d directDialer) Dial(network, address string) (net.Conn, error) {
	return d.DialContext(context.Background(), network, address)
}

// NewUpstreamDialer returns a dialer that reaches arbitrary targets through p.
// http and https proxies tunnel with CONNECT, socks5 uses x/net/proxy and
// socks4 speaks SOCKS4a.
func NewUpstreamDialer(p schemas.ProxyDescriptor, cfg *DialerConfig) (ContextDialer, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = NewDialerConfig()
	}
	base := directDialer{cfg: cfg}

	switch p.Type {
	case schemas.ProxySOCKS5:
		var auth *proxy.Auth
		if p.HasCredentials() {
			auth = &proxy.Auth{User: p.Username, Password: p.Password}
		}
		d, err := proxy.SOCKS5("tcp", p.Address(), auth, base)
		if err != nil {
			return nil, fmt.Errorf("failed to build socks5 dialer: %w", err)
		}
		cd, ok := d.(proxy.ContextDialer)
		if !ok {
			return nil, errors.New("socks5 dialer does not support contexts")
		}
		return cd, nil
	case schemas.ProxySOCKS4:
		return &socks4Dialer{proxy: p, base: base}, nil
	default:
		return &connectDialer{proxy: p, base: base}, nil
	}
}

// connectDialer tunnels through an HTTP(S) proxy with CONNECT.
type connectDialer struct {
	proxy schemas.ProxyDescriptor
	base  directDialer
}

func (d *connectDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	conn, err := d.base.DialContext(ctx, network, d.proxy.Address())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to proxy %s: %w", d.proxy.Address(), err)
	}
	if d.proxy.Type == schemas.ProxyHTTPS {
		tlsConn := tls.Client(conn, &tls.Config{ServerName: d.proxy.Host, MinVersion: tls.VersionTLS12})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("tls handshake with proxy failed: %w", err)
		}
		conn = tlsConn
	}

	var user *url.Userinfo
	if d.proxy.HasCredentials() {
		user = url.UserPassword(d.proxy.Username, d.proxy.Password)
	}
	tunnel, resp, err := ConnectTunnel(ctx, conn, address, user, nil)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		_ = conn.Close()
		return nil, fmt.Errorf("proxy responded with non-2xx status for CONNECT: %s", resp.Status)
	}
	return tunnel, nil
}

// BasicProxyAuth renders a Proxy-Authorization header value.
func BasicProxyAuth(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

// ConnectTunnel writes a CONNECT request for target on conn and reads the
// response. The response is returned for every status so callers can inspect
// the status line themselves; a non-nil conn is only usable on 2xx.
func ConnectTunnel(ctx context.Context, conn net.Conn, target string, user *url.Userinfo, header http.Header) (net.Conn, *http.Response, error) {
	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: target},
		Host:   target,
		Header: make(http.Header),
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if user != nil {
		password, _ := user.Password()
		req.Header.Set("Proxy-Authorization", BasicProxyAuth(user.Username(), password))
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}
	// Unblock reads when the context is cancelled before the deadline.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	if err := req.Write(conn); err != nil {
		return nil, nil, fmt.Errorf("failed to write CONNECT request: %w", err)
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read CONNECT response: %w", err)
	}
	// The body is left unread; on 2xx the connection carries the tunnel.

	if n := br.Buffered(); n > 0 {
		return &prefixedConn{Conn: conn, prefix: io.LimitReader(br, int64(n))}, resp, nil
	}
	return conn, resp, nil
}

// prefixedConn drains bytes the CONNECT reader buffered before reading the socket.
type prefixedConn struct {
	net.Conn
	prefix io.Reader
}

func (c *prefixedConn) Read(p []byte) (int, error) {
	if c.prefix != nil {
		n, err := c.prefix.Read(p)
		if err != nil {
			c.prefix = nil
		}
		if n > 0 {
			return n, nil
		}
	}
	return c.Conn.Read(p)
}

// socks4Dialer implements the SOCKS4a CONNECT command.
type socks4Dialer struct {
	proxy schemas.ProxyDescriptor
	base  directDialer
}

const (
	socks4Version   = 0x04
	socks4Connect   = 0x01
	socks4Granted   = 0x5a
	socks4ReplySize = 8
)

func (d *socks4Dialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("invalid target address %q: %w", address, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid target port %q: %w", portStr, err)
	}

	conn, err := d.base.DialContext(ctx, network, d.proxy.Address())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to proxy %s: %w", d.proxy.Address(), err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}

	req := []byte{socks4Version, socks4Connect, 0, 0}
	binary.BigEndian.PutUint16(req[2:], uint16(port))
	ip := net.ParseIP(host).To4()
	if ip != nil {
		req = append(req, ip...)
	} else {
		// SOCKS4a: 0.0.0.x tells the proxy to resolve the trailing hostname.
		req = append(req, 0, 0, 0, 1)
	}
	req = append(req, []byte(d.proxy.Username)...)
	req = append(req, 0)
	if ip == nil {
		req = append(req, []byte(host)...)
		req = append(req, 0)
	}

	if _, err := conn.Write(req); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to write socks4 request: %w", err)
	}
	reply := make([]byte, socks4ReplySize)
	if _, err := io.ReadFull(conn, reply); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to read socks4 reply: %w", err)
	}
	if reply[1] != socks4Granted {
		_ = conn.Close()
		return nil, fmt.Errorf("socks4 request rejected with code 0x%02x", reply[1])
	}
	return conn, nil
}
