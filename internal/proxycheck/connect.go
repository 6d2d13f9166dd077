package proxycheck

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"

	"github.com/xkilldash9x/kleinpost/api/schemas"
	"github.com/xkilldash9x/kleinpost/internal/network"
)

const (
	defaultConnectTarget = "example.com:443"
	connectUserAgent     = "ProxyChecker/1.0"
	socksNote            = "SOCKS handshake not verified"
)

// checkConnection dials the proxy and, for HTTP-family proxies, asks it to
// open a CONNECT tunnel. SOCKS proxies pass on TCP reachability alone.
func (c *Checker) checkConnection(ctx context.Context, p schemas.ProxyDescriptor) schemas.ConnectionCheck {
	check := schemas.ConnectionCheck{Stage: StageConnect}

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	conn, err := network.DialTCPContext(ctx, "tcp", p.Address(), c.dialerCfg)
	if err != nil {
		check.Message = fmt.Sprintf("proxy connection failed: %v", err)
		return check
	}
	defer conn.Close()

	if p.IsSocks() {
		check.OK = true
		check.Note = socksNote
		return check
	}

	if p.Type == schemas.ProxyHTTPS {
		tlsConn := tls.Client(conn, &tls.Config{ServerName: p.Host, MinVersion: tls.VersionTLS12, InsecureSkipVerify: c.ignoreTLS})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			check.Message = fmt.Sprintf("tls handshake with proxy failed: %v", err)
			return check
		}
		conn = tlsConn
	}

	target := c.cfg.ConnectTarget
	if target == "" {
		target = defaultConnectTarget
	}
	header := http.Header{}
	header.Set("User-Agent", connectUserAgent)
	header.Set("Proxy-Connection", "Keep-Alive")
	var user *url.Userinfo
	if p.HasCredentials() {
		user = url.UserPassword(p.Username, p.Password)
	}

	_, resp, err := network.ConnectTunnel(ctx, conn, target, user, header)
	if err != nil {
		check.Message = fmt.Sprintf("proxy did not answer CONNECT: %v", err)
		return check
	}
	check.StatusLine = resp.Proto + " " + resp.Status
	if resp.StatusCode/100 != 2 {
		check.Message = fmt.Sprintf("proxy returned status %d", resp.StatusCode)
		return check
	}
	check.OK = true
	return check
}
