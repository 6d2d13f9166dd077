package session

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/kleinpost/api/schemas"
)

// TunnelFailureSignature is the browser error for a proxy that accepted the
// connection but could not open the tunnel.
const TunnelFailureSignature = "ERR_TUNNEL_CONNECTION_FAILED"

// HasTunnelSignature reports whether msg carries the tunnel failure, in any case.
func HasTunnelSignature(msg string) bool {
	return strings.Contains(strings.ToUpper(msg), TunnelFailureSignature)
}

// IsTunnelFailure reports whether err carries the tunnel failure.
func IsTunnelFailure(err error) bool {
	return err != nil && HasTunnelSignature(err.Error())
}

// WithProxyFallback runs fn with proxy and, when that attempt fails with a
// tunnel failure, once more without a proxy. The second return value
// reports whether the direct retry happened.
func WithProxyFallback[T any](ctx context.Context, logger *zap.Logger, proxy *schemas.ProxyDescriptor, fn func(ctx context.Context, proxy *schemas.ProxyDescriptor) (T, error)) (T, bool, error) {
	v, err := fn(ctx, proxy)
	if proxy == nil || !IsTunnelFailure(err) || ctx.Err() != nil {
		return v, false, err
	}
	if logger != nil {
		logger.Warn("Proxy tunnel failed, retrying without proxy.",
			zap.String("proxy", proxy.Address()),
			zap.Error(err),
		)
	}
	v, err = fn(ctx, nil)
	return v, true, err
}

// KindOf classifies err like schemas.KindOf, except that an unclassified
// tunnel failure counts as an unreachable network.
func KindOf(err error) schemas.ErrorKind {
	kind := schemas.KindOf(err)
	if kind == schemas.KindInternal && IsTunnelFailure(err) {
		return schemas.KindNetworkUnreachable
	}
	return kind
}
