// Package connect provides Connect RPC service implementations.
package connect

import (
	"context"
	"crypto/subtle"

	"connectrpc.com/connect"

	"github.com/osa030/cratebox/internal/infra/config"
)

const (
	// ControlTokenHeader is the header name for the control token.
	ControlTokenHeader = "X-Control-Token"
)

// NewControlAuthInterceptor creates an interceptor that validates the control
// token from request metadata for state-changing PlayerService methods.
func NewControlAuthInterceptor(cfg *config.Config) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			// Extract token from metadata
			token := req.Header().Get(ControlTokenHeader)
			if token == "" {
				return nil, connect.NewError(connect.CodeUnauthenticated, nil)
			}

			// Validate token
			if subtle.ConstantTimeCompare([]byte(token), []byte(cfg.Server.ControlToken)) != 1 {
				return nil, connect.NewError(connect.CodeUnauthenticated, nil)
			}

			// Call next handler
			return next(ctx, req)
		}
	}
}
