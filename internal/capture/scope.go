// Package capture implements the connection-layer interceptor: a pluggable
// http.RoundTripper that, when a capture scope is active on the request's
// context, tees every byte of the underlying TCP (or post-handshake TLS)
// connection into a Recorder and hands the finished Recorder to a Sink when
// the connection closes.
//
// Go has no monkey-patchable connection class and no implicit thread-local
// storage, so the active factory lives as a context.Context value instead —
// WithScope installs it, WithoutScope clears it for a nested call, and
// concurrent/nested scopes compose the way any other context-scoped value
// does.
package capture

import (
	"context"

	"github.com/markb/warcrecorder/internal/recorder"
)

// Factory constructs a fresh Recorder for one captured connection.
type Factory func(ctx context.Context) *recorder.Recorder

type scopeKey struct{}

// WithScope returns a context with factory installed as the active capture
// scope. A Transport dialing under this context records every connection it
// opens through a Recorder built by factory.
func WithScope(ctx context.Context, factory Factory) context.Context {
	return context.WithValue(ctx, scopeKey{}, factory)
}

// WithoutScope returns a context with capture disabled, overriding any
// enclosing scope — the inverse scope used by collaborators that must make
// non-recorded side calls.
func WithoutScope(ctx context.Context) context.Context {
	return context.WithValue(ctx, scopeKey{}, Factory(nil))
}

// factoryFromContext reports the active Factory, if any. A WithoutScope
// context carries an explicit nil Factory, which is reported as "no scope"
// just like a context that never had one installed.
func factoryFromContext(ctx context.Context) (Factory, bool) {
	f, ok := ctx.Value(scopeKey{}).(Factory)
	if !ok || f == nil {
		return nil, false
	}
	return f, true
}
