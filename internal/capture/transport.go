package capture

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"
)

// tlsHandshakeTimeout bounds the manual handshake performed in
// dialTLSContext.
const tlsHandshakeTimeout = 10 * time.Second

// DefaultMaxDrainBytes bounds how much of an in-flight response
// recordingConn.Close will drain into the Recorder on an early close before
// giving up, per §9's "tee'd streams" redesign note.
const DefaultMaxDrainBytes = 4 * 1024 * 1024

// Transport is an http.RoundTripper that records every connection it opens
// whenever the request's context carries an active capture scope
// (WithScope), and dials plainly otherwise. Keep-alives are disabled: one
// Recorder is constructed per connection, so one connection must serve
// exactly one request/response pair for that mapping to hold.
type Transport struct {
	base     *http.Transport
	dialer   net.Dialer
	maxDrain int64
}

// Option configures a Transport.
type Option func(*Transport)

// WithMaxDrainBytes overrides DefaultMaxDrainBytes.
func WithMaxDrainBytes(n int64) Option {
	return func(t *Transport) { t.maxDrain = n }
}

// NewTransport returns a Transport ready to use as an http.Client's
// RoundTripper.
func NewTransport(opts ...Option) *Transport {
	t := &Transport{dialer: net.Dialer{Timeout: 30 * time.Second}, maxDrain: DefaultMaxDrainBytes}
	for _, opt := range opts {
		opt(t)
	}
	t.base = &http.Transport{
		DisableKeepAlives: true,
		// A wrapped net.Conn isn't a *tls.Conn, so ALPN-based protocol
		// negotiation (h2) cannot be read back out of it; restrict to
		// HTTP/1.1, which is all the wrapped Read/Write layering supports.
		ForceAttemptHTTP2: false,
		DialContext:       t.dialContext,
		DialTLSContext:    t.dialTLSContext,
	}
	return t
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.base.RoundTrip(req)
}

func (t *Transport) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	conn, err := t.dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	return t.maybeWrap(ctx, conn, "http", addr)
}

func (t *Transport) dialTLSContext(ctx context.Context, network, addr string) (net.Conn, error) {
	plainConn, err := t.dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	serverName := addr
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		serverName = addr[:i]
	}
	tlsConn := tls.Client(plainConn, &tls.Config{ServerName: serverName})

	errc := make(chan error, 1)
	timer := time.AfterFunc(tlsHandshakeTimeout, func() {
		errc <- errors.New("capture: TLS handshake timeout")
	})
	go func() {
		err := tlsConn.HandshakeContext(ctx)
		timer.Stop()
		errc <- err
	}()
	if err := <-errc; err != nil {
		plainConn.Close()
		return nil, err
	}

	return t.maybeWrap(ctx, tlsConn, "https", addr)
}

func (t *Transport) maybeWrap(ctx context.Context, conn net.Conn, scheme, addr string) (net.Conn, error) {
	factory, ok := factoryFromContext(ctx)
	if !ok {
		return conn, nil
	}

	rec := factory(ctx)
	rec.OnPeerResolved(conn.RemoteAddr().String())

	// addr is the dial target "host:port". The request line rarely carries
	// host or scheme itself (origin-form requests only send the path), so
	// this is the fallback deriveURL uses; keeping the port preserves
	// non-default-port targets exactly, unlike stripping it with
	// net.SplitHostPort.
	return wrapConnection(conn, rec, scheme, addr, t.maxDrain), nil
}
