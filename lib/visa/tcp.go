package visa

import (
	"context"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/cenkalti/backoff"
)

const dialTimeout = 5 * time.Second

// first wait between dial attempts; it doubles on every retry
const dialRetryInterval = 200 * time.Millisecond

// deadlineConn arms a fresh read deadline before every Read.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(p []byte) (int, error) {
	if c.timeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(p)
}

// dialSocket connects to a raw SCPI socket, retrying refused or timed out
// dials with exponential backoff until o.dialRetries is spent or ctx ends.
// With no retries the socket is dialed exactly once.
func dialSocket(ctx context.Context, r Resource, o *options) (io.ReadWriteCloser, error) {
	addr := net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
	dial := o.dial
	if dial == nil {
		d := net.Dialer{Timeout: dialTimeout}
		dial = d.DialContext
	}
	var conn net.Conn
	op := func() error {
		c, err := dial(ctx, "tcp", addr)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			o.logger.Debug("dial failed", "addr", addr, "err", err)
			return err
		}
		conn = c
		return nil
	}
	// WithMaxRetries treats 0 as unlimited
	var b backoff.BackOff = &backoff.StopBackOff{}
	if o.dialRetries > 0 {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = dialRetryInterval
		b = backoff.WithMaxRetries(eb, o.dialRetries)
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return &deadlineConn{Conn: conn, timeout: o.timeout}, nil
}
