package client

import (
	"context"
	"net"
	"time"

	"fragstore/pkg/shared"
)

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds every request, dial and transfer included.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithChunkSize sets the transfer buffer size.
func WithChunkSize(size int) Option {
	return func(c *Client) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// dial opens the one connection a request uses. Its deadline is the
// earlier of the client timeout and the context deadline; cancellation of
// the context closes it.
func (c *Client) dial(ctx context.Context) (net.Conn, func(), error) {
	conn, err := shared.Dial(ctx, c.address, c.timeout)
	if err != nil {
		return nil, nil, err
	}
	return conn, func() { conn.Close() }, nil
}
