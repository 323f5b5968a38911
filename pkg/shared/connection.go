package shared

import (
	"context"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	// DefaultGRPCTimeout is the default timeout for gRPC health queries
	DefaultGRPCTimeout = 5 * time.Second

	// DefaultProbeTimeout bounds a liveness probe when no node timeout is configured
	DefaultProbeTimeout = 2 * time.Second
)

// Dial opens a TCP connection to address. The I/O deadline is the earlier
// of now+timeout (when timeout is positive) and the context deadline.
// Cancelling ctx closes the connection, which unblocks any pending read or
// write. Close releases that cancellation hook.
func Dial(ctx context.Context, address string, timeout time.Duration) (net.Conn, error) {
	dialer := net.Dialer{Timeout: timeout}

	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	if deadline, ok := ioDeadline(ctx, timeout); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to set deadline on %s: %w", address, err)
		}
	}

	return &ctxConn{
		Conn: conn,
		stop: context.AfterFunc(ctx, func() { conn.Close() }),
	}, nil
}

func ioDeadline(ctx context.Context, timeout time.Duration) (time.Time, bool) {
	deadline, ok := ctx.Deadline()
	if timeout > 0 {
		if byTimeout := time.Now().Add(timeout); !ok || byTimeout.Before(deadline) {
			return byTimeout, true
		}
	}
	return deadline, ok
}

// ctxConn is a connection closed by the cancellation of its dial context.
type ctxConn struct {
	net.Conn
	stop func() bool
}

func (c *ctxConn) Close() error {
	c.stop()
	return c.Conn.Close()
}

func (c *ctxConn) CloseWrite() error {
	return CloseWrite(c.Conn)
}

// Probe checks that address accepts connections. The connection is closed
// without sending anything, which storage nodes treat as a no-op.
func Probe(ctx context.Context, address string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	conn, err := Dial(ctx, address, timeout)
	if err != nil {
		return err
	}
	return conn.Close()
}

// CloseWrite half-closes a TCP connection so the peer sees EOF while the
// read side stays open. Other connection types are left untouched.
func CloseWrite(conn net.Conn) error {
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}

// ConnectToHealth opens an insecure gRPC connection to an admin health endpoint
func ConnectToHealth(address string) (*grpc.ClientConn, error) {
	return ConnectToHealthWithTimeout(address, DefaultGRPCTimeout)
}

// ConnectToHealthWithTimeout opens an insecure gRPC connection with timeout
func ConnectToHealthWithTimeout(address string, timeout time.Duration) (*grpc.ClientConn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return grpc.DialContext(ctx, address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock())
}
