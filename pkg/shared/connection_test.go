package shared

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// silentServer accepts connections, reads them to EOF and never writes.
// Each accepted connection is reported on the returned channel.
func silentServer(t *testing.T) (string, <-chan []byte) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	received := make(chan []byte, 4)
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				data, _ := io.ReadAll(conn)
				received <- data
			}()
		}
	}()
	return listener.Addr().String(), received
}

func readTimesOut(t *testing.T, conn net.Conn) time.Duration {
	t.Helper()

	start := time.Now()
	_, err := conn.Read(make([]byte, 1))
	require.Error(t, err)

	var netErr net.Error
	require.True(t, errors.As(err, &netErr) && netErr.Timeout(), "expected a timeout, got %v", err)
	return time.Since(start)
}

func TestDialDeadline(t *testing.T) {
	address, _ := silentServer(t)

	tests := []struct {
		name        string
		timeout     time.Duration
		ctxDeadline time.Duration
	}{
		{"timeout is earlier", 150 * time.Millisecond, 10 * time.Second},
		{"context deadline is earlier", 10 * time.Second, 150 * time.Millisecond},
		{"context deadline only", 0, 150 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), tt.ctxDeadline)
			defer cancel()

			conn, err := Dial(ctx, address, tt.timeout)
			require.NoError(t, err)
			defer conn.Close()

			assert.Less(t, readTimesOut(t, conn), 5*time.Second)
		})
	}
}

func TestDialClosesOnCancel(t *testing.T) {
	address, _ := silentServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	conn, err := Dial(ctx, address, 0)
	require.NoError(t, err)
	defer conn.Close()

	time.AfterFunc(100*time.Millisecond, cancel)

	start := time.Now()
	_, err = conn.Read(make([]byte, 1))
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDialRefused(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	address := listener.Addr().String()
	listener.Close()

	_, err = Dial(context.Background(), address, time.Second)
	assert.Error(t, err)
	assert.Error(t, Probe(context.Background(), address, time.Second))
}

func TestCloseWriteSignalsEOF(t *testing.T) {
	address, received := silentServer(t)

	conn, err := Dial(context.Background(), address, 5*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, CloseWrite(conn))

	select {
	case data := <-received:
		assert.Equal(t, "payload", string(data))
	case <-time.After(5 * time.Second):
		t.Fatal("server never saw EOF after CloseWrite")
	}
}
