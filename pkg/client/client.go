// Package client talks to a fragstore coordinator. Every call opens its own
// connection and sends exactly one command.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"fragstore/pkg/protocol"
)

// RemoteError is a non-OK status string returned by the coordinator.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "coordinator: " + e.Message
}

// IsNotFound reports whether err is the coordinator's not-found answer.
func IsNotFound(err error) bool {
	var remote *RemoteError
	return errors.As(err, &remote) && remote.Message == protocol.StatusNotFound
}

type Client struct {
	address   string
	timeout   time.Duration
	chunkSize int
}

// New creates a client for the coordinator at address (host:port).
func New(address string, opts ...Option) *Client {
	c := &Client{
		address:   address,
		chunkSize: protocol.DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Address returns the coordinator address.
func (c *Client) Address() string {
	return c.address
}

// Store sends size bytes read from r under name. It returns once the
// coordinator has distributed every fragment.
func (c *Client) Store(ctx context.Context, name string, r io.Reader, size int64) error {
	conn, release, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := protocol.WriteString(conn, protocol.CmdStore.String()); err != nil {
		return fmt.Errorf("failed to send command: %w", err)
	}
	if err := protocol.WriteString(conn, name); err != nil {
		return fmt.Errorf("failed to send file name: %w", err)
	}
	if err := protocol.WriteInt64(conn, size); err != nil {
		return fmt.Errorf("failed to send size: %w", err)
	}
	if _, err := protocol.CopyChunked(conn, r, size, make([]byte, c.chunkSize)); err != nil {
		return fmt.Errorf("failed to send %s: %w", name, err)
	}

	return expectOK(conn)
}

// StoreFile stores the file at path under name, or under its base name
// when name is empty. It returns the number of bytes sent.
func (c *Client) StoreFile(ctx context.Context, path, name string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("%s is not a regular file", path)
	}
	if name == "" {
		name = filepath.Base(path)
	}

	if err := c.Store(ctx, name, f, info.Size()); err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Retrieve writes the reassembled file to w and returns its size. Nothing
// is written to w unless the coordinator answered OK.
func (c *Client) Retrieve(ctx context.Context, name string, w io.Writer) (int64, error) {
	conn, release, err := c.dial(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	if err := protocol.WriteString(conn, protocol.CmdRetrieve.String()); err != nil {
		return 0, fmt.Errorf("failed to send command: %w", err)
	}
	if err := protocol.WriteString(conn, name); err != nil {
		return 0, fmt.Errorf("failed to send file name: %w", err)
	}

	if err := expectOK(conn); err != nil {
		return 0, err
	}
	size, err := protocol.ReadSize(conn)
	if err != nil {
		return 0, fmt.Errorf("failed to read size: %w", err)
	}

	n, err := protocol.CopyChunked(w, conn, size, make([]byte, c.chunkSize))
	if err != nil {
		return n, fmt.Errorf("failed to receive %s (%d/%d bytes): %w", name, n, size, err)
	}
	return n, nil
}

// RetrieveFile retrieves name into path. The file only appears at path
// once it has been received completely.
func (c *Client) RetrieveFile(ctx context.Context, name, path string) (int64, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".fragstore-*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	n, err := c.Retrieve(ctx, name, tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, err
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, fmt.Errorf("failed to move download into place: %w", err)
	}
	return n, nil
}

// List returns the coordinator's entries. An empty directory yields an
// empty list, not an error.
func (c *Client) List(ctx context.Context) ([]string, error) {
	conn, release, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := protocol.WriteString(conn, protocol.CmdList.String()); err != nil {
		return nil, fmt.Errorf("failed to send command: %w", err)
	}

	status, err := protocol.ReadString(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	switch status {
	case protocol.StatusOK:
		return protocol.ReadNameList(conn)
	case protocol.StatusEmptyList:
		return nil, nil
	default:
		return nil, &RemoteError{Message: status}
	}
}

// Delete removes name from the coordinator directory.
func (c *Client) Delete(ctx context.Context, name string) error {
	conn, release, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := protocol.WriteString(conn, protocol.CmdDelete.String()); err != nil {
		return fmt.Errorf("failed to send command: %w", err)
	}
	if err := protocol.WriteString(conn, name); err != nil {
		return fmt.Errorf("failed to send file name: %w", err)
	}

	status, err := protocol.ReadString(conn)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if status != protocol.StatusDeleted {
		return &RemoteError{Message: status}
	}
	return nil
}

// Raw sends an arbitrary command and returns the first status string.
func (c *Client) Raw(ctx context.Context, command string) (string, error) {
	conn, release, err := c.dial(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	if err := protocol.WriteString(conn, command); err != nil {
		return "", fmt.Errorf("failed to send command: %w", err)
	}
	return protocol.ReadString(conn)
}

func expectOK(r io.Reader) error {
	err := protocol.ExpectOK(r)
	var statusErr *protocol.StatusError
	if errors.As(err, &statusErr) {
		return &RemoteError{Message: statusErr.Status}
	}
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	return nil
}
