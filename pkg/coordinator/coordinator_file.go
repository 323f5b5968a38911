package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"

	"fragstore/pkg/protocol"
	"fragstore/pkg/shared"
	"fragstore/pkg/storage"
	"fragstore/pkg/types"

	"go.uber.org/zap"
)

// handleStore reads `name size payload` and distributes the payload over
// the nodes, fragment i to node i, in ascending order and one node at a
// time. OK is sent only after the last fragment is written. A failure
// aborts the operation; fragments already written stay where they are.
func (c *Coordinator) handleStore(ctx context.Context, conn net.Conn, logger *zap.Logger) error {
	name, err := protocol.ReadString(conn)
	if err != nil {
		return fmt.Errorf("failed to read file name: %w", err)
	}
	size, err := protocol.ReadSize(conn)
	if err != nil {
		if errors.Is(err, protocol.ErrInvalidSize) {
			c.reply(conn, logger, protocol.StatusInvalidSize)
			return fmt.Errorf("%w: %v", errRejected, err)
		}
		return fmt.Errorf("failed to read size of %s: %w", name, err)
	}
	payload := &io.LimitedReader{R: conn, N: size}

	if err := storage.ValidateName(name); err != nil {
		logger.Warn("Rejected store", zap.String("file", name), zap.Error(err))
		c.discard(payload, logger)
		c.reply(conn, logger, protocol.StatusInvalidName)
		return fmt.Errorf("%w: %v", errRejected, err)
	}

	fragments, err := storage.PlanFragments(name, size, len(c.config.Nodes))
	if err != nil {
		c.reply(conn, logger, protocol.StatusStoreFailed)
		return err
	}

	logger.Info("Storing file",
		zap.String("file", name),
		zap.Int64("size", size),
		zap.Int("fragments", len(fragments)))

	buf := c.chunkBuffer()
	for _, fragment := range fragments {
		if err := c.storeFragment(ctx, fragment, payload, buf); err != nil {
			logger.Error("Store aborted, earlier fragments are left in place",
				zap.String("file", name),
				zap.Int("fragment", fragment.Index),
				zap.Error(err))
			c.discard(payload, logger)
			c.reply(conn, logger, protocol.StatusStoreFailed)
			return err
		}
		logger.Debug("Fragment stored",
			zap.String("fragment", fragment.Name),
			zap.Int("node", fragment.Index),
			zap.Int64("offset", fragment.Offset),
			zap.Int64("length", fragment.Length))
	}

	c.metrics.BytesStored.Add(float64(size))
	logger.Info("File stored", zap.String("file", name), zap.Int64("size", size))
	return protocol.WriteString(conn, protocol.StatusOK)
}

// discard consumes what is left of the client's payload so that the
// status string is not lost to a reset when the connection closes.
func (c *Coordinator) discard(payload *io.LimitedReader, logger *zap.Logger) {
	if payload.N == 0 {
		return
	}
	if _, err := io.Copy(io.Discard, payload); err != nil {
		logger.Debug("Failed to drain client payload", zap.Error(err))
	}
}

// storeFragment sends the next fragment.Length bytes of src to the
// fragment's node. The node never acknowledges a STORE; once the payload
// is out the write side is closed and the call waits for the node to close
// its side, which it does after the fragment is on disk.
func (c *Coordinator) storeFragment(ctx context.Context, fragment types.Fragment, src io.Reader, buf []byte) (err error) {
	endpoint := c.config.Nodes[fragment.Index]
	defer func() {
		c.metrics.FragmentTransfers.WithLabelValues(strconv.Itoa(fragment.Index), "store", outcome(err)).Inc()
	}()

	conn, err := shared.Dial(ctx, endpoint.Address(), c.config.NodeTimeout)
	if err != nil {
		return fmt.Errorf("node %d: %w", fragment.Index, err)
	}
	defer conn.Close()

	if err := protocol.WriteString(conn, protocol.CmdStoreFragment.String()); err != nil {
		return fmt.Errorf("node %d: failed to send command: %w", fragment.Index, err)
	}
	if err := protocol.WriteString(conn, fragment.Name); err != nil {
		return fmt.Errorf("node %d: failed to send fragment name: %w", fragment.Index, err)
	}
	if err := protocol.WriteInt64(conn, fragment.Length); err != nil {
		return fmt.Errorf("node %d: failed to send size: %w", fragment.Index, err)
	}

	copied, err := protocol.CopyChunked(conn, src, fragment.Length, buf)
	if err != nil {
		return fmt.Errorf("node %d: transfer of %s stopped at %d/%d bytes: %w",
			fragment.Index, fragment.Name, copied, fragment.Length, err)
	}

	if err := shared.CloseWrite(conn); err != nil {
		return fmt.Errorf("node %d: failed to finish %s: %w", fragment.Index, fragment.Name, err)
	}
	if _, err := io.Copy(io.Discard, conn); err != nil {
		return fmt.Errorf("node %d: failed to finish %s: %w", fragment.Index, fragment.Name, err)
	}
	return nil
}

// handleRetrieve reads `name`, collects every fragment in index order into
// a staging file and only then answers `OK size payload`. If any node
// fails, the client gets a status string and no payload.
func (c *Coordinator) handleRetrieve(ctx context.Context, conn net.Conn, logger *zap.Logger) error {
	name, err := protocol.ReadString(conn)
	if err != nil {
		return fmt.Errorf("failed to read file name: %w", err)
	}
	if err := storage.ValidateName(name); err != nil {
		logger.Warn("Rejected retrieve", zap.String("file", name), zap.Error(err))
		c.reply(conn, logger, protocol.StatusInvalidName)
		return fmt.Errorf("%w: %v", errRejected, err)
	}

	staging, err := c.createStagingFile()
	if err != nil {
		c.reply(conn, logger, protocol.StatusRetrieveFailed)
		return err
	}
	defer c.removeStagingFile(staging, logger)

	logger.Info("Retrieving file", zap.String("file", name))

	buf := c.chunkBuffer()
	var total int64
	for index := range c.config.Nodes {
		n, err := c.fetchFragment(ctx, index, storage.FragmentName(name, index), staging, buf)
		if err != nil {
			if errors.Is(err, errFileNotFound) {
				logger.Info("File not found", zap.String("file", name), zap.Error(err))
				c.reply(conn, logger, protocol.StatusNotFound)
			} else {
				logger.Error("Retrieve aborted",
					zap.String("file", name),
					zap.Int("fragment", index),
					zap.Error(err))
				c.reply(conn, logger, protocol.StatusRetrieveFailed)
			}
			return err
		}
		total += n
	}

	if _, err := staging.Seek(0, io.SeekStart); err != nil {
		c.reply(conn, logger, protocol.StatusRetrieveFailed)
		return fmt.Errorf("failed to rewind staging file: %w", err)
	}

	if err := protocol.WriteString(conn, protocol.StatusOK); err != nil {
		return err
	}
	if err := protocol.WriteInt64(conn, total); err != nil {
		return err
	}
	sent, err := protocol.CopyChunked(conn, staging, total, buf)
	c.metrics.BytesRetrieved.Add(float64(sent))
	if err != nil {
		return fmt.Errorf("failed to send %s to client (%d/%d bytes): %w", name, sent, total, err)
	}

	logger.Info("File retrieved", zap.String("file", name), zap.Int64("size", total))
	return nil
}

// fetchFragment asks node index for fragmentName and appends the payload
// to dst. A not-found answer is reported as errFileNotFound.
func (c *Coordinator) fetchFragment(ctx context.Context, index int, fragmentName string, dst io.Writer, buf []byte) (n int64, err error) {
	endpoint := c.config.Nodes[index]
	defer func() {
		c.metrics.FragmentTransfers.WithLabelValues(strconv.Itoa(index), "retrieve", outcome(err)).Inc()
	}()

	conn, err := shared.Dial(ctx, endpoint.Address(), c.config.NodeTimeout)
	if err != nil {
		return 0, fmt.Errorf("node %d: %w", index, err)
	}
	defer conn.Close()

	if err := protocol.WriteString(conn, protocol.CmdRetrieveFragment.String()); err != nil {
		return 0, fmt.Errorf("node %d: failed to send command: %w", index, err)
	}
	if err := protocol.WriteString(conn, fragmentName); err != nil {
		return 0, fmt.Errorf("node %d: failed to send fragment name: %w", index, err)
	}

	if err := protocol.ExpectOK(conn); err != nil {
		var statusErr *protocol.StatusError
		if errors.As(err, &statusErr) && statusErr.Status == protocol.StatusNotFound {
			return 0, fmt.Errorf("%w: %s missing on node %d", errFileNotFound, fragmentName, index)
		}
		return 0, fmt.Errorf("node %d: %w", index, err)
	}

	size, err := protocol.ReadSize(conn)
	if err != nil {
		return 0, fmt.Errorf("node %d: failed to read size: %w", index, err)
	}

	n, err = protocol.CopyChunked(dst, conn, size, buf)
	if err != nil {
		return n, fmt.Errorf("node %d: transfer of %s stopped at %d/%d bytes: %w", index, fragmentName, n, size, err)
	}
	return n, nil
}
