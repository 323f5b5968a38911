package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"fragstore/pkg/config"
	"fragstore/pkg/metrics"
	"fragstore/pkg/protocol"
	"fragstore/pkg/storage"
	"fragstore/pkg/types"

	"go.uber.org/zap"
)

// Node is a storage node. It holds a flat namespace of fragments and
// serves STORE and RETRIEVE requests, one connection at a time: the accept
// loop does not accept the next connection until the current one is done.
type Node struct {
	index    int
	endpoint types.StorageEndpoint
	baseDir  string
	logger   *zap.Logger
	metrics  *metrics.Metrics

	store    *storage.FragmentStore
	listener net.Listener

	// buf is the single transfer buffer. Requests are handled sequentially
	// so it is never shared between two transfers.
	buf []byte

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// New creates the node for cfg.Nodes[index]. A nil metrics uses a private
// registry.
func New(cfg *config.Config, index int, logger *zap.Logger, m *metrics.Metrics) (*Node, error) {
	endpoint, err := cfg.Node(index)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = metrics.New(nil)
	}

	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = protocol.DefaultChunkSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Node{
		index:    index,
		endpoint: endpoint,
		baseDir:  cfg.NodeBaseDir,
		logger:   logger.With(zap.Int("node", index)),
		metrics:  m,
		buf:      make([]byte, chunkSize),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}, nil
}

// Start binds the listener, opens the fragment directory and starts the
// accept loop in the background. The directory is derived from the bound
// port, so a configured port of 0 resolves to the one actually assigned.
func (n *Node) Start() error {
	bindAddr := n.endpoint.Address()
	listener, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", bindAddr, err)
	}

	port := n.endpoint.Port
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		port = tcpAddr.Port
	}

	store, err := storage.NewFragmentStore(storage.NodeDirectory(n.baseDir, port))
	if err != nil {
		listener.Close()
		return err
	}

	n.listener = listener
	n.store = store
	n.refreshStats()

	n.logger.Info("Storage node starting",
		zap.String("address", listener.Addr().String()),
		zap.String("directory", store.Dir()))

	go n.acceptLoop()
	return nil
}

// Stop closes the listener and waits for the in-flight request, if any.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		n.cancel()
		if n.listener == nil {
			close(n.done)
			return
		}
		n.listener.Close()
		<-n.done
		n.logger.Info("Storage node stopped")
	})
}

// Addr returns the bound listener address.
func (n *Node) Addr() net.Addr {
	if n.listener == nil {
		return nil
	}
	return n.listener.Addr()
}

// Index returns the node's position in the configured node list.
func (n *Node) Index() int {
	return n.index
}

// Store exposes the node's fragment directory.
func (n *Node) Store() *storage.FragmentStore {
	return n.store
}

func (n *Node) label() string {
	return strconv.Itoa(n.index)
}

func (n *Node) acceptLoop() {
	defer close(n.done)

	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			n.logger.Warn("Accept failed", zap.Error(err))
			time.Sleep(50 * time.Millisecond)
			continue
		}

		// Handled inline: the node serializes all of its requests.
		n.handleConn(conn)
	}
}

func (n *Node) handleConn(conn net.Conn) {
	defer conn.Close()

	raw, err := protocol.ReadString(conn)
	if err != nil {
		if errors.Is(err, io.EOF) {
			n.logger.Debug("Connection closed before any command",
				zap.String("remote", conn.RemoteAddr().String()))
			return
		}
		n.logger.Warn("Failed to read command",
			zap.String("remote", conn.RemoteAddr().String()),
			zap.Error(err))
		return
	}

	cmd := protocol.ParseCommand(raw)
	switch cmd {
	case protocol.CmdStoreFragment:
		err = n.handleStore(conn)
	case protocol.CmdRetrieveFragment:
		err = n.handleRetrieve(conn)
	default:
		n.metrics.NodeRequests.WithLabelValues(n.label(), "unknown", metrics.OutcomeRejected).Inc()
		n.logger.Warn("Unknown command",
			zap.String("command", raw),
			zap.Bool("client_command", cmd.IsClientCommand()))
		err = protocol.WriteString(conn, protocol.StatusUnknownCommand)
	}

	if err != nil {
		n.logger.Error("Request failed",
			zap.String("command", cmd.String()),
			zap.String("remote", conn.RemoteAddr().String()),
			zap.Error(err))
	}
}

// handleStore reads `name size payload` and writes the payload to the
// named fragment, replacing any earlier version. No acknowledgement is
// sent; the coordinator closes the connection once the payload is out.
func (n *Node) handleStore(conn net.Conn) error {
	outcome := metrics.OutcomeError
	defer func() {
		n.metrics.NodeRequests.WithLabelValues(n.label(), "store", outcome).Inc()
	}()

	name, err := protocol.ReadString(conn)
	if err != nil {
		return fmt.Errorf("failed to read fragment name: %w", err)
	}
	size, err := protocol.ReadSize(conn)
	if err != nil {
		return fmt.Errorf("failed to read size of %s: %w", name, err)
	}

	f, err := n.store.Create(name)
	if err != nil {
		return err
	}

	written, err := protocol.CopyChunked(f, conn, size, n.buf)
	n.metrics.NodeBytes.WithLabelValues(n.label(), "in").Add(float64(written))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	n.refreshStats()
	if err != nil {
		return fmt.Errorf("failed to store fragment %s (%d/%d bytes): %w", name, written, size, err)
	}

	outcome = metrics.OutcomeOK
	n.logger.Debug("Stored fragment",
		zap.String("fragment", name),
		zap.Int64("size", size))
	return nil
}

// handleRetrieve reads `name` and answers `OK size payload`, or the
// not-found string when the fragment does not exist.
func (n *Node) handleRetrieve(conn net.Conn) error {
	outcome := metrics.OutcomeError
	defer func() {
		n.metrics.NodeRequests.WithLabelValues(n.label(), "retrieve", outcome).Inc()
	}()

	name, err := protocol.ReadString(conn)
	if err != nil {
		return fmt.Errorf("failed to read fragment name: %w", err)
	}

	f, size, err := n.store.Open(name)
	if err != nil {
		if errors.Is(err, storage.ErrFragmentNotFound) || errors.Is(err, storage.ErrInvalidName) {
			outcome = metrics.OutcomeNotFound
			n.logger.Debug("Fragment not found", zap.String("fragment", name))
			return protocol.WriteString(conn, protocol.StatusNotFound)
		}
		if werr := protocol.WriteString(conn, protocol.StatusRetrieveFailed); werr != nil {
			n.logger.Debug("Failed to report retrieve error", zap.Error(werr))
		}
		return err
	}
	defer f.Close()

	if err := protocol.WriteString(conn, protocol.StatusOK); err != nil {
		return err
	}
	if err := protocol.WriteInt64(conn, size); err != nil {
		return err
	}

	sent, err := protocol.CopyChunked(conn, f, size, n.buf)
	n.metrics.NodeBytes.WithLabelValues(n.label(), "out").Add(float64(sent))
	if err != nil {
		return fmt.Errorf("failed to send fragment %s (%d/%d bytes): %w", name, sent, size, err)
	}

	outcome = metrics.OutcomeOK
	n.logger.Debug("Served fragment",
		zap.String("fragment", name),
		zap.Int64("size", size))
	return nil
}

func (n *Node) refreshStats() {
	stats, err := n.store.Stats()
	if err != nil {
		n.logger.Debug("Failed to read fragment stats", zap.Error(err))
		return
	}
	n.metrics.NodeFragments.WithLabelValues(n.label()).Set(float64(stats.Fragments))
}
