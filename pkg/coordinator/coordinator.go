package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"fragstore/pkg/config"
	"fragstore/pkg/metrics"
	"fragstore/pkg/protocol"
	"fragstore/pkg/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	errFileNotFound = errors.New("file not found")
	errRejected     = errors.New("request rejected")
)

// Coordinator accepts client connections and serves ENVOYER, RECEVOIR,
// LISTER and SUPPRIMER. Every connection runs in its own goroutine and
// carries exactly one command.
type Coordinator struct {
	config  *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	listener net.Listener
	// admission holds one token per in-flight connection when MaxClients
	// is set. Nil means unbounded.
	admission chan struct{}

	conns      map[net.Conn]struct{}
	connsMutex sync.Mutex
	connsWG    sync.WaitGroup

	// Node probing
	nodeStatus  []types.NodeStatus
	statusMutex sync.RWMutex
	probeHooks  []func([]types.NodeStatus)

	serving atomic.Bool

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a coordinator for cfg. The configuration is shared and must
// not be modified afterwards. A nil metrics uses a private registry.
func New(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if m == nil {
		m = metrics.New(nil)
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Coordinator{
		config:     cfg,
		logger:     logger,
		metrics:    m,
		conns:      make(map[net.Conn]struct{}),
		nodeStatus: make([]types.NodeStatus, len(cfg.Nodes)),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	if cfg.MaxClients > 0 {
		c.admission = make(chan struct{}, cfg.MaxClients)
	}
	for i, endpoint := range cfg.Nodes {
		c.nodeStatus[i] = types.NodeStatus{Index: i, Address: endpoint.Address()}
	}

	return c, nil
}

// Start creates the coordinator directory, binds the listener and starts
// accepting connections in the background.
func (c *Coordinator) Start() error {
	if err := os.MkdirAll(c.config.Directory, 0755); err != nil {
		return fmt.Errorf("failed to create coordinator directory: %w", err)
	}

	address := c.config.Coordinator.Address()
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	c.listener = listener
	c.serving.Store(true)

	c.logger.Info("Coordinator starting",
		zap.String("address", listener.Addr().String()),
		zap.String("directory", c.config.Directory),
		zap.Int("nodes", len(c.config.Nodes)),
		zap.Int("chunk_size", c.config.ChunkSize),
		zap.Int("max_clients", c.config.MaxClients),
		zap.Duration("node_timeout", c.config.NodeTimeout))

	go c.acceptLoop()

	if c.config.ProbeInterval > 0 {
		go c.nodeHealthLoop()
	}

	return nil
}

// Stop stops accepting, closes in-flight client connections and waits for
// their handlers to return.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		c.serving.Store(false)
		c.cancel()

		if c.listener == nil {
			close(c.done)
			return
		}
		c.listener.Close()
		<-c.done

		c.connsMutex.Lock()
		for conn := range c.conns {
			conn.Close()
		}
		c.connsMutex.Unlock()
		c.connsWG.Wait()

		c.logger.Info("Coordinator stopped")
	})
}

// Addr returns the bound listener address.
func (c *Coordinator) Addr() net.Addr {
	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

// Serving reports whether the coordinator is accepting connections.
func (c *Coordinator) Serving() bool {
	return c.serving.Load()
}

func (c *Coordinator) acceptLoop() {
	defer close(c.done)

	for {
		conn, err := c.listener.Accept()
		if err != nil {
			select {
			case <-c.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			c.logger.Warn("Accept failed", zap.Error(err))
			time.Sleep(50 * time.Millisecond)
			continue
		}

		if !c.admit() {
			c.metrics.RejectedConnections.Inc()
			c.logger.Warn("Connection refused, client limit reached",
				zap.String("remote", conn.RemoteAddr().String()),
				zap.Int("max_clients", c.config.MaxClients))
			conn.Close()
			continue
		}

		c.track(conn, true)
		c.connsWG.Add(1)
		go func() {
			defer c.connsWG.Done()
			defer c.release()
			defer c.track(conn, false)
			c.handleConn(conn)
		}()
	}
}

func (c *Coordinator) admit() bool {
	if c.admission == nil {
		return true
	}
	select {
	case c.admission <- struct{}{}:
		return true
	default:
		return false
	}
}

func (c *Coordinator) release() {
	if c.admission != nil {
		<-c.admission
	}
}

func (c *Coordinator) track(conn net.Conn, add bool) {
	c.connsMutex.Lock()
	defer c.connsMutex.Unlock()
	if add {
		c.conns[conn] = struct{}{}
	} else {
		delete(c.conns, conn)
	}
}

func (c *Coordinator) handleConn(conn net.Conn) {
	defer conn.Close()

	c.metrics.ActiveConnections.Inc()
	defer c.metrics.ActiveConnections.Dec()

	logger := c.logger.With(
		zap.String("conn_id", uuid.NewString()),
		zap.String("remote", conn.RemoteAddr().String()))

	raw, err := protocol.ReadString(conn)
	if err != nil {
		if errors.Is(err, io.EOF) {
			logger.Debug("Connection closed before any command")
			return
		}
		logger.Warn("Failed to read command", zap.Error(err))
		return
	}

	start := time.Now()
	cmd := protocol.ParseCommand(raw)
	label := cmd.String()

	switch cmd {
	case protocol.CmdStore:
		err = c.handleStore(c.ctx, conn, logger)
	case protocol.CmdRetrieve:
		err = c.handleRetrieve(c.ctx, conn, logger)
	case protocol.CmdList:
		err = c.handleList(conn, logger)
	case protocol.CmdDelete:
		err = c.handleDelete(conn, logger)
	default:
		label = "unknown"
		logger.Warn("Unknown command",
			zap.String("command", raw),
			zap.Bool("node_command", cmd.IsNodeCommand()))
		if werr := protocol.WriteString(conn, protocol.StatusUnknownCommand); werr != nil {
			logger.Debug("Failed to send response", zap.Error(werr))
		}
		err = fmt.Errorf("%w: unknown command %q", errRejected, raw)
	}

	c.metrics.ClientRequests.WithLabelValues(label, outcome(err)).Inc()
	c.metrics.RequestDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
}

// reply sends a best-effort status string. The client may already be gone.
func (c *Coordinator) reply(conn net.Conn, logger *zap.Logger, status string) {
	if err := protocol.WriteString(conn, status); err != nil {
		logger.Debug("Failed to send response",
			zap.String("status", status),
			zap.Error(err))
	}
}

func (c *Coordinator) chunkBuffer() []byte {
	return make([]byte, c.config.ChunkSize)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, errFileNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, errRejected):
		return metrics.OutcomeRejected
	default:
		return metrics.OutcomeError
	}
}
