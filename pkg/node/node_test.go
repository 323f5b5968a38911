package node

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"fragstore/pkg/config"
	"fragstore/pkg/metrics"
	"fragstore/pkg/protocol"
	"fragstore/pkg/types"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// Helper function to create test logger
func testLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// Helper function to create a config with one auto-assigned node
func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Nodes = []types.StorageEndpoint{{Host: "127.0.0.1", Port: 0}}
	cfg.NodeBaseDir = t.TempDir()
	cfg.ChunkSize = 7 // odd size so transfers span several reads
	return cfg
}

func startNode(t *testing.T) (*Node, *metrics.Metrics) {
	t.Helper()

	m := metrics.New(nil)
	n, err := New(testConfig(t), 0, testLogger(t), m)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := n.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(n.Stop)
	return n, m
}

func dial(t *testing.T, n *Node) net.Conn {
	t.Helper()

	conn, err := net.Dial("tcp", n.Addr().String())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func storeFragment(t *testing.T, n *Node, command, name string, data []byte) {
	t.Helper()

	conn := dial(t, n)
	if err := protocol.WriteString(conn, command); err != nil {
		t.Fatal(err)
	}
	if err := protocol.WriteString(conn, name); err != nil {
		t.Fatal(err)
	}
	if err := protocol.WriteInt64(conn, int64(len(data))); err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Write(data); err != nil {
		t.Fatal(err)
	}
	conn.(*net.TCPConn).CloseWrite()

	// The node closes without an acknowledgement once the fragment is written.
	var one [1]byte
	if _, err := conn.Read(one[:]); err == nil {
		t.Fatal("expected the node to close the connection without a reply")
	}
}

func retrieveFragment(t *testing.T, n *Node, name string) (string, []byte) {
	t.Helper()

	conn := dial(t, n)
	if err := protocol.WriteString(conn, "RETRIEVE"); err != nil {
		t.Fatal(err)
	}
	if err := protocol.WriteString(conn, name); err != nil {
		t.Fatal(err)
	}

	status, err := protocol.ReadString(conn)
	if err != nil {
		t.Fatalf("failed to read status: %v", err)
	}
	if status != protocol.StatusOK {
		return status, nil
	}

	size, err := protocol.ReadSize(conn)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if _, err := protocol.CopyChunked(&buf, conn, size, nil); err != nil {
		t.Fatalf("failed to read payload: %v", err)
	}
	return status, buf.Bytes()
}

func TestNewNodeIndexOutOfRange(t *testing.T) {
	if _, err := New(testConfig(t), 1, testLogger(t), nil); err == nil {
		t.Fatal("expected an error for a node index outside the configured list")
	}
}

func TestNodeDirectoryFollowsBoundPort(t *testing.T) {
	n, _ := startNode(t)

	port := n.Addr().(*net.TCPAddr).Port
	want := filepath.Join(filepath.Dir(n.Store().Dir()), "sub_server_directory_"+strconv.Itoa(port))
	if n.Store().Dir() != want {
		t.Errorf("Dir = %s, want %s", n.Store().Dir(), want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("fragment directory not created: %v", err)
	}
}

func TestStoreAndRetrieve(t *testing.T) {
	n, m := startNode(t)
	data := []byte("the quick brown fox jumps over the lazy dog")

	storeFragment(t, n, "STORE", "fox.txt.part1", data)

	status, got := retrieveFragment(t, n, "fox.txt.part1")
	if status != protocol.StatusOK {
		t.Fatalf("status = %q, want OK", status)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("payload = %q, want %q", got, data)
	}

	if v := testutil.ToFloat64(m.NodeRequests.WithLabelValues("0", "store", metrics.OutcomeOK)); v != 1 {
		t.Errorf("store requests = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.NodeFragments.WithLabelValues("0")); v != 1 {
		t.Errorf("fragments gauge = %v, want 1", v)
	}
}

func TestStoreOverwrites(t *testing.T) {
	n, _ := startNode(t)

	storeFragment(t, n, "STORE", "a.part0", []byte("first version, long"))
	storeFragment(t, n, "store", "a.part0", []byte("second"))

	_, got := retrieveFragment(t, n, "a.part0")
	if string(got) != "second" {
		t.Errorf("payload = %q, want %q", got, "second")
	}
}

func TestStoreEmptyFragment(t *testing.T) {
	n, _ := startNode(t)

	storeFragment(t, n, "STORE", "empty.part0", nil)

	status, got := retrieveFragment(t, n, "empty.part0")
	if status != protocol.StatusOK || len(got) != 0 {
		t.Errorf("got status %q with %d bytes, want OK with 0", status, len(got))
	}
}

func TestRetrieveMissingFragment(t *testing.T) {
	n, m := startNode(t)

	status, _ := retrieveFragment(t, n, "ghost.part0")
	if status != protocol.StatusNotFound {
		t.Errorf("status = %q, want %q", status, protocol.StatusNotFound)
	}

	status, _ = retrieveFragment(t, n, "../escape")
	if status != protocol.StatusNotFound {
		t.Errorf("status = %q, want %q", status, protocol.StatusNotFound)
	}

	if v := testutil.ToFloat64(m.NodeRequests.WithLabelValues("0", "retrieve", metrics.OutcomeNotFound)); v != 2 {
		t.Errorf("not found requests = %v, want 2", v)
	}
}

func TestUnknownCommand(t *testing.T) {
	n, _ := startNode(t)

	conn := dial(t, n)
	if err := protocol.WriteString(conn, "DELETE"); err != nil {
		t.Fatal(err)
	}
	status, err := protocol.ReadString(conn)
	if err != nil {
		t.Fatal(err)
	}
	if status != protocol.StatusUnknownCommand {
		t.Errorf("status = %q, want %q", status, protocol.StatusUnknownCommand)
	}

	// The node keeps serving afterwards.
	storeFragment(t, n, "STORE", "after.part0", []byte("x"))
	if !n.Store().Exists("after.part0") {
		t.Error("fragment stored after an unknown command is missing")
	}
}

func TestProbeConnectionIsIgnored(t *testing.T) {
	n, _ := startNode(t)

	conn, err := net.Dial("tcp", n.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	conn.Close()

	storeFragment(t, n, "STORE", "b.part0", []byte("still alive"))
	_, got := retrieveFragment(t, n, "b.part0")
	if string(got) != "still alive" {
		t.Errorf("payload = %q", got)
	}
}

func TestTruncatedStoreDoesNotStopNode(t *testing.T) {
	n, m := startNode(t)

	conn := dial(t, n)
	protocol.WriteString(conn, "STORE")
	protocol.WriteString(conn, "cut.part0")
	protocol.WriteInt64(conn, 100)
	conn.Write([]byte("only ten b"))
	conn.Close()

	// The next request is only accepted once the truncated one is done.
	storeFragment(t, n, "STORE", "ok.part0", []byte("fine"))

	if v := testutil.ToFloat64(m.NodeRequests.WithLabelValues("0", "store", metrics.OutcomeError)); v != 1 {
		t.Errorf("failed stores = %v, want 1", v)
	}
	if !n.Store().Exists("ok.part0") {
		t.Error("node stopped serving after a truncated store")
	}
}

func TestConnectionsAreSerialized(t *testing.T) {
	n, _ := startNode(t)
	storeFragment(t, n, "STORE", "x.part0", []byte("ready"))

	// Connection A stops halfway through its payload.
	a := dial(t, n)
	if err := protocol.WriteString(a, "STORE"); err != nil {
		t.Fatal(err)
	}
	if err := protocol.WriteString(a, "y.part0"); err != nil {
		t.Fatal(err)
	}
	if err := protocol.WriteInt64(a, 100); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Write([]byte("partial")); err != nil {
		t.Fatal(err)
	}

	// Connection B waits in the accept queue while A is being served.
	b := dial(t, n)
	if err := protocol.WriteString(b, "RETRIEVE"); err != nil {
		t.Fatal(err)
	}
	if err := protocol.WriteString(b, "x.part0"); err != nil {
		t.Fatal(err)
	}

	b.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if status, err := protocol.ReadString(b); err == nil {
		t.Fatalf("expected no answer while A is open, got %q", status)
	} else if netErr, ok := err.(net.Error); !ok || !netErr.Timeout() {
		t.Fatalf("expected a read timeout, got %v", err)
	}

	a.Close()

	b.SetReadDeadline(time.Now().Add(5 * time.Second))
	status, err := protocol.ReadString(b)
	if err != nil {
		t.Fatalf("failed to read status after A closed: %v", err)
	}
	if status != protocol.StatusOK {
		t.Fatalf("expected %q, got %q", protocol.StatusOK, status)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	n, _ := startNode(t)
	n.Stop()
	n.Stop()

	if _, err := net.Dial("tcp", n.Addr().String()); err == nil {
		t.Error("listener still accepting after Stop")
	}
}

func BenchmarkStoreRetrieve(b *testing.B) {
	cfg := config.Default()
	cfg.Nodes = []types.StorageEndpoint{{Host: "127.0.0.1", Port: 0}}
	cfg.NodeBaseDir = b.TempDir()

	n, err := New(cfg, 0, zap.NewNop(), nil)
	if err != nil {
		b.Fatal(err)
	}
	if err := n.Start(); err != nil {
		b.Fatal(err)
	}
	defer n.Stop()

	data := bytes.Repeat([]byte("x"), 64*1024)
	b.SetBytes(int64(len(data)))
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		conn, err := net.Dial("tcp", n.Addr().String())
		if err != nil {
			b.Fatal(err)
		}
		protocol.WriteString(conn, "STORE")
		protocol.WriteString(conn, "bench.part0")
		protocol.WriteInt64(conn, int64(len(data)))
		conn.Write(data)
		conn.Close()
	}
}
