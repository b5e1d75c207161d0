package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aditzel/mcp-squared/internal/instancedir"
	"github.com/aditzel/mcp-squared/internal/ipcframe"
)

// fakeDaemon accepts one connection, completes the hello handshake, and
// echoes back any {type:mcp} payload it receives wrapped in a response
// frame, simulating a minimal Daemon IPC server for bridge tests.
func fakeDaemon(t *testing.T, sockPath string) {
	t.Helper()
	lis, err := net.Listen("unix", sockPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = lis.Close() })

	go func() {
		conn, err := lis.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		reader := ipcframe.NewReader(conn)
		writer := ipcframe.NewWriter(conn)

		hello, err := reader.ReadFrame()
		if err != nil || hello.Type != ipcframe.TypeHello {
			return
		}
		_ = writer.WriteFrame(ipcframe.Frame{Type: ipcframe.TypeWelcome, SessionID: "sess-1"})

		for {
			frame, err := reader.ReadFrame()
			if err != nil {
				return
			}
			if frame.Type == ipcframe.TypeMCP {
				_ = writer.WriteFrame(ipcframe.Frame{Type: ipcframe.TypeMCP, Payload: frame.Payload})
			}
		}
	}()
}

func TestRunBridgesStdinToDaemonAndBack(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "daemon.sock")
	fakeDaemon(t, sockPath)

	registry, err := instancedir.Open(dir)
	require.NoError(t, err)
	require.NoError(t, registry.Register(instancedir.Instance{ID: "d1", PID: 1, SocketPath: sockPath, StartedAt: time.Now()}))

	req := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": "ping"}
	line, err := json.Marshal(req)
	require.NoError(t, err)

	// stdin stays open until the test ends: Run returns as soon as stdin
	// reaches EOF, which would race the daemon's echo.
	stdin, stdinW := io.Pipe()
	defer stdinW.Close()
	go func() { _, _ = stdinW.Write(append(line, '\n')) }()
	var stdout bytes.Buffer

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- Run(ctx, Options{Registry: registry}, stdin, &stdout) }()

	// Give the bridge a moment to echo the line back, then cancel.
	time.Sleep(200 * time.Millisecond)
	cancel()
	<-done

	assert.Contains(t, stdout.String(), `"method":"ping"`)
}
