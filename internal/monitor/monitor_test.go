package monitor

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/aditzel/mcp-squared/internal/daemon"
	"github.com/aditzel/mcp-squared/internal/ipcframe"
	"github.com/aditzel/mcp-squared/internal/upstream"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startTestListener(t *testing.T, opts Options) (*Listener, string) {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "monitor.sock")
	opts.SocketPath = sockPath

	l := New(opts, discardLogger())
	if err := l.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = l.Serve(ctx) }()

	return l, sockPath
}

func sendCommand(t *testing.T, sockPath, cmd string) ipcframe.MonitorReply {
	t.Helper()
	var conn net.Conn
	var err error
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("unix", sockPath)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("dial monitor socket: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(cmd + "\n")); err != nil {
		t.Fatalf("write command: %v", err)
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		t.Fatalf("no reply: %v", scanner.Err())
	}
	var reply ipcframe.MonitorReply
	if err := json.Unmarshal(scanner.Bytes(), &reply); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	return reply
}

func TestPingReturnsSuccess(t *testing.T) {
	counters := NewCounters(nil, false)
	_, sockPath := startTestListener(t, Options{Counters: counters, Upstreams: upstream.NewRegistry(discardLogger(), nil)})

	reply := sendCommand(t, sockPath, "ping")
	if reply.Status != "success" {
		t.Fatalf("status = %q, want success", reply.Status)
	}
}

func TestStatsReturnsCumulativeCounters(t *testing.T) {
	counters := NewCounters(nil, false)
	counters.RecordRequest(context.Background(), "execute", false)
	counters.RecordRequest(context.Background(), "execute", true)

	_, sockPath := startTestListener(t, Options{Counters: counters, Upstreams: upstream.NewRegistry(discardLogger(), nil)})

	reply := sendCommand(t, sockPath, "stats")
	if reply.Status != "success" {
		t.Fatalf("status = %q, want success", reply.Status)
	}
	var snap StatsSnapshot
	if err := json.Unmarshal(reply.Data, &snap); err != nil {
		t.Fatalf("unmarshal stats data: %v", err)
	}
	if snap.RequestsTotal != 2 || snap.RequestsFailed != 1 {
		t.Fatalf("snap = %+v, want total=2 failed=1", snap)
	}
}

func TestToolsCommandErrorsWhenTrackingDisabled(t *testing.T) {
	counters := NewCounters(nil, false)
	_, sockPath := startTestListener(t, Options{Counters: counters, Upstreams: upstream.NewRegistry(discardLogger(), nil)})

	reply := sendCommand(t, sockPath, "tools")
	if reply.Status != "error" {
		t.Fatalf("status = %q, want error", reply.Status)
	}
}

func TestUpstreamsReturnsEmptyListForEmptyRegistry(t *testing.T) {
	counters := NewCounters(nil, false)
	_, sockPath := startTestListener(t, Options{Counters: counters, Upstreams: upstream.NewRegistry(discardLogger(), nil)})

	reply := sendCommand(t, sockPath, "upstreams")
	if reply.Status != "success" {
		t.Fatalf("status = %q, want success", reply.Status)
	}
	var views []UpstreamView
	if err := json.Unmarshal(reply.Data, &views); err != nil {
		t.Fatalf("unmarshal upstreams data: %v", err)
	}
	if len(views) != 0 {
		t.Fatalf("len(views) = %d, want 0", len(views))
	}
}

func TestClientsUsesListClientsCallback(t *testing.T) {
	counters := NewCounters(nil, false)
	opts := Options{
		Counters:  counters,
		Upstreams: upstream.NewRegistry(discardLogger(), nil),
		ListClients: func() []daemon.ClientInfo {
			return []daemon.ClientInfo{{ID: "s1", ClientID: "c1", IsOwner: true}}
		},
	}
	_, sockPath := startTestListener(t, opts)

	reply := sendCommand(t, sockPath, "clients")
	var clients []daemon.ClientInfo
	if err := json.Unmarshal(reply.Data, &clients); err != nil {
		t.Fatalf("unmarshal clients data: %v", err)
	}
	if len(clients) != 1 || clients[0].ClientID != "c1" {
		t.Fatalf("clients = %+v, want one entry for c1", clients)
	}
}

func TestUnknownCommandReturnsError(t *testing.T) {
	counters := NewCounters(nil, false)
	_, sockPath := startTestListener(t, Options{Counters: counters, Upstreams: upstream.NewRegistry(discardLogger(), nil)})

	reply := sendCommand(t, sockPath, "bogus")
	if reply.Status != "error" {
		t.Fatalf("status = %q, want error", reply.Status)
	}
}
