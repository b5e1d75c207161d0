package ipcframe

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteThenReadFrameRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteFrame(Frame{Type: TypeHello, Protocol: 1, SessionID: "sess-1"}))

	r := NewReader(&buf)
	f, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, TypeHello, f.Type)
	assert.Equal(t, 1, f.Protocol)
	assert.Equal(t, "sess-1", f.SessionID)
}

func TestReadFrameReturnsEOFOnCleanClose(t *testing.T) {
	r := NewReader(strings.NewReader(""))
	_, err := r.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFrameOversizedLineIsTooLarge(t *testing.T) {
	huge := strings.Repeat("a", MaxFrameBytes+1)
	r := NewReader(strings.NewReader(huge + "\n"))
	_, err := r.ReadFrame()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ipc_frame_too_large")
}

func TestReadFrameMultipleLinesInOrder(t *testing.T) {
	r := NewReader(strings.NewReader(`{"type":"ping"}` + "\n" + `{"type":"pong"}` + "\n"))

	first, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, TypePing, first.Type)

	second, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, TypePong, second.Type)
}

func TestLineReaderReadsBareCommands(t *testing.T) {
	l := NewLineReader(strings.NewReader("stats\ntools 5\n"))

	first, err := l.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "stats", first)

	second, err := l.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "tools 5", second)
}

func TestWriteMonitorReplyEncodesTrailingNewline(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMonitorReply(&buf, MonitorReply{Status: "success", Timestamp: 123}))
	assert.True(t, strings.HasSuffix(buf.String(), "\n"))
	assert.Contains(t, buf.String(), `"status":"success"`)
}
