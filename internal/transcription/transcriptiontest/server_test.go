package transcriptiontest

import (
	"bufio"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tikhomirovv/voice-keyboard/internal/audio"
	"github.com/tikhomirovv/voice-keyboard/internal/protocol"
)

func TestServerRepliesPerWindow(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := NewServer(Config{Window: 2}, logger)
	require.NoError(t, err)
	srv.Start()
	defer srv.Close()

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write(protocol.EncodeSamples(audio.Chunk{1, -3, 2, 2, 5}))
	require.NoError(t, err)
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	reader := bufio.NewScanner(conn)

	var lines []string
	for reader.Scan() {
		lines = append(lines, reader.Text())
	}

	assert.Equal(t, []string{
		"window 1: 2 samples, peak 3",
		"window 2: 2 samples, peak 2",
		"window 3: 1 samples, peak 5",
		"done: 5 samples",
	}, lines)
	assert.Equal(t, int64(5), srv.Samples())
	assert.Equal(t, int64(1), srv.Connections())
}
