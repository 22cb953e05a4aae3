package cli

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/rediminute/config"
	"github.com/cyberinferno/rediminute/logger"
	"github.com/cyberinferno/rediminute/processor"
	"github.com/cyberinferno/rediminute/tcpserver"
)

// syncBuffer is written by the server goroutine and read by the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// runServer starts RunServer, waits until it logs that it is serving, then
// cancels it and returns the captured output.
func runServer(t *testing.T, args ...string) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &syncBuffer{}
	errCh := make(chan error, 1)
	go func() { errCh <- RunServer(ctx, args, out) }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "server started")
	}, 5*time.Second, 10*time.Millisecond, "output: %s", out.String())

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	return out.String()
}

func occupiedPort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	return strconv.Itoa(ln.Addr().(*net.TCPAddr).Port)
}

func TestRunServer_Version(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, RunServer(context.Background(), []string{"--version"}, &out))
	assert.Equal(t, "rediminute "+version+"\n", out.String())
}

func TestRunServer_Help(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, RunServer(context.Background(), []string{"--help"}, &out))
	assert.Contains(t, out.String(), "--cleanup-interval")
	assert.Contains(t, out.String(), "REDIMINUTE_")
}

func TestRunServer_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown flag", []string{"--nonexistent-flag"}},
		{"positional", []string{"extra"}},
		{"zero timeout", []string{"--timeout", "0"}},
		{"zero cleanup interval", []string{"--cleanup-interval", "0"}},
		{"bad port", []string{"--port", "70000"}},
		{"bad log format", []string{"--log-format", "xml"}},
		{"bad log level", []string{"--log-level", "loud"}},
		{"zero max line bytes", []string{"--max-line-bytes", "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			assert.Error(t, RunServer(context.Background(), tt.args, &out))
		})
	}
}

func TestRunServer_BindError(t *testing.T) {
	port := occupiedPort(t)

	var out bytes.Buffer
	err := RunServer(context.Background(), []string{"--host", "127.0.0.1", "--port", port}, &out)

	var bindErr *tcpserver.BindError
	require.True(t, errors.As(err, &bindErr), "got %v", err)
	assert.Contains(t, out.String(), "failed to start")
}

func TestRunServer_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("REDIMINUTE_IDLE_TIMEOUT", "0")
	port := occupiedPort(t)

	var out bytes.Buffer
	err := RunServer(context.Background(), []string{"--port", port}, &out)
	assert.NotErrorAs(t, err, new(*tcpserver.BindError), "env value alone must fail validation")

	out.Reset()
	err = RunServer(context.Background(), []string{"--port", port, "--timeout", "5"}, &out)
	assert.ErrorAs(t, err, new(*tcpserver.BindError), "flag must override the invalid env value")
}

func TestRunServer_ServesUntilCancelled(t *testing.T) {
	out := runServer(t, "--port", "0", "--log-format", "json")

	assert.Contains(t, out, `"service":"rediminute"`)
	assert.Contains(t, out, "rediminute server started")
	assert.Contains(t, out, "rediminute server stopped")
}

func TestRunServer_MemoryCache(t *testing.T) {
	out := runServer(t, "--port", "0", "--cache-ttl", "10")
	assert.Contains(t, out, "response cache enabled")
	assert.Contains(t, out, `"backend":"memory"`)
}

func TestRunServer_RedisCacheUnreachable(t *testing.T) {
	out := runServer(t, "--port", "0", "--cache-ttl", "10", "--redis-addr", "127.0.0.1:1")
	assert.Contains(t, out, "redis unreachable")
	assert.Contains(t, out, `"backend":"redis"`)
}

func TestRunServer_LogDir(t *testing.T) {
	dir := t.TempDir()
	out := runServer(t, "--port", "0", "--log-dir", dir, "--debug")
	assert.Contains(t, out, `"level":"debug"`)
}

func startEchoServer(t *testing.T, p processor.Processor) string {
	t.Helper()
	srv := tcpserver.New(tcpserver.Config{
		Name:            "test",
		Addr:            "127.0.0.1:0",
		IdleTimeout:     5 * time.Second,
		CleanupInterval: time.Hour,
		WriteTimeout:    time.Second,
		ShutdownTimeout: 5 * time.Second,
	}, p, logger.Nop())
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return strconv.Itoa(srv.Addr().(*net.TCPAddr).Port)
}

func TestServerConfig_MaxLineBytes(t *testing.T) {
	cfg := config.Default()
	cfg.MaxLineBytes = 2048
	assert.Equal(t, 2048, serverConfig(cfg).MaxLineBytes)
}

func TestRunClient_Session(t *testing.T) {
	port := startEchoServer(t, processor.Echo)

	in := strings.NewReader("Hello, server!\nsecond\nquit\nnever sent\n")
	var out bytes.Buffer
	err := RunClient(context.Background(), []string{"--port", port, "--no-color"}, in, &out)
	require.NoError(t, err)

	got := out.String()
	assert.Contains(t, got, "Connected to 127.0.0.1:"+port)
	assert.Contains(t, got, "Response: Hello, server!\n")
	assert.Contains(t, got, "Response: second\n")
	assert.NotContains(t, got, "never sent")
	assert.Contains(t, got, "Disconnected")
}

func TestRunClient_EndOfInput(t *testing.T) {
	port := startEchoServer(t, processor.Echo)

	var out bytes.Buffer
	err := RunClient(context.Background(), []string{"-p", port, "--no-color"}, strings.NewReader("only"), &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Response: only\n")
}

func TestRunClient_ServerClosed(t *testing.T) {
	boom := processor.Func(func(context.Context, string) (string, error) {
		return "", errors.New("boom")
	})
	port := startEchoServer(t, boom)

	var out bytes.Buffer
	err := RunClient(context.Background(), []string{"-p", port, "--no-color"}, strings.NewReader("x\ny\n"), &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Server closed the connection")
	assert.NotContains(t, out.String(), "Response:")
}

func TestRunClient_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := strconv.Itoa(ln.Addr().(*net.TCPAddr).Port)
	require.NoError(t, ln.Close())

	var out bytes.Buffer
	assert.Error(t, RunClient(context.Background(), []string{"-p", port}, strings.NewReader(""), &out))
}

func TestRunClient_Flags(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, RunClient(context.Background(), []string{"--version"}, nil, &out))
	assert.Equal(t, "rediminute-cli "+version+"\n", out.String())

	out.Reset()
	require.NoError(t, RunClient(context.Background(), []string{"--help"}, nil, &out))
	assert.Contains(t, out.String(), "--no-color")

	assert.Error(t, RunClient(context.Background(), []string{"--timeout", "-1"}, nil, &out))
	assert.Error(t, RunClient(context.Background(), []string{"--bogus"}, nil, &out))
}

func TestIsExitCommand(t *testing.T) {
	for _, line := range []string{"exit", "quit", "q", "QUIT", " q "} {
		assert.True(t, isExitCommand(line), line)
	}
	for _, line := range []string{"", "quitting", "qq", "hello"} {
		assert.False(t, isExitCommand(line), line)
	}
}
