package tcpserver

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/rediminute/logger"
	"github.com/cyberinferno/rediminute/processor"
	"github.com/cyberinferno/rediminute/session"
)

func registerPipeSession(t *testing.T, srv *TCPServer, id uint64, lastActive time.Time) *session.Session {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})

	sess := session.New(id, server, lastActive)
	require.NoError(t, srv.Sessions().Register(sess))
	return sess
}

func TestSweep_EvictsStaleAndClosed(t *testing.T) {
	cfg := testConfig()
	cfg.IdleTimeout = time.Second
	srv := New(cfg, processor.Echo, logger.Nop())

	now := time.Now()
	stale := registerPipeSession(t, srv, 1, now.Add(-2*time.Second))
	fresh := registerPipeSession(t, srv, 2, now.Add(-500*time.Millisecond))
	closed := registerPipeSession(t, srv, 3, now)
	_, err := closed.Close()
	require.NoError(t, err)

	evicted, remaining := srv.Sweep(context.Background(), now)

	assert.Equal(t, 2, evicted)
	assert.Equal(t, 1, remaining)
	assert.True(t, stale.IsClosed())
	assert.False(t, fresh.IsClosed())

	_, ok := srv.Sessions().Get(2)
	assert.True(t, ok)
	assert.Equal(t, int64(2), srv.Stats().Evicted)
}

func TestSweep_ThresholdIsExclusive(t *testing.T) {
	cfg := testConfig()
	cfg.IdleTimeout = time.Second
	srv := New(cfg, processor.Echo, logger.Nop())

	now := time.Now()
	registerPipeSession(t, srv, 1, now.Add(-time.Second))

	evicted, remaining := srv.Sweep(context.Background(), now)
	assert.Equal(t, 0, evicted)
	assert.Equal(t, 1, remaining)
}

func TestSweep_CancelledAbandonsPass(t *testing.T) {
	srv := New(testConfig(), processor.Echo, logger.Nop())
	now := time.Now()
	registerPipeSession(t, srv, 1, now.Add(-time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	evicted, remaining := srv.Sweep(ctx, now)
	assert.Equal(t, 0, evicted)
	assert.Equal(t, 1, remaining)
}

func TestSweep_RacingHandlerExit(t *testing.T) {
	srv := New(testConfig(), processor.Echo, logger.Nop())

	for i := uint64(1); i <= 20; i++ {
		sess := registerPipeSession(t, srv, i, time.Now().Add(-time.Hour))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			srv.finish(sess, reasonReadError, logger.Nop())
		}()
		go func() {
			defer wg.Done()
			srv.Sweep(context.Background(), time.Now())
		}()
		wg.Wait()

		assert.True(t, sess.IsClosed())
		assert.Equal(t, 0, srv.Sessions().Len())

		first, err := sess.Close()
		assert.False(t, first)
		assert.NoError(t, err)
	}

	assert.LessOrEqual(t, srv.Stats().Evicted, int64(20))
}

func TestSweepLoop_EvictsWithoutHandlerActivity(t *testing.T) {
	cfg := testConfig()
	cfg.IdleTimeout = 100 * time.Millisecond
	cfg.CleanupInterval = 50 * time.Millisecond
	srv := startServer(t, cfg, processor.Echo)

	sess := registerPipeSession(t, srv, 1000, time.Now())

	assert.Eventually(t, func() bool { return srv.Sessions().Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, sess.IsClosed())
	assert.Equal(t, int64(1), srv.Stats().Evicted)
}

func TestSweepLoop_StopsOnShutdown(t *testing.T) {
	cfg := testConfig()
	cfg.CleanupInterval = time.Hour
	srv := startServer(t, cfg, processor.Echo)

	start := time.Now()
	srv.Stop()
	assert.Less(t, time.Since(start), 2*time.Second)
}
