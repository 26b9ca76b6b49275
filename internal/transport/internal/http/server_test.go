package http

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesprial/admanager-gateway/internal/config"
)

func newTestServer(t *testing.T, handler http.Handler) *server {
	t.Helper()
	cfg := &config.Config{
		Addr:         "127.0.0.1:0",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  10 * time.Second,
	}
	return NewServer(cfg, handler).(*server)
}

func startServer(t *testing.T, s *server) {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	require.Eventually(t, func() bool {
		return s.Addr() != "127.0.0.1:0"
	}, 2*time.Second, 5*time.Millisecond, "server did not start")

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
		assert.NoError(t, <-errCh)
	})
}

func TestServer_ServesAndShutsDown(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "pong")
	}))
	startServer(t, s)

	resp, err := http.Get("http://" + s.Addr() + "/")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "pong", string(body))
}

func TestServer_RefusesConnectionsAfterShutdown(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, http.NotFoundHandler())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()
	require.Eventually(t, func() bool { return s.Addr() != "127.0.0.1:0" }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Shutdown(context.Background()))
	require.NoError(t, <-errCh)

	conn, err := net.DialTimeout("tcp", s.Addr(), 100*time.Millisecond)
	if err == nil {
		_ = conn.Close()
		t.Fatal("server still accepting connections after shutdown")
	}
}

func TestServer_StartFailsOnBadAddress(t *testing.T) {
	t.Parallel()

	s := NewServer(&config.Config{Addr: "256.0.0.1:http-bad"}, http.NotFoundHandler())
	assert.Error(t, s.Start())
}

func TestNewServer_Panics(t *testing.T) {
	t.Parallel()

	assert.PanicsWithValue(t, "config cannot be nil", func() { NewServer(nil, http.NotFoundHandler()) })
	assert.PanicsWithValue(t, "handler cannot be nil", func() { NewServer(&config.Config{}, nil) })
}

func TestNewServer_DefaultShutdownTimeout(t *testing.T) {
	t.Parallel()

	s := NewServer(&config.Config{Addr: ":0"}, http.NotFoundHandler()).(*server)
	assert.Equal(t, 30*time.Second, s.shutdownTimeout)
}
