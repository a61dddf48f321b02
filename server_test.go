package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServer(t *testing.T) {
	srv := NewServer(config{addr: "127.0.0.1:0", interval: 15 * time.Minute, rateLimit: 5})
	require.NotNil(t, srv)
	assert.NotNil(t, srv.tr)
	assert.NotNil(t, srv.batcher)
	assert.Nil(t, srv.whitelist, "public mode without a whitelist path")
	assert.Equal(t, "127.0.0.1:0", srv.http.Addr)
	assert.NotNil(t, srv.http.ConnState)
}

func TestNewServer_Whitelist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "whitelist")
	require.NoError(t, os.WriteFile(path, []byte("# empty\n"), 0o600))

	srv := NewServer(config{addr: "127.0.0.1:0", whitelistPath: path})
	require.NotNil(t, srv.whitelist)
	assert.Equal(t, 0, srv.whitelist.Len())
}

func TestServer_Routes(t *testing.T) {
	srv := NewServer(config{addr: "127.0.0.1:0"})

	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tracker_requests_total")

	rec = httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	setupLogging(false)
	srv := NewServer(config{addr: "127.0.0.1:0"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestServer_RunFailsOnBadAddr(t *testing.T) {
	srv := NewServer(config{addr: "256.0.0.1:1"})
	err := srv.Run(context.Background())
	assert.Error(t, err)
}
