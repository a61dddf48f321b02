package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestParseFlags(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := parseFlags([]string{})
		assert.Equal(t, ":1337", cfg.addr)
		assert.Equal(t, 10*time.Minute, cfg.interval)
		assert.Equal(t, rate.Limit(10), cfg.rateLimit)
		assert.Empty(t, cfg.whitelistPath)
		assert.False(t, cfg.debug)
	})

	t.Run("addr from env var", func(t *testing.T) {
		t.Setenv("PICO_TRACKER__ADDR", "127.0.0.1:8080")
		assert.Equal(t, "127.0.0.1:8080", parseFlags([]string{}).addr)
	})

	t.Run("addr from flag overrides env var", func(t *testing.T) {
		t.Setenv("PICO_TRACKER__ADDR", "127.0.0.1:8080")
		assert.Equal(t, ":9000", parseFlags([]string{"-a", ":9000"}).addr)
	})

	t.Run("interval from env var is ignored if invalid", func(t *testing.T) {
		t.Setenv("PICO_TRACKER__INTERVAL", "soon")
		assert.Equal(t, 10*time.Minute, parseFlags([]string{}).interval)
	})

	t.Run("interval from flag", func(t *testing.T) {
		assert.Equal(t, 30*time.Minute, parseFlags([]string{"-interval", "30m"}).interval)
	})

	t.Run("rate limit from env var", func(t *testing.T) {
		t.Setenv("PICO_TRACKER__RATE_LIMIT", "0")
		assert.Equal(t, rate.Limit(0), parseFlags([]string{}).rateLimit)
	})

	t.Run("whitelist and real ip header", func(t *testing.T) {
		t.Setenv("PICO_TRACKER__WHITELIST", "/etc/tracker/whitelist")
		cfg := parseFlags([]string{"-real-ip-header", "X-Real-IP"})
		assert.Equal(t, "/etc/tracker/whitelist", cfg.whitelistPath)
		assert.Equal(t, "X-Real-IP", cfg.realIPHeader)
	})

	t.Run("debug mode from env", func(t *testing.T) {
		t.Setenv("DEBUG", "1")
		assert.True(t, parseFlags([]string{}).debug)
	})

	t.Run("debug mode from flag", func(t *testing.T) {
		assert.True(t, parseFlags([]string{"-d"}).debug)
	})

	t.Run("inspect", func(t *testing.T) {
		assert.Equal(t, "a.torrent", parseFlags([]string{"-inspect", "a.torrent"}).inspectPath)
	})
}

func TestInspect(t *testing.T) {
	pieces := strings.Repeat("x", 20)
	info := "d6:lengthi1024e4:name8:file.bin12:piece lengthi16384e6:pieces20:" + pieces + "e"
	data := "d8:announce28:http://tracker.test/announce4:info" + info + "e"

	path := filepath.Join(t.TempDir(), "file.torrent")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	var out bytes.Buffer
	require.NoError(t, inspect(&out, path))

	text := out.String()
	assert.Contains(t, text, "http://tracker.test/announce")
	assert.Contains(t, text, "file.bin")
	assert.Contains(t, text, datasize.ByteSize(1024).HumanReadable())
	assert.Regexp(t, `valid:\s+ok`, text)
	assert.Regexp(t, `info_hash:\s+[0-9a-f]{40}`, text)
}

func TestInspect_MissingFile(t *testing.T) {
	err := inspect(&bytes.Buffer{}, filepath.Join(t.TempDir(), "missing.torrent"))
	assert.Error(t, err)
}

func TestInspect_InvalidTorrentHidesSizes(t *testing.T) {
	pieces := strings.Repeat("x", 20)
	info := "d6:lengthi-5e4:name8:file.bin12:piece lengthi16384e6:pieces20:" + pieces + "e"
	data := "d4:info" + info + "e"

	path := filepath.Join(t.TempDir(), "bad.torrent")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	var out bytes.Buffer
	require.NoError(t, inspect(&out, path))

	text := out.String()
	assert.Regexp(t, `info_hash:\s+[0-9a-f]{40}`, text)
	assert.Regexp(t, `valid:\s+\S`, text)
	assert.NotRegexp(t, `valid:\s+ok`, text)
	assert.NotContains(t, text, "size:")
	assert.NotContains(t, text, "files:")
	assert.NotContains(t, text, "EB", "no wrapped unsigned size")
}
