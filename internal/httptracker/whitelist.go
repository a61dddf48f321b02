package httptracker

import (
	"bufio"
	"context"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fabricionaweb/pico-httptracker/internal/bittorrent"
)

const whitelistRefreshInterval = 5 * time.Minute

// Whitelist is a file-backed Authorizer. The file holds one hex info_hash per
// line; empty lines and lines starting with # are ignored.
type Whitelist struct {
	hashes atomic.Pointer[map[bittorrent.InfoHash]struct{}]
	path   string
}

// NewWhitelist loads path immediately. A missing or unreadable file yields
// an empty whitelist that blocks every torrent.
func NewWhitelist(path string) *Whitelist {
	wl := &Whitelist{path: path}
	data := loadWhitelistFile(path)
	wl.hashes.Store(&data)
	log.Info().Int("hashes", len(data)).Str("path", path).Msg("loaded whitelist")
	return wl
}

// Allowed reports whether ih is listed.
func (wl *Whitelist) Allowed(ih bittorrent.InfoHash) bool {
	m := wl.hashes.Load()
	if m == nil {
		return false
	}
	_, ok := (*m)[ih]
	return ok
}

// Len returns the number of listed hashes.
func (wl *Whitelist) Len() int {
	if m := wl.hashes.Load(); m != nil {
		return len(*m)
	}
	return 0
}

// Run reloads the file whenever its modification time changes, until ctx is
// canceled.
func (wl *Whitelist) Run(ctx context.Context) error {
	var lastMod time.Time
	if fi, err := os.Stat(wl.path); err == nil {
		lastMod = fi.ModTime()
	}

	ticker := time.NewTicker(whitelistRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			lastMod = wl.reloadIfChanged(lastMod)
		}
	}
}

func (wl *Whitelist) reloadIfChanged(lastMod time.Time) time.Time {
	fi, err := os.Stat(wl.path)
	if err != nil {
		log.Warn().Err(err).Msg("failed to stat whitelist file")
		return lastMod
	}
	if fi.ModTime().Equal(lastMod) {
		return lastMod
	}
	data := loadWhitelistFile(wl.path)
	wl.hashes.Store(&data)
	log.Info().Int("hashes", len(data)).Msg("reloaded whitelist")
	return fi.ModTime()
}

func loadWhitelistFile(path string) map[bittorrent.InfoHash]struct{} {
	//nolint:gosec // Path is controlled by admin
	file, err := os.Open(path)
	if err != nil {
		log.Warn().Err(err).Msg("failed to open whitelist file")
		return make(map[bittorrent.InfoHash]struct{}) // fail closed
	}
	//nolint:errcheck // File close errors ignored during read
	defer file.Close()

	hashes := make(map[bittorrent.InfoHash]struct{})
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		ih, err := bittorrent.InfoHashFromHex(line)
		if err != nil {
			log.Warn().Int("line", lineNum).Err(err).Msg("skipping whitelist entry")
			continue
		}
		hashes[ih] = struct{}{}
	}

	if err := scanner.Err(); err != nil {
		log.Warn().Err(err).Msg("error reading whitelist file")
	}
	return hashes
}
