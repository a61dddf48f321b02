package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var version = "dev"

//nolint:govet // Field alignment is acceptable
type config struct {
	addr          string
	whitelistPath string
	realIPHeader  string
	inspectPath   string
	interval      time.Duration
	rateLimit     rate.Limit
	debug         bool
	showVersion   bool
}

// parseFlags parses command-line flags and returns configuration.
// Default values are read from environment variables:
//   - PICO_TRACKER__ADDR: listen address
//   - PICO_TRACKER__WHITELIST: whitelist file, enables private mode
//   - PICO_TRACKER__INTERVAL: announce interval (Go duration)
//   - PICO_TRACKER__RATE_LIMIT: requests per second per client IP, 0 disables
//   - PICO_TRACKER__REAL_IP_HEADER: header carrying the client IP behind a proxy
//   - DEBUG: enables debug mode if set
func parseFlags(args []string) config {
	defaultAddr := os.Getenv("PICO_TRACKER__ADDR")
	if defaultAddr == "" {
		defaultAddr = ":1337"
	}

	defaultInterval := 10 * time.Minute
	if d, err := time.ParseDuration(os.Getenv("PICO_TRACKER__INTERVAL")); err == nil && d > 0 {
		defaultInterval = d
	}

	defaultRateLimit := 10.0
	if r, err := strconv.ParseFloat(os.Getenv("PICO_TRACKER__RATE_LIMIT"), 64); err == nil && r >= 0 {
		defaultRateLimit = r
	}

	defaultWhitelist := os.Getenv("PICO_TRACKER__WHITELIST")
	defaultRealIP := os.Getenv("PICO_TRACKER__REAL_IP_HEADER")
	debugDefault := os.Getenv("DEBUG") != ""

	fs := flag.NewFlagSet("pico-httptracker", flag.ExitOnError)
	addr := fs.String("addr", defaultAddr, "address to listen on [env PICO_TRACKER__ADDR]")
	fs.StringVar(addr, "a", defaultAddr, "alias to -addr")

	whitelist := fs.String("whitelist", defaultWhitelist,
		"path to whitelist file for private tracker mode [env PICO_TRACKER__WHITELIST]")
	fs.StringVar(whitelist, "w", defaultWhitelist, "alias to -whitelist")

	interval := fs.Duration("interval", defaultInterval, "announce interval sent to clients [env PICO_TRACKER__INTERVAL]")
	fs.DurationVar(interval, "i", defaultInterval, "alias to -interval")

	rateLimit := fs.Float64("rate-limit", defaultRateLimit,
		"requests per second per client IP, 0 disables [env PICO_TRACKER__RATE_LIMIT]")
	fs.Float64Var(rateLimit, "r", defaultRateLimit, "alias to -rate-limit")

	realIP := fs.String("real-ip-header", defaultRealIP,
		"trust this header for the client IP, e.g. X-Real-IP [env PICO_TRACKER__REAL_IP_HEADER]")

	inspect := fs.String("inspect", "", "print the info-hash and layout of a .torrent file and exit")

	debug := fs.Bool("debug", debugDefault, "enable debug logs [env DEBUG]")
	fs.BoolVar(debug, "d", debugDefault, "alias to -debug")

	showVersion := fs.Bool("version", false, "print version")
	fs.BoolVar(showVersion, "v", false, "alias to -version")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "\nPico HTTP Tracker: %s\nPortable BitTorrent Tracker (HTTP)\n\n", version)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\n")
	}

	// With ExitOnError, flag package exits on error
	//nolint:errcheck // Test flags are valid, parsing error will exit
	_ = fs.Parse(args)

	return config{
		addr:          *addr,
		whitelistPath: *whitelist,
		realIPHeader:  *realIP,
		inspectPath:   *inspect,
		interval:      *interval,
		rateLimit:     rate.Limit(*rateLimit),
		debug:         *debug,
		showVersion:   *showVersion,
	}
}

// setupLogging installs the console logger on the global zerolog logger.
func setupLogging(debug bool) {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
}

func main() {
	cfg := parseFlags(os.Args[1:])

	if cfg.showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	setupLogging(cfg.debug)

	if cfg.inspectPath != "" {
		if err := inspect(os.Stdout, cfg.inspectPath); err != nil {
			log.Fatal().Err(err).Msg("inspect failed")
		}
		return
	}

	srv := NewServer(cfg)

	ctx, stop := setupSignalHandling()
	defer stop()

	if err := srv.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}
