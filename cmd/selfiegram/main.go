// Package main is the entry point for selfiegram.
//
// selfiegram keeps photo records and their images in a local data directory
// and mirrors a remote catalogue of overlay images. Configuration is read
// from <data-dir>/config.yaml, SELFIEGRAM_* environment variables and CLI
// flags, in increasing order of precedence.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/maruel/selfiegram/internal/config"
	"github.com/maruel/selfiegram/internal/ipgeo"
	"github.com/maruel/selfiegram/internal/overlay"
	"github.com/maruel/selfiegram/internal/storage"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "selfiegram: %v\n", err)
		os.Exit(1)
	}
}

// app holds everything a command needs.
type app struct {
	cfg     *config.Config
	dataDir string
	records *storage.RecordStore
	client  *overlay.ManifestClient
	fetcher *overlay.HTTPFetcher
	syncer  *overlay.Synchronizer
	syncLog *storage.JSONLTable[overlay.Stats]
	locator *ipgeo.Locator
	stdout  io.Writer
}

func (a *app) close() {
	if a.locator != nil {
		_ = a.locator.Close()
	}
}

type command struct {
	usage string
	run   func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"add":      {"add [-title T] [-image file] [-ip addr | -lat X -lon Y]", cmdAdd},
	"list":     {"list", cmdList},
	"show":     {"show <id>", cmdShow},
	"rm":       {"rm <id>...", cmdRemove},
	"image":    {"image [-set file | -clear | -o file] <id>", cmdImage},
	"sync":     {"sync [-refresh=false] [-log]", cmdSync},
	"overlays": {"overlays [-all]", cmdOverlays},
	"serve":    {"serve", cmdServe},
	"watch":    {"watch", cmdWatch},
	"schema":   {"schema record|manifest", cmdSchema},
	"history":  {"history [-n N] [id]", cmdHistory},
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "usage: selfiegram [flags] <command> [args]\n\ncommands:\n")
	for _, name := range []string{"add", "list", "show", "rm", "image", "sync", "overlays", "serve", "watch", "schema", "history"} {
		fmt.Fprintf(flag.CommandLine.Output(), "  %s\n", commands[name].usage)
	}
	fmt.Fprintf(flag.CommandLine.Output(), "\nflags:\n")
	flag.PrintDefaults()
}

// globalFlags are the flags shared by every command. Those explicitly set
// override config.yaml and the environment.
type globalFlags struct {
	version    *bool
	dataDir    *string
	logLevel   *string
	baseURL    *string
	workers    *int
	rateLimit  *float64
	httpAddr   *string
	geoDB      *string
	history    *bool
	trustProxy *bool
}

func registerFlags(fs *flag.FlagSet) *globalFlags {
	return &globalFlags{
		version:    fs.Bool("version", false, "Print version and exit"),
		dataDir:    fs.String("data-dir", "./data", "Data directory"),
		logLevel:   fs.String("log-level", "info", "Log level (debug, info, warn, error)"),
		baseURL:    fs.String("base-url", config.DefaultBaseURL, "Remote location of overlays.json and overlay assets"),
		workers:    fs.Int("workers", 8, "Concurrent overlay downloads"),
		rateLimit:  fs.Float64("rate", 0, "Maximum outgoing requests per second (0 = unlimited)"),
		httpAddr:   fs.String("http", "127.0.0.1:8080", "Address the serve command listens on"),
		geoDB:      fs.String("geo-db", "", "Path to MaxMind City MMDB file for IP geolocation (optional)"),
		history:    fs.Bool("history", false, "Record every change in a git history of the records directory"),
		trustProxy: fs.Bool("trust-proxy", false, "Honour X-Forwarded-For and X-Real-IP (only behind a reverse proxy)"),
	}
}

// loadConfig merges config.yaml, the environment and the flags explicitly set
// in fs, in increasing precedence, and validates the result.
func loadConfig(fs *flag.FlagSet, g *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(*g.dataDir)
	if err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "log-level":
			cfg.LogLevel = *g.logLevel
		case "base-url":
			cfg.BaseURL = *g.baseURL
		case "workers":
			cfg.Workers = *g.workers
		case "rate":
			cfg.RateLimit = *g.rateLimit
		case "http":
			cfg.HTTP = *g.httpAddr
		case "geo-db":
			cfg.GeoDB = *g.geoDB
		case "history":
			cfg.History = *g.history
		case "trust-proxy":
			cfg.TrustProxy = *g.trustProxy
		}
	})
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func mainImpl() error {
	g := registerFlags(flag.CommandLine)
	flag.Usage = usage
	flag.Parse()

	if *g.version {
		printVersion()
		return nil
	}
	if flag.NArg() == 0 {
		usage()
		return errors.New("missing command")
	}
	cmd, ok := commands[flag.Arg(0)]
	if !ok {
		return fmt.Errorf("unknown command %q", flag.Arg(0))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	ll := &slog.LevelVar{}
	ll.Set(slog.LevelInfo)
	slog.SetDefault(newLogger(ll))

	cfg, err := loadConfig(flag.CommandLine, g)
	if err != nil {
		return err
	}

	switch cfg.LogLevel {
	case "debug":
		ll.Set(slog.LevelDebug)
	case "info":
	case "warn":
		ll.Set(slog.LevelWarn)
	case "error":
		ll.Set(slog.LevelError)
	}

	a, err := newApp(cfg, *g.dataDir)
	if err != nil {
		return err
	}
	defer a.close()
	return cmd.run(ctx, a, flag.Args()[1:])
}

// newLogger returns a tint handler over stderr that drops zero values.
func newLogger(ll *slog.LevelVar) *slog.Logger {
	return slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000", // Like time.TimeOnly plus milliseconds.
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Drop localhost IPs (not useful in logs).
			if a.Key == "ip" {
				if v := a.Value.String(); v == "127.0.0.1" || v == "::1" {
					return slog.Attr{}
				}
			}
			val := a.Value.Any()
			skip := false
			switch t := val.(type) {
			case string:
				skip = t == ""
			case bool:
				skip = !t
			case uint64:
				skip = t == 0
			case int64:
				skip = t == 0
			case float64:
				skip = t == 0
			case time.Time:
				skip = t.IsZero()
			case time.Duration:
				skip = t == 0
			case nil:
				skip = true
			}
			if skip {
				return slog.Attr{}
			}
			return a
		},
	}))
}

func newApp(cfg *config.Config, dataDir string) (*app, error) {
	recordsDir := filepath.Join(dataDir, "records")
	blobs, err := storage.NewBlobStoreSize(recordsDir, nil, cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	var h *storage.History
	if cfg.History {
		if h, err = storage.OpenHistory(recordsDir); err != nil {
			return nil, fmt.Errorf("failed to open history: %w", err)
		}
	}
	records, err := storage.NewRecordStore(recordsDir, blobs, h)
	if err != nil {
		return nil, err
	}
	fetcher := overlay.NewHTTPFetcher(cfg.RateLimit)
	cacheDir := filepath.Join(dataDir, "cache")
	client, err := overlay.NewManifestClient(cacheDir, cfg.BaseURL, fetcher)
	if err != nil {
		return nil, err
	}
	syncLog, err := overlay.OpenLog(cacheDir)
	if err != nil {
		return nil, err
	}
	slog.Debug("Loaded overlay manifest", "source", client.Source().String(), "entries", len(client.Current()))
	a := &app{
		cfg:     cfg,
		dataDir: dataDir,
		records: records,
		client:  client,
		fetcher: fetcher,
		syncer:  overlay.NewSynchronizer(client, fetcher, overlay.Options{Workers: cfg.Workers, Log: syncLog}),
		syncLog: syncLog,
		stdout:  os.Stdout,
	}
	if cfg.GeoDB != "" {
		if a.locator, err = ipgeo.Open(cfg.GeoDB); err != nil {
			slog.Warn("Failed to open geo database, geolocation disabled", "path", cfg.GeoDB, "err", err)
		}
	}
	return a, nil
}

func printVersion() {
	version, goVersion, revision, dirty := getBuildInfo()
	fmt.Printf("selfiegram %s\n", version)
	fmt.Printf("  Go version: %s\n", goVersion)
	fmt.Printf("  Revision:   %s\n", revision)
	if dirty {
		fmt.Printf("  Modified:   true\n")
	}
}

func getBuildInfo() (version, goVersion, revision string, dirty bool) {
	version = "unknown"
	goVersion = "unknown"
	revision = "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	version = info.Main.Version
	if version == "" || version == "(devel)" {
		version = "dev"
	}
	goVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return
}
