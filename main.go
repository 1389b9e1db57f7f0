package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mazrean/blobdir/directory"
	"github.com/mazrean/blobdir/internal/closer"
	"github.com/mazrean/blobdir/internal/config"
	"github.com/mazrean/blobdir/internal/metrics"
	mylog "github.com/mazrean/blobdir/internal/pkg/log"
	"github.com/mazrean/blobdir/log"
)

var (
	version  = "dev"
	revision = "none"
)

// CLI represents command line options and configuration file values
var CLI struct {
	Config config.Config `kong:"embed"`
	Dev    DevFlag       `kong:"group='dev',embed,prefix='dev.'"`

	Ls         LsCmd         `kong:"cmd,help='List files in the catalog.'"`
	Stat       StatCmd       `kong:"cmd,help='Show the remote state of a file.'"`
	Cat        CatCmd        `kong:"cmd,help='Write the content of a file to stdout.'"`
	Put        PutCmd        `kong:"cmd,help='Upload a file from a local path or stdin.'"`
	Rm         RmCmd         `kong:"cmd,help='Delete files.'"`
	Lock       LockCmd       `kong:"cmd,help='Hold a lock until interrupted.'"`
	Unlock     UnlockCmd     `kong:"cmd,help='Break a lock regardless of its holder.'"`
	Locked     LockedCmd     `kong:"cmd,help='Report whether a lock is held.'"`
	ClearCache ClearCacheCmd `kong:"cmd,help='Remove every local cache entry of the catalog.'"`
}

// runContext is passed to the Run method of the selected command.
type runContext struct {
	ctx    context.Context
	logger log.Logger
	dir    *directory.Directory
	out    io.Writer
}

func main() {
	// Initialize default logger with info level
	logger := log.DefaultLogger

	// Load configuration
	kctx, err := config.Parse(&CLI, config.Version{Version: version, Revision: revision}, os.Args[1:], config.Paths()...)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	// Set log level
	level, err := mylog.ParseLevel(CLI.Config.LogLevel)
	if err != nil {
		logger.Warnf("%v. ignore and use default info level instead", err)
	}
	logger = mylog.NewLogger(level)

	logger.Debugf("configuration: catalog=%s remote=%s dir=%s", CLI.Config.Catalog, CLI.Config.Remote, CLI.Config.Dir)

	if CLI.Config.Metrics != "" {
		metrics.Enable()
	}

	if err := CLI.Dev.StartProfiling(); err != nil {
		logger.Warnf("failed to start profiling: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	code := 0
	if err := run(ctx, logger, kctx.Run); err != nil {
		logger.Errorf("%v", err)
		code = 1
	}

	if err := closer.Close(context.Background()); err != nil {
		logger.Errorf("failed to close: %v", err)
	}
	CLI.Dev.StopProfiling()
	stop()

	os.Exit(code)
}

func run(ctx context.Context, logger log.Logger, runCmd func(binds ...any) error) error {
	if CLI.Config.Metrics != "" {
		closer.Add(func(context.Context) error {
			f, err := os.Create(CLI.Config.Metrics)
			if err != nil {
				return fmt.Errorf("create metrics file: %w", err)
			}
			defer f.Close()

			return metrics.WriteMetrics(f)
		})
	}

	opts, err := CLI.Config.DirectoryOptions()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	dir, err := directory.New(ctx, logger, CLI.Config.Credentials(), CLI.Config.Catalog, opts...)
	if err != nil {
		return fmt.Errorf("open directory: %w", err)
	}
	closer.Add(func(context.Context) error {
		return dir.Dispose()
	})

	return runCmd(&runContext{
		ctx:    ctx,
		logger: logger,
		dir:    dir,
		out:    os.Stdout,
	})
}
