package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"fswalk/internal/api"
	"fswalk/internal/config"
	"fswalk/internal/event"
	"fswalk/internal/logging"
	"fswalk/internal/metrics"
	"fswalk/internal/version"
	"fswalk/internal/walk"
)

const eventHistorySize = 256
const shutdownTimeout = 5 * time.Second

func main() {
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	r := runner{out: os.Stdout, errOut: os.Stderr, signals: signals}
	os.Exit(r.run(context.Background(), os.Args[1:]))
}

type runner struct {
	out    io.Writer
	errOut io.Writer
	// signals cancels a watching run; nil in tests.
	signals <-chan os.Signal
	// onListen receives the bound address of the event server.
	onListen func(addr string)
}

func (r runner) run(ctx context.Context, args []string) int {
	flags, err := parseArgs(args, r.errOut)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitCodeSuccess
		}
		fmt.Fprintln(r.errOut, err)
		return exitCodeUsage
	}
	if flags.ShowVersion {
		fmt.Fprintln(r.out, version.GetVersionInfo().String())
		return exitCodeSuccess
	}

	cfg, err := config.Load(flags.ConfigFile)
	if err != nil {
		fmt.Fprintln(r.errOut, err)
		return exitCodeConfig
	}
	cfg.ApplyEnv()
	flags.apply(&cfg)
	level, err := cfg.Level()
	if err != nil {
		fmt.Fprintln(r.errOut, err)
		return exitCodeConfig
	}
	logger := logging.NewLoggerWithOutput(logging.NewLogBuffer(logging.DefaultBufferSize), level, r.errOut)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.cancelOnSignal(ctx, logger, cancel)

	var bus *event.Bus[event.PathEvent]
	if flags.Listen != "" {
		bus = event.NewBus[event.PathEvent](ctx, event.BusOptions{
			Name:        "paths",
			HistorySize: eventHistorySize,
			Logger:      logger,
		})
		defer bus.Close()
	}

	registry := &metrics.Registry{}
	printer := &linePrinter{out: r.out}
	options, err := cfg.Options(func(rule config.Rule) walk.Handler {
		name := rule.Name
		return walk.Handlers(func(_ context.Context, entry walk.Entry) error {
			printer.printf("%s\t%s\n", name, entry.Path)
			bus.Publish(event.NewMatchedEvent(name, entry.Path))
			return nil
		}, func(path string) {
			printer.printf("changed\t%s\n", path)
			bus.Publish(event.NewChangedEvent(name, path))
		})
	})
	if err != nil {
		fmt.Fprintln(r.errOut, err)
		return exitCodeConfig
	}
	options.Logger = logger
	options.Metrics = registry
	walker, err := walk.New(options)
	if err != nil {
		fmt.Fprintln(r.errOut, err)
		return exitCodeConfig
	}
	defer walker.StopWatching()

	var server *http.Server
	if flags.Listen != "" {
		listener, err := net.Listen("tcp", flags.Listen)
		if err != nil {
			fmt.Fprintln(r.errOut, fmt.Errorf("listen %s: %w", flags.Listen, err))
			return exitCodeConfig
		}
		server = &http.Server{
			Handler: api.NewHandler(api.Options{
				Bus:       bus,
				Walker:    walker,
				Metrics:   registry,
				AuthToken: flags.Token,
				Logger:    logger,
			}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go serve(server, listener, logger)
		logger.Info("event stream listening", map[string]string{
			"addr": listener.Addr().String(),
		})
		if r.onListen != nil {
			r.onListen(listener.Addr().String())
		}
	}

	if err := walker.Ready(ctx); err != nil {
		fmt.Fprintln(r.errOut, fmt.Errorf("walk failed: %w", err))
		shutdownServer(server, logger)
		return exitCodeWalk
	}

	if cfg.Watch || server != nil {
		logger.Info("waiting for changes", map[string]string{
			"watchers": strconv.Itoa(walker.ActiveWatchers()),
		})
		<-ctx.Done()
	}
	walker.StopWatching()
	shutdownServer(server, logger)
	return exitCodeSuccess
}

func serve(server *http.Server, listener net.Listener, logger *logging.Logger) {
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("event server stopped", map[string]string{
			"error": err.Error(),
		})
	}
}

func shutdownServer(server *http.Server, logger *logging.Logger) {
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("event server shutdown failed", map[string]string{
			"error": err.Error(),
		})
		_ = server.Close()
	}
}

// linePrinter serializes output lines; change callbacks of different rules
// run on different goroutines.
type linePrinter struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *linePrinter) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}
