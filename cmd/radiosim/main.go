// Command radiosim runs the simulated daughterboard control service: the
// JSON-RPC listener radioctl talks to, an optional mDNS announcement, and
// an optional Prometheus metrics endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sdrgrid/radioctl/internal/discovery"
	"github.com/sdrgrid/radioctl/internal/hwsim"
	"github.com/sdrgrid/radioctl/internal/logging"
)

func main() {
	log.SetPrefix("radiosim: ")
	log.SetFlags(0)

	opts, err := parseArgs(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	cfg, err := hwsim.Load(opts.configPath)
	if err != nil {
		log.Fatalf("%+v", err)
	}
	applyOverrides(&cfg, opts)

	logger, err := buildLogger(cfg)
	if err != nil {
		log.Fatalf("%+v", err)
	}
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, opts.announce); err != nil {
		log.Fatalf("%+v", err)
	}
}

type options struct {
	configPath string
	listen     string
	metrics    string
	announce   string
	logLevel   string
}

func parseArgs(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("radiosim", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "path to the YAML config file")
	fs.StringVar(&opts.listen, "listen", "", "override the RPC listen address")
	fs.StringVar(&opts.metrics, "metrics", "", "override the metrics listen address")
	fs.StringVar(&opts.announce, "announce", "", "announce this instance name over mDNS")
	fs.StringVar(&opts.logLevel, "log-level", "", "override the configured log level")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	return opts, nil
}

func applyOverrides(cfg *hwsim.Config, opts options) {
	if opts.listen != "" {
		cfg.Listen = opts.listen
	}
	if opts.metrics != "" {
		cfg.MetricsListen = opts.metrics
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
}

func buildLogger(cfg hwsim.Config) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	var out io.Writer = os.Stderr
	if cfg.LogFile != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
		}
	}
	return logging.New(level, format, out), nil
}

func run(ctx context.Context, cfg hwsim.Config, logger logging.Logger, announce string) error {
	srv, err := hwsim.NewServer(cfg, logger)
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}

	var stopAnnounce func()
	if announce != "" {
		port := srv.Addr().(*net.TCPAddr).Port
		stopAnnounce, err = discovery.Register(announce, port, []string{"version=" + cfg.Version})
		if err != nil {
			srv.Close()
			return fmt.Errorf("announce %q: %w", announce, err)
		}
		logger.Info("announced over mDNS",
			logging.Field{Key: "instance", Value: announce},
			logging.Field{Key: "port", Value: port})
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		if stopAnnounce != nil {
			stopAnnounce()
		}
		return srv.Close()
	})

	if cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprintln(w, "ok")
		})
		msrv := &http.Server{Addr: cfg.MetricsListen, Handler: mux}
		g.Go(func() error {
			logger.Info("metrics listening", logging.Field{Key: "addr", Value: cfg.MetricsListen})
			if err := msrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := msrv.Shutdown(sctx); err != nil {
				logger.Warn("metrics shutdown", logging.Err(err))
			}
			return nil
		})
	}

	return g.Wait()
}
