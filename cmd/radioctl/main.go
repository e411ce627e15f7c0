// Command radioctl is the operator console for the daughterboard control
// plane: service discovery, one-shot tuning, EEPROM access, the parameter
// tree, an interactive shell, and a live telemetry web view.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sdrgrid/radioctl/internal/logging"
)

func main() {
	log.SetPrefix("radioctl: ")
	log.SetFlags(0)

	prefsPath, err := defaultConfigPath()
	if err != nil {
		log.Fatalf("locate config: %v", err)
	}
	persistent, err := loadOrCreateConfig(prefsPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	cfg, args, err := parseConfig(os.Args[1:], os.LookupEnv, persistent)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatalf("parse config: %v", err)
	}
	if err := saveConfig(prefsPath, persistentFromCLI(cfg)); err != nil {
		log.Fatalf("save config: %v", err)
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		log.Fatalf("configure logging: %v", err)
	}
	logging.SetDefault(logger)

	if len(args) == 0 {
		printCommands(os.Stderr)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runCommand(ctx, cfg, args[0], args[1:]); err != nil {
		log.Fatalf("%s: %v", args[0], err)
	}
}

func runCommand(ctx context.Context, cfg cliConfig, cmd string, args []string) error {
	switch cmd {
	case "discover":
		return cmdDiscover(ctx, cfg)
	case "info":
		return cmdInfo(ctx, cfg)
	case "get":
		return cmdGet(ctx, cfg, args)
	case "set":
		return cmdSet(ctx, cfg, args)
	case "antenna":
		return cmdAntenna(ctx, cfg, args)
	case "bandwidth":
		return cmdBandwidth(ctx, cfg, args)
	case "rate":
		return cmdRate(ctx, cfg, args)
	case "init":
		return cmdInit(ctx, cfg, args)
	case "eeprom":
		return cmdEEPROM(ctx, cfg, args)
	case "tree":
		return cmdTree(ctx, cfg)
	case "shell":
		return cmdShell(ctx, cfg)
	case "web":
		return cmdWeb(ctx, cfg)
	case "help":
		printCommands(os.Stdout)
		return nil
	default:
		return fmt.Errorf("unknown command %q (try \"radioctl help\")", cmd)
	}
}

func printCommands(w io.Writer) {
	fmt.Fprint(w, `Usage: radioctl [flags] <command> [args]

Commands:
  discover                              browse for control services over mDNS
  info                                  print service version and slot identity
  get freq|gain rx|tx <chan>            read one parameter
  set freq|gain rx|tx <chan> <value>    write one parameter, print the realized value
  antenna rx|tx <chan> [name]           read or select an antenna port
  bandwidth <chan> [hz]                 read or set the RX analog bandwidth
  rate [hz]                             read or set the tick rate
  init [rx-ports tx-ports]              apply the power-on defaults
  eeprom get|set [key=value ...]        read or update the slot EEPROM
  tree                                  register the parameter tree and dump it
  shell                                 interactive shell (use -web-addr for a live web view)
  web                                   headless telemetry web view
  help                                  print this text

Run "radioctl -h" for the flags.
`)
}

type cliConfig struct {
	addr         string
	slot         string
	bus          int
	owner        string
	callTimeout  time.Duration
	webAddr      string
	historyLimit int
	logLevel     string
	logFile      string
}

type persistentConfig struct {
	Addr         string `json:"addr"`
	Slot         string `json:"slot"`
	Bus          int    `json:"bus"`
	Owner        string `json:"owner"`
	CallTimeout  string `json:"call_timeout"`
	WebAddr      string `json:"web_addr"`
	HistoryLimit int    `json:"history_limit"`
	LogLevel     string `json:"log_level"`
	LogFile      string `json:"log_file"`
}

func parseConfig(args []string, lookup func(string) (string, bool), defaults persistentConfig) (cliConfig, []string, error) {
	cfg := cliConfig{}
	var timeout string
	fs := flag.NewFlagSet("radioctl", flag.ContinueOnError)
	fs.StringVar(&cfg.addr, "addr", envString(lookup, "RADIOCTL_ADDR", defaults.Addr), "control service address (host:port)")
	fs.StringVar(&cfg.slot, "slot", envString(lookup, "RADIOCTL_SLOT", defaults.Slot), "daughterboard slot letter (A-D)")
	fs.IntVar(&cfg.bus, "bus", envInt(lookup, "RADIOCTL_BUS", defaults.Bus), "control bus index (0 or 1)")
	fs.StringVar(&cfg.owner, "owner", envString(lookup, "RADIOCTL_OWNER", defaults.Owner), "owner name passed to claim")
	fs.StringVar(&timeout, "timeout", envString(lookup, "RADIOCTL_CALL_TIMEOUT", defaults.CallTimeout), "per-call timeout (e.g. 5s)")
	fs.StringVar(&cfg.webAddr, "web-addr", envString(lookup, "RADIOCTL_WEB_ADDR", defaults.WebAddr), "telemetry web listen address")
	fs.IntVar(&cfg.historyLimit, "history-limit", envInt(lookup, "RADIOCTL_HISTORY_LIMIT", defaults.HistoryLimit), "tune events kept in telemetry history")
	fs.StringVar(&cfg.logLevel, "log-level", envString(lookup, "RADIOCTL_LOG_LEVEL", defaults.LogLevel), "log level (debug|info|warn|error)")
	fs.StringVar(&cfg.logFile, "log-file", envString(lookup, "RADIOCTL_LOG_FILE", defaults.LogFile), "log to this rotating file instead of stderr")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: radioctl [flags] <command> [args]\n\nFlags:\n")
		fs.PrintDefaults()
		fmt.Fprintln(fs.Output())
		printCommands(fs.Output())
	}

	if err := fs.Parse(args); err != nil {
		return cliConfig{}, nil, err
	}
	d, err := time.ParseDuration(timeout)
	if err != nil {
		return cliConfig{}, nil, fmt.Errorf("bad -timeout %q: %w", timeout, err)
	}
	cfg.callTimeout = d
	return cfg, fs.Args(), nil
}

func persistentFromCLI(cfg cliConfig) persistentConfig {
	return persistentConfig{
		Addr:         cfg.addr,
		Slot:         cfg.slot,
		Bus:          cfg.bus,
		Owner:        cfg.owner,
		CallTimeout:  cfg.callTimeout.String(),
		WebAddr:      cfg.webAddr,
		HistoryLimit: cfg.historyLimit,
		LogLevel:     cfg.logLevel,
		LogFile:      cfg.logFile,
	}
}

func defaultConfigPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "radioctl", "config.json"), nil
}

func loadOrCreateConfig(path string) (persistentConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := defaultPersistentConfig()
			if saveErr := saveConfig(path, cfg); saveErr != nil {
				return persistentConfig{}, saveErr
			}
			return cfg, nil
		}
		return persistentConfig{}, err
	}
	defer f.Close()

	var cfg persistentConfig
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return persistentConfig{}, err
	}
	return cfg, nil
}

func saveConfig(path string, cfg persistentConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func defaultPersistentConfig() persistentConfig {
	return persistentConfig{
		Addr:         "127.0.0.1:49601",
		Slot:         "A",
		Bus:          0,
		Owner:        "radioctl",
		CallTimeout:  "5s",
		WebAddr:      ":8080",
		HistoryLimit: 500,
		LogLevel:     "info",
		LogFile:      "",
	}
}

func buildLogger(cfg cliConfig) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.logLevel)
	if err != nil {
		return nil, err
	}
	var out io.Writer = os.Stderr
	if cfg.logFile != "" {
		out = &lumberjack.Logger{Filename: cfg.logFile, MaxSize: 20, MaxBackups: 3}
	}
	return logging.New(level, logging.Text, out), nil
}

func envInt(lookup func(string) (string, bool), key string, def int) int {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func envString(lookup func(string) (string, bool), key, def string) string {
	if val, ok := lookup(key); ok {
		return val
	}
	return def
}
