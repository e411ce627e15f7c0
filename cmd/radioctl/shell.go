package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/peterh/liner"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/sdrgrid/radioctl/dboard"
	"github.com/sdrgrid/radioctl/hwrpc"
	"github.com/sdrgrid/radioctl/internal/logging"
	"github.com/sdrgrid/radioctl/internal/metrics"
	"github.com/sdrgrid/radioctl/internal/telemetry"
	"github.com/sdrgrid/radioctl/proptree"
)

var shellVerbs = []string{
	"help", "info", "get", "set", "antenna", "bandwidth", "rate",
	"init", "eeprom", "tree", "sweep", "quit", "exit",
}

// cmdShell runs the interactive shell on one long-lived session. With a
// web address configured it also serves the live telemetry view next to
// the prompt, so a sweep can be watched in the browser as it runs.
func cmdShell(ctx context.Context, cfg cliConfig) error {
	logger := logging.Default()

	sinks := telemetry.Fanout{telemetry.NewStdoutReporter(logger)}
	var (
		hub  *telemetry.Hub
		coll *metrics.Collector
		obs  hwrpc.Observer
	)
	if cfg.webAddr != "" {
		hub = telemetry.NewHub(cfg.historyLimit, logger)
		c, err := metrics.NewCollector(prometheus.NewRegistry())
		if err != nil {
			return err
		}
		coll = c
		obs = c
		sinks = append(sinks, hub, coll)
	}

	cs, err := connect(ctx, cfg, sinks, obs)
	if err != nil {
		return err
	}
	defer cs.close()

	tree := proptree.New()
	if err := cs.fe.RegisterTree(tree); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	if hub != nil {
		ws := telemetry.NewWebServer(cfg.webAddr, hub, coll.Handler(), logger)
		g.Go(func() error { return ws.Start(gctx) })
		fmt.Printf("web interface http://localhost%s\n", cfg.webAddr)
	}

	shellErr := runShell(gctx, cs, tree)
	cancel()
	if werr := g.Wait(); werr != nil && shellErr == nil {
		shellErr = werr
	}
	return shellErr
}

func runShell(ctx context.Context, cs *controlSession, tree *proptree.Tree) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(func(l string) []string {
		var out []string
		for _, v := range shellVerbs {
			if strings.HasPrefix(v, strings.ToLower(l)) {
				out = append(out, v)
			}
		}
		return out
	})

	histPath := historyPath()
	if histPath != "" {
		if f, err := os.Open(histPath); err == nil {
			line.ReadHistory(f)
			f.Close()
		}
	}
	defer func() {
		if histPath == "" {
			return
		}
		if f, err := os.Create(histPath); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	fmt.Println(`radioctl shell, "help" lists commands, ctrl-d exits`)
	for {
		if ctx.Err() != nil {
			return nil
		}
		input, err := line.Prompt("radioctl> ")
		if errors.Is(err, liner.ErrPromptAborted) {
			continue
		}
		if errors.Is(err, io.EOF) {
			fmt.Println()
			return nil
		}
		if err != nil {
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		fields := strings.Fields(input)
		verb, args := fields[0], fields[1:]
		if verb == "quit" || verb == "exit" {
			return nil
		}
		if err := shellDispatch(ctx, cs, tree, verb, args); err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
}

func shellDispatch(ctx context.Context, cs *controlSession, tree *proptree.Tree, verb string, args []string) error {
	switch verb {
	case "help":
		printShellHelp()
		return nil
	case "info":
		return runInfo(cs)
	case "get":
		return runGet(cs, args)
	case "set":
		return runSet(cs, args)
	case "antenna":
		return runAntenna(cs, args)
	case "bandwidth":
		return runBandwidth(cs, args)
	case "rate":
		return runRate(cs, args)
	case "init":
		return runInit(cs, args)
	case "eeprom":
		return runEEPROM(cs, args)
	case "tree":
		return dumpTree(os.Stdout, tree)
	case "sweep":
		return runSweep(ctx, cs, args)
	default:
		return fmt.Errorf("unknown command %q (try \"help\")", verb)
	}
}

func printShellHelp() {
	fmt.Print(`  info                                  service version and slot identity
  get freq|gain rx|tx <chan>            read one parameter
  set freq|gain rx|tx <chan> <value>    write one parameter
  antenna rx|tx <chan> [name]           read or select an antenna port
  bandwidth <chan> [hz]                 read or set the RX analog bandwidth
  rate [hz]                             read or set the tick rate
  init [rx-ports tx-ports]              apply the power-on defaults
  eeprom get|set [key=value ...]        read or update the slot EEPROM
  tree                                  dump the parameter tree
  sweep <start> <stop> <points> [rx|tx [chan]]
                                        tune across a span, report realized values
  quit                                  leave the shell
`)
}

// runSweep tunes across an inclusive linear span of frequencies and
// reports what hardware realized at each point. The twin channel moves
// along on the shared LO, which is exactly what makes sweeps useful for
// checking tuning granularity.
func runSweep(ctx context.Context, cs *controlSession, args []string) error {
	if len(args) < 3 || len(args) > 5 {
		return errors.New("usage: sweep <start-hz> <stop-hz> <points> [rx|tx [chan]]")
	}
	start, err := parseValue(args[0])
	if err != nil {
		return err
	}
	stop, err := parseValue(args[1])
	if err != nil {
		return err
	}
	points, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("points %q is not an integer", args[2])
	}
	if points < 2 {
		return errors.New("a sweep needs at least 2 points")
	}
	dir := dboard.Receive
	ch := 0
	if len(args) >= 4 {
		if dir, err = parseDirection(args[3]); err != nil {
			return err
		}
	}
	if len(args) == 5 {
		if ch, err = parseChannel(args[4]); err != nil {
			return err
		}
	}

	freqs := floats.Span(make([]float64, points), start, stop)
	tw := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REQUESTED\tREALIZED\tDELTA")
	for _, hz := range freqs {
		if err := ctx.Err(); err != nil {
			tw.Flush()
			return err
		}
		realized, err := cs.fe.SetFrequency(dir, ch, hz)
		if err != nil {
			tw.Flush()
			return fmt.Errorf("sweep at %s Hz: %w", formatNum(hz), err)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", formatNum(hz), formatNum(realized), formatNum(realized-hz))
	}
	return tw.Flush()
}

// historyPath locates the shell history next to the persisted config.
// Empty when no config directory is available; the shell then simply
// keeps no history across runs.
func historyPath() string {
	p, err := defaultConfigPath()
	if err != nil {
		return ""
	}
	return filepath.Join(filepath.Dir(p), "history")
}
