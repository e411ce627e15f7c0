package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sdrgrid/radioctl/dboard"
	"github.com/sdrgrid/radioctl/hwrpc"
	"github.com/sdrgrid/radioctl/internal/discovery"
	"github.com/sdrgrid/radioctl/internal/logging"
	"github.com/sdrgrid/radioctl/internal/metrics"
	"github.com/sdrgrid/radioctl/internal/telemetry"
	"github.com/sdrgrid/radioctl/proptree"
)

const browseTimeout = 3 * time.Second

// controlSession bundles the connection, the claimed session, and the
// front end for one slot. One-shot commands build one, work, and close
// it; the shell holds one for its whole run.
type controlSession struct {
	client *hwrpc.Client
	sess   *hwrpc.Session
	fe     *dboard.Frontend
	log    logging.Logger
}

func connect(ctx context.Context, cfg cliConfig, events dboard.EventSink, obs hwrpc.Observer) (*controlSession, error) {
	logger := logging.Default()
	client, err := hwrpc.Dial(ctx, hwrpc.Config{
		Addr:        cfg.addr,
		CallTimeout: cfg.callTimeout,
		Log:         logger,
		Observer:    obs,
	})
	if err != nil {
		return nil, err
	}
	sess, err := client.Claim(cfg.owner)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("claim session: %w", err)
	}
	fe, err := dboard.New(dboard.Config{
		Slot:   cfg.slot,
		Bus:    cfg.bus,
		Log:    logger,
		Events: events,
	})
	if err != nil {
		sess.Release()
		client.Close()
		return nil, err
	}
	if err := fe.AttachSession(sess); err != nil {
		sess.Release()
		client.Close()
		return nil, err
	}
	return &controlSession{client: client, sess: sess, fe: fe, log: logger}, nil
}

func (cs *controlSession) close() {
	if err := cs.sess.Release(); err != nil {
		cs.log.Warn("release session", logging.Err(err))
	}
	cs.client.Close()
}

// withSession runs fn against a freshly connected session and tears it
// down afterwards. The shell bypasses this and keeps its own session.
func withSession(ctx context.Context, cfg cliConfig, fn func(*controlSession) error) error {
	cs, err := connect(ctx, cfg, nil, nil)
	if err != nil {
		return err
	}
	defer cs.close()
	return fn(cs)
}

func cmdDiscover(ctx context.Context, _ cliConfig) error {
	services, err := discovery.Browse(ctx, browseTimeout)
	if err != nil {
		return err
	}
	if len(services) == 0 {
		fmt.Println("no control services found")
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INSTANCE\tADDRESS\tTXT")
	for _, svc := range services {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", svc.Instance, svc.Addr(), strings.Join(svc.TXT, " "))
	}
	return tw.Flush()
}

func cmdInfo(ctx context.Context, cfg cliConfig) error {
	return withSession(ctx, cfg, runInfo)
}

func runInfo(cs *controlSession) error {
	version, err := cs.client.Version()
	if err != nil {
		return err
	}
	blob, err := cs.fe.EEPROM()
	if err != nil {
		return err
	}

	fmt.Printf("service version  %s\n", version)
	fmt.Printf("slot             %s (bus %d)\n", cs.fe.Slot(), cs.fe.Bus())
	fmt.Printf("tick rate        %s Hz\n", formatNum(cs.fe.TickRate()))
	fmt.Printf("freq range       %s to %s Hz, step %s\n",
		formatNum(dboard.FrequencyRange.Min), formatNum(dboard.FrequencyRange.Max), formatNum(dboard.FrequencyRange.Step))
	fmt.Printf("rx gain range    %s to %s dB, step %s\n",
		formatNum(dboard.RXGainRange.Min), formatNum(dboard.RXGainRange.Max), formatNum(dboard.RXGainRange.Step))
	fmt.Printf("tx gain range    %s to %s dB, step %s\n",
		formatNum(dboard.TXGainRange.Min), formatNum(dboard.TXGainRange.Max), formatNum(dboard.TXGainRange.Step))
	fmt.Printf("antenna options  %s\n", strings.Join(dboard.AntennaOptions, ", "))
	fmt.Printf("eeprom           %s\n", formatBlob(blob))
	return nil
}

func cmdGet(ctx context.Context, cfg cliConfig, args []string) error {
	return withSession(ctx, cfg, func(cs *controlSession) error { return runGet(cs, args) })
}

func runGet(cs *controlSession, args []string) error {
	if len(args) != 3 {
		return errors.New("usage: get freq|gain rx|tx <chan>")
	}
	dir, ch, err := parseChannelArgs(args[1], args[2])
	if err != nil {
		return err
	}
	switch args[0] {
	case "freq":
		hz, err := cs.fe.Frequency(dir, ch)
		if err != nil {
			return err
		}
		fmt.Printf("%s freq %s Hz\n", channelLabel(dir, ch), formatNum(hz))
	case "gain":
		db, err := cs.fe.Gain(dir, ch)
		if err != nil {
			return err
		}
		fmt.Printf("%s gain %s dB\n", channelLabel(dir, ch), formatNum(db))
	default:
		return fmt.Errorf("unknown parameter %q (freq or gain)", args[0])
	}
	return nil
}

func cmdSet(ctx context.Context, cfg cliConfig, args []string) error {
	return withSession(ctx, cfg, func(cs *controlSession) error { return runSet(cs, args) })
}

func runSet(cs *controlSession, args []string) error {
	if len(args) != 4 {
		return errors.New("usage: set freq|gain rx|tx <chan> <value>")
	}
	dir, ch, err := parseChannelArgs(args[1], args[2])
	if err != nil {
		return err
	}
	value, err := parseValue(args[3])
	if err != nil {
		return err
	}
	switch args[0] {
	case "freq":
		realized, err := cs.fe.SetFrequency(dir, ch, value)
		if err != nil {
			return err
		}
		fmt.Printf("%s freq requested %s, realized %s Hz\n",
			channelLabel(dir, ch), formatNum(value), formatNum(realized))
	case "gain":
		realized, err := cs.fe.SetGain(dir, ch, value)
		if err != nil {
			return err
		}
		fmt.Printf("%s gain requested %s, realized %s dB\n",
			channelLabel(dir, ch), formatNum(value), formatNum(realized))
	default:
		return fmt.Errorf("unknown parameter %q (freq or gain)", args[0])
	}
	return nil
}

func cmdAntenna(ctx context.Context, cfg cliConfig, args []string) error {
	return withSession(ctx, cfg, func(cs *controlSession) error { return runAntenna(cs, args) })
}

func runAntenna(cs *controlSession, args []string) error {
	if len(args) != 2 && len(args) != 3 {
		return errors.New("usage: antenna rx|tx <chan> [name]")
	}
	dir, ch, err := parseChannelArgs(args[0], args[1])
	if err != nil {
		return err
	}
	var res dboard.StringResult
	if len(args) == 3 {
		res, err = cs.fe.SetAntenna(dir, ch, args[2])
	} else {
		res, err = cs.fe.Antenna(dir, ch)
	}
	if err != nil {
		return err
	}
	fmt.Printf("%s antenna %s%s\n", channelLabel(dir, ch), res.Value, stubTag(res.Stubbed))
	return nil
}

func cmdBandwidth(ctx context.Context, cfg cliConfig, args []string) error {
	return withSession(ctx, cfg, func(cs *controlSession) error { return runBandwidth(cs, args) })
}

func runBandwidth(cs *controlSession, args []string) error {
	if len(args) != 1 && len(args) != 2 {
		return errors.New("usage: bandwidth <chan> [hz]")
	}
	ch, err := parseChannel(args[0])
	if err != nil {
		return err
	}
	if len(args) == 2 {
		hz, err := parseValue(args[1])
		if err != nil {
			return err
		}
		res, err := cs.fe.SetRXBandwidth(ch, hz)
		if err != nil {
			return err
		}
		fmt.Printf("%s bandwidth requested %s, kept %s Hz%s\n",
			channelLabel(dboard.Receive, ch), formatNum(hz), formatNum(res.Value), stubTag(res.Stubbed))
		return nil
	}
	res, err := cs.fe.RXBandwidth(ch)
	if err != nil {
		return err
	}
	fmt.Printf("%s bandwidth %s Hz%s\n", channelLabel(dboard.Receive, ch), formatNum(res.Value), stubTag(res.Stubbed))
	return nil
}

func cmdRate(ctx context.Context, cfg cliConfig, args []string) error {
	return withSession(ctx, cfg, func(cs *controlSession) error { return runRate(cs, args) })
}

func runRate(cs *controlSession, args []string) error {
	if len(args) > 1 {
		return errors.New("usage: rate [hz]")
	}
	if len(args) == 0 {
		fmt.Printf("tick rate %s Hz\n", formatNum(cs.fe.TickRate()))
		return nil
	}
	hz, err := parseValue(args[0])
	if err != nil {
		return err
	}
	res, err := cs.fe.SetTickRate(hz)
	if err != nil {
		return err
	}
	fmt.Printf("tick rate requested %s, kept %s Hz%s\n", formatNum(hz), formatNum(res.Value), stubTag(res.Stubbed))
	return nil
}

func cmdInit(ctx context.Context, cfg cliConfig, args []string) error {
	return withSession(ctx, cfg, func(cs *controlSession) error { return runInit(cs, args) })
}

func runInit(cs *controlSession, args []string) error {
	rxPorts, txPorts := 1, 1
	switch len(args) {
	case 0:
	case 2:
		var err error
		if rxPorts, err = parseCount(args[0]); err != nil {
			return fmt.Errorf("rx ports: %w", err)
		}
		if txPorts, err = parseCount(args[1]); err != nil {
			return fmt.Errorf("tx ports: %w", err)
		}
	default:
		return errors.New("usage: init [rx-ports tx-ports]")
	}
	if err := cs.fe.InitDefaults(rxPorts, txPorts); err != nil {
		return err
	}
	fmt.Printf("defaults applied to slot %s (rx ports %d, tx ports %d)\n", cs.fe.Slot(), rxPorts, txPorts)
	return nil
}

func cmdEEPROM(ctx context.Context, cfg cliConfig, args []string) error {
	return withSession(ctx, cfg, func(cs *controlSession) error { return runEEPROM(cs, args) })
}

func runEEPROM(cs *controlSession, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: eeprom get|set [key=value ...]")
	}
	switch args[0] {
	case "get":
		if len(args) != 1 {
			return errors.New("usage: eeprom get")
		}
		blob, err := cs.fe.EEPROM()
		if err != nil {
			return err
		}
		printBlob(blob)
		return nil
	case "set":
		if len(args) < 2 {
			return errors.New("usage: eeprom set key=value [key=value ...]")
		}
		overrides, err := parseKeyValues(args[1:])
		if err != nil {
			return err
		}
		blob, err := cs.fe.EEPROM()
		if err != nil {
			return err
		}
		for k, v := range overrides {
			blob[k] = v
		}
		if err := cs.fe.StoreEEPROM(blob); err != nil {
			return err
		}
		stored, err := cs.fe.EEPROM()
		if err != nil {
			return err
		}
		printBlob(stored)
		return nil
	default:
		return fmt.Errorf("unknown eeprom action %q (get or set)", args[0])
	}
}

func cmdTree(ctx context.Context, cfg cliConfig) error {
	return withSession(ctx, cfg, func(cs *controlSession) error {
		tree := proptree.New()
		if err := cs.fe.RegisterTree(tree); err != nil {
			return err
		}
		return dumpTree(os.Stdout, tree)
	})
}

func dumpTree(w io.Writer, tree *proptree.Tree) error {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	for _, path := range tree.Paths() {
		v, err := tree.Get(path)
		if err != nil {
			fmt.Fprintf(tw, "%s\t!%v\n", path, err)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\n", path, formatTreeValue(v))
	}
	return tw.Flush()
}

func cmdWeb(ctx context.Context, cfg cliConfig) error {
	if cfg.webAddr == "" {
		return errors.New("no web address configured (set -web-addr)")
	}
	logger := logging.Default()

	hub := telemetry.NewHub(cfg.historyLimit, logger)
	coll, err := metrics.NewCollector(prometheus.NewRegistry())
	if err != nil {
		return err
	}

	cs, err := connect(ctx, cfg, telemetry.Fanout{hub, coll, telemetry.NewStdoutReporter(logger)}, coll)
	if err != nil {
		return err
	}
	defer cs.close()

	tree := proptree.New()
	if err := cs.fe.RegisterTree(tree); err != nil {
		return err
	}
	if err := cs.fe.InitDefaults(1, 1); err != nil {
		return err
	}

	ws := telemetry.NewWebServer(cfg.webAddr, hub, coll.Handler(), logger)
	fmt.Printf("web interface http://localhost%s (ctrl-c to stop)\n", cfg.webAddr)
	return ws.Start(ctx)
}

func parseChannelArgs(dirArg, chArg string) (dboard.Direction, int, error) {
	dir, err := parseDirection(dirArg)
	if err != nil {
		return 0, 0, err
	}
	ch, err := parseChannel(chArg)
	if err != nil {
		return 0, 0, err
	}
	return dir, ch, nil
}

func parseDirection(s string) (dboard.Direction, error) {
	switch strings.ToLower(s) {
	case "rx":
		return dboard.Receive, nil
	case "tx":
		return dboard.Transmit, nil
	default:
		return 0, fmt.Errorf("direction %q is not rx or tx", s)
	}
}

func parseChannel(s string) (int, error) {
	ch, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("channel %q is not an integer", s)
	}
	return ch, nil
}

func parseCount(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("count %q is not an integer", s)
	}
	return n, nil
}

func parseValue(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("value %q is not a number", s)
	}
	return v, nil
}

func parseKeyValues(args []string) (map[string]string, error) {
	out := make(map[string]string, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("argument %q is not key=value", arg)
		}
		out[k] = v
	}
	return out, nil
}

func channelLabel(dir dboard.Direction, ch int) string {
	return fmt.Sprintf("%s[%d]", strings.ToLower(dir.String()), ch)
}

func stubTag(stubbed bool) string {
	if stubbed {
		return " (stubbed)"
	}
	return ""
}

func formatNum(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatBlob(blob map[string]string) string {
	keys := make([]string, 0, len(blob))
	for k := range blob {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+blob[k])
	}
	return strings.Join(parts, " ")
}

func printBlob(blob map[string]string) {
	for _, kv := range strings.Split(formatBlob(blob), " ") {
		if kv != "" {
			fmt.Println(kv)
		}
	}
}

func formatTreeValue(v any) string {
	switch x := v.(type) {
	case dboard.Range:
		return fmt.Sprintf("min=%s max=%s step=%s", formatNum(x.Min), formatNum(x.Max), formatNum(x.Step))
	case float64:
		return formatNum(x)
	case string:
		return x
	case []string:
		return strings.Join(x, ",")
	case map[string]string:
		return formatBlob(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}
