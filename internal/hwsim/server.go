// Package hwsim is a stand-in for the embedded control service that owns
// the daughterboard hardware. It speaks the same newline-delimited
// JSON-RPC 2.0 dialect the real service does, holds the authoritative
// hardware state, and is what the daemon, the end-to-end tests, and local
// development run against instead of a rack of boards.
package hwsim

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sdrgrid/radioctl/internal/logging"
)

// Error codes on the wire. The negative ones are standard JSON-RPC; the
// positive ones are service-domain codes the clients key on.
const (
	codeParse          = -32700
	codeInvalidRequest = -32600
	codeNoMethod       = -32601
	codeInternal       = -32603
	codeInvalidToken   = 100
	codeBadParams      = 101
	codeBadWhich       = 110
	codeInjectedFault  = 120
)

// maxLineBytes bounds one request line. EEPROM blobs are the largest
// legitimate payload and stay far below this.
const maxLineBytes = 1 << 20

type rpcRequest struct {
	Version string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  []any           `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func badParams(format string, args ...any) *rpcError {
	return &rpcError{Code: codeBadParams, Message: fmt.Sprintf(format, args...)}
}

// successLine always carries a result member, null included, so callers
// waiting on an acknowledgement get one.
func successLine(id json.RawMessage, result any) ([]byte, error) {
	return json.Marshal(struct {
		Version string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Result  any             `json:"result"`
	}{Version: "2.0", ID: id, Result: result})
}

func errorLine(id json.RawMessage, rerr *rpcError) []byte {
	line, err := json.Marshal(struct {
		Version string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Error   *rpcError       `json:"error"`
	}{Version: "2.0", ID: id, Error: rerr})
	if err != nil {
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"internal error"}}`)
	}
	return line
}

// Server is the simulated control service. One instance models one
// embedded host carrying the configured daughterboards.
type Server struct {
	cfg      Config
	log      logging.Logger
	sessions *sessions
	boards   map[int]*board         // keyed by bus, the method prefix
	faults   map[string]FaultConfig // method -> forced failure

	mu     sync.Mutex
	ln     net.Listener
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewServer builds a service from cfg. Hand-built configs get the same
// normalization and validation Load applies to files.
func NewServer(cfg Config, log logging.Logger) (*Server, error) {
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("hwsim config: %w", err)
	}
	sess, err := newSessions(cfg.TokenTTL())
	if err != nil {
		return nil, err
	}
	boards := make(map[int]*board, len(cfg.Slots))
	for _, slot := range cfg.Slots {
		boards[slot.Bus] = newBoard(slot)
	}
	faults := make(map[string]FaultConfig, len(cfg.Faults))
	for _, f := range cfg.Faults {
		faults[f.Method] = f
	}
	return &Server{
		cfg:      cfg,
		log:      logging.Component(log, "hwsim"),
		sessions: sess,
		boards:   boards,
		faults:   faults,
		conns:    make(map[net.Conn]struct{}),
	}, nil
}

// Start binds the listener and begins accepting connections. Use Addr for
// the bound address when the config asked for an ephemeral port.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Listen, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.wg.Add(1)
	go s.acceptLoop(ln)
	s.log.Info("control service listening",
		logging.Field{Key: "addr", Value: ln.Addr().String()},
		logging.Field{Key: "slots", Value: len(s.boards)})
	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Close stops the listener, drops every live connection, and waits for
// the connection handlers to drain.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.ln
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	s.wg.Wait()
	s.log.Info("control service stopped")
	return err
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("accept failed", logging.Err(err))
			continue
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	log := s.log.With(logging.Field{Key: "client", Value: conn.RemoteAddr().String()})
	log.Debug("client connected")

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := sc.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		reply := append(s.dispatch(log, line), '\n')
		if _, err := conn.Write(reply); err != nil {
			log.Debug("write reply failed", logging.Err(err))
			return
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		log.Debug("read failed", logging.Err(err))
	}
	log.Debug("client disconnected")
}

func (s *Server) dispatch(log logging.Logger, line []byte) []byte {
	var req rpcRequest
	if err := json.Unmarshal(line, &req); err != nil {
		log.Debug("unparseable request", logging.Err(err))
		return errorLine(nil, &rpcError{Code: codeParse, Message: "parse error"})
	}
	if req.Version != "2.0" || req.Method == "" {
		return errorLine(req.ID, &rpcError{Code: codeInvalidRequest, Message: "invalid request"})
	}

	start := time.Now()
	result, rerr := s.invoke(req.Method, req.Params)
	fields := []logging.Field{
		{Key: "method", Value: req.Method},
		{Key: "elapsed", Value: time.Since(start).Round(time.Microsecond)},
	}
	if rerr != nil {
		log.Debug("call failed", append(fields, logging.Field{Key: "code", Value: rerr.Code})...)
		return errorLine(req.ID, rerr)
	}
	log.Debug("call handled", fields...)

	reply, err := successLine(req.ID, result)
	if err != nil {
		log.Error("encode reply failed", logging.Err(err))
		return errorLine(req.ID, &rpcError{Code: codeInternal, Message: "internal error"})
	}
	return reply
}

func (s *Server) invoke(method string, params []any) (any, *rpcError) {
	if f, ok := s.faults[method]; ok {
		return nil, &rpcError{Code: f.Code, Message: f.Message}
	}

	switch method {
	case "get_version":
		return s.cfg.Version, nil
	case "claim":
		owner, ok := paramString(params, 0)
		if !ok || owner == "" {
			return nil, badParams("claim expects a non-empty owner string")
		}
		token, err := s.sessions.issue(owner)
		if err != nil {
			return nil, &rpcError{Code: codeInternal, Message: err.Error()}
		}
		s.log.Info("session claimed", logging.Field{Key: "owner", Value: owner})
		return token, nil
	case "unclaim":
		token, ok := paramString(params, 0)
		if !ok {
			return nil, badParams("unclaim expects the session token")
		}
		if err := s.sessions.revoke(token); err != nil {
			return nil, &rpcError{Code: codeInvalidToken, Message: "invalid session token"}
		}
		s.log.Info("session released")
		return nil, nil
	}

	bus, op, ok := splitBoardMethod(method)
	if !ok {
		return nil, &rpcError{Code: codeNoMethod, Message: fmt.Sprintf("method %q not found", method)}
	}
	b, ok := s.boards[bus]
	if !ok {
		return nil, &rpcError{Code: codeNoMethod, Message: fmt.Sprintf("no daughterboard on bus %d", bus)}
	}

	token, ok := paramString(params, 0)
	if !ok {
		return nil, badParams("missing session token")
	}
	if _, err := s.sessions.verify(token); err != nil {
		return nil, &rpcError{Code: codeInvalidToken, Message: "invalid session token"}
	}
	args := params[1:]

	switch op {
	case "set_freq":
		which, ok := paramString(args, 0)
		if !ok {
			return nil, badParams("set_freq expects (which, hz, skipSync)")
		}
		hz, ok := paramFloat(args, 1)
		if !ok {
			return nil, badParams("set_freq expects a numeric frequency")
		}
		skipSync, ok := paramBool(args, 2)
		if !ok {
			return nil, badParams("set_freq expects a boolean skipSync")
		}
		return rpcResult(b.setFreq(which, hz, skipSync))
	case "get_freq":
		which, ok := paramString(args, 0)
		if !ok {
			return nil, badParams("get_freq expects (which)")
		}
		return rpcResult(b.getFreq(which))
	case "set_gain":
		which, ok := paramString(args, 0)
		if !ok {
			return nil, badParams("set_gain expects (which, gain)")
		}
		db, ok := paramFloat(args, 1)
		if !ok {
			return nil, badParams("set_gain expects a numeric gain")
		}
		return rpcResult(b.setGain(which, db))
	case "get_gain":
		which, ok := paramString(args, 0)
		if !ok {
			return nil, badParams("get_gain expects (which)")
		}
		return rpcResult(b.getGain(which))
	case "set_db_eeprom":
		idx, ok := paramInt(args, 0)
		if !ok {
			return nil, badParams("set_db_eeprom expects (bus, blob)")
		}
		if idx != b.cfg.Bus {
			return nil, badParams("eeprom index %d does not match bus %d", idx, b.cfg.Bus)
		}
		blob, ok := paramStringMap(args, 1)
		if !ok {
			return nil, badParams("set_db_eeprom expects a string map blob")
		}
		b.setEEPROM(blob)
		return nil, nil
	case "get_db_eeprom":
		idx, ok := paramInt(args, 0)
		if !ok {
			return nil, badParams("get_db_eeprom expects (bus)")
		}
		if idx != b.cfg.Bus {
			return nil, badParams("eeprom index %d does not match bus %d", idx, b.cfg.Bus)
		}
		return b.getEEPROM(), nil
	default:
		return nil, &rpcError{Code: codeNoMethod, Message: fmt.Sprintf("method %q not found", method)}
	}
}

func rpcResult(v float64, rerr *rpcError) (any, *rpcError) {
	if rerr != nil {
		return nil, rerr
	}
	return v, nil
}

// splitBoardMethod splits "db_0_set_freq" into bus 0 and op "set_freq".
func splitBoardMethod(method string) (int, string, bool) {
	rest, ok := strings.CutPrefix(method, "db_")
	if !ok {
		return 0, "", false
	}
	busStr, op, ok := strings.Cut(rest, "_")
	if !ok || op == "" {
		return 0, "", false
	}
	bus, err := strconv.Atoi(busStr)
	if err != nil || bus < 0 {
		return 0, "", false
	}
	return bus, op, true
}

func paramString(params []any, i int) (string, bool) {
	if i >= len(params) {
		return "", false
	}
	s, ok := params[i].(string)
	return s, ok
}

func paramFloat(params []any, i int) (float64, bool) {
	if i >= len(params) {
		return 0, false
	}
	switch v := params[i].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

func paramInt(params []any, i int) (int, bool) {
	f, ok := paramFloat(params, i)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

func paramBool(params []any, i int) (bool, bool) {
	if i >= len(params) {
		return false, false
	}
	b, ok := params[i].(bool)
	return b, ok
}

func paramStringMap(params []any, i int) (map[string]string, bool) {
	if i >= len(params) {
		return nil, false
	}
	switch m := params[i].(type) {
	case map[string]string:
		return m, true
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, v := range m {
			s, ok := v.(string)
			if !ok {
				return nil, false
			}
			out[k] = s
		}
		return out, true
	default:
		return nil, false
	}
}
