// Package hwrpc implements the host side of the control-plane link to the
// remote hardware service: JSON-RPC 2.0 over TCP, one JSON object per line
// in each direction. Calls are synchronous and serialized per connection.
// Authenticated procedures carry the opaque session token issued by claim
// as their first positional parameter; Session prepends it transparently.
//
// Timeout and retry policy live here, not in the callers: Dial retries
// with exponential backoff until the context or retry window expires, and
// every call is bounded by the configured per-call timeout. A call either
// returns a value or fails.
package hwrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/sdrgrid/radioctl/internal/logging"
)

// ErrClosed is returned for calls issued after Close.
var ErrClosed = errors.New("hwrpc: connection closed")

// Observer receives a callback after every completed call, successful or
// not. Implementations must be safe for concurrent use.
type Observer interface {
	ObserveCall(procedure string, elapsed time.Duration, err error)
}

// Config parametrizes Dial. The zero value is usable once Addr is set.
type Config struct {
	// Addr is the host:port of the remote hardware service.
	Addr string

	// DialTimeout bounds a single connect attempt. Default 3s.
	DialTimeout time.Duration

	// CallTimeout bounds one request/response round trip. Default 5s.
	CallTimeout time.Duration

	// MaxElapsed bounds the total dial retry window. Default 15s.
	MaxElapsed time.Duration

	// Log receives connection lifecycle diagnostics. Default logger when nil.
	Log logging.Logger

	// Observer, when set, is notified after every call.
	Observer Observer
}

func (c *Config) applyDefaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 3 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 5 * time.Second
	}
	if c.MaxElapsed <= 0 {
		c.MaxElapsed = 15 * time.Second
	}
	if c.Log == nil {
		c.Log = logging.Default()
	}
}

// Client is a connection to the remote hardware service. One call is in
// flight at a time; concurrent callers are serialized internally.
type Client struct {
	cfg Config
	log logging.Logger

	mu     sync.Mutex
	conn   net.Conn
	br     *bufio.Reader
	nextID uint64
	closed bool
}

// Dial connects to the service at cfg.Addr, retrying transient failures
// with exponential backoff until ctx is done or cfg.MaxElapsed passes.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	cfg.applyDefaults()
	if cfg.Addr == "" {
		return nil, errors.New("hwrpc: no service address configured")
	}
	log := logging.Component(cfg.Log, "hwrpc")

	var conn net.Conn
	attempt := 0
	op := func() error {
		attempt++
		d := net.Dialer{Timeout: cfg.DialTimeout}
		c, err := d.DialContext(ctx, "tcp", cfg.Addr)
		if err != nil {
			log.Debug("connect attempt failed",
				logging.Field{Key: "addr", Value: cfg.Addr},
				logging.Field{Key: "attempt", Value: attempt},
				logging.Err(err))
			return err
		}
		conn = c
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = cfg.MaxElapsed
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, fmt.Errorf("connect to control service at %s: %w", cfg.Addr, err)
	}
	log.Info("connected to control service",
		logging.Field{Key: "addr", Value: cfg.Addr},
		logging.Field{Key: "attempts", Value: attempt})

	return &Client{
		cfg:  cfg,
		log:  log,
		conn: conn,
		br:   bufio.NewReader(conn),
	}, nil
}

// Close tears down the connection. Sessions claimed from this client are
// invalid afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// Version queries the service version string. No session required.
func (c *Client) Version() (string, error) {
	v, err := c.call("get_version", nil)
	if err != nil {
		return "", fmt.Errorf("query service version: %w", err)
	}
	return AsString(v)
}

// Claim establishes a session with the service and returns it. The token
// inside is opaque; it lives as long as the underlying connection.
func (c *Client) Claim(owner string) (*Session, error) {
	v, err := c.call("claim", []any{owner})
	if err != nil {
		return nil, fmt.Errorf("claim session: %w", err)
	}
	token, err := AsString(v)
	if err != nil {
		return nil, fmt.Errorf("claim session: %w", err)
	}
	if token == "" {
		return nil, errors.New("claim session: service returned an empty token")
	}
	c.log.Debug("session claimed", logging.Field{Key: "owner", Value: owner})
	return &Session{c: c, token: token}, nil
}

// call performs one round trip. The deadline covers the write and the
// reply read together.
func (c *Client) call(method string, params []any) (result any, err error) {
	start := time.Now()
	defer func() {
		if obs := c.cfg.Observer; obs != nil {
			obs.ObserveCall(method, time.Since(start), err)
		}
	}()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("call %s: %w", method, ErrClosed)
	}
	if params == nil {
		params = []any{}
	}
	c.nextID++
	req := request{Version: "2.0", ID: c.nextID, Method: method, Params: params}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}
	payload = append(payload, '\n')

	if err := c.conn.SetDeadline(time.Now().Add(c.cfg.CallTimeout)); err != nil {
		return nil, fmt.Errorf("call %s: set deadline: %w", method, err)
	}
	if _, err := c.conn.Write(payload); err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}
	line, err := c.br.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read %s reply: %w", method, err)
	}

	var resp response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("decode %s reply: %w", method, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("call %s: %w", method, resp.Error)
	}
	if resp.ID != req.ID {
		return nil, fmt.Errorf("call %s: reply id %d does not match request id %d", method, resp.ID, req.ID)
	}
	if len(resp.Result) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(resp.Result, &v); err != nil {
		return nil, fmt.Errorf("decode %s result: %w", method, err)
	}
	return v, nil
}
