package hwrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"reflect"
	"testing"
	"time"

	"gonum.org/v1/gonum/floats/scalar"
)

type scriptOp struct {
	method string
	params []any
	result any
	fail   *RemoteError
}

func startScriptServer(t *testing.T, ops []scriptOp) (string, chan error) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		defer listener.Close()

		conn, err := listener.Accept()
		if err != nil {
			errCh <- err
			return
		}
		defer conn.Close()

		reader := bufio.NewReader(conn)

		for _, op := range ops {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				errCh <- fmt.Errorf("read request: %w", err)
				return
			}
			var req request
			if err := json.Unmarshal(line, &req); err != nil {
				errCh <- fmt.Errorf("decode request: %w", err)
				return
			}
			if req.Version != "2.0" {
				errCh <- fmt.Errorf("jsonrpc version %q, want 2.0", req.Version)
				return
			}
			if req.Method != op.method {
				errCh <- fmt.Errorf("unexpected method %q, want %q", req.Method, op.method)
				return
			}
			if op.params != nil && !reflect.DeepEqual(req.Params, op.params) {
				errCh <- fmt.Errorf("method %s params %#v, want %#v", req.Method, req.Params, op.params)
				return
			}

			reply := map[string]any{"jsonrpc": "2.0", "id": req.ID}
			if op.fail != nil {
				reply["error"] = op.fail
			} else {
				reply["result"] = op.result
			}
			payload, err := json.Marshal(reply)
			if err != nil {
				errCh <- fmt.Errorf("encode reply: %w", err)
				return
			}
			if _, err := conn.Write(append(payload, '\n')); err != nil {
				errCh <- fmt.Errorf("write reply: %w", err)
				return
			}
		}

		errCh <- nil
	}()

	return listener.Addr().String(), errCh
}

func TestClaimPrependsTokenOnCalls(t *testing.T) {
	ops := []scriptOp{
		{method: "claim", params: []any{"radioctl-test"}, result: "tok-7f3"},
		{method: "db_0_set_freq", params: []any{"tok-7f3", "RX1", 2.5e9, false}, result: 2.500000001e9},
		{method: "db_0_get_freq", params: []any{"tok-7f3", "RX2"}, result: 2.500000001e9},
		{method: "db_0_set_db_eeprom", params: []any{"tok-7f3", 0.0, map[string]any{"serial": "31C9A3F"}}, result: nil},
		{method: "unclaim", params: []any{"tok-7f3"}, result: true},
	}
	addr, errCh := startScriptServer(t, ops)

	client, err := Dial(context.Background(), Config{Addr: addr})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	sess, err := client.Claim("radioctl-test")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if sess.Token() != "tok-7f3" {
		t.Fatalf("token = %q, want tok-7f3", sess.Token())
	}

	v, err := sess.Request("db_0_set_freq", "RX1", 2.5e9, false)
	if err != nil {
		t.Fatalf("set_freq: %v", err)
	}
	realized, err := AsFloat64(v)
	if err != nil {
		t.Fatalf("set_freq result: %v", err)
	}
	if !scalar.EqualWithinAbs(realized, 2.500000001e9, 1e-3) {
		t.Fatalf("realized = %v, want 2.500000001e9", realized)
	}

	if _, err := sess.Request("db_0_get_freq", "RX2"); err != nil {
		t.Fatalf("get_freq: %v", err)
	}
	if err := sess.Notify("db_0_set_db_eeprom", 0.0, map[string]any{"serial": "31C9A3F"}); err != nil {
		t.Fatalf("set_db_eeprom: %v", err)
	}
	if err := sess.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	if err := <-errCh; err != nil {
		t.Fatalf("server error: %v", err)
	}
}

func TestRemoteErrorSurfacesWithCode(t *testing.T) {
	ops := []scriptOp{
		{method: "claim", params: []any{"radioctl-test"}, result: "tok-9"},
		{method: "db_1_get_gain", fail: &RemoteError{Code: 100, Message: "invalid token"}},
	}
	addr, errCh := startScriptServer(t, ops)

	client, err := Dial(context.Background(), Config{Addr: addr})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	sess, err := client.Claim("radioctl-test")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	_, err = sess.Request("db_1_get_gain", "TX1")
	if err == nil {
		t.Fatal("expected remote error")
	}
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("error %v does not unwrap to *RemoteError", err)
	}
	if remote.Code != 100 || remote.Message != "invalid token" {
		t.Fatalf("remote error = %+v, want code 100 invalid token", remote)
	}

	if err := <-errCh; err != nil {
		t.Fatalf("server error: %v", err)
	}
}

func TestDialRetriesUntilServiceAppears(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()

	errCh := make(chan error, 1)
	go func() {
		time.Sleep(250 * time.Millisecond)
		late, err := net.Listen("tcp", addr)
		if err != nil {
			errCh <- fmt.Errorf("relisten: %w", err)
			return
		}
		defer late.Close()
		conn, err := late.Accept()
		if err != nil {
			errCh <- err
			return
		}
		conn.Close()
		errCh <- nil
	}()

	client, err := Dial(context.Background(), Config{Addr: addr, MaxElapsed: 10 * time.Second})
	if err != nil {
		t.Fatalf("Dial did not survive a late-starting service: %v", err)
	}
	client.Close()

	if err := <-errCh; err != nil {
		t.Fatalf("server error: %v", err)
	}
}

func TestCallTimeoutOnSilentService(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer listener.Close()
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		// Swallow the request and never answer.
		defer conn.Close()
		buf := make([]byte, 1024)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}()

	client, err := Dial(context.Background(), Config{
		Addr:        listener.Addr().String(),
		CallTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	_, err = client.Version()
	if err == nil {
		t.Fatal("expected timeout error from silent service")
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		t.Fatalf("timeout decoded as remote error: %v", err)
	}
}

func TestCallAfterCloseFails(t *testing.T) {
	ops := []scriptOp{}
	addr, errCh := startScriptServer(t, ops)

	client, err := Dial(context.Background(), Config{Addr: addr})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := client.Version(); !errors.Is(err, ErrClosed) {
		t.Fatalf("call after close: got %v, want ErrClosed", err)
	}
	<-errCh
}
