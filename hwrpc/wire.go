package hwrpc

import (
	"encoding/json"
	"fmt"
)

// request is the JSON-RPC 2.0 call envelope. Params are positional; for
// authenticated procedures the session token is the first element.
type request struct {
	Version string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// response is the JSON-RPC 2.0 reply envelope. Exactly one of Result and
// Error is populated.
type response struct {
	Version string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RemoteError    `json:"error"`
}

// RemoteError is the error object returned by the remote hardware service
// when it rejects or fails a call. It satisfies error so call sites can
// wrap it; use errors.As to recover the code.
type RemoteError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
}
