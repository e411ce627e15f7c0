package hwrpc

import "fmt"

// Session is a claimed control-plane session. It satisfies the caller
// interface the daughterboard front end consumes: every procedure carries
// the session token as its first positional parameter.
type Session struct {
	c     *Client
	token string
}

// Token returns the opaque session token, for diagnostics only.
func (s *Session) Token() string { return s.token }

// Request performs an authenticated synchronous call and returns the
// decoded result.
func (s *Session) Request(procedure string, args ...any) (any, error) {
	return s.c.call(procedure, s.withToken(args))
}

// Notify performs an authenticated acknowledged call whose result carries
// no information. The service's acknowledgement is still awaited, so a
// rejection surfaces as an error.
func (s *Session) Notify(procedure string, args ...any) error {
	_, err := s.c.call(procedure, s.withToken(args))
	return err
}

// Release unclaims the session. The token is unusable afterwards.
func (s *Session) Release() error {
	if _, err := s.c.call("unclaim", []any{s.token}); err != nil {
		return fmt.Errorf("release session: %w", err)
	}
	return nil
}

func (s *Session) withToken(args []any) []any {
	params := make([]any, 0, len(args)+1)
	params = append(params, s.token)
	return append(params, args...)
}
