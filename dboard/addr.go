package dboard

import "fmt"

// ChannelToken maps a logical (direction, channel) pair to the remote
// service's frontend identifier: "RX1", "RX2", "TX1", "TX2". Channels are
// zero-based in the API and one-based in the token. Pure and
// side-effect-free; the same mapping feeds RPC arguments and parameter
// tree paths.
func ChannelToken(dir Direction, ch int) (string, error) {
	if !dir.valid() {
		return "", fmt.Errorf("token for direction %d channel %d: %w", int(dir), ch, ErrInvalidDirection)
	}
	if ch < 0 || ch >= MaxChannels {
		return "", fmt.Errorf("token for %s channel %d: %w", dir, ch, ErrInvalidChannel)
	}
	return fmt.Sprintf("%s%d", dir, ch+1), nil
}
