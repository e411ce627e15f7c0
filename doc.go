// Package radioctl is the host-side control plane for tunable RF
// daughterboards. The dboard package translates logical tuning operations
// into JSON-RPC calls against the remote service that owns the hardware,
// hwrpc carries those calls over TCP, proptree exposes the parameters to
// generic host tooling, and cmd/radioctl and cmd/radiosim are the operator
// console and the simulated service.
package radioctl // import "github.com/sdrgrid/radioctl"

import "runtime/debug"

// Version reports the module version recorded in the running binary.
// Empty in binaries built without module support.
func Version() string {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	return versionOf(b)
}

func versionOf(b *debug.BuildInfo) string {
	if b == nil {
		return ""
	}
	const root = "github.com/sdrgrid/radioctl"
	if b.Main.Path == root && b.Main.Version != "" {
		return b.Main.Version
	}
	for _, m := range b.Deps {
		if m.Path != root {
			continue
		}
		if m.Replace != nil && m.Replace.Version != "" {
			return m.Replace.Version
		}
		return m.Version
	}
	return ""
}
