// Package discovery announces and finds control services on the local
// network over mDNS/DNS-SD.
package discovery

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the DNS-SD service type control services announce
// themselves under.
const ServiceType = "_radioctl-rpc._tcp"

const domain = "local."

// Service is one discovered control service.
type Service struct {
	Instance  string // advertised name, e.g. "radiosim on bench-3"
	Hostname  string // DNS hostname, e.g. "bench-3.local."
	Addresses []net.IP
	Port      int
	TXT       []string
}

// Addr returns a dialable host:port for the service, preferring an IPv4
// address and falling back to the hostname.
func (s Service) Addr() string {
	for _, ip := range s.Addresses {
		if v4 := ip.To4(); v4 != nil {
			return net.JoinHostPort(v4.String(), fmt.Sprint(s.Port))
		}
	}
	if len(s.Addresses) > 0 {
		return net.JoinHostPort(s.Addresses[0].String(), fmt.Sprint(s.Port))
	}
	host := strings.TrimSuffix(s.Hostname, ".")
	return net.JoinHostPort(host, fmt.Sprint(s.Port))
}

// Browse blocks for up to timeout collecting service announcements, and
// returns the deduplicated services sorted by instance name.
func Browse(ctx context.Context, timeout time.Duration) ([]Service, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(map[string]Service)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case e, ok := <-entries:
				if !ok {
					return
				}
				if e == nil {
					continue
				}
				addrs := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
				addrs = append(addrs, e.AddrIPv4...)
				addrs = append(addrs, e.AddrIPv6...)
				key := fmt.Sprintf("%s|%d", e.HostName, e.Port)
				found[key] = Service{
					Instance:  cleanInstance(e.Instance),
					Hostname:  e.HostName,
					Addresses: addrs,
					Port:      e.Port,
					TXT:       append([]string{}, e.Text...),
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, domain, entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}
	<-done

	out := make([]Service, 0, len(found))
	for _, s := range found {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Instance != out[j].Instance {
			return out[i].Instance < out[j].Instance
		}
		return out[i].Port < out[j].Port
	})
	return out, nil
}

// Register announces a control service until the returned stop func is
// called.
func Register(instance string, port int, txt []string) (func(), error) {
	srv, err := zeroconf.Register(instance, ServiceType, domain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	return srv.Shutdown, nil
}

// cleanInstance removes zeroconf escape sequences: "\ " => " ".
func cleanInstance(s string) string {
	return strings.ReplaceAll(s, `\ `, " ")
}
