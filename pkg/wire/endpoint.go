package wire

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"vrnode/pkg/defaults"
	"vrnode/pkg/errors"
)

// Endpoint names one emulator NIC as host/nic.
type Endpoint struct {
	Host string
	NIC  int
}

// ParseEndpoint parses "host/3" into an Endpoint.
func ParseEndpoint(s string) (Endpoint, error) {
	host, nic, ok := strings.Cut(s, "/")
	if !ok || host == "" {
		return Endpoint{}, errors.UserInputError{Field: "endpoint", Reason: fmt.Sprintf("%q is not host/nic", s)}
	}

	n, err := strconv.Atoi(nic)
	if err != nil || n < 1 {
		return Endpoint{}, errors.UserInputError{Field: "endpoint", Reason: fmt.Sprintf("%q has no valid nic index", s)}
	}

	return Endpoint{Host: host, NIC: n}, nil
}

// Port is the TCP port the emulator listens on for this NIC.
func (e Endpoint) Port() int {
	return PortForNIC(e.NIC)
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s/%d", e.Host, e.NIC)
}

// PortForNIC maps a 1-based NIC index to its wire port.
func PortForNIC(nic int) int {
	return defaults.WirePortBase + nic
}

// Resolver looks up host addresses; *net.Resolver satisfies it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Resolve maps the endpoint to a dialable address. Lookup failures are
// reported as ErrNoPeer so callers retry instead of giving up.
func (e Endpoint) Resolve(ctx context.Context, r Resolver) (string, error) {
	if r == nil {
		r = net.DefaultResolver
	}

	addrs, err := r.LookupHost(ctx, e.Host)
	if err != nil || len(addrs) == 0 {
		return "", fmt.Errorf("resolving %s: %w", e, errors.ErrNoPeer)
	}

	return net.JoinHostPort(addrs[0], strconv.Itoa(e.Port())), nil
}
