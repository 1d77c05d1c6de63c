package network

import (
	"fmt"

	"vrnode/pkg/ports"
)

type natRule struct {
	chain string
	spec  []string
}

// natRules lists the nat table rules redirecting input.ListenPort to the
// loopback target, both for traffic arriving from outside and for
// connections made inside the container.
func natRules(input ports.NATInput, device string) []natRule {
	target := fmt.Sprintf("127.0.0.1:%d", input.TargetPort)
	port := fmt.Sprintf("%d", input.ListenPort)

	prerouting := []string{}
	if device != "" {
		prerouting = append(prerouting, "-i", device)
	}

	prerouting = append(prerouting, "-p", input.Proto, "--dport", port, "-j", "DNAT", "--to-destination", target)

	return []natRule{
		{chain: "PREROUTING", spec: prerouting},
		{chain: "OUTPUT", spec: []string{
			"-p", input.Proto, "--dport", port, "!", "-d", "127.0.0.0/8",
			"-m", "addrtype", "--dst-type", "LOCAL",
			"-j", "DNAT", "--to-destination", target,
		}},
	}
}
