// Package forward re-exposes the emulator's loopback management forwards on
// the container's own interfaces.
package forward

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"vrnode/pkg/errors"
	"vrnode/pkg/log"
	"vrnode/pkg/models"
	"vrnode/pkg/ports"
)

const (
	ProtoTCP = "tcp"
	ProtoUDP = "udp"

	// TargetHost is where the emulator's user-mode network listens.
	TargetHost = "127.0.0.1"
)

// Rule relays one container port to one loopback port.
type Rule struct {
	Proto      string
	ListenPort int
	TargetPort int
}

func (r Rule) String() string {
	return fmt.Sprintf("%s:%d:%d", r.Proto, r.ListenPort, r.TargetPort)
}

func (r Rule) target() string {
	return net.JoinHostPort(TargetHost, strconv.Itoa(r.TargetPort))
}

// ParseRule parses "tcp:22:2022".
func ParseRule(s string) (Rule, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return Rule{}, errors.UserInputError{Field: "forward", Reason: fmt.Sprintf("%q is not proto:listen:target", s)}
	}

	proto := strings.ToLower(parts[0])
	if proto != ProtoTCP && proto != ProtoUDP {
		return Rule{}, errors.UserInputError{Field: "forward", Reason: fmt.Sprintf("unknown protocol %q", parts[0])}
	}

	listen, err := port(parts[1])
	if err != nil {
		return Rule{}, err
	}

	target, err := port(parts[2])
	if err != nil {
		return Rule{}, err
	}

	return Rule{Proto: proto, ListenPort: listen, TargetPort: target}, nil
}

func port(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 65535 {
		return 0, errors.UserInputError{Field: "forward", Reason: fmt.Sprintf("%q is not a port", s)}
	}

	return n, nil
}

// RulesFor maps the profile's management forwards to relay rules: the guest
// port is exposed on the container and relayed to the loopback host port.
func RulesFor(p *models.Profile) []Rule {
	rules := make([]Rule, 0, len(p.Forwards))
	for _, f := range p.Forwards {
		rules = append(rules, Rule{Proto: strings.ToLower(f.Proto), ListenPort: f.GuestPort, TargetPort: f.HostPort})
	}

	return rules
}

// InstallNAT redirects every rule in the kernel instead of relaying it.
func InstallNAT(ctx context.Context, svc ports.NetworkService, rules []Rule) error {
	for _, r := range rules {
		if err := svc.ForwardNAT(ctx, ports.NATInput{
			Proto:      r.Proto,
			ListenPort: r.ListenPort,
			TargetPort: r.TargetPort,
		}); err != nil {
			return fmt.Errorf("installing nat for %s: %w", r, err)
		}
	}

	return nil
}

// Config tunes a Relay.
type Config struct {
	// ListenHost is the address the relay binds; empty means all interfaces.
	ListenHost string
	// UDPIdle closes a UDP client session after this long without traffic.
	UDPIdle time.Duration
}

// Relay is the userspace forwarder: an accept-and-splice listener per TCP
// rule and a per-client relay per UDP rule.
type Relay struct {
	rules  []Rule
	cfg    Config
	dialer net.Dialer
}

func NewRelay(rules []Rule, cfg Config) *Relay {
	if cfg.UDPIdle <= 0 {
		cfg.UDPIdle = time.Minute
	}

	return &Relay{rules: rules, cfg: cfg, dialer: net.Dialer{Timeout: 5 * time.Second}}
}

// Listen binds every rule and relays until ctx is done. A rule that cannot
// be bound fails the whole relay.
func (r *Relay) Listen(ctx context.Context) error {
	logger := log.GetLogger(ctx).WithField("component", "forward")

	var (
		tcp []net.Listener
		udp []net.PacketConn
		lc  net.ListenConfig
	)

	closeAll := func() {
		for _, l := range tcp {
			l.Close()
		}

		for _, c := range udp {
			c.Close()
		}
	}

	for _, rule := range r.rules {
		addr := net.JoinHostPort(r.cfg.ListenHost, strconv.Itoa(rule.ListenPort))

		switch rule.Proto {
		case ProtoTCP:
			l, err := lc.Listen(ctx, "tcp", addr)
			if err != nil {
				closeAll()

				return fmt.Errorf("listening for %s: %w", rule, err)
			}

			tcp = append(tcp, l)
		case ProtoUDP:
			c, err := lc.ListenPacket(ctx, "udp", addr)
			if err != nil {
				closeAll()

				return fmt.Errorf("listening for %s: %w", rule, err)
			}

			udp = append(udp, c)
		}
	}

	var wg sync.WaitGroup

	t, u := 0, 0

	for _, rule := range r.rules {
		entry := logger.WithField("rule", rule.String())
		entry.Info("forwarding")

		wg.Add(1)

		switch rule.Proto {
		case ProtoTCP:
			l := tcp[t]
			t++

			go func() {
				defer wg.Done()
				r.acceptTCP(ctx, l, rule, entry)
			}()
		case ProtoUDP:
			c := udp[u]
			u++

			go func() {
				defer wg.Done()
				r.relayUDP(ctx, c, rule, entry)
			}()
		}
	}

	<-ctx.Done()
	closeAll()
	wg.Wait()

	return nil
}

func (r *Relay) acceptTCP(ctx context.Context, l net.Listener, rule Rule, logger *logrus.Entry) {
	for {
		client, err := l.Accept()
		if err != nil {
			if ctx.Err() == nil {
				logger.WithError(err).Error("failed to accept connection")
			}

			return
		}

		server, err := r.dialer.DialContext(ctx, "tcp", rule.target())
		if err != nil {
			logger.WithError(err).Warnf("failed to dial device for client %s", client.RemoteAddr())
			client.Close()

			continue
		}

		logger.Debugf("accepted client connection %s", client.RemoteAddr())

		go splice(client, server, logger)
	}
}
