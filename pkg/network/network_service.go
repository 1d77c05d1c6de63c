package network

import (
	"context"
	ierror "errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/coreos/go-iptables/iptables"
	sysctl "github.com/lorenzosaino/go-sysctl"
	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"

	"vrnode/pkg/log"
	"vrnode/pkg/ports"
)

type Config struct {
	// ExternalDevice is the container interface NAT redirects apply to;
	// empty applies them to every interface.
	ExternalDevice string
}

func New(cfg *Config) ports.NetworkService {
	return &networkService{
		externalDevice: cfg.ExternalDevice,
	}
}

type networkService struct {
	externalDevice string
}

// IfaceCreate will create a TAP interface and enslave it to the bridge.
func (n *networkService) IfaceCreate(ctx context.Context, input ports.IfaceCreateInput) (*ports.IfaceDetails, error) {
	logger := log.GetLogger(ctx).WithFields(logrus.Fields{
		"service": "netlink_network",
		"iface":   input.DeviceName,
	})
	logger.Debugf("creating tap with MAC %q on bridge %q", input.MAC, input.BridgeName)

	la := netlink.NewLinkAttrs()
	la.Name = input.DeviceName

	if input.MAC != "" {
		mac, err := net.ParseMAC(input.MAC)
		if err != nil {
			return nil, fmt.Errorf("parsing mac %s: %w", input.MAC, err)
		}

		la.HardwareAddr = mac
	}

	link := &netlink.Tuntap{
		LinkAttrs: la,
		Mode:      netlink.TUNTAP_MODE_TAP,
		Flags:     netlink.TUNTAP_NO_PI,
	}

	if err := netlink.LinkAdd(link); err != nil {
		return nil, fmt.Errorf("creating interface %s using netlink: %w", link.Attrs().Name, err)
	}

	tap, err := netlink.LinkByName(link.Attrs().Name)
	if err != nil {
		return nil, fmt.Errorf("getting interface %s using netlink: %w", link.Attrs().Name, err)
	}

	if input.BridgeName != "" {
		bridge, err := netlink.LinkByName(input.BridgeName)
		if err != nil {
			_ = netlink.LinkDel(tap)

			return nil, fmt.Errorf("getting bridge %s: %w", input.BridgeName, err)
		}

		if err := netlink.LinkSetMaster(tap, bridge); err != nil {
			_ = netlink.LinkDel(tap)

			return nil, fmt.Errorf("attaching %s to bridge %s: %w", input.DeviceName, input.BridgeName, err)
		}
	}

	if err := netlink.LinkSetUp(tap); err != nil {
		return nil, fmt.Errorf("enabling device %s: %w", tap.Attrs().Name, err)
	}

	// the tap only carries guest frames
	if err := sysctl.Set(fmt.Sprintf("net.ipv6.conf.%s.disable_ipv6", tap.Attrs().Name), "1"); err != nil {
		logger.Debugf("disabling ipv6: %v", err)
	}

	logger.Debugf("created interface with mac %s", tap.Attrs().HardwareAddr.String())

	return &ports.IfaceDetails{
		DeviceName: input.DeviceName,
		MAC:        strings.ToUpper(tap.Attrs().HardwareAddr.String()),
		Index:      tap.Attrs().Index,
	}, nil
}

// IfaceDelete is used to delete a network interface.
func (n *networkService) IfaceDelete(ctx context.Context, input ports.DeleteIfaceInput) error {
	logger := log.GetLogger(ctx).WithFields(logrus.Fields{
		"service": "netlink_network",
		"iface":   input.DeviceName,
	})
	logger.Debug("deleting network interface")

	found, link, err := n.getIface(input.DeviceName)
	if err != nil {
		return err
	}

	if !found {
		logger.Debug("network interface doesn't exist, no action")

		return nil
	}

	if err = netlink.LinkDel(link); err != nil {
		return fmt.Errorf("deleting interface %s: %w", link.Attrs().Name, err)
	}

	return nil
}

func (n *networkService) IfaceExists(ctx context.Context, name string) (bool, error) {
	log.GetLogger(ctx).WithFields(logrus.Fields{
		"service": "netlink_network",
		"iface":   name,
	}).Debug("checking if network interface exists")

	found, _, err := n.getIface(name)
	if err != nil {
		return false, fmt.Errorf("getting interface %s: %w", name, err)
	}

	return found, nil
}

// BridgeEnsure creates the bridge if it doesn't exist and brings it up.
func (n *networkService) BridgeEnsure(ctx context.Context, name string) error {
	logger := log.GetLogger(ctx).WithFields(logrus.Fields{
		"service": "netlink_network",
		"bridge":  name,
	})

	found, link, err := n.getIface(name)
	if err != nil {
		return err
	}

	if !found {
		logger.Debug("creating bridge")

		la := netlink.NewLinkAttrs()
		la.Name = name
		link = &netlink.Bridge{LinkAttrs: la}

		if err := netlink.LinkAdd(link); err != nil {
			return fmt.Errorf("creating bridge %s: %w", name, err)
		}
	} else if _, ok := link.(*netlink.Bridge); !ok {
		return fmt.Errorf("device %s exists but is not a bridge", name)
	}

	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("bringing bridge %s up: %w", name, err)
	}

	// the bridge only switches guest frames
	if err := sysctl.Set(fmt.Sprintf("net.ipv6.conf.%s.disable_ipv6", name), "1"); err != nil {
		logger.Debugf("disabling ipv6: %v", err)
	}

	return nil
}

// OpenTAP attaches to an existing TAP device.
func (n *networkService) OpenTAP(ctx context.Context, name string) (io.ReadWriteCloser, error) {
	log.GetLogger(ctx).WithField("tap", name).Debug("opening tap")

	return openTAP(name)
}

// OpenRaw binds a packet socket to a host interface.
func (n *networkService) OpenRaw(ctx context.Context, name string) (io.ReadWriteCloser, error) {
	log.GetLogger(ctx).WithField("iface", name).Debug("opening raw socket")

	found, link, err := n.getIface(name)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, fmt.Errorf("interface %s not found", name)
	}

	if err := netlink.LinkSetUp(link); err != nil {
		return nil, fmt.Errorf("bringing %s up: %w", name, err)
	}

	return openRaw(link.Attrs().Index)
}

// ForwardNAT redirects a container port to a loopback port.
func (n *networkService) ForwardNAT(ctx context.Context, input ports.NATInput) error {
	logger := log.GetLogger(ctx).WithFields(logrus.Fields{
		"service": "iptables_network",
		"proto":   input.Proto,
		"port":    input.ListenPort,
	})

	// DNAT to 127.0.0.1 is dropped as martian otherwise
	if err := sysctl.Set("net.ipv4.conf.all.route_localnet", "1"); err != nil {
		return fmt.Errorf("enabling route_localnet: %w", err)
	}

	ipt, err := iptables.New()
	if err != nil {
		return fmt.Errorf("creating iptables instance: %w", err)
	}

	for _, rule := range natRules(input, n.externalDevice) {
		if err := ipt.AppendUnique("nat", rule.chain, rule.spec...); err != nil {
			return fmt.Errorf("adding %s rule: %w", rule.chain, err)
		}
	}

	logger.Infof("redirecting to 127.0.0.1:%d", input.TargetPort)

	return nil
}

func (n *networkService) getIface(name string) (bool, netlink.Link, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		var notFound netlink.LinkNotFoundError
		if ierror.As(err, &notFound) {
			return false, nil, nil
		}

		return false, nil, fmt.Errorf("failed to lookup network interface %s: %w", name, err)
	}

	return true, link, nil
}
