package fabric

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	cmdflags "vrnode/internal/command/flags"
	"vrnode/internal/config"
	"vrnode/pkg/api"
	"vrnode/pkg/defaults"
	"vrnode/pkg/fabric"
	"vrnode/pkg/flags"
	"vrnode/pkg/log"
	"vrnode/pkg/network"
	"vrnode/pkg/ports"
	"vrnode/pkg/wire"
)

// NewCommands returns the bridge, hub, tap and raw relay commands.
func NewCommands(cfg *config.Config) []*cobra.Command {
	bridge := &cobra.Command{
		Use:   "bridge LINK...",
		Short: "Join endpoint pairs point to point, e.g. r1/1--r2/1",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			pairs := make([]fabric.Pair, 0, len(args))

			for _, a := range args {
				p, err := fabric.ParsePair(a)
				if err != nil {
					return err
				}

				pairs = append(pairs, p)
			}

			return relay(c.Context(), cfg, fabric.NewBridge(pairs, options(cfg)).Run)
		},
	}

	hub := &cobra.Command{
		Use:   "hub ENDPOINT...",
		Short: "Join endpoints into one shared segment",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			eps, err := endpoints(args)
			if err != nil {
				return err
			}

			return relay(c.Context(), cfg, fabric.NewHub(eps, options(cfg)).Run)
		},
	}

	var tapDevice, tapBridge string

	tap := &cobra.Command{
		Use:   "tap ENDPOINT",
		Short: "Attach an endpoint to a new host TAP device",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return runTap(c.Context(), cfg, tapDevice, tapBridge, args[0])
		},
	}
	tap.Flags().StringVar(&tapDevice, "device", "", "The TAP device to create (default derived from the endpoint).")
	tap.Flags().StringVar(&tapBridge, "bridge", "", "A bridge to enslave the TAP to.")

	var rawIface string

	raw := &cobra.Command{
		Use:   "raw ENDPOINT",
		Short: "Attach an endpoint to an existing host interface",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return runRaw(c.Context(), cfg, rawIface, args[0])
		},
	}
	raw.Flags().StringVar(&rawIface, "interface", "", "The host interface to bind.")
	_ = raw.MarkFlagRequired("interface")

	cmds := []*cobra.Command{bridge, hub, tap, raw}

	for _, c := range cmds {
		c.PreRunE = func(c *cobra.Command, _ []string) error {
			flags.BindCommandToViper(c)

			return nil
		}

		cmdflags.AddFabricFlagsToCommand(c, cfg)
		c.Flags().StringVar(&cfg.MetricsEndpoint, "metrics-endpoint", defaults.MetricsEndpoint, "The endpoint for the metrics server. Empty disables it.")
	}

	return cmds
}

func endpoints(args []string) ([]wire.Endpoint, error) {
	eps := make([]wire.Endpoint, 0, len(args))

	for _, a := range args {
		ep, err := wire.ParseEndpoint(a)
		if err != nil {
			return nil, err
		}

		eps = append(eps, ep)
	}

	return eps, nil
}

func options(cfg *config.Config) fabric.Options {
	return fabric.Options{
		Resolver:     net.DefaultResolver,
		Metrics:      fabric.NewMetrics(prometheus.DefaultRegisterer),
		ReconnectMin: cfg.Fabric.ReconnectMin,
		ReconnectMax: cfg.Fabric.ReconnectMax,
	}
}

// relay runs fn until the process is told to stop.
func relay(ctx context.Context, cfg *config.Config, fn func(context.Context) error) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsEndpoint != "" {
		logger := log.GetLogger(ctx)

		go func() {
			if err := api.ServeMetrics(ctx, cfg.MetricsEndpoint, prometheus.DefaultGatherer); err != nil {
				logger.Errorf("metrics server: %v", err)
			}
		}()
	}

	return fn(ctx)
}

func runTap(ctx context.Context, cfg *config.Config, device, bridge, endpoint string) error {
	ep, err := wire.ParseEndpoint(endpoint)
	if err != nil {
		return err
	}

	if device == "" {
		if device, err = network.TapName(ep.Host, fmt.Sprintf("p%d", ep.NIC)); err != nil {
			return err
		}
	}

	svc := network.New(&network.Config{})

	if bridge != "" {
		if err := svc.BridgeEnsure(ctx, bridge); err != nil {
			return err
		}
	}

	if _, err := svc.IfaceCreate(ctx, ports.IfaceCreateInput{DeviceName: device, BridgeName: bridge}); err != nil {
		return err
	}

	defer func() {
		if err := svc.IfaceDelete(context.WithoutCancel(ctx), ports.DeleteIfaceInput{DeviceName: device}); err != nil {
			log.GetLogger(ctx).Warnf("removing %s: %v", device, err)
		}
	}()

	dev, err := svc.OpenTAP(ctx, device)
	if err != nil {
		return err
	}

	return relay(ctx, cfg, fabric.NewAdapter(device, dev, ep, options(cfg)).Run)
}

func runRaw(ctx context.Context, cfg *config.Config, iface, endpoint string) error {
	ep, err := wire.ParseEndpoint(endpoint)
	if err != nil {
		return err
	}

	svc := network.New(&network.Config{})

	dev, err := svc.OpenRaw(ctx, iface)
	if err != nil {
		return err
	}

	return relay(ctx, cfg, fabric.NewAdapter(iface, dev, ep, options(cfg)).Run)
}
