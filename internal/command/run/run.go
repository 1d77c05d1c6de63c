package run

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	cmdflags "vrnode/internal/command/flags"
	"vrnode/internal/config"
	"vrnode/internal/inject"
	"vrnode/pkg/api"
	"vrnode/pkg/controller"
	"vrnode/pkg/defaults"
	"vrnode/pkg/flags"
	"vrnode/pkg/forward"
	"vrnode/pkg/health"
	"vrnode/pkg/log"
	"vrnode/pkg/models"
	"vrnode/pkg/ports"
	"vrnode/pkg/profile"
)

func NewCommand(cfg *config.Config) (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Boot the device and keep it running",
		PreRunE: func(c *cobra.Command, _ []string) error {
			flags.BindCommandToViper(c)

			return cmdflags.ValidateMgmtForward(cfg.MgmtForward)
		},
		RunE: func(c *cobra.Command, _ []string) error {
			return run(c.Context(), c, cfg)
		},
	}

	cmdflags.AddDeviceFlagsToCommand(cmd, cfg)
	cmdflags.AddSDWANFlagsToCommand(cmd, cfg)
	cmdflags.AddRuntimeFlagsToCommand(cmd, cfg)
	cmdflags.AddObservabilityFlagsToCommand(cmd, cfg)

	return cmd, nil
}

func run(ctx context.Context, cmd *cobra.Command, cfg *config.Config) error {
	logger := log.GetLogger(ctx)
	fs := afero.NewOsFs()

	p, err := LoadProfile(cmd, cfg, fs)
	if err != nil {
		return err
	}

	logger = logger.WithField("family", p.Family)
	logger.Infof("Starting %s %s as %s", p.Description, p.Version, p.Hostname)

	ctx, stop := signal.NotifyContext(log.WithLogger(ctx, logger), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	publisher := health.NewPublisher(fs, cfg.HealthFile)
	collection := inject.InitializePorts(cfg, fs, publisher)

	kvm, _ := afero.Exists(fs, defaults.KVMDevice)
	if !kvm {
		logger.Warn("KVM is not available, the device will be slow")
	}

	builder := inject.InitializeBuilder(cfg, collection)

	ctrl, err := controller.New(controller.Config{
		StateRoot:  cfg.StateRootDir,
		QemuBin:    cfg.QemuBin,
		KVM:        kvm,
		Registerer: prometheus.DefaultRegisterer,
	}, p, collection, builder)
	if err != nil {
		return err
	}

	wg := &sync.WaitGroup{}

	if cfg.StatusEndpoint != "" {
		status := api.NewStatusServer(publisher)

		wg.Add(1)

		go func() {
			defer wg.Done()

			if err := api.ServeStatus(ctx, cfg.StatusEndpoint, status); err != nil {
				logger.Errorf("status server: %v", err)
			}
		}()
	}

	if cfg.MetricsEndpoint != "" {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if err := api.ServeMetrics(ctx, cfg.MetricsEndpoint, prometheus.DefaultGatherer); err != nil {
				logger.Errorf("metrics server: %v", err)
			}
		}()
	}

	if !p.Install {
		if err := startForwarding(ctx, wg, cfg, p, collection.NetworkService); err != nil {
			cancel()
			wg.Wait()

			return err
		}
	}

	err = ctrl.Run(ctx)

	cancel()
	wg.Wait()

	if err != nil {
		return fmt.Errorf("running %s: %w", p.Family, err)
	}

	logger.Info("Finished all tasks, exiting")

	return nil
}

// LoadProfile resolves the family and applies the override file, then the
// flags, then the startup configuration.
func LoadProfile(cmd *cobra.Command, cfg *config.Config, fs afero.Fs) (*models.Profile, error) {
	p, err := profile.Default().Resolve(fs, cfg.Family, cfg.ImageDir)
	if err != nil {
		return nil, err
	}

	if cfg.OverridesFile != "" {
		fileOpts, err := profile.LoadOptions(fs, cfg.OverridesFile)
		if err != nil {
			return nil, err
		}

		if p, err = profile.ApplyOverrides(p, fileOpts); err != nil {
			return nil, err
		}
	}

	flagOpts, err := cmdflags.Options(cmd, cfg)
	if err != nil {
		return nil, err
	}

	if p, err = profile.ApplyOverrides(p, flagOpts); err != nil {
		return nil, err
	}

	return profile.WithStartupConfig(fs, p)
}

// startForwarding re-exposes the management forwards, either through the
// kernel or through a child relay process.
func startForwarding(ctx context.Context, wg *sync.WaitGroup, cfg *config.Config, p *models.Profile, ns ports.NetworkService) error {
	logger := log.GetLogger(ctx)
	rules := forward.RulesFor(p)

	if cfg.MgmtForward == cmdflags.MgmtForwardNAT {
		logger.Info("Forwarding management ports with nat")

		return forward.InstallNAT(ctx, ns, rules)
	}

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating own binary: %w", err)
	}

	args := []string{"forward"}
	for _, r := range rules {
		args = append(args, "--rule", r.String())
	}

	child := exec.CommandContext(ctx, self, args...)
	child.Stdout = os.Stdout
	child.Stderr = os.Stderr

	if err := child.Start(); err != nil {
		return fmt.Errorf("starting management forwarder: %w", err)
	}

	logger.Infof("Forwarding management ports with pid %d", child.Process.Pid)

	wg.Add(1)

	go func() {
		defer wg.Done()

		if err := child.Wait(); err != nil && ctx.Err() == nil {
			logger.Errorf("management forwarder exited: %v", err)
		}
	}()

	return nil
}
