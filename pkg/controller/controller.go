// Package controller drives the emulator instances of one device from
// spawn to ready, restarts them on failure, and publishes the health
// record.
package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"vrnode/pkg/artifact"
	"vrnode/pkg/bringup"
	"vrnode/pkg/console"
	"vrnode/pkg/defaults"
	vrerrors "vrnode/pkg/errors"
	"vrnode/pkg/hypervisor/qemu"
	"vrnode/pkg/log"
	"vrnode/pkg/models"
	"vrnode/pkg/network"
	"vrnode/pkg/ports"
)

// Config tunes a Controller.
type Config struct {
	StateRoot string
	QemuBin   string
	KVM       bool
	// Tick is the period of the supervision loop.
	Tick time.Duration
	// InstallGrace bounds the clean power-off at the end of an install.
	InstallGrace time.Duration
	// MonitorGrace bounds the monitor attach during an install.
	MonitorGrace time.Duration
	Registerer   prometheus.Registerer
}

// Controller owns every instance of one device.
type Controller struct {
	cfg       Config
	profile   *models.Profile
	ports     *ports.Collection
	artifacts *artifact.Builder
	metrics   *metrics
	instances []*instance

	everReady   bool
	lastFailure string
	finished    chan error
	logger      *logrus.Entry
}

// New lays out the instances of p. Nothing is created on the host until Run.
func New(cfg Config, p *models.Profile, pc *ports.Collection, builder *artifact.Builder) (*Controller, error) {
	if len(p.Instances) == 0 {
		return nil, vrerrors.ProfileInvalidError{Family: p.Family, Reason: "no instances"}
	}

	if cfg.StateRoot == "" {
		cfg.StateRoot = defaults.StateRootDir
	}

	if cfg.QemuBin == "" {
		cfg.QemuBin = defaults.QemuBin
	}

	if cfg.Tick <= 0 {
		cfg.Tick = defaults.ControllerTick
	}

	if cfg.InstallGrace <= 0 {
		cfg.InstallGrace = 5 * time.Minute
	}

	if cfg.MonitorGrace <= 0 {
		cfg.MonitorGrace = defaults.ConsoleAttachGrace
	}

	if pc.Clock == nil {
		pc.Clock = time.Now
	}

	c := &Controller{
		cfg:       cfg,
		profile:   p,
		ports:     pc,
		artifacts: builder,
		metrics:   newMetrics(cfg.Registerer),
		finished:  make(chan error, 1),
	}

	primary := p.Primary()
	nic := 1

	for idx := range p.Instances {
		spec := &p.Instances[idx]

		inst := &instance{
			spec:     spec,
			index:    idx,
			firstNIC: nic,
			primary:  spec == primary,
			state:    models.StateCreated,
		}

		if spec.Traffic {
			nic += spec.NICs
		}

		c.instances = append(c.instances, inst)
	}

	return c, nil
}

// Run prepares the host, starts every instance and supervises them until
// ctx is done. Startup problems are returned; everything after that is
// recovered by restarting the failed instance. An install run returns nil
// once the device powered itself off.
func (c *Controller) Run(ctx context.Context) error {
	c.logger = log.GetLogger(ctx).WithFields(logrus.Fields{
		"component": "controller",
		"family":    c.profile.Family,
	})

	defer c.teardown(context.WithoutCancel(ctx))

	if err := c.prepare(ctx); err != nil {
		return err
	}

	c.publish(models.HealthStarting)

	for _, inst := range c.instances {
		c.start(ctx, inst)
	}

	ticker := time.NewTicker(c.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("stopping device")
			c.stopAll(context.WithoutCancel(ctx))

			return nil
		case err := <-c.finished:
			c.stopAll(context.WithoutCancel(ctx))

			return err
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

// prepare builds the preboot artifacts, the internal links and the command
// line of every instance.
func (c *Controller) prepare(ctx context.Context) error {
	for _, inst := range c.instances {
		built, err := c.artifacts.Build(ctx, c.profile, inst.spec, filepath.Join(c.cfg.StateRoot, inst.name()))
		if err != nil {
			return err
		}

		tap := ""

		if inst.spec.Internal {
			if c.profile.InternalBridge == "" {
				return vrerrors.ProfileInvalidError{Family: c.profile.Family, Reason: "internal NIC without a bridge"}
			}

			tap, err = network.TapName(inst.name(), "int")
			if err != nil {
				return vrerrors.ProfileInvalidError{Family: c.profile.Family, Reason: err.Error()}
			}

			inst.link = network.NewInternalLink(c.profile.InternalBridge, tap, qemu.MAC(c.profile.Hostname, inst.name(), -2), c.ports.NetworkService)

			if err := inst.link.Create(ctx); err != nil {
				return fmt.Errorf("instance %s: %w", inst.name(), err)
			}
		}

		args, err := qemu.BuildArgs(qemu.ArgsInput{
			Profile:     c.profile,
			Instance:    inst.spec,
			Index:       inst.index,
			FirstNIC:    inst.firstNIC,
			Artifacts:   built,
			KVM:         c.cfg.KVM,
			InternalTap: tap,
		})
		if err != nil {
			return vrerrors.ProfileInvalidError{Family: c.profile.Family, Reason: err.Error()}
		}

		inst.argv = append([]string{c.cfg.QemuBin}, args...)
	}

	return nil
}

func (c *Controller) teardown(ctx context.Context) {
	for _, inst := range c.instances {
		if inst.link == nil {
			continue
		}

		if err := inst.link.Delete(ctx); err != nil {
			c.logger.Warnf("removing %s of %s: %v", inst.link.Tap(), inst.name(), err)
		}
	}
}

func (c *Controller) setState(inst *instance, s models.InstanceState) {
	if inst.setState(s) {
		c.logger.WithField("instance", inst.name()).Debugf("state %s", s)
		c.metrics.setState(inst.name(), s)
	}
}

// start spawns the emulator and, for the primary instance, launches the
// console bring-up.
func (c *Controller) start(ctx context.Context, inst *instance) {
	logger := c.logger.WithField("instance", inst.name())

	c.setState(inst, models.StateStarting)

	if d := inst.spec.BootDelay; d > 0 {
		logger.Debugf("waiting %s before boot", d)

		select {
		case <-ctx.Done():
			return
		case <-time.After(d):
		}
	}

	emu, err := c.ports.Emulators.Spawn(ctx, inst.name(), inst.argv)
	if err != nil {
		c.fail(inst, err)

		return
	}

	logger.Infof("emulator running with pid %d", emu.Pid())

	bctx, cancel := context.WithCancel(ctx)
	run := &attempt{
		emu:     emu,
		started: c.ports.Clock(),
		cancel:  cancel,
		results: make(chan result, 1),
		done:    make(chan struct{}),
	}
	inst.run = run

	c.setState(inst, models.StateEmulatorUp)

	if !inst.primary {
		cancel()
		close(run.done)

		return
	}

	go func() {
		defer close(run.done)

		run.results <- c.bringUp(bctx, inst)
	}()
}

// bringUp attaches to the console and runs the script to its terminal step.
func (c *Controller) bringUp(ctx context.Context, inst *instance) result {
	logger := c.logger.WithField("instance", inst.name())

	conn, err := c.ports.Emulators.AttachConsole(ctx, qemu.ConsolePort(inst.index))
	if err != nil {
		return result{err: err}
	}

	c.setState(inst, models.StateConsoleAttached)

	var transcript io.Writer

	if f, err := c.ports.Emulators.OpenTranscript(inst.name()); err != nil {
		logger.Warnf("console transcript unavailable: %v", err)
	} else {
		defer f.Close()
		transcript = f
	}

	drv, err := console.New(ctx, conn, console.Config{
		SidePrompts:    c.profile.SidePrompts,
		MaxSidePrompts: c.profile.MaxSidePrompts,
		CharDelay:      c.profile.CharDelay,
		Transcript:     transcript,
	})
	if err != nil {
		conn.Close()

		return result{err: vrerrors.ProfileInvalidError{Family: c.profile.Family, Reason: err.Error()}}
	}
	defer drv.Close()

	m, err := bringup.New(ctx, c.profile, drv, bringup.Config{
		Install: c.profile.Install,
		OnState: func(s models.InstanceState) { c.setState(inst, s) },
	})
	if err != nil {
		return result{err: err}
	}

	outcome, err := m.Run(ctx)

	return result{outcome: outcome, spins: m.Spins(), err: err}
}

// tick is one supervision pass: reap, collect bring-up results, restart
// what failed, publish health.
func (c *Controller) tick(ctx context.Context) {
	for _, inst := range c.instances {
		if ctx.Err() != nil {
			return
		}

		c.supervise(ctx, inst)
	}

	c.publish(c.health())
}

func (c *Controller) supervise(ctx context.Context, inst *instance) {
	logger := c.logger.WithField("instance", inst.name())

	switch inst.getState() {
	case models.StateStopping, models.StateStopped:
		return
	case models.StateFailed:
		logger.Info("restarting emulator")
		c.start(ctx, inst)

		return
	}

	run := inst.run
	if run == nil {
		return
	}

	select {
	case r := <-run.results:
		c.handle(ctx, inst, r)

		return
	default:
	}

	if !run.emu.IsAlive() {
		c.fail(inst, vrerrors.ErrChildExitedUnexpected)

		return
	}

	// the forwarding plane is brought up over the internal bridge
	if !inst.primary && inst.getState() == models.StateEmulatorUp {
		c.markReady(inst)
	}
}

func (c *Controller) handle(ctx context.Context, inst *instance, r result) {
	logger := c.logger.WithField("instance", inst.name())

	c.metrics.spins.WithLabelValues(inst.name()).Set(float64(r.spins))

	switch {
	case r.err != nil && ctx.Err() != nil:
		return
	case vrerrors.IsFatal(r.err):
		logger.Errorf("bring-up cannot proceed: %v", r.err)
		c.finish(r.err)
	case r.err != nil:
		c.fail(inst, r.err)
	case r.outcome == bringup.OutcomeInstalled:
		c.finish(c.powerOff(ctx, inst))
	default:
		c.markReady(inst)
	}
}

func (c *Controller) markReady(inst *instance) {
	inst.readyIn = c.ports.Clock().Sub(inst.run.started)

	c.setState(inst, models.StateReady)
	c.metrics.bringUp.WithLabelValues(inst.name()).Set(inst.readyIn.Seconds())
	c.logger.WithField("instance", inst.name()).Infof("ready after %s", inst.readyIn.Round(time.Second))
}

func (c *Controller) finish(err error) {
	select {
	case c.finished <- err:
	default:
	}
}

// fail records the cause, stops what is left of the attempt and leaves the
// instance for the next tick to restart.
func (c *Controller) fail(inst *instance, cause error) {
	logger := c.logger.WithField("instance", inst.name())
	reason := vrerrors.Reason(cause)

	logger.Warnf("instance failed: %v", cause)

	c.lastFailure = reason
	c.metrics.restarts.WithLabelValues(inst.name(), reason).Inc()
	c.setState(inst, models.StateFailed)

	if run := inst.run; run != nil {
		c.terminate(context.Background(), inst, run)
		inst.run = nil
	}
}

func (c *Controller) terminate(ctx context.Context, inst *instance, run *attempt) {
	run.cancel()

	if err := run.emu.Terminate(ctx, c.grace()); err != nil {
		c.logger.WithField("instance", inst.name()).Warnf("terminating emulator: %v", err)
	}

	// the console closes with the emulator, which ends the bring-up
	<-run.done
}

func (c *Controller) grace() time.Duration {
	if c.profile.StopGrace > 0 {
		return c.profile.StopGrace
	}

	return defaults.StopGrace
}

func (c *Controller) stopAll(ctx context.Context) {
	for _, inst := range c.instances {
		c.setState(inst, models.StateStopping)

		if run := inst.run; run != nil {
			c.terminate(ctx, inst, run)
			inst.run = nil
		}

		c.setState(inst, models.StateStopped)
	}
}

// powerOff asks the installed device to shut down through the monitor and
// waits for the emulator to exit, so the image is left consistent.
func (c *Controller) powerOff(ctx context.Context, inst *instance) error {
	logger := c.logger.WithField("instance", inst.name())
	run := inst.run

	mctx, cancel := context.WithTimeout(ctx, c.cfg.MonitorGrace)
	defer cancel()

	conn, err := c.ports.Emulators.AttachMonitor(mctx, qemu.MonitorPort(inst.index))
	if err != nil {
		return fmt.Errorf("powering off after install: %w", err)
	}

	mon, err := qemu.NewMonitor(mctx, conn)
	if err != nil {
		conn.Close()

		return fmt.Errorf("powering off after install: %w", err)
	}
	defer mon.Close()

	if err := mon.Powerdown(mctx); err != nil {
		return fmt.Errorf("powering off after install: %w", err)
	}

	logger.Info("install finished, waiting for power off")

	deadline := time.NewTimer(c.cfg.InstallGrace)
	defer deadline.Stop()

	poll := time.NewTicker(100 * time.Millisecond)
	defer poll.Stop()

	for run.emu.IsAlive() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return errors.New("device did not power off after install")
		case <-poll.C:
		}
	}

	logger.Info("device powered off")

	return nil
}

// health is the record for the current instance states.
func (c *Controller) health() models.HealthRecord {
	for _, inst := range c.instances {
		if inst.getState() != models.StateReady {
			if !c.everReady {
				return models.HealthStarting
			}

			return models.HealthRestarting(c.lastFailure)
		}
	}

	c.everReady = true

	return models.HealthRunning
}

func (c *Controller) publish(rec models.HealthRecord) {
	c.metrics.health.Set(float64(rec.ExitCode))

	if c.ports.Health == nil {
		return
	}

	if err := c.ports.Health.Publish(rec); err != nil {
		c.logger.Warnf("publishing health: %v", err)
	}
}
