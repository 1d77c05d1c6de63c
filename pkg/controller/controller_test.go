package controller_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vrnode/pkg/artifact"
	"vrnode/pkg/controller"
	vrerrors "vrnode/pkg/errors"
	"vrnode/pkg/godisk"
	"vrnode/pkg/health"
	"vrnode/pkg/models"
	"vrnode/pkg/ports"
)

const healthPath = "/health"

type harness struct {
	fs        afero.Fs
	emulators *fakeEmulators
	network   *fakeNetwork
	reg       *prometheus.Registry
	ctrl      *controller.Controller
	cancel    context.CancelFunc
	done      chan error
}

func testProfile() *models.Profile {
	return &models.Profile{
		Family:      "test",
		Hostname:    "r1",
		Username:    "admin",
		Password:    "secret",
		MaxSpins:    5,
		PollTimeout: 50 * time.Millisecond,
		StopGrace:   time.Second,
		Prompts:     models.Prompts{Ready: []string{"r1#"}},
		BringUp: []models.Step{
			models.Expect(50*time.Millisecond, "login:"),
			models.Send("admin"),
			models.Expect(50*time.Millisecond, "r1#"),
			models.SetReady(),
		},
		Instances: []models.InstanceSpec{{
			Name:    "vm",
			Role:    models.RoleControl,
			Image:   "/router.qcow2",
			RAMMB:   1024,
			VCPUs:   1,
			NICs:    2,
			Traffic: true,
		}},
	}
}

func newHarness(t *testing.T, p *models.Profile) *harness {
	t.Helper()

	h := &harness{
		fs:        afero.NewMemMapFs(),
		emulators: newFakeEmulators(),
		network:   &fakeNetwork{},
		reg:       prometheus.NewRegistry(),
	}

	for _, inst := range p.Instances {
		h.emulators.names = append(h.emulators.names, inst.Name)
	}

	pc := &ports.Collection{
		Emulators:      h.emulators,
		DiskService:    godisk.New(h.fs),
		NetworkService: h.network,
		Runner:         failingRunner{},
		Health:         health.NewPublisher(h.fs, healthPath),
		FileSystem:     h.fs,
	}

	builder := artifact.NewBuilder(artifact.Config{}, pc.DiskService, pc.Runner, h.fs)

	ctrl, err := controller.New(controller.Config{
		StateRoot:    "/run/vrnode",
		QemuBin:      "qemu-system-x86_64",
		Tick:         10 * time.Millisecond,
		MonitorGrace: time.Second,
		Registerer:   h.reg,
	}, p, pc, builder)
	require.NoError(t, err)

	h.ctrl = ctrl

	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan error, 1)

	go func() { h.done <- h.ctrl.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		<-h.done
	})
}

func (h *harness) stop(t *testing.T) error {
	t.Helper()

	h.cancel()

	select {
	case err := <-h.done:
		h.done <- err

		return err
	case <-time.After(5 * time.Second):
		t.Fatal("controller did not stop")
		return nil
	}
}

func (h *harness) health() string {
	data, err := afero.ReadFile(h.fs, healthPath)
	if err != nil {
		return ""
	}

	return string(data)
}

func (h *harness) eventuallyHealth(t *testing.T, want string) {
	t.Helper()

	require.Eventually(t, func() bool { return h.health() == want }, 5*time.Second, 5*time.Millisecond,
		"health stayed %q", h.health())
}

func (h *harness) counter(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := h.reg.Gather()
	require.NoError(t, err)

	total := 0.0

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}

	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metrics
				}
			}

			if m.GetCounter() != nil {
				total += m.GetCounter().GetValue()
			} else {
				total += m.GetGauge().GetValue()
			}
		}
	}

	return total
}

// login drives the device side of the test script.
func login(t *testing.T, d *device) {
	t.Helper()

	d.say(t, "\r\nrouter login: ")
	d.expectLine(t, "admin")
	d.say(t, "\r\nr1#")
}

func TestBringUpToReady(t *testing.T) {
	h := newHarness(t, testProfile())
	h.start(t)

	d := h.emulators.nextConsole(t)
	assert.Equal(t, "1 starting\n", h.health())

	login(t, d)
	h.eventuallyHealth(t, "0 running\n")

	spawns := h.emulators.spawned()
	require.Len(t, spawns, 1)
	assert.Equal(t, "vm", spawns[0].name)
	assert.Equal(t, "qemu-system-x86_64", spawns[0].argv[0])
	assert.Contains(t, spawns[0].argv, "r1-vm")

	assert.Equal(t, float64(models.StateReady.Index()), h.counter(t, "vrnode_instance_state", nil))
	assert.Equal(t, 0.0, h.counter(t, "vrnode_health_exit_code", nil))

	require.NoError(t, h.stop(t))
	assert.False(t, spawns[0].emu.IsAlive())
	assert.Equal(t, float64(models.StateStopped.Index()), h.counter(t, "vrnode_instance_state", nil))
}

func TestRestartAfterEmulatorExit(t *testing.T) {
	h := newHarness(t, testProfile())
	h.start(t)

	login(t, h.emulators.nextConsole(t))
	h.eventuallyHealth(t, "0 running\n")

	h.emulators.last("vm").exit()

	h.eventuallyHealth(t, "1 VM failed — restarting\n")

	// only the new attempt may bring health back
	login(t, h.emulators.nextConsole(t))
	h.eventuallyHealth(t, "0 running\n")

	assert.Len(t, h.emulators.spawned(), 2)
	assert.Equal(t, 1.0, h.counter(t, "vrnode_instance_restarts_total", map[string]string{"reason": "VM failed"}))
}

func TestBootProgressLostRestarts(t *testing.T) {
	h := newHarness(t, testProfile())
	h.start(t)

	// a silent console overflows the spin counter
	h.emulators.nextConsole(t)
	second := h.emulators.nextConsole(t)

	assert.Equal(t, 1.0, h.counter(t, "vrnode_instance_restarts_total", map[string]string{"reason": "boot progress lost"}))
	assert.Equal(t, "1 starting\n", h.health())

	login(t, second)
	h.eventuallyHealth(t, "0 running\n")

	assert.Len(t, h.emulators.spawned(), 2)
	assert.Equal(t, 1.0, h.counter(t, "vrnode_instance_restarts_total", nil))
}

func TestSpawnFailureKeepsRetrying(t *testing.T) {
	h := newHarness(t, testProfile())
	h.emulators.spawnErr = vrerrors.ErrEmulatorSpawnFailed
	h.start(t)

	require.Eventually(t, func() bool {
		return h.counter(t, "vrnode_instance_restarts_total", map[string]string{"reason": "VM failed to start"}) >= 2
	}, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, "1 starting\n", h.health())
	assert.NoError(t, h.stop(t))
}

func splitProfile() *models.Profile {
	p := testProfile()
	p.InternalBridge = "int_cp"
	p.Instances = []models.InstanceSpec{
		{
			Name:     "vcp",
			Role:     models.RoleControl,
			Image:    "/vcp.qcow2",
			RAMMB:    2048,
			VCPUs:    1,
			Internal: true,
		},
		{
			Name:     "vfp",
			Role:     models.RoleForwarding,
			Image:    "/vfp.img",
			RAMMB:    4096,
			VCPUs:    3,
			NICs:     4,
			Internal: true,
			Traffic:  true,
		},
	}

	return p
}

func TestSplitPlaneDevice(t *testing.T) {
	h := newHarness(t, splitProfile())
	h.start(t)

	d := h.emulators.nextConsole(t)

	bridges, created, _ := h.network.snapshot()
	assert.Equal(t, []string{"int_cp", "int_cp"}, bridges)
	require.Len(t, created, 2)
	assert.Equal(t, "vcp-int", created[0].DeviceName)
	assert.Equal(t, "vfp-int", created[1].DeviceName)

	require.Eventually(t, func() bool { return len(h.emulators.spawned()) == 2 }, 5*time.Second, 5*time.Millisecond)

	spawns := h.emulators.spawned()
	assert.Contains(t, spawns[1].argv, "tap,id=int,ifname=vfp-int,script=no,downscript=no")

	// the forwarding plane alone does not make the device ready
	require.Eventually(t, func() bool {
		return h.counter(t, "vrnode_instance_state", map[string]string{"instance": "vfp"}) == float64(models.StateReady.Index())
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, "1 starting\n", h.health())

	login(t, d)
	h.eventuallyHealth(t, "0 running\n")

	// a forwarding plane crash restarts only that instance
	h.emulators.last("vfp").exit()
	h.eventuallyHealth(t, "0 running\n")
	require.Eventually(t, func() bool { return len(h.emulators.spawned()) == 3 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, "vfp", h.emulators.spawned()[2].name)

	require.NoError(t, h.stop(t))

	_, _, deleted := h.network.snapshot()
	assert.Equal(t, []string{"vcp-int", "vfp-int"}, deleted)
}

func TestInstallPowersOff(t *testing.T) {
	p := testProfile()
	p.Install = true
	p.BringUp = []models.Step{
		models.Expect(50*time.Millisecond, "login:"),
		models.SetInstalled(),
	}

	h := newHarness(t, p)
	h.start(t)

	h.emulators.nextConsole(t).say(t, "login:")

	select {
	case err := <-h.done:
		h.done <- err
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("install did not finish")
	}

	assert.Equal(t, "system_powerdown", <-h.emulators.monitor)
	assert.False(t, h.emulators.last("vm").IsAlive())
}

func TestStartupErrorsAreReturned(t *testing.T) {
	p := testProfile()
	p.Instances[0].Artifacts = []models.Artifact{{Kind: models.ArtifactOverlay, Path: "disk.qcow2", Backing: "/router.qcow2", Attach: models.AttachBoot}}

	h := newHarness(t, p)
	h.start(t)

	select {
	case err := <-h.done:
		h.done <- err
		assert.ErrorIs(t, err, vrerrors.ErrArtifactGenerationFailed)
		assert.True(t, vrerrors.IsFatal(err))
	case <-time.After(5 * time.Second):
		t.Fatal("controller did not give up")
	}

	assert.Empty(t, h.emulators.spawned())
}

func TestNewRejectsEmptyProfile(t *testing.T) {
	_, err := controller.New(controller.Config{}, &models.Profile{Family: "x"}, &ports.Collection{}, nil)
	assert.ErrorIs(t, err, vrerrors.ErrProfileInvalid)
}
