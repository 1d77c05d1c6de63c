package artifact_test

import (
	"context"
	"errors"
	"os/exec"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vrnode/pkg/artifact"
	"vrnode/pkg/cloudinit"
	vrerrors "vrnode/pkg/errors"
	"vrnode/pkg/models"
	"vrnode/pkg/ports"
)

type fakeRunner struct {
	mu    sync.Mutex
	fs    afero.Fs
	calls [][]string
	err   error
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, append([]string{name}, args...))

	if r.err != nil {
		return []byte("qemu-img: boom"), r.err
	}

	// qemu-img create ... <path> [size]
	target := args[len(args)-1]
	if args[2] == "raw" {
		target = args[len(args)-2]
	}

	return nil, afero.WriteFile(r.fs, target, []byte("disk"), 0o644)
}

type fakeDisks struct {
	fs     afero.Fs
	inputs []ports.DiskCreateInput
}

func (d *fakeDisks) Create(_ context.Context, input ports.DiskCreateInput) error {
	d.inputs = append(d.inputs, input)

	return afero.WriteFile(d.fs, input.Path, []byte("iso"), 0o644)
}

func setup() (*artifact.Builder, *fakeRunner, *fakeDisks, afero.Fs) {
	fs := afero.NewMemMapFs()
	runner := &fakeRunner{fs: fs}
	disks := &fakeDisks{fs: fs}

	b := artifact.NewBuilder(artifact.Config{QemuImgBin: "qemu-img", TFTPRoot: "/tftpboot"}, disks, runner, fs)

	return b, runner, disks, fs
}

func testProfile(artifacts ...models.Artifact) (*models.Profile, *models.InstanceSpec) {
	p := &models.Profile{
		Family:      "test",
		Hostname:    "r1",
		Username:    "admin",
		Password:    "admin",
		MgmtSubnet:  "10.0.0.0/24",
		MgmtAddress: "10.0.0.15",
		Instances: []models.InstanceSpec{{
			Name:      "main",
			Role:      models.RoleControl,
			Artifacts: artifacts,
		}},
	}

	return p, &p.Instances[0]
}

func TestOverlayIsIdempotent(t *testing.T) {
	b, runner, _, fs := setup()
	p, inst := testProfile(models.Artifact{
		Kind:    models.ArtifactOverlay,
		Path:    "disk.qcow2",
		Backing: "/images/csr1000v-17.03.qcow2",
		Attach:  models.AttachBoot,
	})

	built, err := b.Build(context.Background(), p, inst, "/run/vrnode/main")
	require.NoError(t, err)
	require.Len(t, built, 1)
	assert.Equal(t, "/run/vrnode/main/disk.qcow2", built[0].Path)
	assert.Equal(t, models.AttachBoot, built[0].Attach)
	assert.Equal(t, "qcow2", built[0].Format)
	assert.False(t, built[0].Reused)

	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{
		"qemu-img", "create", "-f", "qcow2", "-F", "qcow2",
		"-b", "/images/csr1000v-17.03.qcow2", "/run/vrnode/main/disk.qcow2",
	}, runner.calls[0])

	exists, err := afero.Exists(fs, "/run/vrnode/main/disk.qcow2.digest")
	require.NoError(t, err)
	assert.True(t, exists)

	built, err = b.Build(context.Background(), p, inst, "/run/vrnode/main")
	require.NoError(t, err)
	assert.True(t, built[0].Reused)
	assert.Len(t, runner.calls, 1)
}

func TestToolFailure(t *testing.T) {
	b, runner, _, _ := setup()
	runner.err = exec.Command("sh", "-c", "exit 2").Run()
	require.Error(t, runner.err)

	p, inst := testProfile(models.Artifact{
		Kind: models.ArtifactRawDisk,
		Path: "scratch.img",
		Size: "1G",
	})

	_, err := b.Build(context.Background(), p, inst, "/state")
	require.Error(t, err)
	assert.True(t, errors.Is(err, vrerrors.ErrArtifactGenerationFailed))
	assert.True(t, vrerrors.IsFatal(err))

	var artErr vrerrors.ArtifactError
	require.True(t, errors.As(err, &artErr))
	assert.Equal(t, 2, artErr.ExitCode)
	assert.Equal(t, "qemu-img", artErr.Tool)
}

func TestConfigISO(t *testing.T) {
	b, _, disks, _ := setup()
	p, inst := testProfile(models.Artifact{
		Kind:   models.ArtifactConfigISO,
		Path:   "config.iso",
		Label:  "config",
		Attach: models.AttachCDROM,
		Files:  map[string]string{"b.txt": "b", "a.txt": "a"},
	})

	built, err := b.Build(context.Background(), p, inst, "/state")
	require.NoError(t, err)
	require.Len(t, built, 1)
	assert.Equal(t, models.AttachCDROM, built[0].Attach)

	require.Len(t, disks.inputs, 1)
	in := disks.inputs[0]
	assert.Equal(t, "/state/config.iso", in.Path)
	assert.Equal(t, "config", in.VolumeName)
	assert.Equal(t, ports.DiskTypeISO9660, in.Type)
	require.Len(t, in.Files, 2)
	assert.Equal(t, "a.txt", in.Files[0].Path)
	assert.Equal(t, "b.txt", in.Files[1].Path)

	// changed content regenerates
	inst.Artifacts[0].Files["a.txt"] = "changed"
	built, err = b.Build(context.Background(), p, inst, "/state")
	require.NoError(t, err)
	assert.False(t, built[0].Reused)
	assert.Len(t, disks.inputs, 2)
}

func TestCloudInitSeed(t *testing.T) {
	b, _, disks, _ := setup()
	p, inst := testProfile(models.Artifact{
		Kind:   models.ArtifactCloudInit,
		Path:   "seed.iso",
		Attach: models.AttachCDROM,
	})

	_, err := b.Build(context.Background(), p, inst, "/state")
	require.NoError(t, err)
	require.Len(t, disks.inputs, 1)

	in := disks.inputs[0]
	assert.Equal(t, cloudinit.VolumeName, in.VolumeName)

	names := []string{}
	for _, f := range in.Files {
		names = append(names, f.Path)
	}

	assert.Equal(t, []string{"meta-data", "network-config", "user-data"}, names)
}

func TestTFTPFile(t *testing.T) {
	b, _, _, fs := setup()
	p, inst := testProfile(models.Artifact{
		Kind:  models.ArtifactTFTPFile,
		Path:  "license.txt",
		Files: map[string]string{"license.txt": "KEY-1\n"},
	})

	built, err := b.Build(context.Background(), p, inst, "/state")
	require.NoError(t, err)
	assert.Equal(t, "/tftpboot/license.txt", built[0].Path)
	assert.Equal(t, models.AttachNone, built[0].Attach)

	data, err := afero.ReadFile(fs, "/tftpboot/license.txt")
	require.NoError(t, err)
	assert.Equal(t, "KEY-1\n", string(data))
}

func TestModeFiltering(t *testing.T) {
	b, runner, _, _ := setup()
	p, inst := testProfile(models.Artifact{
		Kind:    models.ArtifactOverlay,
		Path:    "disk.qcow2",
		Backing: "/images/a.qcow2",
		Attach:  models.AttachBoot,
		Mode:    models.ModeRun,
	})
	p.Install = true

	built, err := b.Build(context.Background(), p, inst, "/state")
	require.NoError(t, err)
	assert.Empty(t, built)
	assert.Empty(t, runner.calls)
}

func TestUnknownKind(t *testing.T) {
	b, _, _, _ := setup()
	p, inst := testProfile(models.Artifact{Kind: "floppy", Path: "a"})

	_, err := b.Build(context.Background(), p, inst, "/state")
	assert.ErrorIs(t, err, vrerrors.ErrArtifactGenerationFailed)
}

func TestDiskFormat(t *testing.T) {
	for path, want := range map[string]string{
		"/images/csr.qcow2":  "qcow2",
		"/images/old.QCOW":   "qcow2",
		"/images/veos.vmdk":  "vmdk",
		"/images/vFPC-x.img": "raw",
	} {
		assert.Equal(t, want, artifact.DiskFormat(path), path)
	}
}
