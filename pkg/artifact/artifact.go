// Package artifact produces the files a device needs before its first boot.
package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/opencontainers/go-digest"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"vrnode/pkg/cloudinit"
	"vrnode/pkg/defaults"
	vrerrors "vrnode/pkg/errors"
	"vrnode/pkg/hypervisor/shared"
	"vrnode/pkg/log"
	"vrnode/pkg/models"
	"vrnode/pkg/ports"
)

const digestSuffix = ".digest"

// Config for the artifact builder.
type Config struct {
	// QemuImgBin is the disk image tool used for overlays and raw disks.
	QemuImgBin string
	// TFTPRoot is the directory served to the device over TFTP.
	TFTPRoot string
}

// Built is one generated artifact.
type Built struct {
	Kind   models.ArtifactKind
	Path   string
	Attach models.Attachment
	// Format is the emulator disk format of the file.
	Format string
	// Reused is set when an identical artifact already existed.
	Reused bool
}

// Builder runs the artifact generators of an instance.
type Builder struct {
	cfg    Config
	disks  ports.DiskService
	runner ports.CommandRunner
	fs     afero.Fs
}

func NewBuilder(cfg Config, disks ports.DiskService, runner ports.CommandRunner, fs afero.Fs) *Builder {
	if cfg.QemuImgBin == "" {
		cfg.QemuImgBin = defaults.QemuImgBin
	}

	if cfg.TFTPRoot == "" {
		cfg.TFTPRoot = defaults.TFTPRoot
	}

	return &Builder{cfg: cfg, disks: disks, runner: runner, fs: fs}
}

// Build generates every artifact of inst that applies to the boot mode.
// Relative artifact paths land in stateDir. Any failure is an
// ErrArtifactGenerationFailed.
func (b *Builder) Build(ctx context.Context, p *models.Profile, inst *models.InstanceSpec, stateDir string) ([]Built, error) {
	logger := log.GetLogger(ctx).WithFields(logrus.Fields{
		"component": "artifact",
		"instance":  inst.Name,
	})

	if err := b.fs.MkdirAll(stateDir, defaults.DataDirPerm); err != nil {
		return nil, vrerrors.ArtifactError{Path: stateDir, Err: err}
	}

	built := []Built{}

	for _, a := range inst.Artifacts {
		if !a.Applies(p.Install) {
			continue
		}

		out, err := b.build(ctx, p, inst, a, stateDir)
		if err != nil {
			return nil, err
		}

		if out.Reused {
			logger.Debugf("reusing %s artifact %s", a.Kind, out.Path)
		} else {
			logger.Infof("generated %s artifact %s", a.Kind, out.Path)
		}

		built = append(built, out)
	}

	return built, nil
}

func (b *Builder) build(ctx context.Context, p *models.Profile, inst *models.InstanceSpec, a models.Artifact, stateDir string) (Built, error) {
	out := Built{
		Kind:   a.Kind,
		Path:   a.Path,
		Attach: a.Attach,
	}

	switch a.Kind {
	case models.ArtifactTFTPFile:
		if !filepath.IsAbs(out.Path) {
			out.Path = filepath.Join(b.cfg.TFTPRoot, a.Path)
		}
	default:
		if !filepath.IsAbs(out.Path) {
			out.Path = filepath.Join(stateDir, a.Path)
		}
	}

	var (
		files map[string][]byte
		gen   func() error
	)

	switch a.Kind {
	case models.ArtifactOverlay:
		out.Format = "qcow2"
		gen = func() error { return b.overlay(ctx, out.Path, a.Backing) }
	case models.ArtifactRawDisk:
		out.Format = "raw"
		gen = func() error { return b.rawDisk(ctx, out.Path, a.Size) }
	case models.ArtifactConfigISO:
		out.Format = "raw"
		files = stringFiles(a.Files)
		gen = func() error { return b.iso(ctx, out.Path, a.Label, files) }
	case models.ArtifactCloudInit:
		out.Format = "raw"

		seed, err := cloudinit.Seed(p, fmt.Sprintf("%s-%s", p.Hostname, inst.Name))
		if err != nil {
			return out, vrerrors.ArtifactError{Path: out.Path, Err: err}
		}

		for name, content := range stringFiles(a.Files) {
			seed[name] = content
		}

		files = seed

		label := a.Label
		if label == "" {
			label = cloudinit.VolumeName
		}

		gen = func() error { return b.iso(ctx, out.Path, label, files) }
	case models.ArtifactTFTPFile:
		files = stringFiles(a.Files)
		gen = func() error { return b.tftp(out.Path, files) }
	default:
		return out, vrerrors.ArtifactError{
			Path: out.Path,
			Err:  fmt.Errorf("unknown artifact kind %q", a.Kind),
		}
	}

	fingerprint := fingerprint(a, out.Path, files)

	if b.upToDate(out.Path, fingerprint) {
		out.Reused = true

		return out, nil
	}

	if err := gen(); err != nil {
		return out, err
	}

	if err := afero.WriteFile(b.fs, out.Path+digestSuffix, []byte(fingerprint.String()), defaults.DataFilePerm); err != nil {
		return out, vrerrors.ArtifactError{Path: out.Path, Err: err}
	}

	return out, nil
}

func (b *Builder) overlay(ctx context.Context, path, backing string) error {
	if backing == "" {
		return vrerrors.ArtifactError{Path: path, Err: fmt.Errorf("overlay without backing image")}
	}

	if err := b.remove(path); err != nil {
		return err
	}

	return b.run(ctx, path, "create", "-f", "qcow2", "-F", DiskFormat(backing), "-b", backing, path)
}

func (b *Builder) rawDisk(ctx context.Context, path, size string) error {
	if size == "" {
		return vrerrors.ArtifactError{Path: path, Err: fmt.Errorf("raw disk without size")}
	}

	if err := b.remove(path); err != nil {
		return err
	}

	return b.run(ctx, path, "create", "-f", "raw", path, size)
}

func (b *Builder) iso(ctx context.Context, path, label string, files map[string][]byte) error {
	input := ports.DiskCreateInput{
		Path:       path,
		VolumeName: label,
		Type:       ports.DiskTypeISO9660,
		Overwrite:  true,
	}

	for _, name := range sortedKeys(files) {
		input.Files = append(input.Files, ports.DiskFile{Path: name, Content: files[name]})
	}

	if err := b.disks.Create(ctx, input); err != nil {
		return vrerrors.ArtifactError{Path: path, Tool: "iso9660", Err: err}
	}

	return nil
}

func (b *Builder) tftp(path string, files map[string][]byte) error {
	dir := filepath.Dir(path)

	if err := b.fs.MkdirAll(dir, defaults.DataDirPerm); err != nil {
		return vrerrors.ArtifactError{Path: path, Err: err}
	}

	// a single entry is written at the artifact path, more go next to it
	for _, name := range sortedKeys(files) {
		target := filepath.Join(dir, name)
		if len(files) == 1 {
			target = path
		}

		if err := afero.WriteFile(b.fs, target, files[name], defaults.DataFilePerm); err != nil {
			return vrerrors.ArtifactError{Path: target, Err: err}
		}
	}

	return nil
}

func (b *Builder) run(ctx context.Context, path string, args ...string) error {
	out, err := b.runner.Run(ctx, b.cfg.QemuImgBin, args...)
	if err != nil {
		log.GetLogger(ctx).Errorf("%s: %s", b.cfg.QemuImgBin, strings.TrimSpace(string(out)))

		return vrerrors.ArtifactError{
			Path:     path,
			Tool:     b.cfg.QemuImgBin,
			ExitCode: shared.ExitCode(err),
			Err:      err,
		}
	}

	return nil
}

func (b *Builder) remove(path string) error {
	if err := b.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return vrerrors.ArtifactError{Path: path, Err: err}
	}

	return nil
}

func (b *Builder) upToDate(path string, fingerprint digest.Digest) bool {
	if ok, _ := afero.Exists(b.fs, path); !ok {
		return false
	}

	stored, err := afero.ReadFile(b.fs, path+digestSuffix)
	if err != nil {
		return false
	}

	return string(stored) == fingerprint.String()
}

// fingerprint covers everything that influences the artifact bytes.
func fingerprint(a models.Artifact, path string, files map[string][]byte) digest.Digest {
	digester := digest.Canonical.Digester()
	h := digester.Hash()

	fmt.Fprintf(h, "kind=%s\npath=%s\nlabel=%s\nbacking=%s\nsize=%s\n", a.Kind, path, a.Label, a.Backing, a.Size)

	for _, name := range sortedKeys(files) {
		fmt.Fprintf(h, "file=%s len=%d\n", name, len(files[name]))
		h.Write(files[name])
	}

	return digester.Digest()
}

// DiskFormat names the qemu image format of path by its extension.
func DiskFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".qcow2", ".qcow":
		return "qcow2"
	case ".vmdk":
		return "vmdk"
	default:
		return "raw"
	}
}

func stringFiles(in map[string]string) map[string][]byte {
	out := make(map[string][]byte, len(in))
	for k, v := range in {
		out[k] = []byte(v)
	}

	return out
}

func sortedKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
