// Package godisk builds disk images with go-diskfs.
package godisk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/filesystem"
	"github.com/diskfs/go-diskfs/filesystem/iso9660"
	"github.com/docker/go-units"
	"github.com/spf13/afero"

	"vrnode/pkg/log"
	"vrnode/pkg/ports"
)

const (
	isoBlockSize = 2048
	minImageSize = 1 << 20
)

var errDiskExists = errors.New("disk image already exists")

// New creates a new instance of the disk service. Images are written to the
// host filesystem; fs is used for existence checks and removal.
func New(fs afero.Fs) ports.DiskService {
	return &diskService{fs: fs}
}

type diskService struct {
	fs afero.Fs
}

// Create will create a new disk image holding the input files.
func (s *diskService) Create(ctx context.Context, input ports.DiskCreateInput) error {
	logger := log.GetLogger(ctx).WithField("path", input.Path)

	exists, err := afero.Exists(s.fs, input.Path)
	if err != nil {
		return fmt.Errorf("checking if disk %s exists: %w", input.Path, err)
	}

	if exists {
		if !input.Overwrite {
			return fmt.Errorf("%s: %w", input.Path, errDiskExists)
		}

		if err := s.fs.Remove(input.Path); err != nil {
			return fmt.Errorf("removing existing disk %s: %w", input.Path, err)
		}
	}

	size, err := imageSize(input)
	if err != nil {
		return err
	}

	logger.Debugf("creating disk image, size %d", size)

	img, err := diskfs.Create(input.Path, size, diskfs.Raw, diskfs.SectorSizeDefault)
	if err != nil {
		return fmt.Errorf("creating disk %s: %w", input.Path, err)
	}
	defer img.File.Close()

	spec := disk.FilesystemSpec{
		Partition:   0,
		VolumeLabel: input.VolumeName,
	}

	switch input.Type {
	case ports.DiskTypeISO9660:
		img.LogicalBlocksize = isoBlockSize
		spec.FSType = filesystem.TypeISO9660
	case ports.DiskTypeFat32:
		spec.FSType = filesystem.TypeFat32
	default:
		return fmt.Errorf("unsupported disk type %d", input.Type)
	}

	fs, err := img.CreateFilesystem(spec)
	if err != nil {
		return fmt.Errorf("creating filesystem on %s: %w", input.Path, err)
	}

	for _, file := range input.Files {
		if err := writeFile(fs, file); err != nil {
			return err
		}
	}

	if iso, ok := fs.(*iso9660.FileSystem); ok {
		if err := iso.Finalize(iso9660.FinalizeOptions{RockRidge: true}); err != nil {
			return fmt.Errorf("finalizing iso %s: %w", input.Path, err)
		}
	}

	return nil
}

func writeFile(fs filesystem.FileSystem, file ports.DiskFile) error {
	name := path.Clean("/" + file.Path)

	if dir := path.Dir(name); dir != "/" {
		if err := fs.Mkdir(dir); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	f, err := fs.OpenFile(name, os.O_CREATE|os.O_RDWR)
	if err != nil {
		return fmt.Errorf("opening %s in disk image: %w", name, err)
	}

	if _, err := f.Write(file.Content); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("writing %s in disk image: %w", name, err)
	}

	return nil
}

// imageSize honours input.Size when it is large enough to hold the files.
func imageSize(input ports.DiskCreateInput) (int64, error) {
	var content int64
	for _, f := range input.Files {
		content += int64(len(f.Content)) + isoBlockSize
	}

	size := int64(minImageSize) + content

	if input.Size != "" {
		requested, err := units.FromHumanSize(input.Size)
		if err != nil {
			return 0, fmt.Errorf("parsing disk size %q: %w", input.Size, err)
		}

		if requested > size {
			size = requested
		}
	}

	// whole sectors
	return (size + 511) / 512 * 512, nil
}
