package inject

import (
	"github.com/spf13/afero"

	"vrnode/internal/config"
	"vrnode/pkg/artifact"
	"vrnode/pkg/hypervisor/qemu"
	"vrnode/pkg/network"
	"vrnode/pkg/ports"
)

func appPorts(
	emulators ports.EmulatorService,
	disks ports.DiskService,
	ns ports.NetworkService,
	runner ports.CommandRunner,
	hp ports.HealthPublisher,
	fs afero.Fs,
) *ports.Collection {
	return &ports.Collection{
		Emulators:      emulators,
		DiskService:    disks,
		NetworkService: ns,
		Runner:         runner,
		Health:         hp,
		FileSystem:     fs,
	}
}

func qemuConfigFrom(cfg *config.Config) *qemu.Config {
	return &qemu.Config{
		StateRoot: cfg.StateRootDir,
	}
}

func networkConfigFrom(cfg *config.Config) *network.Config {
	return &network.Config{
		ExternalDevice: cfg.ExternalDevice,
	}
}

func artifactConfigFrom(cfg *config.Config) artifact.Config {
	return artifact.Config{
		QemuImgBin: cfg.QemuImgBin,
		TFTPRoot:   cfg.TFTPRoot,
	}
}
